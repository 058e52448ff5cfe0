package gwas

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/hhcho/lmm-scan/lmm"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

func poissonReport(t *testing.T) *ScanReport {
	f := NewScanResultFactory(lmm.Poisson, []string{"offset", "age"}, []string{"rs0", "rs1", "rs2"})
	f.SetNull(NullModel{LML: -10, Beta: []float64{0.5, -0.25}, V0: 0, V1: 0.79})
	require.NoError(t, f.AddTest(2, lmm.ScanFit{LML: -12.25, EffSize: 0.1, EffSizeSE: 0.2}))
	require.NoError(t, f.AddTest(0, lmm.ScanFit{LML: -10, EffSize: 0, EffSizeSE: math.NaN()}))
	require.NoError(t, f.AddTest(1, lmm.ScanFit{LML: 40, EffSize: -0.3, EffSizeSE: 0.25}))
	r, err := f.Create()
	require.NoError(t, err)
	return r
}

func TestReportSummaryGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "summary_poisson", []byte(poissonReport(t).String()))
}

func TestReportStats(t *testing.T) {
	r := poissonReport(t)
	stats := r.Stats()
	require.Len(t, stats, 3)
	for i, row := range stats {
		assert.Equal(t, i, row.Test)
		assert.Equal(t, -10.0, row.NullLML)
		assert.Equal(t, 1, row.DOF)
	}
	// Alternatives at or below the null clamp the ratio to 0.
	assert.Equal(t, 1.0, stats[0].PValue)
	assert.Equal(t, 0.0, stats[1].PValue)
	assert.Equal(t, 1.0, stats[2].PValue)
	effs := r.AltEffSizes()
	assert.Equal(t, "rs1", effs[1].Candidate)
	assert.Equal(t, -0.3, effs[1].EffSize)
	assert.True(t, math.IsNaN(effs[0].EffSizeSE))
}

func TestReportStatsRecomputable(t *testing.T) {
	null := -48.736563230140376
	alt := []float64{-48.561855, -47.981093, -48.559868}
	want := []float64{0.554443, 0.218996, 0.552200}

	f := NewScanResultFactory(lmm.Poisson, []string{"offset", "age"}, []string{"rs0", "rs1", "rs2"})
	f.SetNull(NullModel{LML: null, Beta: []float64{0.39528617, -0.00556789}, V1: 0.79})
	for i, lml := range alt {
		require.NoError(t, f.AddTest(i, lmm.ScanFit{LML: lml}))
	}
	r, err := f.Create()
	require.NoError(t, err)

	chi2 := distuv.ChiSquared{K: 1}
	for i, row := range r.Stats() {
		assert.InDelta(t, 1-chi2.CDF(2*(row.AltLML-row.NullLML)), row.PValue, 1e-12)
		assert.InDelta(t, want[i], row.PValue, 1e-5)
	}
}

func TestPercentile(t *testing.T) {
	pv := []float64{0.554443, 0.21899561824721903, 0.552200}
	assert.InDelta(t, 0.22565970374303942, percentile(0.01, pv), 1e-7)
	alt := []float64{-48.561855, -47.981092939974765, -48.559868}
	assert.InDelta(t, -47.9926684371547, percentile(0.99, alt), 1e-6)

	assert.Equal(t, 0.02, percentile(0.01, []float64{1, 0, 1}))
	assert.Equal(t, 3.0, percentile(1, []float64{3, 1, 2}))
	assert.Equal(t, 1.0, percentile(0, []float64{3, 1, 2}))
	assert.Equal(t, 5.0, percentile(0.5, []float64{5}))
	assert.True(t, math.IsNaN(percentile(0.5, nil)))
}

func TestPValue(t *testing.T) {
	assert.Equal(t, 0.0, likelihoodRatio(-3, -4))
	assert.Equal(t, 2.0, likelihoodRatio(-3, -2))
	assert.InDelta(t, 0.31731050786291415, pValue(1), 1e-12)
	assert.InDelta(t, 0.05, pValue(3.841458820694124), 1e-9)
	assert.Equal(t, 1.0, pValue(0))
	p := pValue(1e4)
	assert.GreaterOrEqual(t, p, 0.0)
	assert.LessOrEqual(t, p, 1.0)
}

func TestFactoryErrors(t *testing.T) {
	f := NewScanResultFactory(lmm.Normal, []string{"offset"}, []string{"a", "b"})
	_, err := f.Create()
	assert.Error(t, err, "null model missing")

	f.SetNull(NullModel{LML: 1})
	require.NoError(t, f.AddTest(0, lmm.ScanFit{}))
	assert.Error(t, f.AddTest(0, lmm.ScanFit{}))
	assert.Error(t, f.AddTest(2, lmm.ScanFit{}))
	_, err = f.Create()
	assert.Error(t, err, "test 1 missing")

	require.NoError(t, f.AddTest(1, lmm.ScanFit{}))
	_, err = f.Create()
	assert.NoError(t, err)
}

func TestReportIsImmutable(t *testing.T) {
	beta := []float64{1, 2}
	covariates := []string{"offset", "age"}
	sites := &lmm.Sites{Eta: []float64{0.5, 1}, Tau: []float64{2, 4}}
	f := NewScanResultFactory(lmm.Poisson, covariates, []string{"a"})
	f.SetNull(NullModel{LML: 1, Beta: beta, Scale: 1, Sites: sites})
	require.NoError(t, f.AddTest(0, lmm.ScanFit{LML: 2}))
	r, err := f.Create()
	require.NoError(t, err)

	beta[0] = 100
	covariates[0] = "changed"
	sites.Tau[0] = 100
	r.Null().Beta[1] = 100
	r.Null().Sites.Eta[0] = 100
	r.Null().Sites.Tau[1] = 100
	r.Covariates()[1] = "changed"
	r.Tests()[0].AltLML = 100

	assert.Equal(t, []float64{1, 2}, r.Null().Beta)
	assert.Equal(t, &lmm.Sites{Eta: []float64{0.5, 1}, Tau: []float64{2, 4}}, r.Null().Sites)
	assert.NotSame(t, r.Null().Sites, r.Null().Sites)
	assert.Equal(t, []string{"offset", "age"}, r.Covariates())
	assert.Equal(t, 2.0, r.Tests()[0].AltLML)
	assert.Equal(t, lmm.Poisson, r.Likelihood())
	assert.Equal(t, []string{"a"}, r.Candidates())
}

func TestReportTables(t *testing.T) {
	r := poissonReport(t)
	var stats, effs bytes.Buffer
	require.NoError(t, r.WriteStats(&stats))
	require.NoError(t, r.WriteEffSizes(&effs))

	lines := strings.Split(strings.TrimSpace(stats.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "test\tnull lml\talt lml\tpvalue\tdof", lines[0])
	assert.Equal(t, "1\t-10\t40\t0\t1", lines[2])

	lines = strings.Split(strings.TrimSpace(effs.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "test\tcandidate\teffsize\teffsize se", lines[0])
	assert.Equal(t, "0\trs0\t0\tNaN", lines[1])
	assert.Equal(t, "2\trs2\t0.1\t0.2", lines[3])
}

func TestSummaryPerLikelihood(t *testing.T) {
	lines := map[lmm.Likelihood]string{
		lmm.Bernoulli: "yᵢ ~ Bern(μᵢ=g(zᵢ)), where g(x)=1/(1+e⁻ˣ)",
		lmm.Probit:    "yᵢ ~ Bern(μᵢ=g(zᵢ)), where g(x)=Φ(x)",
		lmm.Binomial:  "yᵢ ~ Binom(μᵢ=g(zᵢ), nᵢ), where g(x)=1/(1+e⁻ˣ)",
	}
	for lik, line := range lines {
		f := NewScanResultFactory(lik, []string{"offset"}, nil)
		f.SetNull(NullModel{LML: -1, Beta: []float64{0.1}, V0: 0.15, V1: 1.74})
		r, err := f.Create()
		require.NoError(t, err)
		s := r.String()
		assert.Contains(t, s, line)
		assert.Contains(t, s, "𝐳 ~ 𝓝(M𝜶, 1.74*K + 0.15*I)")
		assert.Contains(t, s, "Number of models: 0")
	}

	f := NewScanResultFactory(lmm.Normal, []string{"offset"}, nil)
	f.SetNull(NullModel{LML: -1, Beta: []float64{0.1}, V0: 1})
	r, err := f.Create()
	require.NoError(t, err)
	assert.Contains(t, r.String(), "𝐲 ~ 𝓝(M𝜶, 0.00*K + 1.00*I)")
	assert.NotContains(t, r.String(), "yᵢ ~")
}
