package gwas

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hhcho/lmm-scan/lmm"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"
)

// NullModel is the fitted model without any candidate. Scale is the
// variance scale the candidates are tested under, fixed at 1 on the site
// model. Sites is nil for a Normal outcome.
type NullModel struct {
	LML    float64
	Beta   []float64
	V0, V1 float64
	Scale  float64
	Sites  *lmm.Sites
}

func (m NullModel) clone() NullModel {
	m.Beta = append([]float64(nil), m.Beta...)
	if m.Sites != nil {
		m.Sites = &lmm.Sites{
			Eta: append([]float64(nil), m.Sites.Eta...),
			Tau: append([]float64(nil), m.Sites.Tau...),
		}
	}
	return m
}

// CandidateResult is the alternative model of one candidate.
type CandidateResult struct {
	Index     int
	Candidate string
	EffSize   float64
	EffSizeSE float64
	AltLML    float64
}

type StatsRow struct {
	Test    int
	NullLML float64
	AltLML  float64
	PValue  float64
	DOF     int
}

type EffSizeRow struct {
	Test      int
	Candidate string
	EffSize   float64
	EffSizeSE float64
}

// ScanReport is the immutable outcome of a scan. Accessors return copies.
type ScanReport struct {
	lik        lmm.Likelihood
	covariates []string
	candidates []string
	null       NullModel
	tests      []CandidateResult
}

// ScanResultFactory collects the null model and one result per candidate,
// then freezes them into a ScanReport.
type ScanResultFactory struct {
	lik        lmm.Likelihood
	covariates []string
	candidates []string
	null       *NullModel
	tests      []CandidateResult
	seen       []bool
}

func NewScanResultFactory(lik lmm.Likelihood, covariates, candidates []string) *ScanResultFactory {
	return &ScanResultFactory{
		lik:        lik,
		covariates: append([]string(nil), covariates...),
		candidates: append([]string(nil), candidates...),
		tests:      make([]CandidateResult, len(candidates)),
		seen:       make([]bool, len(candidates)),
	}
}

func (f *ScanResultFactory) SetNull(null NullModel) {
	null = null.clone()
	f.null = &null
}

// AddTest records the alternative fit of candidate index.
func (f *ScanResultFactory) AddTest(index int, fit lmm.ScanFit) error {
	if index < 0 || index >= len(f.candidates) {
		return errors.Errorf("gwas: test %d out of range [0, %d)", index, len(f.candidates))
	}
	if f.seen[index] {
		return errors.Errorf("gwas: test %d added twice", index)
	}
	f.seen[index] = true
	f.tests[index] = CandidateResult{
		Index:     index,
		Candidate: f.candidates[index],
		EffSize:   fit.EffSize,
		EffSizeSE: fit.EffSizeSE,
		AltLML:    fit.LML,
	}
	return nil
}

func (f *ScanResultFactory) Create() (*ScanReport, error) {
	if f.null == nil {
		return nil, errors.New("gwas: null model not set")
	}
	for i, ok := range f.seen {
		if !ok {
			return nil, errors.Errorf("gwas: test %d (%s) missing", i, f.candidates[i])
		}
	}
	return &ScanReport{
		lik:        f.lik,
		covariates: f.covariates,
		candidates: f.candidates,
		null:       *f.null,
		tests:      append([]CandidateResult(nil), f.tests...),
	}, nil
}

func (r *ScanReport) Likelihood() lmm.Likelihood {
	return r.lik
}

func (r *ScanReport) Covariates() []string {
	return append([]string(nil), r.covariates...)
}

func (r *ScanReport) Candidates() []string {
	return append([]string(nil), r.candidates...)
}

func (r *ScanReport) Null() NullModel {
	return r.null.clone()
}

func (r *ScanReport) Tests() []CandidateResult {
	return append([]CandidateResult(nil), r.tests...)
}

// likelihoodRatio is 2·(alt − null), clamped at zero: the alternative nests
// the null model, so a negative value is optimiser noise.
func likelihoodRatio(null, alt float64) float64 {
	return math.Max(2*(alt-null), 0)
}

func pValue(lr float64) float64 {
	chi2 := distuv.ChiSquared{K: 1}
	p := 1 - chi2.CDF(lr)
	return math.Min(math.Max(p, 0), 1)
}

// Stats returns one likelihood-ratio test per candidate, in candidate order.
func (r *ScanReport) Stats() []StatsRow {
	rows := make([]StatsRow, len(r.tests))
	for i, t := range r.tests {
		rows[i] = StatsRow{
			Test:    t.Index,
			NullLML: r.null.LML,
			AltLML:  t.AltLML,
			PValue:  pValue(likelihoodRatio(r.null.LML, t.AltLML)),
			DOF:     1,
		}
	}
	return rows
}

func (r *ScanReport) AltEffSizes() []EffSizeRow {
	rows := make([]EffSizeRow, len(r.tests))
	for i, t := range r.tests {
		rows[i] = EffSizeRow{Test: t.Index, Candidate: t.Candidate, EffSize: t.EffSize, EffSizeSE: t.EffSizeSE}
	}
	return rows
}

func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'g', -1, 64)
}

// WriteStats writes the Stats table, tab-separated with a header line.
func (r *ScanReport) WriteStats(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("test\tnull lml\talt lml\tpvalue\tdof\n")
	for _, row := range r.Stats() {
		fmt.Fprintf(bw, "%d\t%s\t%s\t%s\t%d\n", row.Test, formatFloat(row.NullLML), formatFloat(row.AltLML), formatFloat(row.PValue), row.DOF)
	}
	return bw.Flush()
}

// WriteEffSizes writes the AltEffSizes table, tab-separated with a header line.
func (r *ScanReport) WriteEffSizes(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("test\tcandidate\teffsize\teffsize se\n")
	for _, row := range r.AltEffSizes() {
		fmt.Fprintf(bw, "%d\t%s\t%s\t%s\n", row.Test, row.Candidate, formatFloat(row.EffSize), formatFloat(row.EffSizeSE))
	}
	return bw.Flush()
}

func (r *ScanReport) outcomeSymbol() string {
	if r.lik == lmm.Normal {
		return "𝐲"
	}
	return "𝐳"
}

func (r *ScanReport) likelihoodLine() string {
	switch r.lik {
	case lmm.Bernoulli:
		return "yᵢ ~ Bern(μᵢ=g(zᵢ)), where g(x)=1/(1+e⁻ˣ)"
	case lmm.Probit:
		return "yᵢ ~ Bern(μᵢ=g(zᵢ)), where g(x)=Φ(x)"
	case lmm.Binomial:
		return "yᵢ ~ Binom(μᵢ=g(zᵢ), nᵢ), where g(x)=1/(1+e⁻ˣ)"
	case lmm.Poisson:
		return "yᵢ ~ Poisson(λᵢ=g(zᵢ)), where g(x)=eˣ"
	}
	return ""
}

func quoted(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = "'" + n + "'"
	}
	return "[" + strings.Join(q, " ") + "]"
}

func vector(x []float64) string {
	s := make([]string, len(x))
	for i, v := range x {
		s[i] = strconv.FormatFloat(v, 'g', 8, 64)
	}
	return "[" + strings.Join(s, " ") + "]"
}

// percentile interpolates linearly between the order statistics around
// rank (n-1)·p, so the first percentile of a few values sits just above the
// minimum rather than on it.
func percentile(p float64, x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	h := float64(len(sorted)-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := h - lo
	return sorted[i] + float64(frac*(sorted[i+1]-sorted[i]))
}

// String renders the null and alternative models with summary statistics
// over all candidates.
func (r *ScanReport) String() string {
	var b strings.Builder
	variance := fmt.Sprintf("%.2f*K + %.2f*I", r.null.V1, r.null.V0)
	lik := r.likelihoodLine()
	sym := r.outcomeSymbol()

	b.WriteString("Null model\n----------\n\n")
	fmt.Fprintf(&b, "  %s ~ 𝓝(M𝜶, %s)\n", sym, variance)
	if lik != "" {
		fmt.Fprintf(&b, "  %s\n", lik)
	}
	fmt.Fprintf(&b, "  M = %s\n", quoted(r.covariates))
	fmt.Fprintf(&b, "  𝜶 = %s\n", vector(r.null.Beta))
	fmt.Fprintf(&b, "  Log marg. lik.: %s\n", formatFloat(r.null.LML))
	b.WriteString("  Number of models: 1\n\n")

	b.WriteString("Alt model\n---------\n\n")
	fmt.Fprintf(&b, "  %s ~ 𝓝(M𝜶 + Gᵢ, %s)\n", sym, variance)
	if lik != "" {
		fmt.Fprintf(&b, "  %s\n", lik)
	}
	if len(r.tests) > 0 {
		rows := r.Stats()
		pv := make([]float64, len(rows))
		alt := make([]float64, len(rows))
		for i, row := range rows {
			pv[i], alt[i] = row.PValue, row.AltLML
		}
		minP, _ := stats.Min(pv)
		maxLML, _ := stats.Max(alt)
		fmt.Fprintf(&b, "  Min. p-value: %s\n", formatFloat(minP))
		fmt.Fprintf(&b, "  First perc. p-value: %s\n", formatFloat(percentile(0.01, pv)))
		fmt.Fprintf(&b, "  Max. log marg. lik.: %s\n", formatFloat(maxLML))
		fmt.Fprintf(&b, "  99th perc. log marg. lik.: %s\n", formatFloat(percentile(0.99, alt)))
	}
	fmt.Fprintf(&b, "  Number of models: %d\n", len(r.tests))
	return b.String()
}
