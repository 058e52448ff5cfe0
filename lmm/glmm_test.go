package lmm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countData draws outcomes of lik around the latent mean of newLMMData.
func countData(seed int64, n int, lik Likelihood) (*lmmData, []float64) {
	d := newLMMData(seed, n)
	rng := rand.New(rand.NewSource(seed + 100))
	trials := make([]float64, n)
	for i := range d.y {
		f := 0.5 * (d.y[i] - 0.5)
		trials[i] = float64(1 + rng.Intn(20))
		switch lik {
		case Poisson:
			lambda, k, p := math.Exp(f), 0.0, rng.Float64()
			for limit := math.Exp(-lambda); p > limit; k++ {
				p *= rng.Float64()
			}
			d.y[i] = k
		case Bernoulli:
			d.y[i] = 0
			if rng.Float64() < sigmoid(f) {
				d.y[i] = 1
			}
		case Binomial:
			k := 0.0
			for j := 0; j < int(trials[i]); j++ {
				if rng.Float64() < sigmoid(f) {
					k++
				}
			}
			d.y[i] = k
		}
	}
	return d, trials
}

func TestGLMMConverges(t *testing.T) {
	for _, lik := range []Likelihood{Poisson, Bernoulli, Binomial} {
		t.Run(lik.String(), func(t *testing.T) {
			d, trials := countData(21, 40, lik)
			if !lik.NeedsTrials() {
				trials = nil
			}
			model, err := NewGLMM(d.y, lik, trials, d.M, d.K, nil)
			require.NoError(t, err)
			require.NoError(t, model.Fit())

			sites := model.Site()
			require.NotNil(t, sites)
			require.Len(t, sites.Tau, 40)
			assert.True(t, AllFinite(sites.Eta))
			for _, tau := range sites.Tau {
				assert.GreaterOrEqual(t, tau, minSiteTau)
			}
			assert.True(t, AllFinite(model.Latent()))
			assert.LessOrEqual(t, model.Iterations(), DefaultSettings().GLMMMaxIter)

			fit, err := NewFitter(nil).FitSites(sites, d.M, d.K)
			require.NoError(t, err)
			assert.False(t, math.IsNaN(fit.LML))
			assert.GreaterOrEqual(t, fit.V0, 0.0)
			assert.GreaterOrEqual(t, fit.V1, 0.0)
			assert.Len(t, fit.Beta, 2)
		})
	}
}

func TestGLMMWithoutCovariance(t *testing.T) {
	d, _ := countData(22, 30, Poisson)
	sites, err := NewFitter(nil).FitGLMM(d.y, Poisson, nil, d.M, nil)
	require.NoError(t, err)
	fit, err := NewFitter(nil).FitSites(sites, d.M, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, fit.V1)
}

func TestSiteModelWithLargePrecisionIsNormal(t *testing.T) {
	// With tau → ∞ the site model is the Normal model of z itself.
	d := newLMMData(23, 30)
	tau := make([]float64, 30)
	eta := make([]float64, 30)
	for i := range tau {
		tau[i] = 1e9
		eta[i] = d.y[i] * tau[i]
	}
	fit, err := NewFitter(nil).FitSites(&Sites{Eta: eta, Tau: tau}, d.M, nil)
	require.NoError(t, err)
	_, _, lml := ols(d.y, d.M)
	assert.InDelta(t, lml, fit.LML, 1e-4)
}

func TestGLMMRejectsBadInput(t *testing.T) {
	d, _ := countData(24, 10, Poisson)
	_, err := NewGLMM(d.y, Normal, nil, d.M, d.K, nil)
	assert.ErrorIs(t, err, ErrInvalidLikelihood)
	_, err = NewGLMM(d.y, Likelihood(99), nil, d.M, d.K, nil)
	assert.ErrorIs(t, err, ErrInvalidLikelihood)
	_, err = NewGLMM(d.y, Binomial, []float64{1, 2}, d.M, d.K, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = NewGLMM(d.y[:5], Poisson, nil, d.M, d.K, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	eta := make([]float64, 10)
	tau := make([]float64, 10)
	for i := range tau {
		tau[i] = 1
	}
	eta[3] = math.Inf(1)
	_, err = NewSiteModel(&Sites{Eta: eta, Tau: tau}, d.M, nil, nil)
	assert.ErrorIs(t, err, ErrNonFiniteInput)
}

func TestSitesMean(t *testing.T) {
	s := &Sites{Eta: []float64{2, -3}, Tau: []float64{4, 1.5}}
	assert.Equal(t, []float64{0.5, -2}, s.Mean())
}
