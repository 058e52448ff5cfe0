// Package simulate generates seeded synthetic scan inputs: a covariance
// built from random markers, an intercept and age covariate, candidate
// columns and an outcome drawn from one of the supported likelihoods.
package simulate

import (
	"fmt"
	"math"

	"github.com/hhcho/lmm-scan/gwas"
	"github.com/hhcho/lmm-scan/lmm"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

type Options struct {
	NumSamples    int
	NumCandidates int
	NumMarkers    int // columns of the design K is built from; 0 for no K
	Likelihood    lmm.Likelihood
	MaxTrials     int     // upper bound on binomial trial counts
	Causal        int     // index of the candidate with a true effect, -1 for none
	EffectSize    float64 // effect of the causal candidate on the latent scale
	Seed          uint64
}

// DefaultOptions is a small Poisson scenario: 30 samples, 3 candidates and
// K from a 30x100 design.
func DefaultOptions() Options {
	return Options{
		NumSamples:    30,
		NumCandidates: 3,
		NumMarkers:    100,
		Likelihood:    lmm.Poisson,
		MaxTrials:     100,
		Causal:        -1,
		Seed:          1,
	}
}

func (o Options) validate() error {
	switch {
	case o.NumSamples < 2:
		return errors.Errorf("simulate: %d samples", o.NumSamples)
	case o.NumCandidates < 1 || o.NumMarkers < 0:
		return errors.Errorf("simulate: %d candidates, %d markers", o.NumCandidates, o.NumMarkers)
	case !o.Likelihood.Valid():
		return errors.Errorf("simulate: likelihood %d", int(o.Likelihood))
	case o.Likelihood == lmm.Binomial && o.MaxTrials < 1:
		return errors.Errorf("simulate: %d max trials", o.MaxTrials)
	case o.Causal >= o.NumCandidates:
		return errors.Errorf("simulate: causal candidate %d of %d", o.Causal, o.NumCandidates)
	}
	return nil
}

func normalMatrix(rng *Random, r, c int) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}

// Generate draws one labelled data set. The same options always give the
// same data.
func Generate(opts Options) (*gwas.ScanInputs, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	rng := NewRandom(opts.Seed)
	n := opts.NumSamples

	samples := make([]string, n)
	for i := range samples {
		samples[i] = fmt.Sprintf("sample%d", i)
	}
	candidates := make([]string, opts.NumCandidates)
	for j := range candidates {
		candidates[j] = fmt.Sprintf("rs%d", j)
	}

	M := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		M.Set(i, 0, 1)
		M.Set(i, 1, float64(20+rng.Intn(50)))
	}
	in := &gwas.ScanInputs{
		M: gwas.NewArray(M).WithSamples(samples...).WithLabels("offset", "age"),
	}

	latent := make([]float64, n)
	for i := range latent {
		latent[i] = 0.2 + 0.005*(M.At(i, 1)-45) + 0.3*rng.NormFloat64()
	}

	if opts.NumMarkers > 0 {
		X := normalMatrix(rng, n, opts.NumMarkers)
		K := mat.NewSymDense(n, nil)
		K.SymOuterK(1/float64(opts.NumMarkers), X)
		in.K = gwas.NewArray(K).WithSamples(samples...)

		u := make([]float64, opts.NumMarkers)
		for j := range u {
			u[j] = rng.NormFloat64()
		}
		var z mat.VecDense
		z.MulVec(X, mat.NewVecDense(len(u), u))
		scale := 0.5 / math.Sqrt(float64(opts.NumMarkers))
		for i := range latent {
			latent[i] += scale * z.AtVec(i)
		}
	}

	G := normalMatrix(rng, n, opts.NumCandidates)
	if opts.Causal >= 0 {
		for i := range latent {
			latent[i] += opts.EffectSize * G.At(i, opts.Causal)
		}
	}
	in.G = gwas.NewArray(G).WithSamples(samples...).WithLabels(candidates...)

	y := make([]float64, n)
	switch opts.Likelihood {
	case lmm.Normal:
		copy(y, latent)
	case lmm.Bernoulli:
		for i := range y {
			if rng.Float64() < 1/(1+math.Exp(-latent[i])) {
				y[i] = 1
			}
		}
	case lmm.Probit:
		for i := range y {
			if latent[i]+rng.NormFloat64() > 0 {
				y[i] = 1
			}
		}
	case lmm.Binomial:
		trials := make([]float64, n)
		for i := range y {
			nt := 1 + rng.Intn(opts.MaxTrials)
			trials[i] = float64(nt)
			y[i] = rng.Binomial(nt, 1/(1+math.Exp(-latent[i])))
		}
		in.Trials = gwas.NewVector(trials).WithSamples(samples...)
	case lmm.Poisson:
		for i := range y {
			y[i] = rng.Poisson(math.Exp(latent[i]))
		}
	}
	in.Y = gwas.NewVector(y).WithSamples(samples...)
	return in, nil
}
