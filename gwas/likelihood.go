package gwas

import (
	"github.com/hhcho/lmm-scan/lmm"
	"github.com/pkg/errors"
	"go.dedis.ch/onet/v3/log"
)

// PoissonMaxCount caps Poisson counts; larger values overflow the exp link
// during the Laplace iterations.
const PoissonMaxCount = 25000

// LikelihoodSpec names the outcome likelihood and carries the trial counts
// of a binomial outcome.
type LikelihoodSpec struct {
	Name   lmm.Likelihood
	Trials *Array
}

func (s LikelihoodSpec) String() string {
	return s.Name.String()
}

func (s LikelihoodSpec) validate() error {
	if !s.Name.Valid() {
		return errors.Wrapf(ErrInvalidLikelihood, "likelihood %d", int(s.Name))
	}
	if s.Name.NeedsTrials() && s.Trials == nil {
		return errors.Wrap(ErrInvalidLikelihood, "binomial likelihood needs trial counts")
	}
	if !s.Name.NeedsTrials() && s.Trials != nil {
		return errors.Wrapf(ErrInvalidLikelihood, "%s likelihood takes no trial counts", s.Name)
	}
	return nil
}

// ResolveLikelihood parses a likelihood name. Binomial takes exactly one
// auxiliary array, the number of trials per sample; the others take none.
func ResolveLikelihood(name string, aux ...*Array) (LikelihoodSpec, error) {
	lik, ok := lmm.ParseLikelihood(name)
	if !ok {
		return LikelihoodSpec{}, errors.Wrapf(ErrInvalidLikelihood, "unknown likelihood %q", name)
	}
	spec := LikelihoodSpec{Name: lik}
	switch {
	case lik.NeedsTrials() && len(aux) != 1:
		return LikelihoodSpec{}, errors.Wrapf(ErrInvalidLikelihood, "%s likelihood needs one trials array, got %d", lik, len(aux))
	case !lik.NeedsTrials() && len(aux) != 0:
		return LikelihoodSpec{}, errors.Wrapf(ErrInvalidLikelihood, "%s likelihood takes no auxiliary data, got %d", lik, len(aux))
	case lik.NeedsTrials():
		if aux[0] == nil {
			return LikelihoodSpec{}, errors.Wrap(ErrInvalidLikelihood, "binomial trials array is nil")
		}
		spec.Trials = aux[0]
	}
	return spec, nil
}

// NormaliseExtremeValues checks that y lies in the support of the likelihood
// and returns a copy with Poisson counts clipped to PoissonMaxCount. trials
// is only read for binomial outcomes.
func NormaliseExtremeValues(y []float64, lik lmm.Likelihood, trials []float64) ([]float64, error) {
	out := append([]float64(nil), y...)
	switch lik {
	case lmm.Normal:
	case lmm.Bernoulli, lmm.Probit:
		for i, v := range out {
			if v != 0 && v != 1 {
				return nil, errors.Wrapf(ErrInvalidLikelihood, "%s outcome %d is %g, want 0 or 1", lik, i, v)
			}
		}
	case lmm.Binomial:
		if len(trials) != len(out) {
			return nil, errors.Wrapf(ErrDimensionMismatch, "%d trial counts for %d outcomes", len(trials), len(out))
		}
		for i, v := range out {
			if !(trials[i] > 0) || v < 0 || v > trials[i] {
				return nil, errors.Wrapf(ErrInvalidLikelihood, "binomial outcome %d is %g of %g trials", i, v, trials[i])
			}
		}
	case lmm.Poisson:
		clipped := 0
		for i, v := range out {
			if v < 0 {
				return nil, errors.Wrapf(ErrInvalidLikelihood, "poisson outcome %d is negative (%g)", i, v)
			}
			if v > PoissonMaxCount {
				out[i] = PoissonMaxCount
				clipped++
			}
		}
		if clipped > 0 {
			log.Warn("Clipped", clipped, "poisson counts above", PoissonMaxCount)
		}
	default:
		return nil, errors.Wrapf(ErrInvalidLikelihood, "likelihood %d", int(lik))
	}
	return out, nil
}

