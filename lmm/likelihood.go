package lmm

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// Likelihood identifies the residual distribution of the outcome.
type Likelihood int

const (
	Normal Likelihood = iota
	Bernoulli
	Probit
	Binomial
	Poisson
)

// minSiteTau keeps site precisions away from zero for saturated outcomes.
const minSiteTau = 1e-8

var likelihoodNames = map[string]Likelihood{
	"normal":    Normal,
	"bernoulli": Bernoulli,
	"probit":    Probit,
	"binomial":  Binomial,
	"poisson":   Poisson,
}

// ParseLikelihood maps a case-insensitive name onto a Likelihood.
func ParseLikelihood(name string) (Likelihood, bool) {
	lik, ok := likelihoodNames[strings.ToLower(strings.TrimSpace(name))]
	return lik, ok
}

func (l Likelihood) String() string {
	switch l {
	case Normal:
		return "normal"
	case Bernoulli:
		return "bernoulli"
	case Probit:
		return "probit"
	case Binomial:
		return "binomial"
	case Poisson:
		return "poisson"
	}
	return "unknown"
}

// Valid reports whether l is one of the supported likelihoods.
func (l Likelihood) Valid() bool {
	switch l {
	case Normal, Bernoulli, Probit, Binomial, Poisson:
		return true
	}
	return false
}

// NeedsTrials reports whether the likelihood takes a trial count per sample.
func (l Likelihood) NeedsTrials() bool {
	return l == Binomial
}

// initLatent returns a starting value of the latent variable for outcome y
// (n is the trial count, ignored unless Binomial).
func (l Likelihood) initLatent(y, n float64) float64 {
	switch l {
	case Normal:
		return y
	case Bernoulli:
		return logit((y + 0.5) / 2)
	case Probit:
		return distuv.UnitNormal.Quantile((y + 0.5) / 2)
	case Binomial:
		return logit((y + 0.5) / (n + 1))
	case Poisson:
		return math.Log(y + 0.5)
	}
	return 0
}

// derivatives returns the gradient of log p(y|f) and its negated second
// derivative, floored at minSiteTau.
func (l Likelihood) derivatives(y, n, f float64) (grad, w float64) {
	switch l {
	case Normal:
		grad, w = y-f, 1
	case Bernoulli:
		mu := sigmoid(f)
		grad, w = y-mu, mu*(1-mu)
	case Probit:
		s := 2*y - 1
		r := math.Exp(distuv.UnitNormal.LogProb(f) - normLogCDF(s*f))
		grad, w = s*r, r*(r+s*f)
	case Binomial:
		mu := sigmoid(f)
		grad, w = y-n*mu, n*mu*(1-mu)
	case Poisson:
		lambda := math.Exp(f)
		grad, w = y-lambda, lambda
	}
	if !(w > minSiteTau) {
		w = minSiteTau
	}
	return grad, w
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

// normLogCDF is log Φ(x), switching to the asymptotic tail for very
// negative x where erfc underflows.
func normLogCDF(x float64) float64 {
	if x < -30 {
		return -0.5*x*x - math.Log(-x) - 0.5*math.Log(2*math.Pi)
	}
	return math.Log(0.5 * math.Erfc(-x/math.Sqrt2))
}
