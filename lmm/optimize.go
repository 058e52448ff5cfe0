package lmm

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/optimize"
)

// Settings bounds the optimisers used by the null fits.
type Settings struct {
	MaxIter     int     // major iterations per variance-component search
	Tol         float64 // function convergence tolerance of that search
	GLMMMaxIter int     // Laplace iterations for non-Normal outcomes
	GLMMTol     float64 // latent-mean tolerance of the Laplace iteration
	Verbose     bool
}

func DefaultSettings() *Settings {
	return &Settings{
		MaxIter:     1000,
		Tol:         1e-12,
		GLMMMaxIter: 200,
		GLMMTol:     1e-5,
	}
}

// logBound keeps log-variance coordinates inside a range where the
// covariance stays representable.
const logBound = 30.0

func clampLog(x float64) float64 {
	return math.Max(-logBound, math.Min(logBound, x))
}

// minimize runs Nelder-Mead on fn from x0. Anything other than a converged
// status is reported as ErrNonConvergence.
func minimize(fn func(x []float64) float64, x0 []float64, s *Settings, what string) ([]float64, float64, error) {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			f := fn(x)
			if math.IsNaN(f) {
				return math.Inf(1)
			}
			return f
		},
	}
	settings := &optimize.Settings{
		MajorIterations: s.MaxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   s.Tol,
			Relative:   s.Tol,
			Iterations: 50,
		},
	}
	res, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, 0, errors.Wrapf(ErrNonConvergence, "%s: %v", what, err)
	}
	switch res.Status {
	case optimize.Success, optimize.FunctionConvergence, optimize.MethodConverge,
		optimize.StepConvergence, optimize.GradientThreshold, optimize.FunctionThreshold:
	default:
		return nil, 0, errors.Wrapf(ErrNonConvergence, "%s: %s after %d iterations", what, res.Status, res.Stats.MajorIterations)
	}
	if math.IsInf(res.F, 0) {
		return nil, 0, errors.Wrapf(ErrNonConvergence, "%s: no finite objective value", what)
	}
	return res.X, res.F, nil
}
