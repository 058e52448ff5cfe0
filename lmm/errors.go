package lmm

import "github.com/pkg/errors"

var (
	// ErrNonConvergence is returned when an optimiser or decomposition does
	// not reach a solution within its budget.
	ErrNonConvergence = errors.New("lmm: fit did not converge")

	// ErrNonFiniteInput is returned when NaN or Inf values reach a fit.
	ErrNonFiniteInput = errors.New("lmm: non-finite input")

	// ErrDimensionMismatch is returned when operand shapes disagree.
	ErrDimensionMismatch = errors.New("lmm: dimension mismatch")

	// ErrInvalidLikelihood is returned for a likelihood a model cannot fit.
	ErrInvalidLikelihood = errors.New("lmm: invalid likelihood")
)
