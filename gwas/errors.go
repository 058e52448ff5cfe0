package gwas

import "github.com/hhcho/lmm-scan/lmm"

// Validation errors are returned before any model is fitted; fitting errors
// come back from the lmm package unchanged. Match with errors.Is.
var (
	ErrInvalidLikelihood = lmm.ErrInvalidLikelihood
	ErrDimensionMismatch = lmm.ErrDimensionMismatch
	ErrNonFiniteInput    = lmm.ErrNonFiniteInput
	ErrNonConvergence    = lmm.ErrNonConvergence
)
