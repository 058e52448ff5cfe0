package lmm

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// deltaMin bounds the noise share away from zero so that D stays invertible
// when K has null eigenvalues.
const deltaMin = 1e-9

// minDiag floors rotated variances.
const minDiag = 1e-12

// GenerateOnes returns an n-by-m matrix filled with delta.
func GenerateOnes(delta float64, n int, m int) *mat.Dense {
	ones := make([]float64, n*m)
	for i := range ones {
		ones[i] = delta
	}
	return mat.NewDense(n, m, ones)
}

// logitToDelta maps the unconstrained optimiser coordinate onto [deltaMin, 1].
func logitToDelta(t float64) float64 {
	return deltaMin + (1-deltaMin)/(math.Exp(-t)+1)
}

// AllFinite reports whether every value is neither NaN nor ±Inf.
func AllFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// AllFiniteMatrix is AllFinite over every element of X.
func AllFiniteMatrix(X mat.Matrix) bool {
	if X == nil {
		return true
	}
	if raw, ok := X.(mat.RawMatrixer); ok {
		b := raw.RawMatrix()
		for i := 0; i < b.Rows; i++ {
			if !AllFinite(b.Data[i*b.Stride : i*b.Stride+b.Cols]) {
				return false
			}
		}
		return true
	}
	r, c := X.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := X.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func copyVec(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	return out
}

func maxAbsDiff(x, y []float64) float64 {
	d := 0.0
	for i := range x {
		d = math.Max(d, math.Abs(x[i]-y[i]))
	}
	return d
}

func maxAbs(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

// solveFailed reports a solver error, ignoring mat.Condition warnings that
// accompany a valid but ill-conditioned solution.
func solveFailed(err error) bool {
	if err == nil {
		return false
	}
	var cond mat.Condition
	return !errors.As(err, &cond)
}
