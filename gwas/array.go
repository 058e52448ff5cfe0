package gwas

import (
	"gonum.org/v1/gonum/mat"
)

// Array is a caller-supplied matrix with optional labels. Samples labels
// the sample axis (both axes of a covariance), Labels the other axis, and
// Dims declares the semantic name of each array axis in order.
type Array struct {
	Data    mat.Matrix
	Samples []string
	Labels  []string
	Dims    []string
}

// NewArray wraps a matrix without labels.
func NewArray(data mat.Matrix) *Array {
	return &Array{Data: data}
}

// NewVector wraps a vector as an n-by-1 array.
func NewVector(data []float64) *Array {
	return &Array{Data: mat.NewDense(len(data), 1, data)}
}

func (a *Array) WithSamples(samples ...string) *Array {
	a.Samples = samples
	return a
}

func (a *Array) WithLabels(labels ...string) *Array {
	a.Labels = labels
	return a
}

func (a *Array) WithDims(dims ...string) *Array {
	a.Dims = dims
	return a
}

func (a *Array) labelled() bool {
	return a != nil && a.Samples != nil
}
