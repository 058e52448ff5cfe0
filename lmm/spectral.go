package lmm

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// QS is the spectral decomposition K = Q diag(S) Qᵀ.
type QS struct {
	Q *mat.Dense
	S []float64
}

// Len returns the number of samples.
func (qs *QS) Len() int {
	return len(qs.S)
}

// RotateVec returns Qᵀy. A nil receiver is the identity rotation.
func (qs *QS) RotateVec(y []float64) []float64 {
	if qs == nil {
		return copyVec(y)
	}
	out := mat.NewVecDense(len(y), nil)
	out.MulVec(qs.Q.T(), mat.NewVecDense(len(y), copyVec(y)))
	return out.RawVector().Data
}

// Rotate returns QᵀX as a new matrix. A nil receiver copies X.
func (qs *QS) Rotate(X mat.Matrix) *mat.Dense {
	if qs == nil {
		return mat.DenseCopyOf(X)
	}
	var out mat.Dense
	out.Mul(qs.Q.T(), X)
	return &out
}

// Decomposer factorizes a symmetric covariance matrix.
type Decomposer interface {
	Decompose(K *mat.SymDense) (*QS, error)
}

// EigenDecomposer is the default Decomposer, backed by LAPACK dsyev.
type EigenDecomposer struct{}

func (EigenDecomposer) Decompose(K *mat.SymDense) (*QS, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(K, true); !ok {
		return nil, errors.Wrap(ErrNonConvergence, "eigendecomposition of covariance")
	}
	S := eig.Values(nil)
	Q := new(mat.Dense)
	eig.VectorsTo(Q)

	smax := 0.0
	for _, s := range S {
		smax = math.Max(smax, s)
	}
	for i := range S {
		if S[i] < 1e-10*smax {
			S[i] = 0
		}
	}
	return &QS{Q: Q, S: S}, nil
}

// SpectralCache holds the single decomposition shared by the null fit and
// every candidate fit of one scan.
type SpectralCache struct {
	decomposer Decomposer
	source     *mat.SymDense
	qs         *QS
	done       bool
}

func NewSpectralCache(decomposer Decomposer) *SpectralCache {
	if decomposer == nil {
		decomposer = EigenDecomposer{}
	}
	return &SpectralCache{decomposer: decomposer}
}

// Factorize decomposes K on first use and returns the cached result after.
// A nil K yields a nil QS: the model has no random effect.
func (c *SpectralCache) Factorize(K *mat.SymDense) (*QS, error) {
	if c.done {
		if K != c.source {
			return nil, errors.New("lmm: spectral cache already holds another matrix")
		}
		return c.qs, nil
	}
	if K == nil {
		c.done = true
		return nil, nil
	}
	if !AllFiniteMatrix(K) {
		return nil, errors.Wrap(ErrNonFiniteInput, "covariance matrix")
	}
	qs, err := c.decomposer.Decompose(K)
	if err != nil {
		return nil, err
	}
	if qs.Len() != K.SymmetricDim() {
		return nil, errors.Wrapf(ErrDimensionMismatch, "decomposition of %d samples returned %d eigenvalues", K.SymmetricDim(), qs.Len())
	}
	c.source, c.qs, c.done = K, qs, true
	return qs, nil
}

// QS returns the cached decomposition, nil before Factorize or without K.
func (c *SpectralCache) QS() *QS {
	return c.qs
}

// SiteCovariance returns v1·K + diag(1/tau); K may be nil.
func SiteCovariance(v1 float64, K *mat.SymDense, tau []float64) *mat.SymDense {
	n := len(tau)
	out := mat.NewSymDense(n, nil)
	if K != nil {
		out.ScaleSym(v1, K)
	}
	for i := 0; i < n; i++ {
		out.SetSym(i, i, out.At(i, i)+1/tau[i])
	}
	return out
}
