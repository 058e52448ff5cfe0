package lmm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gonum.org/v1/gonum/mat"
)

func augment(M *mat.Dense, g []float64) *mat.Dense {
	n, c := M.Dims()
	X := mat.NewDense(n, c+1, nil)
	X.Slice(0, n, 0, c).(*mat.Dense).Copy(M)
	X.SetCol(c, g)
	return X
}

func TestFastScanMatchesRefitWithoutCovariance(t *testing.T) {
	d := newLMMData(5, 40)
	rng := rand.New(rand.NewSource(5))
	G := randomMatrix(rng, 40, 6)

	scanner, err := NewFastScanner(d.y, d.M, nil, 0, 1)
	require.NoError(t, err)
	fits, err := scanner.FastScan(G)
	require.NoError(t, err)
	require.Len(t, fits, 6)

	_, nullRSS, nullLML := ols(d.y, d.M)
	assert.InDelta(t, nullLML, scanner.NullLML(), 1e-9)
	assert.InDelta(t, nullRSS/40, scanner.NullScale(), 1e-9)
	scanner.SetScale(2)
	assert.Equal(t, 2.0, scanner.NullScale())
	scanner.SetScale(0)

	for j := range fits {
		X := augment(d.M, mat.Col(nil, j, G))
		beta, rss, lml := ols(d.y, X)

		var XtX, inv mat.Dense
		XtX.Mul(X.T(), X)
		require.NoError(t, inv.Inverse(&XtX))
		se := math.Sqrt(rss / 40 * inv.At(2, 2))

		assert.InDelta(t, lml, fits[j].LML, 1e-8, "candidate %d", j)
		assert.InDelta(t, beta[2], fits[j].EffSize, 1e-8, "candidate %d", j)
		assert.InDelta(t, se, fits[j].EffSizeSE, 1e-8, "candidate %d", j)
		assert.GreaterOrEqual(t, fits[j].LML, scanner.NullLML())
	}
}

func TestFastScanMatchesRefitWithCovariance(t *testing.T) {
	d := newLMMData(6, 30)
	rng := rand.New(rand.NewSource(6))
	G := randomMatrix(rng, 30, 4)
	qs, err := EigenDecomposer{}.Decompose(d.K)
	require.NoError(t, err)

	for _, scale := range []float64{0, 1.3} {
		scanner, err := NewFastScanner(d.y, d.M, qs, 0.6, 0.4)
		require.NoError(t, err)
		scanner.SetScale(scale)
		fits, err := scanner.FastScan(G)
		require.NoError(t, err)

		for j := range fits {
			X := augment(d.M, mat.Col(nil, j, G))
			gls, err := newDiagGLS(qs.RotateVec(d.y), qs.Rotate(X), scanner.gls.d)
			require.NoError(t, err)
			lml := gaussianLML(gls.n, gls.logdetD, gls.rss, scale)
			assert.InDelta(t, lml, fits[j].LML, 1e-8, "scale %g candidate %d", scale, j)
			assert.InDelta(t, gls.beta.AtVec(2), fits[j].EffSize, 1e-8, "scale %g candidate %d", scale, j)
		}
	}
}

func TestFastScanDegenerateCandidate(t *testing.T) {
	d := newLMMData(7, 20)
	G := mat.NewDense(20, 2, nil)
	for i := 0; i < 20; i++ {
		G.Set(i, 0, 2*d.M.At(i, 0)-d.M.At(i, 1))
		G.Set(i, 1, float64(i%3))
	}
	scanner, err := NewFastScanner(d.y, d.M, nil, 0, 1)
	require.NoError(t, err)
	fits, err := scanner.FastScan(G)
	require.NoError(t, err)

	assert.Equal(t, 0.0, fits[0].EffSize)
	assert.True(t, math.IsNaN(fits[0].EffSizeSE))
	assert.Equal(t, scanner.NullLML(), fits[0].LML)
	assert.False(t, math.IsNaN(fits[1].EffSizeSE))
}

func TestFastScanIsIndependentOfWorkers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d := newLMMData(8, 25)
	rng := rand.New(rand.NewSource(8))
	G := randomMatrix(rng, 25, 37)
	qs, err := EigenDecomposer{}.Decompose(d.K)
	require.NoError(t, err)

	scan := func(threads, chunk int) []ScanFit {
		scanner, err := NewFastScanner(d.y, d.M, qs, 0.5, 0.5)
		require.NoError(t, err)
		scanner.SetParallel(threads, chunk)
		fits, err := scanner.FastScan(G)
		require.NoError(t, err)
		return fits
	}

	serial := scan(1, 5)
	assert.Equal(t, serial, scan(1, 5))
	assert.Equal(t, serial, scan(4, 5))
	assert.Equal(t, serial, scan(8, 5))

	single := scan(1, DefaultChunkSize)
	for j := range serial {
		assert.InDelta(t, single[j].LML, serial[j].LML, 1e-10)
		assert.InDelta(t, single[j].EffSize, serial[j].EffSize, 1e-10)
	}
}

func TestFastScanRejectsWrongSampleCount(t *testing.T) {
	d := newLMMData(9, 10)
	scanner, err := NewFastScanner(d.y, d.M, nil, 0, 1)
	require.NoError(t, err)
	_, err = scanner.FastScan(mat.NewDense(9, 2, nil))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	fits, err := scanner.FastScan(&emptyCandidates{n: 10})
	require.NoError(t, err)
	assert.Empty(t, fits)
}

// emptyCandidates is an n×0 matrix, which mat.Dense cannot represent.
type emptyCandidates struct{ n int }

func (e *emptyCandidates) Dims() (int, int)    { return e.n, 0 }
func (e *emptyCandidates) At(i, j int) float64 { panic("no candidates") }
func (e *emptyCandidates) T() mat.Matrix       { return mat.Transpose{Matrix: e} }
