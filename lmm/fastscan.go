package lmm

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultChunkSize is the number of candidates rotated per batch.
const DefaultChunkSize = 1024

var log2Pi = math.Log(2 * math.Pi)

// diagGLS is generalised least squares against a diagonal covariance D in
// the rotated space: ty ~ N(tM β, s·D).
type diagGLS struct {
	n, c    int
	d       []float64
	ty      []float64
	tM      *mat.Dense
	chol    mat.Cholesky
	yDy     float64
	logdetD float64
	beta    *mat.VecDense
	rss     float64
}

func newDiagGLS(ty []float64, tM *mat.Dense, d []float64) (*diagGLS, error) {
	n, c := tM.Dims()
	if len(ty) != n || len(d) != n {
		return nil, errors.Wrapf(ErrDimensionMismatch, "outcome has %d samples, covariates %d, variances %d", len(ty), n, len(d))
	}
	g := &diagGLS{n: n, c: c, d: d, ty: ty, tM: tM}

	DinvM := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		g.logdetD += math.Log(d[i])
		g.yDy += ty[i] * ty[i] / d[i]
		for j := 0; j < c; j++ {
			DinvM.Set(i, j, tM.At(i, j)/d[i])
		}
	}
	A := mat.NewSymDense(c, nil)
	var MtDM mat.Dense
	MtDM.Mul(tM.T(), DinvM)
	for i := 0; i < c; i++ {
		for j := i; j < c; j++ {
			A.SetSym(i, j, 0.5*(MtDM.At(i, j)+MtDM.At(j, i)))
		}
	}
	if err := factorizeSPD(&g.chol, A); err != nil {
		return nil, err
	}

	MtDy := mat.NewVecDense(c, nil)
	MtDy.MulVec(DinvM.T(), mat.NewVecDense(n, ty))
	g.beta = mat.NewVecDense(c, nil)
	if err := g.chol.SolveVecTo(g.beta, MtDy); solveFailed(err) {
		return nil, errors.Wrap(ErrNonConvergence, "null fixed effects")
	}
	g.rss = math.Max(g.yDy-mat.Dot(MtDy, g.beta), 0)
	return g, nil
}

// factorizeSPD retries with a small ridge when the covariate cross product is
// numerically singular.
func factorizeSPD(chol *mat.Cholesky, A *mat.SymDense) error {
	if chol.Factorize(A) {
		return nil
	}
	c := A.SymmetricDim()
	jitter := 0.0
	for i := 0; i < c; i++ {
		jitter = math.Max(jitter, A.At(i, i))
	}
	jitter = math.Max(jitter, 1) * 1e-10
	B := mat.NewSymDense(c, nil)
	B.CopySym(A)
	for i := 0; i < c; i++ {
		B.SetSym(i, i, B.At(i, i)+jitter)
	}
	if chol.Factorize(B) {
		return nil
	}
	return errors.Wrap(ErrNonConvergence, "covariates are linearly dependent")
}

func gaussianLML(n int, logdetD, rss, scale float64) float64 {
	nf := float64(n)
	if scale > 0 {
		return -0.5 * (nf*log2Pi + logdetD + nf*math.Log(scale) + rss/scale)
	}
	s := math.Max(rss/nf, math.SmallestNonzeroFloat64)
	return -0.5 * (nf*log2Pi + logdetD + nf*math.Log(s) + nf)
}

// ScanFit is the alternative model fitted for one candidate.
type ScanFit struct {
	LML       float64
	EffSize   float64
	EffSizeSE float64
}

// FastScanner evaluates y ~ N(Mβ + gγ, s·(a·K + b·I)) for many candidates g
// with the variance ratio held at its null value.
type FastScanner struct {
	qs    *QS
	gls   *diagGLS
	scale float64 // 0 means the scale is re-estimated per candidate

	numThreads int
	chunkSize  int
	verbose    bool
}

// NewFastScanner builds a scanner for outcome y and covariates M with
// covariance kScale·K + noise·I, K given by qs (nil for no random effect).
func NewFastScanner(y []float64, M *mat.Dense, qs *QS, kScale, noise float64) (*FastScanner, error) {
	n, _ := M.Dims()
	if len(y) != n || (qs != nil && qs.Len() != n) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "fast scanner: %d outcomes for %d covariate rows", len(y), n)
	}
	return newRotatedScanner(qs.RotateVec(y), qs.Rotate(M), qs, kScale, noise)
}

func newRotatedScanner(ty []float64, tM *mat.Dense, qs *QS, kScale, noise float64) (*FastScanner, error) {
	d := make([]float64, len(ty))
	for i := range d {
		d[i] = noise
		if qs != nil {
			d[i] += kScale * qs.S[i]
		}
		d[i] = math.Max(d[i], minDiag)
	}
	gls, err := newDiagGLS(ty, tM, d)
	if err != nil {
		return nil, err
	}
	return &FastScanner{qs: qs, gls: gls, numThreads: 1, chunkSize: DefaultChunkSize}, nil
}

// SetScale fixes the overall variance scale; 0 restores per-candidate
// estimation.
func (s *FastScanner) SetScale(scale float64) {
	s.scale = scale
}

// SetParallel sets the worker count and the candidate batch size.
func (s *FastScanner) SetParallel(numThreads, chunkSize int) {
	if numThreads > 0 {
		s.numThreads = numThreads
	}
	if chunkSize > 0 {
		s.chunkSize = chunkSize
	}
}

func (s *FastScanner) SetVerbose(verbose bool) {
	s.verbose = verbose
}

// NullLML is the log marginal likelihood without any candidate.
func (s *FastScanner) NullLML() float64 {
	return gaussianLML(s.gls.n, s.gls.logdetD, s.gls.rss, s.scale)
}

// NullBeta returns the fixed effects of the null model.
func (s *FastScanner) NullBeta() []float64 {
	return copyVec(s.gls.beta.RawVector().Data)
}

// NullScale returns the fixed scale, or the ML scale of the null model.
func (s *FastScanner) NullScale() float64 {
	if s.scale > 0 {
		return s.scale
	}
	return s.gls.rss / float64(s.gls.n)
}

// FastScan fits one alternative model per column of G, in column order.
func (s *FastScanner) FastScan(G mat.Matrix) ([]ScanFit, error) {
	n, m := G.Dims()
	if n != s.gls.n {
		return nil, errors.Wrapf(ErrDimensionMismatch, "candidates have %d samples, null model %d", n, s.gls.n)
	}
	fits := make([]ScanFit, m)
	if m == 0 {
		return fits, nil
	}
	start := time.Now()
	nchunks := (m + s.chunkSize - 1) / s.chunkSize

	var grp errgroup.Group
	grp.SetLimit(s.numThreads)
	for c := 0; c < nchunks; c++ {
		lo := c * s.chunkSize
		hi := min(lo+s.chunkSize, m)
		grp.Go(func() error {
			s.scanChunk(G, lo, hi, fits[lo:hi])
			if s.verbose {
				log.LLvl1(time.Now().Format(time.StampMilli), "Scanned candidates", lo, "to", hi-1, "of", m, time.Since(start))
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return fits, nil
}

func (s *FastScanner) scanChunk(G mat.Matrix, lo, hi int, out []ScanFit) {
	g := s.gls
	var block *mat.Dense
	if dense, ok := G.(*mat.Dense); ok {
		block = s.qs.Rotate(dense.Slice(0, g.n, lo, hi))
	} else {
		sub := mat.NewDense(g.n, hi-lo, nil)
		for i := 0; i < g.n; i++ {
			for j := lo; j < hi; j++ {
				sub.Set(i, j-lo, G.At(i, j))
			}
		}
		block = s.qs.Rotate(sub)
	}

	col := make([]float64, g.n)
	gD := make([]float64, g.n)
	a := mat.NewVecDense(g.c, nil)
	Ainva := mat.NewVecDense(g.c, nil)
	for j := range out {
		mat.Col(col, j, block)
		for i := range gD {
			gD[i] = col[i] / g.d[i]
		}
		a.MulVec(g.tM.T(), mat.NewVecDense(g.n, gD))
		gDg := floats.Dot(gD, col)
		gDy := floats.Dot(gD, g.ty)
		out[j] = s.fitCandidate(a, Ainva, gDg, gDy)
	}
}

// fitCandidate solves the augmented normal equations through the Schur
// complement of the null cross product, so each candidate costs O(N·C + C²).
func (s *FastScanner) fitCandidate(a, Ainva *mat.VecDense, gDg, gDy float64) ScanFit {
	g := s.gls
	if err := g.chol.SolveVecTo(Ainva, a); solveFailed(err) {
		return s.degenerate()
	}
	schur := gDg - mat.Dot(a, Ainva)
	if !(schur > 1e-10*math.Max(gDg, minDiag)) {
		return s.degenerate()
	}
	num := gDy - mat.Dot(a, g.beta)
	gamma := num / schur
	rss := math.Max(g.rss-gamma*num, 0)

	scale := s.scale
	if scale <= 0 {
		scale = math.Max(rss/float64(g.n), math.SmallestNonzeroFloat64)
	}
	return ScanFit{
		LML:       gaussianLML(g.n, g.logdetD, rss, s.scale),
		EffSize:   gamma,
		EffSizeSE: math.Sqrt(scale / schur),
	}
}

// degenerate is the fit of a candidate lying in the span of the covariates:
// it adds nothing to the null model.
func (s *FastScanner) degenerate() ScanFit {
	return ScanFit{LML: s.NullLML(), EffSize: 0, EffSizeSE: math.NaN()}
}
