package lmm

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.dedis.ch/onet/v3/log"
	"gonum.org/v1/gonum/mat"
)

// Sites are the Gaussian site approximations of a non-Normal likelihood:
// each term p(yᵢ|fᵢ) is replaced by N(fᵢ | etaᵢ/tauᵢ, 1/tauᵢ).
type Sites struct {
	Eta []float64
	Tau []float64
}

// Mean returns the pseudo-outcomes eta/tau.
func (s *Sites) Mean() []float64 {
	z := make([]float64, len(s.Eta))
	for i := range z {
		z[i] = s.Eta[i] / s.Tau[i]
	}
	return z
}

// SiteModel fits z ~ N(Mβ, v1·K + v0·I + diag(1/tau)), the Normal model
// induced by a set of sites.
type SiteModel struct {
	z, tau   []float64
	M        *mat.Dense
	K        *mat.SymDense
	settings *Settings
	start    []float64

	lml    float64
	beta   *mat.VecDense
	v0, v1 float64
	chol   *mat.Cholesky
	resid  *mat.VecDense
}

func NewSiteModel(sites *Sites, M *mat.Dense, K *mat.SymDense, settings *Settings) (*SiteModel, error) {
	n, _ := M.Dims()
	if len(sites.Eta) != n || len(sites.Tau) != n || (K != nil && K.SymmetricDim() != n) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "site model: %d sites for %d covariate rows", len(sites.Eta), n)
	}
	if !AllFinite(sites.Eta) || !AllFinite(sites.Tau) {
		return nil, errors.Wrap(ErrNonFiniteInput, "site parameters")
	}
	if settings == nil {
		settings = DefaultSettings()
	}
	return &SiteModel{z: sites.Mean(), tau: copyVec(sites.Tau), M: M, K: K, settings: settings}, nil
}

// variances maps optimiser coordinates (log v1, log v0), or (log v0) when
// there is no K, onto the variance components.
func (m *SiteModel) variances(x []float64) (v1, v0 float64) {
	if m.K == nil {
		return 0, math.Exp(clampLog(x[0]))
	}
	return math.Exp(clampLog(x[0])), math.Exp(clampLog(x[1]))
}

type siteEval struct {
	lml   float64
	beta  *mat.VecDense
	chol  *mat.Cholesky
	resid *mat.VecDense
}

func (m *SiteModel) evaluate(v1, v0 float64) (*siteEval, error) {
	n, c := m.M.Dims()
	C := mat.NewSymDense(n, nil)
	if m.K != nil {
		C.ScaleSym(v1, m.K)
	}
	for i := 0; i < n; i++ {
		C.SetSym(i, i, C.At(i, i)+v0+1/m.tau[i])
	}
	chol := new(mat.Cholesky)
	if !chol.Factorize(C) {
		return nil, errors.Wrap(ErrNonConvergence, "site covariance is not positive definite")
	}

	var CinvM mat.Dense
	if err := chol.SolveTo(&CinvM, m.M); solveFailed(err) {
		return nil, errors.Wrap(ErrNonConvergence, "site covariance solve")
	}
	var MtCM mat.Dense
	MtCM.Mul(m.M.T(), &CinvM)
	A := mat.NewSymDense(c, nil)
	for i := 0; i < c; i++ {
		for j := i; j < c; j++ {
			A.SetSym(i, j, 0.5*(MtCM.At(i, j)+MtCM.At(j, i)))
		}
	}
	var cholA mat.Cholesky
	if err := factorizeSPD(&cholA, A); err != nil {
		return nil, err
	}
	z := mat.NewVecDense(n, m.z)
	MtCz := mat.NewVecDense(c, nil)
	MtCz.MulVec(CinvM.T(), z)
	beta := mat.NewVecDense(c, nil)
	if err := cholA.SolveVecTo(beta, MtCz); solveFailed(err) {
		return nil, errors.Wrap(ErrNonConvergence, "site fixed effects")
	}

	resid := mat.NewVecDense(n, nil)
	resid.MulVec(m.M, beta)
	resid.SubVec(z, resid)
	Cr := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(Cr, resid); solveFailed(err) {
		return nil, errors.Wrap(ErrNonConvergence, "site covariance solve")
	}
	lml := -0.5 * (float64(n)*log2Pi + chol.LogDet() + mat.Dot(resid, Cr))
	return &siteEval{lml: lml, beta: beta, chol: chol, resid: resid}, nil
}

// Fit maximises the site model likelihood over the variance components.
func (m *SiteModel) Fit() error {
	x0 := m.start
	if x0 == nil {
		x0 = []float64{0, 0}
		if m.K == nil {
			x0 = []float64{0}
		}
	}
	x, _, err := minimize(func(x []float64) float64 {
		ev, err := m.evaluate(m.variances(x))
		if err != nil {
			return math.Inf(1)
		}
		return -ev.lml
	}, x0, m.settings, "site model variance components")
	if err != nil {
		return err
	}
	for i := range x {
		x[i] = clampLog(x[i])
	}
	v1, v0 := m.variances(x)
	ev, err := m.evaluate(v1, v0)
	if err != nil {
		return err
	}
	m.start = x
	m.v1, m.v0 = v1, v0
	m.lml, m.beta, m.chol, m.resid = ev.lml, ev.beta, ev.chol, ev.resid
	return nil
}

func (m *SiteModel) LML() float64 {
	return m.lml
}

func (m *SiteModel) Beta() []float64 {
	return copyVec(m.beta.RawVector().Data)
}

func (m *SiteModel) V0() float64 {
	return m.v0
}

func (m *SiteModel) V1() float64 {
	return m.v1
}

// PosteriorLatent returns the posterior mean of the latent variable,
// Mβ + (v1·K + v0·I)·C⁻¹·(z − Mβ).
func (m *SiteModel) PosteriorLatent() []float64 {
	n, _ := m.M.Dims()
	Cr := mat.NewVecDense(n, nil)
	// Only mat.Condition warnings are possible once C is factorized.
	_ = m.chol.SolveVecTo(Cr, m.resid)
	f := mat.NewVecDense(n, nil)
	if m.K != nil {
		f.MulVec(m.K, Cr)
		f.ScaleVec(m.v1, f)
	}
	f.AddScaledVec(f, m.v0, Cr)
	var Mb mat.VecDense
	Mb.MulVec(m.M, m.beta)
	f.AddVec(f, &Mb)
	return f.RawVector().Data
}

// GLMM fits a generalised linear mixed model by the Laplace approximation,
// iterating site updates around the posterior mode of the latent variable.
type GLMM struct {
	y, trials []float64
	lik       Likelihood
	M         *mat.Dense
	K         *mat.SymDense
	settings  *Settings

	site   *Sites
	latent []float64
	model  *SiteModel
	iters  int
}

func NewGLMM(y []float64, lik Likelihood, trials []float64, M *mat.Dense, K *mat.SymDense, settings *Settings) (*GLMM, error) {
	n, _ := M.Dims()
	if len(y) != n || (K != nil && K.SymmetricDim() != n) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "glmm: %d outcomes for %d covariate rows", len(y), n)
	}
	if lik.NeedsTrials() && len(trials) != n {
		return nil, errors.Wrapf(ErrDimensionMismatch, "glmm: %d trial counts for %d outcomes", len(trials), n)
	}
	if lik == Normal || !lik.Valid() {
		return nil, errors.Wrapf(ErrInvalidLikelihood, "glmm: unsupported likelihood %s", lik)
	}
	if settings == nil {
		settings = DefaultSettings()
	}
	return &GLMM{y: y, trials: trials, lik: lik, M: M, K: K, settings: settings}, nil
}

func (g *GLMM) trialsAt(i int) float64 {
	if g.trials == nil {
		return 1
	}
	return g.trials[i]
}

func (g *GLMM) sitesAt(f []float64) *Sites {
	s := &Sites{Eta: make([]float64, len(f)), Tau: make([]float64, len(f))}
	for i := range f {
		grad, w := g.lik.derivatives(g.y[i], g.trialsAt(i), f[i])
		s.Tau[i] = w
		s.Eta[i] = w*f[i] + grad
	}
	return s
}

// Fit runs the Laplace iteration until the latent mean settles. The step is
// halved whenever the update grows, which keeps saturated Bernoulli
// outcomes from oscillating.
func (g *GLMM) Fit() error {
	start := time.Now()
	f := make([]float64, len(g.y))
	for i := range f {
		f[i] = g.lik.initLatent(g.y[i], g.trialsAt(i))
	}

	var x0 []float64
	step, prevDiff := 1.0, math.Inf(1)
	for iter := 0; iter < g.settings.GLMMMaxIter; iter++ {
		sites := g.sitesAt(f)
		model, err := NewSiteModel(sites, g.M, g.K, g.settings)
		if err != nil {
			return err
		}
		model.start = x0
		if err := model.Fit(); err != nil {
			return errors.WithMessagef(err, "glmm iteration %d", iter)
		}
		x0 = model.start

		fNew := model.PosteriorLatent()
		diff := maxAbsDiff(fNew, f)
		if diff > prevDiff {
			step = math.Max(step/2, 1.0/64)
		}
		prevDiff = diff
		for i := range f {
			f[i] += step * (fNew[i] - f[i])
		}
		log.Lvl2("glmm iteration", iter, "max latent change", diff, "step", step)

		if diff < g.settings.GLMMTol*(1+maxAbs(f)) {
			g.site, g.latent, g.model, g.iters = sites, f, model, iter+1
			if g.settings.Verbose {
				log.LLvl1(time.Now().Format(time.StampMilli), "GLMM", g.lik, "converged after", g.iters, "iterations, lml", model.LML(), time.Since(start))
			}
			return nil
		}
	}
	return errors.Wrapf(ErrNonConvergence, "glmm %s: latent mean did not settle in %d iterations", g.lik, g.settings.GLMMMaxIter)
}

// Site returns the site parameters at convergence.
func (g *GLMM) Site() *Sites {
	return g.site
}

// Latent returns the posterior latent mean at convergence.
func (g *GLMM) Latent() []float64 {
	return copyVec(g.latent)
}

func (g *GLMM) Iterations() int {
	return g.iters
}
