package lmm

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.dedis.ch/onet/v3/log"
	"gonum.org/v1/gonum/mat"
)

// deltaGrid is the number of logit(δ) points probed before the local search.
const deltaGrid = 40

// LMM fits y ~ N(Mβ, s·((1−δ)K + δI)) by maximum likelihood, with K given
// through its spectral decomposition.
type LMM struct {
	ty       []float64
	tM       *mat.Dense
	qs       *QS
	settings *Settings

	delta float64
	gls   *diagGLS
}

func NewLMM(y []float64, M *mat.Dense, qs *QS, settings *Settings) (*LMM, error) {
	n, _ := M.Dims()
	if len(y) != n || (qs != nil && qs.Len() != n) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "lmm: %d outcomes for %d covariate rows", len(y), n)
	}
	if settings == nil {
		settings = DefaultSettings()
	}
	return &LMM{
		ty:       qs.RotateVec(y),
		tM:       qs.Rotate(M),
		qs:       qs,
		settings: settings,
		delta:    1,
	}, nil
}

func (l *LMM) glsAt(delta float64) (*diagGLS, error) {
	d := make([]float64, len(l.ty))
	for i := range d {
		d[i] = delta
		if l.qs != nil {
			d[i] += (1 - delta) * l.qs.S[i]
		}
		d[i] = math.Max(d[i], minDiag)
	}
	return newDiagGLS(l.ty, l.tM, d)
}

func (l *LMM) negLML(t float64) float64 {
	gls, err := l.glsAt(logitToDelta(t))
	if err != nil {
		return math.Inf(1)
	}
	return -gaussianLML(gls.n, gls.logdetD, gls.rss, 0)
}

// Fit estimates δ, β and the scale. Without K the model is a plain linear
// regression and δ stays at 1.
func (l *LMM) Fit() error {
	start := time.Now()
	if l.qs == nil {
		return l.update(1)
	}

	best, bestF := 0.0, math.Inf(1)
	for i := 0; i < deltaGrid; i++ {
		t := -10 + 20*float64(i)/float64(deltaGrid-1)
		if f := l.negLML(t); f < bestF {
			best, bestF = t, f
		}
	}
	x, f, err := minimize(func(x []float64) float64 {
		return l.negLML(x[0])
	}, []float64{best}, l.settings, "lmm variance components")
	if err != nil {
		return err
	}
	if f < bestF {
		best = x[0]
	}
	if err := l.update(logitToDelta(best)); err != nil {
		return err
	}
	if l.settings.Verbose {
		log.LLvl1(time.Now().Format(time.StampMilli), "LMM fit: delta", l.delta, "lml", l.LML(), time.Since(start))
	}
	return nil
}

func (l *LMM) update(delta float64) error {
	gls, err := l.glsAt(delta)
	if err != nil {
		return err
	}
	l.delta, l.gls = delta, gls
	return nil
}

func (l *LMM) fitted() bool {
	return l.gls != nil
}

// LML is the log marginal likelihood at the fitted parameters.
func (l *LMM) LML() float64 {
	return gaussianLML(l.gls.n, l.gls.logdetD, l.gls.rss, 0)
}

func (l *LMM) Beta() []float64 {
	return copyVec(l.gls.beta.RawVector().Data)
}

// Scale is the ML estimate of s.
func (l *LMM) Scale() float64 {
	return l.gls.rss / float64(l.gls.n)
}

func (l *LMM) Delta() float64 {
	return l.delta
}

// V0 is the residual variance s·δ.
func (l *LMM) V0() float64 {
	return l.Scale() * l.delta
}

// V1 is the variance of the K component, s·(1−δ); zero without K.
func (l *LMM) V1() float64 {
	if l.qs == nil {
		return 0
	}
	return l.Scale() * (1 - l.delta)
}

// FastScanner returns a scanner that reuses the rotation and the fitted δ.
// The scale is re-estimated per candidate.
func (l *LMM) FastScanner() (*FastScanner, error) {
	if !l.fitted() {
		return nil, errors.New("lmm: FastScanner called before Fit")
	}
	return newRotatedScanner(l.ty, l.tM, l.qs, 1-l.delta, l.delta)
}
