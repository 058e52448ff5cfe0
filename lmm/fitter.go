package lmm

import (
	"gonum.org/v1/gonum/mat"
)

// LMMFit is a fitted Normal null model together with its fast scanner.
type LMMFit struct {
	LML     float64
	Beta    []float64
	V0, V1  float64
	Delta   float64
	Scale   float64
	Scanner *FastScanner
}

// SiteFit is the Normal model fitted on the sites of a GLMM.
type SiteFit struct {
	LML    float64
	Beta   []float64
	V0, V1 float64
}

// Fitter fits the null models of a scan.
type Fitter interface {
	// FitLMM fits the Normal model of y on M with covariance given by qs.
	FitLMM(y []float64, M *mat.Dense, qs *QS) (*LMMFit, error)
	// FitGLMM fits a non-Normal model and returns its site parameters.
	FitGLMM(y []float64, lik Likelihood, trials []float64, M *mat.Dense, K *mat.SymDense) (*Sites, error)
	// FitSites fits the Normal model induced by a set of sites.
	FitSites(sites *Sites, M *mat.Dense, K *mat.SymDense) (*SiteFit, error)
}

type fitter struct {
	settings *Settings
}

// NewFitter returns the default Fitter; a nil settings uses DefaultSettings.
func NewFitter(settings *Settings) Fitter {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &fitter{settings: settings}
}

func (f *fitter) FitLMM(y []float64, M *mat.Dense, qs *QS) (*LMMFit, error) {
	model, err := NewLMM(y, M, qs, f.settings)
	if err != nil {
		return nil, err
	}
	if err := model.Fit(); err != nil {
		return nil, err
	}
	scanner, err := model.FastScanner()
	if err != nil {
		return nil, err
	}
	return &LMMFit{
		LML:     model.LML(),
		Beta:    model.Beta(),
		V0:      model.V0(),
		V1:      model.V1(),
		Delta:   model.Delta(),
		Scale:   model.Scale(),
		Scanner: scanner,
	}, nil
}

func (f *fitter) FitGLMM(y []float64, lik Likelihood, trials []float64, M *mat.Dense, K *mat.SymDense) (*Sites, error) {
	model, err := NewGLMM(y, lik, trials, M, K, f.settings)
	if err != nil {
		return nil, err
	}
	if err := model.Fit(); err != nil {
		return nil, err
	}
	return model.Site(), nil
}

func (f *fitter) FitSites(sites *Sites, M *mat.Dense, K *mat.SymDense) (*SiteFit, error) {
	model, err := NewSiteModel(sites, M, K, f.settings)
	if err != nil {
		return nil, err
	}
	if err := model.Fit(); err != nil {
		return nil, err
	}
	return &SiteFit{LML: model.LML(), Beta: model.Beta(), V0: model.V0(), V1: model.V1()}, nil
}
