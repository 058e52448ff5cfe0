package gwas

import (
	"time"

	"github.com/hhcho/lmm-scan/lmm"
	"github.com/pkg/errors"
	"go.dedis.ch/onet/v3/log"
)

// ScanProtocol runs single-variant association scans with a fixed set of
// runtime parameters. The numerical back ends can be swapped for tests.
type ScanProtocol struct {
	config *Config
	params *ScanParams

	fitter     lmm.Fitter
	decomposer lmm.Decomposer
}

func InitializeScanProtocol(config *Config) *ScanProtocol {
	if config == nil {
		config = DefaultConfig()
	}
	params := InitScanParams(config)
	if config.Verbose {
		log.LLvl1(time.Now().Format(time.StampMilli), "Init scan protocol:", params.numThreads, "threads, chunk size", params.chunkSize)
	}
	return &ScanProtocol{
		config:     config,
		params:     params,
		fitter:     lmm.NewFitter(params.settings),
		decomposer: lmm.EigenDecomposer{},
	}
}

func (p *ScanProtocol) SetFitter(fitter lmm.Fitter) {
	p.fitter = fitter
}

func (p *ScanProtocol) SetDecomposer(decomposer lmm.Decomposer) {
	p.decomposer = decomposer
}

func (p *ScanProtocol) GetConfig() *Config {
	return p.config
}

func (p *ScanProtocol) GetScanParams() *ScanParams {
	return p.params
}

// Scan is ScanProtocol.Scan with default parameters.
func Scan(G, y *Array, lik LikelihoodSpec, K, M *Array, verbose bool) (*ScanReport, error) {
	return InitializeScanProtocol(nil).Scan(G, y, lik, K, M, verbose)
}

// ScanLikelihood resolves the likelihood by name before scanning; aux holds
// the trial counts of a binomial outcome.
func ScanLikelihood(G, y *Array, name string, K, M *Array, verbose bool, aux ...*Array) (*ScanReport, error) {
	lik, err := ResolveLikelihood(name, aux...)
	if err != nil {
		return nil, err
	}
	return Scan(G, y, lik, K, M, verbose)
}

// Scan tests every column of G for association with y. K (the sample
// covariance) and M (the covariates) may be nil. All inputs are validated
// before any model is fitted.
func (p *ScanProtocol) Scan(G, y *Array, lik LikelihoodSpec, K, M *Array, verbose bool) (*ScanReport, error) {
	verbose = verbose || p.params.verbose
	start := time.Now()
	if err := lik.validate(); err != nil {
		return nil, err
	}

	ds, err := ConformDataset(y, M, G, K, lik.Trials)
	if err != nil {
		return nil, err
	}
	if err := checkFinite(ds); err != nil {
		return nil, err
	}
	yv, err := NormaliseExtremeValues(ds.Y.RawVector().Data, lik.Name, ds.Trials)
	if err != nil {
		return nil, err
	}
	if verbose {
		log.LLvl1(time.Now().Format(time.StampMilli), "Conformed", ds.NumSamples(), "samples,", len(ds.Covariates), "covariates,", ds.NumCandidates(), "candidates")
	}

	factory := NewScanResultFactory(lik.Name, ds.Covariates, ds.Candidates)
	cache := lmm.NewSpectralCache(p.decomposer)

	var null *NullModel
	var scanner *lmm.FastScanner
	switch lik.Name {
	case lmm.Normal:
		null, scanner, err = p.performLMM(yv, ds, cache)
	case lmm.Bernoulli, lmm.Probit, lmm.Binomial, lmm.Poisson:
		null, scanner, err = p.performGLMM(yv, lik.Name, ds, cache)
	default:
		err = errors.Wrapf(ErrInvalidLikelihood, "likelihood %d", int(lik.Name))
	}
	if err != nil {
		return nil, err
	}
	if verbose {
		log.LLvl1(time.Now().Format(time.StampMilli), "Null model fitted, lml", null.LML, time.Since(start))
	}
	factory.SetNull(*null)

	scanner.SetParallel(p.params.numThreads, p.params.chunkSize)
	scanner.SetVerbose(verbose)
	fits, err := scanner.FastScan(ds.G)
	if err != nil {
		return nil, err
	}
	for i, fit := range fits {
		if err := factory.AddTest(i, fit); err != nil {
			return nil, err
		}
	}
	report, err := factory.Create()
	if err != nil {
		return nil, err
	}
	if verbose {
		log.LLvl1(time.Now().Format(time.StampMilli), "Scan finished", time.Since(start))
		log.LLvl1("\n" + report.String())
	}
	return report, nil
}

func checkFinite(ds *Dataset) error {
	switch {
	case !lmm.AllFinite(ds.Y.RawVector().Data):
		return errors.Wrap(ErrNonFiniteInput, "outcome")
	case !lmm.AllFiniteMatrix(ds.M):
		return errors.Wrap(ErrNonFiniteInput, "covariates")
	case ds.K != nil && !lmm.AllFiniteMatrix(ds.K):
		return errors.Wrap(ErrNonFiniteInput, "covariance")
	case !lmm.AllFinite(ds.Trials):
		return errors.Wrap(ErrNonFiniteInput, "trial counts")
	case !lmm.AllFiniteMatrix(ds.G):
		return errors.Wrap(ErrNonFiniteInput, "candidates")
	}
	return nil
}

func (p *ScanProtocol) performLMM(y []float64, ds *Dataset, cache *lmm.SpectralCache) (*NullModel, *lmm.FastScanner, error) {
	qs, err := cache.Factorize(ds.K)
	if err != nil {
		return nil, nil, err
	}
	fit, err := p.fitter.FitLMM(y, ds.M, qs)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "null model")
	}
	return &NullModel{
		LML:   fit.LML,
		Beta:  fit.Beta,
		V0:    fit.V0,
		V1:    fit.V1,
		Scale: fit.Scale,
	}, fit.Scanner, nil
}

// performGLMM fits the Laplace approximation, then scans the Normal model
// its sites induce. The decomposition is of v1·K + diag(1/tau), which is
// only known once the sites are; without K it is diag(1/tau) alone.
func (p *ScanProtocol) performGLMM(y []float64, lik lmm.Likelihood, ds *Dataset, cache *lmm.SpectralCache) (*NullModel, *lmm.FastScanner, error) {
	sites, err := p.fitter.FitGLMM(y, lik, ds.Trials, ds.M, ds.K)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "null model")
	}
	siteFit, err := p.fitter.FitSites(sites, ds.M, ds.K)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "null site model")
	}

	qs, err := cache.Factorize(lmm.SiteCovariance(siteFit.V1, ds.K, sites.Tau))
	if err != nil {
		return nil, nil, err
	}
	z := sites.Mean()
	scanner, err := lmm.NewFastScanner(z, ds.M, qs, 1, siteFit.V0)
	if err != nil {
		return nil, nil, err
	}
	scanner.SetScale(1)
	return &NullModel{
		LML:   scanner.NullLML(),
		Beta:  siteFit.Beta,
		V0:    siteFit.V0,
		V1:    siteFit.V1,
		Scale: scanner.NullScale(),
		Sites: sites,
	}, scanner, nil
}
