package gwas

import "github.com/hhcho/lmm-scan/lmm"

// ScanParams are the runtime parameters derived from a Config.
type ScanParams struct {
	numThreads int
	chunkSize  int
	verbose    bool

	settings *lmm.Settings
}

func InitScanParams(config *Config) *ScanParams {
	settings := lmm.DefaultSettings()
	if config.LMMMaxIter > 0 {
		settings.MaxIter = config.LMMMaxIter
	}
	if config.LMMTol > 0 {
		settings.Tol = config.LMMTol
	}
	if config.GLMMMaxIter > 0 {
		settings.GLMMMaxIter = config.GLMMMaxIter
	}
	if config.GLMMTol > 0 {
		settings.GLMMTol = config.GLMMTol
	}
	settings.Verbose = config.Verbose

	scanParams := &ScanParams{
		numThreads: config.LocalNumThreads,
		chunkSize:  config.ScanChunkSize,
		verbose:    config.Verbose,
		settings:   settings,
	}
	if scanParams.numThreads < 1 {
		scanParams.numThreads = 1
	}
	if scanParams.chunkSize < 1 {
		scanParams.chunkSize = lmm.DefaultChunkSize
	}
	return scanParams
}

func (p *ScanParams) NumThreads() int {
	return p.numThreads
}

func (p *ScanParams) ChunkSize() int {
	return p.chunkSize
}

func (p *ScanParams) Settings() *lmm.Settings {
	return p.settings
}
