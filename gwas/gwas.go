package gwas

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

type Config struct {
	Likelihood string `toml:"likelihood"`

	PhenoFile      string `toml:"pheno_file"`
	CovFile        string `toml:"covar_file"`
	GenoFile       string `toml:"geno_file"`
	KinshipFile    string `toml:"kinship_file"`
	TrialsFile     string `toml:"trials_file"`
	SampleIdFile   string `toml:"sample_id_file"`
	SnpIdFile      string `toml:"snp_id_file"`
	CovNamesFile   string `toml:"covar_names_file"`
	Delimiter      string `toml:"delimiter"`
	GenoTransposed bool   `toml:"geno_transposed"`
	GenoBinary     bool   `toml:"geno_binary"` // signed bytes, samples x candidates, negative for missing

	OutDir string `toml:"output_dir"`

	LocalNumThreads int `toml:"local_num_threads"`
	ScanChunkSize   int `toml:"scan_chunk_size"`

	LMMMaxIter  int     `toml:"lmm_max_iter"`
	LMMTol      float64 `toml:"lmm_tol"`
	GLMMMaxIter int     `toml:"glmm_max_iter"`
	GLMMTol     float64 `toml:"glmm_tol"`

	MemoryLimit uint64 `toml:"memory_limit"`

	Verbose bool `toml:"verbose"`
}

// DefaultConfig returns the settings used for any key a config file omits.
func DefaultConfig() *Config {
	return &Config{
		Likelihood:      "normal",
		Delimiter:       "\t",
		OutDir:          ".",
		LocalNumThreads: 1,
	}
}

// LoadConfig decodes a TOML file over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	if _, err := config.delimiter(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) delimiter() (rune, error) {
	r := []rune(c.Delimiter)
	if len(r) != 1 {
		return 0, errors.Errorf("config: delimiter %q must be a single character", c.Delimiter)
	}
	return r[0], nil
}

// SaveConfig writes config as TOML.
func SaveConfig(path string, config *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(config); err != nil {
		f.Close()
		return errors.Wrapf(err, "config %s", path)
	}
	return f.Close()
}
