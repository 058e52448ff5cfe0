package gwas

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.dedis.ch/onet/v3/log"
	"gonum.org/v1/gonum/mat"
)

// LoadMatrixFromFile reads a delimited text file of numbers, one matrix row
// per line. "nan" and "inf" parse to their float values and are rejected
// later by the scan.
func LoadMatrixFromFile(filename string, delim rune) (*mat.Dense, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := csv.NewReader(f)
	c.Comma = delim
	c.TrimLeadingSpace = true
	text, err := c.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", filename)
	}
	lines := len(text)
	if lines == 0 {
		return nil, errors.Errorf("%s is empty", filename)
	}
	columns := c.FieldsPerRecord

	data := make([]float64, columns*lines)
	for i := 0; i < lines; i++ {
		for j := 0; j < columns; j++ {
			data[i*columns+j], err = strconv.ParseFloat(strings.TrimSpace(text[i][j]), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "%s line %d column %d", filename, i+1, j+1)
			}
		}
	}
	return mat.NewDense(lines, columns, data), nil
}

// LoadLabelsFile reads one label per non-empty line.
func LoadLabelsFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if l := strings.TrimSpace(scanner.Text()); l != "" {
			labels = append(labels, l)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", filename)
	}
	return labels, nil
}

// SaveMatrixToFile writes X as delimited text, one row per line.
func SaveMatrixToFile(filename string, X mat.Matrix, delim rune) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	rows, cols := X.Dims()
	line := make([]string, cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			line[col] = strconv.FormatFloat(X.At(row, col), 'g', -1, 64)
		}
		writer.WriteString(strings.Join(line, string(delim)) + "\n")
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	log.Lvl2("Saved data to", filename)
	return file.Sync()
}

func SaveLabelsToFile(filename string, labels []string) error {
	return os.WriteFile(filename, []byte(strings.Join(labels, "\n")+"\n"), 0o644)
}

// ScanInputs are the arrays of one scan as read from disk.
type ScanInputs struct {
	Y, M, G, K, Trials *Array
}

// LoadScanInputs reads the files named by the config. Optional files left
// empty in the config give nil arrays.
func LoadScanInputs(config *Config) (*ScanInputs, error) {
	delim, err := config.delimiter()
	if err != nil {
		return nil, err
	}
	load := func(name, file string) (*Array, error) {
		if file == "" {
			return nil, nil
		}
		X, err := LoadMatrixFromFile(file, delim)
		if err != nil {
			return nil, errors.WithMessage(err, name)
		}
		return NewArray(X), nil
	}
	labels := func(file string) ([]string, error) {
		if file == "" {
			return nil, nil
		}
		return LoadLabelsFile(file)
	}

	in := &ScanInputs{}
	if config.PhenoFile == "" || config.GenoFile == "" {
		return nil, errors.New("config: pheno_file and geno_file are required")
	}
	if in.Y, err = load("phenotypes", config.PhenoFile); err != nil {
		return nil, err
	}
	if config.GenoBinary {
		r, _ := in.Y.Data.Dims()
		G, err := LoadGenoBinary(config.GenoFile, r)
		if err != nil {
			return nil, errors.WithMessage(err, "genotypes")
		}
		in.G = NewArray(G)
	} else if in.G, err = load("genotypes", config.GenoFile); err != nil {
		return nil, err
	}
	if in.M, err = load("covariates", config.CovFile); err != nil {
		return nil, err
	}
	if in.K, err = load("kinship", config.KinshipFile); err != nil {
		return nil, err
	}
	if in.Trials, err = load("trials", config.TrialsFile); err != nil {
		return nil, err
	}
	if config.GenoTransposed {
		in.G.WithDims("candidate", "sample")
	}

	samples, err := labels(config.SampleIdFile)
	if err != nil {
		return nil, err
	}
	if samples != nil {
		for _, a := range []*Array{in.Y, in.G, in.M, in.K, in.Trials} {
			if a != nil {
				a.WithSamples(samples...)
			}
		}
	}
	if in.G.Labels, err = labels(config.SnpIdFile); err != nil {
		return nil, err
	}
	if in.M != nil {
		if in.M.Labels, err = labels(config.CovNamesFile); err != nil {
			return nil, err
		}
	}
	return in, nil
}

func (p *ScanProtocol) OutFile(filename string) string {
	return path.Join(p.config.OutDir, filename)
}

// Run loads the configured inputs, scans them and writes stats.tsv and
// effsizes.tsv to the output directory.
func (p *ScanProtocol) Run() (*ScanReport, error) {
	in, err := LoadScanInputs(p.config)
	if err != nil {
		return nil, err
	}
	if p.config.Verbose {
		log.LLvl1(time.Now().Format(time.StampMilli), "Loaded inputs:", describeInputs(in))
	}
	var aux []*Array
	if in.Trials != nil {
		aux = append(aux, in.Trials)
	}
	lik, err := ResolveLikelihood(p.config.Likelihood, aux...)
	if err != nil {
		return nil, err
	}
	report, err := p.Scan(in.G, in.Y, lik, in.K, in.M, p.config.Verbose)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(p.config.OutDir, 0o755); err != nil {
		return nil, err
	}
	for name, write := range map[string]func(*os.File) error{
		"stats.tsv":    func(f *os.File) error { return report.WriteStats(f) },
		"effsizes.tsv": func(f *os.File) error { return report.WriteEffSizes(f) },
	} {
		if err := writeFile(p.OutFile(name), write); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func writeFile(filename string, write func(*os.File) error) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", filename)
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Lvl2("Saved", filename)
	return nil
}

// describeInputs is a one-line shape summary used in verbose runs.
func describeInputs(in *ScanInputs) string {
	shape := func(a *Array) string {
		if a == nil {
			return "-"
		}
		r, c := a.Data.Dims()
		return fmt.Sprintf("%dx%d", r, c)
	}
	return fmt.Sprintf("y %s, M %s, G %s, K %s, trials %s", shape(in.Y), shape(in.M), shape(in.G), shape(in.K), shape(in.Trials))
}
