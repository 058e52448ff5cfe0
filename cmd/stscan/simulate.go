package main

import (
	"os"
	"path"

	"github.com/hhcho/lmm-scan/gwas"
	"github.com/hhcho/lmm-scan/lmm"
	"github.com/hhcho/lmm-scan/simulate"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.dedis.ch/onet/v3/log"
)

type SimulateOptions struct {
	*RootOptions
	simulate.Options
	LikelihoodName string
	OutDir         string
}

func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts, Options: simulate.DefaultOptions()}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Write a seeded synthetic data set and a config to scan it",
		Long: `Generate phenotypes, covariates, candidates and a kinship matrix from a
fixed seed. The output directory receives one tab-separated file per input
and a scan.toml that "stscan run" accepts.

Example:
  stscan simulate --out sim --likelihood binomial --samples 200 --candidates 50`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts)
		},
	}
	cmd.Flags().StringVar(&opts.OutDir, "out", "sim", "output directory")
	cmd.Flags().StringVar(&opts.LikelihoodName, "likelihood", "poisson", "normal, bernoulli, probit, binomial or poisson")
	cmd.Flags().IntVar(&opts.NumSamples, "samples", opts.NumSamples, "number of samples")
	cmd.Flags().IntVar(&opts.NumCandidates, "candidates", opts.NumCandidates, "number of candidates")
	cmd.Flags().IntVar(&opts.NumMarkers, "markers", opts.NumMarkers, "markers behind the kinship matrix, 0 for none")
	cmd.Flags().IntVar(&opts.MaxTrials, "max-trials", opts.MaxTrials, "largest binomial trial count")
	cmd.Flags().IntVar(&opts.Causal, "causal", opts.Causal, "index of the causal candidate, -1 for none")
	cmd.Flags().Float64Var(&opts.EffectSize, "effect", opts.EffectSize, "effect size of the causal candidate")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", opts.Seed, "random seed")
	return cmd
}

func runSimulate(opts *SimulateOptions) error {
	lik, ok := lmm.ParseLikelihood(opts.LikelihoodName)
	if !ok {
		return errors.Wrapf(gwas.ErrInvalidLikelihood, "unknown likelihood %q", opts.LikelihoodName)
	}
	opts.Options.Likelihood = lik
	in, err := simulate.Generate(opts.Options)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return err
	}

	config := gwas.DefaultConfig()
	config.Likelihood = lik.String()
	config.OutDir = opts.OutDir
	file := func(name string) string { return path.Join(opts.OutDir, name) }

	write := []struct {
		target *string
		name   string
		array  *gwas.Array
	}{
		{&config.PhenoFile, "pheno.tsv", in.Y},
		{&config.CovFile, "covariates.tsv", in.M},
		{&config.GenoFile, "geno.tsv", in.G},
		{&config.KinshipFile, "kinship.tsv", in.K},
		{&config.TrialsFile, "trials.tsv", in.Trials},
	}
	for _, w := range write {
		if w.array == nil {
			continue
		}
		if err := gwas.SaveMatrixToFile(file(w.name), w.array.Data, '\t'); err != nil {
			return err
		}
		*w.target = file(w.name)
	}

	config.SampleIdFile = file("samples.txt")
	config.SnpIdFile = file("candidates.txt")
	config.CovNamesFile = file("covariate_names.txt")
	for name, labels := range map[string][]string{
		config.SampleIdFile: in.Y.Samples,
		config.SnpIdFile:    in.G.Labels,
		config.CovNamesFile: in.M.Labels,
	} {
		if err := gwas.SaveLabelsToFile(name, labels); err != nil {
			return err
		}
	}

	if err := gwas.SaveConfig(file("scan.toml"), config); err != nil {
		return err
	}
	log.Lvl1("Wrote", lik, "data set with", opts.NumSamples, "samples and", opts.NumCandidates, "candidates to", opts.OutDir)
	return nil
}
