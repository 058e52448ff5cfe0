package main

import (
	"fmt"
	"runtime"

	"github.com/hhcho/lmm-scan/gwas"
	"github.com/raulk/go-watchdog"
	"github.com/spf13/cobra"
)

type RunOptions struct {
	*RootOptions
	ConfigFile string
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan the inputs named in a TOML config",
		Long: `Load the phenotype, covariate, genotype and kinship files named in the
config, fit the null model, test every candidate and write stats.tsv and
effsizes.tsv to the output directory.

Example:
  stscan run --config scan.toml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to the TOML config (required)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runScan(opts *RunOptions, cmd *cobra.Command) error {
	config, err := gwas.LoadConfig(opts.ConfigFile)
	if err != nil {
		return err
	}
	config.Verbose = config.Verbose || opts.Verbose

	if config.MemoryLimit > 0 {
		err, stopFn := watchdog.HeapDriven(config.MemoryLimit, 40, watchdog.NewAdaptivePolicy(0.5))
		if err != nil {
			return err
		}
		defer stopFn()
	}
	if config.LocalNumThreads > 0 {
		runtime.GOMAXPROCS(config.LocalNumThreads)
	}

	prot := gwas.InitializeScanProtocol(config)
	report, err := prot.Run()
	if err != nil {
		return err
	}
	if !config.Verbose {
		fmt.Fprint(cmd.OutOrStdout(), report.String())
	}
	return nil
}
