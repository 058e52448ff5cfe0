package main

import (
	"github.com/spf13/cobra"
	"go.dedis.ch/onet/v3/log"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	Verbose  bool
	LogLevel int
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "stscan",
		Short: "Single-variant association scans under (generalised) linear mixed models",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetDebugVisible(opts.LogLevel)
		},
	}
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "print progress and the result summary")
	cmd.PersistentFlags().IntVar(&opts.LogLevel, "log-level", 1, "onet debug level")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))
	return cmd
}
