package main

import (
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globalOptions struct {
	verbose bool
}

// NewRootCmd creates the paychainctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:   "paychainctl",
		Short: "Offline tools for gateway transcripts and identifiers",
		Long: `paychainctl - offline tools for gateway transcripts and identifiers

Scrub captured gateway transcripts with the built-in cardholder rules, a
gateway's own rules or a YAML rule file, and encode or decode the composite
identifiers gateways return as authorizations.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "log diagnostics to stderr")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		newScrubCmd(opts),
		newIdentCmd(),
	)
	return rootCmd
}

// Execute runs the root command with the given output writers.
func Execute(stdout, stderr io.Writer) error {
	rootCmd := NewRootCmd()
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	return rootCmd.Execute()
}

func (o *globalOptions) logger() *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
