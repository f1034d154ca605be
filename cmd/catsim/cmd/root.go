// Package cmd provides the CLI commands for catsim.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzzdr/cat-risk-pipeline/config"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/logger"
	"github.com/rzzdr/cat-risk-pipeline/pkg/version"
)

type rootOptions struct {
	cfgFile string
	verbose bool
}

// NewRootCommand builds the catsim command tree
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "catsim",
		Short: "Simulate losses to a catastrophe excess-of-loss layer",
		Long: `catsim runs a Monte Carlo simulation of annual catastrophe losses,
applies an insurance layer and reports the average annual loss, the
1-in-100 year probable maximum loss and the exceedance probability curve.

Examples:
  catsim run
  catsim run --attachment 1000000 --limit 5000000 --trials 50000 --seed 42
  catsim run --format json --rows 0`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.cfgFile, "config", config.GetConfigPath(), "config file (default searches ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

// Execute runs the CLI
func Execute() error {
	return NewRootCommand().Execute()
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, err
	}

	lvl := cfg.App.LogLevel
	if o.verbose {
		lvl = "debug"
	}
	logger.Init(lvl, cfg.App.Environment)
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "catsim version %s\n", version.String())
		},
	}
}
