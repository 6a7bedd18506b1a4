package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzzs-lab/pyTCM/internal/config"
	"github.com/jackzzs-lab/pyTCM/internal/logger"
	"github.com/jackzzs-lab/pyTCM/internal/observability"
)

var (
	cfgFile     string
	verbose     int
	quiet       bool
	metricsAddr string

	appLogger      *slog.Logger
	appConfig      *config.Config
	metricsStopper func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "ptm",
	Short: "Toolbox for developing and evaluating PROTAC ternary complex modeling protocols",
	Long: `ptm is the command-line controller of the pyTCM toolbox.

The toolbox wraps the Schrodinger structural-biology SDK: the chemistry
itself runs inside a contrib sub-package executed under the SDK's own
interpreter, while ptm manages the nested virtual environment, spawns the
sub-package as external processes, and routes their output.

Common workflows:

  Pass a command through to the sub-package:
    ptm sub -- ternary-info protac-smiles -i complex.pdb

  Run an arbitrary external through the runner:
    ptm exec -- sleep 1

  Update the sub-package venv:
    ptm sub-update

Configuration:
  Tool roots are discovered from a config.yaml and whitelisted environment
  variables (SCHRODINGER, SCHRODINGER_HOME, SCHRODINGER_ROOT).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		appLogger = logger.New(logger.Level(verbose, quiet))
		slog.SetDefault(appLogger)

		var err error
		appConfig, err = config.Load(cfgFile, appLogger)
		if err != nil {
			return err
		}

		if metricsAddr != "" {
			metricsStopper, err = observability.Serve(metricsAddr)
			if err != nil {
				return err
			}
			appLogger.Info("serving metrics", "addr", metricsAddr)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if metricsStopper != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsStopper(ctx); err != nil {
				appLogger.Warn("failed to stop metrics server", "error", err)
			}
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "extra config file to be loaded (default is ./config.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "set level of logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "mute all messages under warning level")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while the command runs")
}
