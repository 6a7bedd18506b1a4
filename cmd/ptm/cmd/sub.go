package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzzs-lab/pyTCM/internal/adaptor"
	"github.com/jackzzs-lab/pyTCM/internal/external"
)

var (
	subDebugpy     bool
	subDebugpyAddr string
	subNoVenv      bool
	subPath        string
)

var subCmd = &cobra.Command{
	Use:   "sub -- [args...]",
	Short: "Call the CLI of the Schrodinger contrib sub-package",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := adaptor.New(appConfig, appLogger)
		proc, err := a.Package(args, adaptor.PackageOptions{
			Path:           subPath,
			Debugpy:        subDebugpy,
			DebugpyAddress: subDebugpyAddr,
			NoVenv:         subNoVenv,
		}, external.Options{Logger: appLogger})
		if err != nil {
			return err
		}
		if subDebugpy {
			appLogger.Warn("debugpy enabled, waiting for connection", "addr", subDebugpyAddr)
		}
		results, err := proc.Results()
		if err != nil {
			var exitErr *external.ExitError
			if errors.As(err, &exitErr) {
				os.Exit(exitErr.Code)
			}
			return err
		}
		return printResults(cmd, results)
	},
}

func init() {
	subCmd.Flags().BoolVar(&subDebugpy, "debugpy", false, "start and wait for a debugpy connection")
	subCmd.Flags().StringVar(&subDebugpyAddr, "debugpy-address", "localhost:5678", "address for the debugpy connection")
	subCmd.Flags().BoolVar(&subNoVenv, "no-venv", false, "force running through $SCHRODINGER/run instead of the venv")
	subCmd.Flags().StringVar(&subPath, "path", "", "run the sub-package from a script path")
	subCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(subCmd)
}
