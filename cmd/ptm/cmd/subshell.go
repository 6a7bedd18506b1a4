package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzzs-lab/pyTCM/internal/adaptor"
)

var subShellExe string

var subShellCmd = &cobra.Command{
	Use:   "sub-shell -- [args...]",
	Short: "Run a shell inside the Schrodinger sub-package venv",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := adaptor.New(appConfig, appLogger)
		code, err := a.Shell(subShellExe, args)
		if err != nil {
			return err
		}
		if code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

func init() {
	subShellCmd.Flags().StringVar(&subShellExe, "shell", "bash", "shell executable to use")
	subShellCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(subShellCmd)
}
