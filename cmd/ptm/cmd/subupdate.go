package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzzs-lab/pyTCM/internal/adaptor"
)

var subUpdateCmd = &cobra.Command{
	Use:   "sub-update [specs...]",
	Short: "Update packages in the Schrodinger sub-package venv",
	Long: `Install the given package specs into the sub-package venv, or refresh
the pre-defined requirements when no spec is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			appLogger.Info("installing packages in sub-package venv", "specs", strings.Join(args, ", "))
		} else {
			appLogger.Info("updating packages in schrodinger sub-package venv")
		}
		a := adaptor.New(appConfig, appLogger)
		if err := a.Update(args); err != nil {
			return err
		}
		appLogger.Info("succeed installing packages")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(subUpdateCmd)
}
