package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzzs-lab/pyTCM/internal/adaptor"
	"github.com/jackzzs-lab/pyTCM/internal/external"
)

var (
	subLabIP   string
	subLabPort int
)

var subLabCmd = &cobra.Command{
	Use:   "sub-lab -- [args...]",
	Short: "Start a jupyter lab instance in the Schrodinger sub-package venv",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := adaptor.New(appConfig, appLogger)
		proc, err := a.JupyterLab(subLabIP, subLabPort, args, external.Options{Logger: appLogger})
		if err != nil {
			return err
		}
		if code := proc.Wait(); code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

func init() {
	subLabCmd.Flags().StringVar(&subLabIP, "ip", "localhost", "address to listen on")
	subLabCmd.Flags().IntVar(&subLabPort, "port", 52000, "port to listen on")
	subLabCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(subLabCmd)
}
