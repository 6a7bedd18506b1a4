package cmd

import (
	"encoding/json"
	"slices"

	"github.com/spf13/cobra"

	"github.com/jackzzs-lab/pyTCM/internal/logger"
)

var debugCmd = &cobra.Command{
	Use:   "debug [fields...]",
	Short: "Print debug information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 || slices.Contains(args, "logger") {
			cmd.Printf("Logger level: %s\n", logger.Level(verbose, quiet).String())
		}
		if len(args) == 0 || slices.Contains(args, "conf") {
			out, err := json.MarshalIndent(appConfig.Settings(), "", "  ")
			if err != nil {
				return err
			}
			cmd.Println("Configs:")
			cmd.Println(string(out))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(debugCmd)
}
