package cmd

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzzs-lab/pyTCM/internal/external"
)

var (
	execDesc string
	execRaw  bool
)

var execCmd = &cobra.Command{
	Use:   "exec -- command [args...]",
	Short: "Run an arbitrary external command through the runner",
	Long: `Run a command with stdout captured as results and stderr classified
onto the logger. Results are echoed back: as plain lines, or pretty-printed
when the output parsed as a JSON document.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		proc, err := external.Start(args, external.Options{
			Desc:   execDesc,
			Logger: appLogger,
			Raw:    execRaw,
		})
		if err != nil {
			return err
		}
		results, err := proc.Results()
		if err != nil {
			var exitErr *external.ExitError
			if errors.As(err, &exitErr) {
				appLogger.Error(exitErr.Error())
				os.Exit(exitErr.Code)
			}
			return err
		}
		return printResults(cmd, results)
	},
}

// printResults writes parsed results to stdout: line lists verbatim,
// anything else as indented JSON.
func printResults(cmd *cobra.Command, results any) error {
	if lines, ok := results.([]string); ok {
		for _, l := range lines {
			cmd.Println(l)
		}
		return nil
	}
	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}

func init() {
	execCmd.Flags().StringVar(&execDesc, "desc", "", "label for forwarded stderr lines")
	execCmd.Flags().BoolVar(&execRaw, "raw", false, "do not prefix forwarded stderr lines")
	execCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(execCmd)
}
