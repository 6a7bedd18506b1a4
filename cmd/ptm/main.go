// Package main is the entry point for the ptm CLI.
// The CLI is the front door of the pyTCM toolbox for PROTAC ternary-complex
// modeling protocols.
package main

import (
	"os"

	"github.com/jackzzs-lab/pyTCM/cmd/ptm/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
