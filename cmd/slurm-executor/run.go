package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [script-path] <step-name>",
	Short: "Runs one step inside the allocation and streams its log",
	Long: `Runs one step inside the allocation and streams its log to stdout.
The script is read from script-path, or from stdin when only the step name
is given. The exit code is the step's own exit code.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireJob(); err != nil {
		return phaseError(cfg, err)
	}

	step := args[len(args)-1]
	var script []byte
	if len(args) == 2 {
		script, err = os.ReadFile(args[0])
	} else {
		script, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return phaseError(cfg, fmt.Errorf("failed to read script for step %s: %w", step, err))
	}

	d, err := newDriver(cfg)
	if err != nil {
		return err
	}
	return phaseError(cfg, d.Run(cmd.Context(), step, script))
}
