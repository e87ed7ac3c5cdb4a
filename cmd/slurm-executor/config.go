package main

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config <builds_dir> <cache_dir>",
	Short: "Creates the job directories and prints the runner configuration",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// No scheduler is contacted in this phase.
	d, err := newDriver(cfg)
	if err != nil {
		return err
	}
	_, err = d.ConfigPhase(args[0], args[1])
	return phaseError(cfg, err)
}
