package main

import (
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Stops the allocation and removes the working directory",
	Args:  cobra.NoArgs,
	RunE:  runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

// runCleanup never fails the job: problems are logged only.
func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		logger.Error("cleanup skipped", "error", err)
		return nil
	}
	if err := cfg.RequireJob(); err != nil {
		logger.Error("cleanup skipped", "error", err)
		return nil
	}
	d, err := newDriver(cfg)
	if err != nil {
		logger.Error("cleanup skipped", "error", err)
		return nil
	}
	if err := d.Cleanup(cmd.Context()); err != nil {
		logger.Warn("cleanup finished with errors", "error", err)
	}
	return nil
}
