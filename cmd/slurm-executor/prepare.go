package main

import (
	"github.com/spf13/cobra"
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Submits the allocation and waits until it runs",
	Args:  cobra.NoArgs,
	RunE:  runPrepare,
}

func init() {
	rootCmd.AddCommand(prepareCmd)
}

func runPrepare(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireJob(); err != nil {
		return phaseError(cfg, err)
	}
	d, err := newDriver(cfg)
	if err != nil {
		return err
	}
	alloc, err := d.Prepare(cmd.Context())
	if err != nil {
		return phaseError(cfg, err)
	}
	logger.Info("allocation ready", "id", alloc.ID, "log", alloc.Log)
	return nil
}
