package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/lucasew/slurm-executor/internal/config"
	"github.com/lucasew/slurm-executor/internal/driver"
	"github.com/lucasew/slurm-executor/internal/scheduler"
	"github.com/lucasew/slurm-executor/internal/scheduler/nomad"
	"github.com/lucasew/slurm-executor/internal/scheduler/slurm"
)

func newScheduler(cfg *config.Config, fs afero.Fs) (scheduler.Scheduler, error) {
	switch cfg.Site.Scheduler {
	case "slurm":
		return slurm.New(&slurm.ExecCommander{BinDir: cfg.Site.SlurmBinDir, Logger: logger}, fs), nil
	case "nomad":
		s, err := nomad.NewNomadScheduler(cfg.Site.NomadAddr, cfg.Site.NomadRegion)
		if err != nil {
			return nil, fmt.Errorf("failed to create scheduler: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown scheduler type: %s", cfg.Site.Scheduler)
	}
}

// newDriver wires the driver for the phases that talk to the scheduler.
func newDriver(cfg *config.Config) (*driver.Driver, error) {
	fs := afero.NewOsFs()
	sched, err := newScheduler(cfg, fs)
	if err != nil {
		return nil, &exitError{code: cfg.SystemFailureExitCode, err: err}
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, &exitError{code: cfg.SystemFailureExitCode, err: fmt.Errorf("failed to locate executable: %w", err)}
	}
	return driver.New(cfg, sched, logger, driver.WithFs(fs), driver.WithProgram(exe)), nil
}
