package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lucasew/slurm-executor/internal/channel"
	"github.com/lucasew/slurm-executor/internal/clock"
	"github.com/lucasew/slurm-executor/internal/config"
	"github.com/lucasew/slurm-executor/internal/logging"
	"github.com/lucasew/slurm-executor/internal/worker"
)

const metricsFileName = "worker.prom"

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Runs the step loop inside the allocation",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().String("dir", "", "Working directory shared with the runner host")
	workerCmd.Flags().String("log-level", "info", "Log level: debug, info or none")
	workerCmd.Flags().Int("idle-limit", worker.DefaultIdleLimit, "Ticks to wait for a first step before giving up")
	_ = workerCmd.MarkFlagRequired("dir")
	_ = viper.BindPFlag("worker.idle_limit", workerCmd.Flags().Lookup("idle-limit"))
}

func runWorker(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	level, _ := cmd.Flags().GetString("log-level")
	logger = logging.New(config.ParseLogLevel(level)).With("component", "slurm-executor-worker")

	abs, err := filepath.Abs(dir)
	if err != nil {
		return &exitError{code: worker.ExitStepFailed, err: fmt.Errorf("invalid dir: %w", err)}
	}

	shell := viper.GetString(config.KeyWorkerShell)
	if shell == "" {
		shell = "bash"
	}
	loop := worker.NewLoop(
		channel.New(afero.NewOsFs(), abs),
		worker.ShellExecutor{Shell: shell},
		clock.Real(),
		logger,
		worker.Config{
			Tick:        worker.DefaultTick,
			Settle:      worker.DefaultSettle,
			IdleLimit:   viper.GetInt("worker.idle_limit"),
			MetricsPath: filepath.Join(abs, metricsFileName),
		},
	)

	// Steps always run to completion, so the loop is not tied to the
	// command context.
	_, err = loop.Run(context.Background())

	if err == nil {
		return nil
	}
	var idle *worker.IdleTimeoutError
	if errors.As(err, &idle) {
		return &exitError{code: worker.ExitIdleTimeout, err: err}
	}
	return &exitError{code: worker.ExitStepFailed, err: err}
}
