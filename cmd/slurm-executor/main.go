package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lucasew/slurm-executor/internal/config"
	"github.com/lucasew/slurm-executor/internal/driver"
	"github.com/lucasew/slurm-executor/internal/logging"
)

var (
	cfgFile string
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "slurm-executor",
	Short:         "Custom CI executor running jobs inside batch scheduler allocations",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError ends the process with a specific exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	logger = logging.New("info")
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			logger.Error("execution failed", "error", ee.err)
		}
		os.Exit(ee.code)
	}
	logger.Error("execution failed", "error", err)
	os.Exit(1)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "site config file (default is /etc/slurm-executor/slurm-executor.yaml)")
	rootCmd.PersistentFlags().String("scheduler", "", "scheduler backend: slurm or nomad")
	_ = viper.BindPFlag(config.KeySchedulerType, rootCmd.PersistentFlags().Lookup("scheduler"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("/etc/slurm-executor")
		viper.SetConfigName("slurm-executor")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SLURM_EXECUTOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	envVars := []string{
		config.KeySchedulerType,
		config.KeyNomadAddr,
		config.KeyNomadRegion,
		config.KeySlurmBinDir,
		config.KeyWorkerShell,
	}
	for _, key := range envVars {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err == nil {
		logger.Debug("using config file", "file", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		logger.Warn("failed to read config file", "file", cfgFile, "error", err)
	}
}

// loadConfig resolves the job configuration and switches the logger to the
// level the job asked for.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Resolve(viper.GetViper())
	if err != nil {
		return nil, &exitError{code: systemFailureCode(), err: err}
	}
	logger = logging.New(cfg.LogLevel).With("component", "slurm-executor", "job", cfg.Job.Name())
	return cfg, nil
}

// systemFailureCode is the runner's system failure code, for errors that
// happen before the configuration could be resolved.
func systemFailureCode() int {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("SYSTEM_FAILURE_EXIT_CODE"))); err == nil && n > 0 {
		return n
	}
	return 2
}

// exitCodeFor maps a phase error to the exit code the runner expects.
func exitCodeFor(cfg *config.Config, err error) int {
	if err == nil {
		return 0
	}
	var stepErr *driver.StepExecutionError
	if errors.As(err, &stepErr) && !stepErr.Lost {
		if stepErr.ExitCode > 0 && stepErr.ExitCode < 256 {
			return stepErr.ExitCode
		}
		return cfg.BuildFailureExitCode
	}
	return cfg.SystemFailureExitCode
}

func phaseError(cfg *config.Config, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: exitCodeFor(cfg, err), err: err}
}
