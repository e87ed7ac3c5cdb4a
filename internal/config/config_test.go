package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasew/slurm-executor/internal/scheduler"
)

func setJob(t *testing.T) {
	t.Helper()
	t.Setenv("CUSTOM_ENV_CI_PROJECT_ID", "12")
	t.Setenv("CUSTOM_ENV_CI_PIPELINE_ID", "34")
	t.Setenv("CUSTOM_ENV_CI_JOB_ID", "56")
	t.Setenv("CUSTOM_ENV_CI_BUILDS_DIR", "/shared/builds")
}

func TestResolve_Defaults(t *testing.T) {
	setJob(t)

	cfg, err := Resolve(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "12__34_56", cfg.Job.Name())
	assert.Equal(t, "/shared/builds", cfg.Job.BuildsDir)
	assert.False(t, cfg.KeepBuildDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1200*time.Second, cfg.StartTimeout)
	assert.Equal(t, 30*time.Second, cfg.StopTimeout)
	assert.Equal(t, 2, cfg.SystemFailureExitCode)
	assert.Equal(t, 1, cfg.BuildFailureExitCode)
	assert.Equal(t, 2*time.Hour, cfg.Resources.TimeLimit())
	assert.Equal(t, "slurm", cfg.Site.Scheduler)
	assert.Equal(t, "bash", cfg.Site.WorkerShell)
	assert.NoError(t, cfg.RequireJob())

	assert.Equal(t, []scheduler.Param{
		{Name: "time", Value: "00-02:00:00"},
		{Name: "comment", Value: "Automatic job created from CI"},
	}, cfg.Resources.Params())
}

func TestResolve_LocalOverridesPlain(t *testing.T) {
	setJob(t)
	t.Setenv("CUSTOM_ENV_CI_SLURM_PARTITION", "batch")
	t.Setenv("CUSTOM_ENV_LOCAL_CI_SLURM_PARTITION", "gpu")

	cfg, err := Resolve(viper.New())
	require.NoError(t, err)

	v, ok := cfg.Resources.Get("partition")
	assert.True(t, ok)
	assert.Equal(t, "gpu", v)
}

func TestResolve_EmptyLocalIsIgnored(t *testing.T) {
	setJob(t)
	t.Setenv("CUSTOM_ENV_CI_SLURM_PARTITION", "batch")
	t.Setenv("CUSTOM_ENV_LOCAL_CI_SLURM_PARTITION", "")

	cfg, err := Resolve(viper.New())
	require.NoError(t, err)

	v, _ := cfg.Resources.Get("partition")
	assert.Equal(t, "batch", v)
}

func TestResolve_SiteFileBelowEnvironment(t *testing.T) {
	setJob(t)
	t.Setenv("CUSTOM_ENV_CI_SLURM_QOS", "high")

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
scheduler:
  type: nomad
nomad:
  addr: http://nomad:4646
defaults:
  ci_slurm_account: research
  ci_slurm_qos: low
`)))

	cfg, err := Resolve(v)
	require.NoError(t, err)

	account, _ := cfg.Resources.Get("account")
	qos, _ := cfg.Resources.Get("qos")
	assert.Equal(t, "research", account)
	assert.Equal(t, "high", qos)
	assert.Equal(t, "nomad", cfg.Site.Scheduler)
	assert.Equal(t, "http://nomad:4646", cfg.Site.NomadAddr)
}

func TestResolve_Switches(t *testing.T) {
	testCases := []struct {
		value string
		want  bool
	}{
		{"yes", true},
		{"Y", true},
		{"true", true},
		{"1", true},
		{"no", false},
		{"0", false},
		{"on", false},
	}

	for _, tc := range testCases {
		t.Run(tc.value, func(t *testing.T) {
			setJob(t)
			t.Setenv("CUSTOM_ENV_CI_SLURM_EXCLUSIVE", tc.value)

			cfg, err := Resolve(viper.New())
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.Resources.Enabled("exclusive"))

			found := false
			for _, p := range cfg.Resources.Params() {
				if p.Name == "exclusive" {
					found = true
					assert.True(t, p.Switch)
				}
			}
			assert.Equal(t, tc.want, found)
		})
	}
}

func TestResolve_ParamsOrder(t *testing.T) {
	setJob(t)
	t.Setenv("CUSTOM_ENV_CI_SLURM_GPUS", "2")
	t.Setenv("CUSTOM_ENV_CI_SLURM_NNODES", "1-2")
	t.Setenv("CUSTOM_ENV_CI_SLURM_MEM_PER_NODE", "4G")
	t.Setenv("CUSTOM_ENV_CI_SLURM_CONTIGUOUS", "yes")

	cfg, err := Resolve(viper.New())
	require.NoError(t, err)

	var names []string
	for _, p := range cfg.Resources.Params() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"nodes", "mem", "time", "contiguous", "comment", "gpus"}, names)
}

func TestResolve_InvalidValues(t *testing.T) {
	testCases := []struct {
		env   string
		value string
	}{
		{"CUSTOM_ENV_CI_SLURM_TIMELIMIT", "2h"},
		{"CUSTOM_ENV_CI_SLURM_TIMELIMIT", "0-25:00:00"},
		{"CUSTOM_ENV_CI_SLURM_MEM_PER_NODE", "4GB"},
		{"CUSTOM_ENV_CI_SLURM_MEM_PER_CPU", "100"},
		{"CUSTOM_ENV_CI_SLURM_NNODES", "two"},
		{"CUSTOM_ENV_CI_SLURM_PRIORITY", "high"},
		{"CUSTOM_ENV_SLURM_JOB_START_TIMEOUT_SECONDS", "-1"},
	}

	for _, tc := range testCases {
		t.Run(tc.env+"="+tc.value, func(t *testing.T) {
			setJob(t)
			t.Setenv(tc.env, tc.value)

			_, err := Resolve(viper.New())
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.True(t, strings.HasSuffix(tc.env, cfgErr.Key), "key %s", cfgErr.Key)
			assert.Equal(t, tc.value, cfgErr.Value)
		})
	}
}

func TestResolve_UnknownScheduler(t *testing.T) {
	setJob(t)
	t.Setenv("SLURM_EXECUTOR_SCHEDULER_TYPE", "pbs")

	v := viper.New()
	_ = v.BindEnv(KeySchedulerType, "SLURM_EXECUTOR_SCHEDULER_TYPE")

	_, err := Resolve(v)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, KeySchedulerType, cfgErr.Key)
}

func TestRequireJob(t *testing.T) {
	t.Setenv("CUSTOM_ENV_CI_PROJECT_ID", "1")
	t.Setenv("CUSTOM_ENV_CI_PIPELINE_ID", "")
	t.Setenv("CUSTOM_ENV_CI_JOB_ID", "3")
	t.Setenv("CUSTOM_ENV_CI_BUILDS_DIR", "/b")

	cfg, err := Resolve(viper.New())
	require.NoError(t, err)

	err = cfg.RequireJob()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "CUSTOM_ENV_CI_PIPELINE_ID", cfgErr.Key)
}

func TestResolve_LogLevel(t *testing.T) {
	for in, want := range map[string]string{"debug": "debug", "NONE": "none", "info": "info", "trace": "info"} {
		t.Run(in, func(t *testing.T) {
			setJob(t)
			t.Setenv("CUSTOM_ENV_CI_LOG_LEVEL_SLURM_EXECUTOR", in)

			cfg, err := Resolve(viper.New())
			require.NoError(t, err)
			assert.Equal(t, want, cfg.LogLevel)
		})
	}
}

func TestParseTimeLimit(t *testing.T) {
	d, err := ParseTimeLimit("1-02:03:04")
	require.NoError(t, err)
	assert.Equal(t, 26*time.Hour+3*time.Minute+4*time.Second, d)

	_, err = ParseTimeLimit("02:00:00")
	assert.Error(t, err)
}

func TestIsTruthy(t *testing.T) {
	assert.True(t, IsTruthy(" YES "))
	assert.False(t, IsTruthy(""))
	assert.False(t, IsTruthy("nope"))
}
