// Package config resolves the executor configuration from the job
// environment handed over by the CI runner.
//
// Every job variable K resolves to CUSTOM_ENV_LOCAL_K when set and
// non-empty, else CUSTOM_ENV_K when set and non-empty, else the value from
// the optional site file (under "defaults"), else the documented default.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lucasew/slurm-executor/internal/scheduler"
)

type Config struct {
	Job          Job
	Resources    Resources
	KeepBuildDir bool
	LogLevel     string
	StartTimeout time.Duration
	StopTimeout  time.Duration

	SystemFailureExitCode int
	BuildFailureExitCode  int

	Site Site
}

// Job identifies the CI job being executed.
type Job struct {
	ProjectID  string
	PipelineID string
	JobID      string
	BuildsDir  string
}

// Name is the allocation name, unique per CI job.
func (j Job) Name() string {
	return j.ProjectID + "__" + j.PipelineID + "_" + j.JobID
}

// Resources holds the resolved allocation parameters keyed by parameter
// name. Unset parameters are absent.
type Resources struct {
	values map[string]string
	flags  map[string]bool
}

// Get returns the value of a valued parameter.
func (r Resources) Get(param string) (string, bool) {
	v, ok := r.values[param]
	return v, ok
}

// Enabled reports whether a switch parameter is on.
func (r Resources) Enabled(param string) bool {
	return r.flags[param]
}

// Params returns the parameters in submission order.
func (r Resources) Params() []scheduler.Param {
	var params []scheduler.Param
	for _, k := range resourceKeys {
		if k.kind == kindBool {
			if r.flags[k.param] {
				params = append(params, scheduler.Param{Name: k.param, Switch: true})
			}
			continue
		}
		if v, ok := r.values[k.param]; ok {
			params = append(params, scheduler.Param{Name: k.param, Value: v})
		}
	}
	return params
}

// TimeLimit returns the resolved wall time of the allocation.
func (r Resources) TimeLimit() time.Duration {
	d, _ := ParseTimeLimit(r.values["time"])
	return d
}

// Site is the runner-host configuration, shared by every job.
type Site struct {
	Scheduler   string
	NomadAddr   string
	NomadRegion string
	SlurmBinDir string
	WorkerShell string
}

// Resolver reads configuration through a viper instance with every job
// variable bound to its LOCAL_ and plain names.
type Resolver struct {
	v *viper.Viper
}

// NewResolver binds the job variables and defaults on v. Site settings
// already loaded into v (file, flags, SLURM_EXECUTOR_* env) are kept.
func NewResolver(v *viper.Viper) *Resolver {
	for _, k := range resourceKeys {
		bindJobVar(v, k.env, k.def)
	}
	for _, env := range []string{envProjectID, envPipelineID, envJobID, envBuildsDir} {
		bindJobVar(v, env, "")
	}
	for _, env := range []string{envKeepBuildDir, envLogLevel, envStartTimeout, envStopTimeout} {
		bindJobVar(v, env, driverDefaults[env])
	}
	for _, env := range []string{envSystemFailureExitCode, envBuildFailureExitCode} {
		_ = v.BindEnv(runnerKey(env), env)
		v.SetDefault(runnerKey(env), driverDefaults[env])
	}
	for key, def := range siteDefaults {
		v.SetDefault(key, def)
	}
	return &Resolver{v: v}
}

// Resolve reads the configuration from the current process environment.
func Resolve(v *viper.Viper) (*Config, error) {
	return NewResolver(v).Resolve()
}

func (r *Resolver) Resolve() (*Config, error) {
	cfg := &Config{
		Job: Job{
			ProjectID:  r.get(envProjectID),
			PipelineID: r.get(envPipelineID),
			JobID:      r.get(envJobID),
			BuildsDir:  r.get(envBuildsDir),
		},
		Resources: Resources{
			values: map[string]string{},
			flags:  map[string]bool{},
		},
		KeepBuildDir: IsTruthy(r.get(envKeepBuildDir)),
		LogLevel:     ParseLogLevel(r.get(envLogLevel)),
		Site: Site{
			Scheduler:   strings.ToLower(r.v.GetString(KeySchedulerType)),
			NomadAddr:   r.v.GetString(KeyNomadAddr),
			NomadRegion: r.v.GetString(KeyNomadRegion),
			SlurmBinDir: r.v.GetString(KeySlurmBinDir),
			WorkerShell: r.v.GetString(KeyWorkerShell),
		},
	}

	for _, k := range resourceKeys {
		raw := strings.TrimSpace(r.get(k.env))
		if k.kind == kindBool {
			cfg.Resources.flags[k.param] = IsTruthy(raw)
			continue
		}
		if raw == "" {
			continue
		}
		if err := validate(k, raw); err != nil {
			return nil, err
		}
		cfg.Resources.values[k.param] = raw
	}

	var err error
	if cfg.StartTimeout, err = r.seconds(envStartTimeout); err != nil {
		return nil, err
	}
	if cfg.StopTimeout, err = r.seconds(envStopTimeout); err != nil {
		return nil, err
	}
	if cfg.SystemFailureExitCode, err = r.exitCode(envSystemFailureExitCode); err != nil {
		return nil, err
	}
	if cfg.BuildFailureExitCode, err = r.exitCode(envBuildFailureExitCode); err != nil {
		return nil, err
	}

	switch cfg.Site.Scheduler {
	case "slurm", "nomad":
	default:
		return nil, &ConfigError{Key: KeySchedulerType, Value: cfg.Site.Scheduler, Reason: "expected slurm or nomad"}
	}
	return cfg, nil
}

// RequireJob checks that the job identity needed by prepare, run and
// cleanup is present.
func (c *Config) RequireJob() error {
	required := []struct{ env, value string }{
		{envProjectID, c.Job.ProjectID},
		{envPipelineID, c.Job.PipelineID},
		{envJobID, c.Job.JobID},
		{envBuildsDir, c.Job.BuildsDir},
	}
	for _, r := range required {
		if r.value == "" {
			return &ConfigError{Key: EnvPrefix + r.env, Reason: "must be set"}
		}
	}
	return nil
}

func (r *Resolver) get(env string) string {
	return r.v.GetString(jobKey(env))
}

func (r *Resolver) seconds(env string) (time.Duration, error) {
	raw := strings.TrimSpace(r.get(env))
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &ConfigError{Key: env, Value: raw, Reason: "expected a non-negative number of seconds"}
	}
	return time.Duration(n) * time.Second, nil
}

func (r *Resolver) exitCode(env string) (int, error) {
	raw := strings.TrimSpace(r.v.GetString(runnerKey(env)))
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 255 {
		return 0, &ConfigError{Key: env, Value: raw, Reason: "expected an exit code between 1 and 255"}
	}
	return n, nil
}

// bindJobVar binds the viper key for env to the LOCAL_ override first and
// the plain name second. Viper skips empty variables, so an empty override
// falls through to the next source.
func bindJobVar(v *viper.Viper, env, def string) {
	key := jobKey(env)
	_ = v.BindEnv(key, EnvPrefix+LocalPrefix+env, EnvPrefix+env)
	if def != "" {
		v.SetDefault(key, def)
	}
}

func jobKey(env string) string    { return "defaults." + strings.ToLower(env) }
func runnerKey(env string) string { return "runner." + strings.ToLower(env) }

var (
	timePattern   = regexp.MustCompile(`^([0-9]+)-([0-9]{1,2}):([0-9]{2}):([0-9]{2})$`)
	memoryPattern = regexp.MustCompile(`^[0-9]+[KMGTkmgt]$`)
	nodesPattern  = regexp.MustCompile(`^[0-9]+(-[0-9]+)?$`)
)

func validate(k resourceKey, raw string) error {
	switch k.kind {
	case kindTime:
		if _, err := ParseTimeLimit(raw); err != nil {
			return &ConfigError{Key: k.env, Value: raw, Reason: "expected days-hours:minutes:seconds"}
		}
	case kindMemory:
		if !memoryPattern.MatchString(raw) {
			return &ConfigError{Key: k.env, Value: raw, Reason: "expected <integer><unit> with unit K, M, G or T"}
		}
	case kindInt:
		if _, err := strconv.Atoi(raw); err != nil {
			return &ConfigError{Key: k.env, Value: raw, Reason: "expected an integer"}
		}
	case kindNodes:
		if !nodesPattern.MatchString(raw) {
			return &ConfigError{Key: k.env, Value: raw, Reason: "expected a node count or min-max range"}
		}
	}
	return nil
}

// ParseTimeLimit parses days-hours:minutes:seconds.
func ParseTimeLimit(s string) (time.Duration, error) {
	m := timePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid time limit %q", s)
	}
	days, _ := strconv.Atoi(m[1])
	hours, _ := strconv.Atoi(m[2])
	minutes, _ := strconv.Atoi(m[3])
	seconds, _ := strconv.Atoi(m[4])
	if hours > 23 || minutes > 59 || seconds > 59 {
		return 0, fmt.Errorf("invalid time limit %q", s)
	}
	return time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second, nil
}

// IsTruthy reports whether s is one of yes, y, true or 1, ignoring case
// and surrounding spaces.
func IsTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "1":
		return true
	}
	return false
}

// ParseLogLevel normalizes the executor log level; unknown values mean info.
func ParseLogLevel(s string) string {
	switch l := strings.ToLower(strings.TrimSpace(s)); l {
	case "debug", "none":
		return l
	}
	return "info"
}
