package config

// EnvPrefix is prepended by the runner to every job variable it passes
// to a custom executor. LocalPrefix marks a per-job override of a value
// usually set at project or group level.
const (
	EnvPrefix   = "CUSTOM_ENV_"
	LocalPrefix = "LOCAL_"
)

type kind int

const (
	kindString kind = iota
	kindBool
	kindInt
	kindTime
	kindMemory
	kindNodes
)

// resourceKey binds one allocation parameter to its job variable.
type resourceKey struct {
	param string // scheduler parameter name
	env   string // job variable, without prefixes
	def   string
	kind  kind
}

// resourceKeys is in submission order.
var resourceKeys = []resourceKey{
	{param: "nodes", env: "CI_SLURM_NNODES", kind: kindNodes},
	{param: "mem", env: "CI_SLURM_MEM_PER_NODE", kind: kindMemory},
	{param: "mem-bind", env: "CI_SLURM_MEM_BIND"},
	{param: "mem-per-cpu", env: "CI_SLURM_MEM_PER_CPU", kind: kindMemory},
	{param: "cpus-per-task", env: "CI_SLURM_CPUS_PER_TASK", kind: kindInt},
	{param: "ntasks", env: "CI_SLURM_NTASKS", kind: kindInt},
	{param: "time", env: "CI_SLURM_TIMELIMIT", def: "00-02:00:00", kind: kindTime},
	{param: "time-min", env: "CI_SLURM_TIME_MIN", kind: kindTime},
	{param: "exclusive", env: "CI_SLURM_EXCLUSIVE", def: "no", kind: kindBool},
	{param: "network", env: "CI_SLURM_NETWORK"},
	{param: "contiguous", env: "CI_SLURM_CONTIGUOUS", def: "no", kind: kindBool},
	{param: "partition", env: "CI_SLURM_PARTITION"},
	{param: "power", env: "CI_SLURM_POWER"},
	{param: "priority", env: "CI_SLURM_PRIORITY", kind: kindInt},
	{param: "nice", env: "CI_SLURM_NICE", kind: kindInt},
	{param: "comment", env: "CI_SLURM_COMMENT", def: "Automatic job created from CI"},
	{param: "account", env: "CI_SLURM_ACCOUNT"},
	{param: "qos", env: "CI_SLURM_QOS"},
	{param: "gpus", env: "CI_SLURM_GPUS"},
}

// Job variables that drive the executor itself.
const (
	envProjectID    = "CI_PROJECT_ID"
	envPipelineID   = "CI_PIPELINE_ID"
	envJobID        = "CI_JOB_ID"
	envBuildsDir    = "CI_BUILDS_DIR"
	envKeepBuildDir = "CI_KEEP_BUILD_DIR"
	envLogLevel     = "CI_LOG_LEVEL_SLURM_EXECUTOR"
	envStartTimeout = "SLURM_JOB_START_TIMEOUT_SECONDS"
	envStopTimeout  = "SLURM_JOB_STOP_TIMEOUT_SECONDS_BEFORE_CANCEL"

	// Set by the runner itself, without the job prefix.
	envSystemFailureExitCode = "SYSTEM_FAILURE_EXIT_CODE"
	envBuildFailureExitCode  = "BUILD_FAILURE_EXIT_CODE"
)

var driverDefaults = map[string]string{
	envKeepBuildDir:          "no",
	envLogLevel:              "info",
	envStartTimeout:          "1200",
	envStopTimeout:           "30",
	envSystemFailureExitCode: "2",
	envBuildFailureExitCode:  "1",
}

// Site keys come from the optional site file or SLURM_EXECUTOR_* variables.
const (
	KeySchedulerType = "scheduler.type"
	KeyNomadAddr     = "nomad.addr"
	KeyNomadRegion   = "nomad.region"
	KeySlurmBinDir   = "slurm.bin_dir"
	KeyWorkerShell   = "worker.shell"
)

var siteDefaults = map[string]string{
	KeySchedulerType: "slurm",
	KeyNomadRegion:   "global",
	KeyWorkerShell:   "bash",
}
