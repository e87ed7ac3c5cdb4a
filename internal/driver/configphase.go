package driver

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lucasew/slurm-executor/internal/version"
)

const DriverName = "slurm-executor"

// RunnerConfig is the document the runner reads from the config phase.
type RunnerConfig struct {
	BuildsDir         string            `json:"builds_dir"`
	CacheDir          string            `json:"cache_dir"`
	BuildsDirIsShared bool              `json:"builds_dir_is_shared"`
	Driver            DriverInfo        `json:"driver"`
	JobEnv            map[string]string `json:"job_env,omitempty"`
}

type DriverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ConfigPhase creates the per-job build and cache directories under the
// given roots and prints the runner configuration document.
func (d *Driver) ConfigPhase(buildsRoot, cacheRoot string) (*RunnerConfig, error) {
	name := d.cfg.Job.Name()
	buildsDir := filepath.Join(buildsRoot, name)
	cacheDir := filepath.Join(cacheRoot, name)
	for _, dir := range []string{buildsDir, cacheDir} {
		if err := d.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	params := d.cfg.Resources.Params()
	rendered := make([]string, len(params))
	for i, p := range params {
		rendered[i] = p.String()
	}

	rc := &RunnerConfig{
		BuildsDir: buildsDir + "/",
		CacheDir:  cacheDir + "/",
		Driver: DriverInfo{
			Name:    DriverName,
			Version: version.Get(),
		},
		JobEnv: map[string]string{
			"SLURM_EXECUTOR_JOB_NAME":  name,
			"SLURM_EXECUTOR_SCHEDULER": d.cfg.Site.Scheduler,
			"SLURM_EXECUTOR_PARAMS":    strings.Join(rendered, " "),
		},
	}

	enc := json.NewEncoder(d.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rc); err != nil {
		return nil, fmt.Errorf("failed to write runner config: %w", err)
	}
	d.logger.Debug("job directories ready", "builds_dir", buildsDir, "cache_dir", cacheDir)
	return rc, nil
}
