// Package driver implements the host side of an executor job: the config,
// prepare, run and cleanup phases invoked by the CI runner. Each phase is
// a separate process; what one phase learns about the allocation is passed
// to the next through a state file in the working directory.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/lucasew/slurm-executor/internal/channel"
	"github.com/lucasew/slurm-executor/internal/clock"
	"github.com/lucasew/slurm-executor/internal/config"
	"github.com/lucasew/slurm-executor/internal/scheduler"
)

const (
	StateFileName    = ".slurm-executor.yaml"
	AllocationStdout = "stdout.log"
	AllocationStderr = "stderr.log"

	// CleanupFileVariablesStage is the last run stage of every job.
	CleanupFileVariablesStage = "cleanup_file_variables"

	DefaultPollInterval = time.Second

	// Scheduler queries cost far more than a directory listing and hit a
	// shared accounting daemon, so loss is noticed within ten polls instead
	// of one.
	DefaultStateEvery = 10
)

// Allocation is what prepare persists for the later phases.
type Allocation struct {
	ID        string    `yaml:"id"`
	Scheduler string    `yaml:"scheduler"`
	JobName   string    `yaml:"job_name"`
	WorkDir   string    `yaml:"work_dir"`
	Submitted time.Time `yaml:"submitted"`
	Log       string    `yaml:"log"`
}

type Driver struct {
	cfg        *config.Config
	sched      scheduler.Scheduler
	logger     *slog.Logger
	fs         afero.Fs
	clock      clock.Clock
	out        io.Writer
	poll       time.Duration
	stateEvery int
	program    []string
}

type Option func(*Driver)

func WithFs(fs afero.Fs) Option {
	return func(d *Driver) { d.fs = fs }
}

func WithClock(c clock.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithOutput sets where step logs and the config phase document go.
func WithOutput(w io.Writer) Option {
	return func(d *Driver) { d.out = w }
}

func WithPollInterval(p time.Duration) Option {
	return func(d *Driver) { d.poll = p }
}

// WithStateEvery sets how many acknowledgment polls happen between two
// scheduler queries while a step runs.
func WithStateEvery(n int) Option {
	return func(d *Driver) { d.stateEvery = n }
}

// WithProgram sets the argv prefix that starts this binary inside the
// allocation. The worker subcommand and its flags are appended.
func WithProgram(argv ...string) Option {
	return func(d *Driver) { d.program = argv }
}

func New(cfg *config.Config, sched scheduler.Scheduler, logger *slog.Logger, opts ...Option) *Driver {
	d := &Driver{
		cfg:        cfg,
		sched:      sched,
		logger:     logger,
		fs:         afero.NewOsFs(),
		clock:      clock.Real(),
		out:        os.Stdout,
		poll:       DefaultPollInterval,
		stateEvery: DefaultStateEvery,
		program:    []string{"slurm-executor"},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.stateEvery < 1 {
		d.stateEvery = 1
	}
	return d
}

func (d *Driver) workDir() string { return d.cfg.Job.BuildsDir }

func (d *Driver) channel() *channel.Channel {
	return channel.New(d.fs, d.workDir())
}

func (d *Driver) statePath() string {
	return filepath.Join(d.workDir(), StateFileName)
}

func (d *Driver) saveState(a *Allocation) error {
	data, err := yaml.Marshal(a)
	if err != nil {
		return err
	}
	if err := channel.WriteFile(d.fs, d.statePath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return d.channel().Barrier()
}

func (d *Driver) loadState() (*Allocation, error) {
	data, err := afero.ReadFile(d.fs, d.statePath())
	if err != nil {
		return nil, err
	}
	var a Allocation
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("malformed state file %s: %w", d.statePath(), err)
	}
	if a.ID == "" {
		return nil, fmt.Errorf("state file %s has no allocation id", d.statePath())
	}
	return &a, nil
}

// resolve finds the allocation of this job: from the state file when
// prepare left one, else by asking the scheduler for the job name.
func (d *Driver) resolve(ctx context.Context) (*Allocation, error) {
	a, err := d.loadState()
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("ignoring state file", "error", err)
	}

	name := d.cfg.Job.Name()
	id, err := d.sched.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("attached to allocation by name", "name", name, "id", id)
	return &Allocation{
		ID:        id,
		Scheduler: d.cfg.Site.Scheduler,
		JobName:   name,
		WorkDir:   d.workDir(),
		Log:       filepath.Join(d.workDir(), AllocationStdout),
	}, nil
}

// queryState asks the scheduler for the allocation state. Query errors are
// logged and reported as StateUnknown with ok set to false.
func (d *Driver) queryState(ctx context.Context, id string) (scheduler.State, bool) {
	st, err := d.sched.State(ctx, id)
	if err != nil {
		d.logger.Debug("state query failed", "id", id, "error", err)
		return scheduler.StateUnknown, false
	}
	return st, true
}
