package driver

import (
	"bytes"
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasew/slurm-executor/internal/channel"
	"github.com/lucasew/slurm-executor/internal/clock"
	"github.com/lucasew/slurm-executor/internal/logging"
	"github.com/lucasew/slurm-executor/internal/scheduler"
	"github.com/lucasew/slurm-executor/internal/worker"
)

// localScheduler runs the worker loop in a goroutine instead of submitting
// anything, and reports it running until the loop returns.
type localScheduler struct {
	t       *testing.T
	dir     string
	running atomic.Bool
	done    chan error
}

func (s *localScheduler) Submit(ctx context.Context, req scheduler.Request) (string, error) {
	loop := worker.NewLoop(
		channel.New(afero.NewOsFs(), s.dir),
		worker.ShellExecutor{Shell: "sh"},
		clock.Real(),
		logging.NewNop(),
		worker.Config{Tick: 10 * time.Millisecond, IdleLimit: 1000},
	)
	s.running.Store(true)
	go func() {
		_, err := loop.Run(context.Background())
		s.running.Store(false)
		s.done <- err
	}()
	return "local-1", nil
}

func (s *localScheduler) State(ctx context.Context, id string) (scheduler.State, error) {
	if s.running.Load() {
		return scheduler.StateRunning, nil
	}
	return scheduler.StateCompleted, nil
}

func (s *localScheduler) Cancel(ctx context.Context, id string) error {
	s.t.Error("cancel should not be needed")
	return nil
}

func (s *localScheduler) Lookup(ctx context.Context, name string) (string, error) {
	return "local-1", nil
}

func TestEndToEnd(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "1__2_3")
	cfg := testConfig(t, dir, map[string]string{"CUSTOM_ENV_CI_KEEP_BUILD_DIR": "1"})
	sched := &localScheduler{t: t, dir: dir, done: make(chan error, 1)}
	var out bytes.Buffer
	d := New(cfg, sched, logging.NewNop(), WithOutput(&out), WithPollInterval(10*time.Millisecond))
	ctx := context.Background()

	_, err := d.Prepare(ctx)
	require.NoError(t, err)

	require.NoError(t, d.Run(ctx, "build", []byte("echo hi && touch done\n")))
	assert.Equal(t, "hi\n", out.String())
	assert.FileExists(t, filepath.Join(dir, "done"))
	assert.FileExists(t, filepath.Join(dir, "build.gitlab_ci_step_script.executed"))
	assert.NoFileExists(t, filepath.Join(dir, "build.gitlab_ci_step_script"))

	out.Reset()
	err = d.Run(ctx, "test", []byte("echo broken; exit 3\n"))
	var stepErr *StepExecutionError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 3, stepErr.ExitCode)
	assert.Equal(t, "broken\n", out.String())

	select {
	case err := <-sched.done:
		var failed *worker.StepFailedError
		assert.ErrorAs(t, err, &failed)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not exit after a failed step")
	}

	require.NoError(t, d.Cleanup(ctx))
	assert.FileExists(t, filepath.Join(dir, channel.ExitFileName))
}
