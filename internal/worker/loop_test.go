package worker

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lucasew/slurm-executor/internal/channel"
	"github.com/lucasew/slurm-executor/internal/clock"
	"github.com/lucasew/slurm-executor/internal/logging"
)

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, script, dir string, out io.Writer) (int, error) {
	args := m.Called(ctx, script, dir, out)
	return args.Int(0), args.Error(1)
}

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestLoop(t *testing.T, exec Executor) (*Loop, *channel.Channel, *clock.FakeClock) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/work", 0o755))
	ch := channel.New(fs, "/work")
	clk := clock.Fake(start)
	return NewLoop(ch, exec, clk, logging.NewNop(), Config{}), ch, clk
}

func TestLoop_IdleTimeout(t *testing.T) {
	exec := new(MockExecutor)
	loop, ch, clk := newTestLoop(t, exec)

	s, err := loop.Run(context.Background())

	var idle *IdleTimeoutError
	require.ErrorAs(t, err, &idle)
	assert.Equal(t, 601, idle.Ticks)
	assert.Equal(t, PhaseIdleTimeout, s.Phase)
	assert.Equal(t, 601, clk.Sleeps())
	assert.Equal(t, start.Add(601*time.Second), clk.Now())

	entries, err := afero.ReadDir(ch.Fs(), "/work")
	require.NoError(t, err)
	assert.Empty(t, entries, "no acknowledgment exists")
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLoop_StepFailureEndsSession(t *testing.T) {
	exec := new(MockExecutor)
	loop, ch, clk := newTestLoop(t, exec)
	require.NoError(t, ch.Publish("build", []byte("exit 3")))
	exec.On("Execute", mock.Anything, "/work/build.gitlab_ci_step_script", "/work", mock.Anything).Return(3, nil).Once()

	// A second request appearing later must never be consumed.
	clk.OnSleep(func(time.Time) {
		_ = afero.WriteFile(ch.Fs(), ch.StepPath("test"), []byte("true"), 0o755)
	})

	s, err := loop.Run(context.Background())

	var failed *StepFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "build", failed.Step)
	assert.Equal(t, 3, failed.ExitCode)
	assert.Equal(t, 1, s.Executions)
	exec.AssertNumberOfCalls(t, "Execute", 1)

	st, code, err := ch.Status("build")
	require.NoError(t, err)
	assert.Equal(t, channel.StatusFailed, st)
	assert.Equal(t, 3, code)

	exists, _ := afero.Exists(ch.Fs(), ch.StepPath("build"))
	assert.True(t, exists, "failed request is preserved")
}

func TestLoop_ExitBeatsStep(t *testing.T) {
	exec := new(MockExecutor)
	loop, ch, _ := newTestLoop(t, exec)
	require.NoError(t, ch.Publish("build", []byte("true")))
	require.NoError(t, ch.RaiseExit())

	s, err := loop.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, PhaseTerminated, s.Phase)
	assert.Zero(t, s.Executions)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	exists, _ := afero.Exists(ch.Fs(), ch.StepPath("build"))
	assert.True(t, exists)
}

func TestLoop_AcknowledgesThenExits(t *testing.T) {
	exec := new(MockExecutor)
	loop, ch, clk := newTestLoop(t, exec)
	require.NoError(t, ch.Publish("build", []byte("echo hi")))
	exec.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			_, _ = args.Get(3).(io.Writer).Write([]byte("hi\n"))
		}).
		Return(0, nil).Once()

	clk.OnSleep(func(time.Time) {
		if st, _, _ := ch.Status("build"); st == channel.StatusExecuted {
			_ = ch.RaiseExit()
		}
	})

	s, err := loop.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, PhaseTerminated, s.Phase)
	assert.Equal(t, 1, s.Executions)

	log, err := afero.ReadFile(ch.Fs(), ch.LogPath("build"))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(log))

	pending, err := ch.PendingSteps()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLoop_StartFailureCountsAsFailedStep(t *testing.T) {
	exec := new(MockExecutor)
	loop, ch, _ := newTestLoop(t, exec)
	require.NoError(t, ch.Publish("build", []byte("true")))
	exec.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(-1, errors.New("no such shell")).Once()

	_, err := loop.Run(context.Background())

	var failed *StepFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, failed.ExitCode)
}

func TestLoop_DirectoryRemoved(t *testing.T) {
	exec := new(MockExecutor)
	loop, ch, clk := newTestLoop(t, exec)
	clk.OnSleep(func(time.Time) {
		_ = ch.Fs().RemoveAll("/work")
	})

	s, err := loop.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, PhaseTerminated, s.Phase)
	assert.Equal(t, 1, clk.Sleeps())
}

func TestLoop_ContextCancelled(t *testing.T) {
	loop, _, _ := newTestLoop(t, new(MockExecutor))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoop_WritesMetrics(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/work", 0o755))
	path := filepath.Join(t.TempDir(), "worker.prom")
	loop := NewLoop(channel.New(fs, "/work"), new(MockExecutor), clock.Fake(start), logging.NewNop(), Config{IdleLimit: 2, MetricsPath: path})

	_, err := loop.Run(context.Background())
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `slurm_executor_worker_outcome{phase="idle_timeout"} 1`)
	assert.Contains(t, string(data), "slurm_executor_worker_idle_ticks 3")
}

func TestLoop_EndToEndShell(t *testing.T) {
	dir := t.TempDir()
	ch := channel.New(afero.NewOsFs(), dir)
	loop := NewLoop(ch, ShellExecutor{Shell: "sh"}, clock.Real(), logging.NewNop(), Config{
		Tick:      10 * time.Millisecond,
		IdleLimit: 1000,
	})
	require.NoError(t, ch.Publish("build", []byte("echo hi && touch done\n")))

	type result struct {
		s   State
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := loop.Run(context.Background())
		done <- result{s, err}
	}()

	require.Eventually(t, func() bool {
		st, _, err := ch.Status("build")
		return err == nil && st == channel.StatusExecuted
	}, 10*time.Second, 10*time.Millisecond)
	require.NoError(t, ch.RaiseExit())

	var r result
	select {
	case r = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not exit")
	}
	require.NoError(t, r.err)
	assert.Equal(t, 1, r.s.Executions)

	assert.FileExists(t, filepath.Join(dir, "done"))
	assert.FileExists(t, filepath.Join(dir, "build.gitlab_ci_step_script.executed"))
	assert.NoFileExists(t, filepath.Join(dir, "build.gitlab_ci_step_script"))

	log, err := os.ReadFile(filepath.Join(dir, "build.gitlab_ci_step_script.log"))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(log))
}
