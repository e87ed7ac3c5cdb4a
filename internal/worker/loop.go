package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasew/slurm-executor/internal/channel"
	"github.com/lucasew/slurm-executor/internal/clock"
)

const (
	DefaultTick      = time.Second
	DefaultSettle    = time.Second
	DefaultIdleLimit = 600
)

type Config struct {
	Tick        time.Duration
	Settle      time.Duration // zero disables the settle delay
	IdleLimit   int
	MetricsPath string // empty disables the metrics file
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.Settle < 0 {
		c.Settle = 0
	}
	if c.IdleLimit <= 0 {
		c.IdleLimit = DefaultIdleLimit
	}
	return c
}

type Loop struct {
	ch      *channel.Channel
	exec    Executor
	clock   clock.Clock
	logger  *slog.Logger
	cfg     Config
	metrics *Metrics
}

func NewLoop(ch *channel.Channel, exec Executor, clk clock.Clock, logger *slog.Logger, cfg Config) *Loop {
	return &Loop{
		ch:      ch,
		exec:    exec,
		clock:   clk,
		logger:  logger,
		cfg:     cfg.withDefaults(),
		metrics: NewMetrics(),
	}
}

func (l *Loop) Metrics() *Metrics { return l.metrics }

// Run polls the working directory until the exit signal, a failed step or
// the idle bound ends the session. It returns nil on a graceful exit,
// *StepFailedError or *IdleTimeoutError otherwise.
func (l *Loop) Run(ctx context.Context) (State, error) {
	l.logger.Info("worker started", "dir", l.ch.Dir(), "tick", l.cfg.Tick, "idle_limit", l.cfg.IdleLimit)
	s := NewState()
	for {
		if err := ctx.Err(); err != nil {
			return s, err
		}

		obs := l.observe()
		next, action := s.Observe(obs)
		s = next

		switch action {
		case ActionStop:
			return s, l.finish(s)
		case ActionExecute:
			if len(obs.Pending) > 1 {
				l.logger.Warn("several pending steps, taking the first", "steps", obs.Pending)
			}
			s = l.execute(ctx, s)
			if s.Terminal() {
				return s, l.finish(s)
			}
		}

		l.clock.Sleep(l.cfg.Tick)
		s = s.Tick(l.cfg.IdleLimit)
		if s.Terminal() {
			return s, l.finish(s)
		}
	}
}

// observe lists the working directory. A directory that disappeared is
// treated as an exit request; other listing errors count as an empty tick.
func (l *Loop) observe() Observation {
	exists, err := l.ch.Exists()
	if err == nil && !exists {
		l.logger.Warn("working directory is gone, exiting", "dir", l.ch.Dir())
		return Observation{ExitRequested: true}
	}

	var obs Observation
	if obs.ExitRequested, err = l.ch.ExitRequested(); err != nil {
		l.logger.Warn("failed to check exit signal", "error", err)
		return Observation{}
	}
	if obs.ExitRequested {
		return obs
	}
	if obs.Pending, err = l.ch.PendingSteps(); err != nil {
		l.logger.Warn("failed to list pending steps", "error", err)
		return Observation{}
	}
	return obs
}

func (l *Loop) execute(ctx context.Context, s State) State {
	name := s.Step
	logger := l.logger.With("step", name)

	l.clock.Sleep(l.cfg.Settle)
	logger.Info("executing step")

	start := l.clock.Now()
	code := l.run(ctx, logger, name)
	elapsed := l.clock.Now().Sub(start)
	l.metrics.observeStep(code, elapsed.Seconds())

	s = s.Finish(code)
	if s.Phase == PhaseFailed {
		logger.Error("step failed", "exit_code", code, "duration", elapsed)
		if err := l.ch.MarkFailed(name, code); err != nil {
			logger.Error("failed to write failure marker", "error", err)
		}
		return s
	}

	if err := l.ch.Acknowledge(name); err != nil {
		// Without an acknowledgment the host would wait forever for this step.
		logger.Error("failed to acknowledge step", "error", err)
		s.Phase = PhaseFailed
		s.Step = name
		s.ExitCode = 1
		return s
	}
	logger.Info("step executed", "duration", elapsed)
	return s
}

// run executes the step with its log open and returns its exit status.
// Failures to start the step are reported as exit status 1.
func (l *Loop) run(ctx context.Context, logger *slog.Logger, name string) int {
	out, err := l.ch.CreateLog(name)
	if err != nil {
		logger.Error("failed to create step log", "error", err)
		return 1
	}
	code, err := l.exec.Execute(ctx, l.ch.StepPath(name), l.ch.Dir(), out)
	if err != nil {
		logger.Error("failed to start step", "error", err)
		_, _ = fmt.Fprintf(out, "failed to start step: %v\n", err)
		code = 1
	}
	if code < 0 {
		// killed by a signal
		code = 1
	}
	if err := out.Sync(); err != nil {
		logger.Warn("failed to sync step log", "error", err)
	}
	if err := out.Close(); err != nil {
		logger.Warn("failed to close step log", "error", err)
	}
	return code
}

func (l *Loop) finish(s State) error {
	l.metrics.observeEnd(s)
	if l.cfg.MetricsPath != "" {
		if err := l.metrics.WriteFile(l.cfg.MetricsPath); err != nil {
			l.logger.Warn("failed to write metrics", "path", l.cfg.MetricsPath, "error", err)
		}
	}
	l.logger.Info("worker finished", "phase", s.Phase, "executions", s.Executions, "idle_ticks", s.IdleTicks)

	switch s.Phase {
	case PhaseFailed:
		return &StepFailedError{Step: s.Step, ExitCode: s.ExitCode}
	case PhaseIdleTimeout:
		return &IdleTimeoutError{Ticks: s.IdleTicks}
	default:
		return nil
	}
}
