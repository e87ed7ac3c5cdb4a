package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/lucasew/slurm-executor/internal/channel"
	"github.com/lucasew/slurm-executor/internal/scheduler"
)

// Run dispatches one step to the worker and waits for its outcome while
// streaming its log to the output. The cleanup_file_variables stage also
// stops the allocation and removes the working directory afterwards.
func (d *Driver) Run(ctx context.Context, step string, script []byte) error {
	alloc, err := d.resolve(ctx)
	if err != nil {
		return &StepExecutionError{Step: step, Lost: true, Err: fmt.Errorf("no allocation for job %s: %w", d.cfg.Job.Name(), err)}
	}

	runErr := d.runStep(ctx, alloc, step, script)
	if step != CleanupFileVariablesStage {
		return runErr
	}

	if err := d.stop(ctx, alloc); err != nil {
		d.logger.Warn("stopping allocation", "error", err)
	}
	if err := d.removeWorkDir(); err != nil {
		d.logger.Warn("failed to remove working directory", "error", err)
	}
	return runErr
}

func (d *Driver) runStep(ctx context.Context, alloc *Allocation, step string, script []byte) error {
	logger := d.logger.With("id", alloc.ID, "step", step)

	if err := d.awaitRunning(ctx, alloc.ID); err != nil {
		var lost *StepExecutionError
		if errors.As(err, &lost) {
			lost.Step = step
		}
		return err
	}

	ch := d.channel()
	if err := ch.Publish(step, script); err != nil {
		return err
	}
	logger.Info("step published", "log", ch.LogPath(step))

	// The worker may hold the step for as long as the allocation lives.
	bound := d.cfg.Resources.TimeLimit() + d.cfg.StopTimeout
	deadline := d.clock.Now().Add(bound)
	follow := ch.Follow(step)

	for polls := 1; ; polls++ {
		status, code, err := ch.Status(step)
		if err != nil {
			logger.Warn("failed to read step status", "error", err)
		}
		d.drain(follow)

		switch status {
		case channel.StatusExecuted:
			logger.Info("step executed")
			return nil
		case channel.StatusFailed:
			logger.Info("step failed", "exit_code", code)
			return &StepExecutionError{Step: step, ExitCode: code}
		}

		if polls%d.stateEvery == 0 {
			if st, ok := d.queryState(ctx, alloc.ID); ok && st.Terminal() {
				return d.lost(ch, follow, step, st, nil)
			}
		}
		if !d.clock.Now().Before(deadline) {
			return d.lost(ch, follow, step, scheduler.StateUnknown,
				fmt.Errorf("no acknowledgment within %s", bound))
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		d.clock.Sleep(d.poll)
	}
}

// awaitRunning confirms the allocation runs before a step is published.
// Only a terminal state ends it early; failed queries and states other than
// RUNNING are retried every poll for up to StopTimeout.
func (d *Driver) awaitRunning(ctx context.Context, id string) error {
	deadline := d.clock.Now().Add(d.cfg.StopTimeout)
	for {
		st, ok := d.queryState(ctx, id)
		switch {
		case ok && st == scheduler.StateRunning:
			return nil
		case ok && st.Terminal():
			return &StepExecutionError{Lost: true, State: st, Err: errors.New("allocation is not running")}
		}
		if !d.clock.Now().Before(deadline) {
			return &StepExecutionError{Lost: true, State: st,
				Err: fmt.Errorf("allocation not seen running within %s", d.cfg.StopTimeout)}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		d.logger.Debug("allocation state inconclusive, retrying", "id", id, "state", st)
		d.clock.Sleep(d.poll)
	}
}

// lost takes a last look at the channel, since the acknowledgment may have
// landed between the previous poll and the allocation ending.
func (d *Driver) lost(ch *channel.Channel, follow *channel.LogFollower, step string, st scheduler.State, cause error) error {
	status, code, _ := ch.Status(step)
	d.drain(follow)
	switch status {
	case channel.StatusExecuted:
		return nil
	case channel.StatusFailed:
		return &StepExecutionError{Step: step, ExitCode: code}
	}
	return &StepExecutionError{Step: step, Lost: true, State: st, Err: cause}
}

func (d *Driver) drain(f *channel.LogFollower) {
	if _, err := f.Drain(d.out); err != nil {
		d.logger.Warn("failed to stream step log", "error", err)
	}
}
