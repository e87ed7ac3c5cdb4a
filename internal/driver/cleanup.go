package driver

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/lucasew/slurm-executor/internal/scheduler"
)

// Cleanup asks the worker to exit, cancels the allocation if it does not
// stop in time and removes the working directory unless it must be kept.
// It is safe to call any number of times, including when no allocation
// exists.
func (d *Driver) Cleanup(ctx context.Context) error {
	var errs []error

	alloc, err := d.resolve(ctx)
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		d.logger.Info("no allocation to stop", "name", d.cfg.Job.Name())
		if err := d.raiseExit(); err != nil {
			errs = append(errs, err)
		}
	case err != nil:
		errs = append(errs, fmt.Errorf("failed to find allocation: %w", err))
	default:
		if err := d.stop(ctx, alloc); err != nil {
			errs = append(errs, err)
		}
	}

	if err := d.removeWorkDir(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// stop raises the exit signal and waits for the allocation to leave the
// active states. Past the stop timeout the allocation is cancelled.
func (d *Driver) stop(ctx context.Context, alloc *Allocation) error {
	logger := d.logger.With("id", alloc.ID)
	if err := d.raiseExit(); err != nil {
		logger.Warn("failed to raise exit signal", "error", err)
	}

	deadline := d.clock.Now().Add(d.cfg.StopTimeout)
	for {
		// A failed query says nothing, so keep waiting; a scheduler that
		// no longer knows the allocation means it is gone.
		st, ok := d.queryState(ctx, alloc.ID)
		if ok && !st.Active() {
			logger.Info("allocation stopped", "state", st)
			return nil
		}
		if !d.clock.Now().Before(deadline) {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		d.clock.Sleep(d.poll)
	}

	timeout := &StopTimeoutError{ID: alloc.ID, Timeout: d.cfg.StopTimeout}
	logger.Warn("allocation did not stop, cancelling", "timeout", d.cfg.StopTimeout)
	if err := d.sched.Cancel(ctx, alloc.ID); err != nil {
		return errors.Join(timeout, fmt.Errorf("failed to cancel allocation %s: %w", alloc.ID, err))
	}
	return timeout
}

// raiseExit writes the exit signal when the working directory still exists.
func (d *Driver) raiseExit() error {
	ch := d.channel()
	ok, err := ch.Exists()
	if err != nil || !ok {
		return err
	}
	return ch.RaiseExit()
}

func (d *Driver) removeWorkDir() error {
	if d.cfg.KeepBuildDir {
		d.logger.Info("keeping working directory", "dir", d.workDir())
		return nil
	}
	if err := d.fs.RemoveAll(d.workDir()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", d.workDir(), err)
	}
	return nil
}
