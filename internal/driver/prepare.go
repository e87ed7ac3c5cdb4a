package driver

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/lucasew/slurm-executor/internal/scheduler"
)

// Request builds the allocation request that runs the worker loop in the
// job working directory.
func (d *Driver) Request() scheduler.Request {
	dir := d.workDir()
	program := append([]string{}, d.program...)
	program = append(program, "worker", "--dir", dir, "--log-level", d.cfg.LogLevel)
	return scheduler.Request{
		Name:    d.cfg.Job.Name(),
		WorkDir: dir,
		Program: program,
		Params:  d.cfg.Resources.Params(),
		Stdout:  AllocationStdout,
		Stderr:  AllocationStderr,
	}
}

// Prepare submits the allocation and waits until it is running. Only the
// batch script and the state file are written; no step is published.
func (d *Driver) Prepare(ctx context.Context) (*Allocation, error) {
	dir := d.workDir()
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}

	req := d.Request()
	id, err := d.sched.Submit(ctx, req)
	if err != nil {
		return nil, &SchedulingError{Job: req.Name, Err: err}
	}

	alloc := &Allocation{
		ID:        id,
		Scheduler: d.cfg.Site.Scheduler,
		JobName:   req.Name,
		WorkDir:   dir,
		Submitted: d.clock.Now(),
		Log:       filepath.Join(dir, AllocationStdout),
	}
	logger := d.logger.With("id", id, "name", req.Name)
	logger.Info("allocation submitted", "log", alloc.Log)

	if err := d.saveState(alloc); err != nil {
		if cerr := d.sched.Cancel(ctx, id); cerr != nil {
			logger.Error("failed to cancel allocation", "error", cerr)
		}
		return nil, err
	}

	deadline := d.clock.Now().Add(d.cfg.StartTimeout)
	last := scheduler.StateSubmitted
	for {
		// Freshly submitted IDs may be unknown to accounting for a while,
		// so unknown and failed queries both count as pending.
		st, _ := d.queryState(ctx, id)
		if st != scheduler.StateUnknown && st != last {
			logger.Debug("allocation state", "state", st)
			last = st
		}
		switch {
		case st == scheduler.StateRunning:
			logger.Info("allocation running", "waited", d.clock.Now().Sub(alloc.Submitted))
			return alloc, nil
		case st.Terminal():
			return nil, &SchedulingError{Job: req.Name, ID: id, State: st,
				Err: fmt.Errorf("ended in state %s before running", st)}
		}

		if !d.clock.Now().Before(deadline) {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d.clock.Sleep(d.poll)
	}

	if err := d.channel().RaiseExit(); err != nil {
		logger.Warn("failed to raise exit signal", "error", err)
	}
	if err := d.sched.Cancel(ctx, id); err != nil {
		logger.Error("failed to cancel allocation", "error", err)
	}
	return nil, &StartTimeoutError{ID: id, Timeout: d.cfg.StartTimeout, Log: alloc.Log, LastState: last}
}
