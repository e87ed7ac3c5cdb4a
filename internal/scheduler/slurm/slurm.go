// Package slurm implements scheduler.Scheduler on top of the Slurm client
// commands sbatch, sacct and scancel.
package slurm

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/lucasew/slurm-executor/internal/scheduler"
)

// BatchFileName is the batch script written into the working directory.
const BatchFileName = "config.sbatch"

// Scheduler submits allocations with sbatch and observes them with sacct.
type Scheduler struct {
	cmd Commander
	fs  afero.Fs
}

// New returns a Scheduler. fs is where batch scripts are written; it must
// be the filesystem sbatch reads from, so production passes afero.NewOsFs.
func New(cmd Commander, fs afero.Fs) *Scheduler {
	return &Scheduler{cmd: cmd, fs: fs}
}

func (s *Scheduler) Submit(ctx context.Context, req scheduler.Request) (string, error) {
	path := filepath.Join(req.WorkDir, BatchFileName)
	if err := afero.WriteFile(s.fs, path, []byte(BatchScript(req)), 0o755); err != nil {
		return "", fmt.Errorf("write batch script: %w", err)
	}

	out, err := s.cmd.Run(ctx, "sbatch", "--parsable", path)
	if err != nil {
		return "", fmt.Errorf("sbatch: %w", err)
	}

	// --parsable prints "<id>" or "<id>;<cluster>"
	id := strings.TrimSpace(strings.SplitN(firstLine(out), ";", 2)[0])
	if id == "" {
		return "", fmt.Errorf("sbatch returned no job id")
	}
	return id, nil
}

func (s *Scheduler) State(ctx context.Context, id string) (scheduler.State, error) {
	out, err := s.cmd.Run(ctx, "sacct", "--jobs", id, "--noheader", "-P", "--format=JobID,JobName,State")
	if err != nil {
		return scheduler.StateUnknown, fmt.Errorf("sacct: %w", err)
	}

	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "|")
		if len(fields) < 3 || fields[0] != id {
			continue
		}
		return ParseState(fields[2]), nil
	}
	// Not yet propagated to accounting.
	return scheduler.StateUnknown, nil
}

func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	if _, err := s.cmd.Run(ctx, "scancel", id); err != nil {
		return fmt.Errorf("scancel: %w", err)
	}
	return nil
}

func (s *Scheduler) Lookup(ctx context.Context, name string) (string, error) {
	out, err := s.cmd.Run(ctx, "sacct", "--name", name, "--noheader", "-P", "--format=JobID,JobName,Submit")
	if err != nil {
		return "", fmt.Errorf("sacct: %w", err)
	}

	var id, submitted string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "|")
		if len(fields) < 3 || fields[1] != name || strings.Contains(fields[0], ".") {
			continue
		}
		// Submit is YYYY-MM-DDTHH:MM:SS, so string order is time order.
		if id == "" || fields[2] > submitted {
			id, submitted = fields[0], fields[2]
		}
	}
	if id == "" {
		return "", scheduler.ErrNotFound
	}
	return id, nil
}

// ParseState maps a sacct state, long or short form, to a scheduler.State.
// Trailing detail such as "CANCELLED by 1000" is ignored.
func ParseState(raw string) scheduler.State {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return scheduler.StateUnknown
	}
	code := strings.TrimSuffix(strings.ToUpper(fields[0]), "+")
	switch code {
	case "PD", "REQUEUED", "RQ", "SUSPENDED", "S", "REQUEUE_HOLD", "REQUEUE_FED":
		return scheduler.StatePending
	case "R", "RESIZING", "RS", "COMPLETING", "CG":
		return scheduler.StateRunning
	case "CD":
		return scheduler.StateCompleted
	case "CA":
		return scheduler.StateCancelled
	case "F", "BOOT_FAIL", "BF", "DEADLINE", "DL", "NODE_FAIL", "NF",
		"OUT_OF_MEMORY", "OOM", "PREEMPTED", "PR", "REVOKED", "RV", "TIMEOUT", "TO":
		return scheduler.StateFailed
	}
	return scheduler.ParseState(code)
}

func firstLine(s string) string {
	return strings.SplitN(strings.TrimSpace(s), "\n", 2)[0]
}
