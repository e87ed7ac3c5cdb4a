package driver

import (
	"fmt"
	"time"

	"github.com/lucasew/slurm-executor/internal/scheduler"
)

// SchedulingError means the scheduler rejected the allocation or ended it
// before it ever ran.
type SchedulingError struct {
	Job   string
	ID    string
	State scheduler.State
	Err   error
}

func (e *SchedulingError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("allocation %s for job %s: %v", e.ID, e.Job, e.Err)
	}
	return fmt.Sprintf("failed to submit allocation for job %s: %v", e.Job, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

// StartTimeoutError means the allocation never reached RUNNING in time.
// Log is where the allocation will write its output if it ever starts.
type StartTimeoutError struct {
	ID        string
	Timeout   time.Duration
	Log       string
	LastState scheduler.State
}

func (e *StartTimeoutError) Error() string {
	return fmt.Sprintf("allocation %s not running after %s (last state %s), allocation log: %s",
		e.ID, e.Timeout, e.LastState, e.Log)
}

// StepExecutionError means a step did not succeed. Lost is set when the
// allocation went away without acknowledging the step; otherwise ExitCode
// is the exit status of the step itself.
type StepExecutionError struct {
	Step     string
	ExitCode int
	Lost     bool
	State    scheduler.State
	Err      error
}

func (e *StepExecutionError) Error() string {
	if e.Lost {
		msg := fmt.Sprintf("allocation lost while running step %s", e.Step)
		if e.State != "" {
			msg += fmt.Sprintf(" (state %s)", e.State)
		}
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	}
	return fmt.Sprintf("step %s failed with exit code %d", e.Step, e.ExitCode)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

// StopTimeoutError means the worker did not exit after the exit signal and
// the allocation was cancelled.
type StopTimeoutError struct {
	ID      string
	Timeout time.Duration
}

func (e *StopTimeoutError) Error() string {
	return fmt.Sprintf("allocation %s still active %s after exit signal, cancelled", e.ID, e.Timeout)
}
