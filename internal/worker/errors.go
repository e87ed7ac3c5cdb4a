package worker

import "fmt"

// IdleTimeoutError means no step ever arrived. The allocation was most
// likely orphaned by a job that no longer exists.
type IdleTimeoutError struct {
	Ticks int
}

func (e *IdleTimeoutError) Error() string {
	return fmt.Sprintf("no step received after %d ticks", e.Ticks)
}

// StepFailedError means a step exited non-zero and the session ended.
type StepFailedError struct {
	Step     string
	ExitCode int
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %s failed with exit code %d", e.Step, e.ExitCode)
}

// Worker process exit codes.
const (
	ExitTerminated  = 0
	ExitStepFailed  = 1
	ExitIdleTimeout = 3
)
