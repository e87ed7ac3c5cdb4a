// Package worker implements the loop that runs inside the allocation,
// consuming step requests from the working directory.
package worker

type Phase string

const (
	PhaseWait        Phase = "wait"
	PhaseExecuting   Phase = "executing"
	PhaseTerminated  Phase = "terminated"
	PhaseFailed      Phase = "failed"
	PhaseIdleTimeout Phase = "idle_timeout"
)

// Action tells the loop runner what to do after an observation.
type Action int

const (
	ActionSleep Action = iota
	ActionExecute
	ActionStop
)

// Observation is what one tick saw in the working directory.
type Observation struct {
	ExitRequested bool
	Pending       []string // sorted
}

// State carries every loop counter. It is a value; transitions return a new
// State and never touch the filesystem.
type State struct {
	Phase      Phase
	Executions int
	IdleTicks  int
	Step       string
	ExitCode   int
}

func NewState() State {
	return State{Phase: PhaseWait}
}

func (s State) Terminal() bool {
	switch s.Phase {
	case PhaseTerminated, PhaseFailed, PhaseIdleTimeout:
		return true
	}
	return false
}

// Observe applies the checks at the start of a tick. The exit signal is
// checked before pending steps.
func (s State) Observe(o Observation) (State, Action) {
	if s.Terminal() {
		return s, ActionStop
	}
	if o.ExitRequested {
		s.Phase = PhaseTerminated
		return s, ActionStop
	}
	if len(o.Pending) > 0 {
		s.Phase = PhaseExecuting
		s.Step = o.Pending[0]
		return s, ActionExecute
	}
	return s, ActionSleep
}

// Finish records the exit status of the step being executed.
func (s State) Finish(code int) State {
	if s.Phase != PhaseExecuting {
		return s
	}
	s.Executions++
	if code != 0 {
		s.Phase = PhaseFailed
		s.ExitCode = code
		return s
	}
	s.Phase = PhaseWait
	s.Step = ""
	return s
}

// Tick counts one elapsed tick. Ticks only count toward the idle bound
// while no step has ever run; past limit the loop times out.
func (s State) Tick(limit int) State {
	if s.Phase != PhaseWait || s.Executions > 0 {
		return s
	}
	s.IdleTicks++
	if s.IdleTicks > limit {
		s.Phase = PhaseIdleTimeout
	}
	return s
}
