package scheduler

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Lookup when no allocation carries the name.
var ErrNotFound = errors.New("allocation not found")

// Scheduler is the batch system the driver submits allocations to.
type Scheduler interface {
	// Submit requests an allocation running req.Program and returns its ID.
	// The ID may not be visible to State right away.
	Submit(ctx context.Context, req Request) (string, error)

	// State reports the current allocation state. Unknown IDs yield
	// StateUnknown, not an error.
	State(ctx context.Context, id string) (State, error)

	// Cancel forcefully terminates the allocation.
	Cancel(ctx context.Context, id string) error

	// Lookup returns the most recently submitted allocation with the given
	// name, or ErrNotFound.
	Lookup(ctx context.Context, name string) (string, error)
}

// Request describes an allocation to submit.
type Request struct {
	Name    string   // job name, unique per CI job
	WorkDir string   // working directory of the allocation
	Program []string // argv of the worker loop
	Params  []Param  // resource parameters, in submission order
	Stdout  string   // allocation stdout file, relative to WorkDir
	Stderr  string   // allocation stderr file, relative to WorkDir
}

// Param is one resource parameter. Switch parameters carry no value.
type Param struct {
	Name   string
	Value  string
	Switch bool
}

// String renders the parameter as a long command-line option.
func (p Param) String() string {
	if p.Switch {
		return "--" + p.Name
	}
	return "--" + p.Name + "=" + p.Value
}

// Param returns the value of the named parameter and whether it is set.
func (r Request) Param(name string) (string, bool) {
	for _, p := range r.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// State is the lifecycle state of an allocation as seen by the scheduler.
type State string

const (
	StateSubmitted State = "SUBMITTED"
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
	StateUnknown   State = "UNKNOWN"
)

// Active reports whether the allocation still holds or waits for resources.
func (s State) Active() bool {
	switch s {
	case StateSubmitted, StatePending, StateRunning:
		return true
	}
	return false
}

// Terminal reports whether the allocation has ended.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// ParseState maps a free-form state name (case-insensitive) to a State.
func ParseState(s string) State {
	switch State(strings.ToUpper(strings.TrimSpace(s))) {
	case StateSubmitted:
		return StateSubmitted
	case StatePending:
		return StatePending
	case StateRunning:
		return StateRunning
	case StateCompleted:
		return StateCompleted
	case StateFailed:
		return StateFailed
	case StateCancelled:
		return StateCancelled
	}
	return StateUnknown
}
