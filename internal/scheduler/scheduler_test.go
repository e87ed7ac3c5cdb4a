package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateClassification(t *testing.T) {
	testCases := []struct {
		state    State
		active   bool
		terminal bool
	}{
		{StateSubmitted, true, false},
		{StatePending, true, false},
		{StateRunning, true, false},
		{StateCompleted, false, true},
		{StateFailed, false, true},
		{StateCancelled, false, true},
		{StateUnknown, false, false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.state), func(t *testing.T) {
			assert.Equal(t, tc.active, tc.state.Active())
			assert.Equal(t, tc.terminal, tc.state.Terminal())
		})
	}
}

func TestParseState(t *testing.T) {
	assert.Equal(t, StateRunning, ParseState(" running "))
	assert.Equal(t, StateCancelled, ParseState("CANCELLED"))
	assert.Equal(t, StateUnknown, ParseState("SUSPENDED"))
	assert.Equal(t, StateUnknown, ParseState(""))
}

func TestRequestParam(t *testing.T) {
	req := Request{Params: []Param{
		{Name: "partition", Value: "gpu"},
		{Name: "exclusive", Switch: true},
	}}

	v, ok := req.Param("partition")
	assert.True(t, ok)
	assert.Equal(t, "gpu", v)

	_, ok = req.Param("exclusive")
	assert.True(t, ok)

	_, ok = req.Param("qos")
	assert.False(t, ok)
}

func TestParamString(t *testing.T) {
	assert.Equal(t, "--partition=gpu", Param{Name: "partition", Value: "gpu"}.String())
	assert.Equal(t, "--exclusive", Param{Name: "exclusive", Switch: true}.String())
}
