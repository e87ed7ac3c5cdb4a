package nomad

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasew/slurm-executor/internal/scheduler"
)

func newTestScheduler(t *testing.T, handler http.HandlerFunc) *NomadScheduler {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := NewNomadScheduler(srv.URL, "global")
	require.NoError(t, err)
	return s
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestStateUsesNewestAllocation(t *testing.T) {
	s := newTestScheduler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/job/42__100_7/allocations", r.URL.Path)
		writeJSON(w, []map[string]interface{}{
			{"ID": "a1", "ClientStatus": "failed", "CreateIndex": 10},
			{"ID": "a2", "ClientStatus": "running", "CreateIndex": 20},
		})
	})

	state, err := s.State(context.Background(), "42__100_7")
	require.NoError(t, err)
	assert.Equal(t, scheduler.StateRunning, state)
}

func TestStateUnknownJob(t *testing.T) {
	s := newTestScheduler(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "job not found", http.StatusNotFound)
	})

	state, err := s.State(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, scheduler.StateUnknown, state)
}

func TestStateNoAllocationIsPending(t *testing.T) {
	s := newTestScheduler(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/job/42__100_7/allocations":
			writeJSON(w, []interface{}{})
		case "/v1/job/42__100_7":
			writeJSON(w, map[string]interface{}{"ID": "42__100_7", "Status": "pending"})
		default:
			http.NotFound(w, r)
		}
	})

	state, err := s.State(context.Background(), "42__100_7")
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatePending, state)
}

func TestBuildJobMapsResources(t *testing.T) {
	s, err := NewNomadScheduler("http://127.0.0.1:4646", "global")
	require.NoError(t, err)

	job, err := s.buildJob(scheduler.Request{
		Name:    "42__100_7",
		WorkDir: "/builds/42__100_7",
		Program: []string{"/opt/slurm-executor", "worker", "--dir", "/builds/42__100_7"},
		Params: []scheduler.Param{
			{Name: "partition", Value: "dc1"},
			{Name: "cpus-per-task", Value: "4"},
			{Name: "mem", Value: "2G"},
			{Name: "exclusive", Switch: true},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"dc1"}, job.Datacenters)
	require.Len(t, job.TaskGroups, 1)
	require.Len(t, job.TaskGroups[0].Tasks, 1)
	task := job.TaskGroups[0].Tasks[0]
	assert.Equal(t, "raw_exec", task.Driver)
	assert.Equal(t, "/opt/slurm-executor", task.Config["command"])
	assert.Equal(t, 4, *task.Resources.Cores)
	assert.Equal(t, 2048, *task.Resources.MemoryMB)
	assert.Equal(t, "2G", job.Meta["param_mem"])
}

func TestMemoryMB(t *testing.T) {
	testCases := map[string]int{"512M": 512, "2G": 2048, "2048K": 2, "1T": 1024 * 1024}
	for spec, want := range testCases {
		got, err := memoryMB(spec)
		require.NoError(t, err, spec)
		assert.Equal(t, want, got, spec)
	}

	_, err := memoryMB("lots")
	assert.Error(t, err)
}
