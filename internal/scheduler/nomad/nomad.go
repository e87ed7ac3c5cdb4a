// Package nomad implements scheduler.Scheduler with Nomad batch jobs. The
// worker loop runs as a raw_exec task, so the Nomad clients must mount the
// same shared filesystem as the CI runner host.
package nomad

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/nomad/api"

	"github.com/lucasew/slurm-executor/internal/scheduler"
)

type NomadScheduler struct {
	client *api.Client
	region string
}

func NewNomadScheduler(addr string, region string) (*NomadScheduler, error) {
	config := api.DefaultConfig()
	if addr != "" {
		config.Address = addr
	}
	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("create nomad client: %w", err)
	}

	return &NomadScheduler{
		client: client,
		region: region,
	}, nil
}

// Submit registers a batch job named after the request. The job ID is the
// request name, so Lookup is the identity once the job exists.
func (n *NomadScheduler) Submit(ctx context.Context, req scheduler.Request) (string, error) {
	job, err := n.buildJob(req)
	if err != nil {
		return "", err
	}

	q := (&api.WriteOptions{}).WithContext(ctx)
	if _, _, err := n.client.Jobs().Register(job, q); err != nil {
		return "", fmt.Errorf("register job: %w", err)
	}
	return req.Name, nil
}

func (n *NomadScheduler) buildJob(req scheduler.Request) (*api.Job, error) {
	if len(req.Program) == 0 {
		return nil, fmt.Errorf("empty worker program")
	}

	task := api.NewTask("worker", "raw_exec")
	task.SetConfig("command", req.Program[0])
	task.SetConfig("args", req.Program[1:])
	task.Env = map[string]string{"SLURM_EXECUTOR_WORKDIR": req.WorkDir}

	resources := &api.Resources{}
	if v, ok := req.Param("cpus-per-task"); ok {
		cores, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("cpus-per-task %q: %w", v, err)
		}
		resources.Cores = &cores
	}
	if v, ok := req.Param("mem"); ok {
		mb, err := memoryMB(v)
		if err != nil {
			return nil, err
		}
		resources.MemoryMB = &mb
	}
	task.Require(resources)

	group := api.NewTaskGroup("allocation", 1)
	attempts := 0
	group.RestartPolicy = &api.RestartPolicy{Attempts: &attempts}
	group.ReschedulePolicy = &api.ReschedulePolicy{Attempts: &attempts}
	group.AddTask(task)

	job := api.NewBatchJob(req.Name, req.Name, n.region, 50)
	if v, ok := req.Param("partition"); ok {
		job.Datacenters = []string{v}
	}
	if v, ok := req.Param("priority"); ok {
		priority, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("priority %q: %w", v, err)
		}
		job.Priority = &priority
	}
	job.Meta = map[string]string{"workdir": req.WorkDir}
	for _, p := range req.Params {
		if !p.Switch {
			job.Meta["param_"+strings.ReplaceAll(p.Name, "-", "_")] = p.Value
		}
	}
	job.AddTaskGroup(group)
	return job, nil
}

// State maps the status of the newest allocation of the job. A job with no
// allocation yet is pending; an unknown job is StateUnknown.
func (n *NomadScheduler) State(ctx context.Context, id string) (scheduler.State, error) {
	q := (&api.QueryOptions{}).WithContext(ctx)
	allocs, _, err := n.client.Jobs().Allocations(id, true, q)
	if err != nil {
		if isNotFound(err) {
			return scheduler.StateUnknown, nil
		}
		return scheduler.StateUnknown, fmt.Errorf("list allocations: %w", err)
	}

	var newest *api.AllocationListStub
	for _, a := range allocs {
		if newest == nil || a.CreateIndex > newest.CreateIndex {
			newest = a
		}
	}
	if newest == nil {
		job, _, err := n.client.Jobs().Info(id, q)
		if err != nil {
			if isNotFound(err) {
				return scheduler.StateUnknown, nil
			}
			return scheduler.StateUnknown, fmt.Errorf("job info: %w", err)
		}
		if job.Status != nil && *job.Status == "dead" {
			return scheduler.StateCancelled, nil
		}
		return scheduler.StatePending, nil
	}

	switch newest.ClientStatus {
	case api.AllocClientStatusPending:
		return scheduler.StatePending, nil
	case api.AllocClientStatusRunning:
		return scheduler.StateRunning, nil
	case api.AllocClientStatusComplete:
		return scheduler.StateCompleted, nil
	case api.AllocClientStatusFailed, api.AllocClientStatusLost:
		return scheduler.StateFailed, nil
	}
	return scheduler.StateUnknown, nil
}

func (n *NomadScheduler) Cancel(ctx context.Context, id string) error {
	q := (&api.WriteOptions{}).WithContext(ctx)
	_, _, err := n.client.Jobs().Deregister(id, false, q)
	if err != nil {
		return fmt.Errorf("deregister job: %w", err)
	}
	return nil
}

func (n *NomadScheduler) Lookup(ctx context.Context, name string) (string, error) {
	q := (&api.QueryOptions{}).WithContext(ctx)
	if _, _, err := n.client.Jobs().Info(name, q); err != nil {
		if isNotFound(err) {
			return "", scheduler.ErrNotFound
		}
		return "", fmt.Errorf("job info: %w", err)
	}
	return name, nil
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "404") || strings.Contains(strings.ToLower(err.Error()), "not found")
}

var memoryPattern = regexp.MustCompile(`^([0-9]+)([KMGTkmgt])$`)

func memoryMB(spec string) (int, error) {
	m := memoryPattern.FindStringSubmatch(spec)
	if m == nil {
		return 0, fmt.Errorf("memory %q: expected <integer><unit>", spec)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("memory %q: %w", spec, err)
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		n = (n + 1023) / 1024
	case "G":
		n *= 1024
	case "T":
		n *= 1024 * 1024
	}
	return n, nil
}
