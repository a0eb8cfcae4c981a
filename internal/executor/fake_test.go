package executor

import (
	"context"
	"jobexecutor/internal/apperrors"
	"jobexecutor/internal/job"
	"sync"
)

type createCall struct {
	id        job.RunIdentity
	spec      job.RunSpec
	container job.ContainerSpec
}

// fakeOrch replays statuses in order, repeating the last one.
type fakeOrch struct {
	kind        string
	container   *job.ContainerSpec
	describeErr error
	createErr   error
	output      string

	mu       sync.Mutex
	statuses []job.RunStatus
	polls    int
	creates  []createCall
	since    []int
}

func newFakeOrch(statuses ...job.RunStatus) *fakeOrch {
	return &fakeOrch{
		kind: "kubernetes",
		container: &job.ContainerSpec{
			Name:  "app",
			Image: "registry.example/app:1.4",
			Env:   []job.EnvVar{{Name: "MODE", Value: "batch"}},
		},
		statuses: statuses,
	}
}

func (o *fakeOrch) Kind() string { return o.kind }

func (o *fakeOrch) DescribeWorkload(ctx context.Context, namespace, ref string) (*job.ContainerSpec, error) {
	if o.describeErr != nil {
		return nil, o.describeErr
	}
	c := *o.container
	return &c, nil
}

func (o *fakeOrch) CreateRun(ctx context.Context, id job.RunIdentity, spec job.RunSpec, container job.ContainerSpec) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.creates = append(o.creates, createCall{id: id, spec: spec, container: container})
	return o.createErr
}

func (o *fakeOrch) RunStatus(ctx context.Context, id job.RunIdentity) (job.RunStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.statuses) == 0 {
		return job.NotFound(), nil
	}
	i := min(o.polls, len(o.statuses)-1)
	o.polls++
	return o.statuses[i], nil
}

func (o *fakeOrch) FindRunUnit(ctx context.Context, id job.RunIdentity) (*job.UnitRef, error) {
	return &job.UnitRef{Name: id.Name + "-abcde", Phase: job.UnitRunning}, nil
}

func (o *fakeOrch) FetchOutput(ctx context.Context, id job.RunIdentity, unit job.UnitRef, sinceSeconds int) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.since = append(o.since, sinceSeconds)
	return o.output, nil
}

func (o *fakeOrch) Ready(ctx context.Context) error { return nil }

func (o *fakeOrch) Close() error { return nil }

func (o *fakeOrch) createCalls() []createCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]createCall(nil), o.creates...)
}

func (o *fakeOrch) fetchWindows() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.since...)
}

var errWorkloadMissing = apperrors.NotFound("deployment", "batch/missing")
