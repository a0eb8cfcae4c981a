// Package kubernetes implements job.Orchestrator with batch/v1 Jobs.
//
// A workload is a Deployment whose first container is cloned into a Job.
// The Job's TTL controller deletes it after ttlSecondsAfterFinished, which
// is why a vanished Job is reported as NotFound rather than as an error.
package kubernetes

import (
	"context"
	"jobexecutor/internal/apperrors"
	"jobexecutor/internal/job"
	"log/slog"
	"slices"
	"strconv"
)

// Labels and names used on created resources.
const (
	LabelJobID     = "executor-job-id"
	LabelRun       = "executor-run"
	LabelJobName   = "job-name" // set by the Job controller on every pod
	ContainerName  = "job-container"
	restartNever   = "Never"
	conditionDone  = "Complete"
	conditionError = "Failed"
)

// Orchestrator implements job.Orchestrator against the Kubernetes API.
type Orchestrator struct {
	client *Client
	logger *slog.Logger
}

// NewOrchestrator wraps a REST client.
func NewOrchestrator(client *Client) *Orchestrator {
	return &Orchestrator{
		client: client,
		logger: slog.With("component", "kubernetes"),
	}
}

// Kind returns "kubernetes".
func (o *Orchestrator) Kind() string { return "kubernetes" }

// DescribeWorkload returns the first container of the Deployment's pod
// template. Sidecars are ignored.
func (o *Orchestrator) DescribeWorkload(ctx context.Context, namespace, ref string) (*job.ContainerSpec, error) {
	d, err := o.client.GetDeployment(ctx, namespace, ref)
	if err != nil {
		return nil, err
	}
	if d.Spec.Template == nil || len(d.Spec.Template.Spec.Containers) == 0 {
		return nil, apperrors.NotFound("container template of deployment", ref)
	}

	c := d.Spec.Template.Spec.Containers[0]
	spec := &job.ContainerSpec{Name: c.Name, Image: c.Image}
	for _, e := range c.Env {
		spec.Env = append(spec.Env, job.EnvVar{Name: e.Name, Value: e.Value, ValueFrom: e.ValueFrom})
	}
	return spec, nil
}

// CreateRun creates the Job. Pods never restart in place; retries are left
// to the Job's backoffLimit.
func (o *Orchestrator) CreateRun(ctx context.Context, id job.RunIdentity, spec job.RunSpec, c job.ContainerSpec) error {
	env := make([]EnvVar, 0, len(c.Env))
	for _, e := range c.Env {
		env = append(env, EnvVar{Name: e.Name, Value: e.Value, ValueFrom: e.ValueFrom})
	}

	backoff := spec.BackoffLimit
	ttl := spec.TTLSecondsAfterFinished
	k8sJob := Job{
		Metadata: ObjectMeta{
			Name:   id.Name,
			Labels: map[string]string{LabelJobID: strconv.FormatInt(spec.JobID, 10)},
		},
		Spec: JobSpec{
			BackoffLimit:            &backoff,
			TTLSecondsAfterFinished: &ttl,
			Template: PodTemplateSpec{
				Metadata: ObjectMeta{Labels: map[string]string{LabelRun: "true"}},
				Spec: PodSpec{
					RestartPolicy: restartNever,
					Containers: []Container{{
						Name:    ContainerName,
						Image:   c.Image,
						Command: spec.Command,
						Args:    spec.Args,
						Env:     env,
					}},
				},
			},
		},
	}

	if err := o.client.CreateJob(ctx, id.Namespace, k8sJob); err != nil {
		return err
	}
	o.logger.Info("Job created", "run", id.Name, "namespace", o.client.ns(id.Namespace), "image", c.Image)
	return nil
}

// RunStatus reads the Job. Terminal conditions win over counters so that a
// pod failure that the Job will still retry is reported as active.
func (o *Orchestrator) RunStatus(ctx context.Context, id job.RunIdentity) (job.RunStatus, error) {
	k8sJob, err := o.client.GetJob(ctx, id.Namespace, id.Name)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			return job.NotFound(), nil
		}
		return job.RunStatus{}, err
	}
	return runStatus(k8sJob.Status), nil
}

func runStatus(s JobStatus) job.RunStatus {
	var out job.RunStatus
	switch {
	case hasCondition(s, conditionDone):
		out = job.Succeeded()
	case hasCondition(s, conditionError):
		c, _ := s.condition(conditionError)
		msg := c.Reason
		if c.Message != "" {
			msg = c.Reason + ": " + c.Message
		}
		out = job.Failed(msg)
	case s.Active == 0 && s.Succeeded > 0:
		// Controllers that lag on conditions still set the counter.
		out = job.Succeeded()
	default:
		out = job.Active(s.Active)
	}
	out.Running, out.Succeeded, out.Failed = s.Active, s.Succeeded, s.Failed
	return out
}

func hasCondition(s JobStatus, t string) bool {
	_, ok := s.condition(t)
	return ok
}

// FindRunUnit returns the newest pod of the Job, or nil when none exists yet.
func (o *Orchestrator) FindRunUnit(ctx context.Context, id job.RunIdentity) (*job.UnitRef, error) {
	pods, err := o.client.ListPods(ctx, id.Namespace, LabelJobName+"="+id.Name)
	if err != nil {
		return nil, err
	}
	if len(pods) == 0 {
		return nil, nil
	}

	slices.SortStableFunc(pods, newestFirst)
	p := pods[0]
	return &job.UnitRef{Name: p.Metadata.Name, Phase: job.UnitPhase(p.Status.Phase)}, nil
}

// newestFirst orders pods by descending creation time. Pods the API server
// has not stamped yet sort last, in list order.
func newestFirst(a, b Pod) int {
	ta, tb := a.Metadata.CreationTimestamp, b.Metadata.CreationTimestamp
	switch {
	case ta == nil && tb == nil:
		return 0
	case ta == nil:
		return 1
	case tb == nil:
		return -1
	}
	return tb.Compare(*ta)
}

// FetchOutput reads the run container's log for the last sinceSeconds.
func (o *Orchestrator) FetchOutput(ctx context.Context, id job.RunIdentity, unit job.UnitRef, sinceSeconds int) (string, error) {
	return o.client.PodLog(ctx, id.Namespace, unit.Name, ContainerName, sinceSeconds)
}

// Ready checks that the API server answers.
func (o *Orchestrator) Ready(ctx context.Context) error {
	return o.client.Version(ctx)
}

// Close releases idle connections.
func (o *Orchestrator) Close() error {
	o.client.http.CloseIdleConnections()
	return nil
}

// Verify Orchestrator implements job.Orchestrator
var _ job.Orchestrator = (*Orchestrator)(nil)
