// Package docker implements job.Orchestrator on a single Docker daemon.
//
// A workload is an existing container whose image and environment are
// cloned. A run is a new container named after the run. Docker has no job
// TTL, so a maintenance loop removes exited run containers once their
// ttlSecondsAfterFinished label has elapsed; after that RunStatus reports
// NotFound exactly like a Kubernetes Job removed by its TTL controller.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"jobexecutor/internal/apperrors"
	"jobexecutor/internal/job"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/pkg/stdcopy"
)

// Orchestrator implements job.Orchestrator using Docker.
type Orchestrator struct {
	engine engine
	cfg    Config
	logger *slog.Logger

	cancelMaintenance context.CancelFunc
	maintenanceWg     sync.WaitGroup
}

// NewOrchestrator connects to the daemon configured in the environment
// (DOCKER_HOST etc.) and starts the TTL maintenance loop.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	e, err := newClientEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	o := newOrchestrator(e, cfg)
	o.startMaintenance()
	return o, nil
}

func newOrchestrator(e engine, cfg Config) *Orchestrator {
	return &Orchestrator{
		engine: e,
		cfg:    cfg.withDefaults(),
		logger: slog.With("component", "docker"),
	}
}

// Kind returns "docker".
func (o *Orchestrator) Kind() string { return "docker" }

// DescribeWorkload inspects the template container ref. The namespace has
// no Docker equivalent and is only recorded as a label on runs.
func (o *Orchestrator) DescribeWorkload(ctx context.Context, namespace, ref string) (*job.ContainerSpec, error) {
	inspect, err := o.engine.inspect(ctx, ref)
	if err != nil {
		return nil, classify("docker.describeWorkload", "workload", ref, err)
	}
	if inspect.Config == nil || inspect.Config.Image == "" {
		return nil, apperrors.NotFound("container template of workload", ref)
	}

	spec := &job.ContainerSpec{Name: ref, Image: inspect.Config.Image}
	if inspect.ContainerJSONBase != nil {
		spec.Name = strings.TrimPrefix(inspect.Name, "/")
	}
	for _, kv := range inspect.Config.Env {
		name, value, _ := strings.Cut(kv, "=")
		spec.Env = append(spec.Env, job.EnvVar{Name: name, Value: value})
	}
	return spec, nil
}

// CreateRun creates and starts the run container. It never restarts:
// failures surface as a failed run.
func (o *Orchestrator) CreateRun(ctx context.Context, id job.RunIdentity, spec job.RunSpec, c job.ContainerSpec) error {
	env := make([]string, 0, len(c.Env))
	for _, e := range c.Env {
		if len(e.ValueFrom) > 0 {
			o.logger.Debug("Skipping env var with external reference", "run", id.Name, "name", e.Name)
			continue
		}
		env = append(env, e.Name+"="+e.Value)
	}

	cfg := &container.Config{
		Image:      c.Image,
		Entrypoint: spec.Command,
		Cmd:        spec.Args,
		Env:        env,
		Labels: map[string]string{
			LabelRun:          "true",
			LabelRunName:      id.Name,
			LabelJobID:        strconv.FormatInt(spec.JobID, 10),
			LabelNamespace:    id.Namespace,
			LabelTTL:          strconv.Itoa(int(spec.TTLSecondsAfterFinished)),
			LabelBackoffLimit: strconv.Itoa(int(spec.BackoffLimit)),
		},
	}
	host := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
	}

	containerID, err := o.engine.create(ctx, cfg, host, id.Name)
	if err != nil {
		return classify("docker.createRun", "run", id.Name, err)
	}
	if err := o.engine.start(ctx, containerID); err != nil {
		return classify("docker.startRun", "run", id.Name, err)
	}

	o.logger.Info("Run container started", "run", id.Name, "containerId", shortID(containerID), "image", c.Image)
	return nil
}

// RunStatus maps the container state onto a RunStatus. A removed container
// is NotFound.
func (o *Orchestrator) RunStatus(ctx context.Context, id job.RunIdentity) (job.RunStatus, error) {
	inspect, err := o.engine.inspect(ctx, id.Name)
	if err != nil {
		err = classify("docker.runStatus", "run", id.Name, err)
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			return job.NotFound(), nil
		}
		return job.RunStatus{}, err
	}
	st := stateOf(inspect)
	if st == nil {
		return job.Active(0), nil
	}

	switch {
	case st.Running, st.Restarting, st.Paused:
		return job.Active(1), nil
	case st.Status == stateCreated:
		return job.Active(0), nil
	case st.ExitCode == 0 && st.Error == "" && !st.OOMKilled:
		s := job.Succeeded()
		s.Succeeded = 1
		return s, nil
	default:
		s := job.Failed(failureMessage(st))
		s.Failed = 1
		return s, nil
	}
}

func failureMessage(st *container.State) string {
	switch {
	case st.OOMKilled:
		return fmt.Sprintf("OOMKilled (exit code %d)", st.ExitCode)
	case st.Error != "":
		return st.Error
	default:
		return fmt.Sprintf("exit code %d", st.ExitCode)
	}
}

// FindRunUnit returns the run container itself.
func (o *Orchestrator) FindRunUnit(ctx context.Context, id job.RunIdentity) (*job.UnitRef, error) {
	inspect, err := o.engine.inspect(ctx, id.Name)
	if err != nil {
		err = classify("docker.findRunUnit", "run", id.Name, err)
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &job.UnitRef{Name: id.Name, Phase: unitPhase(stateOf(inspect))}, nil
}

func stateOf(inspect container.InspectResponse) *container.State {
	if inspect.ContainerJSONBase == nil {
		return nil
	}
	return inspect.State
}

func unitPhase(st *container.State) job.UnitPhase {
	if st == nil {
		return job.UnitUnknown
	}
	switch {
	case st.Running, st.Restarting, st.Paused:
		return job.UnitRunning
	case st.Status == stateCreated:
		return job.UnitPending
	case st.Status == stateExited, st.Status == stateDead:
		if st.ExitCode == 0 {
			return job.UnitSucceeded
		}
		return job.UnitFailed
	default:
		return job.UnitUnknown
	}
}

// FetchOutput returns stdout and stderr written in the last sinceSeconds.
func (o *Orchestrator) FetchOutput(ctx context.Context, id job.RunIdentity, unit job.UnitRef, sinceSeconds int) (string, error) {
	rc, err := o.engine.logs(ctx, unit.Name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Since:      strconv.Itoa(sinceSeconds) + "s",
	})
	if err != nil {
		return "", classify("docker.fetchOutput", "unit", unit.Name, err)
	}
	defer rc.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, rc); err != nil {
		return out.String(), apperrors.Transient("docker.fetchOutput", err)
	}
	return out.String(), nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (o *Orchestrator) Ready(ctx context.Context) error {
	return o.engine.ping(ctx)
}

// Close stops maintenance and releases the client. Run containers are left
// to the maintenance loop of the next process.
func (o *Orchestrator) Close() error {
	if o.cancelMaintenance != nil {
		o.cancelMaintenance()
	}
	o.maintenanceWg.Wait()
	return o.engine.close()
}

func runFilter() filters.Args {
	return filters.NewArgs(filters.Arg("label", LabelRun+"=true"))
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Verify Orchestrator implements job.Orchestrator
var _ job.Orchestrator = (*Orchestrator)(nil)
