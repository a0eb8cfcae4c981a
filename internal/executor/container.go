package executor

import (
	"context"
	"fmt"
	"jobexecutor/internal/job"
	"jobexecutor/internal/logrelay"
	"jobexecutor/internal/logsink"
	"jobexecutor/internal/monitor"
	"jobexecutor/internal/observability"
	"jobexecutor/internal/runconfig"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Names the container-run handler is registered under.
const (
	ContainerRunHandlerName  = "k8sJobHandler"
	ContainerRunHandlerAlias = "containerJobHandler"
)

// ContainerRunConfig configures a ContainerRunHandler.
type ContainerRunConfig struct {
	Monitor monitor.Config
	Relay   logrelay.Config
	// Default is used when an invocation has an empty parameter.
	Default *runconfig.RunConfig
}

// ContainerRunHandler clones a workload's container into a one-off run,
// follows it to a verdict and relays its output.
type ContainerRunHandler struct {
	orch    job.Orchestrator
	clock   monitor.Clock
	cfg     ContainerRunConfig
	metrics *observability.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewContainerRunHandler creates the handler. clock and metrics may be nil.
func NewContainerRunHandler(orch job.Orchestrator, clock monitor.Clock, cfg ContainerRunConfig, metrics *observability.Metrics) *ContainerRunHandler {
	if clock == nil {
		clock = monitor.RealClock{}
	}
	return &ContainerRunHandler{
		orch:    orch,
		clock:   clock,
		cfg:     cfg,
		metrics: metrics,
		tracer:  otel.Tracer("jobexecutor/executor"),
		logger:  slog.With("component", "container-run", "orchestrator", orch.Kind()),
	}
}

// Execute runs the invocation. Configuration and describe failures end the
// invocation before anything is created.
func (h *ContainerRunHandler) Execute(ctx context.Context, inv job.Invocation, sink logsink.Sink) job.Outcome {
	ctx, span := h.tracer.Start(ctx, "executor.ContainerRun")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("job.id", inv.JobID),
		attribute.Int64("job.log_id", inv.LogID),
		attribute.String("orchestrator", h.orch.Kind()),
	)

	logger := h.logger.With("jobId", inv.JobID, "logId", inv.LogID)
	started := h.clock.Now()
	h.metrics.RecordRunStarted(ctx, inv.Handler, h.orch.Kind())

	outcome, res := h.execute(ctx, inv, sink, logger, span)

	duration := res.Duration
	if duration == 0 {
		duration = h.clock.Now().Sub(started)
	}
	h.metrics.RecordRunFinished(ctx, inv.Handler, h.orch.Kind(), string(outcome.State), outcome.Success(), res.Polls, duration.Seconds())

	span.SetAttributes(attribute.String("run.state", string(outcome.State)), attribute.Int("run.polls", res.Polls))
	if !outcome.Success() {
		span.SetStatus(codes.Error, outcome.Reason)
	}
	if outcome.Reason != "" {
		note(sink, inv.LogID, logger, "Run finished: %s (%s)", outcome.State, outcome.Reason)
	} else {
		note(sink, inv.LogID, logger, "Run finished: %s", outcome.State)
	}
	return outcome
}

func (h *ContainerRunHandler) execute(ctx context.Context, inv job.Invocation, sink logsink.Sink, logger *slog.Logger, span trace.Span) (job.Outcome, monitor.Result) {
	cfg, err := runconfig.ParseOrDefault(inv.Param, h.cfg.Default)
	if err != nil {
		logger.Warn("Invalid job parameter", "error", err)
		return job.Outcome{State: job.StateConfigError, Reason: err.Error()}, monitor.Result{}
	}
	span.SetAttributes(attribute.String("workload.ref", cfg.WorkloadRef), attribute.String("workload.namespace", cfg.Namespace))

	container, err := h.describe(ctx, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return job.Outcome{State: job.StateCancelled, Reason: "cancelled while describing workload"}, monitor.Result{}
		}
		span.RecordError(err)
		logger.Warn("Workload lookup failed", "workload", cfg.WorkloadRef, "namespace", cfg.Namespace, "error", err)
		return job.Outcome{
			State:  job.StateDescribeError,
			Reason: fmt.Sprintf("describe workload %s/%s: %v", cfg.Namespace, cfg.WorkloadRef, err),
		}, monitor.Result{}
	}

	id := job.NewRunIdentity(inv.JobID, cfg.Namespace, h.clock.Now())
	spec := job.RunSpec{
		JobID:   inv.JobID,
		Command: cfg.Command,
		Args: runconfig.Substitute(cfg.Args, runconfig.Context{
			JobParam:   inv.TemplateParam(),
			ShardIndex: inv.ShardIndex,
			ShardTotal: inv.ShardTotal,
		}),
		TTLSecondsAfterFinished: cfg.TTLSecondsAfterFinished,
		BackoffLimit:            cfg.BackoffLimit,
	}
	span.SetAttributes(attribute.String("run.name", id.Name))
	note(sink, inv.LogID, logger, "Creating run %s from %s/%s (image %s)", id.Name, cfg.Namespace, cfg.WorkloadRef, container.Image)

	mcfg := h.cfg.Monitor
	if inv.TimeoutSeconds > 0 {
		mcfg.MaxWait = time.Duration(inv.TimeoutSeconds) * time.Second
	}

	relay := logrelay.New(h.orch, id, sink, inv.LogID, h.relayConfig(), logger)
	res := monitor.New(h.orch, h.clock, mcfg, logger).Run(ctx, id, spec, *container, relay)

	stats := relay.Stats()
	h.metrics.RecordLogRelay(ctx, h.orch.Kind(), stats.Forwarded, stats.Suppressed, stats.Errors)

	outcome := res.Outcome
	outcome.Run = id.Name
	return outcome, res
}

func (h *ContainerRunHandler) describe(ctx context.Context, cfg runconfig.RunConfig) (*job.ContainerSpec, error) {
	ctx, span := h.tracer.Start(ctx, "orchestrator.DescribeWorkload")
	defer span.End()

	container, err := h.orch.DescribeWorkload(ctx, cfg.Namespace, cfg.WorkloadRef)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return container, err
}

// relayConfig tags lines with the backend they came from and widens the
// look-back window to cover a full poll interval.
func (h *ContainerRunHandler) relayConfig() logrelay.Config {
	cfg := h.cfg.Relay
	if cfg.Prefix == "" && h.orch.Kind() == "docker" {
		cfg.Prefix = "[Docker] "
	}
	cfg.OverlapSeconds = overlapFor(cfg.OverlapSeconds, h.cfg.Monitor.PollInterval)
	return cfg
}

// overlapFor returns a window in seconds strictly longer than the poll interval.
func overlapFor(overlapSeconds int, poll time.Duration) int {
	if overlapSeconds <= 0 {
		overlapSeconds = logrelay.DefaultOverlapSeconds
	}
	if poll <= 0 {
		poll = monitor.DefaultPollInterval
	}
	if time.Duration(overlapSeconds)*time.Second > poll {
		return overlapSeconds
	}
	return int((poll+time.Second-1)/time.Second) + 1
}

// note writes an executor line to the invocation's log. Sink failures are
// logged and otherwise ignored.
func note(sink logsink.Sink, logID int64, logger *slog.Logger, format string, args ...any) {
	if err := sink.Append(logID, fmt.Sprintf(format, args...)); err != nil {
		logger.Warn("Log sink append failed", "error", err)
	}
}
