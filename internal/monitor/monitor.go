// Package monitor owns a run from creation to a terminal verdict.
//
// The loop is Created → Polling → terminal. Every tick reads the run status
// once and drives the log relay once; ticks are strictly sequential. A run
// that disappears after having been seen active is assumed to have finished
// and been removed by its TTL. That is a heuristic: an operator deletion or
// an eviction of a live run looks the same and is also reported as success.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"jobexecutor/internal/apperrors"
	"jobexecutor/internal/job"
	"log/slog"
	"time"
)

// Defaults used when Config fields are zero.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxWait      = 30 * time.Minute
)

var errMaxWait = errors.New("maximum wait elapsed")

// Config controls the poll loop.
type Config struct {
	PollInterval time.Duration
	MaxWait      time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	return c
}

// Puller drains new output from the run. Implementations must not fail the
// loop; errors are their own business.
type Puller interface {
	Pull(ctx context.Context) []string
}

// Result is the verdict plus what the loop observed on the way.
type Result struct {
	Outcome    job.Outcome
	Polls      int
	SeenActive bool
	Duration   time.Duration
}

// Monitor runs the state machine against one orchestrator.
type Monitor struct {
	orch   job.Orchestrator
	clock  Clock
	cfg    Config
	logger *slog.Logger
}

// New creates a monitor. A nil clock uses the wall clock.
func New(orch job.Orchestrator, clock Clock, cfg Config, logger *slog.Logger) *Monitor {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		orch:   orch,
		clock:  clock,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "monitor"),
	}
}

// Run creates the run and polls it until it reaches a terminal state, the
// maximum wait elapses or ctx is cancelled. Creation is attempted exactly
// once. Every orchestrator call runs under the maximum wait, so a hung
// backend still ends in TimedOut. The run is never deleted here.
func (m *Monitor) Run(ctx context.Context, id job.RunIdentity, spec job.RunSpec, container job.ContainerSpec, relay Puller) Result {
	logger := m.logger.With("run", id.Name, "namespace", id.Namespace, "jobId", id.JobID)
	start := m.clock.Now()
	deadline := start.Add(m.cfg.MaxWait)
	res := Result{}

	finish := func(state job.State, reason string) Result {
		res.Outcome = job.Outcome{State: state, Reason: reason}
		res.Duration = m.clock.Now().Sub(start)
		level := slog.LevelInfo
		if !state.Success() {
			level = slog.LevelWarn
		}
		logger.Log(context.WithoutCancel(ctx), level, "Run finished",
			"state", state, "reason", reason, "polls", res.Polls, "duration", res.Duration)
		return res
	}

	// The logical deadline bounds the loop; this one bounds calls that block.
	runCtx, cancel := context.WithTimeoutCause(ctx, m.cfg.MaxWait, errMaxWait)
	defer cancel()
	timedOut := func() Result {
		return finish(job.StateTimedOut, fmt.Sprintf("run %s did not finish within %s", id.Name, m.cfg.MaxWait))
	}
	interrupted := func() Result {
		if errors.Is(context.Cause(runCtx), errMaxWait) {
			return timedOut()
		}
		return finish(job.StateCancelled, cancelReason(runCtx))
	}

	if err := m.orch.CreateRun(runCtx, id, spec, container); err != nil {
		if runCtx.Err() != nil {
			return interrupted()
		}
		return finish(job.StateCreateError, fmt.Sprintf("create run %s: %v", id.Name, err))
	}
	logger.Info("Run created", "image", container.Image, "args", spec.Args)

	pull := func() {
		if relay != nil {
			relay.Pull(runCtx)
		}
	}

	for {
		if runCtx.Err() != nil {
			return interrupted()
		}
		if !m.clock.Now().Before(deadline) {
			return timedOut()
		}

		res.Polls++
		status, err := m.orch.RunStatus(runCtx, id)
		observed := err == nil
		if err != nil {
			if runCtx.Err() != nil {
				return interrupted()
			}
			switch apperrors.KindOf(err) {
			case apperrors.KindNotFound:
				status, observed = job.NotFound(), true
			case apperrors.KindTransient:
				logger.Warn("Run status query failed, retrying", "error", err)
			default:
				if res.SeenActive {
					return finish(job.StateFailed, fmt.Sprintf("run status query failed: %v", err))
				}
				logger.Warn("Run status query failed before run was seen active, retrying", "error", err)
			}
		}

		if observed {
			logger.Debug("Run status",
				"phase", status.Phase,
				"running", status.Running,
				"succeeded", status.Succeeded,
				"failed", status.Failed)

			switch status.Phase {
			case job.PhaseActive:
				if !res.SeenActive {
					res.SeenActive = true
					logger.Info("Run is active", "running", status.Running)
				}
				pull()
			case job.PhaseSucceeded:
				pull()
				return finish(job.StateSucceeded, "")
			case job.PhaseFailed:
				pull()
				reason := "run failed"
				if status.Message != "" {
					reason = "run failed: " + status.Message
				}
				return finish(job.StateFailed, reason)
			case job.PhaseNotFound:
				if res.SeenActive {
					pull()
					return finish(job.StateAssumedSucceeded,
						fmt.Sprintf("run %s disappeared after being active; assumed removed by TTL after completion", id.Name))
				}
				logger.Debug("Run not visible yet")
			}
		}

		remaining := deadline.Sub(m.clock.Now())
		wait := min(m.cfg.PollInterval, remaining)
		if wait > 0 {
			if err := m.clock.Sleep(runCtx, wait); err != nil {
				return interrupted()
			}
		}
	}
}

func cancelReason(ctx context.Context) string {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, context.Canceled) {
		return "cancelled"
	}
	return "cancelled: " + cause.Error()
}
