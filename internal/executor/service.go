package executor

import (
	"cmp"
	"context"
	"errors"
	"jobexecutor/internal/alarm"
	"jobexecutor/internal/apperrors"
	"jobexecutor/internal/job"
	"jobexecutor/internal/logsink"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"
)

var (
	errKilled   = errors.New("killed by scheduler")
	errShutdown = errors.New("executor shutting down")
)

// LogStore is the log sink plus line-offset reads.
type LogStore interface {
	logsink.Sink
	Read(logID int64, fromLine int) (*logsink.Page, error)
}

// Notifier receives alarms for failed invocations.
type Notifier interface {
	Notify(a *alarm.Alarm) error
}

// Accepted is the response to a trigger.
type Accepted struct {
	LogID       int64     `json:"logId"`
	JobID       int64     `json:"jobId"`
	Handler     string    `json:"handler"`
	TriggeredAt time.Time `json:"triggeredAt"`
}

// Status describes one tracked invocation.
type Status struct {
	LogID       int64        `json:"logId"`
	JobID       int64        `json:"jobId"`
	Handler     string       `json:"handler"`
	Running     bool         `json:"running"`
	TriggeredAt time.Time    `json:"triggeredAt"`
	FinishedAt  *time.Time   `json:"finishedAt,omitempty"`
	Outcome     *job.Outcome `json:"outcome,omitempty"`
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	RetainFinished int // finished invocations kept for Status/List (default: 1000)
	Now            func() time.Time
}

type invocation struct {
	inv       job.Invocation
	triggered time.Time
	cancel    context.CancelCauseFunc
	done      chan struct{}

	// Set once before done is closed.
	finished time.Time
	outcome  job.Outcome
}

func (r *invocation) running() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *invocation) status() Status {
	s := Status{
		LogID:       r.inv.LogID,
		JobID:       r.inv.JobID,
		Handler:     r.inv.Handler,
		Running:     r.running(),
		TriggeredAt: r.triggered,
	}
	if !s.Running {
		finished, outcome := r.finished, r.outcome
		s.FinishedAt, s.Outcome = &finished, &outcome
	}
	return s
}

// Service runs invocations asynchronously, one goroutine each, and keeps
// their state in memory. Nothing survives a restart.
type Service struct {
	registry *Registry
	logs     LogStore
	notifier Notifier
	alarms   *job.AlarmEventBuilder
	cfg      ServiceConfig
	logger   *slog.Logger

	base       context.Context
	cancelBase context.CancelCauseFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	runs     map[int64]*invocation
	finished []*invocation // in completion order
	closed   bool
}

// NewService creates a service. notifier and alarms may be nil to disable alarms.
func NewService(registry *Registry, logs LogStore, notifier Notifier, alarms *job.AlarmEventBuilder, cfg ServiceConfig) *Service {
	if cfg.RetainFinished <= 0 {
		cfg.RetainFinished = 1000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	base, cancel := context.WithCancelCause(context.Background())
	return &Service{
		registry:   registry,
		logs:       logs,
		notifier:   notifier,
		alarms:     alarms,
		cfg:        cfg,
		logger:     slog.With("component", "executor"),
		base:       base,
		cancelBase: cancel,
		runs:       make(map[int64]*invocation),
	}
}

// Trigger validates inv and starts it in the background. The invocation
// outlives ctx; use Kill to stop it.
func (s *Service) Trigger(ctx context.Context, inv job.Invocation) (*Accepted, error) {
	if inv.LogID <= 0 {
		return nil, apperrors.Validation("logId", "logId must be positive")
	}
	if inv.JobID <= 0 {
		return nil, apperrors.Validation("jobId", "jobId must be positive")
	}
	if inv.ShardTotal < 0 || inv.ShardIndex < 0 || (inv.ShardTotal > 0 && inv.ShardIndex >= inv.ShardTotal) {
		return nil, apperrors.Validation("shardIndex", "shardIndex must be within [0, shardTotal)")
	}
	handler, err := s.registry.Lookup(inv.Handler)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperrors.Transient("executor.trigger", errShutdown)
	}
	if prev, ok := s.runs[inv.LogID]; ok {
		if prev.running() {
			s.mu.Unlock()
			return nil, apperrors.Conflict("invocation", formatID(inv.LogID), "invocation for this logId is already running")
		}
		s.finished = slices.DeleteFunc(s.finished, func(r *invocation) bool { return r == prev })
	}

	runCtx, cancel := context.WithCancelCause(s.base)
	rec := &invocation{
		inv:       inv,
		triggered: s.cfg.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.runs[inv.LogID] = rec
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Invocation accepted", "jobId", inv.JobID, "logId", inv.LogID, "handler", inv.Handler)
	go s.execute(runCtx, rec, handler)

	return &Accepted{
		LogID:       inv.LogID,
		JobID:       inv.JobID,
		Handler:     inv.Handler,
		TriggeredAt: rec.triggered,
	}, nil
}

func (s *Service) execute(ctx context.Context, rec *invocation, handler Handler) {
	defer s.wg.Done()
	defer rec.cancel(nil)

	outcome := handler.Execute(ctx, rec.inv, s.logs)

	rec.finished = s.cfg.Now()
	rec.outcome = outcome
	close(rec.done)

	logger := s.logger.With("jobId", rec.inv.JobID, "logId", rec.inv.LogID, "run", outcome.Run)
	if outcome.Success() {
		logger.Info("Invocation finished", "state", outcome.State)
	} else {
		logger.Warn("Invocation failed", "state", outcome.State, "reason", outcome.Reason)
		s.alarm(rec, logger)
	}

	s.retire(rec)
}

func (s *Service) alarm(rec *invocation, logger *slog.Logger) {
	if s.notifier == nil || s.alarms == nil {
		return
	}
	event := s.alarms.BuildFailure(rec.inv, rec.outcome.Run, rec.triggered, rec.finished, rec.outcome)
	if err := s.notifier.Notify(event); err != nil {
		logger.Warn("Alarm not queued", "error", err)
	}
}

// retire records a finished invocation and evicts the oldest ones beyond
// the retention limit. A record replaced by a newer trigger of the same
// logId is no longer in s.runs and is skipped.
func (s *Service) retire(rec *invocation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runs[rec.inv.LogID] != rec {
		return
	}
	s.finished = append(s.finished, rec)
	for len(s.finished) > s.cfg.RetainFinished {
		oldest := s.finished[0]
		s.finished = s.finished[1:]
		if s.runs[oldest.inv.LogID] == oldest {
			delete(s.runs, oldest.inv.LogID)
		}
	}
}

// Kill cancels a running invocation. Its outcome becomes cancelled.
func (s *Service) Kill(logID int64) error {
	s.mu.Lock()
	rec, ok := s.runs[logID]
	s.mu.Unlock()

	if !ok {
		return apperrors.NotFound("invocation", formatID(logID))
	}
	if !rec.running() {
		return apperrors.Conflict("invocation", formatID(logID), "invocation has already finished")
	}
	rec.cancel(errKilled)
	s.logger.Info("Invocation kill requested", "jobId", rec.inv.JobID, "logId", logID)
	return nil
}

// Status returns the state of one invocation.
func (s *Service) Status(logID int64) (*Status, error) {
	s.mu.Lock()
	rec, ok := s.runs[logID]
	s.mu.Unlock()
	if !ok {
		return nil, apperrors.NotFound("invocation", formatID(logID))
	}
	st := rec.status()
	return &st, nil
}

// List returns every tracked invocation ordered by log id.
func (s *Service) List() []Status {
	s.mu.Lock()
	recs := make([]*invocation, 0, len(s.runs))
	for _, rec := range s.runs {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.status())
	}
	slices.SortFunc(out, func(a, b Status) int { return cmp.Compare(a.LogID, b.LogID) })
	return out
}

// Running reports whether any invocation of jobID is in progress.
func (s *Service) Running(jobID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.runs {
		if rec.inv.JobID == jobID && rec.running() {
			return true
		}
	}
	return false
}

// ReadLog returns log lines of an invocation starting at fromLine (1-based).
func (s *Service) ReadLog(logID int64, fromLine int) (*logsink.Page, error) {
	if fromLine < 1 {
		return nil, apperrors.Validation("fromLine", "fromLine must be at least 1")
	}
	return s.logs.Read(logID, fromLine)
}

// Wait blocks until the invocation finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, logID int64) (job.Outcome, error) {
	s.mu.Lock()
	rec, ok := s.runs[logID]
	s.mu.Unlock()
	if !ok {
		return job.Outcome{}, apperrors.NotFound("invocation", formatID(logID))
	}

	select {
	case <-rec.done:
		return rec.outcome, nil
	case <-ctx.Done():
		return job.Outcome{}, ctx.Err()
	}
}

// Close rejects new triggers, cancels running invocations and waits for them
// to unwind. Runs already created are left to their TTL.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancelBase(errShutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Executor stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Executor shutdown timed out")
		return ctx.Err()
	}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
