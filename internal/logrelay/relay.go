// Package logrelay forwards output from a run's execution unit to the log
// sink. Output is fetched with a fixed look-back window instead of a cursor,
// so consecutive fetches overlap; a bounded fingerprint set keeps repeats
// out of the sink. Delivery is best-effort: rare duplicates or gaps are
// accepted.
//
// Fingerprints cover line content only. A line the run prints repeatedly
// with identical text, such as a heartbeat, is forwarded once and then
// suppressed until DedupSize newer distinct lines have pushed it out of the
// set. Runs that need every repeat should put a timestamp or counter in
// the line.
package logrelay

import (
	"context"
	"jobexecutor/internal/job"
	"jobexecutor/internal/logsink"
	"log/slog"
	"strings"
	"sync/atomic"
)

// Defaults used when Config fields are zero.
const (
	DefaultOverlapSeconds = 3
	DefaultDedupSize      = 1024
	DefaultPrefix         = "[K8s] "
)

// Config controls a Relay.
type Config struct {
	OverlapSeconds int    // Look-back window per fetch
	DedupSize      int    // Maximum remembered fingerprints
	Prefix         string // Tag prepended to every forwarded line
}

func (c Config) withDefaults() Config {
	if c.OverlapSeconds <= 0 {
		c.OverlapSeconds = DefaultOverlapSeconds
	}
	if c.DedupSize <= 0 {
		c.DedupSize = DefaultDedupSize
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	return c
}

// Stats counts relay activity.
type Stats struct {
	Forwarded  int64
	Suppressed int64
	Errors     int64
}

// Relay pulls output for one run. It is owned by a single monitor loop and
// is not safe for concurrent Pull calls.
type Relay struct {
	orch   job.Orchestrator
	id     job.RunIdentity
	sink   logsink.Sink
	logID  int64
	cfg    Config
	seen   *fingerprintSet
	logger *slog.Logger

	forwarded  atomic.Int64
	suppressed atomic.Int64
	errors     atomic.Int64
}

// New creates a relay for the run identified by id, writing to sink under logID.
func New(orch job.Orchestrator, id job.RunIdentity, sink logsink.Sink, logID int64, cfg Config, logger *slog.Logger) *Relay {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		orch:   orch,
		id:     id,
		sink:   sink,
		logID:  logID,
		cfg:    cfg,
		seen:   newFingerprintSet(cfg.DedupSize),
		logger: logger.With("component", "logrelay", "run", id.Name),
	}
}

// Pull fetches the latest window of output and forwards lines not seen
// recently. It returns the lines forwarded. Failures are logged and
// swallowed: a broken log fetch never aborts monitoring.
func (r *Relay) Pull(ctx context.Context) []string {
	unit, err := r.orch.FindRunUnit(ctx, r.id)
	if err != nil {
		r.fail("find execution unit", err)
		return nil
	}
	if unit == nil || !unit.HasOutput() {
		return nil
	}

	text, err := r.orch.FetchOutput(ctx, r.id, *unit, r.cfg.OverlapSeconds)
	if err != nil {
		r.fail("fetch output", err, "unit", unit.Name)
		return nil
	}
	return r.Forward(text)
}

// Forward splits text into lines and writes the new ones to the sink.
func (r *Relay) Forward(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !r.seen.add(fingerprint(line)) {
			r.suppressed.Add(1)
			continue
		}
		tagged := r.cfg.Prefix + line
		if err := r.sink.Append(r.logID, tagged); err != nil {
			r.fail("append to sink", err)
			continue
		}
		r.forwarded.Add(1)
		out = append(out, tagged)
	}
	return out
}

// Stats returns a snapshot of the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Forwarded:  r.forwarded.Load(),
		Suppressed: r.suppressed.Load(),
		Errors:     r.errors.Load(),
	}
}

func (r *Relay) fail(what string, err error, attrs ...any) {
	r.errors.Add(1)
	r.logger.Warn("Log relay "+what+" failed", append(attrs, "error", err)...)
}
