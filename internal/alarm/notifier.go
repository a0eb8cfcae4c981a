// Package alarm delivers failure alarms to webhook endpoints with a
// bounded retry count.
package alarm

import (
	"context"
	"errors"
	"jobexecutor/pkg/backoff"
	"jobexecutor/pkg/circuitbreaker"
	"jobexecutor/pkg/cloudevent"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBufferFull is returned when a delivery cannot be queued.
var ErrBufferFull = errors.New("alarm buffer full, alarm dropped")

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("alarm notifier is closed")

// Alarm is a failure notification, sent as a CloudEvent.
type Alarm = cloudevent.CloudEvent

// MetricsRecorder is an optional interface for recording delivery metrics.
type MetricsRecorder interface {
	RecordAlarmDelivered(ctx context.Context, durationSeconds float64)
	RecordAlarmFailed(ctx context.Context)
	RecordAlarmDropped(ctx context.Context)
	RecordAlarmRequeued(ctx context.Context)
	RecordAlarmQueueSize(ctx context.Context, size int64)
}

// Stats holds notifier statistics.
type Stats struct {
	QueueDepth    int   // current queue size
	Queued        int64 // deliveries queued (one per alarm and URL)
	Delivered     int64
	Failed        int64 // failed after retries
	Dropped       int64 // full buffer or max requeues
	Requeued      int64 // requeued due to open circuit
	RetriesTotal  int64
	BreakersTotal int
	BreakersOpen  int
}

type delivery struct {
	alarm    *Alarm
	url      string
	requeues int
}

// Notifier fans alarms out to every configured URL. Deliveries are queued in
// a bounded channel and sent by a worker pool; a full buffer drops them.
type Notifier struct {
	queue    chan *delivery
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	config   Config
	logger   *slog.Logger
	metrics  MetricsRecorder

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	requeued     atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// NewNotifier creates a notifier and starts its workers. metrics may be nil.
func NewNotifier(cfg Config, metrics MetricsRecorder) *Notifier {
	cfg = cfg.withDefaults()

	n := &Notifier{
		queue:  make(chan *delivery, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout, cfg.UserAgent),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
		}),
		config:   cfg,
		logger:   slog.With("component", "alarm"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	n.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go n.worker()
	}
	if metrics != nil {
		go n.reportQueueSize()
	}

	n.logger.Info("Alarm notifier started", "urls", len(cfg.URLs), "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return n
}

// Enabled reports whether any destination is configured.
func (n *Notifier) Enabled() bool {
	return len(n.config.URLs) > 0
}

// Notify queues the alarm for every configured URL. It never blocks; the
// first drop is returned as ErrBufferFull but the remaining URLs are still tried.
func (n *Notifier) Notify(a *Alarm) error {
	if n.closed.Load() {
		return ErrClosed
	}

	var err error
	for _, dest := range n.config.URLs {
		d := &delivery{alarm: a, url: dest}
		select {
		case n.queue <- d:
			n.queued.Add(1)
		default:
			n.drop(d, "buffer full")
			err = ErrBufferFull
		}
	}
	return err
}

// Stats returns current notifier statistics.
func (n *Notifier) Stats() Stats {
	bs := n.breakers.Stats()
	return Stats{
		QueueDepth:    len(n.queue),
		Queued:        n.queued.Load(),
		Delivered:     n.delivered.Load(),
		Failed:        n.failed.Load(),
		Dropped:       n.dropped.Load(),
		Requeued:      n.requeued.Load(),
		RetriesTotal:  n.retriesTotal.Load(),
		BreakersTotal: bs.Total,
		BreakersOpen:  bs.Open,
	}
}

// Close stops the workers after they drain the queue. The context deadline
// bounds the wait.
func (n *Notifier) Close(ctx context.Context) error {
	if n.closed.Swap(true) {
		return nil
	}

	n.logger.Info("Alarm notifier shutting down", "queued", len(n.queue))
	close(n.shutdown)

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("Alarm notifier shutdown complete",
			"delivered", n.delivered.Load(),
			"failed", n.failed.Load(),
			"dropped", n.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		n.logger.Warn("Alarm notifier shutdown timed out", "remaining", len(n.queue))
		return ctx.Err()
	}
}

func (n *Notifier) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.shutdown:
			return
		case <-ticker.C:
			n.metrics.RecordAlarmQueueSize(context.Background(), int64(len(n.queue)))
		}
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.shutdown:
			n.drainQueue()
			return
		case d := <-n.queue:
			n.deliver(d)
		}
	}
}

func (n *Notifier) drainQueue() {
	for {
		select {
		case d := <-n.queue:
			n.deliver(d)
		default:
			return
		}
	}
}

func (n *Notifier) deliver(d *delivery) {
	host := extractHost(d.url)
	breaker := n.breakers.Get(host)

	if !breaker.Allow() {
		n.requeue(d, host)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultSendTimeout)
	defer cancel()

	start := time.Now()
	if err := n.sendWithRetry(ctx, d); err != nil {
		breaker.RecordFailure()
		n.failed.Add(1)
		if n.metrics != nil {
			n.metrics.RecordAlarmFailed(ctx)
		}
		n.logger.Warn("Alarm delivery failed", "destination", host, "subject", d.alarm.Subject, "error", err)
		return
	}

	breaker.RecordSuccess()
	n.delivered.Add(1)
	if n.metrics != nil {
		n.metrics.RecordAlarmDelivered(ctx, time.Since(start).Seconds())
	}
	n.logger.Debug("Alarm delivered", "destination", host, "subject", d.alarm.Subject)
}

// requeue puts a delivery back after the breaker cooldown.
func (n *Notifier) requeue(d *delivery, host string) {
	if d.requeues >= defaultMaxRequeues {
		n.drop(d, "max requeues reached")
		return
	}

	d.requeues++
	n.requeued.Add(1)
	if n.metrics != nil {
		n.metrics.RecordAlarmRequeued(context.Background())
	}

	go func() {
		t := time.NewTimer(n.config.BreakerCooldown)
		defer t.Stop()
		select {
		case <-n.shutdown:
			n.drop(d, "shutdown while circuit open")
			return
		case <-t.C:
		}

		select {
		case n.queue <- d:
			n.logger.Debug("Alarm requeued", "destination", host, "requeues", d.requeues)
		default:
			n.drop(d, "buffer full on requeue")
		}
	}()
}

func (n *Notifier) drop(d *delivery, reason string) {
	n.dropped.Add(1)
	if n.metrics != nil {
		n.metrics.RecordAlarmDropped(context.Background())
	}
	n.logger.Warn("Alarm dropped", "reason", reason, "destination", extractHost(d.url), "subject", d.alarm.Subject)
}

func (n *Notifier) sendWithRetry(ctx context.Context, d *delivery) error {
	opts := cloudevent.SendOptions{SigningKey: n.config.SigningKey}

	var lastErr error
	for attempt := range n.config.MaxRetries + 1 {
		if attempt > 0 {
			n.retriesTotal.Add(1)
			if err := backoff.Wait(ctx, attempt, n.config.Backoff); err != nil {
				return err
			}
		}

		lastErr = n.sender.Send(ctx, d.url, d.alarm, opts)
		if lastErr == nil || !cloudevent.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// extractHost keys circuit breakers by destination host.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
