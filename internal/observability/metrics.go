package observability

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the executor's instruments. All Record methods are safe on
// a nil *Metrics, which records nothing.
type Metrics struct {
	meter metric.Meter

	// HTTP API
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Runs
	RunDuration metric.Float64Histogram
	RunsTotal   metric.Int64Counter
	RunOutcomes metric.Int64Counter
	RunsActive  metric.Int64UpDownCounter
	RunPolls    metric.Int64Counter
	RunAssumed  metric.Int64Counter

	// Log relay
	LogLinesForwarded  metric.Int64Counter
	LogLinesSuppressed metric.Int64Counter
	LogFetchErrors     metric.Int64Counter

	// Alarms
	AlarmDuration  metric.Float64Histogram
	AlarmDelivered metric.Int64Counter
	AlarmFailed    metric.Int64Counter
	AlarmDropped   metric.Int64Counter
	AlarmRequeued  metric.Int64Counter
	AlarmQueueSize metric.Int64Gauge
}

// NewMetrics creates all instruments backed by a Prometheus exporter on a
// private registry and returns the scrape handler for it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m := &Metrics{meter: provider.Meter("jobexecutor")}
	if err := m.init(); err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

func (m *Metrics) init() error {
	var err error
	meter := m.meter

	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return err
	}
	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return err
	}
	if m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	); err != nil {
		return err
	}

	if m.RunDuration, err = meter.Float64Histogram(
		"executor_run_duration_seconds",
		metric.WithDescription("Time from run creation to terminal verdict"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 900, 1800),
	); err != nil {
		return err
	}
	if m.RunsTotal, err = meter.Int64Counter(
		"executor_runs_total",
		metric.WithDescription("Total number of invocations started"),
	); err != nil {
		return err
	}
	if m.RunOutcomes, err = meter.Int64Counter(
		"executor_run_outcomes_total",
		metric.WithDescription("Terminal verdicts by state"),
	); err != nil {
		return err
	}
	if m.RunsActive, err = meter.Int64UpDownCounter(
		"executor_runs_active",
		metric.WithDescription("Number of invocations currently being monitored"),
	); err != nil {
		return err
	}
	if m.RunPolls, err = meter.Int64Counter(
		"executor_run_polls_total",
		metric.WithDescription("Total number of run status polls"),
	); err != nil {
		return err
	}
	if m.RunAssumed, err = meter.Int64Counter(
		"executor_run_assumed_succeeded_total",
		metric.WithDescription("Runs reported successful because they disappeared after being active"),
	); err != nil {
		return err
	}

	if m.LogLinesForwarded, err = meter.Int64Counter(
		"executor_log_lines_forwarded_total",
		metric.WithDescription("Log lines written to the log sink"),
	); err != nil {
		return err
	}
	if m.LogLinesSuppressed, err = meter.Int64Counter(
		"executor_log_lines_suppressed_total",
		metric.WithDescription("Log lines skipped as recent duplicates"),
	); err != nil {
		return err
	}
	if m.LogFetchErrors, err = meter.Int64Counter(
		"executor_log_fetch_errors_total",
		metric.WithDescription("Failed log fetches"),
	); err != nil {
		return err
	}

	if m.AlarmDuration, err = meter.Float64Histogram(
		"executor_alarm_duration_seconds",
		metric.WithDescription("Alarm delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return err
	}
	if m.AlarmDelivered, err = meter.Int64Counter(
		"executor_alarms_delivered_total",
		metric.WithDescription("Total alarms successfully delivered"),
	); err != nil {
		return err
	}
	if m.AlarmFailed, err = meter.Int64Counter(
		"executor_alarms_failed_total",
		metric.WithDescription("Total alarms failed after retries"),
	); err != nil {
		return err
	}
	if m.AlarmDropped, err = meter.Int64Counter(
		"executor_alarms_dropped_total",
		metric.WithDescription("Total alarms dropped (buffer full or max requeues)"),
	); err != nil {
		return err
	}
	if m.AlarmRequeued, err = meter.Int64Counter(
		"executor_alarms_requeued_total",
		metric.WithDescription("Total alarms requeued due to open circuit"),
	); err != nil {
		return err
	}
	if m.AlarmQueueSize, err = meter.Int64Gauge(
		"executor_alarm_queue_size",
		metric.WithDescription("Current number of alarms waiting for delivery"),
	); err != nil {
		return err
	}
	return nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(methodAttr(method), pathAttr(path), statusAttr(statusCode))

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordRunStarted records an invocation entering the monitor.
func (m *Metrics) RecordRunStarted(ctx context.Context, handler, orchestrator string) {
	if m == nil {
		return
	}
	attrs := RunAttributes(handler, orchestrator)
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunsActive.Add(ctx, 1, attrs)
}

// RecordRunFinished records an invocation's verdict.
func (m *Metrics) RecordRunFinished(ctx context.Context, handler, orchestrator, state string, success bool, polls int, durationSeconds float64) {
	if m == nil {
		return
	}
	base := RunAttributes(handler, orchestrator)
	attrs := metric.WithAttributes(handlerAttr(handler), orchestratorAttr(orchestrator), stateAttr(state), successAttr(success))

	m.RunsActive.Add(ctx, -1, base)
	m.RunOutcomes.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, durationSeconds, attrs)
	if polls > 0 {
		m.RunPolls.Add(ctx, int64(polls), base)
	}
	if state == "assumed_succeeded" {
		m.RunAssumed.Add(ctx, 1, base)
	}
}

// RecordLogRelay records relay counters for one finished run.
func (m *Metrics) RecordLogRelay(ctx context.Context, orchestrator string, forwarded, suppressed, errors int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(orchestratorAttr(orchestrator))
	m.LogLinesForwarded.Add(ctx, forwarded, attrs)
	m.LogLinesSuppressed.Add(ctx, suppressed, attrs)
	m.LogFetchErrors.Add(ctx, errors, attrs)
}

// RecordAlarmDelivered records a successful alarm delivery with its duration.
func (m *Metrics) RecordAlarmDelivered(ctx context.Context, durationSeconds float64) {
	if m == nil {
		return
	}
	m.AlarmDelivered.Add(ctx, 1)
	m.AlarmDuration.Record(ctx, durationSeconds)
}

// RecordAlarmFailed records an alarm that exhausted its retries.
func (m *Metrics) RecordAlarmFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.AlarmFailed.Add(ctx, 1)
}

// RecordAlarmDropped records a dropped alarm.
func (m *Metrics) RecordAlarmDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.AlarmDropped.Add(ctx, 1)
}

// RecordAlarmRequeued records an alarm requeued behind an open circuit.
func (m *Metrics) RecordAlarmRequeued(ctx context.Context) {
	if m == nil {
		return
	}
	m.AlarmRequeued.Add(ctx, 1)
}

// RecordAlarmQueueSize records the current queue size.
func (m *Metrics) RecordAlarmQueueSize(ctx context.Context, size int64) {
	if m == nil {
		return
	}
	m.AlarmQueueSize.Record(ctx, size)
}
