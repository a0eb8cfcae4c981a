package main

import (
	"context"
	"errors"
	"fmt"
	"jobexecutor/internal/alarm"
	"jobexecutor/internal/api"
	"jobexecutor/internal/config"
	"jobexecutor/internal/executor"
	"jobexecutor/internal/health"
	"jobexecutor/internal/job"
	"jobexecutor/internal/logsink"
	"jobexecutor/internal/observability"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const userAgent = "job-executor/1"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the executor API and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.ServiceConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	instanceID := uuid.NewString()
	slog.Info("Executor starting", "instance", instanceID, "orchestrator", cfg.Orchestrator)

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName: "job-executor",
		InstanceID:  instanceID,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		StdOut:      cfg.Tracing.StdOut,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("Tracer shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Endpoint != "" {
		slog.Info("Exporting traces", "endpoint", cfg.Tracing.Endpoint)
	}

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	orch, err := newOrchestrator(cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	registry, err := newRegistry(cfg, orch, metrics)
	if err != nil {
		return err
	}

	notifier := alarm.NewNotifier(alarm.FromService(cfg.Alarm, userAgent), metrics)
	if !notifier.Enabled() {
		slog.Info("Failure alarms disabled - no ALARM_URLS configured")
	}

	svc := executor.NewService(
		registry,
		logsink.NewFileSink(cfg.LogDir),
		notifier,
		job.NewAlarmEventBuilder("job-executor/"+instanceID, executorAddress(cfg.Port)),
		executor.ServiceConfig{RetainFinished: cfg.RetainFinished},
	)

	healthChecker := health.NewChecker(orch, health.Check{
		Name: "alarm",
		Checker: health.ReadyFunc(func(context.Context) error {
			if open := notifier.Stats().BreakersOpen; open > 0 {
				return fmt.Errorf("%d alarm destination(s) unreachable", open)
			}
			return nil
		}),
	})

	router := api.NewRouter(api.RouterConfig{
		Executor:      svc,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        cfg.APIKey,
	})

	if cfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	apiServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 2)

	go func() {
		slog.Info("Starting API server", "port", cfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: fail readiness so load balancers stop routing triggers here
	healthChecker.SetShuttingDown()
	if cfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", cfg.ShutdownDrainWait)
		time.Sleep(cfg.ShutdownDrainWait)
	}

	// Phase 2: stop accepting requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: cancel in-flight invocations. Created runs are left to their TTL.
	svcCtx, svcCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer svcCancel()
	if err := svc.Close(svcCtx); err != nil {
		slog.Warn("Executor shutdown error", "error", err)
	}

	// Phase 4: deliver alarms raised by the cancellations
	alarmCtx, alarmCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer alarmCancel()
	if err := notifier.Close(alarmCtx); err != nil {
		slog.Warn("Alarm notifier shutdown error", "error", err)
	}

	stats := notifier.Stats()
	slog.Info("Alarm stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)
	slog.Info("Shutdown complete")
	return nil
}

// executorAddress identifies this executor in alarms.
func executorAddress(port string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return net.JoinHostPort(host, port)
}
