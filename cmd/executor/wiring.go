package main

import (
	"fmt"
	"jobexecutor/internal/config"
	"jobexecutor/internal/executor"
	"jobexecutor/internal/job"
	"jobexecutor/internal/logrelay"
	"jobexecutor/internal/monitor"
	"jobexecutor/internal/observability"
	"jobexecutor/internal/orchestrator/docker"
	"jobexecutor/internal/orchestrator/kubernetes"
	"jobexecutor/internal/runconfig"
)

// newOrchestrator connects to the configured backend.
func newOrchestrator(cfg *config.ServiceConfig) (job.Orchestrator, error) {
	switch cfg.Orchestrator {
	case "docker":
		o, err := docker.NewOrchestrator(docker.Config{MaintenanceInterval: cfg.Docker.MaintenanceInterval})
		if err != nil {
			return nil, fmt.Errorf("connecting to docker: %w", err)
		}
		return o, nil
	case "kubernetes":
		client, err := kubernetes.NewInClusterClient(cfg.Kubernetes.APIURL)
		if err != nil {
			return nil, fmt.Errorf("creating kubernetes client: %w", err)
		}
		return kubernetes.NewOrchestrator(client), nil
	default:
		return nil, fmt.Errorf("unsupported orchestrator %q", cfg.Orchestrator)
	}
}

// newRegistry registers the container-run handler under its name and alias.
func newRegistry(cfg *config.ServiceConfig, orch job.Orchestrator, metrics *observability.Metrics) (*executor.Registry, error) {
	var def *runconfig.RunConfig
	if cfg.DefaultParam != "" {
		parsed, err := runconfig.Parse(cfg.DefaultParam)
		if err != nil {
			return nil, fmt.Errorf("default job parameter: %w", err)
		}
		def = &parsed
	}

	handler := executor.NewContainerRunHandler(orch, monitor.RealClock{}, executor.ContainerRunConfig{
		Monitor: monitor.Config{
			PollInterval: cfg.Monitor.PollInterval,
			MaxWait:      cfg.Monitor.MaxWait,
		},
		Relay: logrelay.Config{
			OverlapSeconds: cfg.Relay.OverlapSeconds,
			DedupSize:      cfg.Relay.DedupSize,
		},
		Default: def,
	}, metrics)

	registry := executor.NewRegistry()
	for _, name := range []string{executor.ContainerRunHandlerName, executor.ContainerRunHandlerAlias} {
		if err := registry.Register(name, handler); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
