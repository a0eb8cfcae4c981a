package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Monitor.PollInterval != 2*time.Second {
		t.Errorf("Expected poll interval 2s, got %v", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.MaxWait != 30*time.Minute {
		t.Errorf("Expected max wait 30m, got %v", cfg.Monitor.MaxWait)
	}
	if cfg.Relay.OverlapSeconds != 3 {
		t.Errorf("Expected overlap 3, got %d", cfg.Relay.OverlapSeconds)
	}
	if cfg.Orchestrator != "kubernetes" {
		t.Errorf("Expected kubernetes orchestrator, got %q", cfg.Orchestrator)
	}
	if cfg.RetainFinished != 1000 {
		t.Errorf("Expected retain 1000, got %d", cfg.RetainFinished)
	}
	if cfg.Tracing.Endpoint != "" {
		t.Errorf("Expected tracing off by default, got %q", cfg.Tracing.Endpoint)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "executor.yaml")
	content := `
port: "8081"
orchestrator: docker
monitor:
  pollInterval: 5s
  maxWait: 10m
relay:
  overlapSeconds: 6
alarm:
  urls:
    - http://hooks.example/a
  maxRetries: 5
tracing:
  endpoint: collector:4318
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("MAX_WAIT", "20m")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "8081" {
		t.Errorf("Expected port from file, got %q", cfg.Port)
	}
	if cfg.Orchestrator != "docker" {
		t.Errorf("Expected docker orchestrator, got %q", cfg.Orchestrator)
	}
	if cfg.Monitor.PollInterval != 5*time.Second {
		t.Errorf("Expected poll interval from file, got %v", cfg.Monitor.PollInterval)
	}
	if cfg.Relay.OverlapSeconds != 6 {
		t.Errorf("Expected overlap from file, got %d", cfg.Relay.OverlapSeconds)
	}
	if cfg.Monitor.MaxWait != 20*time.Minute {
		t.Errorf("Expected env to override max wait, got %v", cfg.Monitor.MaxWait)
	}
	if len(cfg.Alarm.URLs) != 1 || cfg.Alarm.MaxRetries != 5 {
		t.Errorf("Unexpected alarm config: %+v", cfg.Alarm)
	}
	if cfg.Tracing.Endpoint != "collector:4318" || !cfg.Tracing.Insecure {
		t.Errorf("Unexpected tracing config: %+v", cfg.Tracing)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown orchestrator", map[string]string{"ORCHESTRATOR": "nomad"}},
		{"max wait below interval", map[string]string{"POLL_INTERVAL": "10s", "MAX_WAIT": "5s"}},
		{"zero overlap", map[string]string{"LOG_OVERLAP_SECONDS": "0"}},
		{"overlap below interval", map[string]string{"POLL_INTERVAL": "10s", "LOG_OVERLAP_SECONDS": "3"}},
		{"overlap below default interval", map[string]string{"POLL_INTERVAL": "5s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestLoad_OverlapCoversInterval(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("LOG_OVERLAP_SECONDS", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Monitor.PollInterval != 5*time.Second || cfg.Relay.OverlapSeconds != 5 {
		t.Errorf("Unexpected monitor/relay config: %+v %+v", cfg.Monitor, cfg.Relay)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
