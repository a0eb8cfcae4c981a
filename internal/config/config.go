// Package config provides configuration loading from an optional YAML file
// and environment variables. Environment variables win over the file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServiceConfig holds configuration for the executor process.
type ServiceConfig struct {
	Port              string        `yaml:"port"`
	MetricsPort       string        `yaml:"metricsPort"`
	APIKeyFile        string        `yaml:"apiKeyFile"`
	APIKey            string        `yaml:"-"`
	LogLevel          string        `yaml:"logLevel"`
	LogDir            string        `yaml:"logDir"`
	ShutdownDrainWait time.Duration `yaml:"shutdownDrainWait"` // Time to wait for load balancer to drain (0 to skip)
	Orchestrator      string        `yaml:"orchestrator"`      // "kubernetes" or "docker"
	DefaultParam      string        `yaml:"defaultParam"`      // Job parameter used when an invocation carries none
	RetainFinished    int           `yaml:"retainFinished"`    // Finished invocations kept for status queries

	Monitor    MonitorConfig    `yaml:"monitor"`
	Relay      RelayConfig      `yaml:"relay"`
	Alarm      AlarmConfig      `yaml:"alarm"`
	Docker     DockerConfig     `yaml:"docker"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// MonitorConfig controls the run polling loop.
type MonitorConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	MaxWait      time.Duration `yaml:"maxWait"`
}

// RelayConfig controls log relaying from execution units.
type RelayConfig struct {
	OverlapSeconds int `yaml:"overlapSeconds"`
	DedupSize      int `yaml:"dedupSize"`
}

// AlarmConfig controls failure alarm delivery.
type AlarmConfig struct {
	URLs           []string      `yaml:"urls"`
	SigningKeyFile string        `yaml:"signingKeyFile"`
	SigningKey     string        `yaml:"-"`
	MaxRetries     int           `yaml:"maxRetries"`
	BufferSize     int           `yaml:"bufferSize"`
	Workers        int           `yaml:"workers"`
	HTTPTimeout    time.Duration `yaml:"httpTimeout"`
}

// DockerConfig holds Docker backend settings.
type DockerConfig struct {
	MaintenanceInterval time.Duration `yaml:"maintenanceInterval"`
}

// KubernetesConfig holds Kubernetes backend settings.
type KubernetesConfig struct {
	APIURL string `yaml:"apiUrl"` // Overrides the in-cluster API server address
}

// TracingConfig controls span export. Tracing is off unless an endpoint or
// stdout export is set.
type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	StdOut   bool   `yaml:"stdout"`
}

// Default returns the built-in configuration.
func Default() *ServiceConfig {
	return &ServiceConfig{
		Port:              "9999",
		MetricsPort:       "9090",
		LogLevel:          "info",
		LogDir:            "/data/applogs/executor/jobhandler",
		ShutdownDrainWait: 5 * time.Second,
		Orchestrator:      "kubernetes",
		RetainFinished:    1000,
		Monitor: MonitorConfig{
			PollInterval: 2 * time.Second,
			MaxWait:      30 * time.Minute,
		},
		Relay: RelayConfig{
			OverlapSeconds: 3,
			DedupSize:      1024,
		},
		Alarm: AlarmConfig{
			MaxRetries:  3,
			BufferSize:  1000,
			Workers:     2,
			HTTPTimeout: 10 * time.Second,
		},
		Docker: DockerConfig{
			MaintenanceInterval: time.Minute,
		},
	}
}

// Load builds the service configuration: defaults, then the YAML file at path
// (if non-empty), then environment variables.
func Load(path string) (*ServiceConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	cfg.APIKey = GetSecretFile(cfg.APIKeyFile)
	cfg.Alarm.SigningKey = GetSecretFile(cfg.Alarm.SigningKeyFile)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ServiceConfig) applyEnv() {
	c.Port = GetEnv("PORT", c.Port)
	c.MetricsPort = GetEnv("METRICS_PORT", c.MetricsPort)
	c.APIKeyFile = GetEnv("API_KEY_FILE", c.APIKeyFile)
	c.LogLevel = GetEnv("LOG_LEVEL", c.LogLevel)
	c.LogDir = GetEnv("LOG_DIR", c.LogDir)
	c.ShutdownDrainWait = GetDurationEnv("SHUTDOWN_DRAIN_WAIT", c.ShutdownDrainWait)
	c.Orchestrator = GetEnv("ORCHESTRATOR", c.Orchestrator)
	c.DefaultParam = GetEnv("DEFAULT_JOB_PARAM", c.DefaultParam)
	c.RetainFinished = GetIntEnv("RETAIN_FINISHED", c.RetainFinished)

	c.Monitor.PollInterval = GetDurationEnv("POLL_INTERVAL", c.Monitor.PollInterval)
	c.Monitor.MaxWait = GetDurationEnv("MAX_WAIT", c.Monitor.MaxWait)

	c.Relay.OverlapSeconds = GetIntEnv("LOG_OVERLAP_SECONDS", c.Relay.OverlapSeconds)
	c.Relay.DedupSize = GetIntEnv("LOG_DEDUP_SIZE", c.Relay.DedupSize)

	if urls := GetListEnv("ALARM_URLS"); len(urls) > 0 {
		c.Alarm.URLs = urls
	}
	c.Alarm.SigningKeyFile = GetEnv("ALARM_SIGNING_KEY_FILE", c.Alarm.SigningKeyFile)
	c.Alarm.MaxRetries = GetIntEnv("ALARM_MAX_RETRIES", c.Alarm.MaxRetries)
	c.Alarm.BufferSize = GetIntEnv("ALARM_BUFFER_SIZE", c.Alarm.BufferSize)
	c.Alarm.Workers = GetIntEnv("ALARM_WORKERS", c.Alarm.Workers)
	c.Alarm.HTTPTimeout = GetDurationEnv("ALARM_HTTP_TIMEOUT", c.Alarm.HTTPTimeout)

	c.Docker.MaintenanceInterval = GetDurationEnv("DOCKER_MAINTENANCE_INTERVAL", c.Docker.MaintenanceInterval)
	c.Kubernetes.APIURL = GetEnv("KUBERNETES_API_URL", c.Kubernetes.APIURL)

	c.Tracing.Endpoint = GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.Insecure = GetBoolEnv("OTEL_EXPORTER_OTLP_INSECURE", c.Tracing.Insecure)
	c.Tracing.StdOut = GetBoolEnv("TRACE_STDOUT", c.Tracing.StdOut)
}

func (c *ServiceConfig) validate() error {
	switch strings.ToLower(c.Orchestrator) {
	case "kubernetes", "docker":
		c.Orchestrator = strings.ToLower(c.Orchestrator)
	default:
		return fmt.Errorf("unsupported orchestrator %q (want kubernetes or docker)", c.Orchestrator)
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.Monitor.PollInterval)
	}
	if c.Monitor.MaxWait < c.Monitor.PollInterval {
		return fmt.Errorf("max wait %s is shorter than poll interval %s", c.Monitor.MaxWait, c.Monitor.PollInterval)
	}
	if c.Relay.OverlapSeconds <= 0 {
		return fmt.Errorf("log overlap must be positive, got %d", c.Relay.OverlapSeconds)
	}
	// Each tick fetches only the last OverlapSeconds of output.
	if overlap := time.Duration(c.Relay.OverlapSeconds) * time.Second; overlap < c.Monitor.PollInterval {
		return fmt.Errorf("log overlap %s is shorter than poll interval %s; output between polls would be lost",
			overlap, c.Monitor.PollInterval)
	}
	return nil
}

// SlogLevel converts LogLevel to a slog.Level, defaulting to Info.
func (c *ServiceConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
