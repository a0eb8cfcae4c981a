package docker

import "time"

// Labels written on every run container.
const (
	LabelRun          = "executor-run"
	LabelRunName      = "executor-run-name"
	LabelJobID        = "executor-job-id"
	LabelNamespace    = "executor-namespace"
	LabelTTL          = "executor-ttl-seconds"
	LabelBackoffLimit = "executor-backoff-limit"
)

// Container states reported by the daemon.
const (
	stateCreated = "created"
	stateExited  = "exited"
	stateDead    = "dead"
)

// Config holds configuration for the Docker orchestrator.
type Config struct {
	MaintenanceInterval time.Duration    // How often finished runs are checked against their TTL (default 1m)
	Now                 func() time.Time // Clock for TTL checks (default time.Now)
}

func (c Config) withDefaults() Config {
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
