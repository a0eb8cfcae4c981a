package alarm

import (
	"jobexecutor/internal/config"
	"jobexecutor/pkg/backoff"
	"time"
)

// Delivery tuning that rarely needs changing.
const (
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 10
	defaultSendTimeout      = 30 * time.Second
)

// Config holds configuration for the notifier.
type Config struct {
	URLs        []string      // webhook destinations; empty disables alarms
	SigningKey  string        // HMAC key, empty = unsigned
	MaxRetries  int           // retries after the first attempt (default: 3)
	BufferSize  int           // pending deliveries (default: 1000)
	Workers     int           // concurrent delivery goroutines (default: 2)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)
	UserAgent   string

	Backoff         *backoff.Config // nil uses backoff defaults
	BreakerCooldown time.Duration   // also the requeue delay (default: 30s)
}

// FromService converts the service alarm settings.
func FromService(c config.AlarmConfig, userAgent string) Config {
	return Config{
		URLs:        c.URLs,
		SigningKey:  c.SigningKey,
		MaxRetries:  c.MaxRetries,
		BufferSize:  c.BufferSize,
		Workers:     c.Workers,
		HTTPTimeout: c.HTTPTimeout,
		UserAgent:   userAgent,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "job-executor"
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = defaultBreakerCooldown
	}
	return c
}
