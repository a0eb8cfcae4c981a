// Package backoff provides exponential backoff calculation and waiting.
package backoff

import (
	"context"
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
	Factor  float64       // default: 2
}

func (c *Config) resolve() (initial, maxBackoff time.Duration, factor float64) {
	initial, maxBackoff, factor = 100*time.Millisecond, 5*time.Second, 2
	if c == nil {
		return
	}
	if c.Initial > 0 {
		initial = c.Initial
	}
	if c.Max > 0 {
		maxBackoff = c.Max
	}
	if c.Factor >= 1 {
		factor = c.Factor
	}
	return
}

// Exponential calculates the delay before retry number attempt.
// Attempt 1 returns initial, attempt 2 returns initial*factor, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial, maxBackoff, factor := cfg.resolve()
	if attempt < 1 {
		return initial
	}
	d := float64(initial) * math.Pow(factor, float64(attempt-1))
	if d > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(d)
}

// Wait sleeps for the backoff of attempt or until ctx is done.
func Wait(ctx context.Context, attempt int, cfg *Config) error {
	t := time.NewTimer(Exponential(attempt, cfg))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
