package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponential_Defaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{6, 3200 * time.Millisecond},
		{7, 5 * time.Second}, // capped at max
		{30, 5 * time.Second},
	}

	for _, tt := range tests {
		if got := Exponential(tt.attempt, nil); got != tt.want {
			t.Errorf("Exponential(%d, nil) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CustomConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *Config
		attempt int
		want    time.Duration
	}{
		{"initial", &Config{Initial: time.Second, Max: time.Minute}, 1, time.Second},
		{"doubling", &Config{Initial: time.Second, Max: time.Minute}, 3, 4 * time.Second},
		{"capped", &Config{Initial: time.Second, Max: 10 * time.Second}, 5, 10 * time.Second},
		{"factor 3", &Config{Initial: time.Second, Max: time.Minute, Factor: 3}, 3, 9 * time.Second},
		{"factor below 1 ignored", &Config{Initial: time.Second, Factor: 0.5}, 2, 2 * time.Second},
		{"zero config", &Config{}, 2, 200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Exponential(tt.attempt, tt.cfg); got != tt.want {
				t.Errorf("Exponential(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestWait(t *testing.T) {
	t.Parallel()

	if err := Wait(context.Background(), 1, &Config{Initial: time.Millisecond}); err != nil {
		t.Errorf("Wait() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Wait(ctx, 1, &Config{Initial: time.Hour}); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Wait() should return immediately on a cancelled context")
	}
}
