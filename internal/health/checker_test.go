package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestChecker_Liveness(t *testing.T) {
	t.Parallel()
	checker := NewChecker(nil)

	if got := checker.Liveness(context.Background()).Status; got != StatusHealthy {
		t.Errorf("Expected healthy status, got %s", got)
	}
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()

	down := ReadyFunc(func(context.Context) error { return errors.New("connection refused") })
	up := ReadyFunc(func(context.Context) error { return nil })

	tests := []struct {
		name         string
		orchestrator ReadinessChecker
		extra        []Check
		want         Status
		wantHealthy  bool
	}{
		{"no orchestrator", nil, nil, StatusUnhealthy, false},
		{"orchestrator up", up, nil, StatusHealthy, true},
		{"orchestrator down", down, nil, StatusUnhealthy, false},
		{"optional check down", up, []Check{{Name: "alarm", Checker: down}}, StatusDegraded, true},
		{"critical extra down", up, []Check{{Name: "logs", Checker: down, Critical: true}}, StatusUnhealthy, false},
		{"both down", down, []Check{{Name: "alarm", Checker: down}}, StatusUnhealthy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := NewChecker(tt.orchestrator, tt.extra...).Readiness(context.Background())
			if resp.Status != tt.want {
				t.Errorf("Status = %s, want %s (checks %+v)", resp.Status, tt.want, resp.Checks)
			}
			if resp.IsHealthy() != tt.wantHealthy {
				t.Errorf("IsHealthy() = %v, want %v", resp.IsHealthy(), tt.wantHealthy)
			}
			if _, ok := resp.Checks["orchestrator"]; !ok {
				t.Error("Expected orchestrator check to be present")
			}
		})
	}
}

func TestChecker_ReadinessCachesResult(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	checker := NewChecker(ReadyFunc(func(context.Context) error {
		calls.Add(1)
		return nil
	}))
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	checker.now = func() time.Time { return now }

	checker.Readiness(context.Background())
	checker.Readiness(context.Background())
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 within cache TTL", calls.Load())
	}

	now = now.Add(2 * time.Second)
	checker.Readiness(context.Background())
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 after cache TTL", calls.Load())
	}
}

func TestChecker_ShuttingDown(t *testing.T) {
	t.Parallel()
	checker := NewChecker(ReadyFunc(func(context.Context) error { return nil }))

	if !checker.Readiness(context.Background()).IsHealthy() {
		t.Fatal("expected healthy before shutdown")
	}
	checker.SetShuttingDown()

	resp := checker.Readiness(context.Background())
	if resp.Status != StatusUnhealthy {
		t.Errorf("Status = %s, want unhealthy", resp.Status)
	}
	if _, ok := resp.Checks["shutdown"]; !ok {
		t.Error("expected shutdown check")
	}
}
