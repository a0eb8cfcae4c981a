//go:build integration

package docker

import (
	"context"
	"fmt"
	"jobexecutor/internal/job"
	"jobexecutor/internal/testutil"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
)

const testImage = "alpine:latest"

func TestOrchestrator_RunLifecycle(t *testing.T) {
	ctx := context.Background()

	o, err := NewOrchestrator(Config{MaintenanceInterval: time.Hour})
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	defer o.Close()

	if err := o.Ready(ctx); err != nil {
		t.Skipf("Docker daemon not reachable: %v", err)
	}

	// Template container standing in for a long-running workload.
	templateName := fmt.Sprintf("executor-template-%d", time.Now().UnixNano())
	templateID, err := o.engine.create(ctx,
		&container.Config{Image: testImage, Cmd: []string{"sleep", "300"}, Env: []string{"GREETING=hello"}},
		&container.HostConfig{}, templateName)
	if err != nil {
		t.Fatalf("Failed to create template container: %v", err)
	}
	defer o.engine.remove(ctx, templateID)

	spec, err := o.DescribeWorkload(ctx, "default", templateName)
	if err != nil {
		t.Fatalf("DescribeWorkload() error: %v", err)
	}

	id := job.NewRunIdentity(1, "default", time.Now())
	runSpec := job.RunSpec{
		JobID:                   1,
		Command:                 []string{"/bin/sh", "-c"},
		Args:                    []string{"echo $GREETING from run; sleep 1"},
		TTLSecondsAfterFinished: 0,
	}
	if err := o.CreateRun(ctx, id, runSpec, *spec); err != nil {
		t.Fatalf("CreateRun() error: %v", err)
	}

	var status job.RunStatus
	testutil.MustWaitFor(t, func() bool {
		status, err = o.RunStatus(ctx, id)
		return err == nil && status.Phase != job.PhaseActive
	}, testutil.WithTimeout(60*time.Second), testutil.WithInterval(500*time.Millisecond))

	if status.Phase != job.PhaseSucceeded {
		t.Fatalf("Expected succeeded, got %+v", status)
	}

	unit, err := o.FindRunUnit(ctx, id)
	if err != nil || unit == nil {
		t.Fatalf("FindRunUnit() = %v, %v", unit, err)
	}
	out, err := o.FetchOutput(ctx, id, *unit, 60)
	if err != nil {
		t.Fatalf("FetchOutput() error: %v", err)
	}
	if !strings.Contains(out, "hello from run") {
		t.Errorf("Expected run output, got %q", out)
	}

	removed, err := o.removeExpiredRuns(ctx)
	if err != nil {
		t.Fatalf("removeExpiredRuns() error: %v", err)
	}
	found := false
	for _, name := range removed {
		found = found || name == id.Name
	}
	if !found {
		t.Errorf("Expected %s to be removed, got %v", id.Name, removed)
	}

	status, err = o.RunStatus(ctx, id)
	if err != nil || status.Phase != job.PhaseNotFound {
		t.Errorf("Expected NotFound after TTL cleanup, got %+v, %v", status, err)
	}
}
