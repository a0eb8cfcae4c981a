package docker

import (
	"context"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
)

func (o *Orchestrator) startMaintenance() {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancelMaintenance = cancel
	o.maintenanceWg.Add(1)
	go func() {
		defer o.maintenanceWg.Done()
		o.runMaintenance(ctx, o.cfg.MaintenanceInterval)
	}()
}

// runMaintenance periodically removes finished runs past their TTL.
func (o *Orchestrator) runMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.removeExpiredRuns(ctx); err != nil && ctx.Err() == nil {
				o.logger.Warn("Maintenance failed", "error", err)
			}
		}
	}
}

// removeExpiredRuns removes exited run containers whose TTL has elapsed and
// returns their names. A run without a parsable TTL label is kept.
func (o *Orchestrator) removeExpiredRuns(ctx context.Context) ([]string, error) {
	args := runFilter()
	args.Add("status", stateExited)
	args.Add("status", stateDead)

	runs, err := o.engine.list(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, classify("docker.listRuns", "runs", "", err)
	}

	now := o.cfg.Now()
	var removed []string
	for _, c := range runs {
		ttl, err := strconv.Atoi(c.Labels[LabelTTL])
		if err != nil || ttl < 0 {
			continue
		}
		name := c.Labels[LabelRunName]

		inspect, err := o.engine.inspect(ctx, c.ID)
		if err != nil {
			continue
		}
		st := stateOf(inspect)
		if st == nil {
			continue
		}
		finishedAt, err := time.Parse(time.RFC3339Nano, st.FinishedAt)
		if err != nil || finishedAt.IsZero() {
			continue
		}
		if now.Sub(finishedAt) < time.Duration(ttl)*time.Second {
			continue
		}

		if err := o.engine.remove(ctx, c.ID); err != nil {
			o.logger.Warn("Failed to remove expired run", "run", name, "error", err)
			continue
		}
		removed = append(removed, name)
		o.logger.Debug("Removed expired run", "run", name, "finishedAt", finishedAt)
	}

	if len(removed) > 0 {
		o.logger.Info("Maintenance complete", "removed", len(removed))
	}
	return removed, nil
}
