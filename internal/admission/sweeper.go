package admission

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the background sweeper checks for
// stuck executions.
const DefaultSweepInterval = 30 * time.Second

// StartSweeper runs a background goroutine that periodically sweeps for
// executions whose backend never signaled completion. It stops when the
// context is cancelled.
func StartSweeper(ctx context.Context, c *Controller, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Execution sweeper started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				if swept := c.Sweep(time.Now()); len(swept) > 0 {
					slog.Info("Execution sweeper reclaimed slots", "count", len(swept))
				}
			case <-ctx.Done():
				slog.Info("Execution sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
