package replica

import (
	"context"
	"time"
)

// HealthCheck runs one liveness probe against the primary under the probe
// timeout and records the result.
func (c *Coordinator) HealthCheck(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, c.opts.ProbeTimeout)
	defer cancel()

	var one int
	err := c.primary.QueryRowContext(pctx, `SELECT 1`).Scan(&one)
	if ctx.Err() != nil {
		return false
	}
	c.observePrimary(ctx, err == nil, err)
	return err == nil
}

// RunHealthMonitor probes the primary every HealthInterval until ctx ends.
func (c *Coordinator) RunHealthMonitor(ctx context.Context) {
	c.runEvery(ctx, c.opts.HealthInterval, time.Minute, func(ctx context.Context) {
		c.HealthCheck(ctx)
	})
}

// RunSyncLoop syncs every SyncInterval until ctx ends. Failures are
// reported by SyncOnce and never stop the loop.
func (c *Coordinator) RunSyncLoop(ctx context.Context) {
	c.runEvery(ctx, c.opts.SyncInterval, 5*time.Minute, func(ctx context.Context) {
		if err := c.SyncOnce(ctx); err != nil {
			c.logger.Debug(ctx, "sync round failed", "err", err)
		}
	})
}

func (c *Coordinator) runEvery(ctx context.Context, interval, fallback time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		interval = fallback
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-ctx.Done():
			return
		}
	}
}
