package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/gatehouse-hq/gatehouse/common/logger"
	"github.com/gatehouse-hq/gatehouse/internal/store"
)

// Cleaner periodically removes ledger data older than the retention period.
type Cleaner struct {
	store     store.Store
	retention time.Duration
	interval  time.Duration

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewCleaner(st store.Store, retention, interval time.Duration) *Cleaner {
	return &Cleaner{
		store:     st,
		retention: retention,
		interval:  interval,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until Stop is called or the context is cancelled. Each tick is
// one cleanup pass; a failed pass is logged and retried on the next tick.
func (c *Cleaner) Run(ctx context.Context) error {
	defer close(c.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "gatehouse.cleaner"})
	slog.InfoContext(ctx, "retention cleaner started",
		"retention", c.retention.String(),
		"interval", c.interval.String())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			slog.InfoContext(ctx, "retention cleaner stopping")
			return nil
		case <-ticker.C:
			removed, err := c.store.CleanupOldEvents(ctx, c.retention)
			if err != nil {
				slog.ErrorContext(ctx, "retention cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.InfoContext(ctx, "retention cleanup done", "events_removed", removed)
			}
		}
	}
}

func (c *Cleaner) Stop() {
	close(c.stopCh)
	<-c.stoppedCh
}
