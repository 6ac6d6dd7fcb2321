package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gatehouse-hq/gatehouse/internal/event"
)

// RunStats accumulates per-process run totals.
type RunStats struct {
	EventCount     int
	TotalCost      float64
	LastEventTime  time.Time
	HourlyCostRate float64
}

// StatsHook tracks running totals across agent runs and warns when the
// observed hourly rate exceeds the spend target. This is advisory; the
// governor enforces the budget from the durable journal.
type StatsHook struct {
	targetHourlyCost float64
	now              func() time.Time

	mu    sync.Mutex
	stats RunStats
}

func NewStatsHook(targetHourlyCost float64) *StatsHook {
	return &StatsHook{
		targetHourlyCost: targetHourlyCost,
		now:              time.Now,
	}
}

func (h *StatsHook) OnRunStart(ctx context.Context, ev *event.Event) {
	slog.InfoContext(ctx, "agent run starting", "action", ev.Action)
}

func (h *StatsHook) OnRunDone(ctx context.Context, ev *event.Event, result *RunResult) {
	h.mu.Lock()
	now := h.now()
	h.stats.EventCount++
	h.stats.TotalCost += result.Cost

	if !h.stats.LastEventTime.IsZero() {
		if hours := now.Sub(h.stats.LastEventTime).Hours(); hours > 0 {
			h.stats.HourlyCostRate = h.stats.TotalCost / hours
		}
	}
	h.stats.LastEventTime = now

	rate := h.stats.HourlyCostRate
	count := h.stats.EventCount
	total := h.stats.TotalCost
	h.mu.Unlock()

	if rate > h.targetHourlyCost {
		slog.WarnContext(ctx, "cost rate exceeds target",
			"rate", rate,
			"target", h.targetHourlyCost)
	}

	slog.InfoContext(ctx, "agent run done",
		"events", count,
		"total_cost", total,
		"rate", rate)
}

// Stats returns a snapshot of the accumulated totals.
func (h *StatsHook) Stats() RunStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Commenter posts a result back to the event's subject.
type Commenter interface {
	PostComment(ctx context.Context, ev *event.Event, body string) error
}

// CommentHook posts the run summary as a comment on the subject. Failures
// are logged, not surfaced: the run already happened and was paid for.
type CommentHook struct {
	commenter Commenter
}

func NewCommentHook(commenter Commenter) *CommentHook {
	return &CommentHook{commenter: commenter}
}

func (h *CommentHook) OnRunStart(ctx context.Context, ev *event.Event) {}

func (h *CommentHook) OnRunDone(ctx context.Context, ev *event.Event, result *RunResult) {
	if result.Summary == "" {
		return
	}
	body := fmt.Sprintf("**Agent report**\n\n%s", result.Summary)
	if err := h.commenter.PostComment(ctx, ev, body); err != nil {
		slog.ErrorContext(ctx, "failed to post result comment", "error", err)
	}
}
