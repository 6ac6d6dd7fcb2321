package governor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gatehouse-hq/gatehouse/core/config"
	"github.com/gatehouse-hq/gatehouse/internal/event"
	"github.com/gatehouse-hq/gatehouse/internal/store"
)

// Governor is the in-memory cost policy engine: dedup set, batch accumulator,
// fixed-window rate limiter, and TTL-gated model-state reuse. It consults and
// updates the Store but owns no durable state itself; the dedup set, batch,
// and rate window are process-local and reset on restart.
//
// All mutable fields sit behind one mutex so governance decisions are safe
// under concurrent webhook workers.
type Governor struct {
	store store.Store
	now   func() time.Time

	targetHourlyCost float64
	maxBatchSize     int
	cacheTTL         time.Duration
	rateBudget       int
	rateWindow       time.Duration

	mu            sync.Mutex
	admitted      map[string]struct{}
	batch         []*event.Event
	rateTokens    int
	rateLastReset time.Time
}

type Option func(*Governor)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		g.now = now
	}
}

func New(st store.Store, cfg config.GovernanceConfig, opts ...Option) *Governor {
	g := &Governor{
		store:            st,
		now:              time.Now,
		targetHourlyCost: cfg.TargetHourlyCost,
		maxBatchSize:     cfg.MaxBatchSize,
		cacheTTL:         cfg.CacheTTL,
		rateBudget:       cfg.RateLimitBudget,
		rateWindow:       cfg.RateLimitWindow,
		admitted:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.rateTokens = g.rateBudget
	g.rateLastReset = g.now()
	return g
}

// ShouldProcess decides whether the event is worth an agent invocation right
// now. A false return is a policy decision, not an error: duplicate identity,
// already processed in the ledger, over budget, or rate-limited.
func (g *Governor) ShouldProcess(ctx context.Context, ev *event.Event) (bool, error) {
	eventID := ev.ID()

	g.mu.Lock()
	if _, dup := g.admitted[eventID]; dup {
		g.mu.Unlock()
		slog.DebugContext(ctx, "event already admitted", "event_id", eventID)
		return false, nil
	}
	g.mu.Unlock()

	// A fresh process has an empty admitted set; the ledger still remembers.
	stored, err := g.store.GetEvent(ctx, eventID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("checking processed state: %w", err)
	}
	if stored != nil && stored.ProcessedAt != nil {
		slog.DebugContext(ctx, "event already processed", "event_id", eventID)
		return false, nil
	}

	efficient, err := g.store.IsCostEfficient(ctx)
	if err != nil {
		return false, fmt.Errorf("checking cost efficiency: %w", err)
	}
	if !efficient {
		slog.WarnContext(ctx, "cost efficiency target exceeded", "event_id", eventID)
		return false, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.checkRateLimitLocked() {
		slog.WarnContext(ctx, "rate limit exceeded", "event_id", eventID)
		return false, nil
	}

	return true, nil
}

// AddToBatch appends the event and marks its identity admitted. Returns true
// once the batch has reached max size and is ready to flush.
func (g *Governor) AddToBatch(ev *event.Event) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.batch = append(g.batch, ev)
	g.admitted[ev.ID()] = struct{}{}
	return len(g.batch) >= g.maxBatchSize
}

// GetBatch returns the accumulated events in admission order and clears the
// batch.
func (g *Governor) GetBatch() []*event.Event {
	g.mu.Lock()
	defer g.mu.Unlock()

	batch := g.batch
	g.batch = nil
	return batch
}

// TrackProcessing divides total cost and tokens evenly across the given
// event ids, writes one ledger update per event, and decrements the rate
// budget by the event count. Tokens use integer division; the remainder is
// dropped rather than attributed.
func (g *Governor) TrackProcessing(ctx context.Context, eventIDs []string, totalCost float64, totalTokens int64) error {
	count := int64(len(eventIDs))
	if count == 0 {
		return nil
	}

	costPerEvent := totalCost / float64(count)
	tokensPerEvent := totalTokens / count

	for _, eventID := range eventIDs {
		if err := g.store.MarkEventProcessed(ctx, eventID, costPerEvent, tokensPerEvent); err != nil {
			return fmt.Errorf("tracking event %s: %w", eventID, err)
		}
	}

	g.mu.Lock()
	g.rateTokens -= int(count)
	g.mu.Unlock()

	return nil
}

// GetCachedState returns the cached model state for an event, or nil when
// no entry exists or the entry is older than the cache TTL. A stale entry is
// treated exactly like an absent one.
func (g *Governor) GetCachedState(ctx context.Context, eventID string) (json.RawMessage, error) {
	st, err := g.store.GetModelState(ctx, eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cached state: %w", err)
	}

	if g.now().Sub(st.UpdatedAt) > g.cacheTTL {
		slog.DebugContext(ctx, "cached state expired", "event_id", eventID, "updated_at", st.UpdatedAt)
		return nil, nil
	}

	return st.State, nil
}

// CacheState stores model state for an event, overwriting any prior entry.
// The store stamps the write time.
func (g *Governor) CacheState(ctx context.Context, eventID string, state json.RawMessage) error {
	if err := g.store.SaveModelState(ctx, eventID, state); err != nil {
		return fmt.Errorf("caching state: %w", err)
	}
	return nil
}

// Stats summarizes recent processing for the stats endpoint.
type Stats struct {
	HourlyCost      float64 `json:"hourly_cost"`
	EventsProcessed int64   `json:"events_processed"`
	Efficiency      float64 `json:"efficiency"`
}

// GetStats reports the trailing-hour cost rate, event count, and the ratio of
// target to actual spend (1.0 when nothing has been spent).
func (g *Governor) GetStats(ctx context.Context) (Stats, error) {
	hourly, err := g.store.GetHourlyCost(ctx, time.Hour)
	if err != nil {
		return Stats{}, fmt.Errorf("reading hourly cost: %w", err)
	}

	stats, err := g.store.GetEventStats(ctx, nil, time.Hour)
	if err != nil {
		return Stats{}, fmt.Errorf("reading event stats: %w", err)
	}

	var total int64
	for _, st := range stats {
		total += st.Count
	}

	efficiency := 1.0
	if hourly > 0 {
		efficiency = g.targetHourlyCost / hourly
	}

	return Stats{
		HourlyCost:      hourly,
		EventsProcessed: total,
		Efficiency:      efficiency,
	}, nil
}

// checkRateLimitLocked lazily resets the fixed window once its deadline has
// passed; there is no background timer. Caller holds g.mu.
func (g *Governor) checkRateLimitLocked() bool {
	now := g.now()
	if now.Sub(g.rateLastReset) >= g.rateWindow {
		g.rateTokens = g.rateBudget
		g.rateLastReset = now
	}
	return g.rateTokens > 0
}
