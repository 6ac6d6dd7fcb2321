package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gatehouse-hq/gatehouse/common/logger"
	"github.com/gatehouse-hq/gatehouse/internal/event"
	"github.com/gatehouse-hq/gatehouse/internal/governor"
	"github.com/gatehouse-hq/gatehouse/internal/router"
)

// ProcessResult reports what happened to a single inbound event.
type ProcessResult struct {
	EventID  string
	Admitted bool // cleared governance and joined the batch
	Flushed  bool // the batch ran as a consequence of this event
	RanCount int  // events processed in the flush
}

// Processor ties the Router and Governor together: validate, admit, batch,
// run, journal. Both the webhook path and the one-shot action path go
// through here, so governance checks see every delivery mode.
type Processor struct {
	router   *router.Router
	governor *governor.Governor
}

func NewProcessor(r *router.Router, g *governor.Governor) *Processor {
	return &Processor{
		router:   r,
		governor: g,
	}
}

// Process runs one event through validation and governance. Validation
// failures surface as router.ErrUnsupported* for the caller to map; a
// governance denial is a successful no-op with Admitted=false. When the
// event fills the batch, the whole batch runs and the spend is journaled
// before Process returns.
func (p *Processor) Process(ctx context.Context, ev *event.Event) (*ProcessResult, error) {
	eventID := ev.ID()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventID:   logger.Ptr(eventID),
		EventType: logger.Ptr(string(ev.Type)),
		Action:    logger.Ptr(ev.Action),
		Component: "gatehouse.processor",
	})

	if err := p.router.Validate(ev); err != nil {
		return nil, err
	}

	ok, err := p.governor.ShouldProcess(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("governance check: %w", err)
	}
	if !ok {
		slog.InfoContext(ctx, "event deferred by governance")
		return &ProcessResult{EventID: eventID}, nil
	}

	result := &ProcessResult{EventID: eventID, Admitted: true}
	if !p.governor.AddToBatch(ev) {
		slog.DebugContext(ctx, "event admitted, batch not ready")
		return result, nil
	}

	ran, err := p.flush(ctx)
	if err != nil {
		return nil, err
	}
	result.Flushed = true
	result.RanCount = ran
	return result, nil
}

// flush drains the batch, runs the agent once per event, and attributes the
// combined spend evenly across the batch. If a run fails mid-batch, the
// completed runs are still journaled before the error surfaces; the failed
// event is not retried.
func (p *Processor) flush(ctx context.Context) (int, error) {
	batch := p.governor.GetBatch()
	if len(batch) == 0 {
		return 0, nil
	}

	var (
		ids         []string
		totalCost   float64
		totalTokens int64
	)

	for _, ev := range batch {
		eventID := ev.ID()

		prior, err := p.governor.GetCachedState(ctx, eventID)
		if err != nil {
			slog.WarnContext(ctx, "cached state lookup failed", "event_id", eventID, "error", err)
		}

		runResult, err := p.router.Dispatch(ctx, ev, prior)
		if err != nil {
			if trackErr := p.governor.TrackProcessing(ctx, ids, totalCost, totalTokens); trackErr != nil {
				slog.ErrorContext(ctx, "failed to journal partial batch", "error", trackErr)
			}
			return len(ids), fmt.Errorf("dispatching %s: %w", eventID, err)
		}

		state, _ := json.Marshal(map[string]any{
			"summary": runResult.Summary,
			"tokens":  runResult.Tokens,
		})
		if err := p.governor.CacheState(ctx, eventID, state); err != nil {
			slog.WarnContext(ctx, "failed to cache run state", "event_id", eventID, "error", err)
		}

		ids = append(ids, eventID)
		totalCost += runResult.Cost
		totalTokens += runResult.Tokens
	}

	if err := p.governor.TrackProcessing(ctx, ids, totalCost, totalTokens); err != nil {
		return len(ids), fmt.Errorf("journaling batch: %w", err)
	}

	slog.InfoContext(ctx, "batch processed",
		"events", len(ids),
		"total_cost", totalCost,
		"total_tokens", totalTokens)

	return len(ids), nil
}
