package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gatehouse-hq/gatehouse/common/logger"
	"github.com/gatehouse-hq/gatehouse/internal/agent"
	"github.com/gatehouse-hq/gatehouse/internal/event"
	"github.com/gatehouse-hq/gatehouse/internal/model"
	"github.com/gatehouse-hq/gatehouse/internal/store"
)

var (
	ErrUnsupportedEventType = errors.New("unsupported event type")
	ErrUnsupportedAction    = errors.New("unsupported action")
)

// supportedEvents is the fixed matrix of event types and the actions worth
// an agent invocation.
var supportedEvents = map[event.Type][]string{
	event.TypeIssues:      {"opened", "edited"},
	event.TypePullRequest: {"opened", "synchronize"},
	event.TypeDiscussion:  {"created", "edited"},
}

// Router validates inbound events against the supported matrix and dispatches
// them to the agent. A single validated event corresponds to exactly one
// agent invocation attempt; the Router does not retry.
type Router struct {
	store  store.Store
	runner agent.Runner
}

func New(st store.Store, runner agent.Runner) *Router {
	return &Router{
		store:  st,
		runner: runner,
	}
}

// Validate checks the event type and action against the supported matrix.
func (r *Router) Validate(ev *event.Event) error {
	actions, ok := supportedEvents[ev.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, ev.Type)
	}

	for _, action := range actions {
		if ev.Action == action {
			return nil
		}
	}
	return fmt.Errorf("%w: %q for event type %q", ErrUnsupportedAction, ev.Action, ev.Type)
}

// Dispatch selects a handler purely by event type and invokes it. The handler
// records the event as being processed, then runs the agent; it returns only
// after the run completes or fails.
func (r *Router) Dispatch(ctx context.Context, ev *event.Event, prior json.RawMessage) (*agent.RunResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventID:   logger.Ptr(ev.ID()),
		EventType: logger.Ptr(string(ev.Type)),
		Action:    logger.Ptr(ev.Action),
	})

	switch ev.Type {
	case event.TypeIssues:
		return r.handleIssue(ctx, ev, prior)
	case event.TypePullRequest:
		return r.handlePullRequest(ctx, ev, prior)
	case event.TypeDiscussion:
		return r.handleDiscussion(ctx, ev, prior)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEventType, ev.Type)
	}
}

func (r *Router) handleIssue(ctx context.Context, ev *event.Event, prior json.RawMessage) (*agent.RunResult, error) {
	if ev.Subject == nil {
		return nil, fmt.Errorf("issues event %s has no issue payload", ev.ID())
	}
	slog.InfoContext(ctx, "processing issue", "number", ev.Subject.Number, "title", ev.Subject.Title)
	return r.run(ctx, ev, prior)
}

func (r *Router) handlePullRequest(ctx context.Context, ev *event.Event, prior json.RawMessage) (*agent.RunResult, error) {
	if ev.Subject == nil {
		return nil, fmt.Errorf("pull_request event %s has no pull request payload", ev.ID())
	}
	slog.InfoContext(ctx, "processing pull request", "number", ev.Subject.Number, "title", ev.Subject.Title)
	return r.run(ctx, ev, prior)
}

func (r *Router) handleDiscussion(ctx context.Context, ev *event.Event, prior json.RawMessage) (*agent.RunResult, error) {
	if ev.Subject == nil {
		return nil, fmt.Errorf("discussion event %s has no discussion payload", ev.ID())
	}
	slog.InfoContext(ctx, "processing discussion", "number", ev.Subject.Number, "title", ev.Subject.Title)
	return r.run(ctx, ev, prior)
}

func (r *Router) run(ctx context.Context, ev *event.Event, prior json.RawMessage) (*agent.RunResult, error) {
	if err := r.store.SaveEvent(ctx, &model.Event{
		ID:        ev.ID(),
		Type:      string(ev.Type),
		Action:    ev.Action,
		CreatedAt: ev.ReceivedAt,
	}); err != nil {
		return nil, fmt.Errorf("recording event: %w", err)
	}

	result, err := r.runner.Run(ctx, ev, prior)
	if err != nil {
		return nil, fmt.Errorf("agent run: %w", err)
	}
	return result, nil
}
