package governor_test

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gatehouse-hq/gatehouse/internal/model"
	"github.com/gatehouse-hq/gatehouse/internal/store"
)

type mockStore struct {
	saveEventFn          func(ctx context.Context, ev *model.Event) error
	markEventProcessedFn func(ctx context.Context, eventID string, cost float64, tokens int64) error
	getEventFn           func(ctx context.Context, eventID string) (*model.Event, error)
	saveModelStateFn     func(ctx context.Context, eventID string, state json.RawMessage) error
	getModelStateFn      func(ctx context.Context, eventID string) (*model.ModelState, error)
	getHourlyCostFn      func(ctx context.Context, window time.Duration) (float64, error)
	getEventStatsFn      func(ctx context.Context, eventType *string, window time.Duration) ([]model.EventStat, error)
	isCostEfficientFn    func(ctx context.Context) (bool, error)
	cleanupOldEventsFn   func(ctx context.Context, retention time.Duration) (int64, error)
}

func (m *mockStore) SaveEvent(ctx context.Context, ev *model.Event) error {
	if m.saveEventFn != nil {
		return m.saveEventFn(ctx, ev)
	}
	return nil
}

func (m *mockStore) MarkEventProcessed(ctx context.Context, eventID string, cost float64, tokens int64) error {
	if m.markEventProcessedFn != nil {
		return m.markEventProcessedFn(ctx, eventID, cost, tokens)
	}
	return nil
}

func (m *mockStore) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	if m.getEventFn != nil {
		return m.getEventFn(ctx, eventID)
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) SaveModelState(ctx context.Context, eventID string, state json.RawMessage) error {
	if m.saveModelStateFn != nil {
		return m.saveModelStateFn(ctx, eventID, state)
	}
	return nil
}

func (m *mockStore) GetModelState(ctx context.Context, eventID string) (*model.ModelState, error) {
	if m.getModelStateFn != nil {
		return m.getModelStateFn(ctx, eventID)
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) GetHourlyCost(ctx context.Context, window time.Duration) (float64, error) {
	if m.getHourlyCostFn != nil {
		return m.getHourlyCostFn(ctx, window)
	}
	return 0, nil
}

func (m *mockStore) GetEventStats(ctx context.Context, eventType *string, window time.Duration) ([]model.EventStat, error) {
	if m.getEventStatsFn != nil {
		return m.getEventStatsFn(ctx, eventType, window)
	}
	return nil, nil
}

func (m *mockStore) IsCostEfficient(ctx context.Context) (bool, error) {
	if m.isCostEfficientFn != nil {
		return m.isCostEfficientFn(ctx)
	}
	return true, nil
}

func (m *mockStore) CleanupOldEvents(ctx context.Context, retention time.Duration) (int64, error) {
	if m.cleanupOldEventsFn != nil {
		return m.cleanupOldEventsFn(ctx, retention)
	}
	return 0, nil
}
