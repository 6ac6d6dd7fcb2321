package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gatehouse-hq/gatehouse/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Store is the durable ledger of events, processing outcomes, cached model
// state, and the cost journal. It knows nothing about HTTP or event
// semantics. All mutating operations are serialized behind a process-wide
// lock so check-then-write sequences are atomic with respect to other
// callers.
type Store interface {
	// SaveEvent inserts the event row, ignoring the insert if the identity
	// already exists. This is what makes re-delivery of the same webhook safe.
	SaveEvent(ctx context.Context, ev *model.Event) error
	// MarkEventProcessed updates the event row and appends a cost journal
	// entry in the same transaction.
	MarkEventProcessed(ctx context.Context, eventID string, cost float64, tokens int64) error
	// GetEvent is a point lookup by identity; ErrNotFound when absent.
	GetEvent(ctx context.Context, eventID string) (*model.Event, error)

	SaveModelState(ctx context.Context, eventID string, state json.RawMessage) error
	GetModelState(ctx context.Context, eventID string) (*model.ModelState, error)

	// GetHourlyCost sums journal entries within the trailing window and
	// normalizes to a per-hour rate; zero if none.
	GetHourlyCost(ctx context.Context, window time.Duration) (float64, error)
	GetEventStats(ctx context.Context, eventType *string, window time.Duration) ([]model.EventStat, error)
	IsCostEfficient(ctx context.Context) (bool, error)

	// CleanupOldEvents deletes journal entries, cached state, and event rows
	// older than the retention cutoff, in that dependency order, as a single
	// atomic transaction. Returns the count of removed event rows.
	CleanupOldEvents(ctx context.Context, retention time.Duration) (int64, error)
}
