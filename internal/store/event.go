package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gatehouse-hq/gatehouse/common/id"
	"github.com/gatehouse-hq/gatehouse/core/db"
	"github.com/gatehouse-hq/gatehouse/internal/model"
)

type eventStore struct {
	db               *db.DB
	now              func() time.Time
	targetHourlyCost float64

	// Serializes mutating critical sections, not just individual statements,
	// so insert-then-journal sequences are atomic across callers.
	mu sync.Mutex
}

type Option func(*eventStore)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *eventStore) {
		s.now = now
	}
}

func New(database *db.DB, targetHourlyCost float64, opts ...Option) Store {
	s := &eventStore{
		db:               database,
		now:              time.Now,
		targetHourlyCost: targetHourlyCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *eventStore) SaveEvent(ctx context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Pool().Exec(ctx, `
		INSERT INTO events (id, type, action, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.Type, ev.Action, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *eventStore) MarkEventProcessed(ctx context.Context, eventID string, cost float64, tokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE events
			SET processed_at = $2, cost = $3, tokens = $4
			WHERE id = $1`,
			eventID, now, cost, tokens,
		); err != nil {
			return fmt.Errorf("updating event: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO cost_tracking (id, event_id, timestamp, cost, tokens)
			VALUES ($1, $2, $3, $4, $5)`,
			id.New(), eventID, now, cost, tokens,
		); err != nil {
			return fmt.Errorf("appending cost entry: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("marking event %s processed: %w", eventID, err)
	}
	return nil
}

func (s *eventStore) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	var ev model.Event
	err := s.db.Pool().QueryRow(ctx, `
		SELECT id, type, action, created_at, processed_at, cost, tokens
		FROM events
		WHERE id = $1`,
		eventID,
	).Scan(&ev.ID, &ev.Type, &ev.Action, &ev.CreatedAt, &ev.ProcessedAt, &ev.Cost, &ev.Tokens)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting event %s: %w", eventID, err)
	}
	return &ev, nil
}

func (s *eventStore) SaveModelState(ctx context.Context, eventID string, state json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Pool().Exec(ctx, `
		INSERT INTO model_states (event_id, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO UPDATE
		SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		eventID, state, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving model state for %s: %w", eventID, err)
	}
	return nil
}

func (s *eventStore) GetModelState(ctx context.Context, eventID string) (*model.ModelState, error) {
	var st model.ModelState
	err := s.db.Pool().QueryRow(ctx, `
		SELECT event_id, state, updated_at
		FROM model_states
		WHERE event_id = $1`,
		eventID,
	).Scan(&st.EventID, &st.State, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting model state for %s: %w", eventID, err)
	}
	return &st, nil
}

func (s *eventStore) GetHourlyCost(ctx context.Context, window time.Duration) (float64, error) {
	if window <= 0 {
		window = time.Hour
	}
	start := s.now().UTC().Add(-window)

	var total float64
	err := s.db.Pool().QueryRow(ctx, `
		SELECT COALESCE(SUM(cost), 0)
		FROM cost_tracking
		WHERE timestamp >= $1`,
		start,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing cost window: %w", err)
	}

	return total / window.Hours(), nil
}

func (s *eventStore) GetEventStats(ctx context.Context, eventType *string, window time.Duration) ([]model.EventStat, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	start := s.now().UTC().Add(-window)

	query := `
		SELECT type, COUNT(*), COALESCE(SUM(cost), 0), COALESCE(SUM(tokens), 0)
		FROM events
		WHERE processed_at >= $1`
	args := []any{start}

	if eventType != nil {
		query += ` AND type = $2`
		args = append(args, *eventType)
	}
	query += ` GROUP BY type`

	rows, err := s.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying event stats: %w", err)
	}
	defer rows.Close()

	var stats []model.EventStat
	for rows.Next() {
		var st model.EventStat
		if err := rows.Scan(&st.Type, &st.Count, &st.TotalCost, &st.TotalTokens); err != nil {
			return nil, fmt.Errorf("scanning event stat: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading event stats: %w", err)
	}
	return stats, nil
}

func (s *eventStore) IsCostEfficient(ctx context.Context) (bool, error) {
	hourly, err := s.GetHourlyCost(ctx, time.Hour)
	if err != nil {
		return false, err
	}
	return hourly <= s.targetHourlyCost, nil
}

func (s *eventStore) CleanupOldEvents(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-retention)

	var removed int64
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		// Journal first, then cached state, then the event rows themselves.
		// Journal entries are also removed by event age so rows charged after
		// the cutoff don't strand their expired event.
		if _, err := tx.Exec(ctx, `
			DELETE FROM cost_tracking
			WHERE timestamp < $1
			   OR event_id IN (SELECT id FROM events WHERE created_at < $1)`,
			cutoff,
		); err != nil {
			return fmt.Errorf("deleting cost entries: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM model_states
			WHERE event_id IN (SELECT id FROM events WHERE created_at < $1)`,
			cutoff,
		); err != nil {
			return fmt.Errorf("deleting model states: %w", err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM events WHERE created_at < $1`, cutoff)
		if err != nil {
			return fmt.Errorf("deleting events: %w", err)
		}
		removed = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleaning up old events: %w", err)
	}

	return removed, nil
}
