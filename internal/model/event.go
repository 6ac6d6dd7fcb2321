package model

import (
	"encoding/json"
	"time"
)

// Event is a row in the events ledger. Identity is stable and
// content-independent: the same subject number always maps to the same row.
type Event struct {
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Cost        *float64        `json:"cost,omitempty"`
	Tokens      *int64          `json:"tokens,omitempty"`
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Action      string          `json:"action"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// CostEntry is an append-only journal row; one per processing attempt.
type CostEntry struct {
	Timestamp time.Time `json:"timestamp"`
	EventID   string    `json:"event_id"`
	ID        int64     `json:"id"`
	Cost      float64   `json:"cost"`
	Tokens    int64     `json:"tokens"`
}

// ModelState is cached agent state for an event. The state blob is opaque to
// the store; readers must treat an entry older than the cache TTL as absent.
type ModelState struct {
	UpdatedAt time.Time       `json:"updated_at"`
	EventID   string          `json:"event_id"`
	State     json.RawMessage `json:"state"`
}

// EventStat is one row of grouped processing statistics.
type EventStat struct {
	Type        string  `json:"type"`
	Count       int64   `json:"count"`
	TotalCost   float64 `json:"total_cost"`
	TotalTokens int64   `json:"total_tokens"`
}
