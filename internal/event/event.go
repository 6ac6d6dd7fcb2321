package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EventNameField is the reserved payload field carrying the event type. The
// webhook path injects it from the X-GitHub-Event header; one-shot payloads
// must carry it themselves. Downstream code never sees the delivery mode.
const EventNameField = "event_name"

type Type string

const (
	TypeIssues      Type = "issues"
	TypePullRequest Type = "pull_request"
	TypeDiscussion  Type = "discussion"
)

// Subject is the issue, pull request, or discussion an event refers to.
type Subject struct {
	Title  string `json:"title"`
	Number int64  `json:"number"`
}

// Event is the parsed, delivery-mode-agnostic form of an inbound payload.
// Subject is nil when the payload carries no recognizable subject object;
// such events fall back to a content-hash identity.
type Event struct {
	ReceivedAt time.Time
	Type       Type
	Action     string
	Repo       string // repository full name ("owner/name"), may be empty
	Subject    *Subject
	Raw        json.RawMessage
}

type envelope struct {
	EventName   string   `json:"event_name"`
	Action      string   `json:"action"`
	Issue       *Subject `json:"issue"`
	PullRequest *Subject `json:"pull_request"`
	Discussion  *Subject `json:"discussion"`
	Repository  struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Parse decodes a raw payload into a typed Event. The payload must carry the
// event_name field; the subject object matching the event type, when present,
// must carry a positive number and a title.
func Parse(raw []byte, now time.Time) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding event payload: %w", err)
	}
	if env.EventName == "" {
		return nil, fmt.Errorf("missing %s field", EventNameField)
	}

	ev := &Event{
		ReceivedAt: now,
		Type:       Type(env.EventName),
		Action:     env.Action,
		Repo:       env.Repository.FullName,
		Raw:        json.RawMessage(raw),
	}

	var subject *Subject
	switch ev.Type {
	case TypeIssues:
		subject = env.Issue
	case TypePullRequest:
		subject = env.PullRequest
	case TypeDiscussion:
		subject = env.Discussion
	}

	if subject != nil {
		if subject.Number <= 0 {
			return nil, fmt.Errorf("%s payload has no subject number", env.EventName)
		}
		if subject.Title == "" {
			return nil, fmt.Errorf("%s payload has no subject title", env.EventName)
		}
		ev.Subject = subject
	}

	return ev, nil
}

// ID returns the stable identity key for the event: "<type>-<number>" when a
// subject exists. Events without one fall back to a hash of the raw payload;
// that key is not stable across reordered-but-equivalent payloads, which is a
// known weak dedup path.
func (e *Event) ID() string {
	if e.Subject != nil {
		return fmt.Sprintf("%s-%d", e.Type, e.Subject.Number)
	}
	sum := sha256.Sum256(e.Raw)
	return fmt.Sprintf("%s-%s", e.Type, hex.EncodeToString(sum[:6]))
}
