package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within
// a context. Handlers and the processor enrich the context once; every log
// statement downstream carries the event identity without threading it by hand.
type LogFields struct {
	EventID   *string // governed event identity, e.g. "issues-123"
	EventType *string // event type ("issues", "pull_request", "discussion")
	Action    *string // event action ("opened", "edited", ...)
	Delivery  *string // delivery mode ("webhook" or "action")
	Component string  // component name, e.g. "gatehouse.governor"
}

// WithLogFields enriches context with structured log fields. Multiple calls
// merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context, empty if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, update LogFields) LogFields {
	result := existing

	if update.EventID != nil {
		result.EventID = update.EventID
	}
	if update.EventType != nil {
		result.EventType = update.EventType
	}
	if update.Action != nil {
		result.Action = update.Action
	}
	if update.Delivery != nil {
		result.Delivery = update.Delivery
	}
	if update.Component != "" {
		result.Component = update.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value, for setting LogFields
// inline: logger.WithLogFields(ctx, logger.LogFields{EventID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}
