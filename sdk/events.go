package sdk

import (
	"strings"
)

// Event is one analytics event queued for delivery. InsertID uniquely
// identifies the event so the backend can deduplicate retried batches;
// SessionID ties the event to the session active at enqueue time.
type Event struct {
	// Name is the event name, required
	Name string `json:"event_name"`
	// Properties are optional event attributes
	Properties map[string]any `json:"properties,omitempty"`
	// Timestamp is when the event was recorded, in epoch milliseconds
	Timestamp int64 `json:"event_timestamp"`
	// SessionID is the session active when the event was recorded
	SessionID string `json:"session_id"`
	// InsertID uniquely identifies this event instance
	InsertID string `json:"insert_id"`
}

// validateEvent rejects events with a blank name.
func validateEvent(e Event) error {
	if strings.TrimSpace(e.Name) == "" {
		return NewError(ErrorTypeValidation, "event name must not be blank", ErrValidation)
	}
	return nil
}
