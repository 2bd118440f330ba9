package sdk

import (
	json "github.com/goccy/go-json"
)

// eventsPayload is the wire envelope for an event batch.
type eventsPayload struct {
	Events     []Event        `json:"events"`
	User       map[string]any `json:"user,omitempty"`
	SDKVersion string         `json:"sdk_version"`
}

// summariesPayload is the wire envelope for a summary batch.
type summariesPayload struct {
	Summaries  []Summary      `json:"summaries"`
	User       map[string]any `json:"user,omitempty"`
	SDKVersion string         `json:"sdk_version"`
}

// marshalEventsPayload serializes an event batch for delivery.
func marshalEventsPayload(events []Event, user map[string]any) ([]byte, error) {
	data, err := json.Marshal(eventsPayload{
		Events:     events,
		User:       user,
		SDKVersion: Version,
	})
	if err != nil {
		return nil, NewError(ErrorTypeInternal, "failed to serialize event batch", err)
	}
	return data, nil
}

// marshalSummariesPayload serializes a summary batch for delivery.
func marshalSummariesPayload(summaries []Summary, user map[string]any) ([]byte, error) {
	data, err := json.Marshal(summariesPayload{
		Summaries:  summaries,
		User:       user,
		SDKVersion: Version,
	})
	if err != nil {
		return nil, NewError(ErrorTypeInternal, "failed to serialize summary batch", err)
	}
	return data, nil
}
