package blackboard

import (
	"encoding/json"
	"fmt"

	"github.com/dyluth/drey/pkg/objective"
)

// Serialization helpers for converting between events and Redis stream entries
//
// A stream entry is a flat string-to-string map. The payload map is JSON-encoded
// into a single field, the remaining event fields are stored verbatim.

// Stream entry field names.
const (
	FieldEventType      = "event_type"
	FieldObjectiveID    = "objective_id"
	FieldPayload        = "payload"
	FieldIdempotencyKey = "idempotency_key"
)

// EventToValues converts an Event to the field map passed to XADD.
func EventToValues(ev *objective.Event) (map[string]interface{}, error) {
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	return map[string]interface{}{
		FieldEventType:      string(ev.EventType),
		FieldObjectiveID:    ev.ObjectiveID,
		FieldPayload:        string(payloadJSON),
		FieldIdempotencyKey: ev.IdempotencyKey,
	}, nil
}

// ValuesToEvent converts the fields of a stream entry back to an Event.
// Missing optional fields decode to their zero value; a missing event_type is an error.
func ValuesToEvent(values map[string]interface{}) (*objective.Event, error) {
	eventType := stringField(values, FieldEventType)
	if eventType == "" {
		return nil, fmt.Errorf("stream entry has no %s field", FieldEventType)
	}

	payload := map[string]any{}
	if raw := stringField(values, FieldPayload); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
		if payload == nil {
			payload = map[string]any{}
		}
	}

	return &objective.Event{
		EventType:      objective.EventType(eventType),
		ObjectiveID:    stringField(values, FieldObjectiveID),
		Payload:        payload,
		IdempotencyKey: stringField(values, FieldIdempotencyKey),
	}, nil
}

func stringField(values map[string]interface{}, name string) string {
	switch v := values[name].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
