package objective

import "fmt"

// EventType identifies a domain event on the objective stream.
type EventType string

const (
	// Objective lifecycle
	EventUserInputReceived   EventType = "user_input_received"
	EventObjectiveStructured EventType = "objective_structured"
	EventPlanDrafted         EventType = "plan_drafted"
	EventPlanConfirmed       EventType = "plan_confirmed"
	EventPlanRejected        EventType = "plan_rejected"
	EventObjectivePersisted  EventType = "objective_persisted"
	EventProgressUpdated     EventType = "progress_updated"
	EventPersistenceFailed   EventType = "persistence_failed"

	// Knowledge capture. Published by downstream consumers; drey only routes them.
	EventLearningCaptured    EventType = "learning_captured"
	EventDecisionLogged      EventType = "decision_logged"
	EventReflectionRequested EventType = "reflection_requested"
	EventReflectionCompleted EventType = "reflection_completed"
	EventInsightGenerated    EventType = "insight_generated"
)

// Event is a domain event appended to the objective stream.
// ObjectiveID may be empty for events that are not tied to an objective.
// An empty IdempotencyKey means no deduplication is requested.
type Event struct {
	EventType      EventType      `json:"event_type"`
	ObjectiveID    string         `json:"objective_id"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// NewEvent builds an event with a non-nil payload.
func NewEvent(t EventType, objectiveID string, payload map[string]any) *Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Event{
		EventType:   t,
		ObjectiveID: objectiveID,
		Payload:     payload,
	}
}

// WithIdempotencyKey sets the deduplication key and returns the event.
func (e *Event) WithIdempotencyKey(key string) *Event {
	e.IdempotencyKey = key
	return e
}

// Validate checks if the EventType is a valid enum value.
func (t EventType) Validate() error {
	switch t {
	case EventUserInputReceived, EventObjectiveStructured, EventPlanDrafted,
		EventPlanConfirmed, EventPlanRejected, EventObjectivePersisted,
		EventProgressUpdated, EventPersistenceFailed, EventLearningCaptured,
		EventDecisionLogged, EventReflectionRequested, EventReflectionCompleted,
		EventInsightGenerated:
		return nil
	default:
		return fmt.Errorf("unknown event type: %q", t)
	}
}

// Validate checks if the Event has valid field values.
func (e *Event) Validate() error {
	if err := e.EventType.Validate(); err != nil {
		return fmt.Errorf("invalid event type: %w", err)
	}
	return nil
}
