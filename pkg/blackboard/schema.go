package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys are namespaced so several drey deployments can share one Redis server.
//
// Staging key pattern: drey:{namespace}:staging:{kind}:{objective_id}
// Stream key pattern:  drey:{namespace}:stream:{stream_name}

// StagingKind identifies which of the three staged records a key refers to.
type StagingKind string

const (
	// KindRaw holds the untouched user input and the objective id assigned at ingest
	KindRaw StagingKind = "raw"

	// KindObjective holds the structured objective awaiting approval
	KindObjective StagingKind = "objective"

	// KindPlan holds the drafted plan steps
	KindPlan StagingKind = "plan"
)

// StagingKinds lists every staged record kind. ClearStaging removes all of them together.
var StagingKinds = []StagingKind{KindRaw, KindObjective, KindPlan}

// StagingKey returns the Redis key for a staged record.
// Pattern: drey:{namespace}:staging:{kind}:{objective_id}
func StagingKey(namespace string, kind StagingKind, objectiveID string) string {
	return fmt.Sprintf("drey:%s:staging:%s:%s", namespace, kind, objectiveID)
}

// EventStreamKey returns the Redis key of the event stream.
// Pattern: drey:{namespace}:stream:{stream_name}
func EventStreamKey(namespace, streamName string) string {
	return fmt.Sprintf("drey:%s:stream:%s", namespace, streamName)
}

// RawKey returns the staging key for the raw input of an objective.
func (c *Client) RawKey(objectiveID string) string {
	return StagingKey(c.namespace, KindRaw, objectiveID)
}

// ObjectiveKey returns the staging key for the structured objective.
func (c *Client) ObjectiveKey(objectiveID string) string {
	return StagingKey(c.namespace, KindObjective, objectiveID)
}

// PlanKey returns the staging key for the drafted plan.
func (c *Client) PlanKey(objectiveID string) string {
	return StagingKey(c.namespace, KindPlan, objectiveID)
}
