// Package pipeline implements the objective lifecycle on top of the staging store, the
// event stream, the relational repository and the vector index.
//
// The flow is two-phase. Submit stages the raw input and announces it on the stream;
// the worker calls Process to structure it and draft a plan, which is staged again for
// a human decision. Confirm then either discards the drafts or commits the approved
// objective to both stores through Commit.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/dyluth/drey/internal/agents"
	"github.com/dyluth/drey/internal/embedding"
	"github.com/dyluth/drey/internal/repository"
	"github.com/dyluth/drey/internal/telemetry"
	"github.com/dyluth/drey/internal/vectorindex"
	"github.com/dyluth/drey/pkg/objective"
)

var (
	// ErrEmptyInput is returned by Submit and Search for blank text
	ErrEmptyInput = errors.New("input text is empty")

	// ErrNoStagedObjective means no objective is staged for the id (never staged, expired, or already decided)
	ErrNoStagedObjective = errors.New("no staged objective found")

	// ErrNoPlanDraft means an approval arrived without modifications and no staged plan
	ErrNoPlanDraft = errors.New("no plan draft found in staging")

	// ErrInvalidPlan wraps plan validation failures
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrBothStoresFailed means neither the relational nor the vector write succeeded
	ErrBothStoresFailed = errors.New("both stores failed")

	// ErrRelationalWriteFailed means the relational write failed and the vector write was rolled back
	ErrRelationalWriteFailed = errors.New("relational write failed, vector entry rolled back")

	// ErrObjectiveNotFound means no committed objective exists for the id
	ErrObjectiveNotFound = errors.New("objective not found")

	// ErrStepNotFound means the plan has no step with the requested number
	ErrStepNotFound = errors.New("plan step not found")

	// ErrInvalidRecord wraps validation failures of decisions and learnings
	ErrInvalidRecord = errors.New("invalid record")

	// ErrAlreadyCommitted means the relational store already holds the objective
	ErrAlreadyCommitted = errors.New("objective already committed")
)

// DefaultSearchLimit applies when Search is called with a non-positive limit.
const DefaultSearchLimit = 10

// DefaultBackfillBatch is the number of objectives loaded by Backfill when no batch size is given.
const DefaultBackfillBatch = 10000

// StagingStore holds drafts awaiting a human decision. *blackboard.Client implements it.
type StagingStore interface {
	Store(ctx context.Context, key string, data any, ttl time.Duration) error
	Retrieve(ctx context.Context, key string, dst any) (bool, error)
	ClearStaging(ctx context.Context, objectiveID string) error
	RawKey(objectiveID string) string
	ObjectiveKey(objectiveID string) string
	PlanKey(objectiveID string) string
}

// EventPublisher appends events to the objective stream. *blackboard.Client implements it.
type EventPublisher interface {
	Publish(ctx context.Context, ev *objective.Event) (string, error)
}

// VectorIndex is the semantic index of committed objectives. *vectorindex.Index implements it.
type VectorIndex interface {
	Upsert(id string, vec []float32, payload map[string]any) error
	Search(vec []float32, limit int) ([]vectorindex.Result, error)
	Delete(id string)
}

// RawInput is the staged record written at ingest.
type RawInput struct {
	RawText     string `json:"raw_text"`
	ObjectiveID string `json:"objective_id"`
}

// PlanDraft is the staged plan awaiting approval.
type PlanDraft struct {
	Steps []objective.PlanStep `json:"steps" yaml:"steps"`
}

// Deps are the collaborators of a Pipeline. Tracer and Metrics are optional.
type Deps struct {
	Staging    StagingStore
	Events     EventPublisher
	Repository repository.ObjectiveRepository
	Knowledge  repository.KnowledgeRepository
	Index      VectorIndex
	Embedder   embedding.Embedder
	Structurer agents.StructuringAgent
	Planner    agents.PlanningAgent
	Tracer     trace.Tracer
	Metrics    *telemetry.Metrics
}

// Options tunes pipeline behaviour.
type Options struct {
	// Namespace is reported in structured log lines
	Namespace string

	// StagingTTL is the lifetime of every staged record; zero uses the store default
	StagingTTL time.Duration
}

// Pipeline runs ingest, confirmation, commit and progress updates.
// It is safe for concurrent use.
type Pipeline struct {
	staging    StagingStore
	events     EventPublisher
	repo       repository.ObjectiveRepository
	knowledge  repository.KnowledgeRepository
	index      VectorIndex
	embedder   embedding.Embedder
	structurer agents.StructuringAgent
	planner    agents.PlanningAgent
	tracer     trace.Tracer
	metrics    *telemetry.Metrics
	namespace  string
	ttl        time.Duration

	// objectives serialises read-modify-write cycles on a single objective
	objectives *keyedMutex
}

// New creates a pipeline. Every dependency except Tracer and Metrics is required.
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Staging == nil:
		return nil, fmt.Errorf("staging store is required")
	case deps.Events == nil:
		return nil, fmt.Errorf("event publisher is required")
	case deps.Repository == nil:
		return nil, fmt.Errorf("objective repository is required")
	case deps.Knowledge == nil:
		return nil, fmt.Errorf("knowledge repository is required")
	case deps.Index == nil:
		return nil, fmt.Errorf("vector index is required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	case deps.Structurer == nil:
		return nil, fmt.Errorf("structuring agent is required")
	case deps.Planner == nil:
		return nil, fmt.Errorf("planning agent is required")
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = telemetry.Disabled().Tracer
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetrics()
	}

	return &Pipeline{
		staging:    deps.Staging,
		events:     deps.Events,
		repo:       deps.Repository,
		knowledge:  deps.Knowledge,
		index:      deps.Index,
		embedder:   deps.Embedder,
		structurer: deps.Structurer,
		planner:    deps.Planner,
		tracer:     tracer,
		metrics:    metrics,
		namespace:  opts.Namespace,
		ttl:        opts.StagingTTL,
		objectives: newKeyedMutex(),
	}, nil
}

// publish appends an event and counts it.
func (p *Pipeline) publish(ctx context.Context, ev *objective.Event) error {
	if _, err := p.events.Publish(ctx, ev); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.EventType, err)
	}
	p.metrics.Published.Add(ctx, 1)
	return nil
}

// publishBestEffort publishes an event whose loss must not fail the operation.
func (p *Pipeline) publishBestEffort(ctx context.Context, ev *objective.Event) {
	if err := p.publish(ctx, ev); err != nil {
		log.Printf("[Pipeline] Warning: %v (objective %s)", err, ev.ObjectiveID)
	}
}

// Record types stored in the "_type" field of index payloads.
const (
	RecordObjective = "objective"
	RecordDecision  = "decision"
	RecordLearning  = "learning"
)

// vectorPayload is the JSON form of a record tagged with its record type.
func vectorPayload(record any, recordType string) (map[string]any, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", recordType, err)
	}
	payload := map[string]any{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", recordType, err)
	}
	payload["_type"] = recordType
	return payload, nil
}

// logEvent logs a structured event in JSON format.
func (p *Pipeline) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	if _, ok := data["level"]; !ok {
		data["level"] = "info"
	}
	data["component"] = "pipeline"
	data["event_type"] = eventType
	data["namespace"] = p.namespace

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Pipeline] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
