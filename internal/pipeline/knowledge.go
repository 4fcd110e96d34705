package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dyluth/drey/internal/telemetry"
	"github.com/dyluth/drey/pkg/objective"
)

// DecisionInput is a decision as submitted by a user.
type DecisionInput struct {
	Decision          string
	Why               string
	Context           string
	Alternatives      []string
	ExpectedOutcome   string
	Tags              []string
	SourceObjectiveID string
}

// LearningInput is a learning as submitted by a user. An unknown category becomes insight.
type LearningInput struct {
	Content           string
	Category          string
	Tags              []string
	SourceObjectiveID string
}

// LogDecision records a decision in the relational store and the vector index and
// publishes decision_logged. Partial failures are reconciled the way Commit does.
func (p *Pipeline) LogDecision(ctx context.Context, in DecisionInput) (d *objective.Decision, err error) {
	ctx, span := telemetry.StartSpan(ctx, p.tracer, "pipeline.log_decision",
		telemetry.AttrObjectiveID.String(in.SourceObjectiveID))
	defer func() { telemetry.EndSpan(span, err) }()

	d = objective.NewDecision()
	d.Decision = strings.TrimSpace(in.Decision)
	d.Why = strings.TrimSpace(in.Why)
	d.Context = strings.TrimSpace(in.Context)
	d.AlternativesConsidered = cleanList(in.Alternatives)
	d.ExpectedOutcome = strings.TrimSpace(in.ExpectedOutcome)
	d.Tags = cleanList(in.Tags)
	d.SourceObjectiveID = strings.TrimSpace(in.SourceObjectiveID)
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	err = p.dualWrite(ctx, RecordDecision, d.ID,
		func(ctx context.Context) error { return p.knowledge.SaveDecision(ctx, d) },
		func(ctx context.Context) error {
			return p.upsertRecord(ctx, d.ID, d.EmbeddingText(), d, RecordDecision)
		})
	if err != nil {
		return nil, err
	}

	p.publishBestEffort(ctx, objective.NewEvent(objective.EventDecisionLogged, d.SourceObjectiveID, map[string]any{
		"decision_id": d.ID,
	}))

	p.logEvent("decision_logged", map[string]interface{}{
		"decision_id":         d.ID,
		"source_objective_id": d.SourceObjectiveID,
		"alternatives":        len(d.AlternativesConsidered),
	})
	return d, nil
}

// CaptureLearning records a learning in the relational store and the vector index and
// publishes learning_captured.
func (p *Pipeline) CaptureLearning(ctx context.Context, in LearningInput) (l *objective.Learning, err error) {
	ctx, span := telemetry.StartSpan(ctx, p.tracer, "pipeline.capture_learning",
		telemetry.AttrObjectiveID.String(in.SourceObjectiveID))
	defer func() { telemetry.EndSpan(span, err) }()

	l = objective.NewLearning()
	l.Content = strings.TrimSpace(in.Content)
	l.Category = objective.ParseLearningCategory(in.Category)
	l.Tags = cleanList(in.Tags)
	l.SourceObjectiveID = strings.TrimSpace(in.SourceObjectiveID)
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	err = p.dualWrite(ctx, RecordLearning, l.ID,
		func(ctx context.Context) error { return p.knowledge.SaveLearning(ctx, l) },
		func(ctx context.Context) error {
			return p.upsertRecord(ctx, l.ID, l.EmbeddingText(), l, RecordLearning)
		})
	if err != nil {
		return nil, err
	}

	p.publishBestEffort(ctx, objective.NewEvent(objective.EventLearningCaptured, l.SourceObjectiveID, map[string]any{
		"learning_id": l.ID,
	}))

	p.logEvent("learning_captured", map[string]interface{}{
		"learning_id":         l.ID,
		"category":            string(l.Category),
		"source_objective_id": l.SourceObjectiveID,
	})
	return l, nil
}

// ListDecisions returns up to limit decisions, newest first.
func (p *Pipeline) ListDecisions(ctx context.Context, limit int) ([]*objective.Decision, error) {
	ds, err := p.knowledge.ListDecisions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	return ds, nil
}

// ListLearnings returns up to limit learnings, newest first.
func (p *Pipeline) ListLearnings(ctx context.Context, limit int) ([]*objective.Learning, error) {
	ls, err := p.knowledge.ListLearnings(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list learnings: %w", err)
	}
	return ls, nil
}

// dualWrite runs save and index concurrently. A failed save removes the vector entry;
// a failed index is retried once and then only logged.
func (p *Pipeline) dualWrite(ctx context.Context, recordType, id string, save, index func(context.Context) error) error {
	var (
		wg     sync.WaitGroup
		relErr error
		vecErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		relErr = save(ctx)
	}()
	go func() {
		defer wg.Done()
		vecErr = index(ctx)
	}()
	wg.Wait()

	switch {
	case relErr != nil && vecErr != nil:
		p.logEvent("record_write_failed", map[string]interface{}{
			"level":            "error",
			"record_type":      recordType,
			"record_id":        id,
			"relational_error": relErr.Error(),
			"vector_error":     vecErr.Error(),
		})
		return fmt.Errorf("%w: %w", ErrBothStoresFailed, errors.Join(relErr, vecErr))

	case relErr != nil:
		p.index.Delete(id)
		p.logEvent("record_write_failed", map[string]interface{}{
			"level":            "error",
			"record_type":      recordType,
			"record_id":        id,
			"relational_error": relErr.Error(),
			"vector_rollback":  true,
		})
		return fmt.Errorf("%w: %w", ErrRelationalWriteFailed, relErr)

	case vecErr != nil:
		if retryErr := index(ctx); retryErr != nil {
			p.logEvent("vector_retry_failed", map[string]interface{}{
				"level":       "error",
				"record_type": recordType,
				"record_id":   id,
				"error":       retryErr.Error(),
			})
		}
	}
	return nil
}

// upsertRecord embeds text and writes the record to the index under id.
func (p *Pipeline) upsertRecord(ctx context.Context, id, text string, record any, recordType string) error {
	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed %s: %w", recordType, err)
	}
	payload, err := vectorPayload(record, recordType)
	if err != nil {
		return err
	}
	if err := p.index.Upsert(id, vec, payload); err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

// cleanList trims entries and drops blanks and duplicates, keeping order.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
