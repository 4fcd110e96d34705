package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/dyluth/drey/internal/telemetry"
	"github.com/dyluth/drey/pkg/objective"
)

// Commit outcomes recorded on the drey.commit.outcomes counter.
const (
	outcomeCommitted      = "committed"
	outcomeVectorRetried  = "vector_retried"
	outcomeVectorDegraded = "vector_degraded"
	outcomeRelationalFail = "relational_failed"
	outcomeBothFailed     = "both_failed"
	outcomeDuplicate      = "already_committed"
)

// Commit writes an approved objective to the relational store and the vector index
// concurrently and reconciles partial failures:
//
//   - both succeed: committed
//   - both fail: ErrBothStoresFailed
//   - relational fails: the vector entry is deleted and ErrRelationalWriteFailed returned
//   - vector fails: the upsert is retried once with a fresh embedding; a second failure is
//     logged and the commit still succeeds, the relational row being the source of truth
//   - the relational row already exists: the vector entry is rebuilt from the stored row
//     and ErrAlreadyCommitted returned
//
// Fatal outcomes also publish persistence_failed.
func (p *Pipeline) Commit(ctx context.Context, obj *objective.Objective) (err error) {
	ctx, span := telemetry.StartSpan(ctx, p.tracer, "pipeline.commit", telemetry.AttrObjectiveID.String(obj.ID))
	start := time.Now()
	outcome := outcomeCommitted
	defer func() {
		attrs := metric.WithAttributes(telemetry.AttrOutcome.String(outcome))
		p.metrics.CommitDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		p.metrics.CommitOutcomes.Add(ctx, 1, attrs)
		telemetry.EndSpan(span, err)
	}()

	log.Printf("[Pipeline] Committing objective %s to relational store and vector index", obj.ID)

	var (
		wg     sync.WaitGroup
		relErr error
		vecErr error
	)
	record := obj.Clone()

	wg.Add(2)
	go func() {
		defer wg.Done()
		relErr = p.repo.Save(ctx, record)
	}()
	go func() {
		defer wg.Done()
		vecErr = p.upsertVector(ctx, record)
	}()
	wg.Wait()

	if relErr != nil {
		if existing, getErr := p.repo.Get(ctx, obj.ID); getErr == nil {
			outcome = outcomeDuplicate
			return p.restoreCommitted(ctx, existing, relErr)
		}
	}

	switch {
	case relErr != nil && vecErr != nil:
		outcome = outcomeBothFailed
		err = fmt.Errorf("%w: %w", ErrBothStoresFailed, errors.Join(relErr, vecErr))
		p.logEvent("commit_failed", map[string]interface{}{
			"level":            "error",
			"objective_id":     obj.ID,
			"relational_error": relErr.Error(),
			"vector_error":     vecErr.Error(),
		})
		p.publishPersistenceFailed(ctx, obj.ID, outcome, err)
		return err

	case relErr != nil:
		outcome = outcomeRelationalFail
		p.index.Delete(obj.ID)
		err = fmt.Errorf("%w: %w", ErrRelationalWriteFailed, relErr)
		p.logEvent("commit_failed", map[string]interface{}{
			"level":            "error",
			"objective_id":     obj.ID,
			"relational_error": relErr.Error(),
			"vector_rollback":  true,
		})
		p.publishPersistenceFailed(ctx, obj.ID, outcome, err)
		return err

	case vecErr != nil:
		log.Printf("[Pipeline] Warning: vector upsert failed for objective %s, retrying: %v", obj.ID, vecErr)
		if retryErr := p.upsertVector(ctx, record); retryErr != nil {
			outcome = outcomeVectorDegraded
			p.logEvent("vector_retry_failed", map[string]interface{}{
				"level":        "error",
				"objective_id": obj.ID,
				"error":        retryErr.Error(),
			})
		} else {
			outcome = outcomeVectorRetried
			log.Printf("[Pipeline] Vector upsert retry succeeded for objective %s", obj.ID)
		}
	}

	p.logEvent("objective_committed", map[string]interface{}{
		"objective_id": obj.ID,
		"outcome":      outcome,
		"latency_ms":   time.Since(start).Milliseconds(),
	})
	return nil
}

// restoreCommitted handles a save that collided with an existing row. The concurrent
// upsert replaced the indexed payload with the staged copy, so the entry is rewritten
// from the stored row instead of being deleted.
func (p *Pipeline) restoreCommitted(ctx context.Context, existing *objective.Objective, saveErr error) error {
	if err := p.upsertVector(ctx, existing); err != nil {
		log.Printf("[Pipeline] Warning: failed to restore vector entry of committed objective %s: %v", existing.ID, err)
	}
	p.logEvent("commit_duplicate", map[string]interface{}{
		"level":        "warn",
		"objective_id": existing.ID,
		"status":       string(existing.Status),
		"error":        saveErr.Error(),
	})
	return fmt.Errorf("%w: %s", ErrAlreadyCommitted, existing.ID)
}

// upsertVector embeds the objective and writes it to the index.
func (p *Pipeline) upsertVector(ctx context.Context, obj *objective.Objective) error {
	return p.upsertRecord(ctx, obj.ID, obj.EmbeddingText(), obj, RecordObjective)
}

func (p *Pipeline) publishPersistenceFailed(ctx context.Context, id, outcome string, cause error) {
	p.publishBestEffort(ctx, objective.NewEvent(objective.EventPersistenceFailed, id, map[string]any{
		"outcome": outcome,
		"error":   cause.Error(),
	}))
}
