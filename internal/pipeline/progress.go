package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/dyluth/drey/internal/repository"
	"github.com/dyluth/drey/internal/telemetry"
	"github.com/dyluth/drey/pkg/objective"
)

// CompleteStep marks a plan step of a committed objective as completed, recalculates
// progress and writes the result to both stores. A relational failure is returned;
// a vector failure is only logged. Completing an already-completed step returns the
// stored objective without writing or publishing anything.
//
// Calls for the same objective are serialised so concurrent completions never lose updates.
func (p *Pipeline) CompleteStep(ctx context.Context, id string, step int) (obj *objective.Objective, err error) {
	ctx, span := telemetry.StartSpan(ctx, p.tracer, "pipeline.complete_step",
		telemetry.AttrObjectiveID.String(id), telemetry.AttrStep.Int(step))
	defer func() { telemetry.EndSpan(span, err) }()

	unlock := p.objectives.lock(id)
	defer unlock()

	obj, err = p.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrObjectiveNotFound, id)
		}
		return nil, fmt.Errorf("failed to load objective: %w", err)
	}

	previous := obj.WorkDone
	wasCompleted := stepCompleted(obj, step)
	if err := obj.MarkStepCompleted(step); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStepNotFound, err)
	}
	if wasCompleted {
		log.Printf("[Pipeline] Step %d of objective %s already completed, nothing to update", step, id)
		return obj, nil
	}

	var (
		wg     sync.WaitGroup
		relErr error
		vecErr error
	)
	record := obj.Clone()

	wg.Add(2)
	go func() {
		defer wg.Done()
		relErr = p.repo.Update(ctx, record)
	}()
	go func() {
		defer wg.Done()
		vecErr = p.upsertVector(ctx, record)
	}()
	wg.Wait()

	if vecErr != nil {
		p.logEvent("vector_update_failed", map[string]interface{}{
			"level":        "warn",
			"objective_id": id,
			"error":        vecErr.Error(),
		})
	}
	if relErr != nil {
		return nil, fmt.Errorf("failed to update objective: %w", relErr)
	}

	p.publishBestEffort(ctx, objective.NewEvent(objective.EventProgressUpdated, id, map[string]any{
		"step":     step,
		"workdone": obj.WorkDone,
	}))

	p.logEvent("progress_updated", map[string]interface{}{
		"objective_id": id,
		"step":         step,
		"workdone":     obj.WorkDone,
		"previous":     previous,
		"status":       string(obj.Status),
	})

	return obj, nil
}

func stepCompleted(obj *objective.Objective, step int) bool {
	for _, s := range obj.Plan {
		if s.StepNumber == step {
			return s.Status == objective.StepCompleted
		}
	}
	return false
}
