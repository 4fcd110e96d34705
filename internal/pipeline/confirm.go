package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/drey/pkg/objective"
)

// Confirm applies the human decision on a staged objective.
//
// A rejection marks the objective failed, clears staging and publishes plan_rejected;
// nothing is written to the relational store or the index. An approval uses
// modifications when given, otherwise the staged plan, and commits the objective.
// Staging is cleared only after a successful commit, so a failed commit can be retried.
// Approving an objective that is already committed (drafts left behind by a failed
// staging clear) returns the stored objective and clears the leftovers.
func (p *Pipeline) Confirm(ctx context.Context, id string, approved bool, modifications []objective.PlanStep) (*objective.Objective, error) {
	unlock := p.objectives.lock(id)
	defer unlock()

	var obj objective.Objective
	found, err := p.staging.Retrieve(ctx, p.staging.ObjectiveKey(id), &obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read staged objective: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoStagedObjective, id)
	}

	if !approved {
		return p.reject(ctx, &obj)
	}

	steps := modifications
	if len(steps) > 0 {
		steps = objective.NormalizePlan(steps)
		if err := objective.ValidatePlan(steps); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
		}
	} else {
		var draft PlanDraft
		found, err := p.staging.Retrieve(ctx, p.staging.PlanKey(id), &draft)
		if err != nil {
			return nil, fmt.Errorf("failed to read staged plan: %w", err)
		}
		if !found || len(draft.Steps) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoPlanDraft, id)
		}
		steps = draft.Steps
	}

	if err := obj.ApprovePlan(steps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}

	if err := p.Commit(ctx, &obj); err != nil {
		if errors.Is(err, ErrAlreadyCommitted) {
			return p.confirmCommitted(ctx, id)
		}
		return nil, err
	}

	if err := p.staging.ClearStaging(ctx, id); err != nil {
		// the objective is committed; leftover drafts simply expire
		p.logEvent("staging_clear_failed", map[string]interface{}{
			"level":        "warn",
			"objective_id": id,
			"error":        err.Error(),
		})
	}

	p.publishBestEffort(ctx, objective.NewEvent(objective.EventObjectivePersisted, id, map[string]any{
		"steps": len(obj.Plan),
	}))

	p.logEvent("plan_confirmed", map[string]interface{}{
		"objective_id": id,
		"steps":        len(obj.Plan),
		"modified":     len(modifications) > 0,
	})

	return &obj, nil
}

func (p *Pipeline) confirmCommitted(ctx context.Context, id string) (*objective.Objective, error) {
	if err := p.staging.ClearStaging(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to clear staging: %w", err)
	}
	existing, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.logEvent("plan_already_confirmed", map[string]interface{}{
		"objective_id": id,
		"status":       string(existing.Status),
	})
	return existing, nil
}

func (p *Pipeline) reject(ctx context.Context, obj *objective.Objective) (*objective.Objective, error) {
	if err := obj.Reject(); err != nil {
		return nil, err
	}

	if err := p.staging.ClearStaging(ctx, obj.ID); err != nil {
		return nil, fmt.Errorf("failed to clear staging: %w", err)
	}

	p.publishBestEffort(ctx, objective.NewEvent(objective.EventPlanRejected, obj.ID, nil))

	p.logEvent("plan_rejected", map[string]interface{}{
		"objective_id": obj.ID,
	})

	return obj, nil
}
