package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/drey/internal/telemetry"
	"github.com/dyluth/drey/pkg/objective"
)

// Submit stages raw user input and announces it on the stream.
// It returns the new objective id immediately; structuring happens in the worker.
func (p *Pipeline) Submit(ctx context.Context, rawText string) (string, error) {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return "", ErrEmptyInput
	}

	id := uuid.New().String()

	if err := p.staging.Store(ctx, p.staging.RawKey(id), RawInput{RawText: text, ObjectiveID: id}, p.ttl); err != nil {
		return "", fmt.Errorf("failed to stage raw input: %w", err)
	}

	ev := objective.NewEvent(objective.EventUserInputReceived, id, map[string]any{
		"raw_text": text,
	}).WithIdempotencyKey(id)
	if err := p.publish(ctx, ev); err != nil {
		return "", err
	}

	p.logEvent("input_submitted", map[string]interface{}{
		"objective_id": id,
		"chars":        len(text),
	})

	return id, nil
}

// Process structures the raw input, drafts a plan and stages both for approval.
// An empty rawText is read back from the staged raw record.
// Collaborator calls are not retried; a failure leaves nothing staged beyond the raw input.
func (p *Pipeline) Process(ctx context.Context, id, rawText string) error {
	ctx, span := telemetry.StartSpan(ctx, p.tracer, "pipeline.process", telemetry.AttrObjectiveID.String(id))
	err := p.process(ctx, id, rawText)
	telemetry.EndSpan(span, err)
	return err
}

func (p *Pipeline) process(ctx context.Context, id, rawText string) error {
	if strings.TrimSpace(rawText) == "" {
		var raw RawInput
		found, err := p.staging.Retrieve(ctx, p.staging.RawKey(id), &raw)
		if err != nil {
			return fmt.Errorf("failed to read staged raw input: %w", err)
		}
		if !found || strings.TrimSpace(raw.RawText) == "" {
			return fmt.Errorf("%w: no raw input for objective %s", ErrEmptyInput, id)
		}
		rawText = raw.RawText
	}

	log.Printf("[Pipeline] Structuring input for objective %s (%d chars)", id, len(rawText))

	obj, err := p.structurer.Structure(ctx, rawText)
	if err != nil {
		return fmt.Errorf("failed to structure input: %w", err)
	}
	obj.ID = id
	obj.Status = objective.StatusPlanning
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = time.Now().UTC()
	}
	if obj.Tags == nil {
		obj.Tags = []string{}
	}
	obj.Plan = nil
	obj.WorkDone = 0

	steps, err := p.planner.DraftPlan(ctx, obj)
	if err != nil {
		return fmt.Errorf("failed to draft plan: %w", err)
	}
	steps = objective.NormalizePlan(steps)

	if err := obj.Transition(objective.StatusAwaitingApproval); err != nil {
		return err
	}

	if err := p.staging.Store(ctx, p.staging.ObjectiveKey(id), obj, p.ttl); err != nil {
		return fmt.Errorf("failed to stage objective: %w", err)
	}
	if err := p.staging.Store(ctx, p.staging.PlanKey(id), PlanDraft{Steps: steps}, p.ttl); err != nil {
		return fmt.Errorf("failed to stage plan draft: %w", err)
	}

	if err := p.publish(ctx, objective.NewEvent(objective.EventPlanDrafted, id, map[string]any{
		"steps": len(steps),
	})); err != nil {
		return err
	}

	p.logEvent("plan_drafted", map[string]interface{}{
		"objective_id": id,
		"what":         obj.What,
		"steps":        len(steps),
		"tags":         obj.Tags,
	})

	return nil
}
