// Package agents defines the collaborators that turn raw user input into a structured
// objective and a draft plan, together with deterministic rule-based implementations.
//
// The pipeline only depends on the StructuringAgent and PlanningAgent interfaces, so a
// model-backed implementation can replace the rule-based ones without other changes.
package agents

import (
	"context"

	"github.com/dyluth/drey/pkg/objective"
)

// StructuringAgent extracts a structured objective from free text.
// The returned objective carries What, Why, Context, ExpectedOutput and Tags; the caller
// owns ID, Status and timestamps.
type StructuringAgent interface {
	Structure(ctx context.Context, rawText string) (*objective.Objective, error)
}

// PlanningAgent drafts a weighted execution plan for a structured objective.
type PlanningAgent interface {
	DraftPlan(ctx context.Context, obj *objective.Objective) ([]objective.PlanStep, error)
}

const (
	maxWhatLength = 200
	minPlanSteps  = 3
	maxPlanSteps  = 10
	maxTags       = 5
)
