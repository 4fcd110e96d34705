package server

import (
	"github.com/dyluth/drey/internal/pipeline"
	"github.com/dyluth/drey/internal/vectorindex"
	"github.com/dyluth/drey/pkg/objective"
)

// SubmitRequest carries free-form user text to ingest.
type SubmitRequest struct {
	Text string `json:"text" doc:"Free-form description of the objective" example:"Launch the landing page next week"`
}

// SubmitResponse returns the id assigned at ingest. Structuring happens asynchronously.
type SubmitResponse struct {
	ObjectiveID string `json:"objective_id" format:"uuid"`
}

// PlanStepInput is a plan step supplied by the user when modifying a draft.
// A zero weight defaults to 1; new steps always start pending.
type PlanStepInput struct {
	StepNumber  int     `json:"step_number"`
	Description string  `json:"description,omitempty"`
	Weight      float64 `json:"weight,omitempty"`
}

// ConfirmRequest is the human decision on a staged plan.
type ConfirmRequest struct {
	Approved      bool            `json:"approved"`
	Modifications []PlanStepInput `json:"modifications,omitempty" doc:"Replaces the drafted plan when present"`
}

// DecisionRequest records a decision.
type DecisionRequest struct {
	Decision          string   `json:"decision" minLength:"1" example:"Use SQLite for storage"`
	Why               string   `json:"why" minLength:"1" example:"single binary deployment"`
	Context           string   `json:"context,omitempty"`
	Alternatives      []string `json:"alternatives_considered,omitempty"`
	ExpectedOutcome   string   `json:"expected_outcome,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	SourceObjectiveID string   `json:"source_objective_id,omitempty"`
}

func (r DecisionRequest) input() pipeline.DecisionInput {
	return pipeline.DecisionInput{
		Decision:          r.Decision,
		Why:               r.Why,
		Context:           r.Context,
		Alternatives:      r.Alternatives,
		ExpectedOutcome:   r.ExpectedOutcome,
		Tags:              r.Tags,
		SourceObjectiveID: r.SourceObjectiveID,
	}
}

// LearningRequest captures a learning. Unknown categories are stored as insight.
type LearningRequest struct {
	Content           string   `json:"content" minLength:"1" example:"Small batches ship faster"`
	Category          string   `json:"category,omitempty" doc:"insight, mistake, success, pattern, tool or process"`
	Tags              []string `json:"tags,omitempty"`
	SourceObjectiveID string   `json:"source_objective_id,omitempty"`
}

func (r LearningRequest) input() pipeline.LearningInput {
	return pipeline.LearningInput{
		Content:           r.Content,
		Category:          r.Category,
		Tags:              r.Tags,
		SourceObjectiveID: r.SourceObjectiveID,
	}
}

// SearchResult is one semantic search hit.
type SearchResult struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Error  string            `json:"error,omitempty"`
}

func planSteps(in []PlanStepInput) []objective.PlanStep {
	if len(in) == 0 {
		return nil
	}
	out := make([]objective.PlanStep, len(in))
	for i, s := range in {
		out[i] = objective.PlanStep{
			StepNumber:  s.StepNumber,
			Description: s.Description,
			Weight:      s.Weight,
			Status:      objective.StepPending,
		}
	}
	return out
}

func searchResults(in []vectorindex.Result) []SearchResult {
	out := make([]SearchResult, len(in))
	for i, r := range in {
		out[i] = SearchResult{ID: r.ID, Score: r.Score, Payload: r.Payload}
	}
	return out
}
