package agents

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/dyluth/drey/pkg/objective"
)

var (
	listItem      = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)
	sequenceSplit = regexp.MustCompile(`(?i)[,;]?\s*\b(?:and then|then|after that|finally)\b\s*`)
	heavyWork     = regexp.MustCompile(`(?i)\b(build|implement|develop|write|design|create|migrate|code|produce)\b`)
	lightWork     = regexp.MustCompile(`(?i)\b(review|check|email|call|announce|share|send|publish|schedule)\b`)
)

// RuleBasedPlanner drafts plans from explicit step lists in the input, falling back to a
// generic clarify/prepare/produce/review template.
type RuleBasedPlanner struct{}

// NewRuleBasedPlanner returns a planning agent that needs no external service.
func NewRuleBasedPlanner() *RuleBasedPlanner {
	return &RuleBasedPlanner{}
}

// DraftPlan returns between three and ten numbered steps.
// Steps found in the objective context (bullet or numbered lines, or "then"-chained
// clauses) are used verbatim; weights reflect effort keywords.
func (p *RuleBasedPlanner) DraftPlan(ctx context.Context, obj *objective.Objective) ([]objective.PlanStep, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if obj == nil || strings.TrimSpace(obj.What) == "" {
		return nil, fmt.Errorf("cannot plan an objective without a what")
	}

	descriptions := explicitSteps(obj.Context)
	if len(descriptions) < 2 {
		descriptions = templateSteps(obj)
	}
	if len(descriptions) < minPlanSteps {
		descriptions = append(descriptions, "Review the result against the expected output and deliver")
	}
	if len(descriptions) > maxPlanSteps {
		descriptions = descriptions[:maxPlanSteps]
	}

	steps := make([]objective.PlanStep, len(descriptions))
	for i, d := range descriptions {
		steps[i] = objective.PlanStep{
			StepNumber:  i + 1,
			Description: d,
			Weight:      estimateWeight(d),
			Status:      objective.StepPending,
		}
	}

	log.Printf("[Planner] Plan drafted for %q: %d steps", truncate(obj.What, 60), len(steps))
	return steps, nil
}

func explicitSteps(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		if m := listItem.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
		}
	}
	if len(items) >= 2 {
		return items
	}

	items = items[:0]
	for _, part := range sequenceSplit.Split(text, -1) {
		part = strings.TrimSpace(strings.Trim(part, " .,;"))
		if part != "" {
			items = append(items, part)
		}
	}
	return items
}

func templateSteps(obj *objective.Objective) []string {
	return []string{
		"Clarify scope and success criteria: " + obj.What,
		"Gather the resources and information needed",
		"Produce the deliverable: " + obj.ExpectedOutput,
		"Review the result and deliver it",
	}
}

// estimateWeight maps effort keywords to a relative weight within 0.5-3.0.
func estimateWeight(description string) float64 {
	switch {
	case heavyWork.MatchString(description):
		return 3.0
	case lightWork.MatchString(description):
		return 0.5
	default:
		return 1.0
	}
}
