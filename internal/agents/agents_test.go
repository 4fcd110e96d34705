package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/drey/pkg/objective"
)

func TestStructure(t *testing.T) {
	s := NewRuleBasedStructurer()
	ctx := context.Background()

	t.Run("splits what why and context", func(t *testing.T) {
		obj, err := s.Structure(ctx, "Launch the product landing page because we need signups before the beta. The design team has mockups ready.")
		require.NoError(t, err)

		assert.Equal(t, "Launch the product landing page", obj.What)
		assert.Equal(t, "we need signups before the beta", obj.Why)
		assert.Equal(t, "The design team has mockups ready.", obj.Context)
		assert.Equal(t, "Completed: Launch the product landing page", obj.ExpectedOutput)
		assert.Contains(t, obj.Tags, "landing")
		assert.LessOrEqual(t, len(obj.Tags), 5)
	})

	t.Run("single sentence uses whole input as context", func(t *testing.T) {
		obj, err := s.Structure(ctx, "Write the quarterly newsletter")
		require.NoError(t, err)

		assert.Equal(t, "Write the quarterly newsletter", obj.What)
		assert.Equal(t, "Write the quarterly newsletter", obj.Context)
		assert.Empty(t, obj.Why)
	})

	t.Run("explicit deliverable", func(t *testing.T) {
		obj, err := s.Structure(ctx, "Prepare investor update. Deliverable: a two page PDF. Numbers come from the finance sheet.")
		require.NoError(t, err)

		assert.Equal(t, "a two page PDF", obj.ExpectedOutput)
		assert.Equal(t, "Prepare investor update", obj.What)
		assert.NotContains(t, obj.Context, "Deliverable")
	})

	t.Run("result is a valid objective once identified", func(t *testing.T) {
		obj, err := s.Structure(ctx, "Migrate the billing database")
		require.NoError(t, err)

		o := objective.New()
		o.What, o.Context, o.ExpectedOutput = obj.What, obj.Context, obj.ExpectedOutput
		assert.NoError(t, o.Validate())
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := s.Structure(ctx, "   ")
		assert.Error(t, err)
	})
}

func TestExtractTags(t *testing.T) {
	tags := extractTags("Pricing page: pricing tiers, pricing copy and a signup form for the signup flow")
	require.NotEmpty(t, tags)
	assert.Equal(t, "pricing", tags[0])
	assert.Equal(t, "signup", tags[1])
	assert.NotContains(t, tags, "and")
	assert.NotContains(t, tags, "the")
}

func TestDraftPlan(t *testing.T) {
	p := NewRuleBasedPlanner()
	ctx := context.Background()

	t.Run("uses bullet list from context", func(t *testing.T) {
		obj := &objective.Objective{
			What:           "Launch landing page",
			Context:        "- design mockups\n- build the page\n- announce on social",
			ExpectedOutput: "live page",
		}

		steps, err := p.DraftPlan(ctx, obj)
		require.NoError(t, err)
		require.Len(t, steps, 3)

		assert.Equal(t, "design mockups", steps[0].Description)
		assert.Equal(t, 3.0, steps[0].Weight)
		assert.Equal(t, "build the page", steps[1].Description)
		assert.Equal(t, 3.0, steps[1].Weight)
		assert.Equal(t, 0.5, steps[2].Weight)
		assert.NoError(t, objective.ValidatePlan(steps))
	})

	t.Run("uses then-chained clauses", func(t *testing.T) {
		obj := &objective.Objective{
			What:           "Ship newsletter",
			Context:        "collect stories, then edit the draft, then send it to subscribers",
			ExpectedOutput: "sent newsletter",
		}

		steps, err := p.DraftPlan(ctx, obj)
		require.NoError(t, err)
		require.Len(t, steps, 3)
		assert.Equal(t, "collect stories", steps[0].Description)
		assert.Equal(t, "send it to subscribers", steps[2].Description)
	})

	t.Run("falls back to template", func(t *testing.T) {
		obj := &objective.Objective{What: "Plan offsite", Context: "team of six", ExpectedOutput: "agenda"}

		steps, err := p.DraftPlan(ctx, obj)
		require.NoError(t, err)
		assert.Len(t, steps, 4)
		for i, s := range steps {
			assert.Equal(t, i+1, s.StepNumber)
			assert.Equal(t, objective.StepPending, s.Status)
			assert.Greater(t, s.Weight, 0.0)
		}
		assert.Contains(t, steps[2].Description, "agenda")
	})

	t.Run("caps the number of steps", func(t *testing.T) {
		ctxText := ""
		for i := 0; i < 15; i++ {
			ctxText += "- item\n"
		}
		steps, err := p.DraftPlan(ctx, &objective.Objective{What: "many", Context: ctxText})
		require.NoError(t, err)
		assert.Len(t, steps, 10)
	})

	t.Run("rejects missing what", func(t *testing.T) {
		_, err := p.DraftPlan(ctx, &objective.Objective{})
		assert.Error(t, err)
	})
}
