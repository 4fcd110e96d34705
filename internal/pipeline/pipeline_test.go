package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/drey/pkg/objective"
)

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Deps{}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "staging store is required")
}

func TestSubmit(t *testing.T) {
	env := setupTestPipeline(t)
	ctx := context.Background()

	t.Run("stages raw input and publishes user_input_received", func(t *testing.T) {
		id, err := env.pipeline.Submit(ctx, "  Launch the landing page  ")
		require.NoError(t, err)
		require.NotEmpty(t, id)

		var raw RawInput
		found, err := env.client.Retrieve(ctx, env.client.RawKey(id), &raw)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "Launch the landing page", raw.RawText)
		assert.Equal(t, id, raw.ObjectiveID)
		assert.Equal(t, 10*time.Minute, env.mr.TTL(env.client.RawKey(id)))

		ev := env.events.last()
		require.NotNil(t, ev)
		assert.Equal(t, objective.EventUserInputReceived, ev.EventType)
		assert.Equal(t, id, ev.ObjectiveID)
		assert.Equal(t, id, ev.IdempotencyKey)
		assert.Equal(t, "Launch the landing page", ev.Payload["raw_text"])

		n, err := env.client.StreamLength(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("rejects blank input", func(t *testing.T) {
		_, err := env.pipeline.Submit(ctx, " \n\t ")
		assert.ErrorIs(t, err, ErrEmptyInput)
	})
}

func TestProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("stages structured objective and plan draft", func(t *testing.T) {
		env := setupTestPipeline(t)
		text := "Launch the landing page because we need signups.\n- design mockups\n- build the page\n- announce it"
		id, err := env.pipeline.Submit(ctx, text)
		require.NoError(t, err)

		require.NoError(t, env.pipeline.Process(ctx, id, text))

		var obj objective.Objective
		found, err := env.client.Retrieve(ctx, env.client.ObjectiveKey(id), &obj)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, id, obj.ID)
		assert.Equal(t, objective.StatusAwaitingApproval, obj.Status)
		assert.Equal(t, "Launch the landing page", obj.What)
		assert.Equal(t, "we need signups", obj.Why)

		var draft PlanDraft
		found, err = env.client.Retrieve(ctx, env.client.PlanKey(id), &draft)
		require.NoError(t, err)
		require.True(t, found)
		require.Len(t, draft.Steps, 3)
		assert.Equal(t, "design mockups", draft.Steps[0].Description)
		assert.NoError(t, objective.ValidatePlan(draft.Steps))

		assert.Equal(t, []objective.EventType{
			objective.EventUserInputReceived,
			objective.EventPlanDrafted,
		}, env.events.types())
	})

	t.Run("reads raw text from staging when the event carries none", func(t *testing.T) {
		env := setupTestPipeline(t)
		id, err := env.pipeline.Submit(ctx, "Write the quarterly newsletter")
		require.NoError(t, err)

		require.NoError(t, env.pipeline.Process(ctx, id, ""))

		var obj objective.Objective
		found, err := env.client.Retrieve(ctx, env.client.ObjectiveKey(id), &obj)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "Write the quarterly newsletter", obj.What)
	})

	t.Run("structuring failure stages nothing", func(t *testing.T) {
		env := setupTestPipelineWith(t, failingStructurer{})
		id, err := env.pipeline.Submit(ctx, "anything")
		require.NoError(t, err)

		err = env.pipeline.Process(ctx, id, "anything")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to structure input")

		assert.False(t, env.mr.Exists(env.client.ObjectiveKey(id)))
		assert.False(t, env.mr.Exists(env.client.PlanKey(id)))
		assert.NotContains(t, env.events.types(), objective.EventPlanDrafted)
	})

	t.Run("missing raw input", func(t *testing.T) {
		env := setupTestPipeline(t)
		err := env.pipeline.Process(ctx, "unknown", "")
		assert.ErrorIs(t, err, ErrEmptyInput)
	})
}

func TestFullFlow(t *testing.T) {
	env := setupTestPipeline(t)
	ctx := context.Background()

	text := "Launch the landing page. The design team has mockups ready."
	id, err := env.pipeline.Submit(ctx, text)
	require.NoError(t, err)
	require.NoError(t, env.pipeline.Process(ctx, id, text))

	obj, err := env.pipeline.Confirm(ctx, id, true, nil)
	require.NoError(t, err)
	assert.Equal(t, objective.StatusApproved, obj.Status)
	assert.NotEmpty(t, obj.Plan)

	assert.True(t, env.repo.has(id))
	payload, ok := env.index.Get(id)
	require.True(t, ok)
	assert.Equal(t, "objective", payload["_type"])
	assert.Equal(t, id, payload["id"])

	assert.False(t, env.staged(id), "staging must be cleared after commit")
	assert.Equal(t, objective.EventObjectivePersisted, env.events.last().EventType)

	status, err := env.pipeline.StagingStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "approved", status.Status)
	assert.Equal(t, SourceCommitted, status.Source)

	results, err := env.pipeline.Search(ctx, obj.What, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, id, results[0].ID)
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown objective", func(t *testing.T) {
		env := setupTestPipeline(t)
		_, err := env.pipeline.Confirm(ctx, "missing", true, nil)
		assert.ErrorIs(t, err, ErrNoStagedObjective)
	})

	t.Run("expired staging is treated as never staged", func(t *testing.T) {
		env := setupTestPipeline(t)
		obj := env.stageForApproval(t, 1, 1)
		env.mr.FastForward(2 * time.Hour)

		_, err := env.pipeline.Confirm(ctx, obj.ID, true, nil)
		assert.ErrorIs(t, err, ErrNoStagedObjective)
	})

	t.Run("rejection clears staging without writing stores", func(t *testing.T) {
		env := setupTestPipeline(t)
		obj := env.stageForApproval(t, 1, 2, 1)

		rejected, err := env.pipeline.Confirm(ctx, obj.ID, false, nil)
		require.NoError(t, err)
		assert.Equal(t, objective.StatusFailed, rejected.Status)

		assert.False(t, env.staged(obj.ID))
		assert.False(t, env.repo.has(obj.ID))
		assert.Equal(t, 0, env.index.Len())
		assert.Equal(t, objective.EventPlanRejected, env.events.last().EventType)

		_, err = env.pipeline.Confirm(ctx, obj.ID, true, nil)
		assert.ErrorIs(t, err, ErrNoStagedObjective, "a decided objective cannot be confirmed again")
	})

	t.Run("modifications replace the staged plan", func(t *testing.T) {
		env := setupTestPipeline(t)
		obj := env.stageForApproval(t, 1, 1, 1)

		committed, err := env.pipeline.Confirm(ctx, obj.ID, true, []objective.PlanStep{
			{StepNumber: 1, Description: "only step"},
		})
		require.NoError(t, err)
		require.Len(t, committed.Plan, 1)
		assert.Equal(t, "only step", committed.Plan[0].Description)
		assert.Equal(t, 1.0, committed.Plan[0].Weight)
		assert.Equal(t, objective.StepPending, committed.Plan[0].Status)
	})

	t.Run("invalid modifications", func(t *testing.T) {
		env := setupTestPipeline(t)
		obj := env.stageForApproval(t, 1)

		_, err := env.pipeline.Confirm(ctx, obj.ID, true, []objective.PlanStep{
			{StepNumber: 1, Weight: 1}, {StepNumber: 1, Weight: 1},
		})
		assert.ErrorIs(t, err, ErrInvalidPlan)
		assert.True(t, env.staged(obj.ID), "staging is kept so the user can retry")
	})

	t.Run("approval without any plan", func(t *testing.T) {
		env := setupTestPipeline(t)
		obj := env.stageForApproval(t)

		_, err := env.pipeline.Confirm(ctx, obj.ID, true, nil)
		assert.ErrorIs(t, err, ErrNoPlanDraft)
	})
}

func TestCommitDualWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("relational failure rolls back the vector entry", func(t *testing.T) {
		env := setupTestPipeline(t)
		env.repo.saveErr = errors.New("disk full")
		obj := env.stageForApproval(t, 1, 1)

		_, err := env.pipeline.Confirm(ctx, obj.ID, true, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRelationalWriteFailed)
		assert.Contains(t, err.Error(), "disk full")

		_, indexed := env.index.Get(obj.ID)
		assert.False(t, indexed, "vector entry must be absent after relational failure")
		assert.False(t, env.repo.has(obj.ID))
		assert.True(t, env.staged(obj.ID), "failed commit leaves staging intact")
		assert.Equal(t, objective.EventPersistenceFailed, env.events.last().EventType)

		// the caller can retry once the store recovers
		env.repo.saveErr = nil
		_, err = env.pipeline.Confirm(ctx, obj.ID, true, nil)
		require.NoError(t, err)
		assert.True(t, env.repo.has(obj.ID))
	})

	t.Run("single vector failure is retried", func(t *testing.T) {
		env := setupTestPipeline(t)
		env.index.failNext(1)
		obj := env.stageForApproval(t, 1, 2)

		_, err := env.pipeline.Confirm(ctx, obj.ID, true, nil)
		require.NoError(t, err)

		assert.True(t, env.repo.has(obj.ID))
		_, indexed := env.index.Get(obj.ID)
		assert.True(t, indexed, "retry must index the objective")
		assert.Equal(t, 2, env.index.upserts)

		results, err := env.pipeline.Search(ctx, obj.What, 5)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, obj.ID, results[0].ID)
		assert.Equal(t, obj.What, results[0].Payload["what"])
	})

	t.Run("committing an existing objective keeps its vector entry", func(t *testing.T) {
		env := setupTestPipeline(t)
		obj := env.stageForApproval(t, 1, 1)

		committed, err := env.pipeline.Confirm(ctx, obj.ID, true, nil)
		require.NoError(t, err)
		_, err = env.pipeline.CompleteStep(ctx, obj.ID, 1)
		require.NoError(t, err)

		err = env.pipeline.Commit(ctx, committed)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAlreadyCommitted)

		assert.True(t, env.repo.has(obj.ID))
		payload, indexed := env.index.Get(obj.ID)
		require.True(t, indexed, "a duplicate save must not remove the committed vector")
		assert.Equal(t, float64(50), payload["workdone"], "vector entry reflects the stored row")
		assert.NotContains(t, env.events.types(), objective.EventPersistenceFailed)
	})

	t.Run("confirming leftover drafts of a committed objective", func(t *testing.T) {
		env := setupTestPipeline(t)
		obj := env.stageForApproval(t, 1, 1)

		_, err := env.pipeline.Confirm(ctx, obj.ID, true, nil)
		require.NoError(t, err)

		// drafts left behind as if the first staging clear had failed
		require.NoError(t, env.client.Store(ctx, env.client.ObjectiveKey(obj.ID), obj, 0))
		require.NoError(t, env.client.Store(ctx, env.client.PlanKey(obj.ID), PlanDraft{Steps: []objective.PlanStep{
			{StepNumber: 1, Description: "step", Weight: 1, Status: objective.StepPending},
		}}, 0))

		again, err := env.pipeline.Confirm(ctx, obj.ID, true, nil)
		require.NoError(t, err)
		assert.Equal(t, obj.ID, again.ID)
		assert.Len(t, again.Plan, 2, "the stored plan wins over the leftover draft")

		assert.True(t, env.repo.has(obj.ID))
		_, indexed := env.index.Get(obj.ID)
		assert.True(t, indexed)
		assert.False(t, env.staged(obj.ID))
	})

	t.Run("persistent vector failure still commits", func(t *testing.T) {
		env := setupTestPipeline(t)
		env.index.failNext(2)
		obj := env.stageForApproval(t, 1)

		_, err := env.pipeline.Confirm(ctx, obj.ID, true, nil)
		require.NoError(t, err)

		assert.True(t, env.repo.has(obj.ID))
		_, indexed := env.index.Get(obj.ID)
		assert.False(t, indexed)
		assert.False(t, env.staged(obj.ID))
	})

	t.Run("both stores failing", func(t *testing.T) {
		env := setupTestPipeline(t)
		env.repo.saveErr = errors.New("db down")
		env.index.failNext(1)
		obj := env.stageForApproval(t, 1)

		_, err := env.pipeline.Confirm(ctx, obj.ID, true, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBothStoresFailed)
		assert.Contains(t, err.Error(), "db down")
		assert.Contains(t, err.Error(), "index unavailable")
		assert.True(t, env.staged(obj.ID))
	})
}

func TestCompleteStep(t *testing.T) {
	ctx := context.Background()

	commit := func(t *testing.T, env *testEnv, weights ...float64) *objective.Objective {
		obj := env.stageForApproval(t, weights...)
		committed, err := env.pipeline.Confirm(ctx, obj.ID, true, nil)
		require.NoError(t, err)
		return committed
	}

	t.Run("weighted progress", func(t *testing.T) {
		env := setupTestPipeline(t)
		obj := commit(t, env, 1, 2, 1)

		updated, err := env.pipeline.CompleteStep(ctx, obj.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, 50, updated.WorkDone)
		assert.Equal(t, objective.StatusInProgress, updated.Status)

		stored, err := env.pipeline.Get(ctx, obj.ID)
		require.NoError(t, err)
		assert.Equal(t, 50, stored.WorkDone)

		payload, ok := env.index.Get(obj.ID)
		require.True(t, ok)
		assert.Equal(t, float64(50), payload["workdone"])

		ev := env.events.last()
		assert.Equal(t, objective.EventProgressUpdated, ev.EventType)
		assert.Equal(t, 2, ev.Payload["step"])
		assert.Equal(t, 50, ev.Payload["workdone"])

		for _, step := range []int{1, 3} {
			updated, err = env.pipeline.CompleteStep(ctx, obj.ID, step)
			require.NoError(t, err)
		}
		assert.Equal(t, 100, updated.WorkDone)
		assert.Equal(t, objective.StatusCompleted, updated.Status)
	})

	t.Run("re-completing a step changes nothing", func(t *testing.T) {
		env := setupTestPipeline(t)
		obj := commit(t, env, 1, 1, 1)

		first, err := env.pipeline.CompleteStep(ctx, obj.ID, 1)
		require.NoError(t, err)
		second, err := env.pipeline.CompleteStep(ctx, obj.ID, 1)
		require.NoError(t, err)

		assert.Equal(t, first.WorkDone, second.WorkDone)
		assert.Equal(t, first.Status, second.Status)
	})

	t.Run("re-completing a step writes and publishes nothing", func(t *testing.T) {
		env := setupTestPipeline(t)
		obj := commit(t, env, 1, 1)

		_, err := env.pipeline.CompleteStep(ctx, obj.ID, 1)
		require.NoError(t, err)

		updates, upserts, events := env.repo.updateCount(), env.index.upsertCount(), env.events.count()

		again, err := env.pipeline.CompleteStep(ctx, obj.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, 50, again.WorkDone)
		assert.Equal(t, updates, env.repo.updateCount())
		assert.Equal(t, upserts, env.index.upsertCount())
		assert.Equal(t, events, env.events.count(), "no progress_updated for a no-op")
	})

	t.Run("concurrent completions are all applied", func(t *testing.T) {
		env := setupTestPipeline(t)
		obj := commit(t, env, 1, 2, 1)

		var wg sync.WaitGroup
		errs := make([]error, 3)
		for i := range errs {
			wg.Add(1)
			go func(step int) {
				defer wg.Done()
				_, errs[step-1] = env.pipeline.CompleteStep(ctx, obj.ID, step)
			}(i + 1)
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}

		stored, err := env.pipeline.Get(ctx, obj.ID)
		require.NoError(t, err)
		assert.Equal(t, 100, stored.WorkDone)
		assert.Equal(t, objective.StatusCompleted, stored.Status)
		for _, s := range stored.Plan {
			assert.Equal(t, objective.StepCompleted, s.Status, "step %d", s.StepNumber)
		}

		payload, ok := env.index.Get(obj.ID)
		require.True(t, ok)
		assert.Equal(t, float64(100), payload["workdone"])
		assert.Zero(t, env.pipeline.objectives.size(), "lock entries are released")
	})

	t.Run("unknown objective", func(t *testing.T) {
		env := setupTestPipeline(t)
		_, err := env.pipeline.CompleteStep(ctx, "missing", 1)
		assert.ErrorIs(t, err, ErrObjectiveNotFound)
	})

	t.Run("unknown step", func(t *testing.T) {
		env := setupTestPipeline(t)
		obj := commit(t, env, 1)
		_, err := env.pipeline.CompleteStep(ctx, obj.ID, 9)
		assert.ErrorIs(t, err, ErrStepNotFound)
	})

	t.Run("relational failure is returned", func(t *testing.T) {
		env := setupTestPipeline(t)
		obj := commit(t, env, 1, 1)
		env.repo.updateErr = errors.New("locked")

		_, err := env.pipeline.CompleteStep(ctx, obj.ID, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "locked")
	})

	t.Run("vector failure is tolerated", func(t *testing.T) {
		env := setupTestPipeline(t)
		obj := commit(t, env, 1, 1)
		env.index.failNext(1)

		updated, err := env.pipeline.CompleteStep(ctx, obj.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, 50, updated.WorkDone)
	})
}

func TestStagingStatus(t *testing.T) {
	env := setupTestPipeline(t)
	ctx := context.Background()

	staged := env.stageForApproval(t, 1, 1)

	status, err := env.pipeline.StagingStatus(ctx, staged.ID)
	require.NoError(t, err)
	assert.Equal(t, StagingStatusStaging, status.Status)
	assert.Equal(t, SourceCache, status.Source)
	require.NotNil(t, status.Objective)
	assert.Equal(t, staged.What, status.Objective.What)
	require.NotNil(t, status.PlanDraft)
	assert.Len(t, status.PlanDraft.Steps, 2)

	status, err = env.pipeline.StagingStatus(ctx, "nowhere")
	require.NoError(t, err)
	assert.Equal(t, StagingStatusNotFound, status.Status)
	assert.Nil(t, status.Objective)
}

func TestSearch(t *testing.T) {
	env := setupTestPipeline(t)
	ctx := context.Background()

	_, err := env.pipeline.Search(ctx, "   ", 5)
	assert.ErrorIs(t, err, ErrEmptyInput)

	results, err := env.pipeline.Search(ctx, "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBackfill(t *testing.T) {
	env := setupTestPipeline(t)
	ctx := context.Background()

	for _, what := range []string{"Launch landing page", "Write newsletter", "Hire designer"} {
		obj := objective.New()
		obj.What, obj.Context, obj.ExpectedOutput = what, "context", "output"
		obj.Status = objective.StatusAwaitingApproval
		require.NoError(t, obj.ApprovePlan([]objective.PlanStep{{StepNumber: 1, Weight: 1}}))
		require.NoError(t, env.repo.Save(ctx, obj))
	}

	n, err := env.pipeline.Backfill(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, env.index.Len())

	results, err := env.pipeline.Search(ctx, "newsletter", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Write newsletter", results[0].Payload["what"])
}
