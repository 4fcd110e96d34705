package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/drey/pkg/objective"
)

func TestDecisions(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	list, err := repo.ListDecisions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	first := objective.NewDecision()
	first.Decision = "Use SQLite"
	first.Why = "single binary deployment"
	first.AlternativesConsidered = []string{"Postgres", "BoltDB"}
	first.ExpectedOutcome = "no ops burden"
	first.Tags = []string{"storage"}
	first.SourceObjectiveID = "0b7c4c4e-6c56-4a7e-8d7b-9a1cbd0e2f10"
	first.CreatedAt = base
	require.NoError(t, repo.SaveDecision(ctx, first))

	second := objective.NewDecision()
	second.Decision = "Ship weekly"
	second.Why = "shorter feedback loop"
	second.CreatedAt = base.Add(time.Minute)
	require.NoError(t, repo.SaveDecision(ctx, second))

	err = repo.SaveDecision(ctx, first)
	assert.ErrorContains(t, err, "failed to insert decision")

	list, err = repo.ListDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Empty(t, list[0].SourceObjectiveID)
	assert.Equal(t, []string{}, list[0].AlternativesConsidered)

	got := list[1]
	assert.Equal(t, first.Decision, got.Decision)
	assert.Equal(t, first.Why, got.Why)
	assert.Equal(t, first.AlternativesConsidered, got.AlternativesConsidered)
	assert.Equal(t, first.ExpectedOutcome, got.ExpectedOutcome)
	assert.Equal(t, first.Tags, got.Tags)
	assert.Equal(t, first.SourceObjectiveID, got.SourceObjectiveID)
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt))

	list, err = repo.ListDecisions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestLearnings(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	l := objective.NewLearning()
	l.Content = "Small batches ship faster"
	l.Category = objective.CategoryPattern
	l.Tags = []string{"delivery"}
	l.Confidence = 0.8
	require.NoError(t, repo.SaveLearning(ctx, l))

	list, err := repo.ListLearnings(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	got := list[0]
	assert.Equal(t, l.ID, got.ID)
	assert.Equal(t, l.Content, got.Content)
	assert.Equal(t, objective.CategoryPattern, got.Category)
	assert.Equal(t, l.Tags, got.Tags)
	assert.Equal(t, 0.8, got.Confidence)
	assert.Empty(t, got.SourceObjectiveID)

	bad := objective.NewLearning()
	bad.Content = "overconfident"
	bad.Confidence = 2
	assert.Error(t, repo.SaveLearning(ctx, bad), "confidence is checked by the schema")
}

func TestMigrationsReachLatestVersion(t *testing.T) {
	repo := setupTestRepo(t)

	var version int
	require.NoError(t, repo.db.QueryRow(`SELECT version FROM schema_version`).Scan(&version))
	assert.Equal(t, 2, version)
}
