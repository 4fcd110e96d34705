package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/drey/pkg/objective"
)

type listerFunc func(ctx context.Context, limit int) ([]*objective.Objective, error)

func (f listerFunc) List(ctx context.Context, limit int) ([]*objective.Objective, error) {
	return f(ctx, limit)
}

func listing(ids ...string) Lister {
	return listerFunc(func(ctx context.Context, limit int) ([]*objective.Objective, error) {
		var out []*objective.Objective
		for _, id := range ids {
			out = append(out, &objective.Objective{ID: id})
		}
		return out, nil
	})
}

func TestResolveObjectiveID(t *testing.T) {
	ctx := context.Background()
	full := "0b7c4c4e-6c56-4a7e-8d7b-9a1cbd0e2f10"

	t.Run("full UUID skips lookup", func(t *testing.T) {
		called := false
		l := listerFunc(func(context.Context, int) ([]*objective.Objective, error) {
			called = true
			return nil, nil
		})
		id, err := ResolveObjectiveID(ctx, l, full)
		require.NoError(t, err)
		assert.Equal(t, full, id)
		assert.False(t, called)
	})

	t.Run("unique prefix", func(t *testing.T) {
		id, err := ResolveObjectiveID(ctx, listing(full, "9f000000-0000-0000-0000-000000000000"), "0b7c4c4e")
		require.NoError(t, err)
		assert.Equal(t, full, id)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := ResolveObjectiveID(ctx, listing(full), "0b7c")
		assert.ErrorIs(t, err, ErrTooShort)
		assert.ErrorContains(t, err, "at least 6")
	})

	t.Run("not found", func(t *testing.T) {
		_, err := ResolveObjectiveID(ctx, listing(full), "ffffff")
		var nf *NotFoundError
		assert.True(t, errors.As(err, &nf))
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, err := ResolveObjectiveID(ctx, listing("abcdef-1", "abcdef-2"), "abcdef")
		var amb *AmbiguousError
		require.True(t, errors.As(err, &amb))
		assert.Equal(t, []string{"abcdef-1", "abcdef-2"}, amb.Candidates())
	})

	t.Run("list error", func(t *testing.T) {
		l := listerFunc(func(context.Context, int) ([]*objective.Objective, error) {
			return nil, fmt.Errorf("connection refused")
		})
		_, err := ResolveObjectiveID(ctx, l, "abcdef")
		assert.ErrorContains(t, err, "connection refused")
	})
}

func TestCandidatesTruncates(t *testing.T) {
	matches := make([]string, 12)
	for i := range matches {
		matches[i] = fmt.Sprintf("id-%d", i)
	}
	c := (&AmbiguousError{Matches: matches}).Candidates()
	assert.Len(t, c, 11)
	assert.Equal(t, "...and 2 more", c[10])
}
