// Package resolver expands short objective id prefixes, as printed by 'drey list',
// into full ids.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dyluth/drey/pkg/objective"
)

// MinShortIDLength is the shortest prefix accepted.
const MinShortIDLength = 6

// ErrTooShort is returned for prefixes shorter than MinShortIDLength.
var ErrTooShort = errors.New("short ID too short")

// scanLimit bounds how many recent objectives are searched for a prefix.
const scanLimit = 1000

// Lister returns recent committed objectives.
type Lister interface {
	List(ctx context.Context, limit int) ([]*objective.Objective, error)
}

// ResolveObjectiveID expands shortID into a full id. Full UUIDs are returned
// unchanged without a lookup, so ids of staged objectives still work.
func ResolveObjectiveID(ctx context.Context, l Lister, shortID string) (string, error) {
	if len(shortID) == 36 && strings.Count(shortID, "-") == 4 {
		return shortID, nil
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("%w: need at least %d characters (got %d)", ErrTooShort, MinShortIDLength, len(shortID))
	}

	objs, err := l.List(ctx, scanLimit)
	if err != nil {
		return "", fmt.Errorf("failed to search for objective: %w", err)
	}

	var matches []string
	for _, o := range objs {
		if strings.HasPrefix(o.ID, shortID) {
			matches = append(matches, o.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no committed objective matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no objectives found matching '%s'", e.ShortID)
}

// AmbiguousError indicates several objectives share the prefix.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d objectives", e.ShortID, len(e.Matches))
}

// Candidates lists up to 10 matching ids, then "...and N more".
func (e *AmbiguousError) Candidates() []string {
	const shown = 10
	if len(e.Matches) <= shown {
		return e.Matches
	}
	out := append([]string{}, e.Matches[:shown]...)
	return append(out, fmt.Sprintf("...and %d more", len(e.Matches)-shown))
}
