// Package repository is the relational store of committed objectives, logged
// decisions and captured learnings.
package repository

import (
	"context"
	"errors"

	"github.com/dyluth/drey/pkg/objective"
)

// ErrNotFound is returned when no objective exists with the requested id.
var ErrNotFound = errors.New("objective not found")

// ObjectiveRepository persists committed objectives.
type ObjectiveRepository interface {
	// Save inserts a new objective. Saving an id that already exists is an error.
	Save(ctx context.Context, obj *objective.Objective) error

	// Get returns the objective or ErrNotFound.
	Get(ctx context.Context, id string) (*objective.Objective, error)

	// Update replaces plan, status, progress and descriptive fields of an existing objective.
	Update(ctx context.Context, obj *objective.Objective) error

	// ListRecent returns up to limit objectives, newest first.
	ListRecent(ctx context.Context, limit int) ([]*objective.Objective, error)
}

// KnowledgeRepository persists decisions and learnings.
type KnowledgeRepository interface {
	SaveDecision(ctx context.Context, d *objective.Decision) error
	ListDecisions(ctx context.Context, limit int) ([]*objective.Decision, error)
	SaveLearning(ctx context.Context, l *objective.Learning) error
	ListLearnings(ctx context.Context, limit int) ([]*objective.Learning, error)
}
