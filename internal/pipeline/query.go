package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/dyluth/drey/internal/repository"
	"github.com/dyluth/drey/internal/vectorindex"
	"github.com/dyluth/drey/pkg/objective"
)

// Staging status values reported by StagingStatus.
const (
	StagingStatusStaging  = "staging"
	StagingStatusNotFound = "not_found"

	SourceCache     = "cache"
	SourceCommitted = "committed"
)

// StagingStatus reports where an objective currently lives.
type StagingStatus struct {
	Status    string               `json:"status"`
	Source    string               `json:"source,omitempty"`
	Objective *objective.Objective `json:"objective,omitempty"`
	PlanDraft *PlanDraft           `json:"plan_draft,omitempty"`
}

// Get returns a committed objective.
func (p *Pipeline) Get(ctx context.Context, id string) (*objective.Objective, error) {
	obj, err := p.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrObjectiveNotFound, id)
		}
		return nil, fmt.Errorf("failed to load objective: %w", err)
	}
	return obj, nil
}

// ListRecent returns up to limit committed objectives, newest first.
func (p *Pipeline) ListRecent(ctx context.Context, limit int) ([]*objective.Objective, error) {
	objs, err := p.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list objectives: %w", err)
	}
	return objs, nil
}

// StagingStatus looks the objective up in staging first, then in the relational store.
func (p *Pipeline) StagingStatus(ctx context.Context, id string) (*StagingStatus, error) {
	var obj objective.Objective
	objFound, err := p.staging.Retrieve(ctx, p.staging.ObjectiveKey(id), &obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read staged objective: %w", err)
	}

	var draft PlanDraft
	planFound, err := p.staging.Retrieve(ctx, p.staging.PlanKey(id), &draft)
	if err != nil {
		return nil, fmt.Errorf("failed to read staged plan: %w", err)
	}

	if objFound || planFound {
		status := &StagingStatus{Status: StagingStatusStaging, Source: SourceCache}
		if objFound {
			status.Objective = &obj
		}
		if planFound {
			status.PlanDraft = &draft
		}
		return status, nil
	}

	committed, err := p.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &StagingStatus{Status: StagingStatusNotFound}, nil
		}
		return nil, fmt.Errorf("failed to load objective: %w", err)
	}

	return &StagingStatus{
		Status:    string(committed.Status),
		Source:    SourceCommitted,
		Objective: committed,
	}, nil
}

// Search embeds the query and returns the most similar indexed records. The "_type"
// payload field tells objectives, decisions and learnings apart.
func (p *Pipeline) Search(ctx context.Context, query string, limit int) ([]vectorindex.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyInput
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := p.index.Search(vec, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	log.Printf("[Pipeline] Search %q returned %d results", query, len(results))
	return results, nil
}

// Backfill loads up to batch committed objectives, decisions and learnings and upserts
// them into the vector index. The index is memory-only, so this runs at startup.
// Individual failures are logged and skipped. Returns the number of records indexed.
func (p *Pipeline) Backfill(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = DefaultBackfillBatch
	}

	objs, err := p.repo.ListRecent(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to load objectives for backfill: %w", err)
	}
	decisions, err := p.knowledge.ListDecisions(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to load decisions for backfill: %w", err)
	}
	learnings, err := p.knowledge.ListLearnings(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to load learnings for backfill: %w", err)
	}

	type entry struct {
		id, text, kind string
		record         any
	}
	entries := make([]entry, 0, len(objs)+len(decisions)+len(learnings))
	for _, o := range objs {
		entries = append(entries, entry{o.ID, o.EmbeddingText(), RecordObjective, o})
	}
	for _, d := range decisions {
		entries = append(entries, entry{d.ID, d.EmbeddingText(), RecordDecision, d})
	}
	for _, l := range learnings {
		entries = append(entries, entry{l.ID, l.EmbeddingText(), RecordLearning, l})
	}

	indexed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		if err := p.upsertRecord(ctx, e.id, e.text, e.record, e.kind); err != nil {
			log.Printf("[Pipeline] Warning: backfill skipped %s %s: %v", e.kind, e.id, err)
			continue
		}
		indexed++
	}

	p.logEvent("index_backfilled", map[string]interface{}{
		"indexed":    indexed,
		"objectives": len(objs),
		"decisions":  len(decisions),
		"learnings":  len(learnings),
	})
	return indexed, nil
}
