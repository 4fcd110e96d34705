package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dyluth/drey/pkg/objective"
)

const (
	decisionColumns = `id,decision,why,context,alternatives,expected_outcome,COALESCE(actual_outcome,''),tags,COALESCE(source_objective_id,''),created_at`
	learningColumns = `id,content,category,tags,COALESCE(source_objective_id,''),confidence,created_at`
)

var _ KnowledgeRepository = (*SQLite)(nil)

// SaveDecision inserts a decision.
func (s *SQLite) SaveDecision(ctx context.Context, d *objective.Decision) error {
	alternatives, err := encodeStrings(d.AlternativesConsidered)
	if err != nil {
		return fmt.Errorf("failed to marshal alternatives: %w", err)
	}
	tags, err := encodeStrings(d.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions(id,decision,why,context,alternatives,expected_outcome,actual_outcome,tags,source_objective_id,created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Decision, d.Why, d.Context, alternatives, d.ExpectedOutcome, nullable(d.ActualOutcome),
		tags, nullable(d.SourceObjectiveID), unixNanoOrNow(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert decision %s: %w", d.ID, err)
	}
	return nil
}

// ListDecisions returns up to limit decisions, newest first.
func (s *SQLite) ListDecisions(ctx context.Context, limit int) ([]*objective.Decision, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+decisionColumns+` FROM decisions ORDER BY created_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	res := []*objective.Decision{}
	for rows.Next() {
		var (
			d            objective.Decision
			alternatives string
			tags         string
			created      int64
		)
		if err := rows.Scan(&d.ID, &d.Decision, &d.Why, &d.Context, &alternatives, &d.ExpectedOutcome,
			&d.ActualOutcome, &tags, &d.SourceObjectiveID, &created); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		if d.AlternativesConsidered, err = decodeStrings(alternatives); err != nil {
			return nil, fmt.Errorf("invalid alternatives column: %w", err)
		}
		if d.Tags, err = decodeStrings(tags); err != nil {
			return nil, fmt.Errorf("invalid tags column: %w", err)
		}
		d.CreatedAt = time.Unix(0, created).UTC()
		res = append(res, &d)
	}
	return res, rows.Err()
}

// SaveLearning inserts a learning.
func (s *SQLite) SaveLearning(ctx context.Context, l *objective.Learning) error {
	tags, err := encodeStrings(l.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO learnings(id,content,category,tags,source_objective_id,confidence,created_at)
		 VALUES (?,?,?,?,?,?,?)`,
		l.ID, l.Content, string(l.Category), tags, nullable(l.SourceObjectiveID), l.Confidence, unixNanoOrNow(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert learning %s: %w", l.ID, err)
	}
	return nil
}

// ListLearnings returns up to limit learnings, newest first.
func (s *SQLite) ListLearnings(ctx context.Context, limit int) ([]*objective.Learning, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+learningColumns+` FROM learnings ORDER BY created_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list learnings: %w", err)
	}
	defer rows.Close()

	res := []*objective.Learning{}
	for rows.Next() {
		var (
			l        objective.Learning
			category string
			tags     string
			created  int64
		)
		if err := rows.Scan(&l.ID, &l.Content, &category, &tags, &l.SourceObjectiveID, &l.Confidence, &created); err != nil {
			return nil, fmt.Errorf("failed to scan learning: %w", err)
		}
		l.Category = objective.LearningCategory(category)
		if l.Tags, err = decodeStrings(tags); err != nil {
			return nil, fmt.Errorf("invalid tags column: %w", err)
		}
		l.CreatedAt = time.Unix(0, created).UTC()
		res = append(res, &l)
	}
	return res, rows.Err()
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeStrings(data string) ([]string, error) {
	out := []string{}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func unixNanoOrNow(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UnixNano()
}
