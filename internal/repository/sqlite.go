package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dyluth/drey/pkg/objective"
)

// DefaultListLimit applies when ListRecent is called with a non-positive limit.
const DefaultListLimit = 20

const objectiveColumns = `id,what,COALESCE(why,''),context,expected_output,COALESCE(outcome,''),tags,plan,status,workdone,created_at`

// SQLite is an ObjectiveRepository backed by a single SQLite file.
type SQLite struct {
	db *sql.DB
}

var _ ObjectiveRepository = (*SQLite)(nil)

// Open opens (creating if needed) the SQLite database at path and applies migrations.
// Use ":memory:" for a throwaway database.
func Open(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection serialises access
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. Used by the health check.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save inserts a new objective.
func (s *SQLite) Save(ctx context.Context, obj *objective.Objective) error {
	tags, plan, err := encodeCollections(obj)
	if err != nil {
		return err
	}

	createdAt := obj.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	now := time.Now().UTC().UnixNano()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO objectives(id,what,why,context,expected_output,outcome,tags,plan,status,workdone,created_at,updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		obj.ID, obj.What, nullable(obj.Why), obj.Context, obj.ExpectedOutput, nullable(obj.Outcome),
		tags, plan, string(obj.Status), obj.WorkDone, createdAt.UnixNano(), now)
	if err != nil {
		return fmt.Errorf("failed to insert objective %s: %w", obj.ID, err)
	}
	return nil
}

// Get returns the objective with the given id or ErrNotFound.
func (s *SQLite) Get(ctx context.Context, id string) (*objective.Objective, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+objectiveColumns+` FROM objectives WHERE id=?`, id)
	obj, err := scanObjective(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read objective %s: %w", id, err)
	}
	return obj, nil
}

// Update replaces the mutable fields of an existing objective.
// Returns ErrNotFound when the objective does not exist.
func (s *SQLite) Update(ctx context.Context, obj *objective.Objective) error {
	tags, plan, err := encodeCollections(obj)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE objectives SET what=?,why=?,context=?,expected_output=?,outcome=?,tags=?,plan=?,status=?,workdone=?,updated_at=?
		 WHERE id=?`,
		obj.What, nullable(obj.Why), obj.Context, obj.ExpectedOutput, nullable(obj.Outcome),
		tags, plan, string(obj.Status), obj.WorkDone, time.Now().UTC().UnixNano(), obj.ID)
	if err != nil {
		return fmt.Errorf("failed to update objective %s: %w", obj.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update objective %s: %w", obj.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to update objective %s: %w", obj.ID, ErrNotFound)
	}
	return nil
}

// ListRecent returns up to limit objectives ordered by creation time, newest first.
func (s *SQLite) ListRecent(ctx context.Context, limit int) ([]*objective.Objective, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+objectiveColumns+` FROM objectives ORDER BY created_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list objectives: %w", err)
	}
	defer rows.Close()

	res := []*objective.Objective{}
	for rows.Next() {
		obj, err := scanObjective(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan objective: %w", err)
		}
		res = append(res, obj)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanObjective(row scanner) (*objective.Objective, error) {
	var (
		obj       objective.Objective
		status    string
		tags      string
		plan      string
		createdAt int64
	)
	if err := row.Scan(&obj.ID, &obj.What, &obj.Why, &obj.Context, &obj.ExpectedOutput, &obj.Outcome,
		&tags, &plan, &status, &obj.WorkDone, &createdAt); err != nil {
		return nil, err
	}

	obj.Status = objective.Status(status)
	obj.CreatedAt = time.Unix(0, createdAt).UTC()

	if err := json.Unmarshal([]byte(tags), &obj.Tags); err != nil {
		return nil, fmt.Errorf("invalid tags column: %w", err)
	}
	if obj.Tags == nil {
		obj.Tags = []string{}
	}
	if err := json.Unmarshal([]byte(plan), &obj.Plan); err != nil {
		return nil, fmt.Errorf("invalid plan column: %w", err)
	}
	if len(obj.Plan) == 0 {
		obj.Plan = nil
	}
	return &obj, nil
}

func encodeCollections(obj *objective.Objective) (string, string, error) {
	tags := obj.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal tags: %w", err)
	}

	plan := obj.Plan
	if plan == nil {
		plan = []objective.PlanStep{}
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal plan: %w", err)
	}
	return string(tagsJSON), string(planJSON), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
