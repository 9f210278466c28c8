package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SavedWorkflow is a stored workflow definition. Steps holds the raw JSON
// array of step definitions.
type SavedWorkflow struct {
	ID          string
	Name        string
	Description string
	Steps       []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateWorkflow stores a new workflow and returns its id.
func (s *Store) CreateWorkflow(ctx context.Context, name, description string, steps []byte) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflows (id, name, description, steps)
		VALUES ($1, $2, $3, $4)`,
		id, name, description, steps)
	if err != nil {
		return "", fmt.Errorf("failed to create workflow: %w", err)
	}
	return id, nil
}

// UpdateWorkflow overwrites name, description and steps.
func (s *Store) UpdateWorkflow(ctx context.Context, id, name, description string, steps []byte) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflows
		SET name = $2, description = $3, steps = $4, updated_at = NOW()
		WHERE id = $1`,
		id, name, description, steps)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWorkflow removes a workflow.
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetWorkflow returns a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*SavedWorkflow, error) {
	var w SavedWorkflow
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, steps, created_at, updated_at
		FROM workflows WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &w.Description, &w.Steps, &w.CreatedAt, &w.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	return &w, nil
}

// ListWorkflows returns all workflows newest first.
func (s *Store) ListWorkflows(ctx context.Context) ([]SavedWorkflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, steps, created_at, updated_at
		FROM workflows ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []SavedWorkflow
	for rows.Next() {
		var w SavedWorkflow
		if err := rows.Scan(&w.ID, &w.Name, &w.Description, &w.Steps, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}
