package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// HistoryEntry is one recorded request. RequestPayload and ResponsePayload
// hold raw JSON blobs.
type HistoryEntry struct {
	ID              string
	Method          string
	Endpoint        string
	Model           string
	Timestamp       string
	Duration        string
	Tokens          int
	Status          int
	StatusText      string
	Preview         string
	RequestPayload  []byte
	ResponsePayload []byte
	WorkflowID      string
	WorkflowName    string
	WorkflowStep    int
	CreatedAt       time.Time
}

// InsertHistory records an entry. Duplicate ids are silently skipped so a
// retried write never fails a request; the return reports whether a row was
// actually written.
func (s *Store) InsertHistory(ctx context.Context, e *HistoryEntry) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO request_history
			(id, method, endpoint, model, timestamp, duration, tokens, status,
			 status_text, preview, request_payload, response_payload,
			 workflow_id, workflow_name, workflow_step)
		VALUES (@id, @method, @endpoint, @model, @timestamp, @duration, @tokens,
			@status, @status_text, @preview, @request_payload, @response_payload,
			@workflow_id, @workflow_name, @workflow_step)
		ON CONFLICT (id) DO NOTHING`,
		pgx.NamedArgs{
			"id":               e.ID,
			"method":           e.Method,
			"endpoint":         e.Endpoint,
			"model":            e.Model,
			"timestamp":        e.Timestamp,
			"duration":         e.Duration,
			"tokens":           e.Tokens,
			"status":           e.Status,
			"status_text":      e.StatusText,
			"preview":          e.Preview,
			"request_payload":  e.RequestPayload,
			"response_payload": e.ResponsePayload,
			"workflow_id":      e.WorkflowID,
			"workflow_name":    e.WorkflowName,
			"workflow_step":    e.WorkflowStep,
		})
	if err != nil {
		return false, fmt.Errorf("failed to insert history entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListHistory pages through entries newest first, without payload bodies.
// Returns the page plus the total entry count.
func (s *Store) ListHistory(ctx context.Context, page, limit int) ([]HistoryEntry, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM request_history").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count history: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, method, endpoint, model, timestamp, duration, tokens, status,
		       status_text, preview, workflow_id, workflow_name, workflow_step, created_at
		FROM request_history
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.Method, &e.Endpoint, &e.Model, &e.Timestamp,
			&e.Duration, &e.Tokens, &e.Status, &e.StatusText, &e.Preview,
			&e.WorkflowID, &e.WorkflowName, &e.WorkflowStep, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// GetHistory returns one entry with full payloads.
func (s *Store) GetHistory(ctx context.Context, id string) (*HistoryEntry, error) {
	var e HistoryEntry
	err := s.pool.QueryRow(ctx, `
		SELECT id, method, endpoint, model, timestamp, duration, tokens, status,
		       status_text, preview,
		       COALESCE(request_payload, 'null'::jsonb),
		       COALESCE(response_payload, 'null'::jsonb),
		       workflow_id, workflow_name, workflow_step, created_at
		FROM request_history WHERE id = $1`, id).
		Scan(&e.ID, &e.Method, &e.Endpoint, &e.Model, &e.Timestamp,
			&e.Duration, &e.Tokens, &e.Status, &e.StatusText, &e.Preview,
			&e.RequestPayload, &e.ResponsePayload,
			&e.WorkflowID, &e.WorkflowName, &e.WorkflowStep, &e.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history entry: %w", err)
	}
	return &e, nil
}

// DeleteHistory removes one entry.
func (s *Store) DeleteHistory(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM request_history WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete history entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearHistory removes all entries, returning the count.
func (s *Store) ClearHistory(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM request_history")
	if err != nil {
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
