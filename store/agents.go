package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SavedAgent is a stored agent definition. Config holds the raw JSON blob;
// parsing into config.AgentConfig happens at execution time so stored
// configs survive schema growth.
type SavedAgent struct {
	ID          string
	Name        string
	Description string
	Config      []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateAgent stores a new agent and returns its id.
func (s *Store) CreateAgent(ctx context.Context, name, description string, cfg []byte) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO saved_agents (id, name, description, config)
		VALUES ($1, $2, $3, $4)`,
		id, name, description, cfg)
	if err != nil {
		return "", fmt.Errorf("failed to create agent: %w", err)
	}
	return id, nil
}

// UpdateAgent overwrites name, description and config.
func (s *Store) UpdateAgent(ctx context.Context, id, name, description string, cfg []byte) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE saved_agents
		SET name = $2, description = $3, config = $4, updated_at = NOW()
		WHERE id = $1`,
		id, name, description, cfg)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAgent removes an agent.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM saved_agents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAgent returns an agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*SavedAgent, error) {
	var a SavedAgent
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, config, created_at, updated_at
		FROM saved_agents WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Description, &a.Config, &a.CreatedAt, &a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}
	return &a, nil
}

// GetAgentByName matches case-insensitively on the exact name.
func (s *Store) GetAgentByName(ctx context.Context, name string) (*SavedAgent, error) {
	var a SavedAgent
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, config, created_at, updated_at
		FROM saved_agents WHERE LOWER(name) = $1`, strings.ToLower(name)).
		Scan(&a.ID, &a.Name, &a.Description, &a.Config, &a.CreatedAt, &a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}
	return &a, nil
}

// ListAgents returns all agents newest first, including configs so callers
// can surface the full definition.
func (s *Store) ListAgents(ctx context.Context) ([]SavedAgent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, config, created_at, updated_at
		FROM saved_agents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []SavedAgent
	for rows.Next() {
		var a SavedAgent
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.Config, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
