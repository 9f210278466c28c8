// Package store is the PostgreSQL persistence layer: documents with dense
// vectors and a full-text index, saved agents, workflows, datasets, settings
// and the request history. All access goes through one process-wide pgx pool.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/forge-ai/forge-kb/config"
)

// EmbeddingDim is the fixed dimension of document vectors; inserts with any
// other dimension are rejected at ingest.
const EmbeddingDim = 768

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Store wraps the connection pool and exposes typed queries per entity.
type Store struct {
	pool *pgxpool.Pool
}

// New connects the pool and registers pgvector types on every connection.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Pool exposes the underlying pool for callers that need detached
// connections (the history sink).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// InitSchema creates the extension, tables and indexes. Idempotent; runs at
// startup.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS kb_documents (
			id UUID PRIMARY KEY,
			text TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			source VARCHAR(20) NOT NULL DEFAULT 'manual',
			source_label VARCHAR(255) NOT NULL DEFAULT '',
			search_vector tsvector GENERATED ALWAYS AS (to_tsvector('simple', text)) STORED,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, EmbeddingDim),

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_kb_text_md5 ON kb_documents ((md5(text)))`,
		`CREATE INDEX IF NOT EXISTS idx_kb_search_vector ON kb_documents USING gin (search_vector)`,

		`CREATE TABLE IF NOT EXISTS app_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS request_history (
			id TEXT PRIMARY KEY,
			method VARCHAR(10) NOT NULL DEFAULT '',
			endpoint TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL DEFAULT '',
			duration TEXT NOT NULL DEFAULT '',
			tokens INTEGER NOT NULL DEFAULT 0,
			status INTEGER NOT NULL DEFAULT 0,
			status_text TEXT NOT NULL DEFAULT '',
			preview TEXT NOT NULL DEFAULT '',
			request_payload JSONB,
			response_payload JSONB,
			workflow_id TEXT NOT NULL DEFAULT '',
			workflow_name TEXT NOT NULL DEFAULT '',
			workflow_step INTEGER NOT NULL DEFAULT -1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS datasets (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			method VARCHAR(10) NOT NULL DEFAULT 'GET',
			token TEXT NOT NULL DEFAULT '',
			headers JSONB NOT NULL DEFAULT '{}'::jsonb,
			array_path TEXT NOT NULL DEFAULT '',
			extract_fields JSONB NOT NULL DEFAULT '[]'::jsonb,
			raw_data JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS dataset_records (
			id UUID PRIMARY KEY,
			dataset_id UUID NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
			data JSONB NOT NULL,
			json_path TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_dataset_record_hash
			ON dataset_records (dataset_id, md5(data::text))`,

		`CREATE TABLE IF NOT EXISTS saved_agents (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			config JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS workflows (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			steps JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema init failed: %w", err)
		}
	}

	// HNSW works on empty tables, unlike ivfflat which needs rows first.
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_kb_embedding')`,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("schema init failed: %w", err)
	}
	if !exists {
		_, err = s.pool.Exec(ctx,
			`CREATE INDEX idx_kb_embedding ON kb_documents USING hnsw (embedding vector_cosine_ops)`)
		if err != nil {
			return fmt.Errorf("failed to create vector index: %w", err)
		}
		slog.Info("Created HNSW vector index on kb_documents")
	}

	return nil
}
