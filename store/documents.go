package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// Document is a knowledge-base entry with its dense vector.
type Document struct {
	ID          string
	Text        string
	Embedding   []float32
	Source      string
	SourceLabel string
	CreatedAt   time.Time
}

// SearchResult is a retrieved passage with its scores. KwScore and RRFScore
// are zero for pure semantic searches.
type SearchResult struct {
	ID          string
	Text        string
	Source      string
	SourceLabel string
	Similarity  float64
	KwScore     float64
	RRFScore    float64
	CreatedAt   time.Time
}

// AddDocuments inserts documents, skipping duplicates by text hash. Returns
// the number actually inserted. Vectors must match EmbeddingDim.
func (s *Store) AddDocuments(ctx context.Context, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	for i, doc := range docs {
		if len(doc.Embedding) != EmbeddingDim {
			return 0, fmt.Errorf("document %d: embedding dimension %d, want %d", i, len(doc.Embedding), EmbeddingDim)
		}
	}

	inserted := 0
	for _, doc := range docs {
		source := doc.Source
		if source == "" {
			source = "manual"
		}
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO kb_documents (id, text, embedding, source, source_label)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT ((md5(text))) DO NOTHING`,
			uuid.NewString(), doc.Text, pgvector.NewVector(doc.Embedding), source, doc.SourceLabel)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert document: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListDocuments pages through documents, optionally filtered by source kind
// and source label. Embeddings are not fetched.
func (s *Store) ListDocuments(ctx context.Context, source, sourceLabel string, page, limit int) ([]Document, int, error) {
	var conditions []string
	args := pgx.NamedArgs{}

	if source != "" {
		conditions = append(conditions, "source = @source")
		args["source"] = source
	}
	if sourceLabel != "" {
		conditions = append(conditions, "source_label = @source_label")
		args["source_label"] = sourceLabel
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM kb_documents "+where, args).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	args["limit"] = limit
	args["offset"] = (page - 1) * limit
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, text, source, source_label, created_at
		FROM kb_documents %s
		ORDER BY created_at DESC
		LIMIT @limit OFFSET @offset`, where), args)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Text, &d.Source, &d.SourceLabel, &d.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, total, rows.Err()
}

// DeleteDocument removes one document.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM kb_documents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// BulkDeleteDocuments removes documents by id, returning the deleted count.
func (s *Store) BulkDeleteDocuments(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, "DELETE FROM kb_documents WHERE id = ANY($1)", ids)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk delete documents: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClearDocuments removes all documents, returning the count.
func (s *Store) ClearDocuments(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM kb_documents")
	if err != nil {
		return 0, fmt.Errorf("failed to clear documents: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DocumentStats summarizes the corpus.
type DocumentStats struct {
	Total        int
	Sources      map[string]int
	SourceLabels []string
}

// Stats returns total count, per-source counts and the distinct labels.
func (s *Store) Stats(ctx context.Context) (*DocumentStats, error) {
	stats := &DocumentStats{Sources: map[string]int{}}

	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM kb_documents").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	rows, err := s.pool.Query(ctx, "SELECT source, COUNT(*) FROM kb_documents GROUP BY source")
	if err != nil {
		return nil, fmt.Errorf("failed to count sources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("failed to scan source count: %w", err)
		}
		stats.Sources[source] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	labelRows, err := s.pool.Query(ctx,
		"SELECT DISTINCT source_label FROM kb_documents WHERE source_label != '' ORDER BY source_label")
	if err != nil {
		return nil, fmt.Errorf("failed to list source labels: %w", err)
	}
	defer labelRows.Close()
	for labelRows.Next() {
		var label string
		if err := labelRows.Scan(&label); err != nil {
			return nil, fmt.Errorf("failed to scan source label: %w", err)
		}
		stats.SourceLabels = append(stats.SourceLabels, label)
	}
	return stats, labelRows.Err()
}

// SemanticSearch runs a pure cosine-similarity search. sourceLabels narrows
// the corpus when non-empty; a single empty label means "no filter".
func (s *Store) SemanticSearch(ctx context.Context, embedding []float32, threshold float64, topK int, sourceLabels []string) ([]SearchResult, error) {
	args := pgx.NamedArgs{
		"embedding": pgvector.NewVector(embedding),
		"threshold": threshold,
		"top_k":     topK,
	}

	filter := ""
	if len(sourceLabels) > 0 {
		filter = "AND source_label = ANY(@sources)"
		args["sources"] = sourceLabels
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, text, source, source_label, created_at,
		       1 - (embedding <=> @embedding) AS similarity
		FROM kb_documents
		WHERE 1 - (embedding <=> @embedding) >= @threshold
		%s
		ORDER BY similarity DESC
		LIMIT @top_k`, filter), args)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Text, &r.Source, &r.SourceLabel, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// HybridSearch merges a cosine-similarity sub-query and a BM25 full-text
// sub-query via reciprocal rank fusion (k=60). Both sub-queries over-fetch
// 3x topK so the fusion has enough candidates. tsQuery is the OR-joined
// keyword query; when it is empty the call degrades to SemanticSearch.
func (s *Store) HybridSearch(ctx context.Context, embedding []float32, sourceLabel string, threshold float64, topK int, tsQuery string) ([]SearchResult, error) {
	if tsQuery == "" {
		var labels []string
		if sourceLabel != "" {
			labels = []string{sourceLabel}
		}
		return s.SemanticSearch(ctx, embedding, threshold, topK, labels)
	}

	args := pgx.NamedArgs{
		"embedding":   pgvector.NewVector(embedding),
		"source":      sourceLabel,
		"threshold":   threshold,
		"tsquery":     tsQuery,
		"fetch_limit": topK * 3,
		"top_k":       topK,
	}

	rows, err := s.pool.Query(ctx, `
		WITH semantic AS (
			SELECT id, text, source, source_label, created_at,
			       1 - (embedding <=> @embedding) AS similarity,
			       ROW_NUMBER() OVER (ORDER BY embedding <=> @embedding) AS sem_rank
			FROM kb_documents
			WHERE source_label = @source
			  AND 1 - (embedding <=> @embedding) >= @threshold
			LIMIT @fetch_limit
		),
		keyword AS (
			SELECT id, text, source, source_label, created_at,
			       ts_rank(search_vector, to_tsquery('simple', @tsquery)) AS kw_score,
			       ROW_NUMBER() OVER (ORDER BY ts_rank(search_vector, to_tsquery('simple', @tsquery)) DESC) AS kw_rank
			FROM kb_documents
			WHERE source_label = @source
			  AND search_vector @@ to_tsquery('simple', @tsquery)
			LIMIT @fetch_limit
		),
		combined AS (
			SELECT COALESCE(s.id, k.id) AS id,
			       COALESCE(s.text, k.text) AS text,
			       COALESCE(s.source, k.source) AS source,
			       COALESCE(s.source_label, k.source_label) AS source_label,
			       COALESCE(s.created_at, k.created_at) AS created_at,
			       COALESCE(s.similarity, 0) AS similarity,
			       COALESCE(k.kw_score, 0) AS kw_score,
			       COALESCE(1.0/(60 + s.sem_rank), 0) + COALESCE(1.0/(60 + k.kw_rank), 0) AS rrf_score
			FROM semantic s FULL OUTER JOIN keyword k ON s.id = k.id
		)
		SELECT id, text, source, source_label, created_at, similarity, kw_score, rrf_score
		FROM combined ORDER BY rrf_score DESC LIMIT @top_k`, args)
	if err != nil {
		return nil, fmt.Errorf("hybrid search failed: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Text, &r.Source, &r.SourceLabel, &r.CreatedAt, &r.Similarity, &r.KwScore, &r.RRFScore); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// HasSearchIndex reports whether the full-text search_vector column exists.
// Databases migrated from older deployments may lack it; retrieval then
// falls back to semantic-only.
func (s *Store) HasSearchIndex(ctx context.Context) bool {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = 'kb_documents' AND column_name = 'search_vector'
		)`).Scan(&exists)
	return err == nil && exists
}
