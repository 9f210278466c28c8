package server

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forge-ai/forge-kb/store"
)

// embedConcurrency bounds parallel embedding calls during ingest.
const embedConcurrency = 4

type documentInput struct {
	Text        string    `json:"text"`
	Embedding   []float32 `json:"embedding"`
	Source      string    `json:"source"`
	SourceLabel string    `json:"source_label"`
}

type documentResponse struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Source      string    `json:"source"`
	SourceLabel string    `json:"source_label"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Server) handleAddDocuments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Documents []documentInput `json:"documents"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "No documents provided")
		return
	}

	// Embed server-side whatever the client did not embed itself.
	if err := s.embedMissing(r, req.Documents); err != nil {
		writeError(w, http.StatusBadGateway, "Embedding failed: "+err.Error())
		return
	}

	docs := make([]store.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = store.Document{
			Text:        d.Text,
			Embedding:   d.Embedding,
			Source:      d.Source,
			SourceLabel: d.SourceLabel,
		}
	}

	inserted, err := s.store.AddDocuments(r.Context(), docs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	msg := fmt.Sprintf("Added %d documents", inserted)
	if skipped := len(docs) - inserted; skipped > 0 {
		msg += fmt.Sprintf(" (%d duplicates skipped)", skipped)
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": msg, "count": inserted})
}

func (s *Server) embedMissing(r *http.Request, docs []documentInput) error {
	var missing []int
	for i, d := range docs {
		if len(d.Embedding) == 0 {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	embedder := s.embedClient(r.Context())
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(embedConcurrency)
	for _, i := range missing {
		i := i
		g.Go(func() error {
			vec, err := embedder.Embed(ctx, docs[i].Text)
			if err != nil {
				return err
			}
			docs[i].Embedding = vec
			return nil
		})
	}
	return g.Wait()
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1, 1, 0)
	limit := queryInt(q.Get("limit"), 50, 1, 200)

	docs, total, err := s.store.ListDocuments(r.Context(), q.Get("source"), q.Get("source_label"), page, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		data = append(data, documentResponse{
			ID: d.ID, Text: d.Text, Source: d.Source,
			SourceLabel: d.SourceLabel, CreatedAt: d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": data, "total": total, "page": page, "limit": limit,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDocument(r.Context(), pathID(r)); err != nil {
		writeStoreError(w, err, "Document not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Document deleted"})
}

func (s *Server) handleBulkDeleteDocuments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	deleted, err := s.store.BulkDeleteDocuments(r.Context(), req.IDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

type searchResultItem struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Source      string    `json:"source"`
	SourceLabel string    `json:"source_label"`
	Similarity  float64   `json:"similarity"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Embedding []float32 `json:"embedding"`
		TopK      int       `json:"top_k"`
		Threshold *float64  `json:"threshold"`
		Sources   []string  `json:"sources"`
	}{TopK: 5}
	if !decodeBody(w, r, &req) {
		return
	}
	threshold := 0.3
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	start := time.Now()
	rows, err := s.store.SemanticSearch(r.Context(), req.Embedding, threshold, req.TopK, req.Sources)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results := make([]searchResultItem, 0, len(rows))
	for _, row := range rows {
		results = append(results, searchResultItem{
			ID: row.ID, Text: row.Text, Source: row.Source,
			SourceLabel: row.SourceLabel,
			Similarity:  math.Round(row.Similarity*10000) / 10000,
			CreatedAt:   row.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":        results,
		"search_time_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	labels := stats.SourceLabels
	if labels == nil {
		labels = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":         stats.Total,
		"sources":       stats.Sources,
		"source_labels": labels,
	})
}

func (s *Server) handleClearDocuments(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.store.ClearDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Cleared %d documents", cleared),
		"count":   cleared,
	})
}

// queryInt parses a query parameter, clamping to [min, max]. max of zero
// means unbounded.
func queryInt(raw string, def, min, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		n = min
	}
	if max > 0 && n > max {
		n = max
	}
	return n
}
