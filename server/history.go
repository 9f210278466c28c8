package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/forge-ai/forge-kb/store"
)

type historyItemInput struct {
	ID              string          `json:"id"`
	Method          string          `json:"method"`
	Endpoint        string          `json:"endpoint"`
	Model           string          `json:"model"`
	Timestamp       string          `json:"timestamp"`
	Duration        string          `json:"duration"`
	Tokens          int             `json:"tokens"`
	Status          int             `json:"status"`
	StatusText      string          `json:"status_text"`
	Preview         string          `json:"preview"`
	RequestPayload  json.RawMessage `json:"request_payload"`
	ResponsePayload json.RawMessage `json:"response_payload"`
}

type historyItemResponse struct {
	ID         string    `json:"id"`
	Method     string    `json:"method"`
	Endpoint   string    `json:"endpoint"`
	Model      string    `json:"model"`
	Timestamp  string    `json:"timestamp"`
	Duration   string    `json:"duration"`
	Tokens     int       `json:"tokens"`
	Status     int       `json:"status"`
	StatusText string    `json:"status_text"`
	Preview    string    `json:"preview"`
	CreatedAt  time.Time `json:"created_at"`
}

func historyItem(e store.HistoryEntry) historyItemResponse {
	return historyItemResponse{
		ID: e.ID, Method: e.Method, Endpoint: e.Endpoint, Model: e.Model,
		Timestamp: e.Timestamp, Duration: e.Duration, Tokens: e.Tokens,
		Status: e.Status, StatusText: e.StatusText, Preview: e.Preview,
		CreatedAt: e.CreatedAt,
	}
}

func historyEntryFromInput(item historyItemInput) *store.HistoryEntry {
	return &store.HistoryEntry{
		ID:              item.ID,
		Method:          item.Method,
		Endpoint:        item.Endpoint,
		Model:           item.Model,
		Timestamp:       item.Timestamp,
		Duration:        item.Duration,
		Tokens:          item.Tokens,
		Status:          item.Status,
		StatusText:      item.StatusText,
		Preview:         item.Preview,
		RequestPayload:  item.RequestPayload,
		ResponsePayload: item.ResponsePayload,
		WorkflowStep:    -1,
	}
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1, 1, 0)
	limit := queryInt(q.Get("limit"), 50, 1, 200)

	entries, total, err := s.store.ListHistory(r.Context(), page, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data := make([]historyItemResponse, 0, len(entries))
	for _, e := range entries {
		data = append(data, historyItem(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": data, "total": total, "page": page, "limit": limit,
	})
}

func (s *Server) handleAddHistory(w http.ResponseWriter, r *http.Request) {
	var item historyItemInput
	if !decodeBody(w, r, &item) {
		return
	}
	if _, err := s.store.InsertHistory(r.Context(), historyEntryFromInput(item)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "History item added", "count": 1})
}

func (s *Server) handleBulkAddHistory(w http.ResponseWriter, r *http.Request) {
	var items []historyItemInput
	if !decodeBody(w, r, &items) {
		return
	}
	inserted := 0
	for _, item := range items {
		ok, err := s.store.InsertHistory(r.Context(), historyEntryFromInput(item))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if ok {
			inserted++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Bulk inserted %d history items", inserted),
		"count":   inserted,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.GetHistory(r.Context(), pathID(r))
	if err != nil {
		writeStoreError(w, err, "History item not found")
		return
	}

	resp := map[string]any{
		"id": e.ID, "method": e.Method, "endpoint": e.Endpoint, "model": e.Model,
		"timestamp": e.Timestamp, "duration": e.Duration, "tokens": e.Tokens,
		"status": e.Status, "status_text": e.StatusText, "preview": e.Preview,
		"created_at":       e.CreatedAt,
		"request_payload":  json.RawMessage(e.RequestPayload),
		"response_payload": json.RawMessage(e.ResponsePayload),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteHistory(r.Context(), pathID(r)); err != nil {
		writeStoreError(w, err, "History item not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "History item deleted"})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.store.ClearHistory(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Cleared %d history items", cleared),
		"count":   cleared,
	})
}
