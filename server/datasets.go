package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/forge-ai/forge-kb/store"
)

// fetchTimeout bounds outbound dataset pulls.
const fetchTimeout = 30 * time.Second

type datasetResponse struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	URL           string          `json:"url"`
	Method        string          `json:"method"`
	Token         string          `json:"token"`
	Headers       json.RawMessage `json:"headers"`
	ArrayPath     string          `json:"array_path"`
	ExtractFields json.RawMessage `json:"extract_fields"`
	RawData       json.RawMessage `json:"raw_data"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func datasetItem(d store.Dataset) datasetResponse {
	headers := d.Headers
	if len(headers) == 0 {
		headers = []byte("{}")
	}
	extract := d.ExtractFields
	if len(extract) == 0 {
		extract = []byte("[]")
	}
	raw := d.RawData
	if len(raw) == 0 {
		raw = []byte("null")
	}
	return datasetResponse{
		ID: d.ID, Name: d.Name, URL: d.URL, Method: d.Method, Token: d.Token,
		Headers: headers, ArrayPath: d.ArrayPath, ExtractFields: extract,
		RawData: raw, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, _, err := s.store.ListDatasets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	data := make([]datasetResponse, 0, len(datasets))
	for _, d := range datasets {
		data = append(data, datasetItem(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data, "total": len(data)})
}

func (s *Server) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string          `json:"name"`
		URL           string          `json:"url"`
		Method        string          `json:"method"`
		Token         string          `json:"token"`
		Headers       json.RawMessage `json:"headers"`
		ArrayPath     string          `json:"array_path"`
		ExtractFields json.RawMessage `json:"extract_fields"`
		RawData       json.RawMessage `json:"raw_data"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := s.store.CreateDataset(r.Context(), &store.Dataset{
		Name: req.Name, URL: req.URL, Method: req.Method, Token: req.Token,
		Headers: req.Headers, ArrayPath: req.ArrayPath,
		ExtractFields: req.ExtractFields, RawData: req.RawData,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	d, err := s.store.GetDataset(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, datasetItem(*d))
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDataset(r.Context(), pathID(r))
	if err != nil {
		writeStoreError(w, err, "Dataset not found")
		return
	}
	writeJSON(w, http.StatusOK, datasetItem(*d))
}

func (s *Server) handleUpdateDataset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          *string         `json:"name"`
		URL           *string         `json:"url"`
		Method        *string         `json:"method"`
		Token         *string         `json:"token"`
		Headers       json.RawMessage `json:"headers"`
		ArrayPath     *string         `json:"array_path"`
		ExtractFields json.RawMessage `json:"extract_fields"`
		RawData       json.RawMessage `json:"raw_data"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == nil && req.URL == nil && req.Method == nil && req.Token == nil &&
		req.Headers == nil && req.ArrayPath == nil && req.ExtractFields == nil && req.RawData == nil {
		writeError(w, http.StatusBadRequest, "No fields to update")
		return
	}

	d, err := s.store.GetDataset(r.Context(), pathID(r))
	if err != nil {
		writeStoreError(w, err, "Dataset not found")
		return
	}

	if req.Name != nil {
		d.Name = *req.Name
	}
	if req.URL != nil {
		d.URL = *req.URL
	}
	if req.Method != nil {
		d.Method = *req.Method
	}
	if req.Token != nil {
		d.Token = *req.Token
	}
	if req.Headers != nil {
		d.Headers = req.Headers
	}
	if req.ArrayPath != nil {
		d.ArrayPath = *req.ArrayPath
	}
	if req.ExtractFields != nil {
		d.ExtractFields = req.ExtractFields
	}

	if err := s.store.UpdateDataset(r.Context(), d); err != nil {
		writeStoreError(w, err, "Dataset not found")
		return
	}
	if req.RawData != nil {
		if err := s.store.SetDatasetRawData(r.Context(), d.ID, req.RawData); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	updated, err := s.store.GetDataset(r.Context(), d.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, datasetItem(*updated))
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDataset(r.Context(), pathID(r)); err != nil {
		writeStoreError(w, err, "Dataset not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Dataset deleted (records cascade-deleted)"})
}

func (s *Server) handleFetchDataset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body json.RawMessage `json:"body"`
	}
	// Body is optional on fetch.
	_ = json.NewDecoder(r.Body).Decode(&req)

	d, err := s.store.GetDataset(r.Context(), pathID(r))
	if err != nil {
		writeStoreError(w, err, "Dataset not found")
		return
	}

	method := strings.ToUpper(d.Method)
	var body io.Reader
	if method == http.MethodPost && len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	} else if method != http.MethodPost {
		method = http.MethodGet
	}

	outReq, err := http.NewRequestWithContext(r.Context(), method, d.URL, body)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Fetch failed: "+err.Error())
		return
	}
	var headers map[string]string
	if len(d.Headers) > 0 {
		_ = json.Unmarshal(d.Headers, &headers)
	}
	for k, v := range headers {
		outReq.Header.Set(k, v)
	}
	if body != nil {
		outReq.Header.Set("Content-Type", "application/json")
	}
	if d.Token != "" {
		outReq.Header.Set("Authorization", "Bearer "+d.Token)
	}

	start := time.Now()
	client := &http.Client{Timeout: fetchTimeout}
	resp, err := client.Do(outReq)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Fetch failed: "+err.Error())
		return
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Fetch failed: "+err.Error())
		return
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		data = string(raw)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     resp.StatusCode,
		"data":       data,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
}

type datasetRecordResponse struct {
	ID        string          `json:"id"`
	DatasetID string          `json:"dataset_id"`
	Data      json.RawMessage `json:"data"`
	JSONPath  string          `json:"json_path"`
	Label     string          `json:"label"`
	CreatedAt time.Time       `json:"created_at"`
}

func recordItem(rec store.DatasetRecord) datasetRecordResponse {
	data := rec.Data
	if len(data) == 0 {
		data = []byte("null")
	}
	return datasetRecordResponse{
		ID: rec.ID, DatasetID: rec.DatasetID, Data: data,
		JSONPath: rec.JSONPath, Label: rec.Label, CreatedAt: rec.CreatedAt,
	}
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1, 1, 0)
	limit := queryInt(q.Get("limit"), 50, 1, 200)

	records, total, err := s.store.ListDatasetRecords(r.Context(), q.Get("dataset_id"), page, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data := make([]datasetRecordResponse, 0, len(records))
	for _, rec := range records {
		data = append(data, recordItem(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": data, "total": total, "page": page, "limit": limit,
	})
}

func (s *Server) handleListAllRecords(w http.ResponseWriter, r *http.Request) {
	datasetID := r.URL.Query().Get("dataset_id")
	if datasetID == "" {
		writeError(w, http.StatusBadRequest, "dataset_id is required")
		return
	}

	records, err := s.store.AllDatasetRecords(r.Context(), datasetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data := make([]datasetRecordResponse, 0, len(records))
	for _, rec := range records {
		data = append(data, recordItem(rec))
	}
	limit := len(data)
	if limit == 0 {
		limit = 1
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": data, "total": len(data), "page": 1, "limit": limit,
	})
}

func (s *Server) handleBulkCreateRecords(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Records []struct {
			DatasetID string          `json:"dataset_id"`
			Data      json.RawMessage `json:"data"`
			JSONPath  string          `json:"json_path"`
			Label     string          `json:"label"`
		} `json:"records"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Records) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"message": "No records provided", "count": 0})
		return
	}

	records := make([]store.DatasetRecord, len(req.Records))
	for i, rec := range req.Records {
		records[i] = store.DatasetRecord{
			DatasetID: rec.DatasetID,
			Data:      rec.Data,
			JSONPath:  rec.JSONPath,
			Label:     rec.Label,
		}
	}

	inserted, err := s.store.AddDatasetRecords(r.Context(), records)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	msg := fmt.Sprintf("Saved %d records", inserted)
	if skipped := len(records) - inserted; skipped > 0 {
		msg += fmt.Sprintf(" (%d duplicates skipped)", skipped)
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": msg, "count": inserted})
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDatasetRecord(r.Context(), pathID(r)); err != nil {
		writeStoreError(w, err, "Record not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Record deleted"})
}

func (s *Server) handleBulkDeleteRecords(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	deleted, err := s.store.BulkDeleteDatasetRecords(r.Context(), req.IDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}
