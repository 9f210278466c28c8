package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/forge-ai/forge-kb/rag"
	"github.com/forge-ai/forge-kb/store"
	"github.com/forge-ai/forge-kb/workflow"
)

type workflowResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Steps       json.RawMessage `json:"steps"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func workflowItem(wf store.SavedWorkflow) workflowResponse {
	steps := wf.Steps
	if len(steps) == 0 {
		steps = []byte("[]")
	}
	return workflowResponse{
		ID: wf.ID, Name: wf.Name, Description: wf.Description,
		Steps: steps, CreatedAt: wf.CreatedAt, UpdatedAt: wf.UpdatedAt,
	}
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.store.ListWorkflows(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	data := make([]workflowResponse, 0, len(workflows))
	for _, wf := range workflows {
		data = append(data, workflowItem(wf))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data, "total": len(data)})
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Steps       json.RawMessage `json:"steps"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := workflow.ParseSteps(req.Steps); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.store.CreateWorkflow(r.Context(), req.Name, req.Description, req.Steps)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	wf, err := s.store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, workflowItem(*wf))
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.store.GetWorkflow(r.Context(), pathID(r))
	if err != nil {
		writeStoreError(w, err, "Workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, workflowItem(*wf))
}

func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        *string         `json:"name"`
		Description *string         `json:"description"`
		Steps       json.RawMessage `json:"steps"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == nil && req.Description == nil && req.Steps == nil {
		writeError(w, http.StatusBadRequest, "No fields to update")
		return
	}
	if req.Steps != nil {
		if _, err := workflow.ParseSteps(req.Steps); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	wf, err := s.store.GetWorkflow(r.Context(), pathID(r))
	if err != nil {
		writeStoreError(w, err, "Workflow not found")
		return
	}
	if req.Name != nil {
		wf.Name = *req.Name
	}
	if req.Description != nil {
		wf.Description = *req.Description
	}
	if req.Steps != nil {
		wf.Steps = req.Steps
	}

	if err := s.store.UpdateWorkflow(r.Context(), wf.ID, wf.Name, wf.Description, wf.Steps); err != nil {
		writeStoreError(w, err, "Workflow not found")
		return
	}
	updated, err := s.store.GetWorkflow(r.Context(), wf.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, workflowItem(*updated))
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteWorkflow(r.Context(), pathID(r)); err != nil {
		writeStoreError(w, err, "Workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Workflow deleted"})
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Inputs map[string]string `json:"inputs"`
	}{Inputs: map[string]string{}}
	// An empty body runs the workflow with step defaults.
	_ = json.NewDecoder(r.Body).Decode(&req)

	wf, err := s.store.GetWorkflow(r.Context(), pathID(r))
	if err != nil {
		writeStoreError(w, err, "Workflow not found")
		return
	}

	embed := s.embedClient(r.Context())
	runner := workflow.NewRunner(workflow.Deps{
		LLM:      s.chatClient(r.Context()),
		RAG:      rag.New(s.store, embed, nil),
		Registry: s.registry,
		Backend:  s.store,
		Embedder: embed,
		Loader:   s.store,
		History:  s.sink,
	})

	workflowRunsTotal.Inc()
	streamEvents(w, r, runner.Run(r.Context(), wf, req.Inputs), nil)
}
