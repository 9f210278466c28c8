package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/forge-ai/forge-kb/agent"
	"github.com/forge-ai/forge-kb/config"
	"github.com/forge-ai/forge-kb/history"
	"github.com/forge-ai/forge-kb/rag"
	"github.com/forge-ai/forge-kb/store"
)

type agentResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Config      json.RawMessage `json:"config"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func agentItem(a store.SavedAgent) agentResponse {
	cfg := a.Config
	if len(cfg) == 0 {
		cfg = []byte("{}")
	}
	return agentResponse{
		ID: a.ID, Name: a.Name, Description: a.Description,
		Config: cfg, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	data := make([]agentResponse, 0, len(agents))
	for _, a := range agents {
		data = append(data, agentItem(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data, "total": len(data)})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Config      json.RawMessage `json:"config"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := s.store.CreateAgent(r.Context(), req.Name, req.Description, req.Config)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a, err := s.store.GetAgent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agentItem(*a))
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAgent(r.Context(), pathID(r))
	if err != nil {
		writeStoreError(w, err, "Agent not found")
		return
	}
	writeJSON(w, http.StatusOK, agentItem(*a))
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        *string         `json:"name"`
		Description *string         `json:"description"`
		Config      json.RawMessage `json:"config"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == nil && req.Description == nil && req.Config == nil {
		writeError(w, http.StatusBadRequest, "No fields to update")
		return
	}

	a, err := s.store.GetAgent(r.Context(), pathID(r))
	if err != nil {
		writeStoreError(w, err, "Agent not found")
		return
	}
	if req.Name != nil {
		a.Name = *req.Name
	}
	if req.Description != nil {
		a.Description = *req.Description
	}
	if req.Config != nil {
		a.Config = req.Config
	}

	if err := s.store.UpdateAgent(r.Context(), a.ID, a.Name, a.Description, a.Config); err != nil {
		writeStoreError(w, err, "Agent not found")
		return
	}
	updated, err := s.store.GetAgent(r.Context(), a.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agentItem(*updated))
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAgent(r.Context(), pathID(r)); err != nil {
		writeStoreError(w, err, "Agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Agent deleted"})
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Variables map[string]string `json:"variables"`
		Stream    *bool             `json:"stream"`
	}{Variables: map[string]string{}}
	// An empty body runs the agent with config defaults.
	_ = json.NewDecoder(r.Body).Decode(&req)

	sa, err := s.store.GetAgent(r.Context(), pathID(r))
	if err != nil {
		writeStoreError(w, err, "Agent not found")
		return
	}

	cfg, err := config.ParseAgentConfig(sa.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stream := true
	if cfg.Stream != nil {
		stream = *cfg.Stream
	}
	if req.Stream != nil {
		stream = *req.Stream
	}

	embed := s.embedClient(r.Context())
	exec := agent.New(agent.Options{
		Config:       &cfg,
		AgentID:      sa.ID,
		AgentName:    sa.Name,
		LLM:          s.chatClient(r.Context()),
		RAG:          rag.New(s.store, embed, nil),
		Registry:     s.registry,
		Backend:      s.store,
		Embedder:     embed,
		Loader:       s.store,
		WorkflowStep: -1,
	})

	merged := cfg.MergeVariables(req.Variables)
	events := exec.Execute(r.Context(), req.Variables, stream)

	if !stream && !cfg.IsReact() {
		s.runAgentJSON(w, r, exec, &cfg, merged, events)
		return
	}

	status := http.StatusOK
	streamEvents(w, r, events, func(ev agent.Event) {
		if eventFailed(ev) {
			status = http.StatusInternalServerError
		}
	})

	s.recordAgentRun(exec, &cfg, merged, status)
}

// runAgentJSON handles the non-streaming simple-mode shape: the upstream
// completion body is returned verbatim, errors map to 502.
func (s *Server) runAgentJSON(w http.ResponseWriter, r *http.Request, exec *agent.Executor, cfg *config.AgentConfig, merged map[string]string, events <-chan agent.Event) {
	var body json.RawMessage
	for ev := range events {
		if !ev.IsDone() && len(ev.Raw) > 0 {
			body = ev.Raw
		}
	}

	var probe struct {
		Error string `json:"error"`
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadGateway, "Chat backend returned no response")
		s.recordAgentRun(exec, cfg, merged, http.StatusBadGateway)
		return
	}
	if err := json.Unmarshal(body, &probe); err == nil && probe.Error != "" {
		writeError(w, http.StatusBadGateway, probe.Error)
		s.recordAgentRun(exec, cfg, merged, http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, body)
	s.recordAgentRun(exec, cfg, merged, http.StatusOK)
}

func (s *Server) recordAgentRun(exec *agent.Executor, cfg *config.AgentConfig, merged map[string]string, status int) {
	outcome := "ok"
	if status != http.StatusOK {
		outcome = "error"
	}
	agentRunsTotal.WithLabelValues(cfg.AgentMode, outcome).Inc()

	reqPayload, resPayload := exec.HistoryPayloads(merged)
	s.sink.Write(history.Record{
		Model:           cfg.SelectedModel,
		Status:          status,
		Prompt:          exec.PromptText(),
		Output:          exec.FullText(),
		Elapsed:         exec.Elapsed(),
		RequestPayload:  reqPayload,
		ResponsePayload: resPayload,
	})
}

// eventFailed reports whether an event carries an error, either typed or as
// a raw {"error": ...} frame.
func eventFailed(ev agent.Event) bool {
	if ev.Type == "error" {
		return true
	}
	if len(ev.Raw) == 0 || ev.IsDone() {
		return false
	}
	var probe struct {
		Error string `json:"error"`
	}
	return json.Unmarshal(ev.Raw, &probe) == nil && probe.Error != ""
}
