// Package server exposes the HTTP API: knowledge-base CRUD and search,
// settings, run history, datasets, saved agents and workflows, plus the
// SSE run endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forge-ai/forge-kb/config"
	"github.com/forge-ai/forge-kb/embedders"
	"github.com/forge-ai/forge-kb/history"
	"github.com/forge-ai/forge-kb/llms"
	"github.com/forge-ai/forge-kb/store"
	"github.com/forge-ai/forge-kb/tools"
)

// Server wires the HTTP API over the store and the LLM backends.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	registry *tools.Registry
	sink     *history.Sink
	router   chi.Router
}

// New builds a Server with its routes mounted.
func New(cfg *config.Config, st *store.Store) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		registry: tools.NewDefaultRegistry(),
		sink:     history.NewSink(st),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(requestMetrics)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/kb", func(r chi.Router) {
		r.Post("/documents", s.handleAddDocuments)
		r.Get("/documents", s.handleListDocuments)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Post("/documents/bulk-delete", s.handleBulkDeleteDocuments)
		r.Post("/search", s.handleSearch)
		r.Get("/stats", s.handleStats)
		r.Delete("/clear", s.handleClearDocuments)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)

		r.Get("/history", s.handleListHistory)
		r.Post("/history", s.handleAddHistory)
		r.Post("/history/bulk", s.handleBulkAddHistory)
		r.Get("/history/{id}", s.handleGetHistory)
		r.Delete("/history/{id}", s.handleDeleteHistory)
		r.Delete("/history", s.handleClearHistory)

		r.Get("/datasets", s.handleListDatasets)
		r.Post("/datasets", s.handleCreateDataset)
		r.Get("/datasets/{id}", s.handleGetDataset)
		r.Put("/datasets/{id}", s.handleUpdateDataset)
		r.Delete("/datasets/{id}", s.handleDeleteDataset)
		r.Post("/datasets/{id}/fetch", s.handleFetchDataset)

		r.Get("/dataset-records", s.handleListRecords)
		r.Get("/dataset-records/all", s.handleListAllRecords)
		r.Post("/dataset-records", s.handleBulkCreateRecords)
		r.Delete("/dataset-records/{id}", s.handleDeleteRecord)
		r.Post("/dataset-records/bulk-delete", s.handleBulkDeleteRecords)

		r.Get("/agents", s.handleListAgents)
		r.Post("/agents", s.handleCreateAgent)
		r.Get("/agents/{id}", s.handleGetAgent)
		r.Put("/agents/{id}", s.handleUpdateAgent)
		r.Delete("/agents/{id}", s.handleDeleteAgent)
		r.Post("/agents/{id}/run", s.handleRunAgent)

		r.Get("/workflows", s.handleListWorkflows)
		r.Post("/workflows", s.handleCreateWorkflow)
		r.Get("/workflows/{id}", s.handleGetWorkflow)
		r.Put("/workflows/{id}", s.handleUpdateWorkflow)
		r.Delete("/workflows/{id}", s.handleDeleteWorkflow)
		r.Post("/workflows/{id}/run", s.handleRunWorkflow)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// chatClient resolves the chat backend URL from settings and returns a
// client bound to it.
func (s *Server) chatClient(ctx context.Context) *llms.Client {
	url := llms.ResolveBackendURL(ctx, s.store,
		llms.SettingChatURL, llms.SettingChatFallbackURL, s.cfg.Backends.ChatURL)
	return llms.NewClient(url)
}

// embedClient resolves the embedding backend URL from settings.
func (s *Server) embedClient(ctx context.Context) *embedders.Client {
	url := llms.ResolveBackendURL(ctx, s.store,
		llms.SettingEmbedURL, llms.SettingEmbedFallbackURL, s.cfg.Backends.EmbedURL)
	return embedders.NewClient(url)
}

// ListenAndServe runs the server until ctx is cancelled, then drains with a
// grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
