// Package gateway exposes the discovery, assembly, collection, execution
// and job surfaces over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/skillhub/internal/bundle"
	"github.com/dohr-michael/skillhub/internal/catalog"
	"github.com/dohr-michael/skillhub/internal/collect"
	"github.com/dohr-michael/skillhub/internal/events"
	"github.com/dohr-michael/skillhub/internal/exec"
	"github.com/dohr-michael/skillhub/internal/jobs"
	"github.com/dohr-michael/skillhub/internal/search"
)

// Server is the skillhub gateway HTTP server.
type Server struct {
	httpServer *http.Server

	bus       *events.Bus
	meta      catalog.MetadataStore
	router    *search.Router
	assembler *bundle.Assembler
	collector *collect.Collector
	adapter   *exec.Adapter
	orch      *jobs.Orchestrator
}

// NewServer wires every surface onto one router.
func NewServer(host string, port int, bus *events.Bus, meta catalog.MetadataStore,
	router *search.Router, assembler *bundle.Assembler, collector *collect.Collector,
	adapter *exec.Adapter, orch *jobs.Orchestrator) *Server {

	s := &Server{
		bus:       bus,
		meta:      meta,
		router:    router,
		assembler: assembler,
		collector: collector,
		adapter:   adapter,
		orch:      orch,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/events", s.handleEvents)

	r.Route("/api/skills", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Route("/{domain}/{name}", func(r chi.Router) {
			r.Get("/", s.handleSkillShow)
			r.Get("/files", s.handleSkillFiles)
			r.Post("/execute", s.handleExecute)
			r.Post("/collect", s.handleCollectStart)
		})
	})

	r.Get("/api/domains/{domain}", s.handleDomain)

	r.Route("/api/collect/{session}", func(r chi.Router) {
		r.Get("/", s.handleCollectPrompt)
		r.Post("/answers", s.handleCollectAnswers)
		r.Delete("/", s.handleCollectAbandon)
	})

	r.Route("/api/jobs", func(r chi.Router) {
		r.Get("/", s.handleJobList)
		r.Post("/", s.handleJobSubmit)
		r.Get("/{id}", s.handleJobPoll)
	})

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}
	return s
}

// Handler exposes the routed handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("skillhub gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	history := s.bus.History(limit)

	type eventJSON struct {
		ID        string             `json:"id"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}
	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps component sentinels onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, catalog.ErrSkillNotFound),
		errors.Is(err, collect.ErrSessionNotFound),
		errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, exec.ErrEntryPointNotFound):
		status = http.StatusNotFound
	case errors.Is(err, exec.ErrMissingRequiredInput),
		errors.Is(err, exec.ErrUnsupportedRuntime),
		errors.Is(err, bundle.ErrSpecificationMissing),
		errors.Is(err, collect.ErrOutOfOrder),
		errors.Is(err, collect.ErrSessionAbandoned):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, search.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, exec.ErrRuntimeFault),
		errors.Is(err, exec.ErrOutputAdapterMismatch):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
