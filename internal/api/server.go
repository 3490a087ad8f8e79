// Package api is the thin status/control surface over a Run: starting
// one, reading its progress, and inspecting/retrying its dead-letter
// queue. It is grounded on the teacher's internal/api server.go +
// routes.go chi wiring (middleware stack, httputil.JSON/Error response
// helpers), scaled down from the teacher's full mailing-platform
// surface to the run-lifecycle endpoints this pipeline exposes.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/ignite/leadprobe/internal/domain"
	"github.com/ignite/leadprobe/internal/observability"
	"github.com/ignite/leadprobe/internal/pipeline"
	"github.com/ignite/leadprobe/internal/pipelineerr"
	"github.com/ignite/leadprobe/internal/pkg/httputil"
)

// RunStore is the subset of store.Store the status API reads from.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
}

// Server wires the Orchestrator and Collector behind an HTTP API.
type Server struct {
	orchestrator *pipeline.Orchestrator
	collector    *observability.Collector
	store        RunStore
	startedAt    time.Time
}

// New builds a Server.
func New(orchestrator *pipeline.Orchestrator, collector *observability.Collector, store RunStore) *Server {
	return &Server{orchestrator: orchestrator, collector: collector, store: store, startedAt: time.Now()}
}

// Router builds the chi mux for this Server.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)

	r.Route("/v1/runs", func(r chi.Router) {
		r.Post("/", s.handleStartRun)
		r.Get("/{runID}", s.handleGetRun)
		r.Get("/{runID}/dlq", s.handleListDeadLetters)
		r.Post("/{runID}/dlq/{jobID}/requeue", s.handleRequeueDeadLetter)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).String(),
	})
}

type startRunRequest struct {
	TenantID string            `json:"tenant_id"`
	Domains  []string          `json:"domains"`
	Options  domain.RunOptions `json:"options"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Options.Mode == "" {
		req.Options.Mode = domain.ModeFull
	}

	run, err := s.orchestrator.StartRun(r.Context(), req.TenantID, req.Domains, req.Options)
	if err != nil {
		if errors.Is(err, pipelineerr.ErrBudgetExceeded) {
			httputil.Error(w, http.StatusTooManyRequests, err.Error())
			return
		}
		if errors.Is(err, pipelineerr.ErrValidation) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.JSON(w, http.StatusAccepted, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if run == nil {
		httputil.NotFound(w, "run not found")
		return
	}
	httputil.OK(w, run)
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	id, err := uuid.Parse(runID)
	if err != nil {
		httputil.BadRequest(w, "invalid run id")
		return
	}
	entries, err := s.collector.DeadLetters(r.Context(), &id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, entries)
}

func (s *Server) handleRequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		httputil.BadRequest(w, "invalid job id")
		return
	}
	if err := s.collector.Requeue(r.Context(), jobID); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "requeued"})
}
