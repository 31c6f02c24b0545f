// Package api exposes the sweep scheduler over HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quantlab-data/orchestra/internal/httputil"
	"github.com/quantlab-data/orchestra/internal/monitoring"
	"github.com/quantlab-data/orchestra/internal/report"
	"github.com/quantlab-data/orchestra/internal/security"
	"github.com/quantlab-data/orchestra/internal/store"
	"github.com/quantlab-data/orchestra/internal/sweep"
	"github.com/quantlab-data/orchestra/internal/version"
)

// Server serves the sweep orchestration API. The store is optional; history
// endpoints respond 404 without one.
type Server struct {
	scheduler    *sweep.Scheduler
	store        *store.Store
	address      string
	projectsRoot string
	server       *http.Server
}

// Config carries the server's collaborators. ProjectsRoot, when set, confines
// project paths in submitted sweep configurations to that directory.
type Config struct {
	Address      string
	Scheduler    *sweep.Scheduler
	Store        *store.Store
	ProjectsRoot string
}

// NewServer creates an HTTP server for the given scheduler.
func NewServer(config Config) *Server {
	s := &Server{
		scheduler:    config.Scheduler,
		store:        config.Store,
		address:      config.Address,
		projectsRoot: config.ProjectsRoot,
	}
	s.server = &http.Server{
		Addr:    s.address,
		Handler: s.setupRoutes(),
	}
	return s
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		monitoring.Logf("starting HTTP server on %s", s.address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	monitoring.Logf("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		return s.server.Close()
	}
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/sweeps", s.handleSweeps)
	mux.HandleFunc("/api/sweeps/", s.handleSweepByID)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/history", s.handleHistory)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"git_sha": version.GitSHA,
	})
}

// handleSweeps lists executions (GET) or schedules a new sweep (POST). The
// POST body is a sweep configuration in the same JSON format the CLI accepts.
func (s *Server) handleSweeps(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSON(w, http.StatusOK, s.scheduler.ListExecutions())
	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			httputil.BadRequest(w, "read request body")
			return
		}
		config, err := sweep.ParseConfig(body)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid sweep configuration: %v", err))
			return
		}
		for _, path := range config.ProjectPaths {
			if err := security.ValidateProjectPath(path, s.projectsRoot); err != nil {
				httputil.BadRequest(w, fmt.Sprintf("project path rejected: %v", err))
				return
			}
		}
		execution, err := s.scheduler.ScheduleSweep(config)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("schedule sweep: %v", err))
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, execution)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// handleSweepByID routes /api/sweeps/{id} and its lifecycle and report
// subpaths.
func (s *Server) handleSweepByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sweeps/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		httputil.BadRequest(w, "missing execution id")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		execution := s.scheduler.ExecutionStatus(id)
		if execution == nil {
			httputil.NotFound(w, "execution not found")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, execution)
	case "pause":
		s.handleTransition(w, r, id, s.scheduler.PauseExecution)
	case "resume":
		s.handleTransition(w, r, id, s.scheduler.ResumeExecution)
	case "cancel":
		s.handleTransition(w, r, id, s.scheduler.CancelExecution)
	case "summary":
		s.handleSummary(w, r, id)
	case "chart":
		s.handleChart(w, r, id)
	default:
		httputil.NotFound(w, "unknown action "+action)
	}
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, id string, transition func(string) bool) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if !transition(id) {
		httputil.WriteJSONError(w, http.StatusConflict, "transition not allowed in current state")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.scheduler.ExecutionStatus(id))
}

// handleSummary returns per-objective statistics for an execution.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	execution := s.scheduler.ExecutionStatus(id)
	if execution == nil {
		httputil.NotFound(w, "execution not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report.Summarize(execution.Results, execution.Config.Objectives))
}

// handleChart renders the execution's objective chart as HTML.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	execution := s.scheduler.ExecutionStatus(id)
	if execution == nil {
		httputil.NotFound(w, "execution not found")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderChart(w, execution); err != nil {
		monitoring.Logf("render chart for %s: %v", id, err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.scheduler.Statistics())
}

// handleHistory lists persisted executions from the store, including ones
// from earlier runs of the service.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.NotFound(w, "no store configured")
		return
	}
	records, err := s.store.ListExecutions()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list executions: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}
