package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/elonfeng/linkscout/internal/store"
	"github.com/elonfeng/linkscout/pkg/analysis"
	"github.com/elonfeng/linkscout/pkg/export"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// Runner executes one analysis.
type Runner interface {
	Run(ctx context.Context, req analysis.Request) (*analysis.Response, error)
}

// Server provides the HTTP API.
type Server struct {
	store          store.Store
	runner         Runner
	port           int
	allowedOrigins []string
	log            logrus.FieldLogger
}

// New creates a new HTTP server.
func New(s store.Store, runner Runner, port int, allowedOrigins []string, log logrus.FieldLogger) *Server {
	if port == 0 {
		port = 8080
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		store:          s,
		runner:         runner,
		port:           port,
		allowedOrigins: allowedOrigins,
		log:            log,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/projects/{projectID}/opportunities", s.handleOpportunities)
		r.Get("/projects/{projectID}/opportunities/export", s.handleExport)
		r.Get("/projects/{projectID}/runs", s.handleRuns)
		r.Get("/runs/{runID}", s.handleRun)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", srv.Addr).Info("linkscout server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analysis.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, analysis.FailureFrom(fmt.Errorf("decode request: %w", err)))
		return
	}

	// A started run outlives the client connection; per-call timeouts still apply.
	resp, err := s.runner.Run(context.WithoutCancel(r.Context()), req)
	if err != nil {
		writeJSON(w, analyzeStatus(err), analysis.FailureFrom(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func analyzeStatus(err error) int {
	switch {
	case errors.Is(err, analysis.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, analysis.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, analysis.ErrCrawlFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	opps, err := s.store.ListOpportunities(r.Context(), store.OpportunityListOpts{
		ProjectID:  chi.URLParam(r, "projectID"),
		AnalysisID: r.URL.Query().Get("analysisId"),
		Limit:      queryLimit(r, 50),
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  opps,
		"count": len(opps),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := export.FormatCSV
	if v := r.URL.Query().Get("format"); v != "" {
		f, err := export.ParseFormat(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		format = f
	}

	projectID := chi.URLParam(r, "projectID")
	opps, err := s.store.ListOpportunities(r.Context(), store.OpportunityListOpts{
		ProjectID: projectID,
		Limit:     queryLimit(r, 1000),
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", projectID+"-opportunities."+string(format)))
	if err := export.Write(w, format, opps); err != nil {
		s.log.WithError(err).WithField("project", projectID).Error("export opportunities")
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), chi.URLParam(r, "projectID"), queryLimit(r, 20))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// queryLimit reads ?limit=, capped at 1000.
func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, 1000)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
