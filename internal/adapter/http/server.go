package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/couchcryptid/weather-collector/internal/domain"
	"github.com/couchcryptid/weather-collector/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultLimit = 10
	maxLimit     = 100
	maxBodyBytes = 64 << 10
)

var validate = validator.New()

// Runner triggers pipeline runs.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (domain.RunSummary, error)
	LastRun() (domain.RunSummary, bool)
}

// ObservationReader serves persisted observations to reporting clients.
type ObservationReader interface {
	MostRecent(ctx context.Context, entityKey string) (*domain.Observation, error)
	Recent(ctx context.Context, limit int) ([]domain.Observation, error)
}

// Dependencies are the collaborators behind the control API.
type Dependencies struct {
	Ready        sharedobs.ReadinessChecker
	Runner       Runner
	Observations ObservationReader
	// RunTimeout bounds a run triggered over HTTP.
	RunTimeout time.Duration
}

// Server exposes the control API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	deps       Dependencies
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the control API under /api/v1 and
// /healthz, /readyz, and /metrics at the root.
func NewServer(addr string, deps Dependencies, logger *slog.Logger) *Server {
	if deps.RunTimeout <= 0 {
		deps.RunTimeout = 2 * time.Minute
	}
	r := chi.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: deps.RunTimeout + 10*time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deps:   deps,
		logger: logger,
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(deps.Ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", s.handleTriggerRun)
		r.Get("/runs/latest", s.handleLastRun)
		r.Get("/observations", s.handleRecent)
		r.Get("/observations/latest", s.handleLatest)
	})

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// runRequest is the optional body of POST /api/v1/runs.
type runRequest struct {
	EntityKeys    []string `json:"entity_keys" validate:"omitempty,max=500,dive,required,max=100"`
	MinAgeMinutes *int     `json:"min_age_minutes" validate:"omitempty,min=0,max=10080"`
	SkipIfFresh   *bool    `json:"skip_if_fresh"`
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Detach from the client connection so a disconnect does not abort a run
	// part way through its inserts.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.deps.RunTimeout)
	defer cancel()

	summary, err := s.deps.Runner.Run(ctx, pipeline.Request{
		EntityKeys:    body.EntityKeys,
		MinAgeMinutes: body.MinAgeMinutes,
		SkipIfFresh:   body.SkipIfFresh,
	})
	switch {
	case errors.Is(err, pipeline.ErrNoEntityKeys), errors.Is(err, pipeline.ErrInvalidMinAge):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.logger.Error("triggered run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "run failed")
	default:
		sharedobs.WriteJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleLastRun(w http.ResponseWriter, _ *http.Request) {
	summary, ok := s.deps.Runner.LastRun()
	if !ok {
		writeError(w, http.StatusNotFound, "no run has completed yet")
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, summary)
}

type recentQuery struct {
	Limit int `validate:"min=1,max=100"`
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	q := recentQuery{Limit: defaultLimit}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		q.Limit = n
	}
	if err := validate.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxLimit))
		return
	}

	obs, err := s.deps.Observations.Recent(r.Context(), q.Limit)
	if err != nil {
		s.logger.Error("read recent observations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read observations")
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"observations": obs, "count": len(obs)})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("entity"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "entity query parameter is required")
		return
	}

	obs, err := s.deps.Observations.MostRecent(r.Context(), key)
	if err != nil {
		s.logger.Error("read latest observation failed", "entity_key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read observation")
		return
	}
	if obs == nil {
		writeError(w, http.StatusNotFound, "no observation for entity")
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, obs)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}
