package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-sentinel/internal/classifier"
	"github.com/JakeFAU/crawler-sentinel/internal/config"
	"github.com/JakeFAU/crawler-sentinel/internal/metrics"
	"github.com/JakeFAU/crawler-sentinel/internal/middleware"
	"github.com/JakeFAU/crawler-sentinel/internal/telemetry"
)

// StatsSource exposes recorded delivery outcomes.
type StatsSource interface {
	Errors(ctx context.Context) (telemetry.ErrorStats, error)
	Successes(ctx context.Context) (telemetry.SuccessStats, error)
	Reset(ctx context.Context) error
}

// Middleware wraps a handler.
type Middleware interface {
	Middleware(next http.Handler) http.Handler
}

// IDGenerator creates request IDs.
type IDGenerator = middleware.IDGenerator

// ReadinessCheck reports whether a backing dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Deps collects the collaborators of the Server.
type Deps struct {
	Config     config.Config
	Classifier *classifier.Classifier
	Executor   Middleware
	Detector   Middleware
	Stats      StatsSource
	IDs        IDGenerator
	// Content serves every unrouted path. Nil builds one from Config.Server.Upstream.
	Content http.Handler
	Ready   map[string]ReadinessCheck
	Logger  *zap.Logger
}

// Server wires HTTP handlers to the detection pipeline.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) (*Server, error) {
	metrics.Init()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	if deps.Classifier == nil {
		deps.Classifier = classifier.Default()
	}
	if deps.Content == nil {
		content, err := NewContentHandler(deps.Config.Server.Upstream, logger)
		if err != nil {
			return nil, err
		}
		deps.Content = content
	}

	s := &Server{deps: deps, logger: logger}
	r := chi.NewRouter()
	// Outermost, so post-response tasks are submitted after logging and metrics have completed.
	if deps.Executor != nil {
		r.Use(deps.Executor.Middleware)
	}
	r.Use(middleware.RequestID(deps.IDs))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(metrics.Middleware)
	if deps.Config.Debug.Enabled {
		r.Use(debugMiddleware(deps.Config.Debug.QueryParam, deps.Classifier))
	}
	if deps.Detector != nil {
		r.Use(deps.Detector.Middleware)
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/stats", func(r chi.Router) {
		if deps.Config.Auth.Enabled {
			r.Use(apiKeyMiddleware(deps.Config.Auth.APIKey))
		}
		r.Get("/", s.getStats)
		r.Delete("/", s.resetStats)
	})

	r.Handle("/*", deps.Content)

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	for name, check := range s.deps.Ready {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "dependency": name})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statsResponse struct {
	Errors    telemetry.ErrorStats   `json:"errors"`
	Successes telemetry.SuccessStats `json:"successes"`
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		writeError(w, http.StatusNotFound, "stats unavailable")
		return
	}
	errs, err := s.deps.Stats.Errors(r.Context())
	if err != nil {
		s.logger.Error("load error stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	successes, err := s.deps.Stats.Successes(r.Context())
	if err != nil {
		s.logger.Error("load success stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Errors: errs, Successes: successes})
}

func (s *Server) resetStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		writeError(w, http.StatusNotFound, "stats unavailable")
		return
	}
	if err := s.deps.Stats.Reset(r.Context()); err != nil {
		s.logger.Error("reset stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset stats")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
