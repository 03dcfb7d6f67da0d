// Package rest wires the chi router for the persistence and credential
// endpoints.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"learngraph/interfaces/http/rest/handlers"
	"learngraph/interfaces/http/rest/middleware"
	"learngraph/pkg/auth"
	pkgerrors "learngraph/pkg/errors"
)

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// RouterConfig holds optional router behavior
type RouterConfig struct {
	EnableCORS  bool
	CORSOrigins []string
	Metrics     http.Handler
	Observer    middleware.HTTPObserver
	Readiness   []ReadinessCheck
}

// Router creates and configures the HTTP router
type Router struct {
	trees    *handlers.TreeHandler
	sessions *handlers.SessionHandler
	tokens   *auth.JWTService
	errors   *pkgerrors.ErrorHandler
	cfg      RouterConfig
	logger   *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	trees *handlers.TreeHandler,
	sessions *handlers.SessionHandler,
	tokens *auth.JWTService,
	errs *pkgerrors.ErrorHandler,
	cfg RouterConfig,
	logger *zap.Logger,
) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		trees:    trees,
		sessions: sessions,
		tokens:   tokens,
		errors:   errs,
		cfg:      cfg,
		logger:   logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() *chi.Mux {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(rt.errors.Middleware)
	router.Use(middleware.Logger(rt.logger))
	router.Use(middleware.Metrics(rt.cfg.Observer))

	if rt.cfg.EnableCORS {
		origins := rt.cfg.CORSOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-None-Match", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.cfg.Metrics)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.tokens, rt.errors, rt.logger))

		r.Route("/trees", func(r chi.Router) {
			r.Get("/{userID}", rt.trees.GetTree)
			r.Put("/{userID}", rt.trees.PutTree)
		})
		r.Post("/realtime/sessions", rt.sessions.CreateSession)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rt.errors.Handle(w, r, pkgerrors.NewNotFoundError("route"))
	})
	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck runs every configured check under a short deadline
func (rt *Router) readinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, check := range rt.cfg.Readiness {
		if err := check(ctx); err != nil {
			rt.logger.Warn("Readiness check failed", zap.Error(err))
			rt.errors.Handle(w, r, pkgerrors.NewUnavailableError("dependencies").WithCause(err))
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}
