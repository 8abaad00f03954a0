package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server wiring the Rule Service, Evaluation
// Engine, and Underwriter Override bookkeeping onto chi routes.
func NewServer(cfg domain.ServerConfig, handler *Handler) *Server {
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	if handler.metrics != nil {
		router.Use(metricsMiddleware(handler.metrics))
	}
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", Handler())

	// Rule management: global, administrative, no affiliate scoping.
	router.Route("/rules", func(r chi.Router) {
		r.Get("/", handler.ListRules)
		r.Post("/", handler.CreateRule)
		r.Get("/{id}", handler.GetRule)
		r.Put("/{id}", handler.UpdateRule)
		r.Delete("/{id}", handler.DeleteRule)
		r.Post("/{id}/activate", handler.ActivateRule)
		r.Post("/{id}/deactivate", handler.DeactivateRule)
		r.Get("/{id}/versions", handler.GetRuleVersions)
		r.Post("/{id}/versions", handler.CreateRuleVersion)
	})

	// Affiliate-scoped application intake and decisioning.
	router.Route("/", func(r chi.Router) {
		r.Use(AffiliateMiddleware)

		r.Post("/evaluate", handler.Evaluate)
		r.Get("/decisions", handler.ListDecisions)
		r.Get("/decisions/{id}", handler.GetDecision)
		r.Post("/decisions/{id}/override", handler.OverrideDecision)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}

// metricsMiddleware records per-request Prometheus metrics.
func metricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			m.RecordHTTPRequest(r.Method, routePattern(r), rw.statusCode, time.Since(start))
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}
