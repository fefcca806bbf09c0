package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/mulewatch/internal/domain"
	"github.com/opensource-finance/mulewatch/internal/metrics"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
	maxHeaderBytes    = 64 << 10
)

// Server is the mulewatch HTTP API.
type Server struct {
	router *chi.Mux
	http   *http.Server
}

// NewServer wires the routes and middleware. The listener is not opened
// until Start.
func NewServer(cfg domain.ServerConfig, opts Options) *Server {
	h := NewHandler(opts)
	r := chi.NewRouter()

	// Outermost first: CORS answers preflights before anything else runs.
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(RecoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/biomarkers", h.ListBiomarkers)

	r.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/analyze", h.Analyze)

		r.Route("/batches", func(r chi.Router) {
			r.Post("/", h.UploadBatch)
			r.Get("/", h.ListBatches)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetBatch)
				r.Delete("/", h.DeleteBatch)
				r.Get("/risk", h.GetRisk)
				r.Get("/patterns", h.GetPatterns)
				r.Get("/graph", h.GetGraph)
			})
		})

		r.Get("/rules", h.ListRules)
		r.Post("/rules/validate", h.ValidateRule)
	})

	return &Server{
		router: r,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           r,
			ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
			ReadHeaderTimeout: readHeaderTimeout,
			WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Second,
			IdleTimeout:       idleTimeout,
			MaxHeaderBytes:    maxHeaderBytes,
		},
	}
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Addr is the host:port the server listens on.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Router exposes the routes for in-process tests.
func (s *Server) Router() http.Handler {
	return s.router
}
