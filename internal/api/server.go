package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/abhisheknishant138/rotor/internal/deploy"
	"github.com/abhisheknishant138/rotor/internal/journal"
	"github.com/abhisheknishant138/rotor/internal/reactor"
	"github.com/abhisheknishant138/rotor/internal/unit"
)

const (
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Server wraps the chi router and application dependencies.
type Server struct {
	router  *chi.Mux
	manager *deploy.Manager
	units   *unit.Registry
	journal journal.Journal
	exec    *reactor.Reactor
	logger  *slog.Logger
	addr    string

	http *http.Server
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, mgr *deploy.Manager, units *unit.Registry, j journal.Journal, exec *reactor.Reactor, logger *slog.Logger) *Server {
	srv := &Server{
		router:  chi.NewRouter(),
		manager: mgr,
		units:   units,
		journal: j,
		exec:    exec,
		logger:  logger,
		addr:    addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/kinds", s.handleListKinds)
	s.router.Get("/v1/stats", s.handleGetStats)

	s.router.Route("/v1/deployments", func(r chi.Router) {
		r.Post("/", s.handleCreateDeployment)
		r.Get("/", s.handleListDeployments)
		r.Delete("/", s.handleUndeployAll)
		r.Get("/{name}", s.handleGetDeployment)
		r.Delete("/{name}", s.handleUndeployDeployment)
		r.Get("/{name}/events", s.handleStreamEvents)
		r.Get("/{name}/events/history", s.handleGetEventHistory)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start begins serving in the background. The returned channel delivers the
// terminal listener error, if any, and closes when the listener exits.
func (s *Server) Start() <-chan error {
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
