// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer. It decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  user store (sqlite.DB | postgres.UserRepository)
//	  password hasher (bcrypt | argon2id)
//	  session store (CookieStore | RedisStore) → session.Manager
//	  AuthService(users, hasher, metrics) → PageHandler, APIHandler
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sakif/session-auth/internal/config"
	"github.com/sakif/session-auth/internal/handler"
	"github.com/sakif/session-auth/internal/metrics"
	"github.com/sakif/session-auth/internal/middleware"
	"github.com/sakif/session-auth/internal/repository"
	"github.com/sakif/session-auth/internal/service"
	"github.com/sakif/session-auth/internal/session"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the user store's connection pool and, with the redis
// session store, a Redis client. Both are released by Close, which Start
// calls after the HTTP server has drained.
type Server struct {
	router   *chi.Mux
	config   *config.Config
	logger   *slog.Logger
	users    repository.UserRepository
	sessions *sessionStore
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	closers  []func() error
}

// New creates a Server from cfg. Storage is opened and migrated here, so a
// bad DSN fails at startup rather than on the first request.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}

	if cfg.Metrics.Enabled {
		s.registry = metrics.NewRegistry()
		s.metrics = metrics.New(s.registry)
	}

	users, closeUsers, err := OpenUserStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	s.users = users
	s.closers = append(s.closers, closeUsers)

	hasher, err := NewHasher(cfg.Password)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("server: creating password hasher: %w", err)
	}

	s.sessions, err = openSessionStore(ctx, cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	if s.sessions.redis != nil {
		s.closers = append(s.closers, s.sessions.redis.Close)
	}

	authService := service.NewAuthService(users, hasher, s.metrics, logger)

	if err := s.setupRoutes(authService); err != nil {
		s.Close()
		return nil, fmt.Errorf("server: setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET       /              → 303 /login
// GET|POST  /login         → login form
// GET|POST  /register      → registration form
// GET       /home          → welcome page                 [auth]
// GET       /inicio        → alias of /home               [auth]
// GET|POST  /logout        → end session                  [auth]
// POST      /api/register  → create account (JSON)
// POST      /api/login     → log in (JSON)
// POST      /api/logout    → log out (JSON)
// GET       /api/me        → current user (JSON)          [auth]
// GET       /healthz       → storage health
// GET       /metrics       → Prometheus (if enabled)
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns a unique ID (picked up by the slog handler)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request with timing info and counts it
// 4. Recoverer: catches panics and returns 500 instead of crashing
// 5. Session: loads the client's session into the request context
// 6. CSRF (pages only): form posts must echo the csrf_token cookie; the
//    JSON API relies on its application/json Content-Type instead
func (s *Server) setupRoutes(authService *service.AuthService) error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, s.metrics))
	s.router.Use(chimiddleware.Recoverer)

	health := handler.NewHealthHandler(s.healthChecks(), s.logger)
	s.router.Get("/healthz", health.HandleHealth)
	if s.registry != nil {
		s.router.Handle("/metrics", metrics.Handler(s.registry))
	}

	manager := session.NewManager(s.sessions.store, s.logger)

	pages, err := handler.NewPageHandler(authService, manager, s.logger)
	if err != nil {
		return err
	}
	api := handler.NewAPIHandler(authService, manager, s.logger)

	csrf := middleware.CSRF(middleware.CSRFOptions{Secure: s.config.Session.Secure}, s.logger)

	s.router.Group(func(r chi.Router) {
		r.Use(manager.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(csrf)

			r.Get("/", pages.HandleRoot)
			r.Get("/login", pages.HandleLoginPage)
			r.Post("/login", pages.HandleLogin)
			r.Get("/register", pages.HandleRegisterPage)
			r.Post("/register", pages.HandleRegister)

			r.Group(func(r chi.Router) {
				r.Use(manager.RequireAuth(session.RedirectTo(handler.LoginRequiredPath)))
				r.Get("/home", pages.HandleHome)
				r.Get("/inicio", pages.HandleHome)
				r.Get("/logout", pages.HandleLogout)
				r.Post("/logout", pages.HandleLogout)
			})
		})

		r.Route("/api", func(r chi.Router) {
			r.Post("/register", api.HandleRegister)
			r.Post("/login", api.HandleLogin)
			r.Post("/logout", api.HandleLogout)
			r.With(manager.RequireAuth(session.DenyJSON)).Get("/me", api.HandleMe)
		})
	})

	return nil
}

func (s *Server) healthChecks() map[string]handler.Pinger {
	checks := map[string]handler.Pinger{"users": s.users}
	if s.sessions.redis != nil {
		client := s.sessions.redis
		checks["sessions"] = handler.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return checks
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the user store and Redis client.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Start listens on the configured port and serves until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.HTTP.Port))
	if err != nil {
		s.Close()
		return fmt.Errorf("server: listening: %w", err)
	}

	return s.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is cancelled, then shuts down
// gracefully.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (http.shutdown_timeout)
// 3. Close the user store and Redis client
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.Close()

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
		IdleTimeout:  s.config.HTTP.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", ln.Addr().String()),
			slog.String("storage", s.config.Storage.Driver),
			slog.String("sessions", s.config.Session.Store),
		)
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.HTTP.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
