// Package server exposes the platform over HTTP: the session API, the
// access-check endpoint, the billing settlement webhook, and the
// queue-facing research endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seekerhq/seeker/pkg/access"
	"github.com/seekerhq/seeker/pkg/credits"
	"github.com/seekerhq/seeker/pkg/research"
	"github.com/seekerhq/seeker/pkg/session"
)

// AgentRunner drives a session to its next stop. Satisfied by
// agent.Runner.
type AgentRunner interface {
	Run(ctx context.Context, sessionID uuid.UUID) (*session.Session, error)
}

// Config wires the server's dependencies.
type Config struct {
	Addr     string
	Sessions *session.Manager
	Runner   AgentRunner
	Ledger   *credits.Ledger
	Access   *access.Resolver
	// Research registers the queue endpoints under /api/internal.
	// Optional; nil disables them.
	Research *research.Handler
	// WebhookSecret authenticates the billing settlement webhook.
	WebhookSecret string
	Logger        zerolog.Logger
}

// Server is the HTTP front of the platform.
type Server struct {
	cfg  Config
	http *http.Server
	log  zerolog.Logger
}

// New validates the config and builds the server with its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("server: addr is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("server: session manager is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("server: agent runner is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("server: credit ledger is required")
	}
	if cfg.Access == nil {
		return nil, fmt.Errorf("server: access resolver is required")
	}

	s := &Server{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "server").Logger(),
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", s.createSession)
		r.Get("/sessions/{id}", s.getSession)
		r.Post("/sessions/{id}/submit", s.submitInput)
		r.Post("/sessions/{id}/interrupt", s.interruptSession)
		r.Get("/sessions/{id}/final-answer", s.finalAnswer)
		r.Get("/access/check", s.checkAccess)

		r.Route("/internal", func(r chi.Router) {
			if s.cfg.Research != nil {
				s.cfg.Research.Register(r)
			}
			r.Post("/billing/transactions", s.billingWebhook)
		})
	})

	return r
}

// Handler returns the routed handler, used by tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
