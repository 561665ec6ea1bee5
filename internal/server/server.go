package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/attache-app/attache/internal/auth"
	"github.com/attache-app/attache/internal/engine"
	"github.com/attache-app/attache/internal/instrumentation"
	"github.com/attache-app/attache/internal/oauthflow"
	"github.com/attache-app/attache/internal/provider"
	"github.com/attache-app/attache/internal/store"
)

const (
	// DefaultReadHeaderTimeout bounds how long reading request headers may take.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds a full response write. Chat turns include an
	// LLM round trip, so this is generous.
	DefaultWriteTimeout = 60 * time.Second

	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 120 * time.Second
)

// Options holds the dependencies and settings for the API server.
type Options struct {
	Addr     string
	Engine   *engine.Engine
	Flow     *oauthflow.Flow
	Store    store.TokenStore
	Registry *provider.Registry
	Verifier *auth.Verifier
	Metrics  *instrumentation.Metrics
	Audit    *instrumentation.AuditLogger
	Logger   *slog.Logger

	// CalendarWindowDays is the default look-ahead for GET /v1/calendar.
	CalendarWindowDays int

	// ListMax is the default item cap for listing endpoints.
	ListMax int64
}

// Server is the HTTP API surface: chat, OAuth connect flow, direct actions,
// and provider listings.
type Server struct {
	addr     string
	engine   *engine.Engine
	flow     *oauthflow.Flow
	store    store.TokenStore
	registry *provider.Registry
	verifier *auth.Verifier
	metrics  *instrumentation.Metrics
	audit    *instrumentation.AuditLogger
	logger   *slog.Logger
	health   *HealthChecker

	calendarWindowDays int
	listMax            int64

	httpServer *http.Server
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = &instrumentation.Metrics{}
	}
	if opts.Audit == nil {
		opts.Audit = instrumentation.NewAuditLogger(opts.Logger, instrumentation.AuditLoggingConfig{Enabled: true})
	}
	if opts.CalendarWindowDays <= 0 {
		opts.CalendarWindowDays = 7
	}
	if opts.ListMax <= 0 {
		opts.ListMax = 10
	}
	return &Server{
		addr:               opts.Addr,
		engine:             opts.Engine,
		flow:               opts.Flow,
		store:              opts.Store,
		registry:           opts.Registry,
		verifier:           opts.Verifier,
		metrics:            opts.Metrics,
		audit:              opts.Audit,
		logger:             opts.Logger,
		health:             NewHealthChecker(),
		calendarWindowDays: opts.CalendarWindowDays,
		listMax:            opts.ListMax,
	}
}

// Health returns the health checker, for shutdown signaling.
func (s *Server) Health() *HealthChecker {
	return s.health
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.health.RegisterHealthEndpoints(mux)

	s.authed(mux, "POST /v1/chat", s.handleChat)
	s.authed(mux, "GET /v1/oauth/status", s.handleOAuthStatus)
	s.authed(mux, "GET /v1/oauth/{provider}/start", s.handleOAuthStart)
	s.authed(mux, "POST /v1/actions/send-email", s.handleSendEmail)
	s.authed(mux, "POST /v1/actions/create-event", s.handleCreateEvent)
	s.authed(mux, "POST /v1/actions/delete-event", s.handleDeleteEvent)
	s.authed(mux, "GET /v1/actions/pending", s.handlePendingGet)
	s.authed(mux, "DELETE /v1/actions/pending", s.handlePendingDelete)
	s.authed(mux, "GET /v1/mail", s.handleMail)
	s.authed(mux, "GET /v1/calendar", s.handleCalendar)

	// The callback is hit by the user's browser after provider consent; it
	// cannot carry the app's bearer token. The state token is the auth.
	s.public(mux, "GET /v1/oauth/{provider}/callback", s.handleOAuthCallback)

	return mux
}

func (s *Server) authed(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, observe(s.metrics, s.logger, pattern,
		requireAuth(s.verifier, s.logger, fn)))
}

func (s *Server) public(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, observe(s.metrics, s.logger, pattern, fn))
}

// Start runs the server until it is shut down. It blocks.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}

	s.logger.Info("starting api server", slog.String("addr", s.addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetShuttingDown()
	if s.httpServer != nil {
		s.logger.Info("shutting down api server")
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
