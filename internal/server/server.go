// Package server exposes the HTTP API: account routes, project graph
// CRUD, the generative planning endpoint, and the per-project WebSocket
// feed.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/treetrack/treetrack/internal/auth"
	"github.com/treetrack/treetrack/internal/events"
	"github.com/treetrack/treetrack/internal/merge"
	"github.com/treetrack/treetrack/internal/store"
	"github.com/treetrack/treetrack/internal/synth"
)

// sessionCookie is the name of the HTTP-only session token cookie.
const sessionCookie = "treetrack_session"

// Config holds server settings.
type Config struct {
	// Addr is the listen address (default ":3001").
	Addr string

	// SessionSecret signs session tokens. Required.
	SessionSecret string

	// SessionTTL is the session lifetime (default 7 days).
	SessionTTL time.Duration

	// AllowedOrigins is the CORS allowlist (default localhost dev
	// origins).
	AllowedOrigins []string

	// LoginLimit and LoginWindow throttle login attempts per client IP
	// (default 5 per 15 minutes).
	LoginLimit  int
	LoginWindow time.Duration

	// SecureCookies marks session cookies Secure; enable behind TLS.
	SecureCookies bool
}

// DefaultConfig returns the settings used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		Addr:           ":3001",
		SessionTTL:     7 * 24 * time.Hour,
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
		LoginLimit:     5,
		LoginWindow:    15 * time.Minute,
	}
}

// Server wires the HTTP layer to the store, the merge pipeline, and
// the event hub.
type Server struct {
	cfg        Config
	store      *store.Store
	sessions   *auth.Sessions
	loginLimit *auth.RateLimiter
	synth      *synth.Client
	merger     *merge.Engine
	hub        *events.Hub
	logger     *zap.Logger

	httpServer *http.Server
	listener   net.Listener
}

// New builds a server around its collaborators. The synthesis client
// may be nil, in which case /api/generate reports the planning
// provider as unavailable.
func New(cfg Config, s *store.Store, sc *synth.Client, hub *events.Hub, logger *zap.Logger) (*Server, error) {
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = def.AllowedOrigins
	}
	if cfg.LoginLimit <= 0 {
		cfg.LoginLimit = def.LoginLimit
	}
	if cfg.LoginWindow <= 0 {
		cfg.LoginWindow = def.LoginWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		cfg:        cfg,
		store:      s,
		sessions:   auth.NewSessions(cfg.SessionSecret, cfg.SessionTTL),
		loginLimit: auth.NewRateLimiter(cfg.LoginLimit, cfg.LoginWindow),
		synth:      sc,
		merger:     merge.NewEngine(s),
		hub:        hub,
		logger:     logger,
	}, nil
}

// Router assembles the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Get("/me", s.handleMe)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/projects", s.handleListProjects)
			r.Post("/projects", s.handleCreateProject)
			r.Delete("/projects/{id}", s.handleDeleteProject)
			r.Get("/projects/{id}/ws", s.handleProjectWS)
			r.Post("/projects/{id}/accept-drafts", s.handleAcceptDrafts)

			r.Get("/tasks", s.handleListTasks)
			r.Post("/tasks", s.handleCreateTask)
			r.Put("/tasks/{id}", s.handleUpdateTask)
			r.Delete("/tasks/{id}", s.handleDeleteTask)

			r.Get("/dependencies", s.handleListDependencies)
			r.Post("/dependencies", s.handleCreateDependency)
			r.Delete("/dependencies/{id}", s.handleDeleteDependency)

			r.Post("/generate", s.handleGenerate)
		})
	})

	return r
}

// Start begins listening. It returns once the listener is bound; serve
// errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
