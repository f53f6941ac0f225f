// Package api provides the HTTP server for AlienChat.
//
// It exposes JSON endpoints for authentication, conversations, guided flows and
// preferences, plus a WebSocket feed of appended messages per signed-in user.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/AlienChat/internal/auth"
	"github.com/BTreeMap/AlienChat/internal/flow"
	"github.com/BTreeMap/AlienChat/internal/store"
)

// Server configuration constants
const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout bounds header reads.
	DefaultReadHeaderTimeout = 10 * time.Second
	// maxBodyBytes caps JSON request bodies.
	maxBodyBytes = 1 << 20
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	Google          *auth.Google
	DispatchTimeout time.Duration
	SecureCookies   bool
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithGoogle enables Google sign-in.
func WithGoogle(g *auth.Google) Option {
	return func(o *Opts) { o.Google = g }
}

// WithDispatchTimeout bounds each completion request made on behalf of a user.
func WithDispatchTimeout(d time.Duration) Option {
	return func(o *Opts) { o.DispatchTimeout = d }
}

// WithSecureCookies marks session cookies Secure.
func WithSecureCookies(secure bool) Option {
	return func(o *Opts) { o.SecureCookies = secure }
}

// Server holds all dependencies for the API handlers.
type Server struct {
	kv         store.KV
	accounts   *auth.Accounts
	admin      *auth.Admin
	sessions   *auth.Sessions
	google     *auth.Google
	registry   *flow.Registry
	workspaces *workspaces
	feed       *feed
	addr       string
	secure     bool
}

// NewServer wires the handlers over the shared KV, identity services and flow engine inputs.
func NewServer(kv store.KV, registry *flow.Registry, completer flow.Completer, accounts *auth.Accounts, admin *auth.Admin, sessions *auth.Sessions, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, DispatchTimeout: flow.DefaultDispatchTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("api.NewServer: configuring", "addr", cfg.Addr, "google_enabled", cfg.Google != nil, "dispatchTimeout", cfg.DispatchTimeout)

	f := newFeed()
	return &Server{
		kv:         kv,
		accounts:   accounts,
		admin:      admin,
		sessions:   sessions,
		google:     cfg.Google,
		registry:   registry,
		workspaces: newWorkspaces(kv, registry, completer, f, flow.WithDispatchTimeout(cfg.DispatchTimeout)),
		feed:       f,
		addr:       cfg.Addr,
		secure:     cfg.SecureCookies,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	mux.HandleFunc("POST /auth/admin/login", s.adminLoginHandler)
	mux.HandleFunc("POST /auth/signup", s.signupHandler)
	mux.HandleFunc("POST /auth/login", s.loginHandler)
	mux.HandleFunc("POST /auth/logout", s.logoutHandler)
	mux.HandleFunc("GET /auth/me", s.requireUser(s.meHandler))
	mux.HandleFunc("GET /auth/google/login", s.googleLoginHandler)
	mux.HandleFunc("GET /auth/google/callback", s.googleCallbackHandler)

	mux.HandleFunc("GET /conversations", s.requireWorkspace(s.listConversationsHandler))
	mux.HandleFunc("POST /conversations", s.requireWorkspace(s.createConversationHandler))
	mux.HandleFunc("GET /conversations/{id}", s.requireWorkspace(s.getConversationHandler))
	mux.HandleFunc("PATCH /conversations/{id}", s.requireWorkspace(s.renameConversationHandler))
	mux.HandleFunc("DELETE /conversations/{id}", s.requireWorkspace(s.deleteConversationHandler))
	mux.HandleFunc("POST /conversations/{id}/select", s.requireWorkspace(s.selectConversationHandler))
	mux.HandleFunc("POST /conversations/{id}/archive", s.requireWorkspace(s.archiveConversationHandler))
	mux.HandleFunc("GET /conversations/{id}/share", s.requireWorkspace(s.shareConversationHandler))

	mux.HandleFunc("POST /messages", s.requireWorkspace(s.sendMessageHandler))
	mux.HandleFunc("GET /flows", s.listFlowsHandler)
	mux.HandleFunc("POST /flows/{type}", s.requireWorkspace(s.startFlowHandler))
	mux.HandleFunc("GET /state", s.requireWorkspace(s.stateHandler))

	mux.HandleFunc("GET /preferences/theme", s.requireUser(s.getThemeHandler))
	mux.HandleFunc("PUT /preferences/theme", s.requireUser(s.putThemeHandler))

	mux.HandleFunc("GET /ws", s.requireUser(s.wsHandler))

	return mux
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("AlienChat API server starting", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("API server failed", "error", err)
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("API server shutting down")
	s.feed.closeAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	slog.Info("API server stopped")
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
