// Package server hosts the Fermata serving side: the sessions REST API, the
// signed-URL upload exchange, the SSE analysis endpoints bridging producer
// streams, and the coach WebSocket host running the tool-calling agent loop.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/fermata-app/fermata/internal/blob"
	"github.com/fermata-app/fermata/internal/config"
	"github.com/fermata-app/fermata/internal/hooks"
	"github.com/fermata-app/fermata/internal/logging"
	"github.com/fermata-app/fermata/internal/media"
	"github.com/fermata-app/fermata/internal/model"
	"github.com/fermata-app/fermata/internal/store"
	"github.com/fermata-app/fermata/internal/version"
)

// Server is the Fermata HTTP + WebSocket server.
type Server struct {
	cfg      config.Config
	auth     ResolvedAuth
	store    store.SessionStore
	blobs    *blob.Store
	producer model.Producer
	log      *logging.Logger

	// Media converter for pre-analysis webm→mp4 conversion.
	media *media.Converter

	// Hook manager (optional — nil if not configured)
	hooks *hooks.Manager

	coaches *coachRegistry

	startedAt    time.Time
	httpServer   *http.Server
	upgrader     websocket.Upgrader
	loginLimiter *loginRateLimiter
}

// Option configures the server.
type Option func(*Server)

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) Option {
	return func(s *Server) {
		s.hooks = hm
	}
}

// WithConverter overrides the media converter (tests point it at fakes).
func WithConverter(c *media.Converter) Option {
	return func(s *Server) {
		s.media = c
	}
}

// New creates a server over the given store, blob store, and producer.
func New(cfg config.Config, st store.SessionStore, blobs *blob.Store, producer model.Producer, log *logging.Logger, opts ...Option) *Server {
	if log == nil {
		log = logging.Nop()
	}
	s := &Server{
		cfg:          cfg,
		auth:         ResolveAuth(cfg.Server.Auth),
		store:        st,
		blobs:        blobs,
		producer:     producer,
		log:          log.Sub("server"),
		media:        media.NewConverter(media.Options{}, log),
		coaches:      newCoachRegistry(),
		loginLimiter: newLoginRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Server.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin
// headers. If no origins are configured, only same-origin (no Origin header)
// or non-browser clients are allowed. If origins are configured, the Origin
// must match one of them.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Same-origin or non-browser clients
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// router builds the route table. Signed upload transfer routes sit outside
// the bearer-auth subtree: their authorization rides in the URL signature.
func (s *Server) router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/coach", s.handleCoach).Methods(http.MethodGet)

	r.HandleFunc("/api/upload/put/{name:.+}", s.handleUploadPut).Methods(http.MethodPut)
	r.HandleFunc("/api/upload/get/{name:.+}", s.handleUploadGet).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireAuth)
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	// Registered before /sessions/{id} so "search" never matches as an id.
	api.HandleFunc("/sessions/search", s.handleSearchSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/context", s.handleSessionContext).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/upload/signed-url", s.handleSignedURL).Methods(http.MethodPost)
	api.HandleFunc("/analyze/video/stream", s.handleAnalyzeVideo).Methods(http.MethodPost)
	api.HandleFunc("/analyze/fix/stream", s.handleAnalyzeFix).Methods(http.MethodPost)

	return r
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.ServerConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Server)

	handler := withMiddleware(s.router(), s.log, s.cfg.Server.AllowedOrigins)

	// No global read/write timeouts: video uploads and SSE analysis streams
	// legitimately run for minutes. Slow-header clients are bounded by
	// ReadHeaderTimeout, idle keep-alives by IdleTimeout.
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.Server.Bind != "loopback" && s.cfg.Server.Bind != "" {
		s.log.Warn().Msg("TLS is not enabled — tokens will be transmitted in cleartext")
	}

	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Server.Bind).
		Str("producer", s.producer.Name()).
		Bool("auth", s.auth.Enabled()).
		Msg("server starting")

	// Shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.coaches.closeAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Producer      string `json:"producer"`
	CoachClients  int    `json:"coach_clients"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       version.Version,
		Producer:      s.producer.Name(),
		CoachClients:  s.coaches.count(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// writeJSON sends a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError sends the standard error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
