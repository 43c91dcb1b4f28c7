// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/mcp"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/protocol"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8787"

	// MaxJSONBodySize bounds non-chat request bodies.
	MaxJSONBodySize = 4 << 20

	// Version is the server version.
	Version = "0.3.0"
)

// ModelSource is the part of the Ollama client the API exposes.
type ModelSource interface {
	CheckRunning(ctx context.Context) error
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
	Capabilities(ctx context.Context, model string) ([]string, error)
}

var _ ModelSource = (*ollama.Client)(nil)

// Config configures the HTTP layer.
type Config struct {
	Addr string

	// AuthToken, when set, is required as a bearer token on /api routes.
	AuthToken string

	// RateLimit is requests per second per client IP on /api routes; 0
	// disables limiting.
	RateLimit float64
	RateBurst int

	CORSOrigins []string

	ReadHeaderTimeout time.Duration
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the chat relay HTTP server.
type Server struct {
	cfg    Config
	server *http.Server

	chat    http.Handler
	models  ModelSource
	store   *storage.Store
	tools   tools.Provider
	mcp     *mcp.Manager
	metrics *telemetry.Metrics
	usage   *telemetry.UsageTracker
	logger  *zap.Logger
	limiter *limiterPool

	started time.Time
	mu      sync.RWMutex
}

// New creates a server. chat serves POST /api/chat.
func New(cfg Config, chat http.Handler) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		chat:    chat,
		logger:  zap.NewNop(),
		started: time.Now(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = newLimiterPool(cfg.RateLimit, cfg.RateBurst)
	}
	return s
}

// WithModels sets the model source used by /api/models and /health.
func (s *Server) WithModels(m ModelSource) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = m
	return s
}

// WithStore enables the chat routes.
func (s *Server) WithStore(store *storage.Store) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
	return s
}

// WithTools sets the provider listed by /api/tools.
func (s *Server) WithTools(p tools.Provider) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = p
	return s
}

// WithMCP sets the manager reported by /api/mcp.
func (s *Server) WithMCP(m *mcp.Manager) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mcp = m
	return s
}

// WithTelemetry sets metrics and usage. Either may be nil.
func (s *Server) WithTelemetry(m *telemetry.Metrics, u *telemetry.UsageTracker) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	s.usage = u
	return s
}

// WithLogger sets the logger.
func (s *Server) WithLogger(l *zap.Logger) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l != nil {
		s.logger = l
	}
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) routes() *mux.Router {
	logger := s.log()
	_, _, _, _, metrics, _ := s.deps()

	r := mux.NewRouter()
	r.Use(LoggingMiddleware(logger, metrics))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", http.HandlerFunc(s.handleMetrics)).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	if s.limiter != nil {
		api.Use(RateLimitMiddleware(s.limiter, logger))
	}
	if s.cfg.AuthToken != "" {
		api.Use(AuthMiddleware(s.cfg.AuthToken, logger))
	}

	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)

	api.HandleFunc("/chats", s.handleListChats).Methods(http.MethodGet)
	api.HandleFunc("/chats", s.handleCreateChat).Methods(http.MethodPost)
	api.HandleFunc("/chats/{id}", s.handleGetChat).Methods(http.MethodGet)
	api.HandleFunc("/chats/{id}", s.handleRenameChat).Methods(http.MethodPatch)
	api.HandleFunc("/chats/{id}", s.handleDeleteChat).Methods(http.MethodDelete)
	api.HandleFunc("/chats/{id}/export", s.handleExportChat).Methods(http.MethodGet)
	api.HandleFunc("/chats/{id}/messages", s.handleGetMessages).Methods(http.MethodGet)
	api.HandleFunc("/chats/{id}/messages", s.handleSaveMessage).Methods(http.MethodPost)
	api.HandleFunc("/chats/{id}/messages", s.handleDeleteMessages).Methods(http.MethodDelete)

	api.HandleFunc("/models", s.handleModels).Methods(http.MethodGet)
	api.HandleFunc("/models/{name:.+}/capabilities", s.handleCapabilities).Methods(http.MethodGet)
	api.HandleFunc("/tools", s.handleTools).Methods(http.MethodGet)
	api.HandleFunc("/mcp", s.handleMCP).Methods(http.MethodGet)
	api.HandleFunc("/usage", s.handleUsage).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, protocol.CodeNotFound, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, protocol.CodeInvalidRequest, r.Method+" not allowed on "+r.URL.Path)
	})

	return r
}

// Handler returns the routes wrapped in the global middleware. Configure
// the server before calling it.
func (s *Server) Handler() http.Handler {
	mws := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.log()),
		SecurityHeadersMiddleware(),
	}
	if len(s.cfg.CORSOrigins) > 0 {
		mws = append(mws, CORSMiddleware(NewCORSConfig(s.cfg.CORSOrigins)))
	}
	return Chain(mws...)(s.routes())
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: chat responses stream for as long as the model
		// generates.
	}
	srv := s.server
	s.mu.Unlock()

	s.log().Info("server_start", zap.String("addr", ln.Addr().String()), zap.String("version", Version))
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown gracefully stops the server, waiting for open streams until
// ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	s.log().Info("server_shutdown")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Server) log() *zap.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

func (s *Server) deps() (ModelSource, *storage.Store, tools.Provider, *mcp.Manager, *telemetry.Metrics, *telemetry.UsageTracker) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.models, s.store, s.tools, s.mcp, s.metrics, s.usage
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the protocol error body.
func writeError(w http.ResponseWriter, status int, code protocol.Code, message string) {
	writeJSON(w, status, protocol.ErrorBody{Error: message, Code: code})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, protocol.CodeInvalidRequest, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
