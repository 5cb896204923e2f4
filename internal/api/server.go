package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/runledger/runledger/internal/alert"
	"github.com/runledger/runledger/internal/config"
	"github.com/runledger/runledger/internal/episode"
	"github.com/runledger/runledger/internal/rules"
)

// ServiceName and Version identify the service in health responses.
const (
	ServiceName = "runledger"
	Version     = "0.1.0"
)

// Server is the episode ingestion and query API server.
type Server struct {
	config     config.ServerConfig
	store      episode.Store
	cfgLoader  *config.Loader
	engine     *rules.Engine
	alerts     *alert.Manager
	wsHub      *WebSocketHub
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new API server. The rules engine and alert manager
// are optional; when nil, ingestion skips rule evaluation.
func NewServer(
	cfg config.ServerConfig,
	store episode.Store,
	cfgLoader *config.Loader,
	engine *rules.Engine,
	alerts *alert.Manager,
	logger *slog.Logger,
) *Server {
	s := &Server{
		config:    cfg,
		store:     store,
		cfgLoader: cfgLoader,
		engine:    engine,
		alerts:    alerts,
		wsHub:     NewWebSocketHub(logger, cfg.CORS),
		mux:       http.NewServeMux(),
		logger:    logger,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// Episodes
	s.mux.HandleFunc("POST /v1/episodes", s.handleCreateEpisode)
	s.mux.HandleFunc("GET /v1/episodes", s.handleListEpisodes)
	s.mux.HandleFunc("GET /v1/episodes/{id}", s.handleGetEpisode)

	// System
	s.mux.HandleFunc("GET /v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /v1/stats", s.handleStats)

	// Rules
	s.mux.HandleFunc("GET /v1/rules", s.handleListRules)
	s.mux.HandleFunc("POST /v1/rules/reload", s.handleReloadRules)

	// WebSocket
	s.mux.HandleFunc("GET /v1/episodes/stream", s.wsHub.HandleWebSocket)
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	if s.config.CORS {
		return corsMiddleware(s.mux)
	}
	return s.mux
}

// Start starts the API server on the given address.
func (s *Server) Start(addr string) error {
	go s.wsHub.Run()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("api listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// BroadcastEpisode sends an episode event to all WebSocket clients.
func (s *Server) BroadcastEpisode(e *episode.Episode) {
	s.wsHub.Broadcast(e)
}

// corsMiddleware adds CORS headers for development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// APIAddr makes a listen address from a port.
func APIAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
