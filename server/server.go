// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"lifecycle-notifier/engine"
	"lifecycle-notifier/pkg/lifecycle"
)

// Syncer runs one sync cycle.
type Syncer interface {
	Sync(ctx context.Context) (*lifecycle.SyncResult, error)
}

// Unsubscribes manages the unsubscribe set.
type Unsubscribes interface {
	Unsubscribe(ctx context.Context, email string) error
}

// Server handles HTTP requests.
type Server struct {
	syncer Syncer
	unsubs Unsubscribes
	logger *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Syncer Syncer
	Unsubs Unsubscribes
	Logger *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		syncer: cfg.Syncer,
		unsubs: cfg.Unsubs,
		logger: cfg.Logger,
	}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/unsubscribe", s.handleUnsubscribe)
	return mux
}

// ListenAndServe starts the server on the given port.
func (s *Server) ListenAndServe(port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Minute, // a sync cycle can be slow on large accounts
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return server.ListenAndServe()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if err := json.NewEncoder(w).Encode(map[string]string{
		"service":     "lifecycle-notifier",
		"sync":        "POST /sync",
		"unsubscribe": "GET|POST /unsubscribe?email=",
	}); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "healthy"}); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Sync endpoint triggered")

	result, err := s.syncer.Sync(r.Context())
	if err != nil {
		if errors.Is(err, engine.ErrSyncInProgress) {
			http.Error(w, "Sync already in progress", http.StatusConflict)
			return
		}
		s.logger.Error("Sync cycle failed", "error", err)
		http.Error(w, "Sync failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"result":  result,
	}); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
