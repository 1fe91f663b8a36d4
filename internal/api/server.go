package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gabagool-arb/internal/config"
)

// Server runs the read-only HTTP dashboard described in spec.md §6.4.
type Server struct {
	cfg      config.DashboardConfig
	provider Provider
	fullCfg  config.Config
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new API server.
func NewServer(
	cfg config.DashboardConfig,
	provider Provider,
	fullCfg config.Config,
	logger *slog.Logger,
) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, fullCfg, hub, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/state", handlers.HandleState)
	mux.HandleFunc("/pnl-history", handlers.HandlePnLHistory)
	mux.HandleFunc("/settlement-positions", handlers.HandleSettlementPositions)
	mux.HandleFunc("/reconcile", handlers.HandleReconciliation)
	mux.HandleFunc("/events", handlers.HandleEvents)

	// Serve the static HTML dashboard.
	mux.Handle("/", http.FileServer(http.Dir("web")))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		fullCfg:  fullCfg,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start starts the hub and the HTTP server. Blocks until the server stops.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.consumeEvents()

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// consumeEvents relays engine-pushed events to every connected client.
func (s *Server) consumeEvents() {
	eventsCh := s.provider.DashboardEvents()
	if eventsCh == nil {
		return
	}
	for evt := range eventsCh {
		s.hub.BroadcastEvent(evt)
	}
}
