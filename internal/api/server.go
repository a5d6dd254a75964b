package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"dronesim/internal/jobs"
	"dronesim/internal/logger"
	"dronesim/internal/scenes"
	"dronesim/internal/ws"
)

// Server is the HTTP front of the job registry.
type Server struct {
	manager    *jobs.Manager
	sceneList  *scenes.Lister
	hub        *ws.Hub
	port       string
	readyCheck func(context.Context) error
	httpServer *http.Server
}

// NewServer wires the registry, scene lister and websocket hub into an
// HTTP server. readyCheck reports backing-store health for the readiness
// endpoint; nil means always ready.
func NewServer(manager *jobs.Manager, sceneList *scenes.Lister, hub *ws.Hub, port string, readyCheck func(context.Context) error) *Server {
	return &Server{
		manager:    manager,
		sceneList:  sceneList,
		hub:        hub,
		port:       port,
		readyCheck: readyCheck,
	}
}

// Start blocks serving HTTP until Shutdown is called or the listener
// fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.port)

	mux := http.NewServeMux()
	s.addRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Logger.Info().Str("addr", addr).Msg("Starting API server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
