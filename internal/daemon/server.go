package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/huddle-chat/huddle/internal/config"
	"github.com/huddle-chat/huddle/internal/gateway"
)

// Server manages the HTTP server lifecycle for the daemon.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewServer binds the listen address and mounts the gateway routes.
func NewServer(cfg *config.Config, gw *gateway.Gateway, logger *zap.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, err
	}

	return &Server{
		httpServer: &http.Server{
			Handler:           gw.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start begins serving HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.Addr()))
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown, waiting for in-flight requests.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("shutdown", zap.Error(err))
	}
}
