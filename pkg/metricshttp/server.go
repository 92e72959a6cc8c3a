package metricshttp

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/syncore/coreserver/internal/logger"
	"github.com/syncore/coreserver/pkg/contentmanager"
)

// Server is the administrative HTTP server exposing health and metrics
// endpoints, grounded on the teacher's pkg/api.Server lifecycle (created
// stopped, Start blocks until ctx is cancelled, Stop is idempotent).
type Server struct {
	server       *http.Server
	config       Config
	shutdownOnce sync.Once
}

// NewServer creates a Server in a stopped state. cm may be nil (health
// endpoints degrade gracefully; see healthHandler).
func NewServer(config Config, cm *contentmanager.Manager) *Server {
	config.applyDefaults()

	return &Server{
		config: config,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      NewRouter(cm),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("metricshttp: server listening", "port", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metricshttp server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metricshttp server shutdown error: %w", err)
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is configured to listen on.
func (s *Server) Port() int { return s.config.Port }
