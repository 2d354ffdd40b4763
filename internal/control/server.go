// Package control implements the operator control plane: live queue
// reconfiguration, statistics and a small queue API over HTTP.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrBind is returned by Run when the listening socket cannot be opened
var ErrBind = errors.New("control server failed to bind")

const shutdownTimeout = 5 * time.Second

// Config holds control server configuration
type Config struct {
	Host              string
	Port              int
	ReadHeaderTimeout time.Duration
	Gatherer          prometheus.Gatherer
}

// Addr returns the listen address
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Server is the control plane HTTP server. Every response closes its
// connection; a client sends one request per connection.
type Server struct {
	config Config
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates a control server
func NewServer(cfg Config, deps *Dependencies) *Server {
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	srv := &http.Server{
		Handler:           SetupRouter(deps, cfg.Gatherer),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	srv.SetKeepAlivesEnabled(false)

	return &Server{
		config: cfg,
		logger: deps.Logger,
		srv:    srv,
	}
}

// Run binds the listener and serves until ctx is cancelled. A bind failure
// is returned wrapping ErrBind.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBind, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on an already bound listener until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Control server listening",
		slog.String("addr", ln.Addr().String()),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("Control server stopped unexpectedly", slog.String("error", err.Error()))
		return fmt.Errorf("control server failed: %w", err)

	case <-ctx.Done():
		s.logger.Info("Shutting down control server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("control server forced to shutdown: %w", err)
		}
		s.logger.Info("Control server stopped")
		return nil
	}
}
