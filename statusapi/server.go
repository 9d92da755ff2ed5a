package statusapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"trainwatch/logging"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Addr is host:port; port 0 picks a free port.
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// LogSkipPaths are not request-logged.
	LogSkipPaths []string
}

// DefaultServerConfig returns a ServerConfig bound to localhost.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "127.0.0.1:8090",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		LogSkipPaths: []string{"/health"},
	}
}

// Server serves the API until shut down.
type Server struct {
	httpServer *http.Server
	logger     *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
	err      error
}

// NewServer wires the API routes and request logging into an http.Server.
func NewServer(config ServerConfig, api *API, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("status-api")

	router := mux.NewRouter()
	router.Use(newRequestLogger(logger, config.LogSkipPaths).Middleware)
	api.RegisterRoutes(router)

	return &Server{
		httpServer: &http.Server{
			Addr:         config.Addr,
			Handler:      router,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		logger: logger,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds the address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("status server already started")
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server stopped", zap.Error(err))
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()

	s.logger.Info("Status server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Shutdown stops accepting requests and waits for active ones until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Debug("Status server stopped")
	return s.err
}
