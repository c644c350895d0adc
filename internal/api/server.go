package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/dermascan/dermascan/internal/api/middleware"
	v1 "github.com/dermascan/dermascan/internal/api/v1"
	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/logger"
	"github.com/dermascan/dermascan/internal/observability"
)

// Server is the HTTP server for dermascan.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	logger   logger.Logger
	metrics  *observability.Metrics

	controllerOpts []v1.Option
	apiController  *v1.Controller

	mu       sync.Mutex
	listener net.Listener
	done     chan error
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics sets the observability metrics for the server.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithController passes options through to the v1 controller.
func WithController(opts ...v1.Option) ServerOption {
	return func(s *Server) {
		s.controllerOpts = append(s.controllerOpts, opts...)
	}
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:   config,
		settings: settings,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Global().Module("api")
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()

	controllerOpts := append([]v1.Option{v1.WithLogger(s.logger), v1.WithMetrics(s.metrics)}, s.controllerOpts...)
	controller, err := v1.New(s.echo, settings, controllerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize API v1: %w", err)
	}
	s.apiController = controller

	s.logger.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.Bool("metrics", config.Metrics))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewTraceID())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.logger, func(c echo.Context) bool {
		return c.Path() == v1.Prefix+"/health" || c.Path() == v1.Prefix+"/metrics"
	}))
	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}

	security := mw.DefaultSecurityConfig()
	security.AllowedOrigins = s.config.AllowedOrigins
	s.echo.Use(mw.NewCORS(security))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders(security))
}

// Start begins serving HTTP requests in a background goroutine and returns
// once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address(), err)
	}

	s.mu.Lock()
	s.listener = ln
	s.done = make(chan error, 1)
	s.mu.Unlock()

	s.echo.Listener = ln
	go func() {
		err := s.echo.Start("")
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Error("server error", logger.Error(err))
		}
		s.done <- err
	}()

	s.logger.Info("HTTP server started", logger.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully stops the server, waiting for in-flight requests up
// to the configured shutdown timeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		select {
		case err := <-done:
			if err != nil {
				return err
			}
		case <-time.After(s.config.ShutdownTimeout):
		}
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// APIController returns the v1 controller.
func (s *Server) APIController() *v1.Controller {
	return s.apiController
}
