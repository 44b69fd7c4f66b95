// Package api serves the HTTP status and control interface of the worker.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/lifecycle"
	"github.com/ipcam/streamworker/internal/logger"
	"github.com/ipcam/streamworker/internal/snapshot"
	"github.com/ipcam/streamworker/internal/worker"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 5 * time.Second
	// restartTimeout bounds how long POST /control/restart waits for the stop.
	restartTimeout = 15 * time.Second
	// freshSnapshotTimeout bounds GET /snapshot?fresh=1.
	freshSnapshotTimeout = 3 * time.Second
)

// CaptureController is the part of worker.Controller the API drives.
type CaptureController interface {
	Status() worker.Status
	Signal() *lifecycle.Signal
	SnapshotStore() *snapshot.Store
	CaptureSnapshot(ctx context.Context) (snapshot.Image, error)
}

// Server is the HTTP server of the worker.
type Server struct {
	echo       *echo.Echo
	addr       string
	controller CaptureController
	metrics    http.Handler
	log        logger.Logger
	startTime  time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithMetricsHandler exposes h under GET /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// New creates a server for controller listening on addr.
func New(addr string, controller CaptureController, opts ...ServerOption) *Server {
	s := &Server{
		addr:       addr,
		controller: controller,
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module("api")
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = readTimeout
	s.echo.Server.WriteTimeout = writeTimeout
	s.echo.Server.IdleTimeout = idleTimeout

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(newRequestID())
	s.echo.Use(newRequestLogger(s.log))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.getStatus)
	v1.GET("/snapshot", s.getSnapshot)

	control := v1.Group("/control")
	control.POST("/start", s.startCapture)
	control.POST("/stop", s.stopCapture)
	control.POST("/restart", s.restartCapture)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("address", s.addr).
			Build()
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln
	s.log.Info("HTTP server starting", logger.String("address", ln.Addr().String()))

	served := make(chan error, 1)
	go func() {
		served <- s.echo.Start("")
	}()

	select {
	case err := <-served:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.New(err).
				Component("api").
				Category(errors.CategoryNetwork).
				Build()
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP server shutdown incomplete", logger.Error(err))
	}
	<-served
	s.log.Info("HTTP server stopped")
	return nil
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"state":          s.controller.Signal().Load().String(),
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}
