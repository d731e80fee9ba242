// Package http provides the HTTP API of the invoice service.
// Handlers translate requests into calls on the extraction pipeline and the
// record services; they hold no business logic of their own.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/beihilfepay/beihilfepay/internal/acquisition"
	"github.com/beihilfepay/beihilfepay/internal/metrics"
	"github.com/beihilfepay/beihilfepay/internal/pipeline"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	MetricsPath     string
	// UserID owns every record created through the API
	UserID string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    90 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		AllowedOrigins:  []string{"*"},
		MetricsPath:     "/metrics",
		UserID:          "00000000-0000-0000-0000-000000000000",
	}
}

// Dependencies are the services behind the handlers. Dedup, Forms and
// Metrics may be nil.
type Dependencies struct {
	Pipeline    Extractor
	Acquirer    *acquisition.Acquirer
	Dedup       *acquisition.Once[*pipeline.Outcome]
	Forms       *pipeline.Forms
	Submissions Submitter
	Invoices    InvoiceReader
	Dashboard   DashboardProvider
	Settings    SettingsManager
	Exporter    Exporter
	Files       FileOpener
	Metrics     *metrics.Metrics
}

// Server is the HTTP server
type Server struct {
	config     ServerConfig
	deps       Dependencies
	httpServer *http.Server
	router     *gin.Engine
	logger     *zap.Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, deps Dependencies, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	if deps.Acquirer != nil {
		router.MaxMultipartMemory = deps.Acquirer.MaxBytes()
	}

	server := &Server{
		config: config,
		deps:   deps,
		router: router,
		logger: logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(recoveryMiddleware(s.logger))
	s.router.Use(requestIDMiddleware())
	s.router.Use(loggingMiddleware(s.logger))
	s.router.Use(corsMiddleware(s.config.AllowedOrigins))
	if s.deps.Metrics != nil {
		s.router.Use(s.deps.Metrics.Middleware())
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := NewHandlers(s.deps, s.config.UserID, s.logger)

	s.router.GET("/health", h.HealthCheck)
	s.router.GET("/files/*path", h.ServeFile)

	if s.deps.Metrics != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(s.deps.Metrics.Handler()))
	}

	api := s.router.Group("/api")
	{
		// Extraction
		api.POST("/analyze", h.Analyze)
		api.POST("/analyze/text", h.AnalyzeText)
		api.GET("/forms/:id", h.GetForm)
		api.PATCH("/forms/:id", h.EditForm)
		api.DELETE("/forms/:id", h.DeleteForm)

		// Invoices
		api.POST("/upload", h.Upload)
		api.GET("/invoices", h.ListInvoices)
		api.POST("/invoices", h.CreateInvoice)
		api.GET("/invoices/export", h.ExportInvoices)
		api.GET("/invoices/:id", h.GetInvoice)
		api.PATCH("/invoices/:id/status", h.UpdateInvoiceStatus)
		api.PATCH("/invoices/:id/routing", h.UpdateInvoiceRouting)

		// Overview and profile
		api.GET("/dashboard", h.Dashboard)
		api.GET("/settings", h.GetSettings)
		api.PUT("/settings", h.UpdateSettings)
	}
}

// Start starts the HTTP server and blocks until ctx is done
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
