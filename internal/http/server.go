// Package http exposes the ingestion service over HTTP.
//
// The caller is identified by the X-User-ID header. Authentication happens
// in front of this server.
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/articler/docindex/internal/budget"
	"github.com/articler/docindex/internal/ingest"
	"github.com/articler/docindex/internal/logging"
	"github.com/articler/docindex/internal/retrieval"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HeaderUserID carries the authenticated caller.
const HeaderUserID = "X-User-ID"

// Service is the ingestion surface the server exposes.
type Service interface {
	AddText(ctx context.Context, userID string, projectID uuid.UUID, title, text string) (ingest.Outcome, error)
	AddPDF(ctx context.Context, userID string, projectID uuid.UUID, title, url string) (ingest.Outcome, error)
	Documents(ctx context.Context, userID string, projectID uuid.UUID) ([]retrieval.DocumentHandle, error)
	RemoveDocument(ctx context.Context, userID string, projectID, documentID uuid.UUID) (retrieval.DocumentHandle, error)
	RemoveProject(ctx context.Context, userID string, projectID uuid.UUID) ([]retrieval.DocumentHandle, error)
	Search(ctx context.Context, userID string, projectID uuid.UUID, req ingest.SearchRequest) ([]string, error)
	Account(ctx context.Context, userID string) (*budget.Account, error)
	SetTier(ctx context.Context, userID string, tier budget.Tier) (*budget.Account, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	BodyLimit       string        `koanf:"body_limit"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DefaultConfig returns the default listener settings.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            8080,
		BodyLimit:       "20M",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server provides the HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	svc     Service
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(svc Service, logger *logging.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(e)

	s := &Server{
		echo:    e,
		svc:     svc,
		logger:  logger.Named("http"),
		config:  cfg,
		metrics: NewHTTPMetrics(logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

// requestLogger puts the request id on the context and logs each request.
// Handler errors are rendered here so outer middleware sees the final
// status.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(req.Context(), requestID)
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("route", c.Path()),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/accounts", s.handleGetAccount)
	v1.PUT("/accounts", s.handlePutAccount)

	projects := v1.Group("/projects/:project")
	projects.GET("/documents", s.handleListDocuments)
	projects.POST("/documents/text", s.handleAddText)
	projects.POST("/documents/pdf", s.handleAddPDF)
	projects.DELETE("/documents/:document", s.handleRemoveDocument)
	projects.DELETE("", s.handleRemoveProject)
	projects.POST("/search", s.handleSearch)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.Addr()))
	return s.echo.Start(s.Addr())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
