// Package mockserver is a local stand-in for the cast service. It speaks the
// same HTTP and push channel contract, fabricates results from the output
// schema (or a custom Responder) and keeps request records in memory.
package mockserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBodySizeLimit bounds request bodies when Config.BodySizeLimit is unset.
const DefaultBodySizeLimit int64 = 10 * 1024 * 1024

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	APIKey          string        // Optional: bearer token every API request must carry
	Delay           time.Duration // How long a queued cast stays pending
	Responder       Responder     // Produces outputs (default: Synthesize)
	Model           string        // Reported in request records (default: mock-model)
	Provider        string        // Reported in request records (default: mock)
	MetricsEnabled  bool          // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string        // HTTP path for metrics endpoint (default: /metrics)
	BodySizeLimit   int64         // Max request body size in bytes (default: 10MB)
	Logger          *slog.Logger
}

// New creates the mock service.
func New(cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handleError

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = "mock-model"
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "mock"
	}

	handler := NewHandler(cfg.Responder, cfg.Delay, model, provider, logger)

	authSkipPaths := []string{"/health"}
	metricsPath := "/metrics"
	if cfg.MetricsEnabled {
		if cfg.MetricsEndpoint != "" {
			metricsPath = path.Clean(cfg.MetricsEndpoint)
		}
		authSkipPaths = append(authSkipPaths, metricsPath)
	}

	// Echoes the client's X-Request-ID, or assigns one.
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogError:     true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "request_id", v.RequestID, "duration_ms", v.Latency.Milliseconds()}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			logger.Debug("mock request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	bodySizeLimit := DefaultBodySizeLimit
	if cfg.BodySizeLimit > 0 {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodySizeLimit, 10)))

	if cfg.APIKey != "" {
		e.Use(AuthMiddleware(cfg.APIKey, authSkipPaths))
	}

	// Public routes
	e.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	// API routes
	e.POST("/cast/value", handler.CastValue)
	e.POST("/cast/value/now", handler.CastValueNow)
	e.POST("/cast/array", handler.CastArray)
	e.POST("/cast/array/now", handler.CastArrayNow)
	e.GET("/requests/:id", handler.GetRequest)
	e.GET("/sse/:id", handler.Subscribe)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// handleError renders framework errors (unknown route, body too large,
// recovered panics) in the service's {"error": "..."} shape.
func handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	msg := "an unexpected error occurred"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if s, ok := he.Message.(string); ok {
			msg = s
		} else {
			msg = http.StatusText(status)
		}
	}
	_ = errorJSON(c, status, msg)
}
