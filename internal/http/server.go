// Package http exposes the engine over HTTP: job submission, ticket queries
// and transitions, the status snapshot and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/autopilot"
	"github.com/fyrsmithlabs/pipelined/internal/executor"
	"github.com/fyrsmithlabs/pipelined/internal/jira"
	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"github.com/fyrsmithlabs/pipelined/internal/state"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Executor runs reconciliation passes.
type Executor interface {
	Run(ctx context.Context, p executor.Payload) executor.Result
	Autofix(ctx context.Context, req executor.AutofixRequest) executor.Result
}

// Tracker is the work-tracking surface the ticket endpoints use.
type Tracker interface {
	SearchIssues(ctx context.Context, jql string, maxResults int) ([]jira.Issue, error)
	ListTransitions(ctx context.Context, key string) ([]jira.Transition, error)
	Transition(ctx context.Context, key, target string) error
}

// StatusSource provides the status snapshot.
type StatusSource interface {
	Snapshot() state.Snapshot
}

// AutopilotStatus reports the scheduler's cycle state.
type AutopilotStatus interface {
	State() autopilot.State
}

// Server provides HTTP endpoints for pipelined.
type Server struct {
	echo      *echo.Echo
	executor  Executor
	tracker   Tracker
	status    StatusSource
	autopilot AutopilotStatus
	logger    *logging.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// RateLimit is requests per second per client IP; RateBurst the burst.
	RateLimit float64
	RateBurst int
	// BodyLimit caps request bodies, e.g. "1M".
	BodyLimit string

	// Projects scopes the default ticket query.
	Projects []string
}

// Option configures a Server.
type Option func(*Server)

// WithAutopilot reports the scheduler's state in the status snapshot.
func WithAutopilot(a AutopilotStatus) Option {
	return func(s *Server) { s.autopilot = a }
}

// WithMetrics records OpenTelemetry request metrics.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.echo.Use(m.MetricsMiddleware()) }
}

// NewServer creates a new HTTP server.
func NewServer(exec Executor, tracker Tracker, status StatusSource, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if exec == nil || tracker == nil || status == nil {
		return nil, fmt.Errorf("executor, tracker and status source cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "1M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		executor: exec,
		tracker:  tracker,
		status:   status,
		logger:   logger.Named("http"),
		config:   cfg,
	}
	e.HTTPErrorHandler = s.handleError

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.accessLog)
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health" || c.Path() == "/metrics"
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(cfg.RateLimit),
			Burst:     cfg.RateBurst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, errorBody("rate limit exceeded"))
		},
	}))

	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/webhook", s.handleWebhook)
	s.echo.POST("/generate", s.handleGenerate)
	s.echo.POST("/autofix", s.handleAutofix)

	s.echo.POST("/issues", s.handleIssues)
	s.echo.POST("/transition", s.handleTransition)
	s.echo.POST("/transitions", s.handleTransitions)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
}

// accessLog logs each request and carries its request ID into the handler's
// context for correlation.
func (s *Server) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		req := c.Request()
		ctx := logging.WithRequestID(req.Context(), id)
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// handleError renders every error as a structured result.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", zap.Error(err))
	}
	if werr := c.JSON(code, errorBody(msg)); werr != nil {
		s.logger.Warn(c.Request().Context(), "failed to write error response", zap.Error(werr))
	}
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
