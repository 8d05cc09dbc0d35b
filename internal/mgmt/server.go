package mgmt

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/nudge-agent/internal/health"
	"github.com/p-blackswan/nudge-agent/internal/metrics"
	"github.com/p-blackswan/nudge-agent/internal/requestid"
)

// ServerConfig holds configuration for the management API server.
type ServerConfig struct {
	ListenAddr   string
	AuthConfig   AuthConfig
	RateLimitRPS int // per client IP, 0 disables
}

// Server is the management API Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config ServerConfig
}

// NewServer creates and configures a new management API server. webhook may
// be nil when Jira webhooks are not configured.
func NewServer(
	cfg ServerConfig,
	handlers *Handlers,
	checker *health.Checker,
	metricsCollector *metrics.Metrics,
	webhook http.Handler,
	logger zerolog.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
	})

	s := &Server{
		app:    app,
		logger: logger.With().Str("component", "mgmt_server").Logger(),
		config: cfg,
	}

	s.setupMiddleware(cfg, logger)
	s.setupRoutes(handlers, checker, metricsCollector, webhook)

	return s
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

func (s *Server) setupMiddleware(cfg ServerConfig, logger zerolog.Logger) {
	// Recovery middleware
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID middleware
	s.app.Use(func(c *fiber.Ctx) error {
		ctx, reqID := requestid.New(c.UserContext())
		c.SetUserContext(ctx)
		c.Set("X-Request-ID", reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	// Rate limiter
	if cfg.RateLimitRPS > 0 {
		s.app.Use(limiter.New(limiter.Config{
			Next:       func(c *fiber.Ctx) bool { return isProbe(c.Path()) },
			Max:        cfg.RateLimitRPS,
			Expiration: time.Second,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return problemResponse(c, fiber.StatusTooManyRequests,
					"rate_limit_exceeded", "Too Many Requests",
					"Rate limit exceeded. Please try again later.")
			},
		}))
	}

	// Auth middleware
	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, logger))

	// Audit middleware (log every request)
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		// Skip noisy probe logging
		if isProbe(path) {
			return c.Next()
		}

		reqID, _ := c.Locals("request_id").(string)
		logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Str("request_id", reqID).
			Msg("mgmt api request")

		return c.Next()
	})
}

func (s *Server) setupRoutes(h *Handlers, checker *health.Checker, metricsCollector *metrics.Metrics, webhook http.Handler) {
	// Probe endpoints (no auth required, handled in auth middleware)
	s.app.Get("/healthz", adaptor.HTTPHandlerFunc(health.LivenessHandler()))
	s.app.Get("/readyz", adaptor.HTTPHandlerFunc(checker.ReadinessHandler()))

	if metricsCollector != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(metricsCollector.Handler()))
	} else {
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			return c.SendString("# No metrics collector configured\n")
		})
	}

	if webhook != nil {
		s.app.Post("/webhook/jira", adaptor.HTTPHandler(webhook))
	}

	v1 := s.app.Group("/api/v1")

	v1.Get("/status", h.Status)
	v1.Post("/cycles", requireRole(RoleOperator), h.TriggerCycle)
	v1.Get("/decisions", h.ListDecisions)
	v1.Get("/dead-letters", h.ListDeadLetters)
	v1.Post("/dead-letters/:id/resolve", requireRole(RoleOperator), h.ResolveDeadLetter)
	v1.Get("/profiles/:assignee", h.GetProfile)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8090"
	}

	s.logger.Info().Str("addr", addr).Msg("management API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("management API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		detail := err.Error()
		// Don't leak internal details
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     "internal_error",
			Title:    http.StatusText(code),
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
