package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"entityflow/internal/admin"
	"entityflow/internal/auth"
	"entityflow/internal/engine"
	"entityflow/internal/instrument"
	"entityflow/internal/workflow"
)

// Deps are the components the HTTP app is assembled from. Admin, Auth and
// Metrics are optional.
type Deps struct {
	Orchestrator *engine.Orchestrator
	Workflows    *workflow.Registry
	Admin        *admin.Handler
	Auth         *auth.Handler
	Metrics      *instrument.Metrics
	JWTSecret    string
	RequireAuth  bool
	Logger       *zap.Logger
}

// NewApp builds the fiber app with every route registered in matching
// order: fixed /api/_ prefixes first, the table routes last.
func NewApp(d Deps) *fiber.App {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(requestLogger(logger))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))
	}

	actorMW := auth.Middleware(d.JWTSecret, d.RequireAuth)
	if d.Auth != nil {
		auth.RegisterRoutes(app, d.Auth, actorMW)
	}
	if d.Admin != nil {
		admin.RegisterAdminRoutes(app, d.Admin, auth.Middleware(d.JWTSecret, true), auth.RequireAdmin())
	}
	RegisterRoutes(app, NewHandler(d.Orchestrator, d.Workflows, logger), actorMW)
	return app
}

func requestLogger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			if e, ok := err.(*fiber.Error); ok {
				status = e.Code
			}
		}
		logger.Debug("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)))
		return err
	}
}
