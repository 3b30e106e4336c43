package web

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/freekieb7/lctrelay/internal/config"
	"github.com/freekieb7/lctrelay/internal/telemetry"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// NewApp serves the static client bundle and the read-only relay API.
func NewApp(cfg config.WebConfig, serviceName string, state StateReader, logger *slog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(telemetry.FiberMiddleware(serviceName + "-web"))
	app.Use(RequestLogger(logger))

	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return ErrorResponse(c, fiber.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
		},
	}))

	health := NewHealthHandler(state, logger)
	snapshot := NewSnapshotHandler(state, logger)
	api.Get("/health", health.Healthy)
	api.Get("/snapshot", snapshot.Snapshot)

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir, fiber.Static{Index: "index.html"})
	}

	return app
}

// Server runs the Fiber app until its context is done.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger
}

func NewServer(cfg config.WebConfig, serviceName string, state StateReader, logger *slog.Logger) *Server {
	logger = logger.With("component", "web")
	return &Server{
		app:    NewApp(cfg, serviceName, state, logger),
		addr:   cfg.Addr,
		logger: logger,
	}
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Web server listening", "addr", s.addr)
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	}
}
