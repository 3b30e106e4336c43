package web

import (
	"log/slog"
	"strings"
	"time"

	"github.com/freekieb7/lctrelay/internal/telemetry"

	"github.com/gofiber/fiber/v2"
)

// RequestLogger logs every request after it has been handled. Static assets
// log at debug so the api requests stand out.
func RequestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		level := slog.LevelDebug
		if strings.HasPrefix(c.Path(), "/api") {
			level = slog.LevelInfo
		}
		status := c.Response().StatusCode()
		if err != nil || status >= fiber.StatusInternalServerError {
			level = slog.LevelWarn
		}

		logger.Log(telemetry.ContextFromFiber(c), level, "Request",
			"method", c.Method(),
			"url", c.OriginalURL(),
			"status", status,
			"ip", c.IP(),
			"duration", time.Since(start),
		)
		return err
	}
}
