package web

import (
	"context"
	"log/slog"
	"time"

	"github.com/freekieb7/lctrelay/internal/relay"
	"github.com/freekieb7/lctrelay/internal/telemetry"

	"github.com/gofiber/fiber/v2"
)

// StateReader is the read side of the relay hub.
type StateReader interface {
	Stats(ctx context.Context) (relay.Stats, error)
	Snapshot(ctx context.Context) (relay.Snapshot, error)
}

type HealthHandler struct {
	state   StateReader
	logger  *slog.Logger
	timeout time.Duration
}

func NewHealthHandler(state StateReader, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{state: state, logger: logger, timeout: 2 * time.Second}
}

// Healthy answers once the hub loop processes a request in time.
func (h *HealthHandler) Healthy(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(telemetry.ContextFromFiber(c), h.timeout)
	defer cancel()

	stats, err := h.state.Stats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "Relay hub is not responding", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":  "unhealthy",
			"message": "Relay hub is not responding",
		})
	}

	return c.JSON(fiber.Map{
		"status":  "healthy",
		"message": "Service is healthy",
		"stats":   stats,
	})
}

type SnapshotHandler struct {
	state   StateReader
	logger  *slog.Logger
	timeout time.Duration
}

func NewSnapshotHandler(state StateReader, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{state: state, logger: logger, timeout: 5 * time.Second}
}

func (h *SnapshotHandler) Snapshot(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(telemetry.ContextFromFiber(c), h.timeout)
	defer cancel()

	snapshot, err := h.state.Snapshot(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to read relay snapshot", "error", err)
		return ErrorResponse(c, fiber.StatusServiceUnavailable, "UNAVAILABLE", "Relay hub is not responding")
	}
	return c.JSON(snapshot)
}
