package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/freekieb7/lctrelay/internal/config"
	"github.com/freekieb7/lctrelay/internal/telemetry"
)

// Logger wraps slog.Logger with relay specific helpers
type Logger struct {
	*slog.Logger
	config config.Config
}

// New creates a logger that writes to the console and to the OpenTelemetry log bridge.
// Production logs are JSON, everything else is text.
func New(cfg config.Config) *Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Server.LogLevel, cfg.Server.Environment),
		AddSource: true,
	}

	var console slog.Handler
	if cfg.Server.Environment == config.EnvironmentProduction {
		console = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		console = slog.NewTextHandler(os.Stdout, opts)
	}

	handler := NewMultiHandler(telemetry.NewOTelHandler(opts), console)

	logger := slog.New(handler).With(
		"service", cfg.Telemetry.ServiceName,
		"version", cfg.Telemetry.ServiceVersion,
		"environment", cfg.Telemetry.Environment,
	)

	slog.SetDefault(logger)

	return &Logger{
		Logger: logger,
		config: cfg,
	}
}

// ParseLevel maps LOG_LEVEL to a slog level. An empty value picks debug in
// development and info elsewhere.
func ParseLevel(value string, env config.Environment) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if env == config.EnvironmentDevelopment {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// WithActor creates a logger scoped to one connected actor
func (l *Logger) WithActor(actorID, role string) *slog.Logger {
	return l.With(
		"actor_id", actorID,
		"role", role,
	)
}

// WithError creates a logger with error context
func (l *Logger) WithError(err error) *slog.Logger {
	return l.With("error", err.Error())
}

// MultiHandler sends logs to multiple handlers
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler creates a new multi-handler
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

// Enabled reports whether any handler handles records at the given level
func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle handles the Record by sending it to all handlers
func (h *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, record.Level) {
			// one failing sink must not starve the others
			_ = handler.Handle(ctx, record.Clone())
		}
	}
	return nil
}

// WithAttrs returns a new MultiHandler with the given attributes
func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		newHandlers = append(newHandlers, handler.WithAttrs(attrs))
	}
	return &MultiHandler{handlers: newHandlers}
}

// WithGroup returns a new MultiHandler with the given group
func (h *MultiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		newHandlers = append(newHandlers, handler.WithGroup(name))
	}
	return &MultiHandler{handlers: newHandlers}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
