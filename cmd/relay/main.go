package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freekieb7/lctrelay/internal/config"
	"github.com/freekieb7/lctrelay/internal/daemon"
	"github.com/freekieb7/lctrelay/internal/logger"
	"github.com/freekieb7/lctrelay/internal/realtime"
	"github.com/freekieb7/lctrelay/internal/relay"
	"github.com/freekieb7/lctrelay/internal/telemetry"
	"github.com/freekieb7/lctrelay/internal/validator"
	"github.com/freekieb7/lctrelay/internal/web"

	"go.opentelemetry.io/otel"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.NewConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Telemetry first so the logger can bridge into it
	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down telemetry", "error", err)
		}
	}()

	log := logger.New(*cfg)

	metrics, err := telemetry.NewRelayMetrics(otel.Meter("lctrelay"))
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	v := validator.New()

	// Sessions deliver the hub's outbound messages, the server feeds it.
	sessions := realtime.NewSessions(log.Logger)
	hub := relay.NewHub(relay.New(v, time.Now), sessions, relay.HubOptions{
		InboxSize: cfg.Relay.InboxSize,
		Logger:    log.Logger,
		Metrics:   metrics,
	})
	relayServer := realtime.NewServer(cfg.Relay, hub, sessions, v, log.Logger)
	webServer := web.NewServer(cfg.Web, cfg.Telemetry.ServiceName, hub, log.Logger)

	manager := daemon.NewDaemonManager(log.Logger)
	manager.Add("hub", func(ctx context.Context, name string) error {
		return hub.Run(ctx)
	})
	manager.Add("relay", func(ctx context.Context, name string) error {
		return relayServer.Run(ctx)
	})
	manager.Add("web", func(ctx context.Context, name string) error {
		return webServer.Run(ctx)
	})
	manager.Add("pending", daemon.PendingReportTask(hub, cfg.Relay.PendingReportInterval, log.Logger))

	log.Info("Starting supervised daemons...",
		"relay_addr", cfg.Relay.Addr,
		"relay_path", cfg.Relay.Path,
		"web_addr", cfg.Web.Addr,
	)
	manager.Start(ctx)

	<-ctx.Done()
	log.Info("Shutting down...")
	manager.Wait()
	log.Info("All daemons stopped")

	return nil
}
