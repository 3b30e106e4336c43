package daemon

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/freekieb7/lctrelay/internal/relay"
)

// StatsSource is the relay view the report reads from.
type StatsSource interface {
	Stats(ctx context.Context) (relay.Stats, error)
}

// PendingReportTask periodically logs how much is cached for offline or
// closed actors. Pending entries never expire, so this is how growth shows.
func PendingReportTask(source StatsSource, interval time.Duration, logger *slog.Logger) DaemonFunc {
	return func(ctx context.Context, name string) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := reportPending(ctx, source, logger); err != nil {
					if errors.Is(err, relay.ErrHubStopped) || ctx.Err() != nil {
						return nil
					}
					return err
				}
			}
		}
	}
}

func reportPending(ctx context.Context, source StatsSource, logger *slog.Logger) error {
	stats, err := source.Stats(ctx)
	if err != nil {
		return err
	}

	attrs := []any{
		"pending_warnings", stats.PendingWarnings,
		"pending_alerts", stats.PendingAlerts,
		"connected", stats.Connected,
		"open_rooms", stats.OpenRooms,
	}
	if stats.OldestPending != nil {
		attrs = append(attrs, "oldest_pending", stats.OldestPending.Format(time.RFC3339), "oldest_age", time.Since(*stats.OldestPending).Round(time.Second))
	}

	if stats.PendingWarnings == 0 && stats.PendingAlerts == 0 {
		logger.DebugContext(ctx, "Nothing pending", attrs...)
		return nil
	}
	logger.InfoContext(ctx, "Pending deliveries", attrs...)
	return nil
}
