package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RelayMetrics holds the instruments recorded by the relay hub.
type RelayMetrics struct {
	events             metric.Int64Counter
	deliveries         metric.Int64Counter
	warningsPended     metric.Int64Counter
	alertsPended       metric.Int64Counter
	alertsAcknowledged metric.Int64Counter
	panics             metric.Int64Counter

	connected       atomic.Int64
	pendingWarnings atomic.Int64
	pendingAlerts   atomic.Int64
}

// NewRelayMetrics creates the relay instruments on the given meter.
// Pass otel.Meter("lctrelay") in production and a noop meter in tests.
func NewRelayMetrics(meter metric.Meter) (*RelayMetrics, error) {
	m := &RelayMetrics{}

	var err error
	if m.events, err = meter.Int64Counter("relay.events",
		metric.WithDescription("Inbound relay events by name and outcome"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create events counter: %w", err)
	}
	if m.deliveries, err = meter.Int64Counter("relay.deliveries",
		metric.WithDescription("Outbound messages by event and delivery result"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create deliveries counter: %w", err)
	}
	if m.warningsPended, err = meter.Int64Counter("relay.warnings.pended",
		metric.WithDescription("Exposure warnings stashed for a location"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create warnings counter: %w", err)
	}
	if m.alertsPended, err = meter.Int64Counter("relay.alerts.pended",
		metric.WithDescription("Exposure alerts stashed for a person"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create alerts counter: %w", err)
	}
	if m.alertsAcknowledged, err = meter.Int64Counter("relay.alerts.acknowledged",
		metric.WithDescription("Exposure alerts confirmed by the person"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create acknowledged counter: %w", err)
	}
	if m.panics, err = meter.Int64Counter("relay.handler.panics",
		metric.WithDescription("Recovered panics inside event handlers"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create panics counter: %w", err)
	}

	connected, err := meter.Int64ObservableGauge("relay.actors.connected",
		metric.WithDescription("Currently connected actors"))
	if err != nil {
		return nil, fmt.Errorf("failed to create connected gauge: %w", err)
	}
	pending, err := meter.Int64ObservableGauge("relay.pending",
		metric.WithDescription("Cached messages waiting for delivery or acknowledgement"))
	if err != nil {
		return nil, fmt.Errorf("failed to create pending gauge: %w", err)
	}

	if _, err := meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(connected, m.connected.Load())
		o.ObserveInt64(pending, m.pendingWarnings.Load(), metric.WithAttributes(attribute.String("kind", "warning")))
		o.ObserveInt64(pending, m.pendingAlerts.Load(), metric.WithAttributes(attribute.String("kind", "alert")))
		return nil
	}, connected, pending); err != nil {
		return nil, fmt.Errorf("failed to register gauge callback: %w", err)
	}

	return m, nil
}

func (m *RelayMetrics) RecordEvent(ctx context.Context, event string, failed bool) {
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.Bool("failed", failed),
	))
}

func (m *RelayMetrics) RecordDelivery(ctx context.Context, event string, delivered bool) {
	m.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.Bool("delivered", delivered),
	))
}

func (m *RelayMetrics) RecordWarningsPended(ctx context.Context, n int) {
	if n > 0 {
		m.warningsPended.Add(ctx, int64(n))
	}
}

func (m *RelayMetrics) RecordAlertsPended(ctx context.Context, n int) {
	if n > 0 {
		m.alertsPended.Add(ctx, int64(n))
	}
}

func (m *RelayMetrics) RecordAlertsAcknowledged(ctx context.Context, n int) {
	if n > 0 {
		m.alertsAcknowledged.Add(ctx, int64(n))
	}
}

func (m *RelayMetrics) RecordPanic(ctx context.Context, event string) {
	m.panics.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// SetState publishes the gauge values. It is called from the hub goroutine
// and read by the meter's collection goroutine.
func (m *RelayMetrics) SetState(connected, pendingWarnings, pendingAlerts int) {
	m.connected.Store(int64(connected))
	m.pendingWarnings.Store(int64(pendingWarnings))
	m.pendingAlerts.Store(int64(pendingAlerts))
}
