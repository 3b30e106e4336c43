package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/freekieb7/lctrelay/internal/audit"
	"github.com/freekieb7/lctrelay/internal/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// ErrHubStopped is returned to callers once the event loop has exited.
var ErrHubStopped = errors.New("relay hub stopped")

// Dispatcher delivers an encoded event to a connected actor. Send must not
// block; it reports whether the frame was queued.
type Dispatcher interface {
	Send(actorID, event string, data json.RawMessage) bool
}

type envelope struct {
	ctx     context.Context
	event   string
	actorID string
	run     func(*Relay) Outcome
	reply   chan Outcome
}

// Hub serializes all access to a Relay through one goroutine. Every envelope
// runs to completion, including dispatch of its outbound messages, before the
// next one starts.
type Hub struct {
	relay      *Relay
	dispatcher Dispatcher
	journal    *audit.Journal
	metrics    *telemetry.RelayMetrics
	logger     *slog.Logger
	tracer     trace.Tracer

	inbox    chan envelope
	stopped  chan struct{}
	stopOnce sync.Once
}

type HubOptions struct {
	InboxSize int
	Logger    *slog.Logger
	Metrics   *telemetry.RelayMetrics
}

func NewHub(relay *Relay, dispatcher Dispatcher, opts HubOptions) *Hub {
	if opts.InboxSize <= 0 {
		opts.InboxSize = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		// noop instruments cannot fail
		opts.Metrics, _ = telemetry.NewRelayMetrics(noop.NewMeterProvider().Meter("lctrelay"))
	}

	logger := opts.Logger.With("component", "hub")
	journal := audit.NewJournal(opts.Logger)

	return &Hub{
		relay:      relay,
		dispatcher: dispatcher,
		journal:    &journal,
		metrics:    opts.Metrics,
		logger:     logger,
		tracer:     otel.Tracer("lctrelay/relay"),
		inbox:      make(chan envelope, opts.InboxSize),
		stopped:    make(chan struct{}),
	}
}

// Run is the event loop. It returns when ctx is cancelled; pending callers
// then receive ErrHubStopped. A panic escaping the loop leaves the hub
// running, so a supervisor may call Run again and the inbox is kept.
func (h *Hub) Run(ctx context.Context) error {
	defer func() {
		if ctx.Err() != nil {
			h.stopOnce.Do(func() { close(h.stopped) })
		}
	}()

	h.logger.Info("Relay hub started")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Relay hub stopped")
			return nil
		case env := <-h.inbox:
			h.process(env)
		}
	}
}

func (h *Hub) process(env envelope) {
	replied := false
	defer func() {
		// the caller still gets an answer when dispatch blows up
		if !replied {
			env.reply <- Panicked(env.event, "event loop failed")
		}
	}()

	ctx, span := h.tracer.Start(env.ctx, "relay."+env.event,
		trace.WithAttributes(
			attribute.String("relay.event", env.event),
			attribute.String("relay.actor_id", env.actorID),
		),
	)
	defer span.End()

	outcome := h.safeInvoke(env)

	for _, out := range outcome.Out {
		h.dispatch(ctx, out)
	}
	for _, entry := range outcome.Journal {
		h.journal.LogEvent(ctx, entry)
		h.record(ctx, entry)
	}

	h.metrics.RecordEvent(ctx, env.event, outcome.Err != nil)
	h.metrics.SetState(
		h.relay.registry.ConnectedCount(),
		h.relay.pending.WarningCount(),
		h.relay.pending.AlertCount(),
	)

	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	}

	env.reply <- outcome
	replied = true
}

// safeInvoke keeps one faulty handler from taking down the loop.
func (h *Hub) safeInvoke(env envelope) (outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Relay handler panicked",
				"event", env.event,
				"actor_id", env.actorID,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			outcome = Panicked(env.event, rec)
		}
	}()
	return env.run(h.relay)
}

func (h *Hub) dispatch(ctx context.Context, out Outbound) {
	recipients := h.relay.Recipients(out)
	if len(recipients) == 0 {
		h.metrics.RecordDelivery(ctx, out.Event, false)
		return
	}

	data, err := json.Marshal(out.Data)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to encode outbound event", "event", out.Event, "error", err)
		return
	}

	for _, actorID := range recipients {
		delivered := h.dispatcher.Send(actorID, out.Event, data)
		h.metrics.RecordDelivery(ctx, out.Event, delivered)
		if !delivered {
			h.logger.DebugContext(ctx, "Outbound event dropped", "event", out.Event, "actor_id", actorID)
		}
	}
}

func (h *Hub) record(ctx context.Context, entry audit.Entry) {
	switch entry.Type {
	case audit.EventTypeWarningPended:
		h.metrics.RecordWarningsPended(ctx, 1)
	case audit.EventTypeAlertPended:
		h.metrics.RecordAlertsPended(ctx, 1)
	case audit.EventTypeAlertAcknowledged:
		if n, ok := entry.Data["count"].(int); ok {
			h.metrics.RecordAlertsAcknowledged(ctx, n)
		}
	case audit.EventTypeHandlerPanicked:
		event, _ := entry.Data["event"].(string)
		h.metrics.RecordPanic(ctx, event)
	}
}

func (h *Hub) submit(ctx context.Context, env envelope) (Outcome, error) {
	env.ctx = ctx
	env.reply = make(chan Outcome, 1)

	select {
	case h.inbox <- env:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-h.stopped:
		return Outcome{}, ErrHubStopped
	}

	select {
	case outcome := <-env.reply:
		return outcome, nil
	case <-ctx.Done():
		// the envelope still runs; reply is buffered so the loop never blocks on it
		return Outcome{}, ctx.Err()
	case <-h.stopped:
		return Outcome{}, ErrHubStopped
	}
}

// Connect registers a new connection and runs its reconciliation.
func (h *Hub) Connect(ctx context.Context, id Identity, connID string) (Outcome, error) {
	return h.submit(ctx, envelope{
		event:   EventConnected,
		actorID: id.ID,
		run:     func(r *Relay) Outcome { return r.Connect(id, connID) },
	})
}

// Handle runs one inbound event of a connected actor.
func (h *Hub) Handle(ctx context.Context, actorID, event string, data json.RawMessage) (Outcome, error) {
	return h.submit(ctx, envelope{
		event:   event,
		actorID: actorID,
		run:     func(r *Relay) Outcome { return r.Handle(actorID, event, data) },
	})
}

// Disconnect marks the connection's actor offline.
func (h *Hub) Disconnect(ctx context.Context, actorID, connID string) error {
	_, err := h.submit(ctx, envelope{
		event:   "disconnect",
		actorID: actorID,
		run:     func(r *Relay) Outcome { return r.Disconnect(actorID, connID) },
	})
	return err
}

// Snapshot returns a consistent copy of the relay state.
func (h *Hub) Snapshot(ctx context.Context) (Snapshot, error) {
	outcome, err := h.submit(ctx, envelope{
		event: "snapshot",
		run:   func(r *Relay) Outcome { return Outcome{Ack: r.Snapshot()} },
	})
	if err != nil {
		return Snapshot{}, err
	}
	snapshot, ok := outcome.Ack.(Snapshot)
	if !ok {
		return Snapshot{}, outcome.Err
	}
	return snapshot, nil
}

// Stats returns counters of the relay state.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	outcome, err := h.submit(ctx, envelope{
		event: "stats",
		run:   func(r *Relay) Outcome { return Outcome{Ack: r.Stats()} },
	})
	if err != nil {
		return Stats{}, err
	}
	stats, ok := outcome.Ack.(Stats)
	if !ok {
		return Stats{}, outcome.Err
	}
	return stats, nil
}
