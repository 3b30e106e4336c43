package audit

import (
	"context"
	"log/slog"
	"sort"
)

type EventType string

const (
	EventTypeActorConnected    EventType = "actor.connected"
	EventTypeActorReconnected  EventType = "actor.reconnected"
	EventTypeActorDisconnected EventType = "actor.disconnected"
	EventTypeRoomOpened        EventType = "room.opened"
	EventTypeRoomReopened      EventType = "room.reopened"
	EventTypeRoomClosed        EventType = "room.closed"
	EventTypeCheckIn           EventType = "membership.check_in"
	EventTypeCheckOut          EventType = "membership.check_out"
	EventTypeWarningPended     EventType = "exposure.warning.pended"
	EventTypeRoomNotified      EventType = "exposure.room.notified"
	EventTypeWarningCleared    EventType = "exposure.warning.cleared"
	EventTypeAlertPended       EventType = "exposure.alert.pended"
	EventTypeAlertDelivered    EventType = "exposure.alert.delivered"
	EventTypeAlertAcknowledged EventType = "exposure.alert.acknowledged"
	EventTypeRequestRejected   EventType = "request.rejected"
	EventTypeHandlerPanicked   EventType = "handler.panicked"
)

// Entry is one protocol journal record. Data must be JSON friendly.
type Entry struct {
	Type    EventType
	ActorID string
	Data    map[string]any
}

// Journal writes protocol events to the structured log. The relay keeps no
// persistent history so the log stream is the audit trail.
type Journal struct {
	logger *slog.Logger
}

func NewJournal(logger *slog.Logger) Journal {
	return Journal{logger: logger.With("component", "journal")}
}

func (j *Journal) LogEvent(ctx context.Context, entry Entry) {
	level := slog.LevelInfo
	switch entry.Type {
	case EventTypeRequestRejected:
		level = slog.LevelWarn
	case EventTypeHandlerPanicked:
		level = slog.LevelError
	}

	if !j.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, len(entry.Data)+2)
	attrs = append(attrs, slog.String("event_type", string(entry.Type)))
	if entry.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", entry.ActorID))
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, entry.Data[k]))
	}

	j.logger.LogAttrs(ctx, level, "protocol event", attrs...)
}
