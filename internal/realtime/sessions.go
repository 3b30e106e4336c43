package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// EventAck answers a frame that carried an ack id.
const EventAck = "ack"

// EventError reports a frame that could not be processed and carried no ack id.
const EventError = "error"

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Sessions keeps one active Connection per actor id and delivers relay events
// to them. It implements relay.Dispatcher.
type Sessions struct {
	mu      sync.RWMutex
	byActor map[string]*Connection
	logger  *slog.Logger
}

func NewSessions(logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		byActor: make(map[string]*Connection),
		logger:  logger.With("component", "sessions"),
	}
}

// Attach makes conn the active connection of its actor and returns the one it
// replaced, if any. The caller decides when to close the previous connection.
func (s *Sessions) Attach(conn *Connection) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.byActor[conn.ActorID]
	s.byActor[conn.ActorID] = conn
	if previous == conn {
		return nil
	}
	return previous
}

// Detach removes conn if it is still the active connection of its actor.
func (s *Sessions) Detach(conn *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.byActor[conn.ActorID]; ok && current == conn {
		delete(s.byActor, conn.ActorID)
		return true
	}
	return false
}

func (s *Sessions) lookup(actorID string) *Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byActor[actorID]
}

// Send encodes one event for the actor's active connection. It never blocks.
func (s *Sessions) Send(actorID, event string, data json.RawMessage) bool {
	conn := s.lookup(actorID)
	if conn == nil {
		return false
	}
	return send(conn, Frame{Event: event, Data: data}, s.logger)
}

// Count returns the number of actors with an active connection.
func (s *Sessions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byActor)
}

// Close terminates every tracked connection.
func (s *Sessions) Close() {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.byActor))
	for _, conn := range s.byActor {
		conns = append(conns, conn)
	}
	s.byActor = make(map[string]*Connection)
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "relay shutdown")
	}
}

func send(conn *Connection, frame Frame, logger *slog.Logger) bool {
	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Error("Failed to encode frame", "event", frame.Event, "error", err)
		return false
	}
	if err := conn.Send(payload); err != nil {
		logger.Warn("Failed to queue frame",
			"event", frame.Event,
			"actor_id", conn.ActorID,
			"conn_id", conn.ID,
			"error", err,
		)
		return false
	}
	return true
}
