package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/freekieb7/lctrelay/internal/config"
	"github.com/freekieb7/lctrelay/internal/relay"
	"github.com/freekieb7/lctrelay/internal/validator"

	"github.com/gorilla/websocket"
)

// Relay is the part of relay.Hub the transport drives.
type Relay interface {
	Connect(ctx context.Context, id relay.Identity, connID string) (relay.Outcome, error)
	Handle(ctx context.Context, actorID, event string, data json.RawMessage) (relay.Outcome, error)
	Disconnect(ctx context.Context, actorID, connID string) error
}

type Server struct {
	cfg      config.RelayConfig
	relay    Relay
	sessions *Sessions
	validate *validator.Validator
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(cfg config.RelayConfig, r Relay, sessions *Sessions, v *validator.Validator, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		relay:    r,
		sessions: sessions,
		validate: v,
		logger:   logger.With("component", "realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are kiosks and phones served from other origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler routes the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s)
	return mux
}

// Run serves websocket connections on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Relay listening", "addr", s.cfg.Addr, "path", s.cfg.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// Shutdown does not touch hijacked connections
		s.sessions.Close()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, identityErr := relay.ParseIdentity(r.URL.Query(), s.validate)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade websocket connection", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	if identityErr != nil {
		s.logger.Info("Rejected websocket handshake", "error", identityErr, "remote_addr", r.RemoteAddr)
		s.reject(ws, websocket.ClosePolicyViolation, identityErr.Error())
		return
	}

	s.serve(context.WithoutCancel(r.Context()), ws, identity)
}

func (s *Server) serve(ctx context.Context, ws *websocket.Conn, identity relay.Identity) {
	conn := NewConnection(identity.ID, ws, ConnectionOptions{
		SendBuffer: s.cfg.SendBuffer,
		WriteWait:  s.cfg.WriteTimeout,
		PingPeriod: s.cfg.ReadTimeout * 9 / 10,
	})
	logger := s.logger.With(
		"actor_id", identity.ID,
		"role", string(identity.Role),
		"conn_id", conn.ID,
	)

	conn.Start()
	previous := s.sessions.Attach(conn)

	outcome, err := s.relay.Connect(ctx, identity, conn.ID)
	if err == nil {
		err = outcome.Err
	}
	if err != nil {
		logger.Warn("Connection refused by relay", "error", err)
		s.sessions.Detach(conn)
		if previous != nil {
			s.sessions.Attach(previous)
		}
		code := websocket.ClosePolicyViolation
		if !relay.IsClientError(err) || errors.Is(err, relay.ErrHubStopped) {
			code = websocket.CloseInternalServerErr
		}
		conn.Close(code, err.Error())
		<-conn.Done()
		return
	}

	// the older socket goes only after the relay knows the new one, so its
	// disconnect is recognized as superseded
	if previous != nil {
		logger.Info("Replacing previous connection", "previous_conn_id", previous.ID)
		previous.Close(CloseSessionReplaced, "session replaced")
	}
	logger.Info("Actor connected", "assigned_id", identity.Assigned)

	s.readLoop(ctx, conn, ws, logger)

	s.sessions.Detach(conn)
	conn.Close(websocket.CloseNormalClosure, "")
	if err := s.relay.Disconnect(ctx, identity.ID, conn.ID); err != nil {
		logger.Warn("Failed to record disconnect", "error", err)
	}
	<-conn.Done()
	logger.Info("Actor disconnected")
}

// readLoop handles frames strictly in arrival order; each waits for its reply.
func (s *Server) readLoop(ctx context.Context, conn *Connection, ws *websocket.Conn, logger *slog.Logger) {
	if s.cfg.MaxFrameBytes > 0 {
		ws.SetReadLimit(s.cfg.MaxFrameBytes)
	}
	extend := func() {
		if s.cfg.ReadTimeout > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
	}
	extend()
	ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, CloseSessionReplaced) {
				logger.Debug("Websocket read failed", "error", err)
			}
			return
		}
		extend()

		var frame Frame
		if err := json.Unmarshal(msg, &frame); err != nil || frame.Event == "" {
			s.replyError(conn, frame.Ack, relay.ErrorAck{Error: "frame must be a JSON object with an event"}, logger)
			continue
		}

		outcome, err := s.relay.Handle(ctx, conn.ActorID, frame.Event, frame.Data)
		if err != nil {
			logger.Warn("Relay unavailable", "error", err)
			return
		}

		if frame.Ack != nil {
			s.reply(conn, frame.Ack, EventAck, outcome.Ack, logger)
		} else if outcome.Err != nil {
			s.reply(conn, nil, EventError, outcome.Ack, logger)
		}
	}
}

func (s *Server) replyError(conn *Connection, ack *int64, body relay.ErrorAck, logger *slog.Logger) {
	event := EventError
	if ack != nil {
		event = EventAck
	}
	s.reply(conn, ack, event, body, logger)
}

func (s *Server) reply(conn *Connection, ack *int64, event string, body any, logger *slog.Logger) {
	data, err := json.Marshal(body)
	if err != nil {
		logger.Error("Failed to encode reply", "event", event, "error", err)
		return
	}
	send(conn, Frame{Event: event, Ack: ack, Data: data}, logger)
}

func (s *Server) reject(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if s.cfg.WriteTimeout <= 0 {
		deadline = time.Now().Add(10 * time.Second)
	}
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, truncateReason(reason)), deadline)
	_ = ws.Close()
}
