package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/student-support/internal/api/dto"
	"github.com/spec-kit/student-support/internal/domain"
	"github.com/spec-kit/student-support/internal/realtime"
	"github.com/spec-kit/student-support/internal/service"
	apperrors "github.com/spec-kit/student-support/pkg/util"
)

const (
	localsActor    = "ws_actor"
	localsThreadID = "ws_thread_id"

	writeTimeout   = 10 * time.Second
	commandTimeout = 5 * time.Second
)

// ThreadViewer checks that an actor may watch a thread.
type ThreadViewer interface {
	GetThread(ctx context.Context, actor domain.Actor, threadID string) (domain.Thread, error)
}

var _ ThreadViewer = (*service.ThreadService)(nil)

// socket is the part of a websocket connection a session uses.
type socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// RealtimeHandler upgrades authenticated requests and streams thread events to the client.
type RealtimeHandler struct {
	registry *realtime.Registry
	threads  ThreadViewer
	logger   *zap.Logger
}

// NewRealtimeHandler constructs handler.
func NewRealtimeHandler(registry *realtime.Registry, threads ThreadViewer, logger *zap.Logger) *RealtimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeHandler{registry: registry, threads: threads, logger: logger}
}

// Upgrade validates the handshake before switching protocols, so a forbidden or unknown
// thread is rejected with a normal HTTP error.
func (h *RealtimeHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	threadID := strings.TrimSpace(c.Query("thread_id"))
	if threadID != "" {
		if _, err := h.threads.GetThread(c.UserContext(), actor, threadID); err != nil {
			return err
		}
	}
	c.Locals(localsActor, actor)
	c.Locals(localsThreadID, threadID)
	return c.Next()
}

// Serve returns the websocket endpoint.
func (h *RealtimeHandler) Serve() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		actor, ok := conn.Locals(localsActor).(domain.Actor)
		if !ok {
			return
		}
		threadID, _ := conn.Locals(localsThreadID).(string)
		h.run(conn, actor, threadID)
	})
}

// run serves one client until it disconnects. Writes from the event pump and from
// command replies are serialized on mu.
func (h *RealtimeHandler) run(conn socket, actor domain.Actor, threadID string) {
	client := h.registry.Connect(actor.UserID)
	s := &session{conn: conn, client: client, actor: actor, handler: h}
	logger := h.logger.With(zap.String("connection_id", client.ID()), zap.String("user_id", actor.UserID))
	logger.Debug("realtime client connected")

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.pump()
	}()

	if threadID != "" {
		_ = s.writeJSON(s.trySubscribe(threadID))
	}
	s.readLoop()

	h.registry.Disconnect(client.ID())
	<-pumpDone
	logger.Debug("realtime client disconnected")
}

type session struct {
	mu      sync.Mutex
	conn    socket
	client  *realtime.Connection
	actor   domain.Actor
	handler *RealtimeHandler
}

// pump forwards events until the registry closes the client's channel.
func (s *session) pump() {
	for event := range s.client.Events() {
		if err := s.writeJSON(event); err != nil {
			s.handler.logger.Debug("realtime write failed", zap.String("connection_id", s.client.ID()), zap.Error(err))
			return
		}
	}
}

func (s *session) readLoop() {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(string(data)), "ping") {
			if err := s.write(websocket.TextMessage, []byte("pong")); err != nil {
				return
			}
			continue
		}

		var cmd dto.SocketCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			if err := s.writeJSON(dto.SocketAck{Type: "error", Error: "invalid frame"}); err != nil {
				return
			}
			continue
		}
		var ack dto.SocketAck
		switch cmd.Action {
		case dto.ActionSubscribe:
			ack = s.trySubscribe(cmd.Thread())
		case dto.ActionUnsubscribe:
			s.handler.registry.Unsubscribe(s.client.ID(), cmd.Thread())
			ack = dto.SocketAck{Type: "unsubscribed", ThreadID: cmd.Thread()}
		default:
			ack = dto.SocketAck{Type: "error", Error: "unknown action"}
		}
		if err := s.writeJSON(ack); err != nil {
			return
		}
	}
}

// trySubscribe checks view permission before registering interest in a thread.
func (s *session) trySubscribe(threadID string) dto.SocketAck {
	if threadID == "" {
		return dto.SocketAck{Type: "error", Error: "thread_id required"}
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if _, err := s.handler.threads.GetThread(ctx, s.actor, threadID); err != nil {
		return dto.SocketAck{Type: "error", ThreadID: threadID, Error: apperrors.ToDomainError(err).Code}
	}
	if err := s.handler.registry.Subscribe(s.client.ID(), threadID); err != nil {
		return dto.SocketAck{Type: "error", ThreadID: threadID, Error: err.Error()}
	}
	return dto.SocketAck{Type: "subscribed", ThreadID: threadID}
}

func (s *session) writeJSON(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, body)
}

func (s *session) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}
