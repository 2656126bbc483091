package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"go-anonchat/internal/config"
)

// Session is one open chat connection: the transport plus the identity
// derived for it at open time. Username never changes for its lifetime.
type Session struct {
	ID       string
	Username string

	hub  *Hub
	conn *websocket.Conn
	cfg  config.WebSocketConfig
	log  zerolog.Logger

	// Context for work done on behalf of this session; cancelled on close.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	send   chan []byte // buffered outbound frames
	closed bool
}

func newSession(ctx context.Context, id, username string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig, logger zerolog.Logger) *Session {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		ID:       id,
		Username: username,
		hub:      hub,
		conn:     conn,
		cfg:      cfg,
		log:      logger,
		ctx:      ctx,
		cancel:   cancel,
		send:     make(chan []byte, buf),
	}
}

// enqueue queues data without blocking. It reports false when the queue is
// full or the session is already closed.
func (s *Session) enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// closeSend stops the write pump. Safe to call more than once.
func (s *Session) closeSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
	s.cancel()
}

// Send marshals v and queues it for this session only.
func (s *Session) Send(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal frame")
		return false
	}
	if !s.enqueue(data) {
		s.log.Warn().Msg("outbound queue full, frame dropped")
		return false
	}
	return true
}

// readPump feeds inbound frames to handle, one at a time and in arrival
// order. It owns unregistering the session.
func (s *Session) readPump(handle func(*Session, []byte)) {
	defer func() {
		s.hub.Unregister(s)
		s.cancel()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		// Each frame is handled before the next one is read.
		handle(s, message)
	}
}

// writePump drains the send queue onto the socket and keeps the peer alive
// with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if !ok {
				// The hub closed the queue.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Clients JSON.parse every message, so one frame per message.
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
