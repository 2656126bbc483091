package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"go-anonchat/internal/log"
	"go-anonchat/internal/metrics"
)

var ErrHubStopped = errors.New("chat: hub stopped")

// Relay carries frames between instances so every instance's sessions see
// every broadcast. Subscribe blocks until ctx ends.
type Relay interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context, deliver func(payload []byte)) error
}

// Hub owns the set of open sessions. Only the Run goroutine touches the
// map; everything else goes through the channels.
type Hub struct {
	sessions   map[*Session]bool
	register   chan *Session
	unregister chan *Session
	broadcast  chan *fanout
	done       chan struct{}

	relay   Relay
	metrics *metrics.Metrics
	log     zerolog.Logger
	count   atomic.Int64
}

type fanout struct {
	payload []byte
	sent    chan int // number of sessions the payload was queued on
}

func NewHub(relay Relay, m *metrics.Metrics, logger zerolog.Logger) *Hub {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Hub{
		sessions:   make(map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		broadcast:  make(chan *fanout),
		done:       make(chan struct{}),
		relay:      relay,
		metrics:    m,
		log:        logger.With().Str(log.FieldComponent, "hub").Logger(),
	}
}

// Run serves the channels until ctx ends, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for s := range h.sessions {
			h.drop(s)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case s := <-h.register:
			h.sessions[s] = true
			h.setCount()
			h.log.Debug().Str(log.FieldSessionID, s.ID).Str(log.FieldUsername, s.Username).Msg("session registered")

		case s := <-h.unregister:
			if _, ok := h.sessions[s]; ok {
				h.drop(s)
				h.log.Debug().Str(log.FieldSessionID, s.ID).Msg("session unregistered")
			}

		case f := <-h.broadcast:
			n := 0
			for s := range h.sessions {
				if s.enqueue(f.payload) {
					n++
					continue
				}
				// Queue full: the peer is not reading. Cut it loose rather
				// than stall everybody else.
				h.drop(s)
				h.metrics.SlowSessionsKicked.Inc()
				h.log.Warn().Str(log.FieldSessionID, s.ID).Msg("dropping slow session")
			}
			f.sent <- n
		}
	}
}

func (h *Hub) drop(s *Session) {
	delete(h.sessions, s)
	s.closeSend()
	h.setCount()
}

func (h *Hub) setCount() {
	h.count.Store(int64(len(h.sessions)))
	h.metrics.SessionsActive.Set(float64(len(h.sessions)))
}

// Register adds s to the live set.
func (h *Hub) Register(s *Session) error {
	select {
	case h.register <- s:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Unregister removes s; unknown sessions are ignored.
func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Broadcast queues payload on every open session of this instance, then
// hands it to the relay for the other instances. When Broadcast returns the
// payload is ahead of anything the caller queues on a session afterwards.
func (h *Hub) Broadcast(ctx context.Context, payload []byte) (int, error) {
	n, err := h.Deliver(ctx, payload)
	if err != nil {
		return n, err
	}
	if h.relay != nil {
		if err := h.relay.Publish(ctx, payload); err != nil {
			h.log.Error().Err(err).Msg("relay publish failed")
		}
	}
	return n, nil
}

// BroadcastFrame marshals v and broadcasts it.
func (h *Hub) BroadcastFrame(ctx context.Context, v interface{}) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return h.Broadcast(ctx, data)
}

// Deliver fans payload out to local sessions only. The relay subscriber
// uses it for frames published by other instances.
func (h *Hub) Deliver(ctx context.Context, payload []byte) (int, error) {
	f := &fanout{payload: payload, sent: make(chan int, 1)}
	select {
	case h.broadcast <- f:
	case <-h.done:
		return 0, ErrHubStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return <-f.sent, nil
}

// Count reports the number of open sessions.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// Subscribe pipes frames from other instances into the local fan-out until
// ctx ends. Without a relay it just waits.
func (h *Hub) Subscribe(ctx context.Context) error {
	if h.relay == nil {
		<-ctx.Done()
		return nil
	}
	return h.relay.Subscribe(ctx, func(payload []byte) {
		if _, err := h.Deliver(ctx, payload); err != nil && !errors.Is(err, context.Canceled) {
			h.log.Warn().Err(err).Msg("relay delivery failed")
		}
	})
}
