package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"go-anonchat/internal/config"
	"go-anonchat/internal/metrics"
)

func startHub(t *testing.T, relay Relay) (*Hub, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(nil)
	h := NewHub(relay, m, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h, m
}

// detachedSession is a session with a queue but no socket.
func detachedSession(h *Hub, name string, buffer int) *Session {
	return newSession(context.Background(), "id-"+name, name, h, nil, config.WebSocketConfig{SendBuffer: buffer}, zerolog.Nop())
}

func drain(s *Session) [][]byte {
	var out [][]byte
	for {
		select {
		case b, ok := <-s.send:
			if !ok {
				return out
			}
			out = append(out, b)
		default:
			return out
		}
	}
}

func TestHub_BroadcastReachesEverySessionOnce(t *testing.T) {
	for _, n := range []int{1, 2, 7} {
		t.Run(fmt.Sprintf("%d sessions", n), func(t *testing.T) {
			h, _ := startHub(t, nil)
			sessions := make([]*Session, n)
			for i := range sessions {
				sessions[i] = detachedSession(h, fmt.Sprintf("s%d", i), 8)
				if err := h.Register(sessions[i]); err != nil {
					t.Fatalf("Register: %v", err)
				}
			}

			got, err := h.Broadcast(context.Background(), []byte(`{"type":"message"}`))
			if err != nil {
				t.Fatalf("Broadcast: %v", err)
			}
			if got != n {
				t.Fatalf("delivered to %d sessions, want %d", got, n)
			}
			for i, s := range sessions {
				if frames := drain(s); len(frames) != 1 {
					t.Fatalf("session %d received %d frames, want 1", i, len(frames))
				}
			}
			if h.Count() != n {
				t.Fatalf("Count = %d, want %d", h.Count(), n)
			}
		})
	}
}

func TestHub_UnregisteredSessionGetsNothing(t *testing.T) {
	h, m := startHub(t, nil)
	a := detachedSession(h, "a", 4)
	b := detachedSession(h, "b", 4)
	h.Register(a)
	h.Register(b)
	h.Unregister(b)
	h.Unregister(b) // unknown by now, ignored

	n, err := h.Broadcast(context.Background(), []byte(`{}`))
	if err != nil || n != 1 {
		t.Fatalf("Broadcast = %d, %v", n, err)
	}
	if frames := drain(b); len(frames) != 0 {
		t.Fatalf("unregistered session received %d frames", len(frames))
	}
	if !b.closed {
		t.Fatalf("unregister should close the session queue")
	}
	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Fatalf("sessions gauge = %v", got)
	}
}

func TestHub_SlowSessionIsDropped(t *testing.T) {
	h, m := startHub(t, nil)
	slow := detachedSession(h, "slow", 1)
	fast := detachedSession(h, "fast", 8)
	h.Register(slow)
	h.Register(fast)

	h.Broadcast(context.Background(), []byte(`1`))
	n, _ := h.Broadcast(context.Background(), []byte(`2`))
	if n != 1 {
		t.Fatalf("second broadcast reached %d sessions, want only the fast one", n)
	}
	if got := testutil.ToFloat64(m.SlowSessionsKicked); got != 1 {
		t.Fatalf("slow sessions dropped = %v", got)
	}
	if slow.enqueue([]byte(`3`)) {
		t.Fatalf("dropped session still accepts frames")
	}
	if len(drain(fast)) != 2 {
		t.Fatalf("fast session should have both frames")
	}
}

func TestHub_StoppedHubRefusesWork(t *testing.T) {
	h := NewHub(nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	s := detachedSession(h, "a", 4)
	h.Register(s)
	cancel()
	<-done

	if !s.closed {
		t.Fatalf("stopping the hub should close open sessions")
	}
	if err := h.Register(detachedSession(h, "b", 1)); err != ErrHubStopped {
		t.Fatalf("Register after stop = %v", err)
	}
	if _, err := h.Broadcast(context.Background(), []byte(`x`)); err != ErrHubStopped {
		t.Fatalf("Broadcast after stop = %v", err)
	}
	h.Unregister(s) // must not block
}

type recordingRelay struct {
	published chan []byte
}

func (r *recordingRelay) Publish(ctx context.Context, payload []byte) error {
	r.published <- payload
	return nil
}

func (r *recordingRelay) Subscribe(ctx context.Context, deliver func([]byte)) error {
	deliver([]byte(`{"type":"message","message":"from elsewhere","username":"remote00"}`))
	<-ctx.Done()
	return nil
}

func TestHub_RelayPublishAndDeliver(t *testing.T) {
	relay := &recordingRelay{published: make(chan []byte, 1)}
	h, _ := startHub(t, relay)
	s := detachedSession(h, "a", 4)
	h.Register(s)

	if _, err := h.Broadcast(context.Background(), []byte(`local`)); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	select {
	case p := <-relay.published:
		if string(p) != "local" {
			t.Fatalf("published %q", p)
		}
	case <-time.After(time.Second):
		t.Fatalf("broadcast not handed to the relay")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go h.Subscribe(ctx)
	defer cancel()

	deadline := time.After(time.Second)
	for {
		frames := drain(s)
		for _, f := range frames {
			if string(f) == `{"type":"message","message":"from elsewhere","username":"remote00"}` {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("relay frame never reached the local session")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
