package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"go-anonchat/internal/config"
	"go-anonchat/internal/identity"
	"go-anonchat/internal/moderation"
)

type moderatorFunc func(ctx context.Context, message string) (*moderation.Result, error)

func (f moderatorFunc) Check(ctx context.Context, message string) (*moderation.Result, error) {
	return f(ctx, message)
}

// flagsBadword marks anything containing "badword" as profane.
var flagsBadword = moderatorFunc(func(ctx context.Context, message string) (*moderation.Result, error) {
	return &moderation.Result{IsProfanity: strings.Contains(message, "badword")}, nil
})

var testWSConfig = config.WebSocketConfig{
	PingInterval:   54 * time.Second,
	PongWait:       60 * time.Second,
	WriteWait:      10 * time.Second,
	MaxMessageSize: 4096,
	SendBuffer:     64,
}

type chatServer struct {
	url   string
	store *MemoryStore
	hub   *Hub
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	hub, m := startHub(t, nil)
	store := NewMemoryStore()
	svc := NewService(store, flagsBadword, hub, ServiceConfig{}, m)
	h := NewHandler(hub, svc, store, identity.NewResolver(nil), testWSConfig, 0)

	r := chi.NewRouter()
	r.Get("/chat", h.ServeWs)
	r.Get("/chat/getMessages", h.GetMessages)
	r.Post("/chat/sendMessage", h.SendMessage)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &chatServer{url: srv.URL, store: store, hub: hub}
}

func (cs *chatServer) dial(t *testing.T, ip, ua string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("X-Forwarded-For", ip)
	header.Set("User-Agent", ua)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(cs.url, "http")+"/chat", header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, c *websocket.Conn) map[string]string {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f map[string]string
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("frame %s is not a flat JSON object: %v", data, err)
	}
	return f
}

func sendFrame(t *testing.T, c *websocket.Conn, raw string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func expectFrame(t *testing.T, c *websocket.Conn, want map[string]string) {
	t.Helper()
	got := readFrame(t, c)
	if len(got) != len(want) {
		t.Fatalf("frame = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("frame = %v, want %v", got, want)
		}
	}
}

func TestServeWs_UsernameFrameFirst(t *testing.T) {
	cs := newChatServer(t)
	conn := cs.dial(t, "203.0.113.7", "test-agent")

	expectFrame(t, conn, map[string]string{
		"type":     "username",
		"username": identity.DeriveUsername("203.0.113.7", "test-agent"),
	})
}

func TestServeWs_MessageFlow(t *testing.T) {
	cs := newChatServer(t)
	alice := cs.dial(t, "10.0.0.1", "ua-a")
	bob := cs.dial(t, "10.0.0.2", "ua-b")

	aliceName := readFrame(t, alice)["username"]
	bobName := readFrame(t, bob)["username"]
	if aliceName == bobName {
		t.Fatalf("distinct clients got the same name %q", aliceName)
	}

	sendFrame(t, alice, `{"type":"message","message":"hello"}`)

	hello := map[string]string{"type": "message", "message": "hello", "username": aliceName}
	expectFrame(t, alice, hello)
	expectFrame(t, alice, map[string]string{"type": "messageSent"})
	expectFrame(t, bob, hello)

	msgs, _ := cs.store.ListRecent(context.Background(), 1, 10)
	if len(msgs) != 1 || msgs[0].Content != "hello" || msgs[0].Author != aliceName {
		t.Fatalf("history = %+v", msgs)
	}
}

func TestServeWs_ProfaneMessageOnlyReachesSender(t *testing.T) {
	cs := newChatServer(t)
	alice := cs.dial(t, "10.0.0.1", "ua-a")
	bob := cs.dial(t, "10.0.0.2", "ua-b")
	aliceName := readFrame(t, alice)["username"]
	readFrame(t, bob)

	sendFrame(t, alice, `{"type":"message","message":"you badword"}`)
	expectFrame(t, alice, map[string]string{"type": "error", "message": "Message contains bad words"})

	// Bob's next frame must be the clean message, not the rejected one.
	sendFrame(t, alice, `{"type":"message","message":"sorry"}`)
	expectFrame(t, bob, map[string]string{"type": "message", "message": "sorry", "username": aliceName})

	msgs, _ := cs.store.ListRecent(context.Background(), 1, 10)
	if len(msgs) != 1 || msgs[0].Content != "sorry" {
		t.Fatalf("history = %+v", msgs)
	}
}

func TestServeWs_IgnoresUnknownFrames(t *testing.T) {
	cs := newChatServer(t)
	alice := cs.dial(t, "10.0.0.1", "ua-a")
	aliceName := readFrame(t, alice)["username"]

	sendFrame(t, alice, `not json`)
	sendFrame(t, alice, `{"type":"typing"}`)
	sendFrame(t, alice, `{"type":"message","message":"still here"}`)

	expectFrame(t, alice, map[string]string{"type": "message", "message": "still here", "username": aliceName})
	expectFrame(t, alice, map[string]string{"type": "messageSent"})
}

func TestServeWs_EmptyMessage(t *testing.T) {
	cs := newChatServer(t)
	alice := cs.dial(t, "10.0.0.1", "ua-a")
	readFrame(t, alice)

	sendFrame(t, alice, `{"type":"message","message":"   "}`)
	expectFrame(t, alice, map[string]string{"type": "error", "message": "Message is empty"})
}

func TestServeWs_DisconnectUnregisters(t *testing.T) {
	cs := newChatServer(t)
	alice := cs.dial(t, "10.0.0.1", "ua-a")
	readFrame(t, alice)
	if cs.hub.Count() != 1 {
		t.Fatalf("Count = %d, want 1", cs.hub.Count())
	}

	alice.Close()
	deadline := time.Now().Add(5 * time.Second)
	for cs.hub.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session still registered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGetMessages(t *testing.T) {
	cs := newChatServer(t)
	ctx := context.Background()
	for _, c := range []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8", "m9", "m10", "m11", "m12"} {
		cs.store.Append(ctx, c, "a1b2c3d4")
	}

	get := func(query string) []map[string]interface{} {
		t.Helper()
		resp, err := http.Get(cs.url + "/chat/getMessages" + query)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("content type = %q", ct)
		}
		var out []map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out
	}

	first := get("?page=1")
	if len(first) != 10 || first[0]["content"] != "m12" || first[9]["content"] != "m3" {
		t.Fatalf("page 1 = %v", first)
	}
	for _, key := range []string{"content", "author", "createdAt"} {
		if _, ok := first[0][key]; !ok {
			t.Fatalf("message missing %q: %v", key, first[0])
		}
	}
	if len(first[0]) != 3 {
		t.Fatalf("unexpected fields: %v", first[0])
	}

	second := get("?page=2")
	if len(second) != 2 || second[1]["content"] != "m1" {
		t.Fatalf("page 2 = %v", second)
	}

	for _, q := range []string{"", "?page=0", "?page=-3", "?page=abc"} {
		got := get(q)
		if len(got) != 10 || got[0]["content"] != "m12" {
			t.Fatalf("%q should serve page 1, got %v", q, got)
		}
	}

	if past := get("?page=9"); len(past) != 0 {
		t.Fatalf("page past the end = %v", past)
	}
	if huge := get("?page=9223372036854775807"); huge == nil || len(huge) != 0 {
		t.Fatalf("huge page = %v, want []", huge)
	}
}

func TestSendMessage(t *testing.T) {
	cs := newChatServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		errMsg string
	}{
		{"accepted", `{"message":"hi there"}`, http.StatusCreated, ""},
		{"empty", `{"message":""}`, http.StatusBadRequest, "Message is empty"},
		{"too long", `{"message":"` + strings.Repeat("x", 301) + `"}`, http.StatusBadRequest, "Message is too long"},
		{"profane", `{"message":"badword"}`, http.StatusUnprocessableEntity, "Message contains bad words"},
		{"bad json", `{"message":`, http.StatusBadRequest, "Invalid request body"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(cs.url+"/chat/sendMessage", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			var body map[string]interface{}
			json.NewDecoder(resp.Body).Decode(&body)
			if tc.errMsg != "" && body["error"] != tc.errMsg {
				t.Fatalf("error = %v, want %q", body["error"], tc.errMsg)
			}
			if tc.errMsg == "" && body["content"] != "hi there" {
				t.Fatalf("body = %v", body)
			}
		})
	}

	msgs, _ := cs.store.ListRecent(context.Background(), 1, 10)
	if len(msgs) != 1 {
		t.Fatalf("only the accepted message should be stored, got %+v", msgs)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://chat.example.com/"})

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	if !check(req) {
		t.Fatalf("request without Origin should pass")
	}
	req.Header.Set("Origin", "https://CHAT.example.com")
	if !check(req) {
		t.Fatalf("configured origin rejected")
	}
	req.Header.Set("Origin", "https://evil.example.net")
	if check(req) {
		t.Fatalf("foreign origin accepted")
	}

	if !originChecker(nil)(req) {
		t.Fatalf("empty allow list should accept everything")
	}
}

func TestHandleFrame_NoErrorFrameForClosingSession(t *testing.T) {
	hub, m := startHub(t, nil)
	store := NewMemoryStore()
	waitForCtx := moderatorFunc(func(ctx context.Context, message string) (*moderation.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	svc := NewService(store, waitForCtx, hub, ServiceConfig{}, m)
	h := NewHandler(hub, svc, store, identity.NewResolver(nil), testWSConfig, 0)

	s := detachedSession(hub, "closing", 4)
	s.cancel()
	h.handleFrame(s, []byte(`{"type":"message","message":"hello"}`))

	if got := drain(s); len(got) != 0 {
		t.Fatalf("closing session was sent %q", got)
	}
	msgs, _ := store.ListRecent(context.Background(), 1, 10)
	if len(msgs) != 0 {
		t.Fatalf("message stored for a closed session: %+v", msgs)
	}
}
