package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"go-anonchat/internal/config"
	"go-anonchat/internal/log"
)

// Identifier is what we need from the identity package.
type Identifier interface {
	Username(r *http.Request) string
}

type Handler struct {
	hub      *Hub
	service  *Service
	store    Store
	identity Identifier
	wsCfg    config.WebSocketConfig
	pageSize int
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, service *Service, store Store, identity Identifier, wsCfg config.WebSocketConfig, pageSize int) *Handler {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Handler{
		hub:      hub,
		service:  service,
		store:    store,
		identity: identity,
		wsCfg:    wsCfg,
		pageSize: pageSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(wsCfg.AllowedOrigins),
		},
	}
}

// originChecker allows every origin when none are configured.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

// ServeWs upgrades the request, announces the session's username to it
// alone, and then registers it for broadcasts.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	username := h.identity.Username(r)
	reqLog := log.Ctx(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		reqLog.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	sessLog := reqLog.With().Str(log.FieldSessionID, id).Str(log.FieldUsername, username).Logger()
	// The session outlives the request, but keeps its logger.
	ctx := log.WithLogger(context.WithoutCancel(r.Context()), sessLog)
	s := newSession(ctx, id, username, h.hub, conn, h.wsCfg, sessLog)

	s.Send(NewUsernameFrame(username))
	if err := h.hub.Register(s); err != nil {
		s.closeSend()
		conn.Close()
		return
	}
	sessLog.Info().Msg("websocket connected")

	go s.writePump()
	go s.readPump(h.handleFrame)
}

// handleFrame ignores anything that is not a well-formed "message" frame.
func (h *Handler) handleFrame(s *Session, data []byte) {
	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		s.log.Debug().Err(err).Msg("ignoring malformed frame")
		return
	}
	if f.Type != FrameMessage {
		s.log.Debug().Str("type", f.Type).Msg("ignoring frame")
		return
	}

	if _, err := h.service.Submit(s.ctx, s.Username, f.Message); err != nil {
		if errors.Is(err, context.Canceled) {
			// The session is closing; nobody is left to tell.
			return
		}
		s.Send(NewErrorFrame(userMessage(err)))
		return
	}
	s.Send(NewAckFrame())
}

// GetMessages serves one page of history, newest first.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	msgs, err := h.store.ListRecent(r.Context(), page, h.pageSize)
	if err != nil {
		l := log.Ctx(r.Context())
		l.Error().Err(err).Int("page", page).Msg("failed to load messages")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Could not load messages"})
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendMessage is the plain HTTP ingress; same pipeline as the websocket.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	msg, err := h.service.Submit(r.Context(), h.identity.Username(r), req.Message)
	if err != nil {
		writeJSON(w, httpStatus(err), errorResponse{Error: userMessage(err)})
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
