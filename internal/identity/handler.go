package identity

import (
	"encoding/json"
	"net/http"
)

type Handler struct {
	Resolver *Resolver
}

func NewHandler(r *Resolver) *Handler {
	return &Handler{Resolver: r}
}

// WhoAmI answers with the same username the websocket path would assign.
func (h *Handler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(WhoAmIResponse{Username: h.Resolver.Username(r)})
}
