package myMiddleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"go-anonchat/internal/log"
	"go-anonchat/internal/ratelimit"
)

// AddressResolver is what we need from the identity package.
// Keeping it an interface leaves 'middleware' independent of 'identity'.
type AddressResolver interface {
	Address(r *http.Request) string
}

type RateLimitMiddleware struct {
	limiter  ratelimit.Limiter
	resolver AddressResolver
	prefix   string
	denied   prometheus.Counter
}

// NewRateLimitMiddleware gates every path starting with prefix. denied may be nil.
func NewRateLimitMiddleware(l ratelimit.Limiter, r AddressResolver, prefix string, denied prometheus.Counter) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: l, resolver: r, prefix: prefix, denied: denied}
}

// Handle runs before routing into the chat handlers, so a denied websocket
// upgrade is refused before any handshake happens.
func (rl *RateLimitMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, rl.prefix) {
			next.ServeHTTP(w, r)
			return
		}

		addr := rl.resolver.Address(r)
		ok, err := rl.limiter.Admit(r.Context(), addr)
		if err != nil {
			l := log.Ctx(r.Context())
			l.Warn().Err(err).Str(log.FieldClientIP, addr).Msg("rate limiter error")
		}
		if !ok {
			if rl.denied != nil {
				rl.denied.Inc()
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "Rate limited"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
