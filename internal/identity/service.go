package identity

import (
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Unknown stands in for an address or user-agent the request does not carry.
const Unknown = "unknown"

// UsernameLength is the number of hex characters kept from the digest.
const UsernameLength = 8

// DefaultAddressHeaders lists the proxy headers trusted for the client
// address, CDN header first.
var DefaultAddressHeaders = []string{"CF-Connecting-IP", "X-Real-IP", "X-Forwarded-For"}

// DeriveUsername maps a client address and user-agent to a short anonymous
// name. It is deterministic and not an authentication mechanism: collisions
// are possible and anyone sharing address and browser shares the name.
func DeriveUsername(address, userAgent string) string {
	if userAgent == "" {
		userAgent = Unknown
	}
	if address == "" {
		address = Unknown
	}
	sum := blake2b128(address + "-" + userAgent)
	return hex.EncodeToString(sum)[:UsernameLength]
}

func blake2b128(s string) []byte {
	// New only fails for a bad size or an oversized key.
	h, err := blake2b.New(16, nil)
	if err != nil {
		panic(err)
	}
	h.Write([]byte(s))
	return h.Sum(nil)
}

// ClientAddress resolves the client address from the first populated header
// in headers, then the peer address, then Unknown. For forwarded-for chains
// the left-most entry is the originating client.
func ClientAddress(r *http.Request, headers []string) string {
	for _, name := range headers {
		v := r.Header.Get(name)
		if v == "" {
			continue
		}
		if ip := strings.TrimSpace(strings.SplitN(v, ",", 2)[0]); ip != "" {
			return ip
		}
	}

	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		if host != "" {
			return host
		}
	}
	return Unknown
}

// Resolver derives identities from requests using a fixed trusted header list.
type Resolver struct {
	headers []string
}

func NewResolver(headers []string) *Resolver {
	if len(headers) == 0 {
		headers = DefaultAddressHeaders
	}
	return &Resolver{headers: headers}
}

// Address returns the client address for r.
func (s *Resolver) Address(r *http.Request) string {
	return ClientAddress(r, s.headers)
}

// Username returns the anonymous username for r.
func (s *Resolver) Username(r *http.Request) string {
	return DeriveUsername(s.Address(r), r.UserAgent())
}
