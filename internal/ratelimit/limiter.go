// Package ratelimit implements the per-address admission gate in front of
// the chat routes. An admitted address is blocked for one window; every
// admission restarts the window. There is no burst allowance.
package ratelimit

import "context"

// Limiter decides whether a request keyed by client address may proceed.
type Limiter interface {
	Admit(ctx context.Context, key string) (bool, error)
}
