package ratelimit

import (
	"context"
	"sync"
	"time"
)

const DefaultWindow = 2 * time.Second

// Memory is an in-process limiter. State is lost on restart and is not
// shared between instances; use Redis for that.
type Memory struct {
	mu            sync.Mutex
	blocked       map[string]time.Time // key -> expiry
	window        time.Duration
	sweepInterval time.Duration
	nextSweep     time.Time
	now           func() time.Time
}

type Option func(*Memory)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// WithSweepInterval bounds how often Admit scans for expired entries.
// Zero sweeps on every call.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Memory) { m.sweepInterval = d }
}

func NewMemory(window time.Duration, opts ...Option) *Memory {
	if window <= 0 {
		window = DefaultWindow
	}
	m := &Memory{
		blocked:       make(map[string]time.Time),
		window:        window,
		sweepInterval: window,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Admit denies a key whose expiry lies strictly in the future and leaves
// that entry untouched. Otherwise it admits and sets expiry to now+window.
func (m *Memory) Admit(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !now.Before(m.nextSweep) {
		m.sweepLocked(now)
		m.nextSweep = now.Add(m.sweepInterval)
	}

	if expiry, ok := m.blocked[key]; ok && expiry.After(now) {
		return false, nil
	}
	m.blocked[key] = now.Add(m.window)
	return true, nil
}

// Sweep drops expired entries and reports how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(m.now())
}

func (m *Memory) sweepLocked(now time.Time) int {
	n := 0
	for key, expiry := range m.blocked {
		if !expiry.After(now) {
			delete(m.blocked, key)
			n++
		}
	}
	return n
}

// Len reports the number of tracked keys, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blocked)
}
