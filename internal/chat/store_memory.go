package chat

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps history in process. It is for development and tests;
// everything is lost on restart.
type MemoryStore struct {
	mu       sync.Mutex
	messages []Message // append order == created_at order
	seq      int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Append(ctx context.Context, content, author string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC()
	if n := len(s.messages); n > 0 && !ts.After(s.messages[n-1].CreatedAt) {
		ts = s.messages[n-1].CreatedAt.Add(time.Nanosecond)
	}
	s.seq++
	msg := Message{ID: s.seq, Content: content, Author: author, CreatedAt: ts}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, page, pageSize int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit, offset := pageBounds(page, pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, 0, limit)
	for i := len(s.messages) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.messages[i])
	}
	return out, nil
}
