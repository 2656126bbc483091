package chat

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	"go-anonchat/internal/db"
)

// DefaultPageSize is the number of messages per history page.
const DefaultPageSize = 10

// Store persists accepted messages and pages through them newest first.
type Store interface {
	Append(ctx context.Context, content, author string) (*Message, error)
	ListRecent(ctx context.Context, page, pageSize int) ([]Message, error)
}

type queries struct {
	insert string
	recent string
}

var dialectQueries = map[db.Dialect]queries{
	db.Postgres: {
		insert: "INSERT INTO messages (content, author, created_at) VALUES ($1, $2, $3) RETURNING id",
		recent: "SELECT id, content, author, created_at FROM messages ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2",
	},
	db.SQLite: {
		insert: "INSERT INTO messages (content, author, created_at) VALUES (?, ?, ?) RETURNING id",
		recent: "SELECT id, content, author, created_at FROM messages ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
	},
}

type Repository struct {
	db *sql.DB
	q  queries

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewRepository(database *db.Database) *Repository {
	return &Repository{
		db:  database.Conn,
		q:   dialectQueries[database.Dialect],
		now: time.Now,
	}
}

// Append stores a message with a server-assigned timestamp.
func (r *Repository) Append(ctx context.Context, content, author string) (*Message, error) {
	msg := &Message{Content: content, Author: author, CreatedAt: r.timestamp()}
	if err := r.db.QueryRowContext(ctx, r.q.insert, content, author, msg.CreatedAt).Scan(&msg.ID); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// ListRecent returns page (1-based, clamped) of the history, newest first.
// A short page means the end of history.
func (r *Repository) ListRecent(ctx context.Context, page, pageSize int) ([]Message, error) {
	limit, offset := pageBounds(page, pageSize)

	rows, err := r.db.QueryContext(ctx, r.q.recent, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Content, &m.Author, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// timestamp hands out strictly increasing UTC times at microsecond
// precision, the resolution Postgres keeps.
func (r *Repository) timestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.now().UTC().Truncate(time.Microsecond)
	if !t.After(r.last) {
		t = r.last.Add(time.Microsecond)
	}
	r.last = t
	return t
}

func pageBounds(page, pageSize int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if page-1 > math.MaxInt/pageSize {
		// Past any history a store can hold.
		return pageSize, math.MaxInt
	}
	return pageSize, (page - 1) * pageSize
}
