package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names the SQL flavour behind a Database.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

type Database struct {
	Conn    *sql.DB
	Dialect Dialect
}

// NewDatabase opens and pings a pool. driver is "postgres" or "sqlite".
func NewDatabase(driver, dsn string) (*Database, error) {
	var (
		d          Dialect
		driverName string
	)
	switch driver {
	case "postgres":
		d, driverName = Postgres, "pgx"
	case "sqlite":
		d, driverName = SQLite, "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	if d == SQLite {
		// One writer; also keeps a ":memory:" database on a single connection.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(25)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}
	return &Database{Conn: conn, Dialect: d}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

func (d *Database) AutoMigrate() error {
	var queries []string
	switch d.Dialect {
	case Postgres:
		queries = []string{
			`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            content TEXT NOT NULL,
            author VARCHAR(64) NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
			`CREATE INDEX IF NOT EXISTS messages_created_at_idx ON messages (created_at DESC, id DESC)`,
		}
	case SQLite:
		queries = []string{
			`CREATE TABLE IF NOT EXISTS messages (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            content TEXT NOT NULL,
            author VARCHAR(64) NOT NULL,
            created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,
			`CREATE INDEX IF NOT EXISTS messages_created_at_idx ON messages (created_at DESC, id DESC)`,
		}
	}

	for _, query := range queries {
		_, err := d.Conn.Exec(query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
