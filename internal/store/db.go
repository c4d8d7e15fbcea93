// Package store persists workspace state between runs: open documents,
// expanded folders and recent searches, keyed by server URL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Pragmas go in the DSN so every pooled connection gets them.
var pragmas = []string{"foreign_keys(1)", "busy_timeout(5000)", "journal_mode(WAL)"}

type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the state database at path and brings its schema
// up to date.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("state store path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	conn, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open state store %q: %w", path, err)
	}
	// sqlite has a single writer.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: path}
	if err := db.init(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) init(ctx context.Context) error {
	if err := d.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("state store %q unreachable: %w", d.path, err)
	}
	return RunMigrations(ctx, d.conn)
}

func (d *DB) SQL() *sql.DB {
	return d.conn
}

func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
