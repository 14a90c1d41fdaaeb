package kv

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// SQLiteStore keeps values in a single SQLite table. Change notification is
// in-process only.
type SQLiteStore struct {
	db  *sql.DB
	hub *hub
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db, hub: newHub()}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.wrap("reading", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("writing", key, err)
	}
	defer tx.Rollback()

	var old []byte
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&old)
	existed := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return s.wrap("writing", key, err)
	}

	if value == nil {
		value = []byte{}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return s.wrap("writing", key, err)
	}
	if err := tx.Commit(); err != nil {
		return s.wrap("writing", key, err)
	}

	if existed && bytes.Equal(old, value) {
		return nil
	}
	s.hub.publish(Change{Key: key, OldValue: old, NewValue: cloneBytes(value)})
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("removing", key, err)
	}
	defer tx.Rollback()

	var old []byte
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&old)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return s.wrap("removing", key, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return s.wrap("removing", key, err)
	}
	if err := tx.Commit(); err != nil {
		return s.wrap("removing", key, err)
	}

	s.hub.publish(Change{Key: key, OldValue: old})
	return nil
}

func (s *SQLiteStore) Watch(ctx context.Context) (<-chan Change, error) {
	return s.hub.subscribe(ctx)
}

func (s *SQLiteStore) Close() error {
	s.hub.close()
	return s.db.Close()
}

func (s *SQLiteStore) wrap(op, key string, err error) error {
	if errors.Is(err, sql.ErrConnDone) {
		return ErrClosed
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
