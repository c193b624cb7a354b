package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"qms/patient-queue/internal/store"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS queue_snapshots (
	key        TEXT PRIMARY KEY,
	value      TEXT,
	version    INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Store keeps snapshots in one sqlite table. A single open connection makes
// the process one writer; immediate transactions take the database write lock
// before reading so other processes cannot interleave a mutation.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite dsn is required")
	}
	db, err := sql.Open("sqlite", withDefaults(dsn))
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", store.ErrStorageUnavailable, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", store.ErrStorageUnavailable, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM queue_snapshots WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("read", key, err)
	}
	if !value.Valid {
		return nil, nil
	}
	return []byte(value.String), nil
}

func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_snapshots (key, value, version, updated_at)
		VALUES (?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE
		SET value = excluded.value, version = queue_snapshots.version + 1, updated_at = CURRENT_TIMESTAMP
	`, key, string(value))
	if err != nil {
		return unavailable("write", key, err)
	}
	return nil
}

func (s *Store) Mutate(ctx context.Context, key string, fn store.MutateFunc) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin", key, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT value FROM queue_snapshots WHERE key = ?`, key).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return unavailable("read", key, err)
	}
	var raw []byte
	if current.Valid {
		raw = []byte(current.String)
	}

	next, err := fn(raw)
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO queue_snapshots (key, value, version, updated_at)
		VALUES (?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE
		SET value = excluded.value, version = queue_snapshots.version + 1, updated_at = CURRENT_TIMESTAMP
	`, key, string(next)); err != nil {
		return unavailable("mutate", key, err)
	}
	if err = tx.Commit(); err != nil {
		return unavailable("commit", key, err)
	}
	return nil
}

func (s *Store) Version(ctx context.Context, key string) (string, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM queue_snapshots WHERE key = ?`, key).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "0", nil
	}
	if err != nil {
		return "", unavailable("version", key, err)
	}
	return strconv.FormatInt(version, 10), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func withDefaults(dsn string) string {
	params := []string{}
	if !strings.Contains(dsn, "_txlock=") {
		params = append(params, "_txlock=immediate")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, "_pragma=busy_timeout(5000)")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", store.ErrStorageUnavailable, op, key, err)
}
