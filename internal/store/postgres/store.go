package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"

	"qms/patient-queue/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const notifyChannel = "queue_changed"

//go:embed schema.sql
var schemaSQL string

type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// EnsureSchema creates the snapshot table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", store.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM queue_snapshots WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("read", key, err)
	}
	return value, nil
}

func (s *Store) Write(ctx context.Context, key string, value []byte) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return unavailable("begin", key, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO queue_snapshots (key, value, version, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, version = queue_snapshots.version + 1, updated_at = now()
	`, key, string(value)); err != nil {
		return unavailable("write", key, err)
	}
	if err = notify(ctx, tx, key); err != nil {
		return unavailable("notify", key, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return unavailable("commit", key, err)
	}
	return nil
}

// Mutate locks the key row with SELECT ... FOR UPDATE for the whole
// read-modify-write. The row is inserted first so that concurrent writers on a
// missing key still serialize on it.
func (s *Store) Mutate(ctx context.Context, key string, fn store.MutateFunc) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return unavailable("begin", key, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO queue_snapshots (key, value, version) VALUES ($1, NULL, 0)
		ON CONFLICT (key) DO NOTHING
	`, key); err != nil {
		return unavailable("mutate", key, err)
	}

	var current []byte
	if err = tx.QueryRow(ctx, `SELECT value FROM queue_snapshots WHERE key = $1 FOR UPDATE`, key).Scan(&current); err != nil {
		return unavailable("lock", key, err)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE queue_snapshots
		SET value = $2, version = version + 1, updated_at = now()
		WHERE key = $1
	`, key, string(next)); err != nil {
		return unavailable("mutate", key, err)
	}
	if err = notify(ctx, tx, key); err != nil {
		return unavailable("notify", key, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return unavailable("commit", key, err)
	}
	return nil
}

func (s *Store) Version(ctx context.Context, key string) (string, error) {
	var version int64
	err := s.pool.QueryRow(ctx, `SELECT version FROM queue_snapshots WHERE key = $1`, key).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return "0", nil
	}
	if err != nil {
		return "", unavailable("version", key, err)
	}
	return strconv.FormatInt(version, 10), nil
}

// Watch holds one pooled connection in LISTEN until ctx is done.
func (s *Store) Watch(ctx context.Context, key string) (<-chan struct{}, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, unavailable("listen", key, err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, unavailable("listen", key, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer func() {
			_, _ = conn.Exec(context.Background(), "UNLISTEN *")
			conn.Release()
		}()
		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("postgres listen stopped", zap.String("key", key), zap.Error(err))
				}
				return
			}
			if notification.Payload != key {
				continue
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func notify(ctx context.Context, tx pgx.Tx, key string) error {
	_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, key)
	return err
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", store.ErrStorageUnavailable, op, key, err)
}
