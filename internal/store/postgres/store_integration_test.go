package postgres

import (
	"context"
	"os"
	"strings"
	"testing"

	"qms/patient-queue/internal/store"
	"qms/patient-queue/internal/store/storetest"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		return setupTestStore(t, context.Background())
	})
}

func TestMutateOnMissingKeyLeavesNoValue(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t, ctx)

	err := st.Mutate(ctx, "fresh", func(current []byte) ([]byte, error) {
		return nil, store.ErrValidation
	})
	if err != store.ErrValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	value, err := st.Read(ctx, "fresh")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if value != nil {
		t.Fatalf("expected no value, got %q", value)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) *Store {
	t.Helper()
	dsn := os.Getenv("QUEUE_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("QUEUE_TEST_DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	st := NewStore(pool, nil)
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	})
	return st
}

func execOnce(ctx context.Context, dsn, sql string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, sql)
	return err
}
