package state

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("STORE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STORE_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, PostgresConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewPostgresStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresStore(context.Background(), PostgresConfig{}); err == nil {
		t.Fatal("NewPostgresStore() error = nil")
	}
}

func TestPostgresStoreSaveLoadDelete(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()
	id := "test-" + uuid.NewString()
	rec := populatedRecord(t, id)

	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rec.History = rec.History[:1]
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() upsert error = %v", err)
	}

	got, err := store.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.History) != 1 || got.Memory.Seq != rec.Memory.Seq {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(ctx, id); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() after delete error = %v, want ErrStateNotFound", err)
	}
}
