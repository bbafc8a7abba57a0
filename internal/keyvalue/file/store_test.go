package file

import (
	"context"
	"errors"
	"testing"

	"abtest-engine/internal/keyvalue"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func TestStore_SetAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "abtest-registry", []byte(`{"experiments":[]}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "abtest-registry")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"experiments":[]}` {
		t.Errorf("Get = %s, want stored document", got)
	}
}

func TestStore_SetReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "slot", []byte("one"))
	store.Set(ctx, "slot", []byte("two"))

	got, err := store.Get(ctx, "slot")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "two" {
		t.Errorf("Get = %s, want two", got)
	}
}

func TestStore_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, keyvalue.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "slot", []byte("value"))
	if err := store.Delete(ctx, "slot"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "slot"); err != nil {
		t.Errorf("Delete of missing key failed: %v", err)
	}

	_, err := store.Get(ctx, "slot")
	if !errors.Is(err, keyvalue.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_RejectsUnsafeKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "../escape", "a/b", "a b"} {
		if err := store.Set(ctx, key, []byte("x")); !errors.Is(err, keyvalue.ErrInvalidInput) {
			t.Errorf("key %q: expected ErrInvalidInput, got %v", key, err)
		}
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.Set(ctx, "slot", []byte("persisted")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, err := reopened.Get(ctx, "slot")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got) != "persisted" {
		t.Errorf("Get = %s, want persisted", got)
	}
}
