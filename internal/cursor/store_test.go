package cursor

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cursors.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestStoreRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)

	if _, err := store.Get("source"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a fresh store, got %v", err)
	}

	if err := store.Set("source", 42); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	id, err := store.Get("source")
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected cursor 42, got %d", id)
	}

	if err := store.Set("source", 43); err != nil {
		t.Fatalf("overwrite cursor: %v", err)
	}
	if id, _ := store.Get("source"); id != 43 {
		t.Fatalf("expected overwritten cursor 43, got %d", id)
	}
}

func TestStoreDelete(t *testing.T) {
	store, _ := openTestStore(t)

	if err := store.Set("source", 7); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if err := store.Delete("source"); err != nil {
		t.Fatalf("delete cursor: %v", err)
	}
	if _, err := store.Get("source"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete("absent"); err != nil {
		t.Fatalf("expected deleting a missing cursor to succeed, got %v", err)
	}
}

func TestStoreAll(t *testing.T) {
	store, _ := openTestStore(t)

	if err := store.Set("source", 10); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if err := store.Set("docs", 20); err != nil {
		t.Fatalf("set cursor: %v", err)
	}

	cursors, err := store.All()
	if err != nil {
		t.Fatalf("read all cursors: %v", err)
	}
	if len(cursors) != 2 || cursors["source"] != 10 || cursors["docs"] != 20 {
		t.Fatalf("unexpected cursor map: %v", cursors)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Set("source", 99); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	id, err := reopened.Get("source")
	if err != nil {
		t.Fatalf("get cursor after reopen: %v", err)
	}
	if id != 99 {
		t.Fatalf("expected persisted cursor 99, got %d", id)
	}
}

func TestStoreNilIsSafe(t *testing.T) {
	var store *Store

	if _, err := store.Get("source"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from a nil store, got %v", err)
	}
	if err := store.Set("source", 1); err != nil {
		t.Fatalf("expected nil store Set to succeed, got %v", err)
	}
	if err := store.Delete("source"); err != nil {
		t.Fatalf("expected nil store Delete to succeed, got %v", err)
	}
	cursors, err := store.All()
	if err != nil || len(cursors) != 0 {
		t.Fatalf("expected empty map from nil store, got %v (%v)", cursors, err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("expected nil store Close to succeed, got %v", err)
	}
}

func TestStoreOpenFailsOnBadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "cursors.db")
	if _, err := Open(path); err == nil {
		t.Fatalf("expected Open to fail when the parent directory is missing")
	}
}
