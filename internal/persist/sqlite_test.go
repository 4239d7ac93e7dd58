package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "inkwell-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := Open(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to open store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

func TestLoadNotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.Load(context.Background(), "ws1", "main.grg")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	if err := store.Save(ctx, "ws1", "main.grg", "hello"); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	content, err := store.Load(ctx, "ws1", "main.grg")
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if content != "hello" {
		t.Errorf("Expected 'hello', got %q", content)
	}

	// Saving again overwrites.
	if err := store.Save(ctx, "ws1", "main.grg", "hello world"); err != nil {
		t.Fatalf("Failed to re-save: %v", err)
	}
	content, err = store.Load(ctx, "ws1", "main.grg")
	if err != nil {
		t.Fatalf("Failed to reload: %v", err)
	}
	if content != "hello world" {
		t.Errorf("Expected 'hello world', got %q", content)
	}
}

func TestWorkspaceScoping(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	store.Save(ctx, "ws1", "a.txt", "one")
	store.Save(ctx, "ws2", "a.txt", "two")

	content, err := store.Load(ctx, "ws2", "a.txt")
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if content != "two" {
		t.Errorf("Workspaces must not share files, got %q", content)
	}
}

func TestListFiles(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	store.Save(ctx, "ws1", "a.txt", "aaa")
	store.Save(ctx, "ws1", "b.txt", "bb")
	store.Save(ctx, "ws2", "c.txt", "c")

	files, err := store.ListFiles(ctx, "ws1")
	if err != nil {
		t.Fatalf("Failed to list files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(files))
	}
	for _, f := range files {
		if f.Path != "a.txt" && f.Path != "b.txt" {
			t.Errorf("Unexpected file %q", f.Path)
		}
	}
}

func TestSaveHistory(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	store.Save(ctx, "ws1", "a.txt", "v1")
	store.Save(ctx, "ws1", "a.txt", "v2 longer")

	records, err := store.History(ctx, "ws1", "a.txt", 10)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 history records, got %d", len(records))
	}
	if records[0].Size != len("v2 longer") {
		t.Errorf("Expected newest record first, got size %d", records[0].Size)
	}
	if records[0].ContentHash == records[1].ContentHash {
		t.Error("Different content should hash differently")
	}
}

func TestStats(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	store.Save(ctx, "ws1", "a.txt", "x")
	store.Save(ctx, "ws2", "b.txt", "y")

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats["file_count"] != 2 {
		t.Errorf("Expected 2 files, got %v", stats["file_count"])
	}
	if stats["workspace_count"] != 2 {
		t.Errorf("Expected 2 workspaces, got %v", stats["workspace_count"])
	}
}

func TestMemoryAdapter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Load(ctx, "ws1", "a.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	m.Save(ctx, "ws1", "a.txt", "content")
	content, err := m.Load(ctx, "ws1", "a.txt")
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if content != "content" {
		t.Errorf("Expected 'content', got %q", content)
	}
}
