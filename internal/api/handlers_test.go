package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"inkwell/internal/gateway"
	"inkwell/internal/persist"
	"inkwell/internal/registry"
	"inkwell/internal/room"
)

func setupTestAPI(t *testing.T) (*API, *persist.Store, *registry.Registry, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "inkwell-api-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := persist.Open(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to open store: %v", err)
	}

	reg := registry.New(store, time.Minute)
	gw := gateway.New(reg, store, time.Minute)
	api := New(gw, store)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return api, store, reg, cleanup
}

func doRequest(t *testing.T, api *API, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	api, _, _, cleanup := setupTestAPI(t)
	defer cleanup()

	w := doRequest(t, api, "GET", "/health")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %v", response["status"])
	}
}

func TestStatsHandler(t *testing.T) {
	api, store, _, cleanup := setupTestAPI(t)
	defer cleanup()

	store.Save(context.Background(), "ws1", "a.txt", "content")

	w := doRequest(t, api, "GET", "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["active_rooms"] != float64(0) {
		t.Errorf("Expected 0 active rooms, got %v", response["active_rooms"])
	}
	if response["file_count"] != float64(1) {
		t.Errorf("Expected 1 persisted file, got %v", response["file_count"])
	}
}

func TestListFilesHandler(t *testing.T) {
	api, store, _, cleanup := setupTestAPI(t)
	defer cleanup()

	ctx := context.Background()
	store.Save(ctx, "ws1", "a.txt", "aaa")
	store.Save(ctx, "ws1", "dir/b.txt", "bb")
	store.Save(ctx, "other", "c.txt", "c")

	w := doRequest(t, api, "GET", "/api/workspaces/ws1/files")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		WorkspaceID string             `json:"workspace_id"`
		Files       []persist.FileInfo `json:"files"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Files) != 2 {
		t.Errorf("Expected 2 files, got %d", len(response.Files))
	}
}

func TestFileContentHandler(t *testing.T) {
	api, store, _, cleanup := setupTestAPI(t)
	defer cleanup()

	store.Save(context.Background(), "ws1", "dir/a.txt", "persisted text")

	w := doRequest(t, api, "GET", "/api/workspaces/ws1/files/dir/a.txt")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response fileContentResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Content != "persisted text" {
		t.Errorf("Expected persisted content, got %q", response.Content)
	}
	if response.Live {
		t.Error("Inactive file should not be marked live")
	}
}

func TestFileContentNotFound(t *testing.T) {
	api, _, _, cleanup := setupTestAPI(t)
	defer cleanup()

	w := doRequest(t, api, "GET", "/api/workspaces/ws1/files/missing.txt")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestFileContentPrefersLiveRoom(t *testing.T) {
	api, store, reg, cleanup := setupTestAPI(t)
	defer cleanup()

	store.Save(context.Background(), "ws1", "a.txt", "stale")

	sess := registry.Session{
		SessionID: "s1",
		UserID:    "u1",
		Sink:      make(chan []byte, 8),
	}
	if _, err := reg.Join(context.Background(), sess, room.Key{WorkspaceID: "ws1", Path: "a.txt"}); err != nil {
		t.Fatalf("Failed to join: %v", err)
	}

	w := doRequest(t, api, "GET", "/api/workspaces/ws1/files/a.txt")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response fileContentResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !response.Live {
		t.Error("Active room content should be marked live")
	}
	if response.Content != "stale" {
		t.Errorf("Live room was seeded from persistence, got %q", response.Content)
	}
}

func TestHistoryHandler(t *testing.T) {
	api, store, _, cleanup := setupTestAPI(t)
	defer cleanup()

	ctx := context.Background()
	store.Save(ctx, "ws1", "a.txt", "v1")
	store.Save(ctx, "ws1", "a.txt", "v2")

	w := doRequest(t, api, "GET", "/api/workspaces/ws1/files/a.txt/history?limit=1")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Saves []persist.SaveRecord `json:"saves"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Saves) != 1 {
		t.Errorf("Expected limit to cap saves at 1, got %d", len(response.Saves))
	}
}

func TestHistoryHandlerRejectsBadLimit(t *testing.T) {
	api, _, _, cleanup := setupTestAPI(t)
	defer cleanup()

	w := doRequest(t, api, "GET", "/api/workspaces/ws1/files/a.txt/history?limit=banana")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}
