// Package persist defines the persistence adapter contract the engine
// depends on, plus the bundled SQLite and in-memory implementations.
// The engine only ever persists materialized text; CRDT state never
// leaves memory.
package persist

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Load when no content exists for the file yet.
var ErrNotFound = errors.New("persist: not found")

// Adapter loads initial content on first room creation and saves
// materialized text on the gateway's debounced schedule.
type Adapter interface {
	Load(ctx context.Context, workspaceID, path string) (string, error)
	Save(ctx context.Context, workspaceID, path, content string) error
}

// Memory is a map-backed adapter for tests and storage-less runs.
type Memory struct {
	mu    sync.RWMutex
	files map[memKey]string
}

type memKey struct {
	workspaceID string
	path        string
}

func NewMemory() *Memory {
	return &Memory{files: make(map[memKey]string)}
}

func (m *Memory) Load(_ context.Context, workspaceID, path string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	content, ok := m.files[memKey{workspaceID, path}]
	if !ok {
		return "", ErrNotFound
	}
	return content, nil
}

func (m *Memory) Save(_ context.Context, workspaceID, path, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[memKey{workspaceID, path}] = content
	return nil
}
