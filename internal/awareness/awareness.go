// Package awareness holds the ephemeral presence overlay for one room:
// cursor positions, selections and display identity, keyed by session id.
// Nothing here is ever persisted.
package awareness

import (
	"sync"
	"time"
)

// Position is a cursor location in the document.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range is a selection span.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// User is the display identity attached to a presence entry.
type User struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// State is one session's presence entry. Clock is a per-session heartbeat
// counter; a delivery carrying a lower clock than the stored entry is stale
// and gets discarded.
type State struct {
	Cursor    Position `json:"cursor"`
	Selection *Range   `json:"selection,omitempty"`
	User      User     `json:"user"`
	Clock     uint64   `json:"clock"`
}

type entry struct {
	state  State
	seenAt time.Time
}

// Store is the per-room presence table. Each session id has exactly one
// writer, so conflict resolution is plain last-write-wins per entry.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Set overwrites a session's entry. Returns false if the update is stale
// (clock not newer than the stored one), which protects against
// out-of-order delivery after a reconnect.
func (s *Store) Set(sessionID string, state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[sessionID]; ok && state.Clock <= cur.state.Clock {
		return false
	}
	s.entries[sessionID] = entry{state: state, seenAt: s.now()}
	return true
}

// Remove drops a session's entry. Invoked on leave, disconnect and timeout.
func (s *Store) Remove(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[sessionID]; !ok {
		return false
	}
	delete(s.entries, sessionID)
	return true
}

// Get returns a session's entry.
func (s *Store) Get(sessionID string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[sessionID]
	return e.state, ok
}

// Snapshot copies the whole table, for initial sync on join.
func (s *Store) Snapshot() map[string]State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]State, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.state
	}
	return out
}

// Len returns the number of tracked sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Prune evicts entries not refreshed within maxIdle and returns the evicted
// session ids so the caller can broadcast the implicit clear. Recovers from
// silent disconnects that never sent a leave.
func (s *Store) Prune(maxIdle time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxIdle)
	var evicted []string
	for id, e := range s.entries {
		if e.seenAt.Before(cutoff) {
			delete(s.entries, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
