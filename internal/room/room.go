// Package room ties one shared file to its replicated document, its
// presence overlay and the set of joined sessions. The room is the unit of
// broadcast fan-out; all document and awareness mutations for a room are
// serialized under a single lock.
package room

import (
	"log"
	"sync"
	"time"

	"inkwell/internal/awareness"
	"inkwell/internal/crdt"
)

// Key identifies a room: one file in one workspace.
type Key struct {
	WorkspaceID string
	Path        string
}

func (k Key) String() string {
	return k.WorkspaceID + "/" + k.Path
}

// Member is one joined session. Sink is the owning connection's outbound
// channel; sends never block the room.
type Member struct {
	SessionID string
	UserID    string
	Color     string
	Sink      chan<- []byte
}

// Room owns one replicated document plus one awareness store.
type Room struct {
	key Key

	mu        sync.Mutex
	doc       *crdt.Doc
	awareness *awareness.Store
	members   map[string]*Member

	loadOnce sync.Once
	loadErr  error
}

// New creates an empty room for the given key.
func New(key Key) *Room {
	return &Room{
		key:       key,
		doc:       crdt.New(crdt.SeedReplica),
		awareness: awareness.NewStore(),
		members:   make(map[string]*Member),
	}
}

func (r *Room) Key() Key { return r.key }

// EnsureLoaded seeds the document from persisted content exactly once, no
// matter how many joiners race on first creation.
func (r *Room) EnsureLoaded(load func() (string, error)) error {
	r.loadOnce.Do(func() {
		content, err := load()
		if err != nil {
			r.loadErr = err
			return
		}
		if content != "" {
			r.mu.Lock()
			r.doc.SeedText(content)
			r.mu.Unlock()
		}
	})
	return r.loadErr
}

// Membership.

func (r *Room) AddMember(m *Member) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.SessionID] = m
	return len(r.members)
}

// RemoveMember drops a session's membership and its awareness entry.
// Returns the removed member (nil if absent) and the remaining count.
func (r *Room) RemoveMember(sessionID string) (*Member, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[sessionID]
	if !ok {
		return nil, len(r.members)
	}
	delete(r.members, sessionID)
	r.awareness.Remove(sessionID)
	return m, len(r.members)
}

func (r *Room) HasMember(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[sessionID]
	return ok
}

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// ApplyDelta merges a validated delta into the document. Reports whether
// the visible document changed (idempotent redelivery reports false).
func (r *Room) ApplyDelta(delta crdt.Delta) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.ApplyDelta(delta)
}

// Text materializes the current document, for persistence.
func (r *Room) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Text()
}

// DocSnapshot encodes the full document state for a joining session.
func (r *Room) DocSnapshot() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Snapshot()
}

// ApplyAwareness overwrites a session's presence entry. Stale clocks are
// dropped. Ownership (sessionID == sender) is enforced by the gateway
// before this is called.
func (r *Room) ApplyAwareness(sessionID string, state awareness.State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.awareness.Set(sessionID, state)
}

func (r *Room) RemoveAwareness(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.awareness.Remove(sessionID)
}

func (r *Room) AwarenessSnapshot() map[string]awareness.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.awareness.Snapshot()
}

// PruneAwareness evicts idle presence entries and returns the evicted
// session ids for the implicit clear broadcast.
func (r *Room) PruneAwareness(maxIdle time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.awareness.Prune(maxIdle)
}

// Broadcast fans data out to every member except the excluded session.
// Slow members lose the message rather than stalling the room. Returns the
// number of members reached.
func (r *Room) Broadcast(exclude string, data []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	sent := 0
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		select {
		case m.Sink <- data:
			sent++
		default:
			log.Printf("Room %s: dropping message for slow session %s", r.key, id)
		}
	}
	return sent
}
