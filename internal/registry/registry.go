// Package registry is the process-wide table of live rooms. It enforces the
// single-workspace-per-session rule, creates rooms lazily on first join and
// tears them down after an idle grace period so rapid reconnects do not
// rebuild document state.
package registry

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"inkwell/internal/persist"
	"inkwell/internal/room"
)

var (
	// ErrWorkspaceConflict rejects a join into a second workspace while
	// the session still holds rooms in a first one.
	ErrWorkspaceConflict = errors.New("registry: session already active in another workspace")

	// ErrRoomNotFound marks a stale reference after teardown; clients
	// treat it as an implicit leave.
	ErrRoomNotFound = errors.New("registry: room not found")
)

// Session is the connection-scoped identity handed to Join. Sink is the
// connection's outbound channel, shared by every room the session joins.
type Session struct {
	SessionID    string
	UserID       string
	DisplayName  string
	DisplayColor string
	Sink         chan<- []byte
}

type entry struct {
	room     *room.Room
	teardown *time.Timer
}

type sessionState struct {
	workspaceID string
	rooms       map[room.Key]struct{}
}

// Registry maps room keys to live rooms.
type Registry struct {
	adapter persist.Adapter
	grace   time.Duration

	mu       sync.Mutex
	rooms    map[room.Key]*entry
	sessions map[string]*sessionState

	// onTeardown lets the gateway cancel a pending debounced save when a
	// room is discarded, so the teardown save stays the final one.
	onTeardown func(room.Key)
}

// New creates a registry backed by the given persistence adapter. grace is
// how long an empty room lingers before teardown.
func New(adapter persist.Adapter, grace time.Duration) *Registry {
	return &Registry{
		adapter:  adapter,
		grace:    grace,
		rooms:    make(map[room.Key]*entry),
		sessions: make(map[string]*sessionState),
	}
}

// SetTeardownHook registers a callback invoked with the key of every room
// being discarded, before its final save.
func (r *Registry) SetTeardownHook(fn func(room.Key)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTeardown = fn
}

// Join adds the session to the room for key, creating and loading the room
// if this is its first-ever join. Two racing first-joiners get the same
// room and trigger exactly one load.
func (r *Registry) Join(ctx context.Context, sess Session, key room.Key) (*room.Room, error) {
	r.mu.Lock()

	ss := r.sessions[sess.SessionID]
	if ss != nil && len(ss.rooms) > 0 && ss.workspaceID != key.WorkspaceID {
		r.mu.Unlock()
		return nil, ErrWorkspaceConflict
	}
	if ss == nil {
		ss = &sessionState{rooms: make(map[room.Key]struct{})}
		r.sessions[sess.SessionID] = ss
	}

	e, ok := r.rooms[key]
	if !ok {
		e = &entry{room: room.New(key)}
		r.rooms[key] = e
		log.Printf("Room %s created", key)
	}
	if e.teardown != nil {
		// Rejoin during the grace period keeps the room alive.
		e.teardown.Stop()
		e.teardown = nil
	}

	ss.workspaceID = key.WorkspaceID
	ss.rooms[key] = struct{}{}
	r.mu.Unlock()

	err := e.room.EnsureLoaded(func() (string, error) {
		content, err := r.adapter.Load(ctx, key.WorkspaceID, key.Path)
		if errors.Is(err, persist.ErrNotFound) {
			return "", nil
		}
		return content, err
	})
	if err != nil {
		// Drop the failed room so a later join retries the load.
		r.mu.Lock()
		delete(ss.rooms, key)
		if cur, ok := r.rooms[key]; ok && cur == e && e.room.MemberCount() == 0 {
			delete(r.rooms, key)
		}
		r.mu.Unlock()
		return nil, err
	}

	e.room.AddMember(&room.Member{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Color:     sess.DisplayColor,
		Sink:      sess.Sink,
	})
	log.Printf("Session %s joined room %s (members: %d)", sess.SessionID, key, e.room.MemberCount())
	return e.room, nil
}

// Leave removes the session from the room. When the last member leaves the
// room enters its draining grace period. Returns the room and removed
// member so the caller can notify remaining participants.
func (r *Registry) Leave(sessionID string, key room.Key) (*room.Room, *room.Member, error) {
	r.mu.Lock()
	e, ok := r.rooms[key]
	if !ok {
		r.mu.Unlock()
		return nil, nil, ErrRoomNotFound
	}

	removed, remaining := e.room.RemoveMember(sessionID)
	if ss, ok := r.sessions[sessionID]; ok {
		delete(ss.rooms, key)
		if len(ss.rooms) == 0 {
			// All rooms left; the session may join another workspace now.
			ss.workspaceID = ""
		}
	}
	if remaining == 0 && e.teardown == nil {
		r.armTeardown(key, e)
	}
	r.mu.Unlock()

	if removed != nil {
		log.Printf("Session %s left room %s (remaining: %d)", sessionID, key, remaining)
	}
	return e.room, removed, nil
}

// Disconnect treats a dropped connection as a leave of every joined room.
// Returns the (room, member) pairs for the caller's departure broadcasts.
func (r *Registry) Disconnect(sessionID string) []Departure {
	r.mu.Lock()
	ss, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.sessions, sessionID)

	var departures []Departure
	for key := range ss.rooms {
		e, ok := r.rooms[key]
		if !ok {
			continue
		}
		removed, remaining := e.room.RemoveMember(sessionID)
		if removed != nil {
			departures = append(departures, Departure{Room: e.room, Member: removed})
		}
		if remaining == 0 && e.teardown == nil {
			r.armTeardown(key, e)
		}
	}
	r.mu.Unlock()

	if len(departures) > 0 {
		log.Printf("Session %s disconnected from %d room(s)", sessionID, len(departures))
	}
	return departures
}

// Departure records one room a disconnecting session was removed from.
type Departure struct {
	Room   *room.Room
	Member *room.Member
}

// Room resolves a live room, or ErrRoomNotFound after teardown.
func (r *Registry) Room(key room.Key) (*room.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[key]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return e.room, nil
}

// Rooms snapshots the live room set.
func (r *Registry) Rooms() []*room.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*room.Room, 0, len(r.rooms))
	for _, e := range r.rooms {
		out = append(out, e.room)
	}
	return out
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// SessionCount returns the number of tracked sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// armTeardown starts the idle grace timer for an empty room. Caller holds
// the registry lock.
func (r *Registry) armTeardown(key room.Key, e *entry) {
	e.teardown = time.AfterFunc(r.grace, func() {
		r.teardownRoom(key, e)
	})
}

func (r *Registry) teardownRoom(key room.Key, e *entry) {
	r.mu.Lock()
	cur, ok := r.rooms[key]
	if !ok || cur != e || e.teardown == nil {
		r.mu.Unlock()
		return
	}
	if e.room.MemberCount() > 0 {
		// A rejoin won the race; the room stays. The spent timer must be
		// disarmed or the next drain would never arm a fresh one.
		e.teardown = nil
		r.mu.Unlock()
		return
	}
	delete(r.rooms, key)
	hook := r.onTeardown
	r.mu.Unlock()

	if hook != nil {
		hook(key)
	}

	text := e.room.Text()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.adapter.Save(ctx, key.WorkspaceID, key.Path, text); err != nil {
		log.Printf("Room %s: final save failed, retrying: %v", key, err)
		if err := r.adapter.Save(ctx, key.WorkspaceID, key.Path, text); err != nil {
			log.Printf("Room %s: final save failed again, content lost: %v", key, err)
		}
	}
	log.Printf("Room %s destroyed (idle)", key)
}
