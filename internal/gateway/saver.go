package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"inkwell/internal/persist"
	"inkwell/internal/room"
)

const saveTimeout = 10 * time.Second

// Saver coalesces bursts of document edits into one persistence save per
// room. Every applied delta re-arms the room's timer; the save runs only
// once the room has been quiet for the debounce interval.
type Saver struct {
	adapter  persist.Adapter
	debounce time.Duration

	mu      sync.Mutex
	timers  map[room.Key]*time.Timer
	pending map[room.Key]*room.Room
}

func NewSaver(adapter persist.Adapter, debounce time.Duration) *Saver {
	return &Saver{
		adapter:  adapter,
		debounce: debounce,
		timers:   make(map[room.Key]*time.Timer),
		pending:  make(map[room.Key]*room.Room),
	}
}

// Schedule (re)arms the debounce timer for a room.
func (s *Saver) Schedule(rm *room.Room) {
	key := rm.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[key] = rm
	if t, ok := s.timers[key]; ok {
		t.Reset(s.debounce)
		return
	}
	s.timers[key] = time.AfterFunc(s.debounce, func() {
		s.flush(key)
	})
}

// Cancel drops any pending save for a room. Called from the registry's
// teardown path, which performs the final save itself.
func (s *Saver) Cancel(key room.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
	delete(s.pending, key)
}

// Flush saves every pending room immediately. Used on shutdown.
func (s *Saver) Flush() {
	s.mu.Lock()
	keys := make([]room.Key, 0, len(s.pending))
	for key := range s.pending {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.flush(key)
	}
}

func (s *Saver) flush(key room.Key) {
	s.mu.Lock()
	rm, ok := s.pending[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	text := rm.Text()
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.adapter.Save(ctx, key.WorkspaceID, key.Path, text); err != nil {
		// Recoverable: real-time sync keeps going, the save retries on
		// the next debounce cycle.
		log.Printf("Room %s: debounced save failed, rescheduling: %v", key, err)
		s.Schedule(rm)
	}
}
