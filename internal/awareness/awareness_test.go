package awareness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndSnapshot(t *testing.T) {
	s := NewStore()

	ok := s.Set("s1", State{Cursor: Position{Line: 1, Column: 4}, User: User{Name: "ada", Color: "#f00"}, Clock: 1})
	require.True(t, ok)
	s.Set("s2", State{Cursor: Position{Line: 9}, User: User{Name: "brendan", Color: "#0f0"}, Clock: 1})

	snap := s.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, "ada", snap["s1"].User.Name)
	assert.Equal(t, 4, snap["s1"].Cursor.Column)

	// Snapshot is a copy, not a view.
	delete(snap, "s1")
	assert.Equal(t, 2, s.Len())
}

func TestStaleClockDiscarded(t *testing.T) {
	s := NewStore()

	require.True(t, s.Set("s1", State{Clock: 5}))
	assert.False(t, s.Set("s1", State{Clock: 4}), "older clock must be dropped")
	assert.False(t, s.Set("s1", State{Clock: 5}), "equal clock must be dropped")
	assert.True(t, s.Set("s1", State{Clock: 6}))

	got, ok := s.Get("s1")
	require.True(t, ok)
	assert.Equal(t, uint64(6), got.Clock)
}

func TestRemove(t *testing.T) {
	s := NewStore()
	s.Set("s1", State{Clock: 1})

	assert.True(t, s.Remove("s1"))
	assert.False(t, s.Remove("s1"))
	_, ok := s.Get("s1")
	assert.False(t, ok)
}

func TestPruneEvictsIdleEntries(t *testing.T) {
	s := NewStore()

	clock := time.Now()
	s.now = func() time.Time { return clock }

	s.Set("idle", State{Clock: 1})
	clock = clock.Add(45 * time.Second)
	s.Set("fresh", State{Clock: 1})

	evicted := s.Prune(30 * time.Second)
	require.Equal(t, []string{"idle"}, evicted)
	assert.Equal(t, 1, s.Len())

	_, ok := s.Get("fresh")
	assert.True(t, ok)
}

func TestPruneRefreshedEntrySurvives(t *testing.T) {
	s := NewStore()

	clock := time.Now()
	s.now = func() time.Time { return clock }

	s.Set("s1", State{Clock: 1})
	clock = clock.Add(20 * time.Second)
	s.Set("s1", State{Clock: 2})
	clock = clock.Add(20 * time.Second)

	assert.Empty(t, s.Prune(30*time.Second))
}
