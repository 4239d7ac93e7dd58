// Package gateway is the message-protocol layer: it validates inbound
// events, applies them through the session registry, fans resulting deltas
// out to room members and schedules debounced persistence saves.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"inkwell/internal/awareness"
	"inkwell/internal/crdt"
	"inkwell/internal/persist"
	"inkwell/internal/protocol"
	"inkwell/internal/registry"
	"inkwell/internal/room"
)

const joinLoadTimeout = 10 * time.Second

// Gateway routes protocol messages between connections and rooms.
type Gateway struct {
	registry  *registry.Registry
	saver     *Saver
	rateLimit int
	rateBurst int
}

// New wires a gateway to its registry and persistence adapter. The
// registry's teardown hook is pointed at the saver so a room's final save
// is the last one.
func New(reg *registry.Registry, adapter persist.Adapter, debounce time.Duration) *Gateway {
	g := &Gateway{
		registry:  reg,
		saver:     NewSaver(adapter, debounce),
		rateLimit: defaultMessagesPerSecond,
		rateBurst: defaultMessageBurst,
	}
	reg.SetTeardownHook(g.saver.Cancel)
	return g
}

// SetRateLimit overrides the per-connection inbound message rate. Applies
// to connections accepted after the call.
func (g *Gateway) SetRateLimit(perSecond, burst int) {
	g.rateLimit = perSecond
	g.rateBurst = burst
}

// Saver exposes the debounced saver, for shutdown flushing.
func (g *Gateway) Saver() *Saver { return g.saver }

// NotifyAwarenessEvicted broadcasts the implicit clear for sessions the
// janitor evicted. Wired as the janitor callback.
func (g *Gateway) NotifyAwarenessEvicted(rm *room.Room, evicted []string) {
	for _, sessionID := range evicted {
		rm.Broadcast(sessionID, protocol.AwarenessCleared(rm.Key().Path, sessionID))
	}
}

func (g *Gateway) handleMessage(c *client, data []byte) {
	m, err := protocol.Parse(data)
	if err != nil {
		c.reply(protocol.Error(protocol.KindProtocol, err.Error()))
		return
	}

	switch m.Type {
	case protocol.TypeJoin:
		g.handleJoin(c, m)
	case protocol.TypeDocUpdate:
		g.handleDocUpdate(c, m)
	case protocol.TypeAwarenessUpdate:
		g.handleAwarenessUpdate(c, m)
	case protocol.TypeLeaveRoom:
		g.handleLeave(c, m)
	}
}

func (g *Gateway) handleJoin(c *client, m *protocol.Message) {
	key := room.Key{WorkspaceID: m.WorkspaceID, Path: m.Path}
	sess := registry.Session{
		SessionID:    c.sessionID,
		UserID:       m.UserID,
		DisplayName:  m.DisplayName,
		DisplayColor: m.DisplayColor,
		Sink:         c.send,
	}

	ctx, cancel := context.WithTimeout(context.Background(), joinLoadTimeout)
	defer cancel()

	rm, err := g.registry.Join(ctx, sess, key)
	if errors.Is(err, registry.ErrWorkspaceConflict) {
		c.reply(protocol.Error(protocol.KindWorkspaceConflict, "another workspace is already open"))
		return
	}
	if err != nil {
		log.Printf("Session %s join %s failed: %v", c.sessionID, key, err)
		c.reply(protocol.Error(protocol.KindProtocol, "failed to open document"))
		return
	}

	docSnap, err := rm.DocSnapshot()
	if err != nil {
		log.Printf("Room %s: snapshot failed: %v", key, err)
		c.reply(protocol.Error(protocol.KindProtocol, "failed to open document"))
		return
	}
	awareSnap, err := json.Marshal(rm.AwarenessSnapshot())
	if err != nil {
		log.Printf("Room %s: awareness snapshot failed: %v", key, err)
		c.reply(protocol.Error(protocol.KindProtocol, "failed to open document"))
		return
	}

	c.reply(protocol.Joined(key.Path, docSnap, awareSnap))
}

func (g *Gateway) handleDocUpdate(c *client, m *protocol.Message) {
	key := room.Key{WorkspaceID: m.WorkspaceID, Path: m.Path}
	rm, err := g.registry.Room(key)
	if err != nil {
		c.reply(protocol.Error(protocol.KindRoomNotFound, "room not found"))
		return
	}
	if !rm.HasMember(c.sessionID) {
		// Delta from a non-member; dropped without a reply.
		log.Printf("Room %s: dropping delta from non-member session %s", key, c.sessionID)
		return
	}

	delta, err := crdt.DecodeDelta(m.Delta)
	if err != nil {
		c.reply(protocol.Error(protocol.KindProtocol, err.Error()))
		return
	}

	if !rm.ApplyDelta(delta) {
		// Duplicate delivery; already applied, nothing to fan out.
		return
	}
	rm.Broadcast(c.sessionID, protocol.DocUpdate(key.Path, m.Delta))
	g.saver.Schedule(rm)
}

func (g *Gateway) handleAwarenessUpdate(c *client, m *protocol.Message) {
	key := room.Key{WorkspaceID: m.WorkspaceID, Path: m.Path}
	rm, err := g.registry.Room(key)
	if err != nil {
		c.reply(protocol.Error(protocol.KindRoomNotFound, "room not found"))
		return
	}
	if !rm.HasMember(c.sessionID) {
		log.Printf("Room %s: dropping awareness from non-member session %s", key, c.sessionID)
		return
	}
	if m.SessionID != c.sessionID {
		// A session may only write its own presence entry.
		log.Printf("Room %s: session %s attempted to write awareness for %s", key, c.sessionID, m.SessionID)
		return
	}

	if string(m.State) == "null" {
		if rm.RemoveAwareness(c.sessionID) {
			rm.Broadcast(c.sessionID, protocol.AwarenessCleared(key.Path, c.sessionID))
		}
		return
	}

	var state awareness.State
	if err := json.Unmarshal(m.State, &state); err != nil {
		c.reply(protocol.Error(protocol.KindProtocol, "malformed awareness state"))
		return
	}
	if !rm.ApplyAwareness(c.sessionID, state) {
		// Stale clock after reconnect; drop.
		return
	}
	rm.Broadcast(c.sessionID, protocol.AwarenessUpdate(key.Path, c.sessionID, m.State))
}

func (g *Gateway) handleLeave(c *client, m *protocol.Message) {
	key := room.Key{WorkspaceID: m.WorkspaceID, Path: m.Path}
	rm, member, err := g.registry.Leave(c.sessionID, key)
	if err != nil {
		c.reply(protocol.Error(protocol.KindRoomNotFound, "room not found"))
		return
	}
	if member == nil {
		return
	}
	rm.Broadcast(c.sessionID, protocol.AwarenessCleared(key.Path, c.sessionID))
	rm.Broadcast(c.sessionID, protocol.UserLeft(key.Path, member.SessionID, member.UserID))
}

func (g *Gateway) handleDisconnect(c *client) {
	for _, d := range g.registry.Disconnect(c.sessionID) {
		path := d.Room.Key().Path
		d.Room.Broadcast(c.sessionID, protocol.AwarenessCleared(path, c.sessionID))
		d.Room.Broadcast(c.sessionID, protocol.UserLeft(path, d.Member.SessionID, d.Member.UserID))
	}
}

// Stats for the management API.

func (g *Gateway) RoomCount() int    { return g.registry.RoomCount() }
func (g *Gateway) SessionCount() int { return g.registry.SessionCount() }

// LiveText returns the in-memory document text when the room is active,
// which may be ahead of the last persisted save.
func (g *Gateway) LiveText(workspaceID, path string) (string, bool) {
	rm, err := g.registry.Room(room.Key{WorkspaceID: workspaceID, Path: path})
	if err != nil {
		return "", false
	}
	return rm.Text(), true
}
