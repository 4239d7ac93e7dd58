// Package protocol defines the logical message schema spoken between the
// gateway and its clients. The schema is transport-agnostic JSON; framing
// below this level belongs to the websocket layer.
package protocol

import (
	"encoding/json"
	"fmt"
	"log"
)

// Message types.
const (
	// Server -> client on connect, carries the assigned session id.
	TypeHello = "hello"

	// Client -> server room membership.
	TypeJoin      = "join"
	TypeLeaveRoom = "leave-room"

	// Server -> client join reply with full-state snapshots.
	TypeJoined = "joined"

	// Document and presence deltas, both directions.
	TypeDocUpdate       = "doc-update"
	TypeAwarenessUpdate = "awareness-update"

	// Server -> remaining members after a leave or disconnect.
	TypeUserLeft = "user-left"

	// Server -> single offending client, never broadcast.
	TypeError = "error"
)

// Error kinds carried by TypeError messages.
const (
	KindProtocol          = "protocol"
	KindWorkspaceConflict = "workspace-conflict"
	KindRoomNotFound      = "room-not-found"
)

// Message is the decoded inbound envelope. Fields are populated per type;
// Parse enforces which ones are required.
type Message struct {
	Type         string `json:"type"`
	WorkspaceID  string `json:"workspaceId,omitempty"`
	Path         string `json:"path,omitempty"`
	UserID       string `json:"userId,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	DisplayColor string `json:"displayColor,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`

	// Delta is an encoded crdt delta; State is an awareness state, where
	// JSON null means "cleared".
	Delta json.RawMessage `json:"delta,omitempty"`
	State json.RawMessage `json:"state,omitempty"`
}

// Parse decodes and validates an inbound message. A message that fails
// here is answered with a protocol error and never touches room state.
func Parse(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	switch m.Type {
	case TypeJoin:
		if m.WorkspaceID == "" || m.Path == "" || m.UserID == "" {
			return nil, fmt.Errorf("join requires workspaceId, path and userId")
		}
	case TypeDocUpdate:
		if m.WorkspaceID == "" || m.Path == "" || len(m.Delta) == 0 {
			return nil, fmt.Errorf("doc-update requires workspaceId, path and delta")
		}
	case TypeAwarenessUpdate:
		if m.WorkspaceID == "" || m.Path == "" || m.SessionID == "" || len(m.State) == 0 {
			return nil, fmt.Errorf("awareness-update requires workspaceId, path, sessionId and state")
		}
	case TypeLeaveRoom:
		if m.WorkspaceID == "" || m.Path == "" {
			return nil, fmt.Errorf("leave-room requires workspaceId and path")
		}
	case "":
		return nil, fmt.Errorf("message missing type")
	default:
		return nil, fmt.Errorf("unknown message type %q", m.Type)
	}
	return &m, nil
}

// Outbound envelopes.

type helloMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type joinedMsg struct {
	Type              string          `json:"type"`
	Path              string          `json:"path"`
	DocumentSnapshot  json.RawMessage `json:"documentSnapshot"`
	AwarenessSnapshot json.RawMessage `json:"awarenessSnapshot"`
}

type docUpdateMsg struct {
	Type  string          `json:"type"`
	Path  string          `json:"path"`
	Delta json.RawMessage `json:"delta"`
}

type awarenessMsg struct {
	Type      string          `json:"type"`
	Path      string          `json:"path"`
	SessionID string          `json:"sessionId"`
	State     json.RawMessage `json:"state"`
}

type userLeftMsg struct {
	Type      string `json:"type"`
	Path      string `json:"path"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func Hello(sessionID string) []byte {
	return marshal(helloMsg{Type: TypeHello, SessionID: sessionID})
}

func Joined(path string, docSnapshot, awarenessSnapshot json.RawMessage) []byte {
	return marshal(joinedMsg{
		Type:              TypeJoined,
		Path:              path,
		DocumentSnapshot:  docSnapshot,
		AwarenessSnapshot: awarenessSnapshot,
	})
}

func DocUpdate(path string, delta json.RawMessage) []byte {
	return marshal(docUpdateMsg{Type: TypeDocUpdate, Path: path, Delta: delta})
}

func AwarenessUpdate(path, sessionID string, state json.RawMessage) []byte {
	if len(state) == 0 {
		state = json.RawMessage("null")
	}
	return marshal(awarenessMsg{Type: TypeAwarenessUpdate, Path: path, SessionID: sessionID, State: state})
}

// AwarenessCleared is the implicit nil state broadcast on leave or
// eviction.
func AwarenessCleared(path, sessionID string) []byte {
	return AwarenessUpdate(path, sessionID, nil)
}

func UserLeft(path, sessionID, userID string) []byte {
	return marshal(userLeftMsg{Type: TypeUserLeft, Path: path, SessionID: sessionID, UserID: userID})
}

func Error(kind, message string) []byte {
	return marshal(errorMsg{Type: TypeError, Kind: kind, Message: message})
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Error encoding %T message: %v", v, err)
	}
	return data
}
