package crdt

import (
	"encoding/json"
	"fmt"
)

// Op types.
const (
	OpInsert = "ins"
	OpDelete = "del"
)

// Op is a single replicated operation. Inserts carry the new character's ID,
// its origin (the character to its left at insert time) and the rune.
// Deletes carry only the target ID; tombstoning is idempotent on its own.
type Op struct {
	Type   string `json:"t"`
	ID     ID     `json:"id,omitempty"`
	Origin ID     `json:"org,omitempty"`
	Ch     rune   `json:"ch,omitempty"`
	Target ID     `json:"tgt,omitempty"`
}

func (op Op) validate() error {
	switch op.Type {
	case OpInsert:
		if op.ID.IsRoot() {
			return fmt.Errorf("insert op missing id")
		}
		if op.Ch == 0 {
			return fmt.Errorf("insert op missing character")
		}
	case OpDelete:
		if op.Target.IsRoot() {
			return fmt.Errorf("delete op missing target")
		}
	default:
		return fmt.Errorf("unknown op type %q", op.Type)
	}
	return nil
}

// Delta is an ordered batch of operations produced by one replica edit.
type Delta []Op

// EncodeDelta serializes a delta for broadcast.
func EncodeDelta(d Delta) ([]byte, error) {
	return json.Marshal(d)
}

// DecodeDelta parses and validates an encoded delta. A delta that fails to
// decode must never reach a document.
func DecodeDelta(data []byte) (Delta, error) {
	var d Delta
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode delta: %w", err)
	}
	if len(d) == 0 {
		return nil, fmt.Errorf("decode delta: empty")
	}
	for _, op := range d {
		if err := op.validate(); err != nil {
			return nil, fmt.Errorf("decode delta: %w", err)
		}
	}
	return d, nil
}

// snapElem is one character in a full-state snapshot, in pre-order so that
// every origin precedes its dependents.
type snapElem struct {
	ID      ID   `json:"id"`
	Origin  ID   `json:"org"`
	Ch      rune `json:"ch,omitempty"`
	Deleted bool `json:"del,omitempty"`
}

type snapshot struct {
	Elems []snapElem `json:"elems"`
}

// Snapshot encodes the full document state, tombstones included. Used for
// initial sync so a late joiner does not replay the operation log.
func (d *Doc) Snapshot() ([]byte, error) {
	var elems []snapElem
	var rec func(n *node)
	rec = func(n *node) {
		for _, c := range n.children {
			origin := ID{}
			if c.parent != d.root {
				origin = c.parent.id
			}
			elems = append(elems, snapElem{ID: c.id, Origin: origin, Ch: c.ch, Deleted: c.deleted})
			rec(c)
		}
	}
	rec(d.root)
	return json.Marshal(snapshot{Elems: elems})
}

// LoadSnapshot replaces the document state with a decoded snapshot.
func (d *Doc) LoadSnapshot(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	d.root = &node{}
	d.byID = map[ID]*node{}
	d.size = 0
	d.pendingIns = map[ID][]Op{}
	d.pendingDel = map[ID]struct{}{}

	for _, e := range s.Elems {
		if e.ID.IsRoot() {
			return fmt.Errorf("decode snapshot: element missing id")
		}
		d.applyInsert(Op{Type: OpInsert, ID: e.ID, Origin: e.Origin, Ch: e.Ch})
		if e.Deleted {
			d.applyDelete(Op{Type: OpDelete, Target: e.ID})
		}
	}
	if len(d.pendingIns) > 0 {
		return fmt.Errorf("decode snapshot: dangling origins")
	}
	return nil
}
