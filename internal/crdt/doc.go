// Package crdt implements a replicated text document as an
// insert-after-origin sequence CRDT. Replicas that apply the same set of
// operations converge to the same text regardless of delivery order.
package crdt

import (
	"strings"
)

// SeedReplica is the reserved replica id used when seeding a document from
// persisted content. Participant session ids never collide with it.
const SeedReplica = "@seed"

// ID identifies a single inserted character: the replica that created it
// plus that replica's sequence counter. The zero ID is the virtual document
// head.
type ID struct {
	Replica string `json:"replica"`
	Seq     uint64 `json:"seq"`
}

// IsRoot reports whether the ID is the virtual document head.
func (id ID) IsRoot() bool {
	return id.Replica == "" && id.Seq == 0
}

// compareIDs orders IDs by sequence number, then replica id. Used as the
// deterministic tie-break between concurrent inserts at the same origin.
func compareIDs(a, b ID) int {
	if a.Seq != b.Seq {
		if a.Seq < b.Seq {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Replica, b.Replica)
}

// node is one inserted character. Children are concurrent inserts that named
// this node as their origin, kept newest-first so that materialization is a
// plain pre-order walk.
type node struct {
	id       ID
	parent   *node
	ch       rune
	deleted  bool
	children []*node
}

// Doc is one replica of a shared text document. It is not safe for
// concurrent use; the owning room serializes access.
type Doc struct {
	replica string
	seq     uint64

	root *node
	byID map[ID]*node
	size int

	// Operations received ahead of their causal dependencies.
	pendingIns map[ID][]Op
	pendingDel map[ID]struct{}
}

// New creates an empty document replica.
func New(replica string) *Doc {
	root := &node{}
	return &Doc{
		replica:    replica,
		root:       root,
		byID:       map[ID]*node{},
		pendingIns: map[ID][]Op{},
		pendingDel: map[ID]struct{}{},
	}
}

// Replica returns the local replica id.
func (d *Doc) Replica() string { return d.replica }

// Len returns the number of visible characters.
func (d *Doc) Len() int { return d.size }

// Text materializes the document as a string. Equal on all replicas that
// have applied the same operation set.
func (d *Doc) Text() string {
	var b strings.Builder
	b.Grow(d.size)
	d.walkVisible(func(n *node) bool {
		b.WriteRune(n.ch)
		return true
	})
	return b.String()
}

// walkVisible visits visible nodes in document order. The visitor returns
// false to stop early.
func (d *Doc) walkVisible(fn func(n *node) bool) {
	var rec func(n *node) bool
	rec = func(n *node) bool {
		for _, c := range n.children {
			if !c.deleted {
				if !fn(c) {
					return false
				}
			}
			if !rec(c) {
				return false
			}
		}
		return true
	}
	rec(d.root)
}

// visibleAt returns the visible node at index, or nil if out of range.
func (d *Doc) visibleAt(index int) *node {
	if index < 0 || index >= d.size {
		return nil
	}
	i := 0
	var found *node
	d.walkVisible(func(n *node) bool {
		if i == index {
			found = n
			return false
		}
		i++
		return true
	})
	return found
}

// LocalInsert inserts text at the given visible index and returns the delta
// to broadcast. Index is clamped to the document bounds.
func (d *Doc) LocalInsert(index int, text string) Delta {
	if index < 0 {
		index = 0
	}
	if index > d.size {
		index = d.size
	}

	origin := ID{}
	if index > 0 {
		origin = d.visibleAt(index - 1).id
	}

	var delta Delta
	for _, r := range text {
		d.seq++
		op := Op{Type: OpInsert, ID: ID{Replica: d.replica, Seq: d.seq}, Origin: origin, Ch: r}
		d.applyInsert(op)
		delta = append(delta, op)
		origin = op.ID
	}
	return delta
}

// LocalDelete tombstones length visible characters starting at index and
// returns the delta to broadcast. The range is clamped to the document.
func (d *Doc) LocalDelete(index, length int) Delta {
	if index < 0 {
		length += index
		index = 0
	}
	if length <= 0 || index >= d.size {
		return nil
	}
	if index+length > d.size {
		length = d.size - index
	}

	targets := make([]*node, 0, length)
	i := 0
	d.walkVisible(func(n *node) bool {
		if i >= index {
			targets = append(targets, n)
		}
		i++
		return len(targets) < length
	})

	delta := make(Delta, 0, len(targets))
	for _, n := range targets {
		op := Op{Type: OpDelete, Target: n.id}
		d.applyDelete(op)
		delta = append(delta, op)
	}
	return delta
}

// ApplyDelta merges a remote delta. Applying the same delta twice is a
// no-op; operations whose causal dependencies have not arrived yet are
// buffered until they do. Reports whether the visible state changed.
func (d *Doc) ApplyDelta(delta Delta) bool {
	applied := false
	for _, op := range delta {
		switch op.Type {
		case OpInsert:
			if d.applyInsert(op) {
				applied = true
			}
		case OpDelete:
			if d.applyDelete(op) {
				applied = true
			}
		}
	}
	return applied
}

func (d *Doc) applyInsert(op Op) bool {
	// The local counter tracks the highest sequence number seen anywhere,
	// so ids minted after this op always win the sibling tie-break against
	// it. Without this, a late joiner's mid-document inserts would sort
	// behind already-present runs.
	if op.ID.Seq > d.seq {
		d.seq = op.ID.Seq
	}

	if _, ok := d.byID[op.ID]; ok {
		return false
	}

	origin := d.root
	if !op.Origin.IsRoot() {
		var ok bool
		origin, ok = d.byID[op.Origin]
		if !ok {
			d.pendingIns[op.Origin] = append(d.pendingIns[op.Origin], op)
			return false
		}
	}

	n := &node{id: op.ID, parent: origin, ch: op.Ch}

	// Siblings are newest-first; the ID comparison is what makes
	// concurrent inserts at the same origin resolve identically on every
	// replica.
	j := 0
	for j < len(origin.children) && compareIDs(origin.children[j].id, op.ID) > 0 {
		j++
	}
	origin.children = append(origin.children, nil)
	copy(origin.children[j+1:], origin.children[j:])
	origin.children[j] = n

	d.byID[op.ID] = n
	d.size++
	applied := true

	if _, ok := d.pendingDel[op.ID]; ok {
		delete(d.pendingDel, op.ID)
		d.applyDelete(Op{Type: OpDelete, Target: op.ID})
	}

	if buffered, ok := d.pendingIns[op.ID]; ok {
		delete(d.pendingIns, op.ID)
		for _, b := range buffered {
			d.applyInsert(b)
		}
	}
	return applied
}

func (d *Doc) applyDelete(op Op) bool {
	n, ok := d.byID[op.Target]
	if !ok {
		d.pendingDel[op.Target] = struct{}{}
		return false
	}
	if n.deleted {
		return false
	}
	n.deleted = true
	n.ch = 0
	d.size--
	return true
}

// SeedText initializes an empty document from persisted content. Intended
// for the seed replica before any participant delta has been applied.
func (d *Doc) SeedText(text string) {
	d.LocalInsert(0, text)
}
