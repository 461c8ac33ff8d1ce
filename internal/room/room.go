// Package room keeps the live server-side state of every open document:
// its participants, a per-document mutex serializing edits, and a bounded
// history of recent actions used for conflict resolution.
package room

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("room: no such room")
	// ErrOccupied reports a delete attempted while participants remain.
	ErrOccupied = errors.New("room: participants present")
)

// DefaultRetentionWindow bounds how long a history entry can still matter
// for reconciliation. Configurable because the appropriate span depends on
// client round-trip latency.
const DefaultRetentionWindow = 5 * time.Second

// Room is the state behind one open document. Callers only touch it inside
// WithLock, which holds the room's mutex.
type Room struct {
	mu      sync.Mutex
	history []Action
	window  time.Duration
}

// Resolve adjusts the incoming action for concurrent history entries and
// prunes stale ones. Must be called with the room lock held (via WithLock).
func (r *Room) Resolve(a Action) Action {
	adjusted, kept := resolve(a, r.history, r.window)
	r.history = kept
	return adjusted
}

// Append records an applied action. The caller appends only after the edit
// has been durably applied, so history never contains an unapplied action.
func (r *Room) Append(a Action) {
	r.history = append(r.history, a)
}

// History returns a copy of the current history. Test helper.
func (r *Room) History() []Action {
	out := make([]Action, len(r.history))
	copy(out, r.history)
	return out
}

// Table maps document names to rooms. A registry-level mutex guards the
// create/join/last-leave transitions so two connections cannot race one
// into a half-torn-down room.
type Table struct {
	mu     sync.Mutex
	rooms  map[string]*entry
	window time.Duration
}

type entry struct {
	room         *Room
	participants []string // connection ids, looked up live in the registry
}

// NewTable creates an empty table. window <= 0 selects the default
// retention window.
func NewTable(window time.Duration) *Table {
	if window <= 0 {
		window = DefaultRetentionWindow
	}
	return &Table{rooms: make(map[string]*entry), window: window}
}

// OpenOrJoin adds connID to the document's room, creating the room when
// absent. It reports whether the room was created by this call; permission
// checks for the join path belong to the caller.
func (t *Table) OpenOrJoin(name, connID string) (created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.rooms[name]
	if !ok {
		e = &entry{room: &Room{window: t.window}}
		t.rooms[name] = e
		created = true
	}
	for _, id := range e.participants {
		if id == connID {
			return created
		}
	}
	e.participants = append(e.participants, connID)
	return created
}

// Leave removes connID from the room. When the last participant leaves, the
// room (lock and history) is torn down atomically with the removal: no
// caller can observe an empty participant list alongside live history.
func (t *Table) Leave(name, connID string) (empty bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.rooms[name]
	if !ok {
		return false
	}
	kept := e.participants[:0]
	for _, id := range e.participants {
		if id != connID {
			kept = append(kept, id)
		}
	}
	e.participants = kept
	if len(e.participants) == 0 {
		delete(t.rooms, name)
		return true
	}
	return false
}

// Participants returns the connection ids currently inside the document.
func (t *Table) Participants(name string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.rooms[name]
	if !ok {
		return nil
	}
	out := make([]string, len(e.participants))
	copy(out, e.participants)
	return out
}

// Occupied reports whether the document has any participants.
func (t *Table) Occupied(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.rooms[name]
	return ok && len(e.participants) > 0
}

// WithLock runs fn with the document's mutex held, releasing it on every
// exit path. This is the sole mutation boundary for document content: edits
// to one document serialize here while edits to others run in parallel.
func (t *Table) WithLock(name string, fn func(r *Room) error) error {
	t.mu.Lock()
	e, ok := t.rooms[name]
	t.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.room.mu.Lock()
	defer e.room.mu.Unlock()
	return fn(e.room)
}

// Delete removes the room state for an unoccupied document. Physical
// deletion of content and metadata stays with the storage collaborators.
func (t *Table) Delete(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.rooms[name]
	if !ok {
		return nil
	}
	if len(e.participants) > 0 {
		return ErrOccupied
	}
	delete(t.rooms, name)
	return nil
}
