// File: session/table.go
// Author: momentics <momentics@gmail.com>
//
// SessionTable: SessionID -> owned Session, grounded on
// original_source/KanchoNet/Session/SessionManager.h and structurally
// modeled after the teacher's sharded internal/session/store.go, collapsed
// to a single coarse mutex because ForEach must observe a consistent
// snapshot under one critical section, which sharding would violate.

package session

import (
	"sync"
	"sync/atomic"

	"github.com/kanchonet/kanchonet-go/api"
)

// Table owns every live Session for a running Engine, up to a hard
// capacity. A single mutex guards the map; iteration holds that mutex for
// its whole duration, so ForEach callbacks must not call Add or Remove on
// the same Table (reentrancy is undefined).
type Table struct {
	mu       sync.Mutex
	sessions map[api.SessionID]*Session
	capacity uint32
	nextID   atomic.Uint64

	ringCapacity int
}

// NewTable constructs an empty Table with the given session capacity and
// per-session ring capacity (bytes).
func NewTable(capacity uint32, ringCapacity int) *Table {
	return &Table{
		sessions:     make(map[api.SessionID]*Session, capacity),
		capacity:     capacity,
		ringCapacity: ringCapacity,
	}
}

// Add allocates a fresh monotonically increasing SessionID, constructs a
// Session around sock, inserts it, and returns it. Returns
// api.ErrSessionLimitReached if the table is already at capacity.
func (t *Table) Add(sock api.SocketHandle) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if uint32(len(t.sessions)) >= t.capacity {
		return nil, api.ErrSessionLimitReached
	}

	id := api.SessionID(t.nextID.Add(1))
	s := newSession(id, sock, t.ringCapacity)
	t.sessions[id] = s
	return s, nil
}

// Remove drops the Session identified by id. Closing its socket and
// firing its disconnect handler are the caller's prior responsibility
// (I4-I5); Remove only detaches it from the table.
func (t *Table) Remove(id api.SessionID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[id]; !ok {
		return false
	}
	delete(t.sessions, id)
	return true
}

// Get returns the Session for id, or nil and false if absent.
func (t *Table) Get(id api.SessionID) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

// ForEach invokes f on every Session currently in the table, under the
// table's lock. f must not call Add, Remove, or Snapshot on this table:
// sync.Mutex is not reentrant, so any of those would deadlock the caller.
func (t *Table) ForEach(f func(*Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.sessions {
		f(s)
	}
}

// Snapshot returns a slice of every Session currently in the table. Unlike
// ForEach, the lock is released before the caller inspects or acts on the
// result, so it is safe for callers that need to Remove sessions afterward
// (e.g. a shutdown routine closing every live session).
func (t *Table) Snapshot() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the current number of live sessions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// IsFull reports whether the table is at its configured capacity.
func (t *Table) IsFull() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return uint32(len(t.sessions)) >= t.capacity
}
