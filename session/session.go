// File: session/session.go
// Author: momentics <momentics@gmail.com>
//
// Session state, atomic flags, and per-session send/receive rings, grounded
// on original_source/KanchoNet/Session/Session.h and the atomic-state,
// cookie-slot conventions of the teacher's internal/session/session.go.

package session

import (
	"sync"
	"sync/atomic"

	"github.com/kanchonet/kanchonet-go/api"
	"github.com/kanchonet/kanchonet-go/buffer"
)

// Session is a passive per-connection data carrier. It performs no I/O of
// its own: reactor backends are the only code that read or write a
// Session's socket and rings. Construct only via Table.Add.
type Session struct {
	id     api.SessionID
	socket api.SocketHandle

	state atomic.Uint32 // api.SessionState

	sendRing *buffer.Ring
	recvRing *buffer.Ring

	sendInFlight atomic.Bool

	// lock serializes application send-ring writers against the
	// reactor's own send drainer. Low contention: a plain sync.Mutex,
	// matching every other lock in this tree.
	lock sync.Mutex

	userSlotMu sync.RWMutex
	userSlot   any

	// MaxPacketSize, ReceiveTimeoutMs, SendTimeoutMs are per-session
	// overrides copied from EngineConfig by the accepting reactor backend
	// right after Table.Add. The core never
	// enforces the timeouts; they exist for the application to read.
	MaxPacketSize    uint32
	ReceiveTimeoutMs uint32
	SendTimeoutMs    uint32
}

func newSession(id api.SessionID, sock api.SocketHandle, ringCapacity int) *Session {
	s := &Session{
		id:       id,
		socket:   sock,
		sendRing: buffer.NewRing(ringCapacity),
		recvRing: buffer.NewRing(ringCapacity),
	}
	s.state.Store(uint32(api.StateIdle))
	return s
}

// ID returns the immutable SessionID assigned at construction.
func (s *Session) ID() api.SessionID {
	return s.id
}

// Socket returns the platform-native socket handle.
func (s *Session) Socket() api.SocketHandle {
	return s.socket
}

// State performs an acquire load of the current lifecycle state.
func (s *Session) State() api.SessionState {
	return api.SessionState(s.state.Load())
}

// SetState performs a release store of a new lifecycle state.
func (s *Session) SetState(state api.SessionState) {
	s.state.Store(uint32(state))
}

// CompareAndSwapState atomically transitions the state from want to set,
// reporting whether the swap happened. Used by the disconnect path to
// guarantee I4/I5: at most one caller wins the race into Disconnected.
func (s *Session) CompareAndSwapState(want, set api.SessionState) bool {
	return s.state.CompareAndSwap(uint32(want), uint32(set))
}

// SendRing returns the session's outbound ring buffer.
func (s *Session) SendRing() *buffer.Ring {
	return s.sendRing
}

// RecvRing returns the session's inbound staging ring buffer.
func (s *Session) RecvRing() *buffer.Ring {
	return s.recvRing
}

// SendInFlight reports whether the reactor currently has an outstanding
// write operation for this session (I1, I2).
func (s *Session) SendInFlight() bool {
	return s.sendInFlight.Load()
}

// SetSendInFlight sets the outstanding-write flag.
func (s *Session) SetSendInFlight(v bool) {
	s.sendInFlight.Store(v)
}

// CompareAndSwapSendInFlight atomically transitions the flag, enforcing I2
// (at most one outstanding write) without a separate lock.
func (s *Session) CompareAndSwapSendInFlight(want, set bool) bool {
	return s.sendInFlight.CompareAndSwap(want, set)
}

// Lock acquires the session's low-contention mutex, serializing
// application send-ring writers against the reactor's send drainer.
func (s *Session) Lock() {
	s.lock.Lock()
}

// Unlock releases the session's mutex.
func (s *Session) Unlock() {
	s.lock.Unlock()
}

// SetUserSlot stores an application-owned cookie. The core never
// dereferences or interprets it.
func (s *Session) SetUserSlot(v any) {
	s.userSlotMu.Lock()
	s.userSlot = v
	s.userSlotMu.Unlock()
}

// UserSlot returns the previously stored application-owned cookie, or nil
// if none was set.
func (s *Session) UserSlot() any {
	s.userSlotMu.RLock()
	defer s.userSlotMu.RUnlock()
	return s.userSlot
}
