// Package session implements the Session lifecycle state machine and the
// SessionTable that owns every live Session for a running Engine.
//
// A Session is a passive data carrier: state, atomic flags, and the pair
// of send/receive rings. It performs no I/O of its own — the reactor
// backend is the only code that reads or writes a Session's sockets and
// rings.
package session
