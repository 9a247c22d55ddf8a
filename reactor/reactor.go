// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral Reactor interface, grounded on
// original_source/KanchoNet/Core/INetworkModel.h's Initialize/StartListen/
// ProcessIO/Send/Shutdown template and generalized from the teacher's
// EventReactor (Register/Wait/Close) shape to carry the four application
// callbacks directly, the way INetworkModel's SetXCallback setters do.

package reactor

import (
	"github.com/kanchonet/kanchonet-go/api"
	"github.com/kanchonet/kanchonet-go/session"
)

// Reactor drives one I/O-multiplexing backend: epoll readiness
// notification, or a completion-based backend (io_uring, IOCP, RIO).
// Exactly one Reactor is owned by an Engine at a time.
type Reactor interface {
	// Initialize allocates the backend's kernel resources (epoll fd,
	// io_uring ring, IOCP handle, RIO completion queue) and binds the
	// SessionTable the backend will populate on accept. Returns
	// api.ErrBackendUnsupported if the backend's capability probe fails.
	Initialize(config api.EngineConfig, table *session.Table, handlers *api.Handlers) error

	// StartListen creates, binds, and begins listening on the configured
	// TCP port, then registers the listening socket with the backend.
	StartListen() error

	// Poll drains and dispatches at most one batch of ready/completed
	// events, running handlers synchronously on the calling goroutine.
	// timeoutMs < 0 blocks until at least one event is available.
	Poll(timeoutMs int) error

	// Send enqueues data on the session's send ring and arranges for the
	// backend to drain it. Returns api.ErrSendOverflow if the ring cannot
	// accept the full payload; the session is not disconnected on this
	// path.
	Send(s *session.Session, data []byte) error

	// Shutdown releases the backend's kernel resources and closes every
	// live session's socket exactly once. Disconnect handlers are out of
	// scope for shutdown: sessions are closed silently, with no
	// OnDisconnect dispatch.
	Shutdown() error
}

// Backend names the concrete I/O-multiplexing strategy a Reactor
// implements.
type Backend int

const (
	// BackendAuto lets the platform factory choose the best available
	// backend, preferring the completion-based one when its capability
	// probe succeeds.
	BackendAuto Backend = iota
	BackendEpoll
	BackendIOUring
	BackendIOCP
	BackendRIO
)

func (b Backend) String() string {
	switch b {
	case BackendEpoll:
		return "epoll"
	case BackendIOUring:
		return "io_uring"
	case BackendIOCP:
		return "iocp"
	case BackendRIO:
		return "rio"
	default:
		return "auto"
	}
}
