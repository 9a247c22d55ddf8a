// File: api/handler.go
// Package api defines the application callback contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// AcceptHandler is invoked once a new session has been admitted into the
// SessionTable and moved to StateConnected. The engine has already
// completed accept-side socket setup (non-blocking, TCP_NODELAY,
// keep-alive) by the time this fires.
type AcceptHandler func(id SessionID)

// ReceiveHandler is invoked with a view of newly received bytes. The slice
// is only valid for the duration of the call: implementations that need to
// retain data must copy it before returning.
type ReceiveHandler func(id SessionID, data []byte)

// DisconnectHandler is invoked exactly once per session, before the
// session's socket is closed and before it is removed from the
// SessionTable. reason is the ErrorKind that triggered the disconnect, or
// ErrKindUnknown for a clean peer-initiated close.
type DisconnectHandler func(id SessionID, reason ErrorKind)

// ErrorHandler is invoked for engine-level failures that are not
// attributable to a single session, such as a listener accept failure or a
// completion backend reporting itself unsupported at Initialize time.
type ErrorHandler func(err error)

// Handlers bundles the four application callbacks the core dispatches.
// A nil field is treated as a no-op.
type Handlers struct {
	OnAccept     AcceptHandler
	OnReceive    ReceiveHandler
	OnDisconnect DisconnectHandler
	OnError      ErrorHandler
}

// FireAccept dispatches OnAccept if set.
func (h *Handlers) FireAccept(id SessionID) {
	if h != nil && h.OnAccept != nil {
		h.OnAccept(id)
	}
}

// FireReceive dispatches OnReceive if set.
func (h *Handlers) FireReceive(id SessionID, data []byte) {
	if h != nil && h.OnReceive != nil {
		h.OnReceive(id, data)
	}
}

// FireDisconnect dispatches OnDisconnect if set.
func (h *Handlers) FireDisconnect(id SessionID, reason ErrorKind) {
	if h != nil && h.OnDisconnect != nil {
		h.OnDisconnect(id, reason)
	}
}

// FireError dispatches OnError if set.
func (h *Handlers) FireError(err error) {
	if h != nil && h.OnError != nil {
		h.OnError(err)
	}
}
