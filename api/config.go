// File: api/config.go
// Package api defines the engine configuration surface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Default values grounded on original_source/KanchoNet/Core/EngineConfig.h.
const (
	DefaultPort                 = 7777
	DefaultMaxSessions          = 10000
	DefaultBacklog              = 1024
	DefaultSendBufferSize       = 64 * 1024
	DefaultRecvBufferSize       = 64 * 1024
	DefaultKeepAliveIdleMs      = 7200000
	DefaultKeepAliveIntervalMs  = 1000
	DefaultCompletionQueueSize  = 2048
	DefaultOutstandingReads     = 100
	DefaultOutstandingWrites    = 100
	DefaultBufferSize           = 4096
)

const (
	minPort            = 1024
	maxPort            = 65535
	maxMaxSessions     = 100000
	maxBacklog         = 10000
	minBufSize         = 1024
	maxBufSize         = 10 * 1024 * 1024
	minCompletionQueue = 128
	maxCompletionQueue = 1000000
)

// EngineConfig is the recognized configuration surface for an Engine.
// See Validate for the accepted range of each field.
type EngineConfig struct {
	Port        uint16
	MaxSessions uint32
	Backlog     uint32

	SendBufSize uint32
	RecvBufSize uint32

	NoDelay              bool
	KeepAlive            bool
	KeepAliveIdleMs      uint32
	KeepAliveIntervalMs  uint32

	// CompletionQueueSize and Outstanding{Reads,Writes} apply only to
	// completion-based backends (io_uring, IOCP, RIO); readiness backends
	// (epoll) ignore them.
	CompletionQueueSize uint32
	OutstandingReads    uint32
	OutstandingWrites   uint32

	// Per-session overrides, carried from original_source/KanchoNet's
	// SessionConfig.h. The core stores these on the Session for the
	// application's own use; it does not itself enforce timeouts.
	MaxPacketSize    uint32
	ReceiveTimeoutMs uint32
	SendTimeoutMs    uint32
}

// DefaultEngineConfig returns an EngineConfig populated with the defaults
// from original_source/KanchoNet/Core/EngineConfig.h.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Port:                DefaultPort,
		MaxSessions:         DefaultMaxSessions,
		Backlog:             DefaultBacklog,
		SendBufSize:         DefaultSendBufferSize,
		RecvBufSize:         DefaultRecvBufferSize,
		NoDelay:             true,
		KeepAlive:           true,
		KeepAliveIdleMs:     DefaultKeepAliveIdleMs,
		KeepAliveIntervalMs: DefaultKeepAliveIntervalMs,
		CompletionQueueSize: DefaultCompletionQueueSize,
		OutstandingReads:    DefaultOutstandingReads,
		OutstandingWrites:   DefaultOutstandingWrites,
	}
}

// Validate reports the first out-of-range field as an *Error with
// ErrKindInvalidRange, or nil if every field is within its documented
// bounds.
func (c *EngineConfig) Validate() error {
	if c.Port < minPort {
		return NewError(ErrKindInvalidRange, "EngineConfig.Port", nil)
	}
	if c.MaxSessions == 0 || c.MaxSessions > maxMaxSessions {
		return NewError(ErrKindInvalidRange, "EngineConfig.MaxSessions", nil)
	}
	if c.Backlog == 0 || c.Backlog > maxBacklog {
		return NewError(ErrKindInvalidRange, "EngineConfig.Backlog", nil)
	}
	if c.SendBufSize < minBufSize || c.SendBufSize > maxBufSize {
		return NewError(ErrKindInvalidRange, "EngineConfig.SendBufSize", nil)
	}
	if c.RecvBufSize < minBufSize || c.RecvBufSize > maxBufSize {
		return NewError(ErrKindInvalidRange, "EngineConfig.RecvBufSize", nil)
	}
	if c.CompletionQueueSize != 0 &&
		(c.CompletionQueueSize < minCompletionQueue || c.CompletionQueueSize > maxCompletionQueue) {
		return NewError(ErrKindInvalidRange, "EngineConfig.CompletionQueueSize", nil)
	}
	return nil
}
