//go:build !linux && !windows
// +build !linux,!windows

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Factory stub for platforms with neither an epoll/io_uring nor an
// IOCP/RIO backend, mirroring reactor_linux.go and reactor_windows.go's
// per-platform New signature.

package reactor

import "github.com/kanchonet/kanchonet-go/api"

// New always fails: no Reactor backend is available on this platform.
func New(requested Backend) (Reactor, error) {
	return nil, api.ErrBackendUnsupported
}
