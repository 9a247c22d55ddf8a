//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux backend factory: BackendAuto selects io_uring when available and
// falls back to epoll; an explicit request for an unavailable io_uring
// fails. Mirrors the teacher's per-platform NewReactor factory-function
// convention.

package reactor

import "github.com/kanchonet/kanchonet-go/api"

// New constructs the Reactor backend named by requested, or auto-selects
// between io_uring and epoll when requested is BackendAuto.
func New(requested Backend) (Reactor, error) {
	switch requested {
	case BackendEpoll:
		return NewEpoll(), nil
	case BackendIOUring:
		u := NewUring()
		if !u.IsSupported() {
			return nil, api.ErrBackendUnsupported
		}
		return u, nil
	case BackendAuto:
		if u := NewUring(); u.IsSupported() {
			return u, nil
		}
		return NewEpoll(), nil
	default:
		return nil, api.NewError(api.ErrKindInvalidParameter, "reactor.New", nil)
	}
}
