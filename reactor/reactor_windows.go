//go:build windows
// +build windows

// File: reactor/reactor_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows backend factory: BackendAuto selects RIO when available and falls
// back to IOCP; an explicit request for an unavailable RIO fails. Mirrors
// reactor_linux.go's per-platform New.

package reactor

import "github.com/kanchonet/kanchonet-go/api"

// New constructs the Reactor backend named by requested, or auto-selects
// between RIO and IOCP when requested is BackendAuto.
func New(requested Backend) (Reactor, error) {
	switch requested {
	case BackendIOCP:
		return NewIOCP(), nil
	case BackendRIO:
		r := NewRIO()
		if !r.IsSupported() {
			return nil, api.ErrBackendUnsupported
		}
		return r, nil
	case BackendAuto:
		if r := NewRIO(); r.IsSupported() {
			return r, nil
		}
		return NewIOCP(), nil
	default:
		return nil, api.NewError(api.ErrKindInvalidParameter, "reactor.New", nil)
	}
}
