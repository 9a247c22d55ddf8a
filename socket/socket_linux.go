//go:build linux
// +build linux

// File: socket/socket_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux socket primitives over golang.org/x/sys/unix, grounded on the
// teacher's internal/transport/transport_linux.go syscall idiom.

package socket

import (
	"github.com/kanchonet/kanchonet-go/api"
	"golang.org/x/sys/unix"
)

// InitSubsystem is a no-op on Linux; sockets need no process-wide startup.
func InitSubsystem() error { return nil }

// ShutdownSubsystem is a no-op on Linux.
func ShutdownSubsystem() error { return nil }

// CreateTCPSocket creates a non-blocking TCP/IPv4 socket.
func CreateTCPSocket() (api.SocketHandle, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return api.InvalidSocketHandle, api.NewError(api.ErrKindSocketCreate, "socket", err)
	}
	return api.SocketHandle(fd), nil
}

// SetNonBlocking is redundant on sockets created via CreateTCPSocket but is
// exposed for sockets obtained by other means (e.g. accept results).
func SetNonBlocking(h api.SocketHandle) error {
	if err := unix.SetNonblock(int(h), true); err != nil {
		return api.NewError(api.ErrKindSocketOption, "set_non_blocking", err)
	}
	return nil
}

// SetReuseAddress enables SO_REUSEADDR.
func SetReuseAddress(h api.SocketHandle) error {
	if err := unix.SetsockoptInt(int(h), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return api.NewError(api.ErrKindSocketOption, "set_reuse_address", err)
	}
	return nil
}

// SetNoDelay toggles TCP_NODELAY (disabling Nagle when enable is true).
func SetNoDelay(h api.SocketHandle, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	if err := unix.SetsockoptInt(int(h), unix.IPPROTO_TCP, unix.TCP_NODELAY, v); err != nil {
		return api.NewError(api.ErrKindSocketOption, "set_no_delay", err)
	}
	return nil
}

// SetKeepAlive enables or disables SO_KEEPALIVE and, when enabling, tunes
// the idle time and probe interval.
func SetKeepAlive(h api.SocketHandle, enable bool, idleMs, intervalMs uint32) error {
	v := 0
	if enable {
		v = 1
	}
	if err := unix.SetsockoptInt(int(h), unix.SOL_SOCKET, unix.SO_KEEPALIVE, v); err != nil {
		return api.NewError(api.ErrKindSocketOption, "set_keep_alive", err)
	}
	if !enable {
		return nil
	}
	idleSec := int(idleMs / 1000)
	if idleSec < 1 {
		idleSec = 1
	}
	intervalSec := int(intervalMs / 1000)
	if intervalSec < 1 {
		intervalSec = 1
	}
	if err := unix.SetsockoptInt(int(h), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, idleSec); err != nil {
		return api.NewError(api.ErrKindSocketOption, "set_keep_alive_idle", err)
	}
	if err := unix.SetsockoptInt(int(h), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, intervalSec); err != nil {
		return api.NewError(api.ErrKindSocketOption, "set_keep_alive_interval", err)
	}
	return nil
}

// SetSendBufSize sets SO_SNDBUF.
func SetSendBufSize(h api.SocketHandle, size uint32) error {
	if err := unix.SetsockoptInt(int(h), unix.SOL_SOCKET, unix.SO_SNDBUF, int(size)); err != nil {
		return api.NewError(api.ErrKindSocketOption, "set_send_buf_size", err)
	}
	return nil
}

// SetRecvBufSize sets SO_RCVBUF.
func SetRecvBufSize(h api.SocketHandle, size uint32) error {
	if err := unix.SetsockoptInt(int(h), unix.SOL_SOCKET, unix.SO_RCVBUF, int(size)); err != nil {
		return api.NewError(api.ErrKindSocketOption, "set_recv_buf_size", err)
	}
	return nil
}

// Bind binds the socket to INADDR_ANY:port.
func Bind(h api.SocketHandle, port uint16) error {
	addr := &unix.SockaddrInet4{Port: int(port)}
	if err := unix.Bind(int(h), addr); err != nil {
		return api.NewError(api.ErrKindSocketBind, "bind", err)
	}
	return nil
}

// Listen marks the socket as passive with the given backlog.
func Listen(h api.SocketHandle, backlog uint32) error {
	if err := unix.Listen(int(h), int(backlog)); err != nil {
		return api.NewError(api.ErrKindSocketListen, "listen", err)
	}
	return nil
}

// Accept accepts one pending connection as a non-blocking socket. Returns
// (InvalidSocketHandle, nil) when no connection is pending
// (EAGAIN/EWOULDBLOCK) — this is not an error at this layer.
func Accept(h api.SocketHandle) (api.SocketHandle, error) {
	nfd, _, err := unix.Accept4(int(h), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return api.InvalidSocketHandle, nil
		}
		return api.InvalidSocketHandle, api.NewError(api.ErrKindSocketCreate, "accept", err)
	}
	return api.SocketHandle(nfd), nil
}

// Recv reads into buf. EAGAIN (nothing currently available) is reported as
// (0, true, nil); io.EOF-equivalent (peer closed) is reported as
// (0, false, nil) — callers distinguish orderly close from would-block via
// the wouldBlock return.
func Recv(h api.SocketHandle, buf []byte) (n int, wouldBlock bool, err error) {
	n, e := unix.Read(int(h), buf)
	if e != nil {
		if e == unix.EAGAIN || e == unix.EWOULDBLOCK {
			return 0, true, nil
		}
		return 0, false, api.NewError(api.ErrKindReceiveFailed, "recv", e)
	}
	return n, false, nil
}

// Send writes buf, returning the short count on partial writes.
func Send(h api.SocketHandle, buf []byte) (n int, wouldBlock bool, err error) {
	n, e := unix.Write(int(h), buf)
	if e != nil {
		if e == unix.EAGAIN || e == unix.EWOULDBLOCK {
			return 0, true, nil
		}
		if e == unix.EPIPE || e == unix.ECONNRESET {
			return 0, false, api.NewError(api.ErrKindDisconnectObserved, "send", e)
		}
		return 0, false, api.NewError(api.ErrKindSendFailed, "send", e)
	}
	return n, false, nil
}

// ShutdownBoth shuts down both directions of the socket without closing
// its descriptor.
func ShutdownBoth(h api.SocketHandle) error {
	if err := unix.Shutdown(int(h), unix.SHUT_RDWR); err != nil {
		return api.NewError(api.ErrKindSocketOption, "shutdown", err)
	}
	return nil
}

// Close closes the socket descriptor. Safe to call at most once per I5.
func Close(h api.SocketHandle) error {
	if err := unix.Close(int(h)); err != nil {
		return api.NewError(api.ErrKindSocketOption, "close", err)
	}
	return nil
}
