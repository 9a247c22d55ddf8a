//go:build windows
// +build windows

// File: socket/socket_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows socket primitives over golang.org/x/sys/windows, grounded on the
// teacher's internal/transport/transport_windows.go IOCP-facing shape,
// generalized down to raw Winsock socket setup since the teacher's version
// left Send/Recv as unimplemented TODOs.

package socket

import (
	"unsafe"

	"github.com/kanchonet/kanchonet-go/api"
	"golang.org/x/sys/windows"
)

var wsaStarted bool

// InitSubsystem calls WSAStartup once per process.
func InitSubsystem() error {
	if wsaStarted {
		return nil
	}
	if err := windows.WSAStartup(uint32(0x0202), &windows.WSAData{}); err != nil {
		return api.NewError(api.ErrKindSocketCreate, "WSAStartup", err)
	}
	wsaStarted = true
	return nil
}

// ShutdownSubsystem calls WSACleanup.
func ShutdownSubsystem() error {
	if !wsaStarted {
		return nil
	}
	err := windows.WSACleanup()
	wsaStarted = false
	if err != nil {
		return api.NewError(api.ErrKindSocketOption, "WSACleanup", err)
	}
	return nil
}

// CreateTCPSocket creates a non-blocking, overlapped-capable TCP/IPv4
// socket.
func CreateTCPSocket() (api.SocketHandle, error) {
	h, err := windows.WSASocket(windows.AF_INET, windows.SOCK_STREAM, windows.IPPROTO_TCP, nil, 0, windows.WSA_FLAG_OVERLAPPED)
	if err != nil {
		return api.InvalidSocketHandle, api.NewError(api.ErrKindSocketCreate, "WSASocket", err)
	}
	if err := SetNonBlocking(api.SocketHandle(h)); err != nil {
		windows.Closesocket(h)
		return api.InvalidSocketHandle, err
	}
	return api.SocketHandle(h), nil
}

// SetNonBlocking issues ioctlsocket(FIONBIO, 1).
func SetNonBlocking(h api.SocketHandle) error {
	var mode uint32 = 1
	if err := windows.IoctlSocket(windows.Handle(h), windows.FIONBIO, &mode); err != nil {
		return api.NewError(api.ErrKindSocketOption, "set_non_blocking", err)
	}
	return nil
}

// SetReuseAddress enables SO_REUSEADDR.
func SetReuseAddress(h api.SocketHandle) error {
	if err := windows.SetsockoptInt(windows.Handle(h), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); err != nil {
		return api.NewError(api.ErrKindSocketOption, "set_reuse_address", err)
	}
	return nil
}

// SetNoDelay toggles TCP_NODELAY.
func SetNoDelay(h api.SocketHandle, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	if err := windows.SetsockoptInt(windows.Handle(h), windows.IPPROTO_TCP, windows.TCP_NODELAY, v); err != nil {
		return api.NewError(api.ErrKindSocketOption, "set_no_delay", err)
	}
	return nil
}

// tcpKeepAlive mirrors the Winsock SIO_KEEPALIVE_VALS struct layout.
type tcpKeepAlive struct {
	OnOff    uint32
	Time     uint32
	Interval uint32
}

// SetKeepAlive drives keep-alive tuning through the WSAIoctl
// SIO_KEEPALIVE_VALS control code, the Windows-native equivalent of Linux's
// TCP_KEEPIDLE/TCP_KEEPINTVL socket options.
func SetKeepAlive(h api.SocketHandle, enable bool, idleMs, intervalMs uint32) error {
	onOff := uint32(0)
	if enable {
		onOff = 1
	}
	in := tcpKeepAlive{OnOff: onOff, Time: idleMs, Interval: intervalMs}
	var bytesReturned uint32
	const sioKeepAliveVals = windows.IOC_IN | windows.IOC_VENDOR | 4

	err := windows.WSAIoctl(
		windows.Handle(h),
		sioKeepAliveVals,
		(*byte)(unsafe.Pointer(&in)),
		uint32(unsafe.Sizeof(in)),
		nil, 0,
		&bytesReturned,
		nil, 0,
	)
	if err != nil {
		return api.NewError(api.ErrKindSocketOption, "set_keep_alive", err)
	}
	return nil
}

// SetSendBufSize sets SO_SNDBUF.
func SetSendBufSize(h api.SocketHandle, size uint32) error {
	if err := windows.SetsockoptInt(windows.Handle(h), windows.SOL_SOCKET, windows.SO_SNDBUF, int(size)); err != nil {
		return api.NewError(api.ErrKindSocketOption, "set_send_buf_size", err)
	}
	return nil
}

// SetRecvBufSize sets SO_RCVBUF.
func SetRecvBufSize(h api.SocketHandle, size uint32) error {
	if err := windows.SetsockoptInt(windows.Handle(h), windows.SOL_SOCKET, windows.SO_RCVBUF, int(size)); err != nil {
		return api.NewError(api.ErrKindSocketOption, "set_recv_buf_size", err)
	}
	return nil
}

// Bind binds the socket to INADDR_ANY:port.
func Bind(h api.SocketHandle, port uint16) error {
	addr := windows.SockaddrInet4{Port: int(port)}
	if err := windows.Bind(windows.Handle(h), &addr); err != nil {
		return api.NewError(api.ErrKindSocketBind, "bind", err)
	}
	return nil
}

// Listen marks the socket as passive with the given backlog.
func Listen(h api.SocketHandle, backlog uint32) error {
	if err := windows.Listen(windows.Handle(h), int(backlog)); err != nil {
		return api.NewError(api.ErrKindSocketListen, "listen", err)
	}
	return nil
}

// Accept accepts one pending connection as a non-blocking socket. Returns
// (InvalidSocketHandle, nil) when nothing is pending.
func Accept(h api.SocketHandle) (api.SocketHandle, error) {
	nfd, _, err := windows.Accept(windows.Handle(h))
	if err != nil {
		if err == windows.WSAEWOULDBLOCK {
			return api.InvalidSocketHandle, nil
		}
		return api.InvalidSocketHandle, api.NewError(api.ErrKindSocketCreate, "accept", err)
	}
	if err := SetNonBlocking(api.SocketHandle(nfd)); err != nil {
		windows.Closesocket(nfd)
		return api.InvalidSocketHandle, err
	}
	return api.SocketHandle(nfd), nil
}

// Recv reads into buf.
func Recv(h api.SocketHandle, buf []byte) (n int, wouldBlock bool, err error) {
	n, e := windows.Read(windows.Handle(h), buf)
	if e != nil {
		if e == windows.WSAEWOULDBLOCK {
			return 0, true, nil
		}
		return 0, false, api.NewError(api.ErrKindReceiveFailed, "recv", e)
	}
	return n, false, nil
}

// Send writes buf, returning the short count on partial writes.
func Send(h api.SocketHandle, buf []byte) (n int, wouldBlock bool, err error) {
	n, e := windows.Write(windows.Handle(h), buf)
	if e != nil {
		if e == windows.WSAEWOULDBLOCK {
			return 0, true, nil
		}
		if e == windows.WSAECONNRESET || e == windows.WSAECONNABORTED {
			return 0, false, api.NewError(api.ErrKindDisconnectObserved, "send", e)
		}
		return 0, false, api.NewError(api.ErrKindSendFailed, "send", e)
	}
	return n, false, nil
}

// ShutdownBoth shuts down both directions of the socket.
func ShutdownBoth(h api.SocketHandle) error {
	if err := windows.Shutdown(windows.Handle(h), windows.SHUT_RDWR); err != nil {
		return api.NewError(api.ErrKindSocketOption, "shutdown", err)
	}
	return nil
}

// Close closes the socket handle. Safe to call at most once per I5.
func Close(h api.SocketHandle) error {
	if err := windows.Closesocket(windows.Handle(h)); err != nil {
		return api.NewError(api.ErrKindSocketOption, "close", err)
	}
	return nil
}
