//go:build !linux && !windows
// +build !linux,!windows

// File: socket/socket_stub.go
// Author: momentics <momentics@gmail.com>
//
// Placeholder for platforms with no wired socket backend, mirroring the
// teacher's reactor_stub.go convention.

package socket

import "github.com/kanchonet/kanchonet-go/api"

func unsupported(op string) error {
	return api.NewError(api.ErrKindBackendUnsupported, op, nil)
}

func InitSubsystem() error     { return nil }
func ShutdownSubsystem() error { return nil }

func CreateTCPSocket() (api.SocketHandle, error) {
	return api.InvalidSocketHandle, unsupported("create_tcp_socket")
}
func SetNonBlocking(api.SocketHandle) error                          { return unsupported("set_non_blocking") }
func SetReuseAddress(api.SocketHandle) error                         { return unsupported("set_reuse_address") }
func SetNoDelay(api.SocketHandle, bool) error                        { return unsupported("set_no_delay") }
func SetKeepAlive(api.SocketHandle, bool, uint32, uint32) error      { return unsupported("set_keep_alive") }
func SetSendBufSize(api.SocketHandle, uint32) error                  { return unsupported("set_send_buf_size") }
func SetRecvBufSize(api.SocketHandle, uint32) error                  { return unsupported("set_recv_buf_size") }
func Bind(api.SocketHandle, uint16) error                            { return unsupported("bind") }
func Listen(api.SocketHandle, uint32) error                          { return unsupported("listen") }
func Accept(api.SocketHandle) (api.SocketHandle, error) {
	return api.InvalidSocketHandle, unsupported("accept")
}
func Recv(api.SocketHandle, []byte) (int, bool, error) { return 0, false, unsupported("recv") }
func Send(api.SocketHandle, []byte) (int, bool, error) { return 0, false, unsupported("send") }
func ShutdownBoth(api.SocketHandle) error              { return unsupported("shutdown") }
func Close(api.SocketHandle) error                     { return unsupported("close") }
