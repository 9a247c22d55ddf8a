// Package socket wraps the platform-native TCP socket primitives the
// reactor backends need: creation, non-blocking mode, address reuse,
// Nagle/keep-alive tuning, buffer sizing, and lifecycle (bind, listen,
// shutdown, close). Every function reports failure as an *api.Error; the
// package itself logs nothing, and propagation is the caller's
// responsibility, matching spec.md's SocketOps contract.
package socket
