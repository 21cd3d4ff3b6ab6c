// Package collab defines the small collaborator interfaces the core
// packages consume but never implement themselves: socket option tuning,
// socket construction, and status reporting. Default implementations live
// alongside the interfaces for callers that don't need anything fancier.
package collab

import "net"

// SocketOptions tunes a socket before and after it becomes routable.
// Implementations must be safe to call from any shard worker.
type SocketOptions interface {
	// SetPreBindOptions is applied to a socket before bind/connect. An
	// error here is a Setup failure and is fatal to the owning shard.
	SetPreBindOptions(fd int, addr net.Addr) error
	// SetPostConnectOptions is applied after a socket is connected or
	// accepted. Best-effort: implementations should log rather than fail
	// the connection over a tuning knob that didn't take.
	SetPostConnectOptions(fd int, addr net.Addr)
}

// SocketFactory constructs the raw file descriptor a shard or executor
// wraps. Swapping this out is how a caller substitutes a test double or a
// platform-specific socket flavor (e.g. overlapped I/O) without the core
// packages knowing about it.
type SocketFactory interface {
	CreateSocket(family, sockType, protocol int, flags uint32) (fd int, err error)
}

// StatusSink receives best-effort, never-throwing status notifications.
// Every method here is fire-and-forget: callers must not let a slow or
// failing sink block I/O.
type StatusSink interface {
	PrintErrorInfo(err error, context string)
	PrintNewConnection(local, remote net.Addr)
	PrintJitterUpdate(frame, previousFrame int64)
	PrintThrownException(recovered interface{})
}
