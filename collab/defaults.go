package collab

import (
	"net"

	"github.com/ehrlich-b/streamgen/internal/logging"
	"golang.org/x/sys/unix"
)

// DefaultSocketOptions applies SO_REUSEADDR before bind and leaves
// connected sockets untouched. It is what the demo CLI wires in when the
// caller hasn't supplied anything else.
type DefaultSocketOptions struct{}

// SetPreBindOptions sets SO_REUSEADDR so a restarted listener shard can
// rebind immediately.
func (DefaultSocketOptions) SetPreBindOptions(fd int, _ net.Addr) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

// SetPostConnectOptions is a no-op in the default implementation.
func (DefaultSocketOptions) SetPostConnectOptions(int, net.Addr) {}

// DefaultSocketFactory creates plain blocking UDP sockets via the raw
// syscall, matching what internal/ioshard needs to hand to its ring.
type DefaultSocketFactory struct{}

// CreateSocket wraps unix.Socket. The returned fd is left blocking: the
// non-giouring ring drives it from a dedicated per-socket goroutine that
// wants blocking recvfrom semantics, and the giouring ring manages its own
// async submission regardless of the fd's blocking mode.
func (DefaultSocketFactory) CreateSocket(family, sockType, protocol int, flags uint32) (int, error) {
	fd, err := unix.Socket(family, sockType|int(flags), protocol)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// LogStatusSink routes every status notification through internal/logging
// at an appropriate level. It never panics and never blocks on I/O beyond
// what the logger itself does.
type LogStatusSink struct {
	Logger *logging.Logger
}

// NewLogStatusSink builds a LogStatusSink over the default logger.
func NewLogStatusSink() *LogStatusSink {
	return &LogStatusSink{Logger: logging.Default()}
}

func (s *LogStatusSink) logger() *logging.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logging.Default()
}

// PrintErrorInfo logs err with its context at warn level; status sinks are
// never allowed to escalate to a connection-tearing failure themselves.
func (s *LogStatusSink) PrintErrorInfo(err error, context string) {
	s.logger().Warnf("%s: %v", context, err)
}

// PrintNewConnection logs the local/remote address pair for a newly
// accepted or connected socket.
func (s *LogStatusSink) PrintNewConnection(local, remote net.Addr) {
	s.logger().Infof("connection local=%s remote=%s", addrString(local), addrString(remote))
}

// PrintJitterUpdate logs a client-side frame renumbering, i.e. a jitter
// buffer slot resolving to a different frame than the one rendered last.
func (s *LogStatusSink) PrintJitterUpdate(frame, previousFrame int64) {
	s.logger().Debugf("jitter update frame=%d previous=%d", frame, previousFrame)
}

// PrintThrownException logs a recovered panic. Callers are expected to
// have already stopped unwinding via recover(); this just reports it.
func (s *LogStatusSink) PrintThrownException(recovered interface{}) {
	s.logger().Errorf("recovered panic: %v", recovered)
}

func addrString(a net.Addr) string {
	if a == nil {
		return "<nil>"
	}
	return a.String()
}
