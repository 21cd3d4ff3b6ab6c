package streamgen

import (
	"errors"
	"fmt"
	"syscall"
)

// Error is a structured streamgen error carrying the operation, the
// connection it happened on (if any), and its error-kind classification.
type Error struct {
	Op     string        // operation that failed (e.g. "bind", "recv", "complete_task")
	ConnID string        // connection identifier (empty if not applicable)
	Shard  int           // shard index (-1 if not applicable)
	Kind   ErrorKind      // high-level error category
	Errno  syscall.Errno // kernel errno (0 if not applicable)
	Msg    string        // human-readable message
	Inner  error         // wrapped error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.ConnID != "" {
		parts = append(parts, fmt.Sprintf("conn=%s", e.ConnID))
	}
	if e.Shard >= 0 {
		parts = append(parts, fmt.Sprintf("shard=%d", e.Shard))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}

	if len(parts) > 0 {
		detail := parts[0]
		for _, p := range parts[1:] {
			detail += " " + p
		}
		return fmt.Sprintf("streamgen: %s (%s)", msg, detail)
	}
	return fmt.Sprintf("streamgen: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches another *Error by Kind, so callers can test with
// errors.Is(err, &Error{Kind: KindSetup}) without comparing messages.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

// ErrorKind classifies an error per the error-handling design's five
// categories: Setup, Transient I/O, Protocol, Pattern-terminal, and
// Broker-invariant.
type ErrorKind string

const (
	KindSetup           ErrorKind = "setup"
	KindTransientIO     ErrorKind = "transient-io"
	KindProtocol        ErrorKind = "protocol"
	KindPatternTerminal ErrorKind = "pattern-terminal"
	KindBrokerInvariant ErrorKind = "broker-invariant"
)

// NewSetupError wraps a fatal setup-time failure: socket creation, bind,
// ring creation, initial post, or affinity application. These are fatal
// to the owning shard.
func NewSetupError(op string, shard int, inner error) *Error {
	return &Error{Op: op, Shard: shard, Kind: KindSetup, Msg: describe(inner), Inner: inner}
}

// NewTransientIOError wraps a recoverable per-task failure: port
// unreachable, too-few-bytes, oversize datagram. The caller logs and
// re-posts; the connection stays up.
func NewTransientIOError(op string, connID string, inner error) *Error {
	e := &Error{Op: op, ConnID: connID, Shard: -1, Kind: KindTransientIO, Msg: describe(inner), Inner: inner}
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		e.Errno = errno
	}
	return e
}

// NewProtocolError wraps a codec-level failure: corrupted payload or
// unknown sequence number. The pattern decides whether to continue.
func NewProtocolError(op string, connID string, msg string) *Error {
	return &Error{Op: op, ConnID: connID, Shard: -1, Kind: KindProtocol, Msg: msg}
}

// NewBrokerInvariantError wraps a pending/active counter violation. This
// classification is assertion-fatal; the caller should not try to
// continue running after constructing one.
func NewBrokerInvariantError(op string, msg string) *Error {
	return &Error{Op: op, Shard: -1, Kind: KindBrokerInvariant, Msg: msg}
}

func describe(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
