// Package task defines the unit of work exchanged between an I/O pattern
// and the executor that schedules it.
package task

// Action identifies what an executor should do with a Task.
type Action int

const (
	ActionNone Action = iota
	ActionSend
	ActionRecv
	ActionGracefulShutdown
	ActionHardShutdown
	ActionAbort
	ActionFatalAbort
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionSend:
		return "send"
	case ActionRecv:
		return "recv"
	case ActionGracefulShutdown:
		return "graceful-shutdown"
	case ActionHardShutdown:
		return "hard-shutdown"
	case ActionAbort:
		return "abort"
	case ActionFatalAbort:
		return "fatal-abort"
	default:
		return "unknown"
	}
}

// BufferType discriminates who owns the memory backing a Task's buffer, so
// the executor knows whether it may reuse, pool, or must never free it.
type BufferType int

const (
	BufferNull BufferType = iota
	BufferTCPConnectionID
	BufferUDPConnectionID
	BufferCompletionMessage
	BufferStatic
	BufferDynamic
)

// Task is the unit of work a pattern hands to an executor: a relative-timed
// action over a borrowed byte range. The buffer's backing storage always
// outlives the pattern (ring-backed, executor scratch, or static), so Task
// itself never allocates or owns memory.
type Task struct {
	Action                Action
	Buffer                []byte
	BufferType            BufferType
	TimeOffsetMs          int64
	ExpectedPatternOffset int
	TrackIO               bool

	// PeerAddr carries the remote address for send/recv tasks that don't
	// yet have a connected socket (e.g. the server's initial ID reply).
	PeerAddr interface{}
}

// None is the canonical no-op task returned when a pattern has nothing to
// do right now but isn't finished.
func None() Task {
	return Task{Action: ActionNone}
}
