// Package executor drives one connected peer's task loop: pull the next
// task from its pattern, execute it (inline if imminent, on a deadline
// timer otherwise), and chain back into the pattern while it keeps
// returning ContinueIo.
package executor

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ehrlich-b/streamgen/internal/pattern"
	"github.com/ehrlich-b/streamgen/internal/task"
	"golang.org/x/sys/unix"
)

// ErrMessageTooBig is returned by a Sender when a datagram exceeds the
// transport's maximum size.
var ErrMessageTooBig = errors.New("executor: message too big")

// Sender performs the actual wire I/O for a task's buffer.
type Sender interface {
	Send(buf []byte, addr net.Addr) error
}

// Pattern is the minimal surface an executor needs from either role's
// pattern implementation.
type Pattern interface {
	NextTask() task.Task
}

// ResultHandler turns a finished send/recv into a pattern verdict. The
// caller supplies this as a closure over the concrete pattern type, since
// the server and client roles have different complete_task shapes.
type ResultHandler func(t task.Task, err error) pattern.Verdict

// Executor owns the deadline timer and the fine-grained lock guarding a
// single connection's task execution.
type Executor struct {
	mu      sync.Mutex
	pat     Pattern
	sender  Sender
	handler ResultHandler
	addr    net.Addr

	timer *time.Timer

	onTerminal func(verdict pattern.Verdict, err error)
}

// New builds an Executor for one connected peer.
func New(pat Pattern, sender Sender, addr net.Addr, handler ResultHandler, onTerminal func(pattern.Verdict, error)) *Executor {
	return &Executor{pat: pat, sender: sender, addr: addr, handler: handler, onTerminal: onTerminal}
}

// InitiateIo asks the pattern for its next task and schedules it: inline
// if the offset is under 2ms, else on a deadline timer.
func (e *Executor) InitiateIo() {
	e.mu.Lock()
	t := e.pat.NextTask()
	e.mu.Unlock()

	if t.Action == task.ActionNone {
		return
	}
	if t.TimeOffsetMs < 2 {
		e.execute(t)
		return
	}
	e.armTimer(t)
}

func (e *Executor) armTimer(t task.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(time.Duration(t.TimeOffsetMs)*time.Millisecond, func() {
		e.execute(t)
	})
}

// execute performs the send/recv and chains back into the pattern while
// it keeps returning ContinueIo, inlining any task whose own offset is
// near-deadline.
func (e *Executor) execute(t task.Task) {
	var err error
	switch t.Action {
	case task.ActionSend:
		err = e.sender.Send(t.Buffer, e.addr)
		if err != nil && isMessageTooBig(err) {
			err = fmt.Errorf("%w: %d bytes", ErrMessageTooBig, len(t.Buffer))
		}
	case task.ActionRecv:
		// Receives are driven by the shard's completion callback, not by
		// the executor directly; NextTask returning a Recv just tells the
		// caller to keep a receive posted, which the shard already does.
	case task.ActionAbort, task.ActionFatalAbort, task.ActionGracefulShutdown, task.ActionHardShutdown:
		// terminal task kinds resolve straight to a verdict below.
	}

	verdict := e.handler(t, err)
	switch verdict {
	case pattern.ContinueIo:
		e.InitiateIo()
	case pattern.CompletedIo, pattern.FailedIo:
		if e.onTerminal != nil {
			e.onTerminal(verdict, err)
		}
	}
}

// Stop cancels any pending deadline timer.
func (e *Executor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
	}
}

func isMessageTooBig(err error) bool {
	return errors.Is(err, unix.EMSGSIZE)
}
