// Package socket implements the per-connection state machine: Created,
// Connecting, InitiatingIo, Closing, Closed. It owns the pattern and the
// OS handle, and notifies the broker at each lifecycle transition so the
// broker's pending/active counters stay accurate.
package socket

import (
	"net"
	"sync"

	"github.com/ehrlich-b/streamgen/internal/pattern"
)

// State is one of the five lifecycle states a connection passes through.
type State int

const (
	Created State = iota
	Connecting
	InitiatingIo
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Connecting:
		return "connecting"
	case InitiatingIo:
		return "initiating-io"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// BrokerHooks is the small set of lifecycle notifications a Socket sends
// to its owning broker. All methods must be safe to call from any
// goroutine and must not block on further socket work.
type BrokerHooks interface {
	InitiatingIo()
	Closing(wasActive bool)
}

// Socket is one connection's lifecycle state machine. Closing the OS
// handle is idempotent and always precedes the transition to Closed.
type Socket struct {
	mu      sync.Mutex
	state   State
	local   net.Addr
	remote  net.Addr
	closeFn func() error
	hooks   BrokerHooks
	stats   pattern.Stats
}

// New constructs a Socket in the Created state.
func New(local net.Addr, closeFn func() error, hooks BrokerHooks) *Socket {
	return &Socket{state: Created, local: local, closeFn: closeFn, hooks: hooks}
}

// State returns the current lifecycle state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BeginConnecting transitions Created -> Connecting. The caller has
// already invoked the role-specific connect function (client: send
// START; server: register in the accept queue).
func (s *Socket) BeginConnecting(remote net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Created {
		return
	}
	s.remote = remote
	s.state = Connecting
}

// ConnectSucceeded transitions Connecting -> InitiatingIo and notifies
// the broker.
func (s *Socket) ConnectSucceeded() {
	s.mu.Lock()
	if s.state != Connecting {
		s.mu.Unlock()
		return
	}
	s.state = InitiatingIo
	hooks := s.hooks
	s.mu.Unlock()
	if hooks != nil {
		hooks.InitiatingIo()
	}
}

// ConnectFailed transitions directly to Closed from Created or
// Connecting, notifying the broker that this socket was never active.
func (s *Socket) ConnectFailed() error {
	s.mu.Lock()
	if s.state != Created && s.state != Connecting {
		s.mu.Unlock()
		return nil
	}
	s.state = Closed
	hooks := s.hooks
	closeFn := s.closeFn
	s.mu.Unlock()

	err := closeHandle(closeFn)
	if hooks != nil {
		hooks.Closing(false)
	}
	return err
}

// BeginClosing transitions InitiatingIo -> Closing: the pattern returned
// a terminal status, or the I/O engine errored out.
func (s *Socket) BeginClosing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != InitiatingIo {
		return
	}
	s.state = Closing
}

// FinishClosing transitions Closing -> Closed once pended I/O reaches
// zero, closes the handle, and notifies the broker that this socket was
// active.
func (s *Socket) FinishClosing() error {
	s.mu.Lock()
	if s.state != Closing {
		s.mu.Unlock()
		return nil
	}
	s.state = Closed
	hooks := s.hooks
	closeFn := s.closeFn
	s.mu.Unlock()

	err := closeHandle(closeFn)
	if hooks != nil {
		hooks.Closing(true)
	}
	return err
}

func closeHandle(closeFn func() error) error {
	if closeFn == nil {
		return nil
	}
	return closeFn()
}

// RemoteAddr returns the peer address once known.
func (s *Socket) RemoteAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// LocalAddr returns the socket's local address.
func (s *Socket) LocalAddr() net.Addr {
	return s.local
}
