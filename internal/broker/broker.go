// Package broker implements the socket pool: pending/active/total
// counters, throttled top-up, a single-threaded refresh queue, and a done
// event the caller waits on.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// unboundedSentinel marks total_remaining as unbounded (iterations ==
// unbounded), per the broker's construction rule.
const unboundedSentinel = -1

// SocketFactory creates, starts, and reports the terminal state of one
// connection. The broker never looks inside a created socket beyond
// asking whether it has reached Closed.
type SocketFactory interface {
	// CreateAndStart spins up a new connection attempt. It returns a
	// handle the broker can poll for closure; the factory itself is
	// responsible for calling back into Broker.InitiatingIo/Closing as
	// the connection's own state machine progresses.
	CreateAndStart() (Handle, error)
}

// Handle is the broker's view of one pooled connection: whether it has
// reached Closed and can be reaped.
type Handle interface {
	Closed() bool
}

// Config parameterizes broker construction.
type Config struct {
	Accepting bool

	ServerExitLimit  int
	AcceptLimit      int
	Iterations       int // 0 means unbounded
	ConnectionLimit  int
	ThrottleLimit    int // connection-throttle limit, clients only
	AffinityRequired bool
	AffinitySupport  bool

	Factory SocketFactory
}

// Broker pools connections, throttling spin-up against configured limits
// and signaling a done event once every socket has finished and no more
// may be created.
type Broker struct {
	cfg Config

	mu             sync.Mutex
	pending        int
	active         int
	totalRemaining int
	pendingLimit   int
	shuttingDown   bool
	handles        []Handle

	throttle *rate.Limiter

	doneOnce sync.Once
	done     chan struct{}
	cancel   chan struct{}

	refreshMu sync.Mutex // serializes refresh_sockets, the single-threaded work queue
}

// New constructs a Broker per the parameter rules in the broker's
// construction contract, failing fast if sharding requires the
// per-socket affinity ioctl and it isn't supported.
func New(cfg Config) (*Broker, error) {
	if cfg.AffinityRequired && !cfg.AffinitySupport {
		return nil, fmt.Errorf("broker: setup: sharding requested but kernel per-socket affinity ioctl is absent")
	}

	b := &Broker{cfg: cfg, done: make(chan struct{}), cancel: make(chan struct{})}

	if cfg.Accepting {
		b.totalRemaining = cfg.ServerExitLimit
		b.pendingLimit = cfg.AcceptLimit
	} else {
		if cfg.Iterations == 0 {
			b.totalRemaining = unboundedSentinel
		} else {
			b.totalRemaining = cfg.Iterations * cfg.ConnectionLimit
		}
		b.pendingLimit = cfg.ConnectionLimit
		if cfg.ThrottleLimit > 0 {
			b.throttle = rate.NewLimiter(rate.Limit(cfg.ThrottleLimit), cfg.ThrottleLimit)
		}
	}
	if b.totalRemaining != unboundedSentinel && b.pendingLimit > b.totalRemaining {
		b.pendingLimit = b.totalRemaining
	}
	return b, nil
}

// Start spins up sockets until pending reaches pendingLimit or
// totalRemaining is exhausted.
func (b *Broker) Start() {
	b.refreshSockets()
}

// InitiatingIo is the pending -> active transition hook a Socket calls
// once its connect succeeds.
func (b *Broker) InitiatingIo() {
	b.mu.Lock()
	if b.pending <= 0 {
		b.mu.Unlock()
		panic("broker: invariant violated: initiating_io with pending <= 0")
	}
	b.pending--
	b.active++
	b.mu.Unlock()
	go b.refreshSockets()
}

// Closing is the terminal-transition hook a Socket calls once it reaches
// Closed, reporting whether it had been active.
func (b *Broker) Closing(wasActive bool) {
	b.mu.Lock()
	if wasActive {
		if b.active <= 0 {
			b.mu.Unlock()
			panic("broker: invariant violated: closing(active) with active <= 0")
		}
		b.active--
	} else {
		if b.pending <= 0 {
			b.mu.Unlock()
			panic("broker: invariant violated: closing(pending) with pending <= 0")
		}
		b.pending--
	}
	b.mu.Unlock()
	go b.refreshSockets()
}

func (b *Broker) totalRemainingLocked() bool {
	return b.totalRemaining == unboundedSentinel || b.totalRemaining > 0
}

func (b *Broker) decrementTotalLocked() {
	if b.totalRemaining != unboundedSentinel {
		b.totalRemaining--
	}
}

// refreshSockets runs the single-threaded reap-then-top-up cycle: collect
// closed handles, spin up replacements while under the limits, and signal
// done once everything has drained.
func (b *Broker) refreshSockets() {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	b.mu.Lock()
	live := b.handles[:0]
	for _, h := range b.handles {
		if !h.Closed() {
			live = append(live, h)
		}
	}
	b.handles = live
	shuttingDown := b.shuttingDown
	b.mu.Unlock()

	if !shuttingDown {
		for {
			b.mu.Lock()
			canTopUp := b.pending < b.pendingLimit && b.totalRemainingLocked()
			if !b.cfg.Accepting {
				canTopUp = canTopUp && b.pending+b.active < b.cfg.ConnectionLimit
				if b.cfg.ThrottleLimit > 0 {
					canTopUp = canTopUp && b.pending < b.cfg.ThrottleLimit
				}
			}
			if !canTopUp {
				b.mu.Unlock()
				break
			}
			b.mu.Unlock()

			if b.throttle != nil && !b.throttle.Allow() {
				break
			}

			// Count the slot as pending before the factory runs: the
			// connection it starts may call InitiatingIo or Closing before
			// CreateAndStart returns.
			b.mu.Lock()
			b.pending++
			b.decrementTotalLocked()
			b.mu.Unlock()

			handle, err := b.cfg.Factory.CreateAndStart()
			b.mu.Lock()
			if err != nil {
				b.pending--
				if b.totalRemaining != unboundedSentinel {
					b.totalRemaining++
				}
				b.mu.Unlock()
				break
			}
			b.handles = append(b.handles, handle)
			b.mu.Unlock()
		}
	}

	b.mu.Lock()
	finished := (b.totalRemaining == 0) && b.pending == 0 && b.active == 0
	b.mu.Unlock()
	if finished {
		b.signalDone()
	}
}

func (b *Broker) signalDone() {
	b.doneOnce.Do(func() { close(b.done) })
}

// Shutdown stops the broker from topping up further and signals
// cancellation to any waiter.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	b.shuttingDown = true
	b.mu.Unlock()
	select {
	case <-b.cancel:
	default:
		close(b.cancel)
	}
}

// Wait blocks for either the done event or external cancellation, up to
// timeout. It returns true if either fired, false on timeout.
func (b *Broker) Wait(timeout time.Duration) bool {
	ctx, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()
	select {
	case <-b.done:
		return true
	case <-b.cancel:
		return true
	case <-ctx.Done():
		return false
	}
}

// Pending returns the current pending count, for tests and status
// reporting.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Active returns the current active count.
func (b *Broker) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}
