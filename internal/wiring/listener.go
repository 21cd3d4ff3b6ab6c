package wiring

import (
	"net"
	"sync"
	"time"

	"github.com/ehrlich-b/streamgen"
	"github.com/ehrlich-b/streamgen/collab"
	"github.com/ehrlich-b/streamgen/internal/broker"
	"github.com/ehrlich-b/streamgen/internal/ioshard"
	"github.com/ehrlich-b/streamgen/internal/pattern"
	"github.com/ehrlich-b/streamgen/internal/ratelimit"
	"github.com/ehrlich-b/streamgen/internal/server"
	"github.com/ehrlich-b/streamgen/internal/socket"
)

// Listener owns one bound shard, its dispatcher, and the broker pooling
// accepted connections against it.
type Listener struct {
	shard *ioshard.Shard
	disp  *server.Dispatcher
	brk   *broker.Broker
	cfg   pattern.Config
	limit ratelimit.Policy
	obs   streamgen.Observer
	sink  collab.StatusSink

	mu    sync.Mutex
	conns map[connKey]*ServerConnection
}

type connKey string

func keyOf(a net.Addr) connKey { return connKey(a.String()) }

// NewListener wires a shard + dispatcher + broker together for the
// accepting role. brokerCfg.Factory is ignored and overwritten: the
// listener supplies its own factory that queues a waitingAccept and lets
// the dispatcher pair it against the next START.
func NewListener(shard *ioshard.Shard, brokerCfg broker.Config, cfg pattern.Config, limit ratelimit.Policy, obs streamgen.Observer, sink collab.StatusSink) (*Listener, error) {
	l := &Listener{
		shard: shard,
		disp:  server.NewDispatcher([]*ioshard.Shard{shard}),
		cfg:   cfg,
		limit: limit,
		obs:   obs,
		sink:  sink,
		conns: make(map[connKey]*ServerConnection),
	}

	brokerCfg.Accepting = true
	brokerCfg.Factory = acceptFactory{l: l}
	brk, err := broker.New(brokerCfg)
	if err != nil {
		return nil, err
	}
	l.brk = brk

	l.disp.OnNewConnection(func(local, remote net.Addr) {
		if l.sink != nil {
			l.sink.PrintNewConnection(local, remote)
		}
	})
	l.disp.OnDuplicateStart(func(net.Addr) {
		if l.obs != nil {
			l.obs.ObserveError()
		}
	})
	// In upload mode an accepted connection's own receiver role needs
	// every post-handshake datagram from its peer; in stream-pull mode
	// no connection ever registers interest and this is a no-op lookup.
	l.disp.OnDatagram(func(peer net.Addr, buf []byte, n int) {
		l.mu.Lock()
		conn, ok := l.conns[keyOf(peer)]
		l.mu.Unlock()
		if ok {
			conn.HandleReceive(buf, n, peer, nil)
		}
	})
	return l, nil
}

// Start begins accepting: starts the dispatcher's shard worker pool and
// the broker's initial top-up.
func (l *Listener) Start() {
	l.disp.StartShard(l.shard)
	l.brk.Start()
}

// Wait blocks until the broker signals done or the timeout elapses.
func (l *Listener) Wait(timeout time.Duration) bool {
	return l.brk.Wait(timeout)
}

// Connections returns a snapshot of every peer the listener has paired
// off the awaiting-endpoints queue, for status reporting and tests.
func (l *Listener) Connections() []*ServerConnection {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*ServerConnection, 0, len(l.conns))
	for _, c := range l.conns {
		out = append(out, c)
	}
	return out
}

// waitingAccept is queued into the broker's counters as "pending" the
// moment it is created, and transitions to "active" once the dispatcher
// binds it to a peer.
type waitingAccept struct {
	l      *Listener
	handle *acceptHandle
}

func (w waitingAccept) Bind(peer net.Addr) {
	conn := NewServerConnection(w.l.shard, w.l.shard.LocalAddr(), peer, w.l.cfg, w.l.limit, w.l.brk, w.l.obs)
	w.l.mu.Lock()
	w.l.conns[keyOf(peer)] = conn
	w.l.mu.Unlock()
	w.handle.bind(conn)
	conn.Start()
}

// acceptFactory is the broker.SocketFactory that queues one
// waitingAccept per pending slot the broker wants to keep topped up.
type acceptFactory struct {
	l *Listener
}

func (f acceptFactory) CreateAndStart() (broker.Handle, error) {
	h := &acceptHandle{}
	w := waitingAccept{l: f.l, handle: h}
	f.l.disp.AcceptSocket(f.l.shard.LocalAddr(), w)
	return h, nil
}

// acceptHandle reports Closed once the bound connection (if any) reaches
// the Closed socket state. An accept that never got a peer stays
// unclosed, so the broker leaves it pending until shutdown.
type acceptHandle struct {
	mu   sync.Mutex
	conn *ServerConnection
}

func (h *acceptHandle) bind(c *ServerConnection) {
	h.mu.Lock()
	h.conn = c
	h.mu.Unlock()
}

func (h *acceptHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil && h.conn.State() == socket.Closed
}
