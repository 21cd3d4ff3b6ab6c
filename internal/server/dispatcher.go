// Package server implements the listener/dispatcher: it owns one shard
// per (listen address, shard index), routes incoming datagrams between
// the "awaiting endpoints" and "accepting sockets" queues, and pairs them
// up into connected executors.
package server

import (
	"net"
	"sync"

	"github.com/ehrlich-b/streamgen/internal/ioshard"
	"github.com/ehrlich-b/streamgen/internal/wire"
)

// Waiting is a socket-state handle queued for a peer via accept_socket,
// before any datagram has arrived for it.
type Waiting interface {
	// Bind completes the waiting socket against a newly discovered peer,
	// transitioning it to a connected executor.
	Bind(peer net.Addr)
}

// Dispatcher routes datagrams landing on a listener's shards between the
// awaiting-endpoints and accepting-sockets queues, and forwards
// already-connected traffic to its executor.
type Dispatcher struct {
	shards []*ioshard.Shard

	mu                sync.Mutex
	connected         map[string]Waiting // peer addr string -> bound handle
	awaitingEndpoints []net.Addr
	acceptingSockets  []Waiting

	onDuplicateStart func(peer net.Addr)
	onNewConnection  func(local, remote net.Addr)
	onDatagram       func(peer net.Addr, buf []byte, n int)
}

// NewDispatcher builds a Dispatcher over an already-started set of
// shards.
func NewDispatcher(shards []*ioshard.Shard) *Dispatcher {
	return &Dispatcher{
		shards:    shards,
		connected: make(map[string]Waiting),
	}
}

// OnNewConnection registers the status-sink style callback fired whenever
// a START datagram successfully pairs with a waiting socket.
func (d *Dispatcher) OnNewConnection(fn func(local, remote net.Addr)) {
	d.onNewConnection = fn
}

// OnDuplicateStart registers the callback fired when a second START
// arrives for an already-connected peer.
func (d *Dispatcher) OnDuplicateStart(fn func(peer net.Addr)) {
	d.onDuplicateStart = fn
}

// OnDatagram registers the callback used to forward a non-START datagram
// to whatever already-connected executor owns that peer.
func (d *Dispatcher) OnDatagram(fn func(peer net.Addr, buf []byte, n int)) {
	d.onDatagram = fn
}

// StartShard starts one shard's worker pool, wiring its completion
// callback into HandleReceive with the shard's own local address bound
// in. Receive errors (e.g. a reset from a vanished peer) are dropped;
// the socket-level executor for that peer, if any, will see the failure
// on its own next send.
func (d *Dispatcher) StartShard(shard *ioshard.Shard) {
	local := shard.LocalAddr()
	shard.StartWorkers(func(buf []byte, n int, addr net.Addr, err error) {
		if err != nil {
			return
		}
		d.HandleReceive(local, addr, buf, n)
	})
}

// HandleReceive is the shard completion callback: it classifies the
// datagram and applies the dispatch rules for START vs. ordinary traffic.
func (d *Dispatcher) HandleReceive(local net.Addr, peer net.Addr, buf []byte, n int) {
	if wire.IsStart(buf, n) {
		d.handleStart(local, peer)
		return
	}
	if d.onDatagram != nil {
		d.onDatagram(peer, buf, n)
	}
}

func (d *Dispatcher) handleStart(local, peer net.Addr) {
	key := peer.String()

	d.mu.Lock()
	if _, ok := d.connected[key]; ok || d.awaitingContainsLocked(key) {
		d.mu.Unlock()
		if d.onDuplicateStart != nil {
			d.onDuplicateStart(peer)
		}
		return
	}

	if len(d.acceptingSockets) > 0 {
		w := d.acceptingSockets[len(d.acceptingSockets)-1]
		d.acceptingSockets = d.acceptingSockets[:len(d.acceptingSockets)-1]
		d.connected[key] = w
		d.mu.Unlock()

		w.Bind(peer)
		if d.onNewConnection != nil {
			d.onNewConnection(local, peer)
		}
		return
	}

	d.awaitingEndpoints = append(d.awaitingEndpoints, peer)
	d.mu.Unlock()
}

func (d *Dispatcher) awaitingContainsLocked(key string) bool {
	for _, a := range d.awaitingEndpoints {
		if a.String() == key {
			return true
		}
	}
	return false
}

// AcceptSocket implements accept_socket(waiting): pair the newest waiting
// endpoint with this socket if one is already queued, else enqueue it.
func (d *Dispatcher) AcceptSocket(local net.Addr, w Waiting) {
	d.mu.Lock()
	if len(d.awaitingEndpoints) > 0 {
		peer := d.awaitingEndpoints[len(d.awaitingEndpoints)-1]
		d.awaitingEndpoints = d.awaitingEndpoints[:len(d.awaitingEndpoints)-1]
		d.connected[peer.String()] = w
		d.mu.Unlock()

		w.Bind(peer)
		if d.onNewConnection != nil {
			d.onNewConnection(local, peer)
		}
		return
	}
	d.acceptingSockets = append(d.acceptingSockets, w)
	d.mu.Unlock()
}

// AwaitingEndpointsLen reports the current awaiting-endpoints queue
// depth, for tests.
func (d *Dispatcher) AwaitingEndpointsLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.awaitingEndpoints)
}
