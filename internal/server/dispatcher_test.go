package server

import (
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ehrlich-b/streamgen/internal/wire"
)

type fakeWaiting struct {
	bound int32
	peer  net.Addr
}

func (w *fakeWaiting) Bind(peer net.Addr) {
	atomic.StoreInt32(&w.bound, 1)
	w.peer = peer
}

func udpAddr(port int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestDispatcherPairsWaitingSocketWithStart(t *testing.T) {
	d := NewDispatcher(nil)
	w := &fakeWaiting{}
	local := udpAddr(9000)
	d.AcceptSocket(local, w)

	var connected net.Addr
	d.OnNewConnection(func(l, r net.Addr) { connected = r })

	peer := udpAddr(5000)
	start := wire.BuildStart()
	d.HandleReceive(local, peer, start, len(start))

	assert.EqualValues(t, 1, atomic.LoadInt32(&w.bound))
	assert.Equal(t, peer, w.peer)
	assert.Equal(t, peer, connected)
}

func TestDispatcherQueuesStartWhenNoWaitingSocket(t *testing.T) {
	d := NewDispatcher(nil)
	local := udpAddr(9000)
	peer := udpAddr(5001)
	start := wire.BuildStart()
	d.HandleReceive(local, peer, start, len(start))

	assert.Equal(t, 1, d.AwaitingEndpointsLen())

	w := &fakeWaiting{}
	d.AcceptSocket(local, w)
	assert.EqualValues(t, 1, atomic.LoadInt32(&w.bound))
	assert.Equal(t, peer, w.peer)
}

func TestDispatcherDuplicateStartIsIgnored(t *testing.T) {
	d := NewDispatcher(nil)
	w := &fakeWaiting{}
	local := udpAddr(9000)
	d.AcceptSocket(local, w)

	peer := udpAddr(5002)
	start := wire.BuildStart()
	d.HandleReceive(local, peer, start, len(start))
	assert.EqualValues(t, 1, atomic.LoadInt32(&w.bound))

	var duplicates int32
	d.OnDuplicateStart(func(net.Addr) { atomic.AddInt32(&duplicates, 1) })

	// A second START for the same already-connected peer must not pair
	// again or panic; it only bumps the duplicate counter.
	d.HandleReceive(local, peer, start, len(start))
	assert.EqualValues(t, 1, atomic.LoadInt32(&duplicates))
	assert.Equal(t, 0, d.AwaitingEndpointsLen())
}

func TestDispatcherDuplicateStartBeforeAnyAcceptIsIgnored(t *testing.T) {
	d := NewDispatcher(nil)
	local := udpAddr(9000)
	peer := udpAddr(40001)

	var duplicates int32
	d.OnDuplicateStart(func(net.Addr) { atomic.AddInt32(&duplicates, 1) })

	start := wire.BuildStart()
	d.HandleReceive(local, peer, start, len(start))
	d.HandleReceive(local, peer, start, len(start))

	assert.EqualValues(t, 1, atomic.LoadInt32(&duplicates))
	assert.Equal(t, 1, d.AwaitingEndpointsLen())
}

func TestDispatcherForwardsNonStartDatagram(t *testing.T) {
	d := NewDispatcher(nil)
	peer := udpAddr(5003)
	local := udpAddr(9000)

	var gotPeer net.Addr
	var gotN int
	d.OnDatagram(func(p net.Addr, buf []byte, n int) {
		gotPeer = p
		gotN = n
	})

	buf := make([]byte, wire.HeaderSize+4)
	wire.BuildDataHeader(buf, 1, 0, 0)
	d.HandleReceive(local, peer, buf, len(buf))

	assert.Equal(t, peer, gotPeer)
	assert.Equal(t, len(buf), gotN)
}
