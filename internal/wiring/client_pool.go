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
	"github.com/ehrlich-b/streamgen/internal/socket"
)

// ClientPool owns the broker that keeps a configured number of streams
// dialed against one server address, each over its own shard (one UDP
// socket per stream, matching the connected-socket executor model rather
// than sharing a single listening socket). In stream-pull mode each
// stream receives; in upload mode (patCfg.Mode) each stream sends, using
// limit as its send-side rate-limit policy.
type ClientPool struct {
	serverAddr net.Addr
	shardCfg   ioshard.ShardConfig
	patCfg     pattern.Config
	limit      ratelimit.Policy
	obs        streamgen.Observer
	sink       collab.StatusSink

	brk *broker.Broker

	mu    sync.Mutex
	conns []*ClientConnection
}

// NewClientPool wires a broker configured for dial-out (Accepting: false)
// to a factory that, on every top-up, initializes a fresh shard against
// an ephemeral local port and starts a ClientConnection over it.
func NewClientPool(serverAddr net.Addr, brokerCfg broker.Config, shardCfg ioshard.ShardConfig, patCfg pattern.Config, limit ratelimit.Policy, obs streamgen.Observer, sink collab.StatusSink) (*ClientPool, error) {
	p := &ClientPool{serverAddr: serverAddr, shardCfg: shardCfg, patCfg: patCfg, limit: limit, obs: obs, sink: sink}

	brokerCfg.Accepting = false
	brokerCfg.Factory = dialFactory{p: p}
	brk, err := broker.New(brokerCfg)
	if err != nil {
		return nil, err
	}
	p.brk = brk
	return p, nil
}

// Start spins up the pool's initial batch of streams.
func (p *ClientPool) Start() {
	p.brk.Start()
}

// Wait blocks until every stream has finished and the broker has nothing
// left to create, or the timeout elapses.
func (p *ClientPool) Wait(timeout time.Duration) bool {
	return p.brk.Wait(timeout)
}

// Connections returns a snapshot of every stream the pool has ever
// created, for status reporting.
func (p *ClientPool) Connections() []*ClientConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*ClientConnection, len(p.conns))
	copy(out, p.conns)
	return out
}

type dialFactory struct {
	p *ClientPool
}

func (f dialFactory) CreateAndStart() (broker.Handle, error) {
	p := f.p

	shard := &ioshard.Shard{}
	cfg := p.shardCfg
	cfg.BindAddr = &net.UDPAddr{IP: net.IPv4zero, Port: 0}
	if err := shard.Initialize(cfg); err != nil {
		return nil, err
	}

	conn := NewClientConnection(shard, p.serverAddr, p.patCfg, p.limit, p.brk, p.obs)
	shard.StartWorkers(conn.HandleReceive)

	p.mu.Lock()
	p.conns = append(p.conns, conn)
	p.mu.Unlock()

	if p.sink != nil {
		p.sink.PrintNewConnection(shard.LocalAddr(), p.serverAddr)
	}
	conn.Start()
	return dialHandle{conn: conn}, nil
}

// dialHandle reports Closed once the stream's socket reaches Closed; the
// connection itself shuts its shard down at that transition.
type dialHandle struct {
	conn *ClientConnection
}

func (h dialHandle) Closed() bool {
	return h.conn.State() == socket.Closed
}
