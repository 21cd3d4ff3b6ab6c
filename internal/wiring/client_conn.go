package wiring

import (
	"net"

	"github.com/ehrlich-b/streamgen"
	"github.com/ehrlich-b/streamgen/internal/connid"
	"github.com/ehrlich-b/streamgen/internal/ioshard"
	"github.com/ehrlich-b/streamgen/internal/pattern"
	"github.com/ehrlich-b/streamgen/internal/ratelimit"
	"github.com/ehrlich-b/streamgen/internal/socket"
	"github.com/ehrlich-b/streamgen/internal/wire"
)

// ClientConnection is one simulated stream on its own ephemeral shard. In
// stream-pull mode (the default) it is a receiving stream fed by its own
// shard's receive completions; in upload mode it is a sending stream
// instead, reusing the same sender/receiver roles the accepting side
// uses in the opposite mode.
type ClientConnection struct {
	shard      *ioshard.Shard
	serverAddr net.Addr

	sock *socket.Socket

	sender   *senderRole
	receiver *receiverRole
}

// NewClientConnection builds a ClientConnection over an already-bound
// shard (one ephemeral UDP socket per stream) that will send its
// handshake START to serverAddr once Start is called.
func NewClientConnection(shard *ioshard.Shard, serverAddr net.Addr, cfg pattern.Config, limit ratelimit.Policy, hooks socket.BrokerHooks, obs streamgen.Observer) *ClientConnection {
	c := &ClientConnection{shard: shard, serverAddr: serverAddr}
	c.sock = socket.New(shard.LocalAddr(), nil, hooks)

	if cfg.Mode == pattern.ModeUpload {
		c.sender = newSenderRole(shard, serverAddr, cfg, connid.New(), limit, obs, c.handleTerminal)
	} else {
		c.receiver = newReceiverRole(shard, serverAddr, cfg, true, obs, c.handleTerminal)
	}
	return c
}

// Start dials serverAddr and begins the stream: the handshake START plus
// the receive/render loop in stream-pull mode, or the handshake START
// plus the connection-id/frame send loop in upload mode.
func (c *ClientConnection) Start() {
	c.sock.BeginConnecting(c.serverAddr)

	if c.sender != nil {
		// Sends are one-way: there is no inbound ack to wait on before
		// the stream starts, so the dial succeeds as soon as the
		// handshake nudge itself goes out.
		_ = c.shard.Send(0, wire.BuildStart(), c.serverAddr)
		c.sock.ConnectSucceeded()
		c.sender.Start()
		return
	}
	c.receiver.Start()
}

// HandleReceive is the shard's completion callback for this connection's
// socket. In upload mode it ignores every completion, transport errors
// included: the sending side of a dial-out connection never needs to
// process datagrams from its peer.
func (c *ClientConnection) HandleReceive(buf []byte, n int, addr net.Addr, err error) {
	if c.receiver == nil {
		return
	}
	c.receiver.HandleReceive(buf, n, addr, err, c.onFirstInbound)
}

func (c *ClientConnection) onFirstInbound() {
	if c.sock.State() == socket.Connecting {
		c.sock.ConnectSucceeded()
	}
}

func (c *ClientConnection) handleTerminal(verdict pattern.Verdict, err error) {
	switch c.sock.State() {
	case socket.Connecting:
		c.sock.ConnectFailed()
	case socket.InitiatingIo:
		c.sock.BeginClosing()
		c.sock.FinishClosing()
	default:
		return
	}
	// Shutdown joins this connection's worker goroutines, so it must run
	// off whichever one got us here.
	go c.shard.Shutdown()
}

// Stats returns the connection's statistics.
func (c *ClientConnection) Stats() pattern.Stats {
	if c.sender != nil {
		return c.sender.Stats()
	}
	return c.receiver.Stats()
}

// State returns the socket lifecycle state, for status reporting.
func (c *ClientConnection) State() socket.State { return c.sock.State() }
