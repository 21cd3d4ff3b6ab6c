package wiring

import (
	"net"

	"github.com/ehrlich-b/streamgen/internal/connid"
	"github.com/ehrlich-b/streamgen/internal/ioshard"
	"github.com/ehrlich-b/streamgen/internal/pattern"
	"github.com/ehrlich-b/streamgen/internal/ratelimit"
	"github.com/ehrlich-b/streamgen/internal/socket"

	"github.com/ehrlich-b/streamgen"
)

// ServerConnection is one accepted peer on the listener's shared shard.
// In stream-pull mode (the default) it sends the media stream to the
// peer; in upload mode it receives one instead, reusing the same
// sender/receiver roles the dialing side uses in the opposite mode.
type ServerConnection struct {
	ID   connid.ID
	sock *socket.Socket

	sender   *senderRole
	receiver *receiverRole
}

// NewServerConnection builds a ServerConnection for a peer the
// dispatcher just paired off the awaiting-endpoints queue; Start issues
// its first task. It calls
// ConnectSucceeded immediately: the peer's START already proves
// reachability, so there is nothing left to wait on before entering
// InitiatingIo.
func NewServerConnection(shard *ioshard.Shard, local, peer net.Addr, cfg pattern.Config, limit ratelimit.Policy, hooks socket.BrokerHooks, obs streamgen.Observer) *ServerConnection {
	id := connid.New()
	c := &ServerConnection{ID: id}
	c.sock = socket.New(local, nil, hooks)
	c.sock.BeginConnecting(peer)
	c.sock.ConnectSucceeded()

	if cfg.Mode == pattern.ModeUpload {
		c.receiver = newReceiverRole(shard, peer, cfg, false, obs, c.handleTerminal)
	} else {
		c.sender = newSenderRole(shard, peer, cfg, id, limit, obs, c.handleTerminal)
	}
	return c
}

// Start kicks off the connection's first task: the connection-id frame
// in stream-pull mode, or the render/receive loop in upload mode.
func (c *ServerConnection) Start() {
	if c.sender != nil {
		c.sender.Start()
		return
	}
	c.receiver.Start()
}

// HandleReceive feeds an inbound datagram to the receiver role. It is a
// no-op in stream-pull mode: the sending side of an accepted connection
// never needs to process datagrams from its peer.
func (c *ServerConnection) HandleReceive(buf []byte, n int, addr net.Addr, err error) {
	if c.receiver == nil {
		return
	}
	c.receiver.HandleReceive(buf, n, addr, err, nil)
}

func (c *ServerConnection) handleTerminal(verdict pattern.Verdict, err error) {
	c.sock.BeginClosing()
	c.sock.FinishClosing()
}

// Stats returns the connection's statistics.
func (c *ServerConnection) Stats() pattern.Stats {
	if c.sender != nil {
		return c.sender.Stats()
	}
	return c.receiver.Stats()
}

// State returns the socket lifecycle state, for status reporting.
func (c *ServerConnection) State() socket.State { return c.sock.State() }
