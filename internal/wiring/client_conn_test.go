package wiring

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/streamgen/internal/connid"
	"github.com/ehrlich-b/streamgen/internal/ioshard"
	"github.com/ehrlich-b/streamgen/internal/pattern"
	"github.com/ehrlich-b/streamgen/internal/ratelimit"
	"github.com/ehrlich-b/streamgen/internal/socket"
	"github.com/ehrlich-b/streamgen/internal/wire"
)

type noopHooks struct{}

func (noopHooks) InitiatingIo() {}
func (noopHooks) Closing(bool)  {}

func testPatternConfig() pattern.Config {
	return pattern.Config{
		FPS:                10,
		DatagramMaxSize:    64,
		FrameSizeBytes:     32,
		BufferDepthSeconds: 1,
		StreamLengthSecs:   1,
		PrePostRecvCount:   2,
	}
}

func newTestClientConn(t *testing.T) (*ClientConnection, *ioshard.Shard) {
	t.Helper()
	shard := &ioshard.Shard{}
	err := shard.Initialize(ioshard.ShardConfig{
		BindAddr:            &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0},
		OutstandingReceives: 2,
		WorkerCount:         1,
		BatchSize:           1,
		BufferSize:          64,
	})
	require.NoError(t, err)

	serverAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9}
	conn := NewClientConnection(shard, serverAddr, testPatternConfig(), ratelimit.DontThrottle{}, noopHooks{}, nil)
	return conn, shard
}

func TestClientConnectionClassifiesStartLiteral(t *testing.T) {
	conn, shard := newTestClientConn(t)
	defer shard.Shutdown()

	start := wire.BuildStart()
	comp := conn.receiver.classify(start, len(start))
	assert.Equal(t, pattern.CompletionStartLiteral, comp.Kind)
}

func TestClientConnectionClassifiesZeroByteRecv(t *testing.T) {
	conn, shard := newTestClientConn(t)
	defer shard.Shutdown()

	comp := conn.receiver.classify(nil, 0)
	assert.Equal(t, pattern.CompletionZeroByteRecv, comp.Kind)
}

func TestClientConnectionClassifiesShortDataFrame(t *testing.T) {
	conn, shard := newTestClientConn(t)
	defer shard.Shutdown()

	buf := make([]byte, wire.HeaderSize)
	wire.BuildDataHeader(buf, 1, 0, 0)
	comp := conn.receiver.classify(buf, len(buf))
	assert.Equal(t, pattern.CompletionHeaderTooShort, comp.Kind)
}

func TestClientConnectionClassifiesIDFrame(t *testing.T) {
	conn, shard := newTestClientConn(t)
	defer shard.Shutdown()

	buf := make([]byte, wire.ControlFrameSize)
	wire.BuildConnectionID(buf, [wire.ConnIDLen]byte{1, 2, 3})
	comp := conn.receiver.classify(buf, len(buf))
	assert.Equal(t, pattern.CompletionIDFrame, comp.Kind)
}

func TestClientConnectionConnectSucceedsOnFirstIDFrame(t *testing.T) {
	conn, shard := newTestClientConn(t)
	defer shard.Shutdown()

	conn.sock.BeginConnecting(conn.serverAddr)
	require.Equal(t, socket.Connecting, conn.State())

	buf := make([]byte, wire.ControlFrameSize)
	wire.BuildConnectionID(buf, [wire.ConnIDLen]byte{9})
	conn.HandleReceive(buf, len(buf), conn.serverAddr, nil)

	assert.Equal(t, socket.InitiatingIo, conn.State())
}

func TestClientConnectionUploadModeBuildsSenderNotReceiver(t *testing.T) {
	shard := &ioshard.Shard{}
	err := shard.Initialize(ioshard.ShardConfig{
		BindAddr:            &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0},
		OutstandingReceives: 2,
		WorkerCount:         1,
		BatchSize:           1,
		BufferSize:          64,
	})
	require.NoError(t, err)
	defer shard.Shutdown()

	serverAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9}
	cfg := testPatternConfig()
	cfg.Mode = pattern.ModeUpload
	conn := NewClientConnection(shard, serverAddr, cfg, ratelimit.DontThrottle{}, noopHooks{}, nil)

	assert.NotNil(t, conn.sender)
	assert.Nil(t, conn.receiver)

	// An upload-mode connection's receive path is a pure transport-error
	// sink; it must not panic on a nil receiver.
	conn.HandleReceive(nil, 0, serverAddr, nil)
}

func TestServerConnectionUploadModeBuildsReceiverNotSender(t *testing.T) {
	shard := &ioshard.Shard{}
	err := shard.Initialize(ioshard.ShardConfig{
		BindAddr:            &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0},
		OutstandingReceives: 2,
		WorkerCount:         1,
		BatchSize:           1,
		BufferSize:          64,
	})
	require.NoError(t, err)
	defer shard.Shutdown()

	local := shard.LocalAddr()
	peer := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9}
	cfg := testPatternConfig()
	cfg.Mode = pattern.ModeUpload
	conn := NewServerConnection(shard, local, peer, cfg, ratelimit.DontThrottle{}, noopHooks{}, nil)

	assert.NotNil(t, conn.receiver)
	assert.Nil(t, conn.sender)
	// A paired-by-inbound-START receiver must not also self-nudge.
	assert.False(t, conn.receiver.originates)

	buf := make([]byte, wire.ControlFrameSize)
	wire.BuildConnectionID(buf, [wire.ConnIDLen]byte{1})
	conn.HandleReceive(buf, len(buf), peer, nil)
}

func TestNewSenderRoleUsesProvidedConnID(t *testing.T) {
	shard := &ioshard.Shard{}
	err := shard.Initialize(ioshard.ShardConfig{
		BindAddr:            &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0},
		OutstandingReceives: 2,
		WorkerCount:         1,
		BatchSize:           1,
		BufferSize:          64,
	})
	require.NoError(t, err)
	defer shard.Shutdown()

	peer := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9}
	id := connid.New()
	r := newSenderRole(shard, peer, testPatternConfig(), id, ratelimit.DontThrottle{}, nil, func(pattern.Verdict, error) {})
	require.NotNil(t, r)
}
