package wiring

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/streamgen/internal/broker"
	"github.com/ehrlich-b/streamgen/internal/ioshard"
	"github.com/ehrlich-b/streamgen/internal/pattern"
	"github.com/ehrlich-b/streamgen/internal/ratelimit"
	"github.com/ehrlich-b/streamgen/internal/wire"
)

// TestListenerPairsStartWithAcceptedConnection drives a real loopback
// shard end to end: a bare UDP socket sends a START datagram, and the
// listener is expected to pair it, build a ServerConnection, and reply
// with its connection-id frame.
func TestListenerPairsStartWithAcceptedConnection(t *testing.T) {
	shard := &ioshard.Shard{}
	err := shard.Initialize(ioshard.ShardConfig{
		BindAddr:            &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0},
		OutstandingReceives: 4,
		WorkerCount:         1,
		BatchSize:           1,
		BufferSize:          2048,
	})
	require.NoError(t, err)
	defer shard.Shutdown()

	cfg := pattern.Config{
		FPS:                10,
		DatagramMaxSize:    256,
		FrameSizeBytes:     64,
		BufferDepthSeconds: 1,
		StreamLengthSecs:   1,
		PrePostRecvCount:   2,
	}
	brokerCfg := broker.Config{ServerExitLimit: 4, AcceptLimit: 4}

	listener, err := NewListener(shard, brokerCfg, cfg, ratelimit.DontThrottle{}, nil, nil)
	require.NoError(t, err)
	listener.Start()

	conn, err := net.Dial("udp", shard.LocalAddr().(*net.UDPAddr).String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(wire.BuildStart())
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for len(listener.Connections()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, listener.Connections(), 1)

	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	res := wire.Parse(buf, n)
	require.Equal(t, wire.FrameID, res.Type)
}
