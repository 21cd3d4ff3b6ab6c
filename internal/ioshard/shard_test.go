package ioshard

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwoShardUDPReceiveSmoke(t *testing.T) {
	var shard Shard
	err := shard.Initialize(ShardConfig{
		BindAddr:            &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0},
		OutstandingReceives: 2,
		WorkerCount:         1,
		BatchSize:           1,
		BufferSize:          64,
	})
	require.NoError(t, err)
	defer shard.Shutdown()

	var mu sync.Mutex
	received := make(chan int, 4)
	shard.StartWorkers(func(buf []byte, n int, addr net.Addr, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			received <- n
		}
	})

	conn, err := net.Dial("udp", shard.LocalAddr().(*net.UDPAddr).String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	select {
	case n := <-received:
		assert.Equal(t, 4, n)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("callback not invoked within 200ms")
	}

	assert.Equal(t, int64(2), shard.OutstandingReceives())

	done := make(chan struct{})
	go func() {
		shard.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not complete within 1s")
	}

	// idempotent
	assert.NoError(t, shard.Shutdown())
}
