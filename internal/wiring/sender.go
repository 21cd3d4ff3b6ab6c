// Package wiring assembles the collaborator-interface pieces — ioshard,
// pattern, executor, socket, broker — into the two end-to-end roles a
// streamgen process actually runs: a server connection (send frames to
// one accepted peer) and a client connection (receive, buffer, and
// render one stream from a server). In upload mode the two swap
// directions: the client sends and the server receives.
package wiring

import (
	"net"

	"github.com/ehrlich-b/streamgen/internal/ioshard"
)

// shardSender adapts a shard's fire-and-forget Send to executor.Sender.
// Every connection sharing one shard uses the same sentinel key: sends
// never touch the shard's receive-record slab, so no two sends can
// collide on it, and the shard's workers drop key-0 completions until the
// shard is shutting down.
type shardSender struct {
	shard *ioshard.Shard
}

func newShardSender(shard *ioshard.Shard) shardSender {
	return shardSender{shard: shard}
}

func (s shardSender) Send(buf []byte, addr net.Addr) error {
	return s.shard.Send(0, buf, addr)
}
