// Package ioshard implements the completion-queue-driven I/O shard: one
// UDP socket, a completion primitive associated with it, and a pool of
// worker threads that dequeue completions and re-post receives.
//
// The actual completion primitive is pluggable behind the Ring interface.
// Build with -tags giouring to get a real io_uring-backed Ring
// (internal/ioshard/ring_giouring.go); the default build
// (ring_default.go) drives the same interface over plain blocking UDP
// sockets so the shard is fully exercisable without root or a recent
// kernel.
package ioshard

import (
	"errors"
	"net"
)

// ErrRingFull is returned when a Ring has no room left to accept another
// prepared operation before the next flush.
var ErrRingFull = errors.New("ioshard: submission queue full")

// Completion is one dequeued event: the key identifies the record it
// belongs to (an index into the shard's receive-record slab, or a
// send-completion key), Bytes is the transferred length for a receive,
// and Err carries a per-operation failure (e.g. ECONNREFUSED for a UDP
// port-unreachable).
type Completion struct {
	Key   uint64
	Bytes int
	Err   error
	// Addr is the peer address a receive completion was read from.
	Addr net.Addr
}

// Config parameterizes ring construction.
type Config struct {
	// FD is the socket file descriptor the ring operates over.
	FD int
	// Entries bounds the ring's submission/completion queue depth.
	Entries uint32
}

// Ring is the completion-queue primitive a Shard drives. A Ring does not
// own the socket fd's lifecycle beyond what Close does; Shard owns
// creation/binding.
type Ring interface {
	// PrepareRecv stages a receive into buf, tagged with key. The SQE is
	// not necessarily visible to the kernel until FlushSubmissions.
	PrepareRecv(key uint64, buf []byte) error
	// PrepareSend stages a send of buf to addr, tagged with key.
	PrepareSend(key uint64, buf []byte, addr net.Addr) error
	// FlushSubmissions submits every prepared operation in one batch and
	// returns how many were submitted.
	FlushSubmissions() (int, error)
	// WaitForCompletion blocks for at least one completion and returns as
	// many as are immediately available, up to batchSize.
	WaitForCompletion(batchSize int) ([]Completion, error)
	// PostCompletion injects a synthetic completion, used both for
	// sentinel shutdown wakeups and for test injection.
	PostCompletion(c Completion)
	// Close tears down the ring. Idempotent.
	Close() error
}
