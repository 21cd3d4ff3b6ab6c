//go:build giouring

package ioshard

import (
	"fmt"
	"net"
	"sync"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"
)

// giouringRing drives the Ring interface over a real io_uring instance:
// PrepareRecv/PrepareSend stage SQEs without submitting, FlushSubmissions
// does one io_uring_enter for the whole batch, and WaitForCompletion peeks
// CQEs off the completion ring. Enabled by building with -tags giouring.
type giouringRing struct {
	fd int

	mu   sync.Mutex
	ring *giouring.Ring

	// sockAddrs keeps the raw sockaddr backing each in-flight send alive
	// until its SQE is submitted, since PrepareSendto only stores a
	// pointer into it.
	sockAddrs map[uint64]*unix.RawSockaddrAny
}

// NewRing constructs the giouring-backed Ring over cfg.FD.
func NewRing(cfg Config) (Ring, error) {
	entries := cfg.Entries
	if entries == 0 {
		entries = 256
	}
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("ioshard: create io_uring: %w", err)
	}
	return &giouringRing{
		fd:        cfg.FD,
		ring:      ring,
		sockAddrs: make(map[uint64]*unix.RawSockaddrAny),
	}, nil
}

func (r *giouringRing) PrepareRecv(key uint64, buf []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sqe := r.ring.GetSQE()
	if sqe == nil {
		return ErrRingFull
	}
	sqe.PrepareRecv(r.fd, uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), 0)
	sqe.UserData = key
	return nil
}

func (r *giouringRing) PrepareSend(key uint64, buf []byte, addr net.Addr) error {
	sa, err := udpAddrToSockaddr(addr)
	if err != nil {
		return err
	}
	rsa, salen, err := sockaddrToRaw(sa)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sqe := r.ring.GetSQE()
	if sqe == nil {
		return ErrRingFull
	}
	r.sockAddrs[key] = rsa
	sqe.PrepareSendto(r.fd, uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), 0,
		uintptr(unsafe.Pointer(rsa)), salen)
	sqe.UserData = key
	return nil
}

func (r *giouringRing) FlushSubmissions() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.ring.Submit()
	if err != nil {
		return 0, fmt.Errorf("ioshard: io_uring_enter: %w", err)
	}
	return int(n), nil
}

func (r *giouringRing) WaitForCompletion(batchSize int) ([]Completion, error) {
	if batchSize <= 0 {
		batchSize = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cqe, err := r.ring.WaitCQE()
	if err != nil {
		return nil, fmt.Errorf("ioshard: wait cqe: %w", err)
	}
	out := make([]Completion, 0, batchSize)
	out = append(out, r.toCompletion(cqe))
	r.ring.CQESeen(cqe)

	for len(out) < batchSize {
		next, peekErr := r.ring.PeekCQE()
		if peekErr != nil || next == nil {
			break
		}
		out = append(out, r.toCompletion(next))
		r.ring.CQESeen(next)
	}
	return out, nil
}

func (r *giouringRing) toCompletion(cqe *giouring.CompletionQueueEvent) Completion {
	key := cqe.UserData
	delete(r.sockAddrs, key)
	c := Completion{Key: key}
	if cqe.Res < 0 {
		c.Err = fmt.Errorf("ioshard: cqe errno %d", -cqe.Res)
	} else {
		c.Bytes = int(cqe.Res)
	}
	return c
}

func (r *giouringRing) PostCompletion(c Completion) {
	// Synthetic completions are submitted as a NOP SQE tagged with c.Key
	// and come back through the kernel's completion ring like any other
	// CQE; c.Bytes, c.Err and c.Addr are not carried through.
	r.mu.Lock()
	defer r.mu.Unlock()
	sqe := r.ring.GetSQE()
	if sqe == nil {
		return
	}
	sqe.PrepareNop()
	sqe.UserData = c.Key
	_, _ = r.ring.Submit()
}

func (r *giouringRing) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ring == nil {
		return nil
	}
	r.ring.QueueExit()
	r.ring = nil
	return unix.Close(r.fd)
}

func sockaddrToRaw(sa unix.Sockaddr) (*unix.RawSockaddrAny, uint32, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		var raw unix.RawSockaddrInet4
		raw.Family = unix.AF_INET
		raw.Port = uint16(v.Port>>8) | uint16(v.Port<<8)
		copy(raw.Addr[:], v.Addr[:])
		var any unix.RawSockaddrAny
		*(*unix.RawSockaddrInet4)(unsafe.Pointer(&any)) = raw
		return &any, unix.SizeofSockaddrInet4, nil
	default:
		return nil, 0, fmt.Errorf("ioshard: unsupported sockaddr type %T", sa)
	}
}
