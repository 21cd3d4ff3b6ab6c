//go:build !giouring

package ioshard

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// defaultRing drives the Ring interface over a plain blocking UDP
// socket: one background goroutine serializes pre-posted receives through
// blocking recvfrom calls (emulating a completion queue with exactly one
// kernel-side worker), while sends are issued synchronously since UDP
// sendto essentially never blocks on a bound socket. This is the build
// used whenever the giouring build tag is absent, so the shard is fully
// exercisable in environments without a recent enough kernel.
type defaultRing struct {
	fd int

	mu      sync.Mutex
	pending []pendingRecv
	closed  bool

	recvCh      chan pendingRecv
	completions chan Completion
	done        chan struct{}
}

type pendingRecv struct {
	key uint64
	buf []byte
}

// NewRing constructs the non-giouring Ring over cfg.FD.
func NewRing(cfg Config) (Ring, error) {
	entries := cfg.Entries
	if entries == 0 {
		entries = 64
	}
	r := &defaultRing{
		fd:          cfg.FD,
		recvCh:      make(chan pendingRecv, entries),
		completions: make(chan Completion, entries),
		done:        make(chan struct{}),
	}
	go r.recvLoop()
	return r, nil
}

func (r *defaultRing) recvLoop() {
	for {
		select {
		case <-r.done:
			return
		case req, ok := <-r.recvCh:
			if !ok {
				return
			}
			n, from, err := unix.Recvfrom(r.fd, req.buf, 0)
			select {
			case <-r.done:
				return
			default:
			}
			c := Completion{Key: req.key, Bytes: n}
			if err != nil {
				c.Err = err
			} else if from != nil {
				c.Addr = sockaddrToUDPAddr(from)
			}
			select {
			case r.completions <- c:
			case <-r.done:
				return
			}
		}
	}
}

func (r *defaultRing) PrepareRecv(key uint64, buf []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("ioshard: ring closed")
	}
	r.pending = append(r.pending, pendingRecv{key: key, buf: buf})
	return nil
}

func (r *defaultRing) PrepareSend(key uint64, buf []byte, addr net.Addr) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return fmt.Errorf("ioshard: ring closed")
	}
	sa, err := udpAddrToSockaddr(addr)
	if err != nil {
		r.PostCompletion(Completion{Key: key, Err: err})
		return nil
	}
	sendErr := unix.Sendto(r.fd, buf, 0, sa)
	n := len(buf)
	if sendErr != nil {
		n = 0
	}
	r.PostCompletion(Completion{Key: key, Bytes: n, Err: sendErr, Addr: addr})
	return nil
}

func (r *defaultRing) FlushSubmissions() (int, error) {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return 0, fmt.Errorf("ioshard: ring closed")
	}
	for _, p := range batch {
		select {
		case r.recvCh <- p:
		case <-r.done:
			return 0, fmt.Errorf("ioshard: ring closed")
		}
	}
	return len(batch), nil
}

func (r *defaultRing) WaitForCompletion(batchSize int) ([]Completion, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	first, ok := <-r.completions
	if !ok {
		return nil, fmt.Errorf("ioshard: ring closed")
	}
	out := make([]Completion, 0, batchSize)
	out = append(out, first)
	for len(out) < batchSize {
		select {
		case c, ok := <-r.completions:
			if !ok {
				return out, nil
			}
			out = append(out, c)
		default:
			return out, nil
		}
	}
	return out, nil
}

func (r *defaultRing) PostCompletion(c Completion) {
	select {
	case r.completions <- c:
	case <-r.done:
	}
}

func (r *defaultRing) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	close(r.done)
	return unix.Close(r.fd)
}

func sockaddrToUDPAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: append([]byte(nil), v.Addr[:]...), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: append([]byte(nil), v.Addr[:]...), Port: v.Port}
	default:
		return nil
	}
}

func udpAddrToSockaddr(addr net.Addr) (unix.Sockaddr, error) {
	u, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("ioshard: unsupported address type %T", addr)
	}
	if ip4 := u.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: u.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	sa := &unix.SockaddrInet6{Port: u.Port}
	copy(sa.Addr[:], u.IP.To16())
	return sa, nil
}
