package ioshard

import (
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/streamgen/collab"
	"github.com/ehrlich-b/streamgen/internal/affinity"
	"github.com/ehrlich-b/streamgen/internal/logging"
	"golang.org/x/sys/unix"
)

// sentinelKey is the reserved completion key used to wake a worker during
// shutdown; real receive records are keyed starting at 1. Send completions
// issued with key 0 carry it too, so a worker only exits on it once the
// shutdown flag is set and otherwise drops it like any unknown key.
const sentinelKey = 0

// Callback is invoked once per dequeued receive completion. n is the
// transferred byte count; err is non-nil for a failed receive (e.g. a
// port-unreachable reset).
type Callback func(buf []byte, n int, addr net.Addr, err error)

// ShardConfig parameterizes Shard.Initialize.
type ShardConfig struct {
	// BindAddr is used to create and bind a new socket when FD is zero.
	BindAddr *net.UDPAddr
	// FD adopts an already-created, already-bound socket instead of
	// creating one.
	FD int

	OutstandingReceives int
	WorkerCount         int
	BatchSize           int
	BufferSize          int

	Affinity []affinity.Entry // one entry per worker, or nil for none

	Factory collab.SocketFactory
	Options collab.SocketOptions
	Sink    collab.StatusSink

	Logger *logging.Logger
}

type recvRecord struct {
	key uint64
	buf []byte
}

// Shard owns one UDP socket, one completion ring, and a pool of worker
// goroutines that dequeue completions and re-post receives.
type Shard struct {
	cfg  ShardConfig
	ring Ring
	fd   int
	addr net.Addr

	records []recvRecord

	outstanding int64
	shutdown    int32
	wg          sync.WaitGroup

	logger            *logging.Logger
	sink              collab.StatusSink
	unreachableStreak int32
}

// Initialize creates (or adopts) the socket, binds if created, builds the
// ring, and pre-posts cfg.OutstandingReceives receives. On any failure all
// earlier state is torn down and a Setup error is returned.
func (s *Shard) Initialize(cfg ShardConfig) error {
	s.cfg = cfg
	s.logger = cfg.Logger
	if s.logger == nil {
		s.logger = logging.Default()
	}
	s.sink = cfg.Sink

	factory := cfg.Factory
	if factory == nil {
		factory = collab.DefaultSocketFactory{}
	}
	options := cfg.Options
	if options == nil {
		options = collab.DefaultSocketOptions{}
	}

	outstanding := cfg.OutstandingReceives
	if outstanding <= 0 {
		outstanding = 1
	}
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 2048
	}

	fd := cfg.FD
	ownsFD := false
	if fd == 0 {
		created, err := factory.CreateSocket(unix.AF_INET, unix.SOCK_DGRAM, 0, 0)
		if err != nil {
			return fmt.Errorf("ioshard: setup: create socket: %w", err)
		}
		fd = created
		ownsFD = true

		if cfg.BindAddr != nil {
			if err := options.SetPreBindOptions(fd, cfg.BindAddr); err != nil {
				unix.Close(fd)
				return fmt.Errorf("ioshard: setup: pre-bind options: %w", err)
			}
			if err := bindUDP(fd, cfg.BindAddr); err != nil {
				unix.Close(fd)
				return fmt.Errorf("ioshard: setup: bind: %w", err)
			}
			s.addr = cfg.BindAddr
		}
	}

	ring, err := NewRing(Config{FD: fd, Entries: uint32(outstanding * 2)})
	if err != nil {
		if ownsFD {
			unix.Close(fd)
		}
		return fmt.Errorf("ioshard: setup: create ring: %w", err)
	}

	s.fd = fd
	s.ring = ring
	s.records = make([]recvRecord, outstanding)
	for i := 0; i < outstanding; i++ {
		s.records[i] = recvRecord{key: uint64(i + 1), buf: make([]byte, bufSize)}
		if err := s.ring.PrepareRecv(s.records[i].key, s.records[i].buf); err != nil {
			ring.Close()
			return fmt.Errorf("ioshard: setup: initial post: %w", err)
		}
	}
	if _, err := s.ring.FlushSubmissions(); err != nil {
		ring.Close()
		return fmt.Errorf("ioshard: setup: initial post flush: %w", err)
	}
	atomic.StoreInt64(&s.outstanding, int64(outstanding))
	return nil
}

// LocalAddr returns the bound local address, if the shard created its own
// socket.
func (s *Shard) LocalAddr() net.Addr { return s.addr }

// OutstandingReceives reports the current number of live pre-posted
// receives, which only ever decreases (a failed re-post permanently drops
// one).
func (s *Shard) OutstandingReceives() int64 {
	return atomic.LoadInt64(&s.outstanding)
}

// StartWorkers spawns cfg.WorkerCount goroutines, each running the worker
// loop with cb as its completion callback.
func (s *Shard) StartWorkers(cb Callback) {
	n := s.cfg.WorkerCount
	if n <= 0 {
		n = 1
	}
	batch := s.cfg.BatchSize
	if batch <= 0 {
		batch = 1
	}
	s.wg.Add(n)
	for i := 0; i < n; i++ {
		var entry affinity.Entry
		if i < len(s.cfg.Affinity) {
			entry = s.cfg.Affinity[i]
		}
		go s.workerLoop(entry, batch, cb)
	}
}

func (s *Shard) workerLoop(entry affinity.Entry, batch int, cb Callback) {
	defer s.wg.Done()
	if entry.Bound {
		runtime.LockOSThread()
		if err := affinity.Apply(entry); err != nil && s.sink != nil {
			s.sink.PrintErrorInfo(err, "ioshard: worker affinity")
		}
	}

	for {
		completions, err := s.ring.WaitForCompletion(batch)
		if err != nil {
			return
		}
		for _, c := range completions {
			if c.Key == sentinelKey && atomic.LoadInt32(&s.shutdown) == 1 {
				return
			}
			s.handleCompletion(c, cb)
		}
		if atomic.LoadInt32(&s.shutdown) == 1 {
			return
		}
	}
}

func (s *Shard) handleCompletion(c Completion, cb Callback) {
	idx := int(c.Key) - 1
	if idx < 0 || idx >= len(s.records) {
		return
	}
	rec := s.records[idx]

	if c.Err != nil {
		if isPortUnreachable(c.Err) {
			if atomic.AddInt32(&s.unreachableStreak, 1) == 1 && s.sink != nil {
				s.sink.PrintErrorInfo(c.Err, "ioshard: port unreachable (transient)")
			}
		} else {
			atomic.StoreInt32(&s.unreachableStreak, 0)
			if s.sink != nil {
				s.sink.PrintErrorInfo(c.Err, "ioshard: receive failed")
			}
		}
	} else {
		atomic.StoreInt32(&s.unreachableStreak, 0)
	}

	cb(rec.buf, c.Bytes, c.Addr, c.Err)

	if atomic.LoadInt32(&s.shutdown) == 1 {
		return
	}
	if err := s.ring.PrepareRecv(rec.key, rec.buf); err != nil {
		atomic.AddInt64(&s.outstanding, -1)
		if s.sink != nil {
			s.sink.PrintErrorInfo(err, "ioshard: re-post failed, dropping receive slot")
		}
		return
	}
	if _, err := s.ring.FlushSubmissions(); err != nil && s.sink != nil {
		s.sink.PrintErrorInfo(err, "ioshard: re-post flush failed")
	}
}

// Shutdown sets the shutdown flag, wakes every worker with a sentinel
// completion, joins them, and closes the ring and socket. Idempotent.
func (s *Shard) Shutdown() error {
	if !atomic.CompareAndSwapInt32(&s.shutdown, 0, 1) {
		return nil
	}
	n := s.cfg.WorkerCount
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		s.ring.PostCompletion(Completion{Key: sentinelKey})
	}
	s.wg.Wait()
	return s.ring.Close()
}

// PostCompletion injects a synthetic completion for testability.
func (s *Shard) PostCompletion(key uint64, bytes int, err error) {
	s.ring.PostCompletion(Completion{Key: key, Bytes: bytes, Err: err})
}

// Send stages and flushes a single send task; used by the executor for
// connected-socket sends and by the server for the initial ID reply to an
// unconnected peer.
func (s *Shard) Send(key uint64, buf []byte, addr net.Addr) error {
	if err := s.ring.PrepareSend(key, buf, addr); err != nil {
		return err
	}
	_, err := s.ring.FlushSubmissions()
	return err
}

func isPortUnreachable(err error) bool {
	return err == unix.ECONNREFUSED
}

// bindUDP binds fd to addr using the raw syscall, since the socket was
// created via collab.SocketFactory rather than Go's net package.
func bindUDP(fd int, addr *net.UDPAddr) error {
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.Bind(fd, sa)
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return unix.Bind(fd, sa)
}
