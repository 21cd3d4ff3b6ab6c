package pattern

import (
	"sync"

	"github.com/ehrlich-b/streamgen/internal/clock"
	"github.com/ehrlich-b/streamgen/internal/connid"
	"github.com/ehrlich-b/streamgen/internal/ratelimit"
	"github.com/ehrlich-b/streamgen/internal/task"
	"github.com/ehrlich-b/streamgen/internal/wire"
)

// ServerState is the send-side state machine.
type ServerState int

const (
	NotStarted ServerState = iota
	IdSent
	IoStarted
)

// Server sends media-stream frames at a fixed rate to one connected peer.
type Server struct {
	cfg   Config
	limit ratelimit.Policy

	mu               sync.Mutex
	state            ServerState
	connID           connid.ID
	t0Ms             int64
	currentFrame     int64
	frameBytesSent   int
	startTimerCancel bool

	stats Stats
}

// NewServer builds a server pattern for one accepted connection.
func NewServer(cfg Config, connID connid.ID, limit ratelimit.Policy) *Server {
	if limit == nil {
		limit = ratelimit.DontThrottle{}
	}
	return &Server{cfg: cfg, connID: connID, limit: limit}
}

// StartTimerShouldFire reports whether the one-shot START nudge is still
// relevant: SendStart is set and the state machine has not reached
// IoStarted.
func (s *Server) StartTimerShouldFire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.SendStart && s.state != IoStarted
}

// BuildStartDatagram returns the out-of-band START nudge payload.
func (s *Server) BuildStartDatagram() []byte {
	return wire.BuildStart()
}

// NextTask implements the server state machine's next_task operation.
func (s *Server) NextTask() task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case NotStarted:
		buf := make([]byte, wire.ControlFrameSize)
		wire.BuildConnectionID(buf, s.connID)
		return task.Task{Action: task.ActionSend, Buffer: buf, BufferType: task.BufferTCPConnectionID}

	case IdSent:
		s.t0Ms = nowMs()
		s.state = IoStarted
		fallthrough

	case IoStarted:
		final := s.cfg.finalFrame()
		if s.currentFrame >= final {
			return task.None()
		}
		if s.frameBytesSent >= s.cfg.FrameSizeBytes {
			return task.None()
		}
		deadline := s.t0Ms + s.currentFrame*1000/int64(s.cfg.FPS)
		offset := deadline - nowMs()
		if offset < 0 {
			offset = 0
		}

		remaining := s.cfg.FrameSizeBytes - s.frameBytesSent
		chunk := remaining
		maxPayload := s.cfg.DatagramMaxSize - wire.HeaderSize
		if maxPayload > 0 && chunk > maxPayload {
			chunk = maxPayload
		}
		buf := make([]byte, wire.HeaderSize+chunk)
		seq := s.currentFrame + 1
		wire.BuildDataHeader(buf, seq, uint64(clock.NowTicks()), uint64(clock.Frequency()))

		offset = s.limit.Admit(nowMs(), len(buf)) + offset
		s.frameBytesSent += chunk
		return task.Task{Action: task.ActionSend, Buffer: buf, BufferType: task.BufferDynamic, TimeOffsetMs: offset, TrackIO: true}
	}
	return task.None()
}

// CompleteTask implements the server's complete_task operation for a
// finished send.
func (s *Server) CompleteTask(isIDAck bool, sentBytes int) Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case NotStarted:
		s.state = IdSent
		return ContinueIo
	case IoStarted:
		if isIDAck {
			return ContinueIo
		}
		if s.frameBytesSent >= s.cfg.FrameSizeBytes {
			s.currentFrame++
			s.frameBytesSent = 0
		}
		if s.currentFrame >= s.cfg.finalFrame() {
			return CompletedIo
		}
		return ContinueIo
	}
	return ContinueIo
}

// Stats returns a snapshot of the connection's counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
