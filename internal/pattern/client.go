package pattern

import (
	"sync"
	"time"

	"github.com/ehrlich-b/streamgen/internal/clock"
	"github.com/ehrlich-b/streamgen/internal/connid"
	"github.com/ehrlich-b/streamgen/internal/task"
	"github.com/ehrlich-b/streamgen/internal/wire"
)

// RenderedFrame is what the client reports to a status sink each time the
// render tick resolves a slot.
type RenderedFrame struct {
	Sequence            int64
	EstimatedInFlightMs int64
	Successful          bool
	Dropped             bool
	Duplicate           bool
}

// Client receives, buffers, and renders one media stream.
type Client struct {
	cfg Config

	mu                   sync.Mutex
	ring                 *Ring
	connID               connIDHolder
	outstandingRecvs     int
	finished             bool
	everReceived         bool
	firstReceiveQPC      uint64
	firstSenderQPC       uint64
	timerWheelOffset     int64
	startTimerArmed      bool
	startTimerFired      bool
	startTimerShouldStop bool

	stats Stats

	onRender func(RenderedFrame)
}

// NewClient builds a client pattern with a ring sized 2 * initial buffer
// frames, pre-seeded with sequence numbers 1..ring_size.
func NewClient(cfg Config, onRender func(RenderedFrame)) *Client {
	ringSize := int(2 * cfg.initialBufferFrames())
	if ringSize <= 0 {
		ringSize = 2
	}
	return &Client{
		cfg:      cfg,
		ring:     NewRing(ringSize),
		onRender: onRender,
	}
}

// ShouldArmStartTimer reports whether the start-timer nudge should still
// fire: it stops the moment the stream has evidently started, per the
// recorded decision to explicitly disarm rather than rely on a no-op
// check at steady state.
func (c *Client) ShouldArmStartTimer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.receivedBufferedFramesLocked() && !c.startTimerShouldStop
}

func (c *Client) receivedBufferedFramesLocked() bool {
	return c.everReceived
}

// StartTimerInterval is frame_rate_ms + 500, the start-timer's tick
// period.
func (c *Client) StartTimerInterval() time.Duration {
	return clock.RelativeDeadline(c.cfg.frameRateMs() + 500)
}

// BuildStartDatagram returns the out-of-band START nudge payload, sent
// once per tick while the start timer is armed.
func (c *Client) BuildStartDatagram() []byte {
	return wire.BuildStart()
}

// RenderInterval returns the frame_rate_ms_per_frame spacing used to
// compute the render timer's absolute deadlines.
func (c *Client) RenderInterval() time.Duration {
	return clock.RelativeDeadline(c.cfg.frameRateMs())
}

// NextTask returns a Recv task whenever the outstanding-recv counter is
// below the configured pre-post count.
func (c *Client) NextTask() task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outstandingRecvs >= c.cfg.PrePostRecvCount {
		return task.None()
	}
	size := c.cfg.FrameSizeBytes
	if c.cfg.DatagramMaxSize < size {
		size = c.cfg.DatagramMaxSize
	}
	buf := make([]byte, size)
	c.outstandingRecvs++
	return task.Task{Action: task.ActionRecv, Buffer: buf, BufferType: task.BufferDynamic}
}

// CompleteTask implements the client's complete_task dispatch over the
// received completion kind.
func (c *Client) CompleteTask(comp Completion) Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch comp.Kind {
	case CompletionAbort:
		c.finished = true
		return CompletedIo

	case CompletionZeroByteRecv:
		c.outstandingRecvs--
		if c.finished {
			return ContinueIo
		}
		c.stats.ErrorFrames++
		return ContinueIo

	case CompletionStartLiteral:
		c.outstandingRecvs--
		return ContinueIo

	case CompletionHeaderTooShort:
		c.outstandingRecvs--
		c.stats.ErrorFrames++
		return ContinueIo

	case CompletionIDFrame:
		c.outstandingRecvs--
		raw := wire.ConnectionIDFrom(comp.Buf[:comp.N])
		if id, err := connid.FromBytes(raw[:]); err == nil {
			c.connID.set_(id)
		}
		return ContinueIo

	case CompletionDataFrame:
		c.outstandingRecvs--
		c.handleDataFrameLocked(comp)
		return ContinueIo
	}
	return ContinueIo
}

func (c *Client) handleDataFrameLocked(comp Completion) {
	buf := comp.Buf[:comp.N]
	res := wire.Parse(buf, comp.N)
	if !verifyPayload(c.cfg, buf) {
		c.stats.ErrorFrames++
		return
	}
	payloadBytes := comp.N - wire.HeaderSize
	if payloadBytes < 0 {
		payloadBytes = 0
	}
	c.stats.BitsReceived += int64(payloadBytes) * 8

	now := clock.NowTicks()
	if !c.everReceived {
		c.everReceived = true
		c.firstReceiveQPC = uint64(now)
		c.firstSenderQPC = res.SenderQPC
	}

	slot, ok := c.ring.Find(res.Seq)
	if !ok {
		c.stats.ErrorFrames++
		return
	}
	slot.BytesReceived += payloadBytes
	slot.SenderQPC = res.SenderQPC
	slot.SenderQPF = res.SenderQPF
	if slot.FirstReceiveQPC == 0 {
		slot.FirstReceiveQPC = uint64(now)
	}
}

// RenderTick runs one render-timer firing: advance the wheel offset,
// resolve the head slot if due, and report whether the render timer
// should be rearmed and after how long.
func (c *Client) RenderTick() (rearm bool, after time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timerWheelOffset++
	final := c.cfg.finalFrame()

	if c.timerWheelOffset >= c.cfg.initialBufferFrames() && c.ring.Head().SequenceNumber <= final {
		if !c.everReceived {
			// fatal abort: count all remaining frames as dropped.
			remaining := final - c.ring.Head().SequenceNumber + 1
			c.stats.DroppedFrames += remaining
			c.finished = true
			c.startTimerShouldStop = true
			return false, 0
		}
		c.renderHeadLocked()
	}

	if c.ring.Head().SequenceNumber > final {
		c.finished = true
		c.startTimerShouldStop = true
		return false, 0
	}

	return true, time.Duration(c.cfg.frameRateMs()) * time.Millisecond
}

func (c *Client) renderHeadLocked() {
	head := c.ring.Head()
	var rf RenderedFrame
	rf.Sequence = head.SequenceNumber

	switch {
	case head.BytesReceived == c.cfg.FrameSizeBytes:
		c.stats.SuccessfulFrames++
		rf.Successful = true
	case head.BytesReceived < c.cfg.FrameSizeBytes:
		c.stats.DroppedFrames++
		rf.Dropped = true
	default:
		c.stats.DuplicateFrames++
		rf.Duplicate = true
	}

	if head.FirstReceiveQPC != 0 && c.firstSenderQPC != 0 {
		freq := clock.Frequency()
		recvDelta := int64(head.FirstReceiveQPC-c.firstReceiveQPC) * 1000 / freq
		sendDelta := int64(head.SenderQPC-c.firstSenderQPC) * 1000 / freq
		rf.EstimatedInFlightMs = recvDelta - sendDelta
	}

	c.ring.Advance()
	if c.onRender != nil {
		c.onRender(rf)
	}
}

// Finished reports whether the stream has ended (clean or fatally
// aborted).
func (c *Client) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// Stats returns a snapshot of the connection's counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
