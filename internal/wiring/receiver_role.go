package wiring

import (
	"net"
	"sync"
	"time"

	"github.com/ehrlich-b/streamgen"
	"github.com/ehrlich-b/streamgen/internal/executor"
	"github.com/ehrlich-b/streamgen/internal/ioshard"
	"github.com/ehrlich-b/streamgen/internal/pattern"
	"github.com/ehrlich-b/streamgen/internal/task"
	"github.com/ehrlich-b/streamgen/internal/wire"
)

// receiverRole drives a pattern.Client over one peer: classify incoming
// datagrams, feed them to the pattern, and run the render and
// start-nudge timers the pattern needs driven from outside its own
// next_task/complete_task contract.
//
// It is shared by the dialing side in stream-pull mode (the classic
// receiving client) and the accepting side in upload mode (a listener
// socket that receives an uploaded stream instead of sending one) —
// both just need "receive and render this media stream."
type receiverRole struct {
	shard      *ioshard.Shard
	peer       net.Addr
	frameBytes int
	originates bool

	pat  *pattern.Client
	exec *executor.Executor
	obs  streamgen.Observer

	mu          sync.Mutex
	renderTimer *time.Timer
	startTimer  *time.Timer

	onTerminal func(pattern.Verdict, error)
}

// newReceiverRole builds a receiverRole. When originates is true, the
// role itself nudges the far end with the out-of-band START datagram
// (the classic dialing client); when false, the caller already reached
// this peer some other way (its own inbound START already paired it off
// an accept queue) and no nudge is sent.
func newReceiverRole(shard *ioshard.Shard, peer net.Addr, cfg pattern.Config, originates bool, obs streamgen.Observer, onTerminal func(pattern.Verdict, error)) *receiverRole {
	r := &receiverRole{shard: shard, peer: peer, frameBytes: cfg.FrameSizeBytes, originates: originates, obs: obs, onTerminal: onTerminal}
	r.pat = pattern.NewClient(cfg, r.onRender)
	r.exec = executor.New(r.pat, newShardSender(shard), peer, r.handleResult, r.terminal)
	return r
}

// Start arms the render timer (and, if this role originates the
// handshake, the start nudge) and tops up the pattern's pre-posted-recv
// bookkeeping.
func (r *receiverRole) Start() {
	if r.originates {
		_ = r.shard.Send(0, wire.BuildStart(), r.peer)
		r.armStartTimer()
	}
	r.armRenderTimer()
	r.exec.InitiateIo()
}

// HandleReceive classifies the datagram and feeds it to the pattern.
// onFirstInbound, if non-nil, is called once the first ID or DATA frame
// proves the peer is reachable; the caller uses it to drive its own
// socket's Connecting -> InitiatingIo transition.
func (r *receiverRole) HandleReceive(buf []byte, n int, addr net.Addr, err error, onFirstInbound func()) {
	if err != nil {
		if r.obs != nil {
			r.obs.ObserveError()
		}
		return
	}

	comp := r.classify(buf, n)
	if onFirstInbound != nil && (comp.Kind == pattern.CompletionIDFrame || comp.Kind == pattern.CompletionDataFrame) {
		onFirstInbound()
	}

	verdict := r.pat.CompleteTask(comp)
	r.afterVerdict(verdict)
}

func (r *receiverRole) classify(buf []byte, n int) pattern.Completion {
	if n == 0 {
		return pattern.Completion{Kind: pattern.CompletionZeroByteRecv, Buf: buf, N: n}
	}
	if wire.IsStart(buf, n) {
		return pattern.Completion{Kind: pattern.CompletionStartLiteral, Buf: buf, N: n}
	}
	res := wire.Parse(buf, n)
	if !wire.ValidateBufferLength(res.Type, n) {
		return pattern.Completion{Kind: pattern.CompletionHeaderTooShort, Buf: buf, N: n}
	}
	switch res.Type {
	case wire.FrameID:
		return pattern.Completion{Kind: pattern.CompletionIDFrame, Buf: buf, N: n}
	case wire.FrameData:
		return pattern.Completion{Kind: pattern.CompletionDataFrame, Buf: buf, N: n}
	default:
		return pattern.Completion{Kind: pattern.CompletionHeaderTooShort, Buf: buf, N: n}
	}
}

func (r *receiverRole) afterVerdict(verdict pattern.Verdict) {
	switch verdict {
	case pattern.ContinueIo:
		r.exec.InitiateIo()
	case pattern.CompletedIo, pattern.FailedIo:
		r.terminal(verdict, nil)
	}
}

// handleResult satisfies executor.ResultHandler for the placeholder Recv
// tasks NextTask hands back; the shard keeps a receive posted on its
// own, so there is nothing left to execute here.
func (r *receiverRole) handleResult(t task.Task, err error) pattern.Verdict {
	return pattern.ContinueIo
}

func (r *receiverRole) terminal(verdict pattern.Verdict, err error) {
	r.mu.Lock()
	if r.renderTimer != nil {
		r.renderTimer.Stop()
	}
	if r.startTimer != nil {
		r.startTimer.Stop()
	}
	r.mu.Unlock()
	if r.onTerminal != nil {
		r.onTerminal(verdict, err)
	}
}

func (r *receiverRole) armStartTimer() {
	if !r.pat.ShouldArmStartTimer() {
		return
	}
	interval := r.pat.StartTimerInterval()
	r.mu.Lock()
	r.startTimer = time.AfterFunc(interval, r.fireStartTimer)
	r.mu.Unlock()
}

func (r *receiverRole) fireStartTimer() {
	if !r.pat.ShouldArmStartTimer() {
		return
	}
	_ = r.shard.Send(0, r.pat.BuildStartDatagram(), r.peer)
	r.armStartTimer()
}

func (r *receiverRole) armRenderTimer() {
	interval := r.pat.RenderInterval()
	r.mu.Lock()
	r.renderTimer = time.AfterFunc(interval, r.fireRenderTimer)
	r.mu.Unlock()
}

func (r *receiverRole) fireRenderTimer() {
	rearm, after := r.pat.RenderTick()
	if !rearm {
		r.terminal(pattern.CompletedIo, nil)
		return
	}
	r.mu.Lock()
	r.renderTimer = time.AfterFunc(after, r.fireRenderTimer)
	r.mu.Unlock()
}

func (r *receiverRole) onRender(rf pattern.RenderedFrame) {
	if r.obs == nil {
		return
	}
	bytes := 0
	if rf.Successful {
		bytes = r.frameBytes
	}
	r.obs.ObserveRecv(uint64(bytes), rf.EstimatedInFlightMs*1_000_000, rf.Dropped, rf.Duplicate)
}

// Stats returns the role's receive-side statistics.
func (r *receiverRole) Stats() pattern.Stats { return r.pat.Stats() }
