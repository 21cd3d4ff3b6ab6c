package wiring

import (
	"net"

	"github.com/ehrlich-b/streamgen"
	"github.com/ehrlich-b/streamgen/internal/connid"
	"github.com/ehrlich-b/streamgen/internal/executor"
	"github.com/ehrlich-b/streamgen/internal/ioshard"
	"github.com/ehrlich-b/streamgen/internal/pattern"
	"github.com/ehrlich-b/streamgen/internal/ratelimit"
	"github.com/ehrlich-b/streamgen/internal/task"
)

// senderRole drives a pattern.Server over one peer: send the
// connection-id frame, then frames at a fixed rate. It is shared by the
// accepting side in stream-pull mode (the classic sending server) and
// the dialing side in upload mode (a client socket that sends the
// stream instead of receiving one) — both just need "originate this
// media stream toward addr."
type senderRole struct {
	pat  *pattern.Server
	exec *executor.Executor
	obs  streamgen.Observer
}

func newSenderRole(shard *ioshard.Shard, addr net.Addr, cfg pattern.Config, id connid.ID, limit ratelimit.Policy, obs streamgen.Observer, onTerminal func(pattern.Verdict, error)) *senderRole {
	r := &senderRole{obs: obs}
	r.pat = pattern.NewServer(cfg, id, limit)
	r.exec = executor.New(r.pat, newShardSender(shard), addr, r.handleResult, onTerminal)
	return r
}

func (r *senderRole) Start() { r.exec.InitiateIo() }

func (r *senderRole) handleResult(t task.Task, err error) pattern.Verdict {
	if err != nil {
		if r.obs != nil {
			r.obs.ObserveSend(uint64(len(t.Buffer)), false)
		}
		return pattern.FailedIo
	}
	if r.obs != nil {
		r.obs.ObserveSend(uint64(len(t.Buffer)), true)
	}
	isIDAck := t.BufferType == task.BufferTCPConnectionID
	return r.pat.CompleteTask(isIDAck, len(t.Buffer))
}

// Stats returns the role's send-side statistics.
func (r *senderRole) Stats() pattern.Stats { return r.pat.Stats() }
