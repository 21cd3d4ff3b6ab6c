package socket

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingHooks struct {
	initiating int32
	closingAct int32
	closingPas int32
}

func (h *countingHooks) InitiatingIo() {
	atomic.AddInt32(&h.initiating, 1)
}

func (h *countingHooks) Closing(wasActive bool) {
	if wasActive {
		atomic.AddInt32(&h.closingAct, 1)
	} else {
		atomic.AddInt32(&h.closingPas, 1)
	}
}

func TestSocketHappyPathTransitions(t *testing.T) {
	hooks := &countingHooks{}
	closed := false
	s := New(nil, func() error { closed = true; return nil }, hooks)

	assert.Equal(t, Created, s.State())

	s.BeginConnecting(nil)
	assert.Equal(t, Connecting, s.State())

	s.ConnectSucceeded()
	assert.Equal(t, InitiatingIo, s.State())
	assert.EqualValues(t, 1, hooks.initiating)

	s.BeginClosing()
	assert.Equal(t, Closing, s.State())

	err := s.FinishClosing()
	assert.NoError(t, err)
	assert.Equal(t, Closed, s.State())
	assert.True(t, closed)
	assert.EqualValues(t, 1, hooks.closingAct)
}

func TestSocketConnectFailedFromConnecting(t *testing.T) {
	hooks := &countingHooks{}
	s := New(nil, nil, hooks)

	s.BeginConnecting(nil)
	err := s.ConnectFailed()
	assert.NoError(t, err)
	assert.Equal(t, Closed, s.State())
	assert.EqualValues(t, 1, hooks.closingPas)
	assert.EqualValues(t, 0, hooks.initiating)
}

func TestSocketTransitionsAreIdempotentAgainstWrongState(t *testing.T) {
	hooks := &countingHooks{}
	s := New(nil, nil, hooks)

	// BeginClosing before InitiatingIo is a no-op.
	s.BeginClosing()
	assert.Equal(t, Created, s.State())

	// ConnectSucceeded before BeginConnecting is a no-op.
	s.ConnectSucceeded()
	assert.Equal(t, Created, s.State())
	assert.EqualValues(t, 0, hooks.initiating)
}

func TestSocketFinishClosingTwiceOnlyNotifiesOnce(t *testing.T) {
	hooks := &countingHooks{}
	s := New(nil, nil, hooks)

	s.BeginConnecting(nil)
	s.ConnectSucceeded()
	s.BeginClosing()

	require1 := s.FinishClosing()
	require2 := s.FinishClosing()
	assert.NoError(t, require1)
	assert.NoError(t, require2)
	assert.EqualValues(t, 1, hooks.closingAct)
}

func TestSocketRemoteAddrSetByBeginConnecting(t *testing.T) {
	s := New(nil, nil, &countingHooks{})
	remote := &fakeAddr{addr: "10.0.0.1:9000"}
	s.BeginConnecting(remote)
	assert.Equal(t, remote, s.RemoteAddr())
}

type fakeAddr struct{ addr string }

func (f *fakeAddr) Network() string { return "udp" }
func (f *fakeAddr) String() string  { return f.addr }

func TestSocketStateString(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "initiating-io", InitiatingIo.String())
	assert.Equal(t, "closing", Closing.String())
	assert.Equal(t, "closed", Closed.String())
}
