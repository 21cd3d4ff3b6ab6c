package executor

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/streamgen/internal/pattern"
	"github.com/ehrlich-b/streamgen/internal/task"
)

// fakePattern hands out a fixed queue of tasks, one per NextTask call,
// then task.None() forever after.
type fakePattern struct {
	mu    sync.Mutex
	queue []task.Task
}

func (p *fakePattern) NextTask() task.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return task.None()
	}
	t := p.queue[0]
	p.queue = p.queue[1:]
	return t
}

type fakeSender struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (s *fakeSender) Send(buf []byte, addr net.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, buf)
	return s.err
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestExecutorInlinesNearDeadlineTask(t *testing.T) {
	pat := &fakePattern{queue: []task.Task{
		{Action: task.ActionSend, Buffer: []byte("a"), TimeOffsetMs: 0},
	}}
	sender := &fakeSender{}

	var gotVerdict pattern.Verdict
	handler := func(tk task.Task, err error) pattern.Verdict {
		gotVerdict = pattern.CompletedIo
		return pattern.CompletedIo
	}

	terminalCh := make(chan struct{}, 1)
	exec := New(pat, sender, nil, handler, func(v pattern.Verdict, err error) {
		terminalCh <- struct{}{}
	})

	exec.InitiateIo()

	select {
	case <-terminalCh:
	case <-time.After(time.Second):
		t.Fatal("onTerminal never called")
	}
	assert.Equal(t, 1, sender.count())
	assert.Equal(t, pattern.CompletedIo, gotVerdict)
}

func TestExecutorArmsTimerForFarTask(t *testing.T) {
	pat := &fakePattern{queue: []task.Task{
		{Action: task.ActionSend, Buffer: []byte("b"), TimeOffsetMs: 20},
	}}
	sender := &fakeSender{}

	done := make(chan struct{}, 1)
	handler := func(tk task.Task, err error) pattern.Verdict {
		done <- struct{}{}
		return pattern.CompletedIo
	}
	exec := New(pat, sender, nil, handler, func(pattern.Verdict, error) {})

	start := time.Now()
	exec.InitiateIo()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never executed")
	}
	assert.GreaterOrEqual(t, time.Since(start).Milliseconds(), int64(15))
	assert.Equal(t, 1, sender.count())
}

func TestExecutorChainsWhileContinueIo(t *testing.T) {
	pat := &fakePattern{queue: []task.Task{
		{Action: task.ActionSend, Buffer: []byte("1"), TimeOffsetMs: 0},
		{Action: task.ActionSend, Buffer: []byte("2"), TimeOffsetMs: 0},
		{Action: task.ActionSend, Buffer: []byte("3"), TimeOffsetMs: 0},
	}}
	sender := &fakeSender{}

	var calls int
	terminalCh := make(chan struct{}, 1)
	handler := func(tk task.Task, err error) pattern.Verdict {
		calls++
		if calls == 3 {
			return pattern.CompletedIo
		}
		return pattern.ContinueIo
	}
	exec := New(pat, sender, nil, handler, func(pattern.Verdict, error) {
		terminalCh <- struct{}{}
	})

	exec.InitiateIo()

	select {
	case <-terminalCh:
	case <-time.After(time.Second):
		t.Fatal("chain never reached terminal verdict")
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, sender.count())
}

func TestExecutorStopsOnEmptyQueue(t *testing.T) {
	pat := &fakePattern{}
	sender := &fakeSender{}

	var handlerCalled bool
	handler := func(tk task.Task, err error) pattern.Verdict {
		handlerCalled = true
		return pattern.ContinueIo
	}
	exec := New(pat, sender, nil, handler, func(pattern.Verdict, error) {})

	exec.InitiateIo()
	assert.False(t, handlerCalled)
}

func TestExecutorWrapsMessageTooBig(t *testing.T) {
	pat := &fakePattern{queue: []task.Task{
		{Action: task.ActionSend, Buffer: make([]byte, 65536), TimeOffsetMs: 0},
	}}
	sender := &fakeSender{err: unix.EMSGSIZE}

	var gotErr error
	done := make(chan struct{}, 1)
	handler := func(tk task.Task, err error) pattern.Verdict {
		gotErr = err
		done <- struct{}{}
		return pattern.FailedIo
	}
	exec := New(pat, sender, nil, handler, func(pattern.Verdict, error) {})

	exec.InitiateIo()
	<-done

	require.Error(t, gotErr)
	assert.True(t, errors.Is(gotErr, ErrMessageTooBig))
}

func TestExecutorRecvActionIsNoOpAndStillCallsHandler(t *testing.T) {
	pat := &fakePattern{queue: []task.Task{
		{Action: task.ActionRecv, TimeOffsetMs: 0},
	}}
	sender := &fakeSender{}

	called := false
	handler := func(tk task.Task, err error) pattern.Verdict {
		called = true
		assert.NoError(t, err)
		return pattern.CompletedIo
	}
	exec := New(pat, sender, nil, handler, func(pattern.Verdict, error) {})

	exec.InitiateIo()
	assert.True(t, called)
	assert.Equal(t, 0, sender.count())
}

func TestExecutorStopCancelsPendingTimer(t *testing.T) {
	pat := &fakePattern{queue: []task.Task{
		{Action: task.ActionSend, Buffer: []byte("x"), TimeOffsetMs: 500},
	}}
	sender := &fakeSender{}
	handler := func(tk task.Task, err error) pattern.Verdict {
		return pattern.CompletedIo
	}
	exec := New(pat, sender, nil, handler, func(pattern.Verdict, error) {})

	exec.InitiateIo()
	exec.Stop()

	time.Sleep(700 * time.Millisecond)
	assert.Equal(t, 0, sender.count())
}
