package broker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	closed int32
}

func (h *fakeHandle) Closed() bool { return atomic.LoadInt32(&h.closed) == 1 }

type fakeFactory struct {
	b       *Broker
	created int32
}

func (f *fakeFactory) CreateAndStart() (Handle, error) {
	atomic.AddInt32(&f.created, 1)
	h := &fakeHandle{}
	go func() {
		f.b.InitiatingIo()
		atomic.StoreInt32(&h.closed, 1)
		f.b.Closing(true)
	}()
	return h, nil
}

func TestBrokerCompletesOnExhaustion(t *testing.T) {
	factory := &fakeFactory{}
	b, err := New(Config{
		Accepting:       false,
		Iterations:      1,
		ConnectionLimit: 4,
		ThrottleLimit:   4,
		Factory:         factory,
	})
	require.NoError(t, err)
	factory.b = b

	b.Start()

	ok := b.Wait(1000 * time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, 0, b.Pending())
	assert.Equal(t, 0, b.Active())
	assert.EqualValues(t, 4, factory.created)
}

func TestBrokerAffinityRequiredFailsFast(t *testing.T) {
	_, err := New(Config{AffinityRequired: true, AffinitySupport: false})
	assert.Error(t, err)
}
