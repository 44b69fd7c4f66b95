package sink

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryPushNeverBlocks(t *testing.T) {
	t.Parallel()

	s := NewVideoSink("stream0", 2)
	require.True(t, s.TryPush(&AccessUnit{}))
	require.True(t, s.TryPush(&AccessUnit{}))

	done := make(chan bool, 1)
	go func() { done <- s.TryPush(&AccessUnit{}) }()

	select {
	case ok := <-done:
		assert.False(t, ok, "push into a full queue fails")
	case <-time.After(time.Second):
		t.Fatal("TryPush blocked on a full queue")
	}
	assert.Equal(t, 2, s.Len())
}

func TestDefaultQueueSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultQueueSize, NewVideoSink("x", 0).Cap())
}

func TestMarkIDROpensOnce(t *testing.T) {
	t.Parallel()

	s := NewVideoSink("stream0", 1)
	assert.False(t, s.IDRSeen())
	assert.True(t, s.MarkIDR())
	assert.False(t, s.MarkIDR())
	assert.True(t, s.IDRSeen())
}

func TestCallbackAttachDetach(t *testing.T) {
	t.Parallel()

	s := NewVideoSink("stream0", 1)
	assert.False(t, s.HasConsumer())
	s.Notify() // no-op without a consumer

	var calls atomic.Int32
	s.SetDataCallback(func() { calls.Add(1) })
	assert.True(t, s.HasConsumer())

	s.Notify()
	s.Notify()
	assert.Equal(t, int32(2), calls.Load())

	s.SetDataCallback(nil)
	assert.False(t, s.HasConsumer())
}

func TestRearmStartsFreshCycle(t *testing.T) {
	t.Parallel()

	s := NewVideoSink("stream0", 4)
	first := s.Cycle()
	s.MarkIDR()
	s.TryPush(&AccessUnit{Data: []byte{1}})
	s.TryPush(&AccessUnit{Data: []byte{2}})

	assert.Equal(t, 2, s.Rearm())
	assert.False(t, s.IDRSeen())
	assert.Zero(t, s.Len())
	assert.NotEqual(t, first, s.Cycle())
}

func TestAudioSinkFunc(t *testing.T) {
	t.Parallel()

	var got AudioFrame
	var sink AudioSink = AudioSinkFunc(func(f AudioFrame) bool {
		got = f
		return false
	})

	assert.False(t, sink.Deliver(AudioFrame{Seq: 7}))
	assert.Equal(t, uint32(7), got.Seq)
	assert.True(t, DiscardAudio.Deliver(AudioFrame{}))
}
