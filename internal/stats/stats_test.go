package stats

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateTrackerPublishesAfterWindow(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var out StreamStats
		r := NewRateTracker(time.Now())

		for range 50 {
			r.Add(5000)
		}

		time.Sleep(1000 * time.Millisecond)
		assert.False(t, r.MaybePublish(time.Now(), &out), "exactly 1000ms does not close the window")

		time.Sleep(1000 * time.Millisecond)
		assert.True(t, r.MaybePublish(time.Now(), &out))

		// 250000 bytes over 2000ms
		assert.Equal(t, uint32(1000), out.BitrateKbps())
		assert.Equal(t, uint32(25), out.FPS())
	})
}

func TestRateTrackerBitrateFormula(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var out StreamStats
		r := NewRateTracker(time.Now())
		for range 25 {
			r.Add(5005)
		}

		time.Sleep(1001 * time.Millisecond)
		assert.True(t, r.MaybePublish(time.Now(), &out))

		// 125125 bytes over 1001ms
		assert.Equal(t, uint32(1000), out.BitrateKbps())
		assert.Equal(t, uint32(24), out.FPS())
	})
}

func TestRateTrackerResetsWindow(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var out StreamStats
		r := NewRateTracker(time.Now())
		r.Add(1000)
		time.Sleep(1500 * time.Millisecond)
		assert.True(t, r.MaybePublish(time.Now(), &out))

		time.Sleep(500 * time.Millisecond)
		assert.False(t, r.MaybePublish(time.Now(), &out))

		time.Sleep(600 * time.Millisecond)
		assert.True(t, r.MaybePublish(time.Now(), &out))
		assert.Zero(t, out.BitrateKbps())
		assert.Zero(t, out.FPS())
	})
}

func TestIdlePublishesZero(t *testing.T) {
	t.Parallel()

	var out StreamStats
	out.Publish(900, 25)

	r := NewRateTracker(time.Now())
	r.Add(100)
	r.Idle(time.Now(), &out)

	assert.Zero(t, out.BitrateKbps())
	assert.Zero(t, out.FPS())
}

func TestSnapshotCopiesCounters(t *testing.T) {
	t.Parallel()

	var s StreamStats
	now := time.UnixMicro(1_700_000_000_000_000)
	s.AddPacket(10, now)
	s.AddPacket(20, now)
	s.AddEnqueued()
	s.AddDropped()
	s.AddGated()
	s.AddPollTimeout()
	s.AddError()

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Packets)
	assert.Equal(t, uint64(30), snap.Bytes)
	assert.Equal(t, uint64(1), snap.Enqueued)
	assert.Equal(t, uint64(1), snap.Dropped)
	assert.Equal(t, uint64(1), snap.Gated)
	assert.Equal(t, uint64(1), snap.PollTimeouts)
	assert.Equal(t, uint64(1), snap.Errors)
	assert.True(t, snap.LastFrame.Equal(now))
}
