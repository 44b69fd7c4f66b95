package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipcam/streamworker/internal/codec"
	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/hal/halfake"
	"github.com/ipcam/streamworker/internal/lifecycle"
	"github.com/ipcam/streamworker/internal/sink"
)

func TestNewControllerValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "stream id out of range",
			cfg:  Config{Streams: []StreamConfig{{ID: MaxStreams, Codec: codec.H264}}},
		},
		{
			name: "duplicate stream id",
			cfg: Config{Streams: []StreamConfig{
				{ID: 1, EncChannel: 0, Codec: codec.H264},
				{ID: 1, EncChannel: 1, Codec: codec.H264},
			}},
		},
		{
			name: "duplicate encoder channel",
			cfg: Config{Streams: []StreamConfig{
				{ID: 0, EncChannel: 3, Codec: codec.H264},
				{ID: 1, EncChannel: 3, Codec: codec.H265},
			}},
		},
		{
			name: "jpeg video stream",
			cfg:  Config{Streams: []StreamConfig{{ID: 0, Codec: codec.JPEG}}},
		},
		{
			name: "snapshot shares stream channel",
			cfg: Config{
				Streams:  []StreamConfig{{ID: 0, EncChannel: 2, Codec: codec.H264}},
				Snapshot: &SnapshotConfig{EncChannel: 2, Path: "/tmp/x.jpg"},
			},
		},
		{
			name: "snapshot without path",
			cfg:  Config{Snapshot: &SnapshotConfig{EncChannel: 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewController(halfake.New(), tt.cfg, WithLogger(testLogger()))
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation), "got %v", err)
		})
	}
}

func TestNewControllerDefaults(t *testing.T) {
	t.Parallel()

	c, err := NewController(halfake.New(), Config{
		Streams:  []StreamConfig{{ID: 3, EncChannel: 1, Codec: codec.H265}},
		Snapshot: &SnapshotConfig{EncChannel: 2, Path: "/tmp/snap.jpg"},
	}, WithLogger(testLogger()))
	require.NoError(t, err)

	cfg := c.Config()
	assert.Equal(t, DefaultPollTimeout, cfg.PollTimeout)
	assert.Equal(t, DefaultThreadSleep, cfg.ThreadSleep)
	assert.Equal(t, "stream3", cfg.Streams[0].Name)
	assert.Equal(t, sink.DefaultQueueSize, c.Sink(3).Cap())
	assert.Equal(t, time.Second, cfg.Snapshot.Interval)
	assert.NotNil(t, c.SnapshotStore())
	assert.Nil(t, c.Sink(0))
	assert.Nil(t, c.Stats(0))
}

func TestControllerStaysIdleUntilRunning(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	c := newTestController(t, hw, testConfig())
	runController(t, c)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, hw.Inits())
	assert.Equal(t, lifecycle.Bits(0), c.Signal().Load())

	lifecycle.RequestStart(c.Signal())
	waitStarted(t, c)
	assert.Equal(t, 1, hw.Inits())
	assert.True(t, hw.Stats(0).Receiving)
	assert.False(t, c.Signal().Has(lifecycle.Stopped))

	cfg := hw.Config()
	require.Len(t, cfg.Streams, 1)
	assert.Equal(t, codec.H264, cfg.Streams[0].Codec)
}

func TestStopJoinsWorkersWithinPollTimeout(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	c := newTestController(t, hw, testConfig())
	attachConsumer(c, 0)
	runController(t, c)

	lifecycle.RequestStart(c.Signal())
	waitStarted(t, c)
	require.Eventually(t, func() bool { return hw.Stats(0).Polls > 0 }, waitTimeout, tick)

	begin := time.Now()
	require.True(t, lifecycle.RequestStop(c.Signal()))
	waitStopped(t, c)
	elapsed := time.Since(begin)

	// One poll timeout plus scheduling slack.
	assert.Less(t, elapsed, testPollTimeout+500*time.Millisecond)

	st := hw.Stats(0)
	assert.False(t, st.Receiving)
	assert.Equal(t, 1, st.Stops)
	assert.Zero(t, st.Outstanding())
	assert.Equal(t, 1, hw.Deinits())
	assert.Equal(t, lifecycle.Stopped, c.Signal().Load())
	assert.Nil(t, c.arena.get(0))
}

func TestRestartRearmsKeyframeGate(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	c := newTestController(t, hw, testConfig())
	attachConsumer(c, 0)
	runController(t, c)

	lifecycle.RequestStart(c.Signal())
	waitStarted(t, c)

	hw.Queue(0, halfake.Payload{Data: h264(h264IDR, 32), Timestamp: 1000})
	require.Eventually(t, func() bool { return c.Stats(0).Snapshot().Enqueued == 1 }, waitTimeout, tick)
	require.True(t, c.Sink(0).IDRSeen())
	firstCycle := c.Sink(0).Cycle()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, lifecycle.Restart(ctx, c.Signal()))
	waitStarted(t, c)

	assert.False(t, c.Sink(0).IDRSeen(), "gate must be closed after restart")
	assert.Zero(t, c.Sink(0).Len(), "units of the previous run are discarded")
	assert.NotEqual(t, firstCycle, c.Sink(0).Cycle())
	assert.Equal(t, 2, hw.Inits())
	assert.Equal(t, 1, hw.Deinits())

	// A non-key packet after restart is gated again.
	hw.Queue(0, halfake.Payload{Data: h264(h264NonIDR, 16), Timestamp: 2000})
	require.Eventually(t, func() bool { return c.Stats(0).Snapshot().Gated == 1 }, waitTimeout, tick)
	assert.Zero(t, c.Sink(0).Len())
}

func TestInitFailureIsReturned(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	hw.FailInit(errors.NewStd("device busy"))
	c := newTestController(t, hw, testConfig())
	result := runController(t, c)

	lifecycle.RequestStart(c.Signal())

	select {
	case err := <-result:
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryHardware))
		assert.Contains(t, err.Error(), "device busy")
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}

	assert.False(t, c.Signal().Has(lifecycle.Started))
	assert.False(t, c.Signal().Has(lifecycle.Running))
	assert.Zero(t, hw.Stats(0).Starts)
}

func TestStartReceivingFailureRollsBack(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	hw.FailStart(1, errors.NewStd("channel not configured"))

	cfg := testConfig()
	cfg.Streams = append(cfg.Streams, StreamConfig{ID: 1, Name: "sub", EncChannel: 1, Codec: codec.H264})
	c := newTestController(t, hw, cfg)
	result := runController(t, c)

	lifecycle.RequestStart(c.Signal())

	select {
	case err := <-result:
		require.Error(t, err)
		var ee *errors.EnhancedError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, "start_receiving", ee.GetContext()["operation"])
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}

	assert.Equal(t, 1, hw.Stats(0).Stops, "started channel must be stopped again")
	assert.False(t, hw.Stats(0).Receiving)
	assert.Equal(t, 1, hw.Deinits())
	assert.Zero(t, c.arena.len())
}

func TestShutdownStopsRunningWorkers(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	c := newTestController(t, hw, testConfig())
	attachConsumer(c, 0)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- c.Run(ctx) }()

	lifecycle.RequestStart(c.Signal())
	waitStarted(t, c)
	cancel()

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}

	assert.True(t, c.Signal().Has(lifecycle.Shutdown))
	assert.True(t, c.Signal().Has(lifecycle.Stopped))
	assert.Equal(t, 1, hw.Stats(0).Stops)
	assert.Equal(t, 1, hw.Deinits())
}

func TestStopBeforeStartCompletesWithoutHardware(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	c := newTestController(t, hw, testConfig())

	// Running and StopRequested toggled before the loop ever saw Running.
	c.Signal().Or(lifecycle.Running)
	require.True(t, lifecycle.RequestStop(c.Signal()))
	runController(t, c)

	waitStopped(t, c)
	assert.Zero(t, hw.Inits())
}

func TestOverlayRefreshStartsAfterFirstCycle(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	overlay := halfake.NewOverlay()
	hw.SetOverlay(0, overlay)

	cfg := testConfig()
	cfg.Streams[0].OSD = true
	c := newTestController(t, hw, cfg)
	attachConsumer(c, 0)
	runController(t, c)

	lifecycle.RequestStart(c.Signal())
	waitStarted(t, c)

	time.Sleep(4 * testThreadSleep)
	starts, updates := overlay.Counts()
	assert.Zero(t, starts, "no refresh before the first capture cycle")
	assert.Zero(t, updates)

	hw.Queue(0, halfake.Payload{Data: h264(h264IDR, 8), Timestamp: 1})
	require.Eventually(t, func() bool {
		starts, updates := overlay.Counts()
		return starts == 1 && updates > 0
	}, waitTimeout, tick)
}

func TestStatusReportsStreams(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	c := newTestController(t, hw, testConfig())
	attachConsumer(c, 0)
	runController(t, c)

	st := c.Status()
	require.Len(t, st.Streams, 1)
	assert.False(t, st.Streams[0].Active)
	assert.Equal(t, "idle", st.State)

	lifecycle.RequestStart(c.Signal())
	waitStarted(t, c)

	st = c.Status()
	assert.True(t, st.Streams[0].Active)
	assert.True(t, st.Streams[0].Consumer)
	assert.Equal(t, "h264", st.Streams[0].Codec)
	assert.Equal(t, 8, st.Streams[0].QueueCap)
	assert.Equal(t, uint32(lifecycle.Running|lifecycle.Started), st.Bits)
}

func TestAudioWorkerDeliversAndReleases(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	frames := make(chan sink.AudioFrame, 4)
	var clogged atomic.Bool

	cfg := testConfig()
	cfg.Audio = &AudioConfig{DeviceID: 0, ChannelID: 0, PollTimeout: testPollTimeout}
	c := newTestController(t, hw, cfg, WithAudioSink(sink.AudioSinkFunc(func(f sink.AudioFrame) bool {
		if clogged.Load() {
			return false
		}
		frames <- f
		return true
	})))
	runController(t, c)

	lifecycle.RequestStart(c.Signal())
	waitStarted(t, c)

	pcm := []byte{1, 2, 3, 4}
	hw.FakeAudio().Queue(pcm, 1_700_000_000_000_000)

	select {
	case f := <-frames:
		assert.Equal(t, pcm, f.Data)
		assert.Equal(t, time.UnixMicro(1_700_000_000_000_000), f.Time)
	case <-time.After(waitTimeout):
		t.Fatal("no audio frame delivered")
	}

	clogged.Store(true)
	hw.FakeAudio().Queue([]byte{5, 6}, 1_700_000_000_020_000)
	require.Eventually(t, func() bool {
		gets, releases := hw.FakeAudio().Counts()
		return gets == 2 && releases == 2
	}, waitTimeout, tick)
}

func TestSlotConflictStopsEachReceiverOnce(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	c := newTestController(t, hw, testConfig())
	// Slot 0 is taken by the first stream; the duplicate fails to claim it.
	c.cfg.Streams = append(c.cfg.Streams, StreamConfig{ID: 0, Name: "dup", EncChannel: 1, Codec: codec.H264, QueueSize: 8})

	err := c.start(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	assert.Equal(t, 1, hw.Stats(0).Stops, "worker-owned receiver stopped by its worker only")
	assert.Equal(t, 1, hw.Stats(1).Stops, "unowned receiver stopped by the rollback")
	assert.False(t, hw.Stats(0).Receiving)
	assert.False(t, hw.Stats(1).Receiving)
	assert.Equal(t, 1, hw.Deinits())
	assert.Zero(t, c.arena.len())
}
