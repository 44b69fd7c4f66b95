package worker

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ipcam/streamworker/internal/codec"
	"github.com/ipcam/streamworker/internal/hal/halfake"
	"github.com/ipcam/streamworker/internal/lifecycle"
	"github.com/ipcam/streamworker/internal/logger"
	"github.com/ipcam/streamworker/internal/sched"
)

func TestMain(m *testing.M) {
	sched.SetEnabled(false)
	goleak.VerifyTestMain(m)
}

const (
	testPollTimeout = 20 * time.Millisecond
	testThreadSleep = 5 * time.Millisecond
	waitTimeout     = 3 * time.Second
	tick            = 2 * time.Millisecond
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelTrace, time.UTC)
}

func testConfig() Config {
	return Config{
		Streams: []StreamConfig{
			{ID: 0, Name: "main", EncChannel: 0, Codec: codec.H264, QueueSize: 8},
		},
		PollTimeout: testPollTimeout,
		ThreadSleep: testThreadSleep,
	}
}

func newTestController(t *testing.T, hw *halfake.Hardware, cfg Config, opts ...Option) *Controller {
	t.Helper()
	c, err := NewController(hw, cfg, append([]Option{WithLogger(testLogger())}, opts...)...)
	require.NoError(t, err)
	return c
}

// runController runs c until the test ends. The returned channel yields
// the value returned by Run.
func runController(t *testing.T, c *Controller) <-chan error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result <- c.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(waitTimeout):
			t.Error("controller did not exit")
		}
	})
	return result
}

func waitBits(t *testing.T, c *Controller, cond func(lifecycle.Bits) bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	_, err := c.Signal().WaitUntil(ctx, cond)
	require.NoError(t, err, "state %s", c.Signal().Load())
}

func waitStarted(t *testing.T, c *Controller) {
	t.Helper()
	waitBits(t, c, func(b lifecycle.Bits) bool { return b.Has(lifecycle.Started) })
}

func waitStopped(t *testing.T, c *Controller) {
	t.Helper()
	waitBits(t, c, func(b lifecycle.Bits) bool {
		return b.Has(lifecycle.Stopped) && !b.Has(lifecycle.Started|lifecycle.StopRequested)
	})
}

// h264 returns an Annex-B packet whose first byte is header.
func h264(header byte, size int) []byte {
	b := append([]byte{0, 0, 0, 1, header}, bytes.Repeat([]byte{0xab}, size)...)
	return b
}

const (
	h264IDR    = 0x65
	h264NonIDR = 0x41
	h264SPS    = 0x67
)

func attachConsumer(c *Controller, streamID int) {
	c.Sink(streamID).SetDataCallback(func() {})
}
