package worker

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/hal/halfake"
	"github.com/ipcam/streamworker/internal/lifecycle"
	"github.com/ipcam/streamworker/internal/logger"
)

func snapshotConfig(t *testing.T) Config {
	t.Helper()
	cfg := testConfig()
	cfg.Snapshot = &SnapshotConfig{
		EncChannel: 2,
		Path:       filepath.Join(t.TempDir(), "snapshot.jpg"),
		Interval:   20 * time.Millisecond,
		CacheTTL:   time.Minute,
	}
	return cfg
}

func TestSnapshotWriterPublishesFrames(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	cfg := snapshotConfig(t)
	c := newTestController(t, hw, cfg)
	runController(t, c)

	lifecycle.RequestStart(c.Signal())
	waitStarted(t, c)
	require.NotNil(t, hw.Config().Snapshot)
	assert.True(t, hw.Stats(2).Receiving)

	head := []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3}
	tail := []byte{4, 5, 6, 0xff, 0xd9}
	hw.Queue(2, halfake.Payload{Data: head, Timestamp: 1}, halfake.Payload{Data: tail, Timestamp: 1})

	want := append(append([]byte{}, head...), tail...)
	require.Eventually(t, func() bool {
		got, err := os.ReadFile(cfg.Snapshot.Path)
		return err == nil && string(got) == string(want)
	}, waitTimeout, tick)

	img, err := c.SnapshotStore().Latest()
	require.NoError(t, err)
	assert.Equal(t, want, img.Data)

	_, err = os.Stat(cfg.Snapshot.Path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a publish")
	assert.Zero(t, hw.Stats(2).Outstanding())
}

func TestSnapshotWriterReplacesPreviousImage(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	cfg := snapshotConfig(t)
	require.NoError(t, os.WriteFile(cfg.Snapshot.Path, []byte("old"), 0o644))

	c := newTestController(t, hw, cfg)
	runController(t, c)
	lifecycle.RequestStart(c.Signal())
	waitStarted(t, c)

	hw.Queue(2, halfake.Payload{Data: []byte("first"), Timestamp: 1})
	require.Eventually(t, func() bool {
		got, _ := os.ReadFile(cfg.Snapshot.Path)
		return string(got) == "first"
	}, waitTimeout, tick)

	hw.Queue(2, halfake.Payload{Data: []byte("second"), Timestamp: 2})
	require.Eventually(t, func() bool {
		got, _ := os.ReadFile(cfg.Snapshot.Path)
		return string(got) == "second"
	}, waitTimeout, tick)
}

func TestSnapshotWriterHonorsInterval(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	cfg := snapshotConfig(t)
	cfg.Snapshot.Interval = time.Hour
	// Both frames are ready before the first poll.
	hw.Queue(2, halfake.Payload{Data: []byte("a"), Timestamp: 1})
	hw.Queue(2, halfake.Payload{Data: []byte("b"), Timestamp: 2})

	c := newTestController(t, hw, cfg)
	runController(t, c)
	lifecycle.RequestStart(c.Signal())
	waitStarted(t, c)

	require.Eventually(t, func() bool { return hw.Stats(2).Gets == 1 }, waitTimeout, tick)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, hw.Stats(2).Gets, "second frame must wait for the next interval")

	// Stop is not delayed by the long interval.
	require.True(t, lifecycle.RequestStop(c.Signal()))
	waitStopped(t, c)
	assert.False(t, hw.Stats(2).Receiving)
}

func TestSnapshotOpenFailureSkipsCycle(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	cfg := snapshotConfig(t)
	cfg.Snapshot.TempPath = filepath.Join(t.TempDir(), "missing", "snapshot.tmp")
	c := newTestController(t, hw, cfg)
	runController(t, c)
	lifecycle.RequestStart(c.Signal())
	waitStarted(t, c)

	hw.Queue(2, halfake.Payload{Data: []byte("frame"), Timestamp: 1})
	require.Eventually(t, func() bool { return hw.Stats(2).Releases == 1 }, waitTimeout, tick)

	time.Sleep(20 * time.Millisecond)
	_, err := os.Stat(cfg.Snapshot.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = c.SnapshotStore().Latest()
	assert.Error(t, err)
}

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func TestSnapshotEmptyBatchIsSkipped(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	cfg := snapshotConfig(t)
	var logs lockedBuffer
	log := logger.NewSlogLogger(&logs, logger.LogLevelDebug, time.UTC)
	c := newTestController(t, hw, cfg, WithLogger(log))
	runController(t, c)
	lifecycle.RequestStart(c.Signal())
	waitStarted(t, c)

	hw.Queue(2, halfake.Payload{Timestamp: 1}, halfake.Payload{Timestamp: 1})
	require.Eventually(t, func() bool { return hw.Stats(2).Releases == 1 }, waitTimeout, tick)
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "empty snapshot batch skipped")
	}, waitTimeout, tick)

	assert.NotContains(t, logs.String(), "outside encoder buffer")
	_, err := os.Stat(cfg.Snapshot.Path)
	assert.True(t, os.IsNotExist(err), "nothing published for an empty batch")

	hw.Queue(2, halfake.Payload{Data: []byte("frame"), Timestamp: 2})
	require.Eventually(t, func() bool {
		got, _ := os.ReadFile(cfg.Snapshot.Path)
		return string(got) == "frame"
	}, waitTimeout, tick)
}

func TestCaptureSnapshotOnDemand(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	cfg := snapshotConfig(t)
	cfg.Snapshot.Interval = time.Hour
	hw.Queue(2, halfake.Payload{Data: []byte("cached"), Timestamp: 1})

	c := newTestController(t, hw, cfg)
	_, err := c.CaptureSnapshot(t.Context())
	require.ErrorIs(t, err, ErrNotCapturing)

	runController(t, c)
	lifecycle.RequestStart(c.Signal())
	waitStarted(t, c)

	require.Eventually(t, func() bool {
		img, err := c.SnapshotStore().Latest()
		return err == nil && string(img.Data) == "cached"
	}, waitTimeout, tick)
	cached, err := c.SnapshotStore().Latest()
	require.NoError(t, err)

	hw.Queue(2, halfake.Payload{Data: []byte("fresh"), Timestamp: 2})
	ctx, cancel := context.WithTimeout(t.Context(), waitTimeout)
	defer cancel()
	img, err := c.CaptureSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(img.Data))
	assert.True(t, img.Time.After(cached.Time), "fresh capture must be newer than the cached image")

	got, err := os.ReadFile(cfg.Snapshot.Path)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(got))
}

func TestCaptureSnapshotTimesOutWithoutFrame(t *testing.T) {
	t.Parallel()

	hw := halfake.New()
	cfg := snapshotConfig(t)
	cfg.Snapshot.Interval = time.Hour
	c := newTestController(t, hw, cfg)
	runController(t, c)
	lifecycle.RequestStart(c.Signal())
	waitStarted(t, c)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err := c.CaptureSnapshot(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
}

func TestCaptureSnapshotDisabled(t *testing.T) {
	t.Parallel()

	c := newTestController(t, halfake.New(), testConfig())
	_, err := c.CaptureSnapshot(t.Context())
	require.ErrorIs(t, err, ErrSnapshotDisabled)
	assert.True(t, errors.IsNotFound(err))
}
