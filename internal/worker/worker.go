// Package worker runs the capture core: the lifecycle controller and the
// per-channel goroutines it supervises.
//
// A Controller owns one ChannelWorker per enabled video stream, an optional
// SnapshotWriter and AudioWorker, and the OSDRefresher. Each of them runs on
// its own OS thread and observes a private run bit; the controller flips the
// bit and joins the goroutine on stop. Sinks and statistics blocks are
// created once by the controller and survive restarts so consumers can hold
// on to them.
package worker

import (
	"strconv"
	"time"

	"github.com/ipcam/streamworker/internal/codec"
	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/lifecycle"
	"github.com/ipcam/streamworker/internal/logger"
	"github.com/ipcam/streamworker/internal/sink"
)

// ComponentWorker identifies worker errors
const ComponentWorker = "worker"

var (
	// ErrSnapshotDisabled is returned for on-demand captures without a
	// snapshot channel.
	ErrSnapshotDisabled = errors.Newf("snapshots are disabled").
			Component(ComponentWorker).
			Category(errors.CategoryNotFound).
			Build()
	// ErrNotCapturing is returned for on-demand captures while stopped.
	ErrNotCapturing = errors.Newf("capture is not running").
			Component(ComponentWorker).
			Category(errors.CategoryConflict).
			Build()
)

// MaxStreams is the number of channel slots; stream ids must be below it.
const MaxStreams = 8

const (
	DefaultPollTimeout = 500 * time.Millisecond
	DefaultThreadSleep = 100 * time.Millisecond

	defaultSnapshotInterval = time.Second
	defaultAudioPollTimeout = time.Second
)

// Per-goroutine signal bits. They live in each worker's own signal word,
// separate from the controller's lifecycle bits.
const (
	runBit     lifecycle.Bits = 1
	overlayBit lifecycle.Bits = 2
)

// StreamConfig describes one video stream.
type StreamConfig struct {
	ID         int
	Name       string
	EncChannel int
	Codec      codec.Codec
	QueueSize  int
	OSD        bool
}

// SnapshotConfig describes the JPEG snapshot channel.
type SnapshotConfig struct {
	EncChannel int
	Path       string
	TempPath   string
	Interval   time.Duration
	CacheTTL   time.Duration
}

// AudioConfig describes the audio input.
type AudioConfig struct {
	DeviceID    int
	ChannelID   int
	PollTimeout time.Duration
}

// Config is the controller configuration.
type Config struct {
	Streams  []StreamConfig
	Snapshot *SnapshotConfig
	Audio    *AudioConfig

	// PollTimeout bounds every encoder poll and therefore stop latency.
	PollTimeout time.Duration
	// ThreadSleep is the idle interval of workers with nothing to do.
	ThreadSleep time.Duration
}

func (c *Config) normalize() {
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.ThreadSleep <= 0 {
		c.ThreadSleep = DefaultThreadSleep
	}
	for i := range c.Streams {
		if c.Streams[i].QueueSize <= 0 {
			c.Streams[i].QueueSize = sink.DefaultQueueSize
		}
		if c.Streams[i].Name == "" {
			c.Streams[i].Name = streamName(c.Streams[i].ID)
		}
	}
	if c.Snapshot != nil && c.Snapshot.Interval <= 0 {
		c.Snapshot.Interval = defaultSnapshotInterval
	}
	if c.Audio != nil && c.Audio.PollTimeout <= 0 {
		c.Audio.PollTimeout = defaultAudioPollTimeout
	}
}

func (c *Config) validate() error {
	ids := make(map[int]bool, len(c.Streams))
	channels := make(map[int]bool, len(c.Streams)+1)
	for _, s := range c.Streams {
		if s.ID < 0 || s.ID >= MaxStreams {
			return errors.Newf("stream id %d out of range [0,%d)", s.ID, MaxStreams).
				Component(ComponentWorker).
				Category(errors.CategoryValidation).
				Build()
		}
		if ids[s.ID] {
			return errors.Newf("duplicate stream id %d", s.ID).
				Component(ComponentWorker).
				Category(errors.CategoryValidation).
				Build()
		}
		if channels[s.EncChannel] {
			return errors.Newf("encoder channel %d used twice", s.EncChannel).
				Component(ComponentWorker).
				Category(errors.CategoryValidation).
				Build()
		}
		if s.Codec == codec.JPEG {
			return errors.Newf("stream %s: jpeg is only supported on the snapshot channel", s.Name).
				Component(ComponentWorker).
				Category(errors.CategoryValidation).
				Build()
		}
		ids[s.ID] = true
		channels[s.EncChannel] = true
	}
	if c.Snapshot != nil {
		if channels[c.Snapshot.EncChannel] {
			return errors.Newf("snapshot encoder channel %d is used by a stream", c.Snapshot.EncChannel).
				Component(ComponentWorker).
				Category(errors.CategoryValidation).
				Build()
		}
		if c.Snapshot.Path == "" {
			return errors.ValidationError("snapshot path is required")
		}
	}
	return nil
}

func streamName(id int) string {
	return "stream" + strconv.Itoa(id)
}

// task is the stop handle of one worker goroutine.
type task struct {
	signal *lifecycle.Signal
	done   chan struct{}
}

func newTask() task {
	return task{
		signal: lifecycle.NewSignal(runBit),
		done:   make(chan struct{}),
	}
}

func (t *task) running() bool { return t.signal.Has(runBit) }

// stop flips the run bit and joins the goroutine.
func (t *task) stop() {
	if t.signal.Has(runBit) {
		t.signal.Xor(runBit)
	}
	<-t.done
}

// sleepWhileRunning sleeps d in slices of at most step, returning early
// once the run bit is cleared.
func (t *task) sleepWhileRunning(d, step time.Duration) {
	for d > 0 && t.running() {
		s := min(d, step)
		time.Sleep(s)
		d -= s
	}
}

func moduleLogger(log logger.Logger, name string) logger.Logger {
	if log == nil {
		log = logger.Global().Module(ComponentWorker)
	}
	return log.Module(name)
}
