package worker

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/ipcam/streamworker/internal/codec"
	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/hal"
	"github.com/ipcam/streamworker/internal/lifecycle"
	"github.com/ipcam/streamworker/internal/logger"
	"github.com/ipcam/streamworker/internal/observability/metrics"
	"github.com/ipcam/streamworker/internal/sink"
	"github.com/ipcam/streamworker/internal/snapshot"
	"github.com/ipcam/streamworker/internal/stats"
)

// Controller drives the lifecycle signal word: it brings the hardware and
// all workers up when Running is set and tears everything down when a stop
// is requested. Run owns every state transition except the request bits
// set by supervisors through the lifecycle package.
type Controller struct {
	hw     hal.Hardware
	cfg    Config
	signal *lifecycle.Signal

	log     logger.Logger
	metrics metrics.CaptureRecorder

	sinks     map[int]*sink.VideoSink
	stats     map[int]*stats.StreamStats
	audioSink atomic.Pointer[sink.AudioSink]
	publisher *snapshot.Publisher
	store     *snapshot.Store
	// snapTrigger wakes the snapshot writer for an on-demand capture.
	snapTrigger chan struct{}

	arena    arena
	snapshot *SnapshotWriter
	audio    *AudioWorker
	osd      *OSDRefresher
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the parent logger; workers log to sub-modules of it.
func WithLogger(log logger.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec metrics.CaptureRecorder) Option {
	return func(c *Controller) {
		if rec != nil {
			c.metrics = rec
		}
	}
}

// WithSignal shares an existing lifecycle signal with the controller.
func WithSignal(s *lifecycle.Signal) Option {
	return func(c *Controller) {
		if s != nil {
			c.signal = s
		}
	}
}

// WithAudioSink sets the consumer of captured audio.
func WithAudioSink(s sink.AudioSink) Option {
	return func(c *Controller) { c.SetAudioSink(s) }
}

// NewController validates cfg and creates the sinks and statistics blocks
// of every configured stream.
func NewController(hw hal.Hardware, cfg Config, opts ...Option) (*Controller, error) {
	if hw == nil {
		return nil, errors.Newf("hardware is required").
			Component(ComponentWorker).
			Category(errors.CategoryValidation).
			Build()
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		hw:      hw,
		cfg:     cfg,
		signal:  lifecycle.NewSignal(0),
		metrics: metrics.NopRecorder{},
		sinks:   make(map[int]*sink.VideoSink, len(cfg.Streams)),
		stats:   make(map[int]*stats.StreamStats, len(cfg.Streams)),
	}
	c.SetAudioSink(sink.DiscardAudio)
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Global().Module(ComponentWorker)
	}

	for _, sc := range cfg.Streams {
		c.sinks[sc.ID] = sink.NewVideoSink(sc.Name, sc.QueueSize)
		c.stats[sc.ID] = &stats.StreamStats{}
	}
	if cfg.Snapshot != nil {
		c.publisher = snapshot.NewPublisher(cfg.Snapshot.Path, cfg.Snapshot.TempPath)
		c.store = snapshot.NewStore(cfg.Snapshot.Path, cfg.Snapshot.CacheTTL)
		c.snapTrigger = make(chan struct{}, 1)
	}
	return c, nil
}

// Signal returns the lifecycle signal word.
func (c *Controller) Signal() *lifecycle.Signal { return c.signal }

// Config returns the normalized configuration.
func (c *Controller) Config() Config { return c.cfg }

// Sink returns the sink of a stream, or nil for unknown ids.
func (c *Controller) Sink(streamID int) *sink.VideoSink { return c.sinks[streamID] }

// Stats returns the statistics block of a stream, or nil for unknown ids.
func (c *Controller) Stats(streamID int) *stats.StreamStats { return c.stats[streamID] }

// SnapshotStore returns the in-memory snapshot store, nil when snapshots
// are disabled.
func (c *Controller) SnapshotStore() *snapshot.Store { return c.store }

// CaptureSnapshot asks the snapshot writer for an immediate capture and
// waits until it has been published or ctx is done.
func (c *Controller) CaptureSnapshot(ctx context.Context) (snapshot.Image, error) {
	if c.store == nil {
		return snapshot.Image{}, ErrSnapshotDisabled
	}
	if !c.signal.Has(lifecycle.Started) {
		return snapshot.Image{}, ErrNotCapturing
	}

	requested := time.Now()
	select {
	case c.snapTrigger <- struct{}{}:
	default:
	}
	return c.store.WaitNewer(ctx, requested)
}

// SetAudioSink replaces the audio consumer. It takes effect on the next start.
func (c *Controller) SetAudioSink(s sink.AudioSink) {
	if s == nil {
		s = sink.DiscardAudio
	}
	c.audioSink.Store(&s)
}

// Run executes the lifecycle loop until Shutdown is set or ctx is done.
// A failed start is returned after everything it brought up was torn down.
func (c *Controller) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { lifecycle.RequestShutdown(c.signal) })
	defer stop()

	for {
		bits := c.signal.Load()
		switch {
		case bits.Has(lifecycle.Shutdown):
			if bits.Has(lifecycle.Started) {
				c.stop()
			}
			c.log.Info("controller shut down")
			return nil

		case bits.Has(lifecycle.StopRequested):
			if bits.Has(lifecycle.Started) {
				c.stop()
				continue
			}
			c.finishStop()

		case bits.Has(lifecycle.Running) && !bits.Has(lifecycle.Started):
			if err := c.start(ctx); err != nil {
				c.signal.Clear(lifecycle.Running)
				c.metrics.RecordLifecycle("start_failed")
				c.log.Error("capture start failed", logger.Error(err))
				return err
			}

		default:
			if _, err := c.signal.WaitContext(ctx, bits); err != nil {
				lifecycle.RequestShutdown(c.signal)
			}
		}
	}
}

func (c *Controller) start(ctx context.Context) error {
	if n := c.arena.len(); n > 0 {
		return errors.Newf("%d channel slots still occupied", n).
			Component(ComponentWorker).
			Category(errors.CategoryLifecycle).
			Build()
	}

	if err := c.hw.Init(ctx, c.halConfig()); err != nil {
		return errors.New(err).
			Component(ComponentWorker).
			Category(errors.CategoryHardware).
			Context("operation", "hardware_init").
			Priority(errors.PriorityCritical).
			Build()
	}

	enc := c.hw.Encoder()
	// receiving holds channels not yet owned by a worker; workers stop
	// their own channel on exit.
	var receiving []int
	abort := func(err error) error {
		for _, ch := range receiving {
			_ = enc.StopReceiving(ch)
		}
		if derr := c.hw.Deinit(); derr != nil {
			c.log.Warn("hardware deinit failed", logger.Error(derr))
		}
		return err
	}

	for _, sc := range c.cfg.Streams {
		if err := enc.StartReceiving(sc.EncChannel); err != nil {
			return abort(errors.New(err).
				Component(ComponentWorker).
				Category(errors.CategoryHardware).
				ChannelContext(sc.ID, sc.EncChannel).
				Context("operation", "start_receiving").
				Build())
		}
		receiving = append(receiving, sc.EncChannel)
	}
	if sc := c.cfg.Snapshot; sc != nil {
		if err := enc.StartReceiving(sc.EncChannel); err != nil {
			return abort(errors.New(err).
				Component(ComponentWorker).
				Category(errors.CategoryHardware).
				Context("enc_channel", sc.EncChannel).
				Context("operation", "start_receiving").
				Build())
		}
		receiving = append(receiving, sc.EncChannel)
	}

	streamLog := c.log.Module("stream")
	for _, sc := range c.cfg.Streams {
		s := c.sinks[sc.ID]
		if n := s.Rearm(); n > 0 {
			streamLog.Debug("discarded units of previous run",
				logger.String("stream", sc.Name),
				logger.Int("units", n))
		}

		ch := newChannel(sc, s, c.stats[sc.ID], c.overlayFor(sc))
		if err := c.arena.create(ch); err != nil {
			c.stopChannels()
			return abort(err)
		}
		go newChannelWorker(ch, enc, &c.cfg, streamLog, c.metrics).Run()
		receiving = slices.DeleteFunc(receiving, func(ch int) bool { return ch == sc.EncChannel })
	}

	if sc := c.cfg.Snapshot; sc != nil {
		c.snapshot = newSnapshotWriter(enc, sc, &c.cfg, c.publisher, c.store, c.snapTrigger, c.log.Module("snapshot"), c.metrics)
		go c.snapshot.Run()
	}
	if ac := c.cfg.Audio; ac != nil {
		c.audio = newAudioWorker(c.hw.Audio(), ac, &c.cfg, *c.audioSink.Load(), c.log.Module("audio"), c.metrics)
		go c.audio.Run()
	}
	c.osd = newOSDRefresher(c.arena.active, c.cfg.ThreadSleep, c.log.Module("osd"), c.metrics)
	go c.osd.Run()

	c.signal.Clear(lifecycle.Stopped)
	c.signal.Or(lifecycle.Started)
	c.metrics.RecordLifecycle("start")
	c.log.Info("capture started",
		logger.Int("streams", len(c.cfg.Streams)),
		logger.Bool("snapshot", c.cfg.Snapshot != nil),
		logger.Bool("audio", c.cfg.Audio != nil))
	return nil
}

// stop joins every worker in reverse dependency order and releases the
// hardware. Joins are unconditional.
func (c *Controller) stop() {
	if c.osd != nil {
		c.osd.stop()
		c.osd = nil
	}
	c.stopChannels()
	if c.snapshot != nil {
		c.snapshot.stop()
		c.snapshot = nil
	}
	if c.audio != nil {
		c.audio.stop()
		c.audio = nil
	}
	if err := c.hw.Deinit(); err != nil {
		c.log.Warn("hardware deinit failed", logger.Error(err))
	}

	c.finishStop()
	c.metrics.RecordLifecycle("stop")
	c.log.Info("capture stopped")
}

func (c *Controller) stopChannels() {
	for _, ch := range c.arena.active() {
		ch.stop()
		c.arena.release(ch.StreamID)
	}
}

func (c *Controller) finishStop() {
	c.signal.Clear(lifecycle.StopRequested | lifecycle.Started)
	c.signal.Or(lifecycle.Stopped)
}

// overlayFor returns the overlay of an OSD-enabled stream.
func (c *Controller) overlayFor(sc StreamConfig) hal.Overlay {
	if !sc.OSD {
		return nil
	}
	return c.hw.Overlay(sc.ID)
}

func (c *Controller) halConfig() hal.Config {
	cfg := hal.Config{Streams: make([]hal.StreamSpec, 0, len(c.cfg.Streams))}
	for _, sc := range c.cfg.Streams {
		cfg.Streams = append(cfg.Streams, hal.StreamSpec{
			ID:         sc.ID,
			Name:       sc.Name,
			EncChannel: sc.EncChannel,
			Codec:      sc.Codec,
			OSD:        sc.OSD,
		})
	}
	if sc := c.cfg.Snapshot; sc != nil {
		cfg.Snapshot = &hal.StreamSpec{
			ID:         -1,
			Name:       "snapshot",
			EncChannel: sc.EncChannel,
			Codec:      codec.JPEG,
		}
	}
	if ac := c.cfg.Audio; ac != nil {
		cfg.Audio = &hal.AudioSpec{DeviceID: ac.DeviceID, ChannelID: ac.ChannelID}
	}
	return cfg
}
