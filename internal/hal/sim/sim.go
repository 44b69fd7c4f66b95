// Package sim is a software hal.Hardware. It produces synthetic H.264/H.265
// GOPs inside a wrapping ring buffer, JPEG snapshots and PCM audio at real
// time pace, so the capture core can run on a development host.
package sim

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/ipcam/streamworker/internal/codec"
	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/hal"
	"github.com/ipcam/streamworker/internal/logger"
)

// Options tune the synthetic streams.
type Options struct {
	FPS         int
	GOP         int
	BitrateKbps int
	// RingSize is the encoder ring buffer size per channel in bytes.
	RingSize int
	// SnapshotFPS is the JPEG channel frame rate.
	SnapshotFPS int
	JPEGWidth   int
	JPEGHeight  int
	// AudioFrame is the duration of one PCM frame.
	AudioFrame time.Duration
	SampleRate int
}

// DefaultOptions returns a 25 fps, 2 Mbit/s profile.
func DefaultOptions() Options {
	return Options{
		FPS:         25,
		GOP:         50,
		BitrateKbps: 2048,
		RingSize:    512 * 1024,
		SnapshotFPS: 2,
		JPEGWidth:   320,
		JPEGHeight:  180,
		AudioFrame:  20 * time.Millisecond,
		SampleRate:  16000,
	}
}

func (o *Options) normalize() {
	def := DefaultOptions()
	if o.FPS <= 0 {
		o.FPS = def.FPS
	}
	if o.GOP <= 0 {
		o.GOP = def.GOP
	}
	if o.BitrateKbps <= 0 {
		o.BitrateKbps = def.BitrateKbps
	}
	if o.RingSize <= 0 {
		o.RingSize = def.RingSize
	}
	if o.SnapshotFPS <= 0 {
		o.SnapshotFPS = def.SnapshotFPS
	}
	if o.JPEGWidth <= 0 || o.JPEGHeight <= 0 {
		o.JPEGWidth, o.JPEGHeight = def.JPEGWidth, def.JPEGHeight
	}
	if o.AudioFrame <= 0 {
		o.AudioFrame = def.AudioFrame
	}
	if o.SampleRate <= 0 {
		o.SampleRate = def.SampleRate
	}
}

// Platform is a simulated capture board.
type Platform struct {
	opts Options
	log  logger.Logger

	mu          sync.Mutex
	initialized bool
	channels    map[int]*encChannel
	overlays    map[int]*Overlay
	audio       *audioDevice
	jpeg        []byte

	clockMu     sync.Mutex
	rebaseEpoch int64
	rebaseAt    time.Time
}

// New creates an uninitialized platform.
func New(opts Options, log logger.Logger) *Platform {
	opts.normalize()
	if log == nil {
		log = logger.Global().Module("hal").Module("sim")
	}
	return &Platform{
		opts:     opts,
		log:      log,
		rebaseAt: time.Now(),
	}
}

// Init brings up the channels named in cfg.
func (p *Platform) Init(ctx context.Context, cfg hal.Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return errors.Newf("platform already initialized").
			Component(hal.ComponentHAL).
			Category(errors.CategoryConflict).
			Build()
	}

	channels := make(map[int]*encChannel, len(cfg.Streams)+1)
	overlays := make(map[int]*Overlay)
	frameInterval := time.Second / time.Duration(p.opts.FPS)

	for _, s := range cfg.Streams {
		if _, dup := channels[s.EncChannel]; dup {
			return errors.Newf("encoder channel %d configured twice", s.EncChannel).
				Component(hal.ComponentHAL).
				Category(errors.CategoryConfiguration).
				ChannelContext(s.ID, s.EncChannel).
				Build()
		}
		channels[s.EncChannel] = newEncChannel(s.Codec, p.opts.RingSize, frameInterval)
		if s.OSD {
			overlays[s.ID] = &Overlay{}
		}
	}

	if cfg.Snapshot != nil {
		if _, dup := channels[cfg.Snapshot.EncChannel]; dup {
			return errors.Newf("snapshot encoder channel %d already used by a stream", cfg.Snapshot.EncChannel).
				Component(hal.ComponentHAL).
				Category(errors.CategoryConfiguration).
				Build()
		}
		img, err := renderTestCard(p.opts.JPEGWidth, p.opts.JPEGHeight)
		if err != nil {
			return err
		}
		p.jpeg = img
		channels[cfg.Snapshot.EncChannel] = newEncChannel(codec.JPEG, p.opts.RingSize, time.Second/time.Duration(p.opts.SnapshotFPS))
	}

	if cfg.Audio != nil {
		p.audio = newAudioDevice(*cfg.Audio, p.opts)
	}

	p.channels = channels
	p.overlays = overlays
	p.initialized = true

	p.log.Info("simulated platform initialized",
		logger.Int("channels", len(channels)),
		logger.Int("overlays", len(overlays)),
		logger.Bool("audio", cfg.Audio != nil))
	return nil
}

// Deinit tears the platform down. It is idempotent.
func (p *Platform) Deinit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}
	p.channels = nil
	p.overlays = nil
	p.audio = nil
	p.initialized = false
	p.log.Info("simulated platform released")
	return nil
}

// Encoder returns the encoder interface.
func (p *Platform) Encoder() hal.Encoder { return (*encoder)(p) }

// Audio returns the audio input interface.
func (p *Platform) Audio() hal.AudioDevice { return (*audioInput)(p) }

// Overlay returns the overlay of streamID, or nil.
func (p *Platform) Overlay(streamID int) hal.Overlay {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok := p.overlays[streamID]; ok {
		return o
	}
	return nil
}

// SimOverlay returns the concrete overlay for inspection.
func (p *Platform) SimOverlay(streamID int) *Overlay {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlays[streamID]
}

// Held reports whether a stream of channel ch is currently borrowed.
func (p *Platform) Held(ch int) bool {
	c, err := p.channel(ch)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held != nil
}

func (p *Platform) channel(ch int) (*encChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.channels[ch]
	if !ok {
		return nil, errors.Newf("encoder channel %d not initialized", ch).
			Component(hal.ComponentHAL).
			Category(errors.CategoryNotFound).
			Context("enc_channel", ch).
			Build()
	}
	return c, nil
}

// clock returns the encoder clock in microseconds.
func (p *Platform) clock() int64 {
	p.clockMu.Lock()
	defer p.clockMu.Unlock()
	return p.rebaseEpoch + time.Since(p.rebaseAt).Microseconds()
}

func (p *Platform) rebase(t time.Time) {
	p.clockMu.Lock()
	defer p.clockMu.Unlock()
	p.rebaseEpoch = t.UnixMicro()
	p.rebaseAt = time.Now()
}

// renderTestCard encodes a colour gradient as JPEG.
func renderTestCard(w, h int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, errors.New(err).
			Component(hal.ComponentHAL).
			Category(errors.CategorySnapshot).
			Build()
	}
	return buf.Bytes(), nil
}

// waitUntil sleeps until next or for at most timeout.
func waitUntil(next time.Time, timeout time.Duration) error {
	wait := time.Until(next)
	if wait > timeout {
		time.Sleep(timeout)
		return hal.ErrPollTimeout
	}
	if wait > 0 {
		time.Sleep(wait)
	}
	return nil
}
