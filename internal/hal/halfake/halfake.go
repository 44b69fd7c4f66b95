// Package halfake provides a scripted hal.Hardware for tests. Streams and
// audio frames are queued by the test and handed out by Poll/Get exactly as
// queued; every call is counted.
package halfake

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/hal"
)

// Payload is one packet to queue. Data normally carries a start code.
type Payload struct {
	Data      []byte
	Timestamp int64
	NALType   uint8
}

type channel struct {
	pending chan *hal.Stream
	ready   *hal.Stream
	held    *hal.Stream

	receiving bool
	starts    int
	stops     int
	gets      int
	releases  int
	polls     int
	getErr    error
}

// Hardware is a scripted platform.
type Hardware struct {
	mu       sync.Mutex
	channels map[int]*channel
	overlays map[int]*Overlay
	audio    *Audio

	initErr  error
	startErr map[int]error
	inits    int
	deinits  int
	cfg      hal.Config
	rebased  atomic.Int32
}

// New returns an empty scripted platform.
func New() *Hardware {
	return &Hardware{
		channels: make(map[int]*channel),
		overlays: make(map[int]*Overlay),
		startErr: make(map[int]error),
		audio:    newAudio(),
	}
}

// FailInit makes the next Init calls return err.
func (h *Hardware) FailInit(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initErr = err
}

// FailStart makes StartReceiving on ch return err.
func (h *Hardware) FailStart(ch int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.startErr[ch] = err
}

// FailNextGet makes the next GetStream on ch return err.
func (h *Hardware) FailNextGet(ch int, err error) {
	c := h.channel(ch)
	h.mu.Lock()
	defer h.mu.Unlock()
	c.getErr = err
}

// SetOverlay installs an overlay for a stream.
func (h *Hardware) SetOverlay(streamID int, o *Overlay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.overlays[streamID] = o
}

func (h *Hardware) channel(ch int) *channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.channels[ch]
	if !ok {
		c = &channel{pending: make(chan *hal.Stream, 256)}
		h.channels[ch] = c
	}
	return c
}

// Init implements hal.Hardware.
func (h *Hardware) Init(_ context.Context, cfg hal.Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inits++
	if h.initErr != nil {
		return h.initErr
	}
	h.cfg = cfg
	return nil
}

// Deinit implements hal.Hardware.
func (h *Hardware) Deinit() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deinits++
	return nil
}

// Encoder implements hal.Hardware.
func (h *Hardware) Encoder() hal.Encoder { return (*encoder)(h) }

// Audio implements hal.Hardware.
func (h *Hardware) Audio() hal.AudioDevice { return h.audio }

// FakeAudio returns the scripted audio device.
func (h *Hardware) FakeAudio() *Audio { return h.audio }

// Overlay implements hal.Hardware.
func (h *Hardware) Overlay(streamID int) hal.Overlay {
	h.mu.Lock()
	defer h.mu.Unlock()
	if o, ok := h.overlays[streamID]; ok {
		return o
	}
	return nil
}

// Inits returns the number of Init calls.
func (h *Hardware) Inits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inits
}

// Deinits returns the number of Deinit calls.
func (h *Hardware) Deinits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deinits
}

// Config returns the configuration passed to the last successful Init.
func (h *Hardware) Config() hal.Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg
}

// Rebased returns the number of RebaseTimestamp calls.
func (h *Hardware) Rebased() int { return int(h.rebased.Load()) }

// Queue makes a batch of packets available on ch. The payloads are laid
// out back to back from offset 0.
func (h *Hardware) Queue(ch int, payloads ...Payload) {
	h.QueueAt(ch, 0, payloads...)
}

// QueueAt lays the batch out in a ring of exactly the batch size, starting
// at start, so packets crossing the end wrap to index 0.
func (h *Hardware) QueueAt(ch, start int, payloads ...Payload) {
	total := 0
	for _, p := range payloads {
		total += len(p.Data)
	}
	ring := make([]byte, total)
	s := &hal.Stream{Data: ring}
	off := 0
	if total > 0 {
		off = start % total
	}
	for _, p := range payloads {
		s.Packets = append(s.Packets, hal.Packet{
			Offset:    off,
			Length:    len(p.Data),
			Timestamp: p.Timestamp,
			NALType:   p.NALType,
		})
		n := copy(ring[off:], p.Data)
		copy(ring, p.Data[n:])
		if total > 0 {
			off = (off + len(p.Data)) % total
		}
	}
	h.channel(ch).pending <- s
}

// Stats is a copy of per-channel call counters.
type Stats struct {
	Receiving bool
	Starts    int
	Stops     int
	Polls     int
	Gets      int
	Releases  int
	Pending   int
}

// Outstanding returns streams fetched but not released.
func (s Stats) Outstanding() int { return s.Gets - s.Releases }

// Stats returns the counters of ch.
func (h *Hardware) Stats(ch int) Stats {
	c := h.channel(ch)
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Receiving: c.receiving,
		Starts:    c.starts,
		Stops:     c.stops,
		Polls:     c.polls,
		Gets:      c.gets,
		Releases:  c.releases,
		Pending:   len(c.pending),
	}
}

type encoder Hardware

func (e *encoder) hw() *Hardware { return (*Hardware)(e) }

func (e *encoder) RebaseTimestamp(time.Time) error {
	e.rebased.Add(1)
	return nil
}

func (e *encoder) StartReceiving(ch int) error {
	h := e.hw()
	c := h.channel(ch)
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.startErr[ch]; err != nil {
		return err
	}
	c.receiving = true
	c.starts++
	return nil
}

func (e *encoder) StopReceiving(ch int) error {
	h := e.hw()
	c := h.channel(ch)
	h.mu.Lock()
	defer h.mu.Unlock()
	c.receiving = false
	c.stops++
	return nil
}

func (e *encoder) Poll(ch int, timeout time.Duration) error {
	h := e.hw()
	c := h.channel(ch)

	h.mu.Lock()
	c.polls++
	ready := c.ready != nil
	h.mu.Unlock()
	if ready {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s := <-c.pending:
		h.mu.Lock()
		c.ready = s
		h.mu.Unlock()
		return nil
	case <-timer.C:
		return hal.ErrPollTimeout
	}
}

func (e *encoder) GetStream(ch int) (*hal.Stream, error) {
	h := e.hw()
	c := h.channel(ch)
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.getErr != nil {
		err := c.getErr
		c.getErr = nil
		c.ready = nil
		return nil, err
	}
	if c.held != nil {
		return nil, hal.ErrStreamHeld
	}
	if c.ready == nil {
		return nil, hal.ErrPollTimeout
	}
	s := c.ready
	c.ready = nil
	c.held = s
	c.gets++
	return s, nil
}

func (e *encoder) ReleaseStream(ch int, s *hal.Stream) error {
	h := e.hw()
	c := h.channel(ch)
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.held == nil || c.held != s {
		return errors.Newf("stream not held on channel %d", ch).
			Component(hal.ComponentHAL).
			Category(errors.CategoryState).
			Build()
	}
	c.held = nil
	c.releases++
	return nil
}

var _ hal.Hardware = (*Hardware)(nil)
