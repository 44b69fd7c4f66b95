package worker

import (
	"sync"

	"github.com/ipcam/streamworker/internal/codec"
	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/hal"
	"github.com/ipcam/streamworker/internal/sink"
	"github.com/ipcam/streamworker/internal/stats"
)

// Channel is the runtime state of one active video stream. It is created
// by the controller when the stream starts and released after its worker
// has been joined.
type Channel struct {
	task

	StreamID   int
	Name       string
	EncChannel int
	Codec      codec.Codec

	overlay hal.Overlay
	stats   *stats.StreamStats

	// mu serializes pushes into sink.
	mu   sync.Mutex
	sink *sink.VideoSink
}

func newChannel(sc StreamConfig, s *sink.VideoSink, st *stats.StreamStats, overlay hal.Overlay) *Channel {
	return &Channel{
		task:       newTask(),
		StreamID:   sc.ID,
		Name:       sc.Name,
		EncChannel: sc.EncChannel,
		Codec:      sc.Codec,
		overlay:    overlay,
		stats:      st,
		sink:       s,
	}
}

// push hands au to the sink without blocking.
func (c *Channel) push(au *sink.AccessUnit) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink.TryPush(au)
}

// overlayReady reports whether the channel completed its first capture
// cycle and may have its overlay refreshed.
func (c *Channel) overlayReady() bool { return c.signal.Has(overlayBit) }

// arena holds the active channels indexed by stream id.
type arena struct {
	mu    sync.Mutex
	slots [MaxStreams]*Channel
}

func (a *arena) create(c *Channel) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.slots[c.StreamID] != nil {
		return errors.Newf("channel slot %d is occupied", c.StreamID).
			Component(ComponentWorker).
			Category(errors.CategoryConflict).
			ChannelContext(c.StreamID, c.EncChannel).
			Build()
	}
	a.slots[c.StreamID] = c
	return nil
}

func (a *arena) release(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slots[id] = nil
}

func (a *arena) get(id int) *Channel {
	if id < 0 || id >= MaxStreams {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.slots[id]
}

func (a *arena) active() []*Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*Channel
	for _, c := range a.slots {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

func (a *arena) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.slots {
		if c != nil {
			n++
		}
	}
	return n
}
