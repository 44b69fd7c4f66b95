package sim

import (
	"sync"
	"time"

	"github.com/ipcam/streamworker/internal/codec"
	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/hal"
)

type encChannel struct {
	mu        sync.Mutex
	codec     codec.Codec
	ring      []byte
	write     int
	frame     uint64
	seq       uint32
	interval  time.Duration
	next      time.Time
	receiving bool
	held      *hal.Stream
}

func newEncChannel(c codec.Codec, ringSize int, interval time.Duration) *encChannel {
	return &encChannel{
		codec:    c,
		ring:     make([]byte, ringSize),
		interval: interval,
	}
}

// encoder implements hal.Encoder over the platform.
type encoder Platform

func (e *encoder) platform() *Platform { return (*Platform)(e) }

func (e *encoder) RebaseTimestamp(t time.Time) error {
	e.platform().rebase(t)
	return nil
}

func (e *encoder) StartReceiving(ch int) error {
	c, err := e.platform().channel(ch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiving = true
	c.next = time.Now().Add(c.interval)
	return nil
}

func (e *encoder) StopReceiving(ch int) error {
	c, err := e.platform().channel(ch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiving = false
	return nil
}

func (e *encoder) Poll(ch int, timeout time.Duration) error {
	c, err := e.platform().channel(ch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	receiving, next := c.receiving, c.next
	c.mu.Unlock()

	if !receiving {
		return hal.ErrNotReceiving
	}
	return waitUntil(next, timeout)
}

func (e *encoder) GetStream(ch int) (*hal.Stream, error) {
	p := e.platform()
	c, err := p.channel(ch)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case !c.receiving:
		return nil, hal.ErrNotReceiving
	case c.held != nil:
		return nil, hal.ErrStreamHeld
	case time.Now().Before(c.next):
		return nil, hal.ErrPollTimeout
	}

	var payloads [][]byte
	if c.codec == codec.JPEG {
		payloads = splitJPEG(p.jpeg)
	} else {
		payloads = synthesizeFrame(c.codec, c.frame, p.opts)
	}

	ts := p.clock()
	stream := &hal.Stream{Data: c.ring, Seq: c.seq}
	for _, payload := range payloads {
		if len(payload) > len(c.ring) {
			payload = payload[:len(c.ring)]
		}
		nal, _ := codec.NALType(c.codec, codec.StripStartCode(payload))
		stream.Packets = append(stream.Packets, hal.Packet{
			Offset:    c.write,
			Length:    len(payload),
			Timestamp: ts,
			NALType:   nal,
		})
		c.write = writeRing(c.ring, c.write, payload)
	}

	c.frame++
	c.seq++
	c.next = c.next.Add(c.interval)
	if now := time.Now(); c.next.Before(now) {
		// Consumer fell behind; skip frames instead of bursting.
		c.next = now.Add(c.interval)
	}
	c.held = stream
	return stream, nil
}

func (e *encoder) ReleaseStream(ch int, s *hal.Stream) error {
	c, err := e.platform().channel(ch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held == nil || c.held != s {
		return errors.Newf("release of a stream not held on channel %d", ch).
			Component(hal.ComponentHAL).
			Category(errors.CategoryState).
			Build()
	}
	c.held = nil
	return nil
}

// writeRing copies b into ring at off, wrapping, and returns the new cursor.
func writeRing(ring []byte, off int, b []byte) int {
	n := copy(ring[off:], b)
	if n < len(b) {
		copy(ring, b[n:])
	}
	return (off + len(b)) % len(ring)
}

// synthesizeFrame builds the Annex-B packets of frame n. A GOP starts with
// parameter sets and an IDR picture.
func synthesizeFrame(c codec.Codec, n uint64, opts Options) [][]byte {
	frameBytes := opts.BitrateKbps * 1000 / 8 / opts.FPS
	if frameBytes < 16 {
		frameBytes = 16
	}
	key := n%uint64(opts.GOP) == 0

	var headers [][]byte
	switch c {
	case codec.H265:
		if key {
			headers = [][]byte{{0x40, 0x01}, {0x42, 0x01}, {0x44, 0x01}, {0x26, 0x01}}
		} else {
			headers = [][]byte{{0x02, 0x01}}
		}
	default:
		if key {
			headers = [][]byte{{0x67}, {0x68}, {0x65}}
		} else {
			headers = [][]byte{{0x41}}
		}
	}

	out := make([][]byte, 0, len(headers))
	for i, h := range headers {
		size := 8
		if i == len(headers)-1 {
			// Slice data; key frames are larger.
			size = frameBytes
			if key {
				size *= 4
			}
		}
		pkt := make([]byte, 0, codec.StartCodeLen+len(h)+size)
		pkt = append(pkt, codec.AnnexBStartCode...)
		pkt = append(pkt, h...)
		for j := range size {
			pkt = append(pkt, byte(n)+byte(j)|0x80)
		}
		out = append(out, pkt)
	}
	return out
}

// splitJPEG returns the image as two packets, like encoders that emit
// JPEG in segments.
func splitJPEG(img []byte) [][]byte {
	if len(img) < 2 {
		return [][]byte{img}
	}
	mid := len(img) / 2
	return [][]byte{img[:mid], img[mid:]}
}
