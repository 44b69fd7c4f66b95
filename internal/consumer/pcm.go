package consumer

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/logger"
	"github.com/ipcam/streamworker/internal/sink"
)

// DefaultPCMBufferSize holds roughly two seconds of 16 kHz mono audio.
const DefaultPCMBufferSize = 64 * 1024

// PCMBuffer is an audio sink backed by a byte ring. Frames that do not fit
// entirely are refused so a reader never sees a torn frame.
type PCMBuffer struct {
	rb *ringbuffer.RingBuffer

	accepted atomic.Uint64
	refused  atomic.Uint64
}

// NewPCMBuffer creates a ring of size bytes.
func NewPCMBuffer(size int) *PCMBuffer {
	if size <= 0 {
		size = DefaultPCMBufferSize
	}
	return &PCMBuffer{rb: ringbuffer.New(size)}
}

// Deliver implements sink.AudioSink.
func (p *PCMBuffer) Deliver(frame sink.AudioFrame) bool {
	if len(frame.Data) == 0 {
		return true
	}
	if p.rb.Free() < len(frame.Data) {
		p.refused.Add(1)
		return false
	}
	if _, err := p.rb.Write(frame.Data); err != nil {
		// ErrIsFull or a racing partial write
		p.refused.Add(1)
		return false
	}
	p.accepted.Add(1)
	return true
}

// Read reads buffered PCM bytes. It returns 0, nil when empty.
func (p *PCMBuffer) Read(b []byte) (int, error) {
	n, err := p.rb.Read(b)
	if errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, nil
	}
	return n, err
}

// Buffered returns the number of unread bytes.
func (p *PCMBuffer) Buffered() int { return p.rb.Length() }

// Counts returns accepted and refused frame counts.
func (p *PCMBuffer) Counts() (accepted, refused uint64) {
	return p.accepted.Load(), p.refused.Load()
}

// DrainTo copies buffered audio to w every interval until ctx is done.
func (p *PCMBuffer) DrainTo(ctx context.Context, w io.Writer, interval time.Duration, log logger.Logger) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return p.flush(w, buf)
		case <-ticker.C:
			if err := p.flush(w, buf); err != nil {
				if log != nil {
					log.Error("audio recording failed", logger.Error(err))
				}
				return err
			}
		}
	}
}

func (p *PCMBuffer) flush(w io.Writer, buf []byte) error {
	for {
		n, err := p.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return errors.New(err).
				Component("consumer").
				Category(errors.CategoryFileIO).
				Build()
		}
	}
}

var _ sink.AudioSink = (*PCMBuffer)(nil)
