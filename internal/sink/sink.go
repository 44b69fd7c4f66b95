// Package sink implements the bounded handoff queues between capture
// workers and downstream consumers.
//
// A VideoSink carries one stream's access units together with the
// keyframe gate flag for that stream. Producers never block: TryPush fails
// immediately when the queue is full and the caller drops the unit.
package sink

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueSize is used when a stream does not configure one.
const DefaultQueueSize = 30

// AccessUnit is one encoded packet handed to consumers. Data is owned by
// the unit and has its start code removed.
type AccessUnit struct {
	Data []byte
	// EncoderTimestamp is the encoder clock in microseconds.
	EncoderTimestamp int64
	// Time is the wall-clock time of the batch the unit arrived in.
	Time    time.Time
	NALType uint8
	// RandomAccess marks parameter sets and IDR pictures.
	RandomAccess bool
}

// VideoSink is the handoff queue of one video stream.
type VideoSink struct {
	name  string
	queue chan *AccessUnit

	idr      atomic.Bool
	callback atomic.Pointer[func()]

	mu    sync.Mutex
	cycle uuid.UUID
}

// NewVideoSink creates a sink holding at most size units.
func NewVideoSink(name string, size int) *VideoSink {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &VideoSink{
		name:  name,
		queue: make(chan *AccessUnit, size),
		cycle: uuid.New(),
	}
}

// Name returns the stream name.
func (s *VideoSink) Name() string { return s.name }

// TryPush enqueues au without blocking. It returns false when the queue is full.
func (s *VideoSink) TryPush(au *AccessUnit) bool {
	select {
	case s.queue <- au:
		return true
	default:
		return false
	}
}

// Units returns the consumer side of the queue.
func (s *VideoSink) Units() <-chan *AccessUnit { return s.queue }

// Len returns the number of queued units.
func (s *VideoSink) Len() int { return len(s.queue) }

// Cap returns the queue capacity.
func (s *VideoSink) Cap() int { return cap(s.queue) }

// IDRSeen reports whether the gate has opened for the current cycle.
func (s *VideoSink) IDRSeen() bool { return s.idr.Load() }

// MarkIDR opens the gate. It reports true for the call that opened it.
func (s *VideoSink) MarkIDR() bool { return s.idr.CompareAndSwap(false, true) }

// SetDataCallback attaches a consumer. fn runs on the producer goroutine
// after every successful push and must not block. A nil fn detaches.
func (s *VideoSink) SetDataCallback(fn func()) {
	if fn == nil {
		s.callback.Store(nil)
		return
	}
	s.callback.Store(&fn)
}

// HasConsumer reports whether a data callback is attached.
func (s *VideoSink) HasConsumer() bool { return s.callback.Load() != nil }

// Notify invokes the data callback, if any.
func (s *VideoSink) Notify() {
	if fn := s.callback.Load(); fn != nil {
		(*fn)()
	}
}

// Rearm starts a new gate cycle: the IDR flag is cleared and queued units
// from the previous cycle are discarded. It returns the number discarded.
func (s *VideoSink) Rearm() int {
	s.mu.Lock()
	s.cycle = uuid.New()
	s.mu.Unlock()

	s.idr.Store(false)

	drained := 0
	for {
		select {
		case <-s.queue:
			drained++
		default:
			return drained
		}
	}
}

// Cycle identifies the current gate cycle.
func (s *VideoSink) Cycle() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycle
}
