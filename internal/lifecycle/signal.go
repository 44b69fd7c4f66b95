// Package lifecycle implements the shared start/stop/drain signal word used
// between the controller, its workers and an external supervisor.
//
// The word is a bitmask. Mutations are atomic read-modify-write operations
// that return the previous value and wake every waiter, so a supervisor can
// request a stop by toggling Running|StopRequested in one step and then wait
// for Stopped.
package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bits is a lifecycle word value.
type Bits uint32

const (
	// Running means workers should be running. Set by the supervisor.
	Running Bits = 1
	// Started means every channel worker has been launched. Set by the controller.
	Started Bits = 2
	// StopRequested asks the controller to stop and join all workers.
	StopRequested Bits = 4
	// Stopped means every worker has been joined and hardware released.
	Stopped Bits = 8
	// Shutdown asks the controller loop to return.
	Shutdown Bits = 256
)

// Has reports whether all bits in mask are set.
func (b Bits) Has(mask Bits) bool {
	return b&mask == mask
}

// Signal is an atomic bitmask with blocking wait support.
type Signal struct {
	word atomic.Uint32

	// mu/cond only coordinate sleepers; the word itself is lock-free.
	mu   sync.Mutex
	cond *sync.Cond
	once sync.Once
}

// NewSignal returns a signal holding the initial bits.
func NewSignal(initial Bits) *Signal {
	s := &Signal{}
	s.word.Store(uint32(initial))
	return s
}

func (s *Signal) init() {
	s.once.Do(func() {
		s.cond = sync.NewCond(&s.mu)
	})
}

// Load returns the current word.
func (s *Signal) Load() Bits {
	return Bits(s.word.Load())
}

// Has reports whether all bits in mask are currently set.
func (s *Signal) Has(mask Bits) bool {
	return s.Load().Has(mask)
}

// Or sets mask and returns the previous word.
func (s *Signal) Or(mask Bits) Bits {
	return s.update(func(old Bits) Bits { return old | mask })
}

// Xor toggles mask and returns the previous word.
func (s *Signal) Xor(mask Bits) Bits {
	return s.update(func(old Bits) Bits { return old ^ mask })
}

// Clear unsets mask and returns the previous word.
func (s *Signal) Clear(mask Bits) Bits {
	return s.update(func(old Bits) Bits { return old &^ mask })
}

// CompareAndSwap replaces old with next if the word still equals old.
func (s *Signal) CompareAndSwap(old, next Bits) bool {
	s.init()
	s.mu.Lock()
	swapped := s.word.CompareAndSwap(uint32(old), uint32(next))
	if swapped {
		s.cond.Broadcast()
	}
	s.mu.Unlock()
	return swapped
}

// update applies fn atomically. The broadcast happens under mu so a waiter
// that has checked the word but not yet parked cannot miss it.
func (s *Signal) update(fn func(Bits) Bits) Bits {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		old := s.word.Load()
		next := uint32(fn(Bits(old)))
		if s.word.CompareAndSwap(old, next) {
			if next != old {
				s.cond.Broadcast()
			}
			return Bits(old)
		}
	}
}

// Wait blocks while the word equals old and returns the new word.
func (s *Signal) Wait(old Bits) Bits {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		cur := s.Load()
		if cur != old {
			return cur
		}
		s.cond.Wait()
	}
}

// WaitContext is Wait with cancellation. On cancellation it returns the
// current word and ctx.Err().
func (s *Signal) WaitContext(ctx context.Context, old Bits) (Bits, error) {
	s.init()

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		cur := s.Load()
		if cur != old {
			return cur, nil
		}
		if err := ctx.Err(); err != nil {
			return cur, err
		}
		s.cond.Wait()
	}
}

// WaitFor blocks until every bit in mask is set or ctx is done.
func (s *Signal) WaitFor(ctx context.Context, mask Bits) (Bits, error) {
	return s.WaitUntil(ctx, func(b Bits) bool { return b.Has(mask) })
}

// WaitUntil blocks until cond holds for the word or ctx is done.
func (s *Signal) WaitUntil(ctx context.Context, cond func(Bits) bool) (Bits, error) {
	cur := s.Load()
	for !cond(cur) {
		var err error
		cur, err = s.WaitContext(ctx, cur)
		if err != nil {
			return cur, err
		}
	}
	return cur, nil
}
