// Package stats tracks per-stream throughput over one second windows.
package stats

import (
	"math"
	"sync/atomic"
	"time"
)

// Window is the minimum elapsed time before a rate is published.
const Window = 1000 * time.Millisecond

// StreamStats is the published statistics block of one stream. Fields are
// written by the stream's worker and read without locking by status
// reporters, so a reader may observe bitrate and fps from different windows.
type StreamStats struct {
	bitrateKbps atomic.Uint32
	fps         atomic.Uint32

	packets   atomic.Uint64
	bytes     atomic.Uint64
	enqueued  atomic.Uint64
	dropped   atomic.Uint64
	gated     atomic.Uint64
	timeouts  atomic.Uint64
	errors    atomic.Uint64
	lastFrame atomic.Int64 // unix micro of the newest access unit
}

// Snapshot is a point-in-time copy of StreamStats.
type Snapshot struct {
	BitrateKbps  uint32    `json:"bitrate_kbps"`
	FPS          uint32    `json:"fps"`
	Packets      uint64    `json:"packets"`
	Bytes        uint64    `json:"bytes"`
	Enqueued     uint64    `json:"enqueued"`
	Dropped      uint64    `json:"dropped"`
	Gated        uint64    `json:"gated"`
	PollTimeouts uint64    `json:"poll_timeouts"`
	Errors       uint64    `json:"errors"`
	LastFrame    time.Time `json:"last_frame,omitzero"`
}

// Publish stores a computed rate pair.
func (s *StreamStats) Publish(kbps, fps uint32) {
	s.bitrateKbps.Store(kbps)
	s.fps.Store(fps)
}

// BitrateKbps returns the last published bitrate.
func (s *StreamStats) BitrateKbps() uint32 { return s.bitrateKbps.Load() }

// FPS returns the last published frame rate.
func (s *StreamStats) FPS() uint32 { return s.fps.Load() }

// AddPacket counts one extracted packet of n bytes.
func (s *StreamStats) AddPacket(n int, ts time.Time) {
	s.packets.Add(1)
	s.bytes.Add(uint64(n))
	s.lastFrame.Store(ts.UnixMicro())
}

// AddEnqueued counts access units accepted by the sink.
func (s *StreamStats) AddEnqueued() { s.enqueued.Add(1) }

// AddDropped counts access units rejected by a full sink.
func (s *StreamStats) AddDropped() { s.dropped.Add(1) }

// AddGated counts access units discarded while waiting for a keyframe.
func (s *StreamStats) AddGated() { s.gated.Add(1) }

// AddPollTimeout counts polls that returned without data.
func (s *StreamStats) AddPollTimeout() { s.timeouts.Add(1) }

// AddError counts failed poll or get calls.
func (s *StreamStats) AddError() { s.errors.Add(1) }

// Snapshot copies the counters.
func (s *StreamStats) Snapshot() Snapshot {
	snap := Snapshot{
		BitrateKbps:  s.bitrateKbps.Load(),
		FPS:          s.fps.Load(),
		Packets:      s.packets.Load(),
		Bytes:        s.bytes.Load(),
		Enqueued:     s.enqueued.Load(),
		Dropped:      s.dropped.Load(),
		Gated:        s.gated.Load(),
		PollTimeouts: s.timeouts.Load(),
		Errors:       s.errors.Load(),
	}
	if us := s.lastFrame.Load(); us != 0 {
		snap.LastFrame = time.UnixMicro(us)
	}
	return snap
}

// RateTracker accumulates bytes and packets of the current window. It is
// owned by a single worker goroutine.
type RateTracker struct {
	bytes   uint64
	packets uint64
	start   time.Time
}

// NewRateTracker starts a window at now.
func NewRateTracker(now time.Time) *RateTracker {
	return &RateTracker{start: now}
}

// Add counts one packet of n bytes.
func (r *RateTracker) Add(n int) {
	r.bytes += uint64(n)
	r.packets++
}

// MaybePublish publishes the window into out once strictly more than
// Window has elapsed, then starts a new window. It reports whether a
// publication happened.
//
//	kbps = bytes*8*1000/ms/1000
//	fps  = packets*1000/ms
func (r *RateTracker) MaybePublish(now time.Time, out *StreamStats) bool {
	ms := now.Sub(r.start).Milliseconds()
	if ms <= Window.Milliseconds() {
		return false
	}

	bps := r.bytes * 8 * 1000 / uint64(ms)
	out.Publish(clamp(bps/1000), clamp(r.packets*1000/uint64(ms)))

	r.bytes = 0
	r.packets = 0
	r.start = now
	return true
}

// Idle publishes a zero rate and restarts the window, used while no
// consumer is attached.
func (r *RateTracker) Idle(now time.Time, out *StreamStats) {
	out.Publish(0, 0)
	r.bytes = 0
	r.packets = 0
	r.start = now
}

func clamp(v uint64) uint32 {
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
