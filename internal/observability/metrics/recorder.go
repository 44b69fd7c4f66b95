// Package metrics provides the Prometheus metrics of the capture worker.
package metrics

// CaptureRecorder is what capture components report to. It keeps workers
// independent of Prometheus so tests can pass NopRecorder.
type CaptureRecorder interface {
	// RecordPacket counts one extracted packet of n bytes.
	RecordPacket(stream string, n int)
	// RecordUnit records the outcome of handing an access unit to a sink:
	// "enqueued", "dropped" (queue full) or "gated" (before first keyframe).
	RecordUnit(stream, outcome string)
	// RecordPoll records an encoder poll: "ok", "timeout" or "error".
	RecordPoll(stream, result string)
	// SetRates publishes the last window's bitrate and frame rate.
	SetRates(stream string, kbps, fps uint32)
	// RecordSnapshot records a publish attempt with its stage outcome.
	RecordSnapshot(status string, bytes int64, seconds float64)
	// RecordAudioFrame records "accepted", "clogged" or "error".
	RecordAudioFrame(status string)
	// RecordOverlay records "start" or "update" refreshes.
	RecordOverlay(stream, action string)
	// RecordLifecycle records controller transitions.
	RecordLifecycle(transition string)
	// RecordError counts errors by component and category.
	RecordError(component, category string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordPacket(string, int)               {}
func (NopRecorder) RecordUnit(string, string)              {}
func (NopRecorder) RecordPoll(string, string)              {}
func (NopRecorder) SetRates(string, uint32, uint32)        {}
func (NopRecorder) RecordSnapshot(string, int64, float64)  {}
func (NopRecorder) RecordAudioFrame(string)                {}
func (NopRecorder) RecordOverlay(string, string)           {}
func (NopRecorder) RecordLifecycle(string)                 {}
func (NopRecorder) RecordError(string, string)             {}

var _ CaptureRecorder = NopRecorder{}
