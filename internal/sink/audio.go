package sink

import "time"

// AudioFrame is one PCM frame copied out of the audio device.
type AudioFrame struct {
	Data []byte
	// DeviceTimestamp is the device clock in microseconds.
	DeviceTimestamp int64
	Time            time.Time
	Seq             uint32
}

// AudioSink receives captured audio frames. Deliver must not block; false
// means the consumer is clogged and the frame was not taken.
type AudioSink interface {
	Deliver(frame AudioFrame) bool
}

// AudioSinkFunc adapts a function to AudioSink.
type AudioSinkFunc func(frame AudioFrame) bool

// Deliver calls f.
func (f AudioSinkFunc) Deliver(frame AudioFrame) bool { return f(frame) }

// DiscardAudio accepts and drops every frame.
var DiscardAudio AudioSink = AudioSinkFunc(func(AudioFrame) bool { return true })
