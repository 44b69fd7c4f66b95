// Package hal defines the platform collaborators the capture core drives:
// the hardware encoder, the audio input device and the overlay renderer.
//
// Implementations wrap a vendor SDK on the target board; internal/hal/sim
// provides a software platform for development and tests.
package hal

import (
	"context"
	"time"

	"github.com/ipcam/streamworker/internal/codec"
	"github.com/ipcam/streamworker/internal/errors"
)

// ComponentHAL identifies hal errors
const ComponentHAL = "hal"

var (
	// ErrPollTimeout is returned by Poll when no data arrived in time.
	ErrPollTimeout = errors.New(errors.NewStd("poll timeout")).
			Component(ComponentHAL).
			Category(errors.CategoryTimeout).
			Build()

	// ErrNotReceiving is returned for channels that were never started.
	ErrNotReceiving = errors.New(errors.NewStd("channel is not receiving")).
			Component(ComponentHAL).
			Category(errors.CategoryState).
			Build()

	// ErrStreamHeld is returned when a stream is fetched before the previous
	// one was released.
	ErrStreamHeld = errors.New(errors.NewStd("previous stream not released")).
			Component(ComponentHAL).
			Category(errors.CategoryState).
			Build()
)

// Packet describes one encoded packet inside Stream.Data.
type Packet struct {
	Offset int
	Length int
	// Timestamp is the encoder clock in microseconds.
	Timestamp int64
	// NALType as reported by the encoder, zero when unknown.
	NALType uint8
}

// Stream is a batch of packets borrowed from the encoder. Data is the
// encoder's circular buffer; a packet may wrap past its end. The stream
// must be returned with ReleaseStream before the next GetStream.
type Stream struct {
	Data    []byte
	Packets []Packet
	Seq     uint32
}

// StreamSpec describes one encoder channel to bring up.
type StreamSpec struct {
	ID         int
	Name       string
	EncChannel int
	Codec      codec.Codec
	OSD        bool
}

// AudioSpec describes the audio input to bring up.
type AudioSpec struct {
	DeviceID  int
	ChannelID int
}

// Config is handed to Hardware.Init.
type Config struct {
	Streams  []StreamSpec
	Snapshot *StreamSpec
	Audio    *AudioSpec
}

// Encoder is the hardware encoder's receive interface.
type Encoder interface {
	// RebaseTimestamp aligns the encoder clock with wall-clock time.
	RebaseTimestamp(t time.Time) error
	StartReceiving(ch int) error
	StopReceiving(ch int) error
	// Poll blocks until a stream is ready or timeout passes (ErrPollTimeout).
	Poll(ch int, timeout time.Duration) error
	GetStream(ch int) (*Stream, error)
	ReleaseStream(ch int, s *Stream) error
}

// AudioFrame is a PCM frame borrowed from the audio device.
type AudioFrame struct {
	Data      []byte
	Timestamp int64
	Seq       uint32
}

// AudioDevice is the audio input interface.
type AudioDevice interface {
	Poll(dev, ch int, timeout time.Duration) error
	GetFrame(dev, ch int) (*AudioFrame, error)
	ReleaseFrame(dev, ch int, f *AudioFrame) error
}

// Overlay is the on-screen display renderer of one stream.
type Overlay interface {
	// UpdateDisplayEverySecond refreshes time-dependent regions.
	UpdateDisplayEverySecond()
	// Start performs a full (re)draw.
	Start() error
	// NeedsFullRedraw reports whether Start must run before updates.
	NeedsFullRedraw() bool
}

// Hardware is the platform handle owned by the controller.
type Hardware interface {
	Init(ctx context.Context, cfg Config) error
	Deinit() error
	Encoder() Encoder
	// Overlay returns the overlay of a stream or nil.
	Overlay(streamID int) Overlay
	Audio() AudioDevice
}
