package sim

import (
	"bytes"
	"image/jpeg"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipcam/streamworker/internal/codec"
	"github.com/ipcam/streamworker/internal/hal"
	"github.com/ipcam/streamworker/internal/logger"
)

func newTestPlatform(t *testing.T, opts Options) *Platform {
	t.Helper()
	p := New(opts, logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))
	t.Cleanup(func() { _ = p.Deinit() })
	return p
}

func TestGOPStartsWithParameterSets(t *testing.T) {
	t.Parallel()

	p := newTestPlatform(t, Options{FPS: 200, GOP: 3, BitrateKbps: 64})
	require.NoError(t, p.Init(t.Context(), hal.Config{
		Streams: []hal.StreamSpec{{ID: 0, EncChannel: 0, Codec: codec.H264}},
	}))

	enc := p.Encoder()
	require.NoError(t, enc.StartReceiving(0))

	var types [][]uint8
	for range 4 {
		require.NoError(t, enc.Poll(0, time.Second))
		s, err := enc.GetStream(0)
		require.NoError(t, err)

		var frame []uint8
		for _, pkt := range s.Packets {
			frame = append(frame, pkt.NALType)
		}
		types = append(types, frame)
		require.NoError(t, enc.ReleaseStream(0, s))
	}

	assert.Equal(t, [][]uint8{{7, 8, 5}, {1}, {1}, {7, 8, 5}}, types)
}

func TestGetStreamRequiresRelease(t *testing.T) {
	t.Parallel()

	p := newTestPlatform(t, Options{FPS: 200})
	require.NoError(t, p.Init(t.Context(), hal.Config{
		Streams: []hal.StreamSpec{{ID: 0, EncChannel: 1, Codec: codec.H265}},
	}))
	enc := p.Encoder()
	require.NoError(t, enc.StartReceiving(1))
	require.NoError(t, enc.Poll(1, time.Second))

	s, err := enc.GetStream(1)
	require.NoError(t, err)
	assert.True(t, p.Held(1))

	_, err = enc.GetStream(1)
	require.ErrorIs(t, err, hal.ErrStreamHeld)

	require.NoError(t, enc.ReleaseStream(1, s))
	assert.False(t, p.Held(1))
	require.Error(t, enc.ReleaseStream(1, s), "double release")
}

func TestPacketsWrapTheRing(t *testing.T) {
	t.Parallel()

	p := newTestPlatform(t, Options{FPS: 200, GOP: 1, BitrateKbps: 64, RingSize: 400})
	require.NoError(t, p.Init(t.Context(), hal.Config{
		Streams: []hal.StreamSpec{{ID: 0, EncChannel: 0, Codec: codec.H264}},
	}))
	enc := p.Encoder()
	require.NoError(t, enc.StartReceiving(0))

	wrapped := false
	for range 5 {
		require.NoError(t, enc.Poll(0, time.Second))
		s, err := enc.GetStream(0)
		require.NoError(t, err)
		for _, pkt := range s.Packets {
			if pkt.Offset+pkt.Length > len(s.Data) {
				wrapped = true
			}
			payload, ok := codec.AppendPayload(nil, s.Data, pkt.Offset, pkt.Length)
			require.True(t, ok)
			assert.Equal(t, codec.AnnexBStartCode, payload[:4])
		}
		require.NoError(t, enc.ReleaseStream(0, s))
	}
	assert.True(t, wrapped)
}

func TestPollTimesOutWhenNoFrameDue(t *testing.T) {
	t.Parallel()

	p := newTestPlatform(t, Options{FPS: 1})
	require.NoError(t, p.Init(t.Context(), hal.Config{
		Streams: []hal.StreamSpec{{ID: 0, EncChannel: 0, Codec: codec.H264}},
	}))
	enc := p.Encoder()

	require.ErrorIs(t, enc.Poll(0, 10*time.Millisecond), hal.ErrNotReceiving)
	require.NoError(t, enc.StartReceiving(0))
	require.ErrorIs(t, enc.Poll(0, 10*time.Millisecond), hal.ErrPollTimeout)
}

func TestSnapshotChannelProducesJPEG(t *testing.T) {
	t.Parallel()

	p := newTestPlatform(t, Options{SnapshotFPS: 100})
	require.NoError(t, p.Init(t.Context(), hal.Config{
		Snapshot: &hal.StreamSpec{ID: 2, EncChannel: 2, Codec: codec.JPEG},
	}))
	enc := p.Encoder()
	require.NoError(t, enc.StartReceiving(2))
	require.NoError(t, enc.Poll(2, time.Second))

	s, err := enc.GetStream(2)
	require.NoError(t, err)
	defer func() { _ = enc.ReleaseStream(2, s) }()

	var img []byte
	for _, pkt := range s.Packets {
		var ok bool
		img, ok = codec.AppendPayload(img, s.Data, pkt.Offset, pkt.Length)
		require.True(t, ok)
	}
	_, err = jpeg.Decode(bytes.NewReader(img))
	require.NoError(t, err)
}

func TestAudioFrames(t *testing.T) {
	t.Parallel()

	p := newTestPlatform(t, Options{AudioFrame: 5 * time.Millisecond, SampleRate: 8000})
	require.NoError(t, p.Init(t.Context(), hal.Config{Audio: &hal.AudioSpec{DeviceID: 0, ChannelID: 0}}))
	a := p.Audio()

	require.NoError(t, a.Poll(0, 0, time.Second))
	f, err := a.GetFrame(0, 0)
	require.NoError(t, err)
	assert.Len(t, f.Data, 80) // 40 samples * 2 bytes
	require.NoError(t, a.ReleaseFrame(0, 0, f))

	_, err = a.GetFrame(1, 0)
	require.Error(t, err)
}

func TestOverlayRedrawCycle(t *testing.T) {
	t.Parallel()

	p := newTestPlatform(t, Options{})
	require.NoError(t, p.Init(t.Context(), hal.Config{
		Streams: []hal.StreamSpec{
			{ID: 0, EncChannel: 0, Codec: codec.H264, OSD: true},
			{ID: 1, EncChannel: 1, Codec: codec.H264},
		},
	}))

	assert.Nil(t, p.Overlay(1))
	o := p.SimOverlay(0)
	require.NotNil(t, o)

	assert.True(t, o.NeedsFullRedraw())
	require.NoError(t, o.Start())
	assert.False(t, o.NeedsFullRedraw())
	o.UpdateDisplayEverySecond()
	o.Invalidate()
	assert.True(t, o.NeedsFullRedraw())
	assert.Equal(t, uint64(1), o.Starts())
	assert.Equal(t, uint64(1), o.Updates())
}

func TestInitRejectsDuplicateChannel(t *testing.T) {
	t.Parallel()

	p := newTestPlatform(t, Options{})
	err := p.Init(t.Context(), hal.Config{
		Streams: []hal.StreamSpec{
			{ID: 0, EncChannel: 0, Codec: codec.H264},
			{ID: 1, EncChannel: 0, Codec: codec.H264},
		},
	})
	require.Error(t, err)
}
