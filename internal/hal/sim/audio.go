package sim

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/hal"
)

const toneHz = 440.0

type audioDevice struct {
	mu         sync.Mutex
	spec       hal.AudioSpec
	interval   time.Duration
	samples    int
	sampleRate int
	next       time.Time
	seq        uint32
	phase      float64
	held       *hal.AudioFrame
}

func newAudioDevice(spec hal.AudioSpec, opts Options) *audioDevice {
	return &audioDevice{
		spec:       spec,
		interval:   opts.AudioFrame,
		samples:    int(int64(opts.SampleRate) * int64(opts.AudioFrame) / int64(time.Second)),
		sampleRate: opts.SampleRate,
		next:       time.Now().Add(opts.AudioFrame),
	}
}

// audioInput implements hal.AudioDevice over the platform.
type audioInput Platform

func (a *audioInput) device(dev, ch int) (*audioDevice, error) {
	p := (*Platform)(a)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio == nil || p.audio.spec.DeviceID != dev || p.audio.spec.ChannelID != ch {
		return nil, errors.Newf("audio device %d channel %d not initialized", dev, ch).
			Component(hal.ComponentHAL).
			Category(errors.CategoryNotFound).
			Build()
	}
	return p.audio, nil
}

func (a *audioInput) Poll(dev, ch int, timeout time.Duration) error {
	d, err := a.device(dev, ch)
	if err != nil {
		return err
	}
	d.mu.Lock()
	next := d.next
	d.mu.Unlock()
	return waitUntil(next, timeout)
}

func (a *audioInput) GetFrame(dev, ch int) (*hal.AudioFrame, error) {
	d, err := a.device(dev, ch)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.held != nil:
		return nil, hal.ErrStreamHeld
	case time.Now().Before(d.next):
		return nil, hal.ErrPollTimeout
	}

	// 16-bit little endian mono sine
	data := make([]byte, d.samples*2)
	step := 2 * math.Pi * toneHz / float64(d.sampleRate)
	for i := range d.samples {
		v := int16(math.Sin(d.phase) * math.MaxInt16 / 4)
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
		d.phase = math.Mod(d.phase+step, 2*math.Pi)
	}

	f := &hal.AudioFrame{
		Data:      data,
		Timestamp: (*Platform)(a).clock(),
		Seq:       d.seq,
	}
	d.seq++
	d.next = d.next.Add(d.interval)
	if now := time.Now(); d.next.Before(now) {
		d.next = now.Add(d.interval)
	}
	d.held = f
	return f, nil
}

func (a *audioInput) ReleaseFrame(dev, ch int, f *hal.AudioFrame) error {
	d, err := a.device(dev, ch)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held == nil || d.held != f {
		return errors.Newf("release of an audio frame not held").
			Component(hal.ComponentHAL).
			Category(errors.CategoryState).
			Build()
	}
	d.held = nil
	return nil
}
