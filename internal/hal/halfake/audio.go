package halfake

import (
	"sync"
	"time"

	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/hal"
)

// Audio is a scripted audio device.
type Audio struct {
	pending chan *hal.AudioFrame

	mu       sync.Mutex
	ready    *hal.AudioFrame
	held     *hal.AudioFrame
	gets     int
	releases int
}

func newAudio() *Audio {
	return &Audio{pending: make(chan *hal.AudioFrame, 256)}
}

// Queue makes a frame available.
func (a *Audio) Queue(data []byte, ts int64) {
	a.pending <- &hal.AudioFrame{Data: data, Timestamp: ts}
}

// Counts returns the number of frames fetched and released.
func (a *Audio) Counts() (gets, releases int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gets, a.releases
}

// Poll implements hal.AudioDevice.
func (a *Audio) Poll(_, _ int, timeout time.Duration) error {
	a.mu.Lock()
	ready := a.ready != nil
	a.mu.Unlock()
	if ready {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-a.pending:
		a.mu.Lock()
		a.ready = f
		a.mu.Unlock()
		return nil
	case <-timer.C:
		return hal.ErrPollTimeout
	}
}

// GetFrame implements hal.AudioDevice.
func (a *Audio) GetFrame(_, _ int) (*hal.AudioFrame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready == nil {
		return nil, hal.ErrPollTimeout
	}
	f := a.ready
	a.ready = nil
	a.held = f
	a.gets++
	return f, nil
}

// ReleaseFrame implements hal.AudioDevice.
func (a *Audio) ReleaseFrame(_, _ int, f *hal.AudioFrame) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.held == nil || a.held != f {
		return errors.Newf("audio frame not held").
			Component(hal.ComponentHAL).
			Category(errors.CategoryState).
			Build()
	}
	a.held = nil
	a.releases++
	return nil
}

// Overlay counts refresh calls.
type Overlay struct {
	mu      sync.Mutex
	redraw  bool
	starts  int
	updates int
}

// NewOverlay returns an overlay that needs a full redraw first.
func NewOverlay() *Overlay { return &Overlay{redraw: true} }

// UpdateDisplayEverySecond implements hal.Overlay.
func (o *Overlay) UpdateDisplayEverySecond() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates++
}

// Start implements hal.Overlay.
func (o *Overlay) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts++
	o.redraw = false
	return nil
}

// NeedsFullRedraw implements hal.Overlay.
func (o *Overlay) NeedsFullRedraw() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.redraw
}

// Counts returns full redraws and periodic updates.
func (o *Overlay) Counts() (starts, updates int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.starts, o.updates
}
