package sim

import "sync/atomic"

// Overlay counts refresh calls instead of drawing.
type Overlay struct {
	drawn   atomic.Bool
	starts  atomic.Uint64
	updates atomic.Uint64
}

// UpdateDisplayEverySecond implements hal.Overlay.
func (o *Overlay) UpdateDisplayEverySecond() { o.updates.Add(1) }

// Start implements hal.Overlay.
func (o *Overlay) Start() error {
	o.starts.Add(1)
	o.drawn.Store(true)
	return nil
}

// NeedsFullRedraw implements hal.Overlay.
func (o *Overlay) NeedsFullRedraw() bool { return !o.drawn.Load() }

// Invalidate forces a full redraw on the next refresh.
func (o *Overlay) Invalidate() { o.drawn.Store(false) }

// Starts returns the number of full redraws.
func (o *Overlay) Starts() uint64 { return o.starts.Load() }

// Updates returns the number of periodic refreshes.
func (o *Overlay) Updates() uint64 { return o.updates.Load() }
