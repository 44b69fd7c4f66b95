package worker

import (
	"time"

	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/logger"
	"github.com/ipcam/streamworker/internal/observability/metrics"
	"github.com/ipcam/streamworker/internal/sched"
)

// OSDRefresher periodically refreshes the overlay of every channel that
// finished its first capture cycle.
type OSDRefresher struct {
	task

	channels func() []*Channel
	interval time.Duration

	log     logger.Logger
	metrics metrics.CaptureRecorder
}

func newOSDRefresher(channels func() []*Channel, threadSleep time.Duration, log logger.Logger, rec metrics.CaptureRecorder) *OSDRefresher {
	return &OSDRefresher{
		task:     newTask(),
		channels: channels,
		interval: 2 * threadSleep,
		log:      log,
		metrics:  rec,
	}
}

// Run refreshes overlays until stopped.
func (r *OSDRefresher) Run() {
	defer close(r.done)
	sched.Pin(sched.Background, r.log)

	for r.running() {
		r.refresh()
		r.sleepWhileRunning(r.interval, r.interval)
	}
	r.log.Debug("osd refresher exited")
}

func (r *OSDRefresher) refresh() {
	for _, ch := range r.channels() {
		if ch.overlay == nil || !ch.overlayReady() {
			continue
		}

		if !ch.overlay.NeedsFullRedraw() {
			ch.overlay.UpdateDisplayEverySecond()
			r.metrics.RecordOverlay(ch.Name, "update")
			continue
		}

		r.metrics.RecordOverlay(ch.Name, "start")
		if err := ch.overlay.Start(); err != nil {
			ee := errors.New(err).
				Component(ComponentWorker).
				Category(errors.CategoryOverlay).
				ChannelContext(ch.StreamID, ch.EncChannel).
				Build()
			r.log.Warn("overlay redraw failed",
				logger.String("stream", ch.Name),
				logger.Error(ee))
		}
	}
}
