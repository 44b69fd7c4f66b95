package worker

import (
	"bytes"
	"time"

	"golang.org/x/time/rate"

	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/hal"
	"github.com/ipcam/streamworker/internal/logger"
	"github.com/ipcam/streamworker/internal/observability/metrics"
	"github.com/ipcam/streamworker/internal/sched"
	"github.com/ipcam/streamworker/internal/sink"
)

// AudioWorker moves PCM frames from the audio device into an AudioSink.
type AudioWorker struct {
	task

	dev         hal.AudioDevice
	deviceID    int
	channelID   int
	pollTimeout time.Duration
	threadSleep time.Duration
	sink        sink.AudioSink

	log       logger.Logger
	metrics   metrics.CaptureRecorder
	cloggedLg *rate.Limiter
}

func newAudioWorker(dev hal.AudioDevice, ac *AudioConfig, cfg *Config, out sink.AudioSink, log logger.Logger, rec metrics.CaptureRecorder) *AudioWorker {
	return &AudioWorker{
		task:        newTask(),
		dev:         dev,
		deviceID:    ac.DeviceID,
		channelID:   ac.ChannelID,
		pollTimeout: ac.PollTimeout,
		threadSleep: cfg.ThreadSleep,
		sink:        out,
		log: log.With(
			logger.Int("device", ac.DeviceID),
			logger.Int("channel", ac.ChannelID)),
		metrics:   rec,
		cloggedLg: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Run delivers audio frames until stopped.
func (w *AudioWorker) Run() {
	defer close(w.done)
	sched.Pin(sched.Capture, w.log)

	for w.running() {
		if !w.capture() {
			w.sleepWhileRunning(w.threadSleep, w.threadSleep)
		}
	}
	w.log.Debug("audio worker exited")
}

// capture moves one frame. It reports false when there was nothing to do.
func (w *AudioWorker) capture() bool {
	if err := w.dev.Poll(w.deviceID, w.channelID, w.pollTimeout); err != nil {
		if !errors.Is(err, hal.ErrPollTimeout) {
			w.failed("poll", err)
		}
		return false
	}

	f, err := w.dev.GetFrame(w.deviceID, w.channelID)
	if err != nil {
		w.failed("get_frame", err)
		return false
	}

	frame := sink.AudioFrame{
		Data:            bytes.Clone(f.Data),
		DeviceTimestamp: f.Timestamp,
		Time:            time.UnixMicro(f.Timestamp),
		Seq:             f.Seq,
	}
	if err := w.dev.ReleaseFrame(w.deviceID, w.channelID, f); err != nil {
		w.failed("release_frame", err)
	}

	if !w.sink.Deliver(frame) {
		w.metrics.RecordAudioFrame("clogged")
		if w.cloggedLg.Allow() {
			w.log.Warn("audio sink clogged, frame dropped",
				logger.Int("bytes", len(frame.Data)),
				logger.Uint32("seq", frame.Seq))
		}
		return true
	}
	w.metrics.RecordAudioFrame("accepted")
	return true
}

func (w *AudioWorker) failed(op string, err error) {
	w.metrics.RecordAudioFrame("error")
	ee := errors.New(err).
		Component(ComponentWorker).
		Category(errors.CategoryAudioCapture).
		Context("operation", op).
		Build()
	w.log.Warn("audio capture failed", logger.Error(ee))
}
