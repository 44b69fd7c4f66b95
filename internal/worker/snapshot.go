package worker

import (
	"context"
	"io"
	"time"

	"github.com/ipcam/streamworker/internal/codec"
	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/hal"
	"github.com/ipcam/streamworker/internal/logger"
	"github.com/ipcam/streamworker/internal/observability/metrics"
	"github.com/ipcam/streamworker/internal/sched"
	"github.com/ipcam/streamworker/internal/snapshot"
)

// SnapshotWriter polls the JPEG channel at most once per interval and
// publishes each frame through a snapshot.Publisher.
type SnapshotWriter struct {
	task

	enc         hal.Encoder
	encChannel  int
	interval    time.Duration
	pollTimeout time.Duration
	threadSleep time.Duration

	publisher *snapshot.Publisher
	store     *snapshot.Store
	// trigger requests a capture ahead of the interval.
	trigger <-chan struct{}

	log     logger.Logger
	metrics metrics.CaptureRecorder
}

func newSnapshotWriter(enc hal.Encoder, sc *SnapshotConfig, cfg *Config, pub *snapshot.Publisher, store *snapshot.Store, trigger <-chan struct{}, log logger.Logger, rec metrics.CaptureRecorder) *SnapshotWriter {
	return &SnapshotWriter{
		task:        newTask(),
		enc:         enc,
		encChannel:  sc.EncChannel,
		interval:    sc.Interval,
		pollTimeout: cfg.PollTimeout,
		threadSleep: cfg.ThreadSleep,
		publisher:   pub,
		store:       store,
		trigger:     trigger,
		log:         log.With(logger.Int("enc_channel", sc.EncChannel)),
		metrics:     rec,
	}
}

// Run publishes snapshots until stopped, then stops the encoder channel.
// A trigger captures immediately and restarts the interval.
func (w *SnapshotWriter) Run() {
	defer close(w.done)
	sched.Pin(sched.Background, w.log)

	next := time.Now()
	for w.running() {
		if wait := time.Until(next); wait > 0 && !w.waitTrigger(wait) {
			continue
		}
		select {
		case <-w.trigger:
		default:
		}
		next = time.Now().Add(w.interval)
		w.capture()
	}

	if err := w.enc.StopReceiving(w.encChannel); err != nil {
		w.log.Warn("stop receiving failed", logger.Error(err))
	}
	w.log.Debug("snapshot writer exited")
}

// waitTrigger sleeps for up to d in threadSleep steps and reports whether a
// capture was requested meanwhile.
func (w *SnapshotWriter) waitTrigger(d time.Duration) bool {
	for d > 0 && w.running() {
		step := min(d, w.threadSleep)
		t := time.NewTimer(step)
		select {
		case <-w.trigger:
			t.Stop()
			return true
		case <-t.C:
		}
		d -= step
	}
	return false
}

func (w *SnapshotWriter) capture() {
	if err := w.enc.Poll(w.encChannel, w.pollTimeout); err != nil {
		if !errors.Is(err, hal.ErrPollTimeout) {
			w.log.Warn("snapshot poll failed", logger.Error(err))
			time.Sleep(errorBackoff)
		}
		return
	}

	s, err := w.enc.GetStream(w.encChannel)
	if err != nil {
		w.log.Warn("snapshot get failed", logger.Error(err))
		time.Sleep(errorBackoff)
		return
	}

	chunks := make([][]byte, 0, len(s.Packets))
	size := 0
	outOfRange := false
	for _, pkt := range s.Packets {
		if pkt.Length == 0 {
			continue
		}
		data, ok := codec.AppendPayload(nil, s.Data, pkt.Offset, pkt.Length)
		if !ok {
			outOfRange = true
			break
		}
		chunks = append(chunks, data)
		size += len(data)
	}
	if err := w.enc.ReleaseStream(w.encChannel, s); err != nil {
		w.log.Warn("snapshot release failed", logger.Error(err))
	}
	if outOfRange {
		w.log.Warn("snapshot frame discarded, packet outside encoder buffer")
		w.metrics.RecordSnapshot(string(snapshot.StageWrite), 0, 0)
		return
	}
	if size == 0 {
		w.log.Debug("empty snapshot batch skipped", logger.Int("packets", len(s.Packets)))
		return
	}

	start := time.Now()
	n, err := w.publisher.Publish(context.Background(), func(dst io.Writer) error {
		for _, c := range chunks {
			if _, err := dst.Write(c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		w.publishFailed(err)
		return
	}

	elapsed := time.Since(start)
	w.metrics.RecordSnapshot("success", n, elapsed.Seconds())
	if w.store != nil {
		image := make([]byte, 0, size)
		for _, c := range chunks {
			image = append(image, c...)
		}
		w.store.Put(image, start)
	}
	w.log.Trace("snapshot published",
		logger.Int64("bytes", n),
		logger.Duration("duration", elapsed))
}

func (w *SnapshotWriter) publishFailed(err error) {
	stage := snapshot.StageOf(err)
	w.metrics.RecordSnapshot(string(stage), 0, 0)

	switch stage {
	case snapshot.StageOpen, snapshot.StageLock:
		w.log.Warn("snapshot cycle skipped",
			logger.String("stage", string(stage)),
			logger.Error(err))
	default:
		w.log.Error("snapshot publish failed, previous image kept",
			logger.String("stage", string(stage)),
			logger.String("path", w.publisher.Path()),
			logger.Error(err))
	}
}
