package worker

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/ipcam/streamworker/internal/codec"
	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/hal"
	"github.com/ipcam/streamworker/internal/logger"
	"github.com/ipcam/streamworker/internal/observability/metrics"
	"github.com/ipcam/streamworker/internal/sched"
	"github.com/ipcam/streamworker/internal/sink"
	"github.com/ipcam/streamworker/internal/stats"
)

// errorBackoff is the pause after a poll or get failure other than a timeout.
const errorBackoff = 10 * time.Millisecond

// ChannelWorker is the capture loop of one video channel.
type ChannelWorker struct {
	ch          *Channel
	enc         hal.Encoder
	pollTimeout time.Duration
	threadSleep time.Duration

	log     logger.Logger
	metrics metrics.CaptureRecorder

	dropWarn *rate.Limiter
	errWarn  *rate.Limiter
	now      func() time.Time
}

func newChannelWorker(ch *Channel, enc hal.Encoder, cfg *Config, log logger.Logger, rec metrics.CaptureRecorder) *ChannelWorker {
	return &ChannelWorker{
		ch:          ch,
		enc:         enc,
		pollTimeout: cfg.PollTimeout,
		threadSleep: cfg.ThreadSleep,
		log: log.With(
			logger.String("stream", ch.Name),
			logger.Int("enc_channel", ch.EncChannel)),
		metrics:  rec,
		dropWarn: rate.NewLimiter(rate.Every(time.Second), 1),
		errWarn:  rate.NewLimiter(rate.Every(time.Second), 3),
		now:      time.Now,
	}
}

// Run captures until the channel's run bit is cleared. The encoder channel
// must already be receiving; Run stops it on exit.
func (w *ChannelWorker) Run() {
	defer close(w.ch.done)
	sched.Pin(sched.Capture, w.log)

	if err := w.enc.RebaseTimestamp(w.now()); err != nil {
		w.log.Warn("timestamp rebase failed", logger.Error(err))
	}

	tracker := stats.NewRateTracker(w.now())
	firstCycle := true

	for w.ch.running() {
		if !w.ch.sink.HasConsumer() {
			tracker.Idle(w.now(), w.ch.stats)
			w.metrics.SetRates(w.ch.Name, 0, 0)
			time.Sleep(w.threadSleep)
			continue
		}

		if !w.cycle(tracker) {
			continue
		}

		if tracker.MaybePublish(w.now(), w.ch.stats) {
			w.metrics.SetRates(w.ch.Name, w.ch.stats.BitrateKbps(), w.ch.stats.FPS())
		}
		if firstCycle {
			w.ch.signal.Or(overlayBit)
			firstCycle = false
		}
	}

	if err := w.enc.StopReceiving(w.ch.EncChannel); err != nil {
		w.log.Warn("stop receiving failed", logger.Error(err))
	}
	w.log.Debug("channel worker exited")
}

// cycle polls, fetches and forwards one batch. It reports whether a batch
// was processed.
func (w *ChannelWorker) cycle(tracker *stats.RateTracker) bool {
	if err := w.enc.Poll(w.ch.EncChannel, w.pollTimeout); err != nil {
		if errors.Is(err, hal.ErrPollTimeout) {
			w.ch.stats.AddPollTimeout()
			w.metrics.RecordPoll(w.ch.Name, "timeout")
			return false
		}
		w.fail("poll", err)
		return false
	}

	s, err := w.enc.GetStream(w.ch.EncChannel)
	if err != nil {
		w.fail("get_stream", err)
		return false
	}
	w.metrics.RecordPoll(w.ch.Name, "ok")

	units := w.extract(s, tracker)

	if err := w.enc.ReleaseStream(w.ch.EncChannel, s); err != nil {
		w.fail("release_stream", err)
	}

	for _, au := range units {
		w.deliver(au)
	}
	return true
}

// extract copies every packet of s into an owned access unit. All units of
// the batch carry the wall-clock time of its last packet. Packets without
// payload after the start code are skipped.
func (w *ChannelWorker) extract(s *hal.Stream, tracker *stats.RateTracker) []*sink.AccessUnit {
	if len(s.Packets) == 0 {
		return nil
	}
	batchTime := time.UnixMicro(s.Packets[len(s.Packets)-1].Timestamp)

	units := make([]*sink.AccessUnit, 0, len(s.Packets))
	for _, pkt := range s.Packets {
		if pkt.Length == 0 {
			continue
		}
		data, ok := codec.AppendPayload(make([]byte, 0, pkt.Length), s.Data, pkt.Offset, pkt.Length)
		if !ok {
			w.ch.stats.AddError()
			if w.errWarn.Allow() {
				w.log.Warn("packet outside encoder buffer",
					logger.Int("offset", pkt.Offset),
					logger.Int("length", pkt.Length),
					logger.Int("buffer", len(s.Data)))
			}
			continue
		}

		tracker.Add(pkt.Length)
		w.ch.stats.AddPacket(pkt.Length, batchTime)
		w.metrics.RecordPacket(w.ch.Name, pkt.Length)

		payload := codec.StripStartCode(data)
		if len(payload) == 0 {
			continue
		}
		nal := pkt.NALType
		if nal == 0 {
			nal, _ = codec.NALType(w.ch.Codec, payload)
		}

		units = append(units, &sink.AccessUnit{
			Data:             payload,
			EncoderTimestamp: pkt.Timestamp,
			Time:             batchTime,
			NALType:          nal,
			RandomAccess:     codec.IsRandomAccess(w.ch.Codec, nal),
		})
	}
	return units
}

// deliver applies the keyframe gate and pushes au.
func (w *ChannelWorker) deliver(au *sink.AccessUnit) {
	s := w.ch.sink
	if !s.IDRSeen() {
		if !au.RandomAccess {
			w.ch.stats.AddGated()
			w.metrics.RecordUnit(w.ch.Name, "gated")
			return
		}
		if s.MarkIDR() {
			w.log.Info("keyframe gate opened",
				logger.Int("nal_type", int(au.NALType)),
				logger.String("cycle", s.Cycle().String()))
		}
	}

	if !w.ch.push(au) {
		w.ch.stats.AddDropped()
		w.metrics.RecordUnit(w.ch.Name, "dropped")
		if w.dropWarn.Allow() {
			w.log.Warn("sink full, dropping access unit",
				logger.Int("queue_size", s.Cap()),
				logger.Uint64("dropped_total", w.ch.stats.Snapshot().Dropped))
		}
		return
	}

	w.ch.stats.AddEnqueued()
	w.metrics.RecordUnit(w.ch.Name, "enqueued")
	s.Notify()
}

func (w *ChannelWorker) fail(op string, err error) {
	w.ch.stats.AddError()
	w.metrics.RecordPoll(w.ch.Name, "error")

	ee := errors.New(err).
		Component(ComponentWorker).
		Category(errors.CategoryEncoderPoll).
		ChannelContext(w.ch.StreamID, w.ch.EncChannel).
		Context("operation", op).
		Build()
	if w.errWarn.Allow() {
		w.log.Warn("encoder cycle failed", logger.String("operation", op), logger.Error(ee))
	}
	time.Sleep(errorBackoff)
}
