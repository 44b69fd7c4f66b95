// Package consumer contains the downstream consumers bundled with the
// worker: an elementary stream recorder for video sinks and a PCM ring
// buffer for the audio sink.
package consumer

import (
	"bufio"
	"context"
	"os"
	"sync/atomic"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/logger"
	"github.com/ipcam/streamworker/internal/sink"
)

const recordBufferSize = 64 * 1024

// AnnexBWriter appends every access unit of a video sink to a raw
// Annex-B elementary stream file, playable with ffplay or mpv.
type AnnexBWriter struct {
	sink   *sink.VideoSink
	path   string
	log    logger.Logger
	notify chan struct{}

	units atomic.Uint64
	bytes atomic.Uint64
}

// NewAnnexBWriter creates a recorder for s writing to path.
func NewAnnexBWriter(s *sink.VideoSink, path string, log logger.Logger) *AnnexBWriter {
	if log == nil {
		log = logger.Global().Module("consumer")
	}
	return &AnnexBWriter{
		sink:   s,
		path:   path,
		log:    log.With(logger.String("sink", s.Name()), logger.String("path", path)),
		notify: make(chan struct{}, 1),
	}
}

// Run attaches to the sink and records until ctx is done.
func (w *AnnexBWriter) Run(ctx context.Context) (err error) {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // path comes from config
	if err != nil {
		return errors.New(err).
			Component("consumer").
			Category(errors.CategoryFileIO).
			FileContext(w.path, 0).
			Build()
	}
	bw := bufio.NewWriterSize(f, recordBufferSize)

	w.sink.SetDataCallback(w.wake)
	w.log.Info("recording started")

	defer func() {
		w.sink.SetDataCallback(nil)
		err = errors.Join(err, bw.Flush(), f.Close())
		w.log.Info("recording stopped",
			logger.Uint64("units", w.units.Load()),
			logger.Uint64("bytes", w.bytes.Load()))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.notify:
			if err := w.drain(bw); err != nil {
				return err
			}
		}
	}
}

// wake is the sink data callback. It runs on the capture thread.
func (w *AnnexBWriter) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *AnnexBWriter) drain(bw *bufio.Writer) error {
	for {
		select {
		case au := <-w.sink.Units():
			buf, err := h264.AnnexB{au.Data}.Marshal()
			if err != nil {
				w.log.Warn("skipping unmarshalable access unit", logger.Error(err))
				continue
			}
			if _, err := bw.Write(buf); err != nil {
				return errors.New(err).
					Component("consumer").
					Category(errors.CategoryFileIO).
					FileContext(w.path, 0).
					Build()
			}
			w.units.Add(1)
			w.bytes.Add(uint64(len(buf)))
		default:
			return nil
		}
	}
}

// Units returns the number of access units written.
func (w *AnnexBWriter) Units() uint64 { return w.units.Load() }
