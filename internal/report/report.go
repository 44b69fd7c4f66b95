// Package report publishes capture statistics to an MQTT broker.
package report

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/logger"
	"github.com/ipcam/streamworker/internal/mqtt"
	"github.com/ipcam/streamworker/internal/stats"
	"github.com/ipcam/streamworker/internal/worker"
)

const (
	// DefaultInterval is used when the configured interval is not positive.
	DefaultInterval = 10 * time.Second
	// DefaultTopic is the topic prefix used when none is configured.
	DefaultTopic = "streamworker"

	statusTopic = "status"
)

// StatusSource is satisfied by worker.Controller.
type StatusSource interface {
	Status() worker.Status
}

// StreamMessage is the payload published per stream on <topic>/<name>.
type StreamMessage struct {
	ID       int            `json:"id"`
	Name     string         `json:"name"`
	Codec    string         `json:"codec"`
	State    string         `json:"state"`
	Active   bool           `json:"active"`
	IDRSeen  bool           `json:"idr_seen"`
	QueueLen int            `json:"queue_len"`
	QueueCap int            `json:"queue_cap"`
	Stats    stats.Snapshot `json:"stats"`
	Time     time.Time      `json:"time"`
}

// StatusMessage is the payload published on <topic>/status.
type StatusMessage struct {
	State    string    `json:"state"`
	Streams  int       `json:"streams"`
	Active   int       `json:"active"`
	Snapshot bool      `json:"snapshot"`
	Audio    bool      `json:"audio"`
	Time     time.Time `json:"time"`
}

// Reporter periodically publishes the controller status.
type Reporter struct {
	client   mqtt.Client
	source   StatusSource
	topic    string
	interval time.Duration
	log      logger.Logger
}

// New creates a Reporter. An empty topic or non-positive interval selects
// the defaults.
func New(client mqtt.Client, source StatusSource, topic string, interval time.Duration, log logger.Logger) *Reporter {
	if topic == "" {
		topic = DefaultTopic
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logger.Global().Module("report")
	}
	return &Reporter{
		client:   client,
		source:   source,
		topic:    topic,
		interval: interval,
		log:      log,
	}
}

// Run publishes once per interval until ctx is done. Connection failures
// are retried on the next tick; they never stop the reporter.
func (r *Reporter) Run(ctx context.Context) error {
	defer r.client.Disconnect()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reporter) tick(ctx context.Context) {
	if !r.client.IsConnected() {
		if err := r.client.Connect(ctx); err != nil {
			r.log.Warn("mqtt connect failed", logger.Error(err))
			return
		}
		r.log.Info("mqtt connected")
	}
	if err := r.Publish(ctx); err != nil {
		r.log.Warn("stats publish failed", logger.Error(err))
	}
}

// Publish sends one round of messages: the summary and one per stream.
// All streams are attempted; the returned error joins the failures.
func (r *Reporter) Publish(ctx context.Context) error {
	st := r.source.Status()

	summary := StatusMessage{
		State:    st.State,
		Streams:  len(st.Streams),
		Snapshot: st.Snapshot,
		Audio:    st.Audio,
		Time:     st.Time,
	}
	for i := range st.Streams {
		if st.Streams[i].Active {
			summary.Active++
		}
	}

	var errs []error
	if err := r.send(ctx, statusTopic, summary); err != nil {
		errs = append(errs, err)
	}
	for i := range st.Streams {
		s := &st.Streams[i]
		msg := StreamMessage{
			ID:       s.ID,
			Name:     s.Name,
			Codec:    s.Codec,
			State:    st.State,
			Active:   s.Active,
			IDRSeen:  s.IDRSeen,
			QueueLen: s.QueueLen,
			QueueCap: s.QueueCap,
			Stats:    s.Stats,
			Time:     st.Time,
		}
		if err := r.send(ctx, s.Name, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reporter) send(ctx context.Context, suffix string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.New(err).
			Component("report").
			Category(errors.CategoryGeneric).
			Context("topic", suffix).
			Build()
	}
	return r.client.Publish(ctx, path.Join(r.topic, suffix), payload)
}
