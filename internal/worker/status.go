package worker

import (
	"time"

	"github.com/ipcam/streamworker/internal/stats"
)

// StreamStatus is the reported state of one stream.
type StreamStatus struct {
	ID         int            `json:"id"`
	Name       string         `json:"name"`
	EncChannel int            `json:"enc_channel"`
	Codec      string         `json:"codec"`
	Active     bool           `json:"active"`
	IDRSeen    bool           `json:"idr_seen"`
	Cycle      string         `json:"cycle"`
	QueueLen   int            `json:"queue_len"`
	QueueCap   int            `json:"queue_cap"`
	Consumer   bool           `json:"consumer"`
	Stats      stats.Snapshot `json:"stats"`
}

// Status is a best-effort view of the controller, assembled without
// stopping any worker.
type Status struct {
	State    string         `json:"state"`
	Bits     uint32         `json:"bits"`
	Snapshot bool           `json:"snapshot"`
	Audio    bool           `json:"audio"`
	Streams  []StreamStatus `json:"streams"`
	Time     time.Time      `json:"time"`
}

// Status returns the current lifecycle state and per-stream statistics.
func (c *Controller) Status() Status {
	bits := c.signal.Load()
	st := Status{
		State:    bits.String(),
		Bits:     uint32(bits),
		Snapshot: c.cfg.Snapshot != nil,
		Audio:    c.cfg.Audio != nil,
		Streams:  make([]StreamStatus, 0, len(c.cfg.Streams)),
		Time:     time.Now(),
	}
	for _, sc := range c.cfg.Streams {
		s := c.sinks[sc.ID]
		st.Streams = append(st.Streams, StreamStatus{
			ID:         sc.ID,
			Name:       sc.Name,
			EncChannel: sc.EncChannel,
			Codec:      sc.Codec.String(),
			Active:     c.arena.get(sc.ID) != nil,
			IDRSeen:    s.IDRSeen(),
			Cycle:      s.Cycle().String(),
			QueueLen:   s.Len(),
			QueueCap:   s.Cap(),
			Consumer:   s.HasConsumer(),
			Stats:      c.stats[sc.ID].Snapshot(),
		})
	}
	return st
}
