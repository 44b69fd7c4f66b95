package run

import (
	"github.com/ipcam/streamworker/internal/codec"
	"github.com/ipcam/streamworker/internal/conf"
	"github.com/ipcam/streamworker/internal/worker"
)

// workerConfig translates settings into the controller configuration.
// Disabled streams and sections are left out.
func workerConfig(settings *conf.Settings) (worker.Config, error) {
	cfg := worker.Config{
		PollTimeout: settings.General.PollingTimeout,
		ThreadSleep: settings.General.ThreadSleep,
	}

	for _, st := range settings.EnabledStreams() {
		c, err := codec.Parse(st.Codec)
		if err != nil {
			return worker.Config{}, err
		}
		cfg.Streams = append(cfg.Streams, worker.StreamConfig{
			ID:         st.ID,
			Name:       st.Name,
			EncChannel: st.EncChannel,
			Codec:      c,
			QueueSize:  st.QueueSize,
			OSD:        st.OSD,
		})
	}

	if s := settings.Snapshot; s.Enabled {
		cfg.Snapshot = &worker.SnapshotConfig{
			EncChannel: s.EncChannel,
			Path:       s.Path,
			TempPath:   s.TempPath,
			Interval:   s.Interval,
			CacheTTL:   s.CacheTTL,
		}
	}

	if a := settings.Audio; a.Enabled {
		cfg.Audio = &worker.AudioConfig{
			DeviceID:    a.DeviceID,
			ChannelID:   a.ChannelID,
			PollTimeout: a.PollTimeout,
		}
	}

	return cfg, nil
}
