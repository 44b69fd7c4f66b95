// config.go: settings of the capture worker and the functions that load them.
package conf

import (
	"embed"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// GeneralSettings contains the capture loop timing.
type GeneralSettings struct {
	PollingTimeout     time.Duration // encoder poll timeout, bounds stop latency
	ThreadSleep        time.Duration // idle sleep of workers without work
	RealtimeScheduling bool          // request SCHED_RR for worker threads
}

// StreamSettings describes one encoded video stream.
type StreamSettings struct {
	ID         int    // stream index, also the channel slot
	Name       string // name used in logs, metrics and the API
	Enabled    bool   // false skips the stream entirely
	Codec      string // h264 or h265
	EncChannel int    // hardware encoder channel
	QueueSize  int    // sink capacity in access units
	OSD        bool   // refresh the on-screen display of this stream
	RecordPath string // optional Annex-B recording of the stream
}

// SnapshotSettings contains the JPEG snapshot channel settings.
type SnapshotSettings struct {
	Enabled    bool          // true to publish snapshots
	EncChannel int           // hardware encoder channel of the JPEG encoder
	Path       string        // public snapshot path
	TempPath   string        // staging path, empty means <path>.tmp
	Interval   time.Duration // minimum time between snapshots
	CacheTTL   time.Duration // how long the API serves the in-memory copy
}

// AudioSettings contains the audio capture settings.
type AudioSettings struct {
	Enabled     bool          // true to capture audio
	DeviceID    int           // audio input device
	ChannelID   int           // audio input channel
	PollTimeout time.Duration // audio device poll timeout
	RingSize    int           // PCM handoff ring buffer size in bytes
	RecordPath  string        // optional raw PCM recording
}

// APISettings contains the HTTP control API settings.
type APISettings struct {
	Enabled bool   // true to serve the API
	Listen  string // listen address, e.g. ":8090"
}

// MQTTSettings contains the statistics publisher settings.
type MQTTSettings struct {
	Enabled  bool          // true to publish stream statistics
	Broker   string        // broker URL, e.g. tcp://localhost:1883
	ClientID string        // MQTT client id
	Topic    string        // topic prefix; stream name is appended
	Interval time.Duration // publish interval
	Username string        // optional username
	Password string        // optional password
	Retain   bool          // publish retained messages
}

// SimulationSettings tunes the simulated platform used by run --simulate.
type SimulationSettings struct {
	FPS        int // video frames per second
	GOP        int // frames between IDR pictures
	Bitrate    int // target bitrate in kbps
	JPEGWidth  int // snapshot test card width
	JPEGHeight int // snapshot test card height
}

// Settings is the root of the configuration.
type Settings struct {
	Debug      bool                 // true to enable debug logging everywhere
	General    GeneralSettings      // capture loop timing
	Streams    []StreamSettings     // video streams
	Snapshot   SnapshotSettings     // JPEG snapshot channel
	Audio      AudioSettings        // audio capture
	Logging    logger.LoggingConfig // log outputs and levels
	API        APISettings          // HTTP control API
	MQTT       MQTTSettings         // statistics publisher
	Simulation SimulationSettings   // simulated hardware
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables using the
// global viper instance and stores the result as the current settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings, err := LoadFrom(viper.GetViper())
	if err != nil {
		return nil, err
	}
	settingsInstance = settings
	return settings, nil
}

// LoadFrom reads settings through v. A missing config file is not an
// error; defaults and environment variables still apply.
func LoadFrom(v *viper.Viper) (*Settings, error) {
	if err := initViper(v); err != nil {
		return nil, err
	}
	return Unmarshal(v)
}

// Unmarshal decodes and validates the settings held by v.
func Unmarshal(v *viper.Viper) (*Settings, error) {
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryValidation).
			Build()
	}
	return settings, nil
}

// initViper sets defaults, binds the environment and reads the config file.
func initViper(v *viper.Viper) error {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range DefaultConfigPaths() {
		v.AddConfigPath(path)
	}

	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		return err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("operation", "read_config").
			Build()
	}
	return nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// DefaultConfig returns the annotated default configuration file.
func DefaultConfig() ([]byte, error) {
	data, err := configFiles.ReadFile("config.yaml")
	if err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryFileIO).
			Build()
	}
	return data, nil
}

// EnabledStreams returns the streams that are switched on.
func (s *Settings) EnabledStreams() []StreamSettings {
	var out []StreamSettings
	for _, st := range s.Streams {
		if st.Enabled {
			out = append(out, st)
		}
	}
	return out
}
