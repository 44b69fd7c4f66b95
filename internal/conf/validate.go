// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"

	"github.com/ipcam/streamworker/internal/codec"
)

// maxStreams mirrors the number of channel slots of the capture core.
const maxStreams = 8

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateGeneralSettings(&settings.General)...)
	ve.Errors = append(ve.Errors, validateStreamSettings(settings.Streams, &settings.Snapshot)...)
	ve.Errors = append(ve.Errors, validateSnapshotSettings(&settings.Snapshot)...)
	ve.Errors = append(ve.Errors, validateAudioSettings(&settings.Audio)...)
	ve.Errors = append(ve.Errors, validateAPISettings(&settings.API)...)
	ve.Errors = append(ve.Errors, validateMQTTSettings(&settings.MQTT)...)

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateGeneralSettings(settings *GeneralSettings) []string {
	var errs []string
	if settings.PollingTimeout <= 0 {
		errs = append(errs, "general.pollingtimeout must be positive")
	}
	if settings.ThreadSleep <= 0 {
		errs = append(errs, "general.threadsleep must be positive")
	}
	return errs
}

func validateStreamSettings(streams []StreamSettings, snapshot *SnapshotSettings) []string {
	var errs []string
	ids := make(map[int]string)
	channels := make(map[int]string)

	for i, s := range streams {
		label := s.Name
		if label == "" {
			label = fmt.Sprintf("streams[%d]", i)
		}
		if !s.Enabled {
			continue
		}

		if s.ID < 0 || s.ID >= maxStreams {
			errs = append(errs, fmt.Sprintf("%s: id %d must be between 0 and %d", label, s.ID, maxStreams-1))
		}
		if other, dup := ids[s.ID]; dup {
			errs = append(errs, fmt.Sprintf("%s: id %d already used by %s", label, s.ID, other))
		}
		ids[s.ID] = label

		c, err := codec.Parse(s.Codec)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("%s: %v", label, err))
		case c == codec.JPEG:
			errs = append(errs, fmt.Sprintf("%s: jpeg is only valid for the snapshot channel", label))
		}

		if other, dup := channels[s.EncChannel]; dup {
			errs = append(errs, fmt.Sprintf("%s: encoder channel %d already used by %s", label, s.EncChannel, other))
		}
		channels[s.EncChannel] = label

		if s.QueueSize < 0 {
			errs = append(errs, fmt.Sprintf("%s: queuesize must not be negative", label))
		}
	}

	if snapshot.Enabled {
		if other, dup := channels[snapshot.EncChannel]; dup {
			errs = append(errs, fmt.Sprintf("snapshot: encoder channel %d already used by %s", snapshot.EncChannel, other))
		}
	}
	return errs
}

func validateSnapshotSettings(settings *SnapshotSettings) []string {
	if !settings.Enabled {
		return nil
	}
	var errs []string
	if settings.Path == "" {
		errs = append(errs, "snapshot.path is required when snapshots are enabled")
	}
	if settings.TempPath != "" && settings.TempPath == settings.Path {
		errs = append(errs, "snapshot.temppath must differ from snapshot.path")
	}
	if settings.Interval <= 0 {
		errs = append(errs, "snapshot.interval must be positive")
	}
	return errs
}

func validateAudioSettings(settings *AudioSettings) []string {
	if !settings.Enabled {
		return nil
	}
	var errs []string
	if settings.PollTimeout <= 0 {
		errs = append(errs, "audio.polltimeout must be positive")
	}
	if settings.RingSize <= 0 {
		errs = append(errs, "audio.ringsize must be positive")
	}
	return errs
}

func validateAPISettings(settings *APISettings) []string {
	if !settings.Enabled {
		return nil
	}
	_, port, err := net.SplitHostPort(settings.Listen)
	if err != nil {
		return []string{fmt.Sprintf("api.listen: %v", err)}
	}
	if err := validatePort(port); err != nil {
		return []string{fmt.Sprintf("api.listen: %v", err)}
	}
	return nil
}

func validateMQTTSettings(settings *MQTTSettings) []string {
	if !settings.Enabled {
		return nil
	}
	var errs []string
	if err := validateEnvBroker(settings.Broker); err != nil {
		errs = append(errs, fmt.Sprintf("mqtt.broker: %v", err))
	}
	if settings.Topic == "" {
		errs = append(errs, "mqtt.topic is required")
	}
	if settings.Interval <= 0 {
		errs = append(errs, "mqtt.interval must be positive")
	}
	return errs
}
