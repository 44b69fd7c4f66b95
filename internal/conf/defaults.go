// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/ipcam/streamworker/internal/logger"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("general.pollingtimeout", 500*time.Millisecond)
	v.SetDefault("general.threadsleep", 100*time.Millisecond)
	v.SetDefault("general.realtimescheduling", true)

	v.SetDefault("streams", []map[string]any{
		{
			"id":         0,
			"name":       "stream0",
			"enabled":    true,
			"codec":      "h264",
			"encchannel": 0,
			"queuesize":  30,
			"osd":        true,
		},
		{
			"id":         1,
			"name":       "stream1",
			"enabled":    true,
			"codec":      "h264",
			"encchannel": 1,
			"queuesize":  30,
			"osd":        true,
		},
	})

	v.SetDefault("snapshot.enabled", true)
	v.SetDefault("snapshot.encchannel", 2)
	v.SetDefault("snapshot.path", "/tmp/snapshot.jpg")
	v.SetDefault("snapshot.temppath", "")
	v.SetDefault("snapshot.interval", time.Second)
	v.SetDefault("snapshot.cachettl", 5*time.Second)

	v.SetDefault("audio.enabled", false)
	v.SetDefault("audio.deviceid", 0)
	v.SetDefault("audio.channelid", 0)
	v.SetDefault("audio.polltimeout", time.Second)
	v.SetDefault("audio.ringsize", 64*1024)
	v.SetDefault("audio.recordpath", "")

	v.SetDefault("logging.defaultlevel", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.buffersize", logger.DefaultBufferSize)
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.fileoutput.enabled", false)
	v.SetDefault("logging.fileoutput.path", "logs/streamworker.log")
	v.SetDefault("logging.fileoutput.level", "info")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", ":8090")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "streamworker")
	v.SetDefault("mqtt.topic", "streamworker/stats")
	v.SetDefault("mqtt.interval", 10*time.Second)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("simulation.fps", 25)
	v.SetDefault("simulation.gop", 50)
	v.SetDefault("simulation.bitrate", 2048)
	v.SetDefault("simulation.jpegwidth", 640)
	v.SetDefault("simulation.jpegheight", 360)
}
