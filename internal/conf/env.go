// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ipcam/streamworker/internal/errors"
)

// EnvPrefix prefixes every environment variable, e.g. STREAMWORKER_API_LISTEN.
const EnvPrefix = "STREAMWORKER"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the validated environment variable bindings.
// Other keys are still reachable through AutomaticEnv.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"general.pollingtimeout", EnvPrefix + "_GENERAL_POLLINGTIMEOUT", validateEnvDuration},
		{"general.threadsleep", EnvPrefix + "_GENERAL_THREADSLEEP", validateEnvDuration},
		{"general.realtimescheduling", EnvPrefix + "_GENERAL_REALTIMESCHEDULING", validateEnvBool},
		{"snapshot.path", EnvPrefix + "_SNAPSHOT_PATH", nil},
		{"snapshot.interval", EnvPrefix + "_SNAPSHOT_INTERVAL", validateEnvDuration},
		{"api.listen", EnvPrefix + "_API_LISTEN", validateEnvListen},
		{"mqtt.broker", EnvPrefix + "_MQTT_BROKER", validateEnvBroker},
		{"mqtt.username", EnvPrefix + "_MQTT_USERNAME", nil},
		{"mqtt.password", EnvPrefix + "_MQTT_PASSWORD", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var problems []string
	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			problems = append(problems, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				problems = append(problems, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, value, err))
			}
		}
	}

	if len(problems) > 0 {
		return errors.Newf("environment variable issues:\n  - %s", strings.Join(problems, "\n  - ")).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	_, err := strconv.ParseBool(value)
	return err
}

// validateEnvDuration validates positive durations such as "500ms"
func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d <= 0 {
		return errors.NewStd("duration must be positive")
	}
	return nil
}

// validateEnvListen validates host:port listen addresses
func validateEnvListen(value string) error {
	_, port, err := net.SplitHostPort(value)
	if err != nil {
		return err
	}
	return validatePort(port)
}

// validateEnvBroker validates MQTT broker URLs
func validateEnvBroker(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts":
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.NewStd("broker host is empty")
	}
	return nil
}

func validatePort(port string) error {
	p, err := strconv.Atoi(port)
	if err != nil {
		return err
	}
	if p < 0 || p > 65535 {
		return fmt.Errorf("port %d out of range", p)
	}
	return nil
}
