package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ipcam/streamworker/internal/conf"
	"github.com/ipcam/streamworker/internal/errors"
)

func TestPrintRoundTripsThroughViper(t *testing.T) {
	settings, err := conf.LoadFrom(viper.New())
	require.NoError(t, err)
	settings.API.Listen = ":9000"
	settings.MQTT.Password = "secret"

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, settings))

	out := buf.String()
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, redacted)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Contains(t, doc, "general")
	assert.Contains(t, doc, "streams")

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(&buf))
	assert.Equal(t, ":9000", v.GetString("api.listen"))
	assert.Equal(t, "500ms", v.GetString("general.pollingtimeout"))

	// The original settings are untouched.
	assert.Equal(t, "secret", settings.MQTT.Password)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")

	require.NoError(t, WriteDefault(path, false))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "general:")

	err = WriteDefault(path, false)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	require.NoError(t, WriteDefault(path, true))
}

func TestWrittenDefaultLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, WriteDefault(path, false))

	v := viper.New()
	v.SetConfigFile(path)
	settings, err := conf.LoadFrom(v)
	require.NoError(t, err)
	assert.NotEmpty(t, settings.Streams)
}
