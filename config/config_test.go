package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, uint16(29015), cfg.Cluster.Port)
	assert.Equal(t, 2*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 10*time.Second, cfg.Heartbeat.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)

	require.NoError(t, cfg.Validate())
}

func TestJSONRoundTrip(t *testing.T) {
	cfg := NewConfig()
	cfg.Cluster.Port = 31000
	cfg.Cluster.Seeds = []string{"10.0.0.1:29015", "10.0.0.2:29015"}
	cfg.Cluster.CanonicalAddr = "db.example.com:31000"

	data, err := cfg.ToJSON()
	require.NoError(t, err)

	loaded, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestFromJSONPartial(t *testing.T) {
	// 未出现的字段保持默认值
	loaded, err := FromJSON([]byte(`{"cluster":{"port":31000}}`))
	require.NoError(t, err)

	assert.Equal(t, uint16(31000), loaded.Cluster.Port)
	assert.Equal(t, 2*time.Second, loaded.Heartbeat.Interval)
}

func TestFromJSONInvalid(t *testing.T) {
	_, err := FromJSON([]byte(`{not json`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("fixes zero timeouts", func(t *testing.T) {
		cfg := NewConfig()
		cfg.Cluster.DialTimeout = 0
		cfg.Heartbeat.Interval = 0

		require.NoError(t, cfg.Validate())
		assert.Equal(t, 5*time.Second, cfg.Cluster.DialTimeout)
		assert.Equal(t, 2*time.Second, cfg.Heartbeat.Interval)
	})

	t.Run("fixes timeout below interval", func(t *testing.T) {
		cfg := NewConfig()
		cfg.Heartbeat.Interval = 4 * time.Second
		cfg.Heartbeat.Timeout = time.Second

		require.NoError(t, cfg.Validate())
		assert.Equal(t, 20*time.Second, cfg.Heartbeat.Timeout)
	})

	t.Run("rejects bad seed", func(t *testing.T) {
		cfg := NewConfig()
		cfg.Cluster.Seeds = []string{"no-port-here"}
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidSeed)
	})

	t.Run("rejects bad canonical addr", func(t *testing.T) {
		cfg := NewConfig()
		cfg.Cluster.CanonicalAddr = "???"
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidCanonicalAddr)
	})

	t.Run("rejects bad log level", func(t *testing.T) {
		cfg := NewConfig()
		cfg.Log.Level = "verbose"
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidLogLevel)
	})
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dbmesh.json")

	cfg := NewConfig()
	cfg.Cluster.Port = 0
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
