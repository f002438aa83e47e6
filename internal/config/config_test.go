package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.True(t, cfg.Metrics.Enabled)

	assert.Equal(t, "ffmpeg", cfg.Stream.FFmpegPath)
	assert.Equal(t, "/tmp/hls", cfg.Stream.HLSDir)
	assert.Equal(t, 30*time.Second, cfg.Stream.StartTimeout)
	assert.Equal(t, 4, cfg.Stream.SegmentDuration)
	assert.Equal(t, 6, cfg.Stream.PlaylistLength)
	assert.Equal(t, "medium", cfg.Stream.DefaultQuality)
	assert.Equal(t, "hls", cfg.Stream.DefaultOutputMode)
	assert.Equal(t, 10, cfg.Stream.DefaultMaxViewers)
	assert.True(t, cfg.Stream.FallbackToHLS)

	assert.False(t, cfg.Queue.Enabled)
	assert.False(t, cfg.Storage.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
stream:
  defaultQuality: high
  defaultMaxViewers: 3
  fallbackToHLS: false
  startTimeout: 10s
queue:
  enabled: true
  host: rabbit.internal
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "high", cfg.Stream.DefaultQuality)
	assert.Equal(t, 3, cfg.Stream.DefaultMaxViewers)
	assert.False(t, cfg.Stream.FallbackToHLS)
	assert.Equal(t, 10*time.Second, cfg.Stream.StartTimeout)
	assert.True(t, cfg.Queue.Enabled)
	assert.Equal(t, "rabbit.internal", cfg.Queue.Host)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
