package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(Config{Level: "debug", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewLoggerInvalidLevelDefaultsToInfo(t *testing.T) {
	logger, err := NewLogger(Config{Level: "chatty", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := t.TempDir() + "/app.log"
	logger, err := NewLogger(Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("written to file")
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNopLogger()

	// None of these should panic or emit.
	logger.Debug("d")
	logger.Infof("i %d", 1)
	logger.WithField("k", "v").Warn("w")
	logger.WithError(assert.AnError).Error("e")
	logger.WithSessionKey("s1").WithCameraID("cam-1").WithViewerID("alice").Info("chained")
	logger.LogStreamEvent("s1", "viewer_joined", 3)
}
