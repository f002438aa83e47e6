package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drbilel35-sudo/cctv-backend/pkg/models"
)

func TestLookupQuality(t *testing.T) {
	profile, err := LookupQuality(models.QualityMedium)
	assert.NoError(t, err)
	assert.Equal(t, "1000k", profile.VideoBitrate)
	assert.Equal(t, "854x480", profile.Scale())

	_, err = LookupQuality("4k")
	assert.Error(t, err)
}

func TestOriginalQualityKeepsResolution(t *testing.T) {
	profile, err := LookupQuality(models.QualityOriginal)
	assert.NoError(t, err)
	assert.Empty(t, profile.Scale())
	assert.Equal(t, "5000k", profile.VideoBitrate)
}

func TestValidQuality(t *testing.T) {
	for _, name := range []string{models.QualityLow, models.QualityMedium, models.QualityHigh, models.QualityOriginal} {
		assert.True(t, ValidQuality(name), name)
	}
	assert.False(t, ValidQuality(""))
	assert.False(t, ValidQuality("ultra"))
}

func TestValidOutputMode(t *testing.T) {
	assert.True(t, ValidOutputMode(models.OutputModeHLS))
	assert.True(t, ValidOutputMode(models.OutputModePush))
	assert.False(t, ValidOutputMode("rtmp"))
}
