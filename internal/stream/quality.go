package stream

import (
	"fmt"

	"github.com/drbilel35-sudo/cctv-backend/pkg/models"
)

// QualityProfile maps a named quality tier to concrete encoder parameters.
type QualityProfile struct {
	Name             string
	VideoBitrate     string // ffmpeg bitrate notation, e.g. "1000k"
	BufferSize       string
	Width            int // 0 means keep source resolution
	Height           int
	KeyframeInterval int // frames between keyframes at 25 fps
}

// qualityTiers is the fixed four-tier table. "original" keeps the source
// resolution and only caps the bitrate.
var qualityTiers = map[string]QualityProfile{
	models.QualityLow: {
		Name:             models.QualityLow,
		VideoBitrate:     "500k",
		BufferSize:       "1000k",
		Width:            640,
		Height:           360,
		KeyframeInterval: 50,
	},
	models.QualityMedium: {
		Name:             models.QualityMedium,
		VideoBitrate:     "1000k",
		BufferSize:       "2000k",
		Width:            854,
		Height:           480,
		KeyframeInterval: 50,
	},
	models.QualityHigh: {
		Name:             models.QualityHigh,
		VideoBitrate:     "2500k",
		BufferSize:       "5000k",
		Width:            1280,
		Height:           720,
		KeyframeInterval: 50,
	},
	models.QualityOriginal: {
		Name:             models.QualityOriginal,
		VideoBitrate:     "5000k",
		BufferSize:       "10000k",
		KeyframeInterval: 50,
	},
}

// LookupQuality returns the profile for a tier name.
func LookupQuality(name string) (QualityProfile, error) {
	profile, ok := qualityTiers[name]
	if !ok {
		return QualityProfile{}, fmt.Errorf("unknown quality profile %q", name)
	}
	return profile, nil
}

// ValidQuality reports whether name is one of the four fixed tiers.
func ValidQuality(name string) bool {
	_, ok := qualityTiers[name]
	return ok
}

// ValidOutputMode reports whether mode is a supported output mode.
func ValidOutputMode(mode string) bool {
	return mode == models.OutputModeHLS || mode == models.OutputModePush
}

// Scale returns the ffmpeg -s argument for the profile, or "" when the
// source resolution is kept.
func (p QualityProfile) Scale() string {
	if p.Width == 0 || p.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}
