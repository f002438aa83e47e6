package stream

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drbilel35-sudo/cctv-backend/internal/logging"
	"github.com/drbilel35-sudo/cctv-backend/pkg/models"
)

func testAdapter(t *testing.T) *FFmpegAdapter {
	t.Helper()
	return NewFFmpegAdapter(FFmpegAdapterConfig{
		FFmpegPath:   "ffmpeg",
		HLSRoot:      t.TempDir(),
		StartTimeout: time.Second,
	}, logging.NewNopLogger())
}

func TestBuildArgsHLS(t *testing.T) {
	a := testAdapter(t)
	quality, err := LookupQuality(models.QualityMedium)
	require.NoError(t, err)

	args := a.buildArgs(LaunchSpec{
		SessionKey:      "key1",
		SourceURI:       "rtsp://cam.local/stream",
		OutputMode:      models.OutputModeHLS,
		Quality:         quality,
		SegmentDuration: 4,
		PlaylistLength:  6,
	}, "/tmp/hls/key1")

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-rtsp_transport tcp")
	assert.Contains(t, joined, "-i rtsp://cam.local/stream")
	assert.Contains(t, joined, "-c:v libx264")
	assert.Contains(t, joined, "-tune zerolatency")
	assert.Contains(t, joined, "-b:v 1000k")
	assert.Contains(t, joined, "-s 854x480")
	assert.Contains(t, joined, "-f hls")
	assert.Contains(t, joined, "-hls_time 4")
	assert.Contains(t, joined, "-hls_list_size 6")
	assert.Contains(t, joined, "-hls_flags delete_segments+independent_segments")
	assert.Contains(t, joined, "/tmp/hls/key1/segment_%03d.ts")
	assert.Equal(t, "/tmp/hls/key1/index.m3u8", args[len(args)-1])
}

func TestBuildArgsPush(t *testing.T) {
	a := testAdapter(t)
	quality, err := LookupQuality(models.QualityHigh)
	require.NoError(t, err)

	args := a.buildArgs(LaunchSpec{
		SessionKey: "key1",
		SourceURI:  "rtsp://cam.local/stream",
		OutputMode: models.OutputModePush,
		Quality:    quality,
	}, "/tmp/hls/key1")

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-f mpegts pipe:1")
	assert.Contains(t, joined, "-b:v 2500k")
	assert.NotContains(t, joined, "-f hls")
}

func TestBuildArgsOriginalQualityHasNoScale(t *testing.T) {
	a := testAdapter(t)
	quality, err := LookupQuality(models.QualityOriginal)
	require.NoError(t, err)

	args := a.buildArgs(LaunchSpec{
		SessionKey: "key1",
		OutputMode: models.OutputModeHLS,
		Quality:    quality,
	}, "/tmp/hls/key1")

	assert.NotContains(t, args, "-s")
}

func TestAdapterUnavailableWithoutBinary(t *testing.T) {
	a := NewFFmpegAdapter(FFmpegAdapterConfig{
		FFmpegPath: "/nonexistent/ffmpeg-binary",
		HLSRoot:    t.TempDir(),
	}, logging.NewNopLogger())

	assert.False(t, a.Available())

	_, err := a.Launch(context.Background(), LaunchSpec{SessionKey: "k"})
	assert.True(t, IsKind(err, KindSourceUnavailable))
}

func TestMarkStoppedReturnsPrevious(t *testing.T) {
	h := &ProcessHandle{sessionKey: "k", done: make(chan struct{})}
	assert.False(t, h.markStopped())
	assert.True(t, h.markStopped())
	assert.True(t, h.isStopped())
}
