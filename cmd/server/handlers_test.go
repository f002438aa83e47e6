package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drbilel35-sudo/cctv-backend/internal/config"
	"github.com/drbilel35-sudo/cctv-backend/internal/stream"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{stream.NewError(stream.KindNotFound, "no session"), http.StatusNotFound},
		{stream.NewError(stream.KindSourceUnavailable, "camera offline"), http.StatusBadRequest},
		{stream.NewError(stream.KindSessionNotActive, "not active"), http.StatusBadRequest},
		{stream.NewError(stream.KindCapacityExceeded, "full"), http.StatusTooManyRequests},
		{stream.NewError(stream.KindSessionRestarting, "restarting"), http.StatusConflict},
		{stream.NewError(stream.KindAlreadyActive, "already active"), http.StatusConflict},
		{stream.NewError(stream.KindStartTimeout, "timed out"), http.StatusGatewayTimeout},
		{stream.NewError(stream.KindStartFailed, "spawn failed"), http.StatusBadGateway},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, httpStatus(tc.err), tc.err.Error())
	}
}

func TestAbortWithErrorMarksRetryable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	abortWithError(c, stream.NewError(stream.KindSessionRestarting, "session is restarting"))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"retryable":true`)
	assert.Contains(t, w.Body.String(), "session_restarting")
}

func setupHLSServer(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	hlsDir := t.TempDir()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	srv := &Server{cfg: &config.Config{Stream: config.StreamConfig{HLSDir: hlsDir}}}
	router.GET("/hls/:id/*filepath", srv.serveHLS)
	return router, hlsDir
}

func TestServeHLSManifest(t *testing.T) {
	router, hlsDir := setupHLSServer(t)

	sessionDir := filepath.Join(hlsDir, "stream_cam1_1_abcd1234")
	require.NoError(t, os.MkdirAll(sessionDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sessionDir, "index.m3u8"), []byte("#EXTM3U\n"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/hls/stream_cam1_1_abcd1234/index.m3u8", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Body.String(), "#EXTM3U")
}

func TestServeHLSSegment(t *testing.T) {
	router, hlsDir := setupHLSServer(t)

	sessionDir := filepath.Join(hlsDir, "key1")
	require.NoError(t, os.MkdirAll(sessionDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sessionDir, "segment_001.ts"), []byte("ts"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/hls/key1/segment_001.ts", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video/mp2t", w.Header().Get("Content-Type"))
}

func TestServeHLSRejectsBadSessionKey(t *testing.T) {
	router, _ := setupHLSServer(t)

	req := httptest.NewRequest(http.MethodGet, "/hls/bad!key/index.m3u8", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeHLSRejectsTraversal(t *testing.T) {
	router, hlsDir := setupHLSServer(t)

	// A file outside the HLS root must stay unreachable.
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(hlsDir), "secret.m3u8"), []byte("x"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/hls/key1/..%2F..%2Fsecret.m3u8", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeHLSRejectsUnknownExtension(t *testing.T) {
	router, hlsDir := setupHLSServer(t)

	sessionDir := filepath.Join(hlsDir, "key1")
	require.NoError(t, os.MkdirAll(sessionDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sessionDir, "notes.txt"), []byte("x"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/hls/key1/notes.txt", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeHLSMissingFile(t *testing.T) {
	router, _ := setupHLSServer(t)

	req := httptest.NewRequest(http.MethodGet, "/hls/key1/index.m3u8", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
