package main

import (
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

var sessionKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// serveHLS serves manifest and segment files for a session. The session
// key and file path are validated against allow-lists before touching the
// filesystem so a crafted key cannot escape the HLS root.
func (s *Server) serveHLS(c *gin.Context) {
	sessionKey := c.Param("id")
	if !sessionKeyPattern.MatchString(sessionKey) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session key"})
		return
	}

	file := strings.TrimPrefix(c.Param("filepath"), "/")
	if file == "" {
		file = "index.m3u8"
	}

	clean := filepath.Clean(file)
	if clean != file || strings.Contains(clean, "..") || filepath.IsAbs(clean) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file path"})
		return
	}

	switch filepath.Ext(clean) {
	case ".m3u8":
		c.Header("Content-Type", "application/vnd.apple.mpegurl")
	case ".ts":
		c.Header("Content-Type", "video/mp2t")
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}

	// Manifests must not be cached or players never see new segments.
	c.Header("Cache-Control", "no-cache")
	c.Header("Access-Control-Allow-Origin", "*")

	path := filepath.Join(s.cfg.Stream.HLSDir, sessionKey, clean)
	c.File(path)
}
