package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/drbilel35-sudo/cctv-backend/internal/middleware"
	"github.com/drbilel35-sudo/cctv-backend/internal/stream"
	"github.com/drbilel35-sudo/cctv-backend/internal/tracing"
	"github.com/drbilel35-sudo/cctv-backend/pkg/models"
)

// httpStatus maps a stream error to an HTTP status code.
func httpStatus(err error) int {
	switch stream.Kind(err) {
	case stream.KindNotFound:
		return http.StatusNotFound
	case stream.KindSourceUnavailable, stream.KindSessionNotActive:
		return http.StatusBadRequest
	case stream.KindCapacityExceeded:
		return http.StatusTooManyRequests
	case stream.KindSessionRestarting, stream.KindAlreadyActive:
		return http.StatusConflict
	case stream.KindStartTimeout:
		return http.StatusGatewayTimeout
	case stream.KindStartFailed, stream.KindCrashDetected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	if kind := stream.Kind(err); kind != "" {
		body["kind"] = string(kind)
	}
	if stream.IsRetryable(err) {
		body["retryable"] = true
	}
	c.JSON(httpStatus(err), body)
}

type startRequest struct {
	Quality          string `json:"quality"`
	OutputMode       string `json:"output_mode"`
	MaxViewers       int    `json:"max_viewers"`
	RecordingEnabled bool   `json:"recording_enabled"`
}

// startSession starts (or returns) the live session for a camera.
func (s *Server) startSession(c *gin.Context) {
	cameraID := c.Param("id")

	var req startRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	requestedBy, _ := middleware.GetViewerID(c)

	span, ctx := tracing.StartSpan(c.Request.Context(), "session.start")
	defer tracing.FinishSpan(span)
	tracing.TagSession(span, "", cameraID)

	info, err := s.manager.Start(ctx, cameraID, requestedBy, stream.StartOptions{
		Quality:          req.Quality,
		OutputMode:       req.OutputMode,
		MaxViewers:       req.MaxViewers,
		RecordingEnabled: req.RecordingEnabled,
	})
	if err != nil {
		tracing.LogError(span, err)
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

// stopSession stops a session. Stopping an already stopped session
// succeeds.
func (s *Server) stopSession(c *gin.Context) {
	sessionKey := c.Param("id")
	requestedBy, _ := middleware.GetViewerID(c)

	span, ctx := tracing.StartSpan(c.Request.Context(), "session.stop")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "session_key", sessionKey)

	if err := s.manager.Stop(ctx, sessionKey, requestedBy); err != nil {
		tracing.LogError(span, err)
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_key": sessionKey, "status": models.SessionStatusInactive})
}

func (s *Server) getSessionInfo(c *gin.Context) {
	info, err := s.manager.GetInfo(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) listActiveSessions(c *gin.Context) {
	sessions := s.manager.ActiveSessions()
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) getSessionStats(c *gin.Context) {
	sessionKey := c.Param("id")

	stats, currentViewers, err := s.manager.Stats(c.Request.Context(), sessionKey)
	if err != nil {
		abortWithError(c, err)
		return
	}

	bandwidth, _ := s.cache.GetBandwidth(c.Request.Context(), sessionKey)

	c.JSON(http.StatusOK, gin.H{
		"session_key":     sessionKey,
		"current_viewers": currentViewers,
		"stats":           stats,
		"bandwidth_bps":   bandwidth,
	})
}

func (s *Server) updateSettings(c *gin.Context) {
	sessionKey := c.Param("id")

	var req models.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span, ctx := tracing.StartSpan(c.Request.Context(), "session.update_settings")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "session_key", sessionKey)

	result, err := s.manager.UpdateSettings(ctx, sessionKey, req)
	if err != nil {
		tracing.LogError(span, err)
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) getSessionHealth(c *gin.Context) {
	health, err := s.manager.Health(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, health)
}

// listViewers returns the admitted viewer list for a live session.
func (s *Server) listViewers(c *gin.Context) {
	sessionKey := c.Param("id")

	if _, err := s.manager.GetInfo(c.Request.Context(), sessionKey); err != nil {
		abortWithError(c, err)
		return
	}

	viewers := s.manager.Viewers(sessionKey)
	c.JSON(http.StatusOK, gin.H{
		"session_key": sessionKey,
		"viewers":     viewers,
		"count":       len(viewers),
	})
}

type joinRequest struct {
	ViewerID string `json:"viewer_id"`
}

// joinViewer admits a viewer. The identity comes from the auth context
// unless the body overrides it (internal callers joining on behalf of a
// device).
func (s *Server) joinViewer(c *gin.Context) {
	sessionKey := c.Param("id")

	var req joinRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	viewerID := req.ViewerID
	if viewerID == "" {
		viewerID, _ = middleware.GetViewerID(c)
	}

	result, err := s.manager.JoinViewer(c.Request.Context(), sessionKey, viewerID, c.ClientIP())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// leaveViewer removes a viewer. Leaving twice is a no-op.
func (s *Server) leaveViewer(c *gin.Context) {
	sessionKey := c.Param("id")
	viewerID := c.Param("viewerId")

	if err := s.manager.LeaveViewer(c.Request.Context(), sessionKey, viewerID); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_key": sessionKey, "viewer_id": viewerID})
}
