package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/drbilel35-sudo/cctv-backend/internal/cache"
	"github.com/drbilel35-sudo/cctv-backend/internal/config"
	"github.com/drbilel35-sudo/cctv-backend/internal/database"
	"github.com/drbilel35-sudo/cctv-backend/internal/logging"
	"github.com/drbilel35-sudo/cctv-backend/internal/middleware"
	"github.com/drbilel35-sudo/cctv-backend/internal/stream"
)

// Server holds the HTTP surface of the stream session manager.
type Server struct {
	manager *stream.Manager
	repo    *database.Repository
	cache   *cache.Cache
	cfg     *config.Config
	logger  *logging.Logger
	limiter *middleware.RateLimiter
}

// NewServer creates the HTTP server wiring.
func NewServer(manager *stream.Manager, repo *database.Repository, statsCache *cache.Cache, cfg *config.Config, logger *logging.Logger) *Server {
	return &Server{
		manager: manager,
		repo:    repo,
		cache:   statsCache,
		cfg:     cfg,
		logger:  logger,
		limiter: middleware.NewRateLimiter(10, 20),
	}
}

// Router builds the gin engine. Routes under /streams share the :id
// parameter name; start interprets it as a camera ID, everything else as
// a session key.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(s.logger))

	router.GET("/health", s.healthCheck)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.OptionalAuth())
	v1.Use(middleware.RateLimit(s.limiter))
	{
		v1.GET("/streams/active", s.listActiveSessions)
		v1.POST("/streams/:id/start", s.startSession)
		v1.POST("/streams/:id/stop", s.stopSession)
		v1.GET("/streams/:id", s.getSessionInfo)
		v1.GET("/streams/:id/stats", s.getSessionStats)
		v1.PUT("/streams/:id/settings", s.updateSettings)
		v1.GET("/streams/:id/health", s.getSessionHealth)
		v1.GET("/streams/:id/viewers", s.listViewers)
		v1.POST("/streams/:id/viewers", s.joinViewer)
		v1.DELETE("/streams/:id/viewers/:viewerId", s.leaveViewer)
	}

	router.GET("/hls/:id/*filepath", s.serveHLS)

	ws := router.Group("/ws")
	{
		ws.GET("/streams/:id/events", s.streamEvents)
		ws.GET("/streams/:id/live", s.streamLive)
	}

	return router
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.repo.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}

	if err := s.cache.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
