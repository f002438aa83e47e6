package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/drbilel35-sudo/cctv-backend/internal/middleware"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browsers serve the viewer UI from a different origin than the API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEvents streams session lifecycle events to a WebSocket client as
// JSON messages until the session closes or the client disconnects.
func (s *Server) streamEvents(c *gin.Context) {
	sessionKey := c.Param("id")

	if _, err := s.manager.GetInfo(c.Request.Context(), sessionKey); err != nil {
		abortWithError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.manager.Fanout().Subscribe(sessionKey)
	defer cancel()

	go discardReads(conn)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				// Session closed; tell the client before hanging up.
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// streamLive delivers MPEG-TS chunks over a WebSocket for push-transport
// sessions. Connecting counts as a viewer join, disconnecting as a leave,
// so WebSocket viewers occupy admission slots like HLS viewers do.
func (s *Server) streamLive(c *gin.Context) {
	sessionKey := c.Param("id")

	viewerID, _ := middleware.GetViewerID(c)
	if viewerID == "" {
		viewerID = "anon:" + c.ClientIP()
	}

	result, err := s.manager.JoinViewer(c.Request.Context(), sessionKey, viewerID, c.ClientIP())
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !result.Accepted {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "session is full"})
		return
	}

	chunks, detach, ok := s.manager.PushHub().Attach(sessionKey)
	if !ok {
		_ = s.manager.LeaveViewer(c.Request.Context(), sessionKey, viewerID)
		c.JSON(http.StatusBadRequest, gin.H{"error": "session has no push transport, use the HLS endpoint"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		detach()
		_ = s.manager.LeaveViewer(c.Request.Context(), sessionKey, viewerID)
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	defer func() {
		conn.Close()
		detach()
		_ = s.manager.LeaveViewer(c.Request.Context(), sessionKey, viewerID)
	}()

	go discardReads(conn)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// discardReads consumes client frames so pongs are processed and a closed
// connection is noticed.
func discardReads(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
