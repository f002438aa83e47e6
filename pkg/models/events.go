package models

import "time"

// SessionEvent kinds
const (
	EventViewerJoined     = "viewer_joined"
	EventViewerLeft       = "viewer_left"
	EventSessionStopped   = "session_stopped"
	EventSessionRestarted = "session_restarted"
	EventSessionCrashed   = "session_crashed"
	EventQualityChanged   = "quality_changed"
)

// SessionEvent is broadcast to all subscribers of a session and bridged to
// the external message queue.
type SessionEvent struct {
	Kind        string    `json:"kind"`
	SessionKey  string    `json:"session_key"`
	ViewerID    string    `json:"viewer_id,omitempty"`
	ViewerCount int       `json:"viewer_count,omitempty"`
	Quality     string    `json:"quality,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
