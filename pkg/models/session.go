package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// SessionStatus constants
const (
	SessionStatusStarting   = "starting"
	SessionStatusActive     = "active"
	SessionStatusRestarting = "restarting"
	SessionStatusStopping   = "stopping"
	SessionStatusInactive   = "inactive"
	SessionStatusError      = "error"
)

// OutputMode constants
const (
	OutputModeHLS  = "hls"  // segmented playlist, rolling window of .ts segments
	OutputModePush = "push" // continuous MPEG-TS pushed over a persistent connection
)

// Quality profile constants
const (
	QualityLow      = "low"
	QualityMedium   = "medium"
	QualityHigh     = "high"
	QualityOriginal = "original"
)

// SessionSettings holds the per-session streaming configuration.
// Quality and OutputMode are cold settings: changing them requires a
// process restart. MaxViewers and RecordingEnabled apply in place.
type SessionSettings struct {
	Quality          string `json:"quality"`
	OutputMode       string `json:"output_mode"`
	MaxViewers       int    `json:"max_viewers"`
	RecordingEnabled bool   `json:"recording_enabled"`
}

// Value implements driver.Valuer for database storage
func (s SessionSettings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for database retrieval
func (s *SessionSettings) Scan(value interface{}) error {
	if value == nil {
		*s = SessionSettings{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, s)
}

// SessionStats holds aggregate statistics for a session. All counters are
// monotonic except Bandwidth, which is a rolling sample.
type SessionStats struct {
	TotalViewers    int     `json:"total_viewers"`
	PeakViewers     int     `json:"peak_viewers"`
	TotalViewTimeMS int64   `json:"total_view_time_ms"`
	Bandwidth       float64 `json:"bandwidth"` // bits per second, rolling sample
}

// Value implements driver.Valuer for database storage
func (s SessionStats) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for database retrieval
func (s *SessionStats) Scan(value interface{}) error {
	if value == nil {
		*s = SessionStats{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, s)
}

// SessionDescriptor is the durable record of a streaming session.
type SessionDescriptor struct {
	SessionKey string          `json:"session_key" db:"session_key"`
	CameraID   string          `json:"camera_id" db:"camera_id"`
	Status     string          `json:"status" db:"status"`
	Settings   SessionSettings `json:"settings" db:"settings"`
	Stats      SessionStats    `json:"stats" db:"stats"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// SessionInfo is the API view of a running session.
type SessionInfo struct {
	SessionKey     string    `json:"session_key"`
	CameraID       string    `json:"camera_id"`
	Status         string    `json:"status"`
	Quality        string    `json:"quality"`
	OutputMode     string    `json:"output_mode"`
	OutputLocation string    `json:"output_location"`
	CurrentViewers int       `json:"current_viewers"`
	MaxViewers     int       `json:"max_viewers"`
	StartedAt      time.Time `json:"started_at"`
}

// JoinResult is returned when a viewer asks to be admitted to a session.
type JoinResult struct {
	Accepted     bool   `json:"accepted"`
	CurrentCount int    `json:"current_count"`
	SessionKey   string `json:"session_key"`
}

// Viewer is one admitted watcher of a session.
type Viewer struct {
	Identity      string    `json:"identity"`
	OriginAddress string    `json:"origin_address"`
	JoinedAt      time.Time `json:"joined_at"`
}

// SessionHealth is the result of a health probe on a session.
type SessionHealth struct {
	SessionKey string    `json:"session_key"`
	Status     string    `json:"status"`
	Score      int       `json:"score"` // 0-100
	CheckedAt  time.Time `json:"checked_at"`
}

// UpdateSettingsRequest carries a partial settings change. Nil fields are
// left untouched.
type UpdateSettingsRequest struct {
	Quality          *string `json:"quality,omitempty"`
	OutputMode       *string `json:"output_mode,omitempty"`
	MaxViewers       *int    `json:"max_viewers,omitempty"`
	RecordingEnabled *bool   `json:"recording_enabled,omitempty"`
}

// UpdateSettingsResult reports which settings were applied and whether the
// session had to be restarted to apply them.
type UpdateSettingsResult struct {
	Applied   SessionSettings `json:"applied"`
	Restarted bool            `json:"restarted"`
}
