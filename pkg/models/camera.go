package models

import (
	"errors"
	"time"
)

// ErrCameraNotFound is returned when a camera ID has no inventory record.
var ErrCameraNotFound = errors.New("camera not found")

// Camera status constants
const (
	CameraStatusOnline      = "online"
	CameraStatusOffline     = "offline"
	CameraStatusMaintenance = "maintenance"
)

// Camera is the inventory record of a source camera. Inventory CRUD lives
// outside this service; the record is read-only here.
type Camera struct {
	ID        string     `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Location  string     `json:"location,omitempty" db:"location"`
	StreamURL string     `json:"stream_url" db:"stream_url"`
	Protocol  string     `json:"protocol" db:"protocol"`
	Username  string     `json:"-" db:"username"`
	Password  string     `json:"-" db:"password"`
	Status    string     `json:"status" db:"status"`
	LastSeen  *time.Time `json:"last_seen,omitempty" db:"last_seen"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// CameraCredentials is the resolved connection info for a camera source.
type CameraCredentials struct {
	URI      string `json:"uri"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}
