package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/drbilel35-sudo/cctv-backend/pkg/models"
)

// Repository provides database operations for sessions and cameras. It
// implements the stream package's SessionStore and CameraDirectory
// interfaces.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Health reports whether the backing database is reachable.
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

// Sessions

// UpsertSession writes a session descriptor, inserting or updating by key.
func (r *Repository) UpsertSession(ctx context.Context, desc *models.SessionDescriptor) error {
	query := `
		INSERT INTO sessions (session_key, camera_id, status, settings, stats)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_key) DO UPDATE
		SET status = EXCLUDED.status,
		    settings = EXCLUDED.settings,
		    stats = EXCLUDED.stats,
		    updated_at = now()
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		desc.SessionKey, desc.CameraID, desc.Status, desc.Settings, desc.Stats,
	).Scan(&desc.CreatedAt, &desc.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	return nil
}

// LoadSession retrieves a session by key. Returns (nil, nil) when absent.
func (r *Repository) LoadSession(ctx context.Context, sessionKey string) (*models.SessionDescriptor, error) {
	query := `
		SELECT session_key, camera_id, status, settings, stats, created_at, updated_at
		FROM sessions
		WHERE session_key = $1
	`

	var desc models.SessionDescriptor
	err := r.db.Pool.QueryRow(ctx, query, sessionKey).Scan(
		&desc.SessionKey, &desc.CameraID, &desc.Status, &desc.Settings,
		&desc.Stats, &desc.CreatedAt, &desc.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	return &desc, nil
}

// LoadSessionByCamera retrieves the session record owned by a camera.
// Returns (nil, nil) when the camera has never streamed.
func (r *Repository) LoadSessionByCamera(ctx context.Context, cameraID string) (*models.SessionDescriptor, error) {
	query := `
		SELECT session_key, camera_id, status, settings, stats, created_at, updated_at
		FROM sessions
		WHERE camera_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var desc models.SessionDescriptor
	err := r.db.Pool.QueryRow(ctx, query, cameraID).Scan(
		&desc.SessionKey, &desc.CameraID, &desc.Status, &desc.Settings,
		&desc.Stats, &desc.CreatedAt, &desc.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session by camera: %w", err)
	}

	return &desc, nil
}

// DeleteSession removes a session record.
func (r *Repository) DeleteSession(ctx context.Context, sessionKey string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE session_key = $1`, sessionKey)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Cameras

// GetCamera retrieves a camera inventory record.
func (r *Repository) GetCamera(ctx context.Context, cameraID string) (*models.Camera, error) {
	query := `
		SELECT id, name, location, stream_url, protocol, username, password,
		       status, last_seen, created_at, updated_at
		FROM cameras
		WHERE id = $1
	`

	var cam models.Camera
	err := r.db.Pool.QueryRow(ctx, query, cameraID).Scan(
		&cam.ID, &cam.Name, &cam.Location, &cam.StreamURL, &cam.Protocol,
		&cam.Username, &cam.Password, &cam.Status, &cam.LastSeen,
		&cam.CreatedAt, &cam.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrCameraNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}

	return &cam, nil
}

// IsOnline reports whether a camera is currently reachable.
func (r *Repository) IsOnline(ctx context.Context, cameraID string) (bool, error) {
	cam, err := r.GetCamera(ctx, cameraID)
	if err != nil {
		return false, err
	}
	return cam.Status == models.CameraStatusOnline, nil
}

// Credentials resolves the camera's source URI and access credentials.
func (r *Repository) Credentials(ctx context.Context, cameraID string) (*models.CameraCredentials, error) {
	cam, err := r.GetCamera(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	return &models.CameraCredentials{
		URI:      cam.StreamURL,
		Username: cam.Username,
		Password: cam.Password,
	}, nil
}
