package stream

import (
	"sync"
	"time"

	"github.com/drbilel35-sudo/cctv-backend/pkg/models"
)

// session is the live, authoritative in-memory state of one stream session.
// The persisted descriptor is only the durable secondary copy.
type session struct {
	mu sync.Mutex

	key      string
	cameraID string
	status   string
	settings models.SessionSettings
	stats    models.SessionStats

	handle         *ProcessHandle
	outputLocation string
	outputDir      string // segment tree on disk, empty for push mode
	outputBytes    int64  // directory size at the last bandwidth sample
	pushOutput     <-chan []byte
	startedAt      time.Time
	crashCount     int
}

func (s *session) getStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *session) info(currentViewers int) models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionInfo{
		SessionKey:     s.key,
		CameraID:       s.cameraID,
		Status:         s.status,
		Quality:        s.settings.Quality,
		OutputMode:     s.settings.OutputMode,
		OutputLocation: s.outputLocation,
		CurrentViewers: currentViewers,
		MaxViewers:     s.settings.MaxViewers,
		StartedAt:      s.startedAt,
	}
}

// Registry is the single shared map of live sessions. It is the source of
// truth for "is a session already running for this camera": the per-camera
// single-active-session invariant is enforced here with an atomic
// check-then-reserve, never as a separate existence check plus write.
type Registry struct {
	mu       sync.RWMutex
	byKey    map[string]*session
	byCamera map[string]string // cameraID -> sessionKey
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey:    make(map[string]*session),
		byCamera: make(map[string]string),
	}
}

// reserve atomically claims the camera slot. When no session exists for the
// camera, a new session in starting state is inserted and returned with
// created=true. When one exists, it is returned with created=false.
func (r *Registry) reserve(cameraID, sessionKey string, settings models.SessionSettings) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existingKey, ok := r.byCamera[cameraID]; ok {
		return r.byKey[existingKey], false
	}

	s := &session{
		key:      sessionKey,
		cameraID: cameraID,
		status:   models.SessionStatusStarting,
		settings: settings,
	}
	r.byKey[sessionKey] = s
	r.byCamera[cameraID] = sessionKey
	return s, true
}

// get returns the session for a key.
func (r *Registry) get(sessionKey string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byKey[sessionKey]
	return s, ok
}

// byCameraID returns the session currently owning a camera, if any.
func (r *Registry) byCameraID(cameraID string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byCamera[cameraID]
	if !ok {
		return nil, false
	}
	s, ok := r.byKey[key]
	return s, ok
}

// remove drops the session and frees its camera slot.
func (r *Registry) remove(sessionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byKey[sessionKey]
	if !ok {
		return
	}
	delete(r.byKey, sessionKey)
	if current, ok := r.byCamera[s.cameraID]; ok && current == sessionKey {
		delete(r.byCamera, s.cameraID)
	}
}

// active returns a snapshot of all registered sessions.
func (r *Registry) active() []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session, 0, len(r.byKey))
	for _, s := range r.byKey {
		out = append(out, s)
	}
	return out
}

// size returns the number of registered sessions.
func (r *Registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}
