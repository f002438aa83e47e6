package stream

import (
	"sync"
	"time"

	"github.com/drbilel35-sudo/cctv-backend/pkg/models"
)

// admittedSet is the viewer set of one session. Admit, Dismiss and Count
// all run under the same mutex so concurrent joins can never overshoot the
// capacity ceiling.
type admittedSet struct {
	mu         sync.Mutex
	maxViewers int
	viewers    map[string]models.Viewer
}

// AdmissionTracker tracks admitted viewers per session and enforces the
// per-session capacity ceiling. Joins are idempotent by viewer identity.
type AdmissionTracker struct {
	mu       sync.RWMutex
	sessions map[string]*admittedSet
}

// NewAdmissionTracker creates an empty tracker.
func NewAdmissionTracker() *AdmissionTracker {
	return &AdmissionTracker{
		sessions: make(map[string]*admittedSet),
	}
}

// Open registers a session with its capacity ceiling.
func (t *AdmissionTracker) Open(sessionKey string, maxViewers int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sessionKey] = &admittedSet{
		maxViewers: maxViewers,
		viewers:    make(map[string]models.Viewer),
	}
}

// SetCapacity changes the ceiling for an open session. Already admitted
// viewers above a lowered ceiling stay admitted; only new joins are blocked.
func (t *AdmissionTracker) SetCapacity(sessionKey string, maxViewers int) {
	t.mu.RLock()
	set, ok := t.sessions[sessionKey]
	t.mu.RUnlock()
	if !ok {
		return
	}
	set.mu.Lock()
	set.maxViewers = maxViewers
	set.mu.Unlock()
}

// Admit adds a viewer to the session set. A duplicate identity returns
// accepted without incrementing the count (newly=false). A full set returns
// CapacityExceeded.
func (t *AdmissionTracker) Admit(sessionKey, viewerIdentity, originAddress string) (models.JoinResult, bool, error) {
	t.mu.RLock()
	set, ok := t.sessions[sessionKey]
	t.mu.RUnlock()
	if !ok {
		return models.JoinResult{}, false, NewError(KindNotFound, "session not registered")
	}

	set.mu.Lock()
	defer set.mu.Unlock()

	if _, exists := set.viewers[viewerIdentity]; exists {
		return models.JoinResult{
			Accepted:     true,
			CurrentCount: len(set.viewers),
			SessionKey:   sessionKey,
		}, false, nil
	}

	if len(set.viewers) >= set.maxViewers {
		return models.JoinResult{
			Accepted:     false,
			CurrentCount: len(set.viewers),
			SessionKey:   sessionKey,
		}, false, NewError(KindCapacityExceeded, "viewer capacity reached")
	}

	set.viewers[viewerIdentity] = models.Viewer{
		Identity:      viewerIdentity,
		OriginAddress: originAddress,
		JoinedAt:      time.Now(),
	}

	return models.JoinResult{
		Accepted:     true,
		CurrentCount: len(set.viewers),
		SessionKey:   sessionKey,
	}, true, nil
}

// Dismiss removes a viewer if present and returns the viewer entry along
// with the remaining count. Dismissing an absent viewer is a no-op.
func (t *AdmissionTracker) Dismiss(sessionKey, viewerIdentity string) (models.Viewer, int, bool) {
	t.mu.RLock()
	set, ok := t.sessions[sessionKey]
	t.mu.RUnlock()
	if !ok {
		return models.Viewer{}, 0, false
	}

	set.mu.Lock()
	defer set.mu.Unlock()

	viewer, exists := set.viewers[viewerIdentity]
	if !exists {
		return models.Viewer{}, len(set.viewers), false
	}
	delete(set.viewers, viewerIdentity)
	return viewer, len(set.viewers), true
}

// Count returns the current admitted size for a session.
func (t *AdmissionTracker) Count(sessionKey string) int {
	t.mu.RLock()
	set, ok := t.sessions[sessionKey]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.viewers)
}

// Viewers returns a snapshot of the admitted set.
func (t *AdmissionTracker) Viewers(sessionKey string) []models.Viewer {
	t.mu.RLock()
	set, ok := t.sessions[sessionKey]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	out := make([]models.Viewer, 0, len(set.viewers))
	for _, v := range set.viewers {
		out = append(out, v)
	}
	return out
}

// Close drops the session's viewer set entirely and returns the viewers
// that were still admitted.
func (t *AdmissionTracker) Close(sessionKey string) []models.Viewer {
	t.mu.Lock()
	set, ok := t.sessions[sessionKey]
	delete(t.sessions, sessionKey)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	out := make([]models.Viewer, 0, len(set.viewers))
	for _, v := range set.viewers {
		out = append(out, v)
	}
	return out
}
