package stream

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drbilel35-sudo/cctv-backend/internal/logging"
	"github.com/drbilel35-sudo/cctv-backend/internal/metrics"
	"github.com/drbilel35-sudo/cctv-backend/pkg/models"
)

// SessionStore is the Persistence Gateway: the durable secondary copy of
// session state. It is never consulted to decide whether a process is alive.
type SessionStore interface {
	UpsertSession(ctx context.Context, desc *models.SessionDescriptor) error
	LoadSession(ctx context.Context, sessionKey string) (*models.SessionDescriptor, error)
	LoadSessionByCamera(ctx context.Context, cameraID string) (*models.SessionDescriptor, error)
	DeleteSession(ctx context.Context, sessionKey string) error
}

// CameraDirectory resolves camera state and credentials. Inventory CRUD
// lives in another service.
type CameraDirectory interface {
	IsOnline(ctx context.Context, cameraID string) (bool, error)
	Credentials(ctx context.Context, cameraID string) (*models.CameraCredentials, error)
}

// EventBridge forwards session events to an external broker. Publishing is
// best-effort; a broker outage never blocks session operations.
type EventBridge interface {
	PublishEvent(ctx context.Context, event models.SessionEvent) error
}

// StatsCache mirrors statistics and health snapshots into a fast store.
type StatsCache interface {
	RecordStats(ctx context.Context, sessionKey string, stats models.SessionStats) error
	RecordBandwidth(ctx context.Context, sessionKey string, bitsPerSecond float64) error
	SetHealth(ctx context.Context, health models.SessionHealth) error
	GetHealth(ctx context.Context, sessionKey string) (*models.SessionHealth, error)
}

// Recorder captures a session's source to durable storage when recording
// is enabled.
type Recorder interface {
	Start(ctx context.Context, sessionKey, sourceURI string) error
	Stop(sessionKey string)
}

// ManagerConfig holds session manager tunables.
type ManagerConfig struct {
	DefaultQuality    string
	DefaultOutputMode string
	DefaultMaxViewers int
	SegmentDuration   int
	PlaylistLength    int
	// FallbackToHLS retries a failed push-transport start once in HLS
	// mode before surfacing the failure.
	FallbackToHLS bool
	// BandwidthSampleInterval is how often output bytes are sampled into
	// the rolling bandwidth estimate.
	BandwidthSampleInterval time.Duration
}

// StartOptions are the caller-supplied session settings. Zero values fall
// back to the configured defaults.
type StartOptions struct {
	Quality          string
	OutputMode       string
	MaxViewers       int
	RecordingEnabled bool
}

// Manager owns the mapping from session keys to transcoding processes,
// admitted viewers, lifecycle state and event fan-out. All session state
// transitions go through it.
type Manager struct {
	cfg      ManagerConfig
	adapter  ProcessAdapter
	store    SessionStore
	cameras  CameraDirectory
	registry *Registry
	tracker  *AdmissionTracker
	fanout   *FanoutHub
	pushHub  *PushHub
	bridge   EventBridge
	stats    StatsCache
	recorder Recorder
	logger   *logging.Logger
}

// NewManager wires the session manager. bridge, stats and recorder are
// optional and may be nil.
func NewManager(cfg ManagerConfig, adapter ProcessAdapter, store SessionStore, cameras CameraDirectory, logger *logging.Logger) *Manager {
	if cfg.DefaultQuality == "" {
		cfg.DefaultQuality = models.QualityMedium
	}
	if cfg.DefaultOutputMode == "" {
		cfg.DefaultOutputMode = models.OutputModeHLS
	}
	if cfg.DefaultMaxViewers == 0 {
		cfg.DefaultMaxViewers = 10
	}
	if cfg.BandwidthSampleInterval == 0 {
		cfg.BandwidthSampleInterval = 5 * time.Second
	}

	return &Manager{
		cfg:      cfg,
		adapter:  adapter,
		store:    store,
		cameras:  cameras,
		registry: NewRegistry(),
		tracker:  NewAdmissionTracker(),
		fanout:   NewFanoutHub(),
		pushHub:  NewPushHub(),
		logger:   logger,
	}
}

// SetEventBridge attaches an external event sink.
func (m *Manager) SetEventBridge(bridge EventBridge) { m.bridge = bridge }

// SetStatsCache attaches a statistics cache.
func (m *Manager) SetStatsCache(stats StatsCache) { m.stats = stats }

// SetRecorder attaches a recorder for sessions with recording enabled.
func (m *Manager) SetRecorder(recorder Recorder) { m.recorder = recorder }

// Fanout exposes the event fan-out hub for subscription transports.
func (m *Manager) Fanout() *FanoutHub { return m.fanout }

// PushHub exposes the push-transport chunk hub.
func (m *Manager) PushHub() *PushHub { return m.pushHub }

// Run consumes adapter lifecycle events and drives the periodic bandwidth
// sampler until ctx is cancelled. It must be running for crash detection to
// work.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.BandwidthSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.adapter.Events():
			if !ok {
				return
			}
			m.handleProcessEvent(ctx, ev)
		case <-ticker.C:
			m.sampleBandwidth(ctx)
		}
	}
}

// Start begins a streaming session for a camera. When a session is already
// starting or active for the camera, the existing session's info is
// returned instead of an error.
func (m *Manager) Start(ctx context.Context, cameraID, requestedBy string, opts StartOptions) (*models.SessionInfo, error) {
	log := m.logger.WithCameraID(cameraID)

	if !m.adapter.Available() {
		return nil, NewError(KindSourceUnavailable, "streaming is disabled: transcoding engine unavailable")
	}

	settings, err := m.resolveSettings(opts)
	if err != nil {
		return nil, err
	}

	// Fast path: camera already owned by a live session.
	if existing, ok := m.registry.byCameraID(cameraID); ok {
		log.Infof("start requested by %s but session %s already exists", requestedBy, existing.key)
		info := existing.info(m.tracker.Count(existing.key))
		return &info, nil
	}

	online, err := m.cameras.IsOnline(ctx, cameraID)
	if err != nil {
		if errors.Is(err, models.ErrCameraNotFound) {
			return nil, WrapError(KindNotFound, "camera not found", err)
		}
		return nil, WrapError(KindSourceUnavailable, "camera state unavailable", err)
	}
	if !online {
		return nil, NewError(KindSourceUnavailable, "camera is offline")
	}

	sessionKey, err := m.resolveSessionKey(ctx, cameraID)
	if err != nil {
		return nil, err
	}

	// Atomic check-then-reserve: under concurrent starts exactly one
	// caller creates the session, the rest observe it.
	sess, created := m.registry.reserve(cameraID, sessionKey, settings)
	if !created {
		info := sess.info(m.tracker.Count(sess.key))
		return &info, nil
	}

	if err := m.persist(ctx, sess); err != nil {
		m.registry.remove(sessionKey)
		return nil, WrapError(KindStartFailed, "failed to persist session", err)
	}

	m.tracker.Open(sessionKey, settings.MaxViewers)

	sourceURI, err := m.resolveSourceURI(ctx, cameraID)
	if err != nil {
		m.abortStart(ctx, sess)
		return nil, err
	}

	launchStart := time.Now()
	result, err := m.launchWithFallback(ctx, sess, sourceURI, settings)
	if err != nil {
		m.abortStart(ctx, sess)
		metrics.SessionStartFailuresTotal.WithLabelValues(string(kindOrStartFailed(err))).Inc()
		return nil, err
	}
	metrics.SessionStartDuration.Observe(time.Since(launchStart).Seconds())

	sess.mu.Lock()
	if sess.status != models.SessionStatusStarting {
		// A stop or crash won the race during the launch window. The fresh
		// process must not outlive the session it was launched for.
		sess.mu.Unlock()
		if tErr := m.adapter.Terminate(ctx, result.Handle); tErr != nil {
			log.WithSessionKey(sessionKey).WithError(tErr).Warn("failed to terminate superseded launch")
		}
		return nil, NewError(KindSessionNotActive, "session was stopped while starting")
	}
	sess.handle = result.Handle
	sess.outputLocation = result.OutputLocation
	sess.outputDir = result.OutputDir
	sess.pushOutput = result.Output
	sess.startedAt = time.Now()
	sess.status = models.SessionStatusActive
	settings = sess.settings // launchWithFallback may have switched the mode
	sess.mu.Unlock()

	if result.Output != nil {
		m.pushHub.Open(sessionKey, result.Output)
	}

	if err := m.persist(ctx, sess); err != nil {
		log.WithError(err).Error("failed to persist active session")
	}

	if settings.RecordingEnabled && m.recorder != nil {
		if err := m.recorder.Start(ctx, sessionKey, sourceURI); err != nil {
			log.WithError(err).Warn("failed to start recording")
		}
	}

	metrics.SessionsActive.Set(float64(m.registry.size()))
	metrics.SessionStartsTotal.WithLabelValues(settings.OutputMode, settings.Quality).Inc()
	log.WithSessionKey(sessionKey).Infof("session started by %s, mode=%s quality=%s", requestedBy, settings.OutputMode, settings.Quality)

	info := sess.info(0)
	return &info, nil
}

// Stop terminates a session. Stopping a session that is already inactive
// is a no-op success; an unknown key is NotFound. Registry and persistence
// are always cleaned up, even when the adapter fails.
func (m *Manager) Stop(ctx context.Context, sessionKey, requestedBy string) error {
	sess, ok := m.registry.get(sessionKey)
	if !ok {
		return m.stopAbsent(ctx, sessionKey)
	}

	sess.mu.Lock()
	if sess.status == models.SessionStatusStopping {
		sess.mu.Unlock()
		return nil
	}
	sess.status = models.SessionStatusStopping
	handle := sess.handle
	sess.handle = nil
	sess.mu.Unlock()

	if handle != nil {
		if err := m.adapter.Terminate(ctx, handle); err != nil {
			m.logger.WithSessionKey(sessionKey).WithError(err).Warn("adapter terminate failed, cleaning up anyway")
		}
	}

	m.finishSession(ctx, sess, models.SessionStatusInactive)
	m.publish(ctx, sessionKey, models.SessionEvent{
		Kind:       models.EventSessionStopped,
		SessionKey: sessionKey,
		Timestamp:  time.Now(),
	})
	m.fanout.CloseSession(sessionKey)

	m.logger.WithSessionKey(sessionKey).Infof("session stopped by %s", requestedBy)
	return nil
}

// stopAbsent handles a stop for a key with no live registry entry: unknown
// keys are NotFound, already-inactive records are a no-op, and stale
// "active" records are reconciled to inactive.
func (m *Manager) stopAbsent(ctx context.Context, sessionKey string) error {
	desc, err := m.store.LoadSession(ctx, sessionKey)
	if err != nil {
		return WrapError(KindNotFound, "session lookup failed", err)
	}
	if desc == nil {
		return NewError(KindNotFound, "no session with this key")
	}

	switch desc.Status {
	case models.SessionStatusInactive, models.SessionStatusError:
		return nil
	default:
		// Stale record: persisted as live but no registry entry.
		desc.Status = models.SessionStatusInactive
		if err := m.store.UpsertSession(ctx, desc); err != nil {
			return WrapError(KindStartFailed, "failed to reconcile stale session", err)
		}
		m.logger.WithSessionKey(sessionKey).Warn("reconciled stale persisted session to inactive")
		return nil
	}
}

// UpdateSettings applies a partial settings change. Hot settings apply in
// place; cold settings on an active session trigger a stop-then-start
// under the same session key.
func (m *Manager) UpdateSettings(ctx context.Context, sessionKey string, req models.UpdateSettingsRequest) (*models.UpdateSettingsResult, error) {
	if req.Quality != nil && !ValidQuality(*req.Quality) {
		return nil, NewError(KindStartFailed, fmt.Sprintf("unknown quality profile %q", *req.Quality))
	}
	if req.OutputMode != nil && !ValidOutputMode(*req.OutputMode) {
		return nil, NewError(KindStartFailed, fmt.Sprintf("unknown output mode %q", *req.OutputMode))
	}

	sess, ok := m.registry.get(sessionKey)
	if !ok {
		return m.updateSettingsInactive(ctx, sessionKey, req)
	}

	sess.mu.Lock()
	if sess.status != models.SessionStatusActive {
		status := sess.status
		sess.mu.Unlock()
		if status == models.SessionStatusRestarting {
			return nil, NewError(KindSessionRestarting, "session is restarting, retry shortly")
		}
		return nil, NewError(KindSessionNotActive, "session is not active")
	}

	merged := sess.settings
	applyChanges(&merged, req)
	cold := merged.Quality != sess.settings.Quality || merged.OutputMode != sess.settings.OutputMode

	if !cold {
		sess.settings = merged
		sess.mu.Unlock()
		m.tracker.SetCapacity(sessionKey, merged.MaxViewers)
		if err := m.persist(ctx, sess); err != nil {
			m.logger.WithSessionKey(sessionKey).WithError(err).Warn("failed to persist settings change")
		}
		m.toggleRecording(ctx, sess, merged.RecordingEnabled)
		return &models.UpdateSettingsResult{Applied: merged, Restarted: false}, nil
	}

	// Cold path: joins arriving during the window fail retryable.
	qualityChanged := merged.Quality != sess.settings.Quality
	sess.status = models.SessionStatusRestarting
	sess.settings = merged
	oldHandle := sess.handle
	sess.handle = nil
	cameraID := sess.cameraID
	sess.mu.Unlock()

	m.tracker.SetCapacity(sessionKey, merged.MaxViewers)
	if err := m.persist(ctx, sess); err != nil {
		m.logger.WithSessionKey(sessionKey).WithError(err).Warn("failed to persist restarting state")
	}

	if oldHandle != nil {
		if err := m.adapter.Terminate(ctx, oldHandle); err != nil {
			m.logger.WithSessionKey(sessionKey).WithError(err).Warn("terminate during restart failed")
		}
	}
	m.pushHub.Close(sessionKey)

	sourceURI, err := m.resolveSourceURI(ctx, cameraID)
	if err == nil {
		var result *LaunchResult
		result, err = m.launchWithFallback(ctx, sess, sourceURI, merged)
		if err == nil {
			sess.mu.Lock()
			if sess.status != models.SessionStatusRestarting {
				// A stop landed during the relaunch window; the replacement
				// process belongs to a session that no longer exists.
				sess.mu.Unlock()
				if tErr := m.adapter.Terminate(ctx, result.Handle); tErr != nil {
					m.logger.WithSessionKey(sessionKey).WithError(tErr).Warn("failed to terminate superseded relaunch")
				}
				return nil, NewError(KindSessionNotActive, "session was stopped during restart")
			}
			sess.handle = result.Handle
			sess.outputLocation = result.OutputLocation
			sess.outputDir = result.OutputDir
			sess.pushOutput = result.Output
			sess.startedAt = time.Now()
			sess.status = models.SessionStatusActive
			merged = sess.settings
			sess.mu.Unlock()

			if result.Output != nil {
				m.pushHub.Open(sessionKey, result.Output)
			}
		}
	}
	if err != nil {
		m.logger.WithSessionKey(sessionKey).WithError(err).Error("restart failed")
		m.finishSession(ctx, sess, models.SessionStatusError)
		m.fanout.CloseSession(sessionKey)
		return nil, WrapError(KindStartFailed, "session restart failed", err)
	}

	if err := m.persist(ctx, sess); err != nil {
		m.logger.WithSessionKey(sessionKey).WithError(err).Warn("failed to persist restarted session")
	}
	m.toggleRecording(ctx, sess, merged.RecordingEnabled)

	if qualityChanged {
		m.publish(ctx, sessionKey, models.SessionEvent{
			Kind:       models.EventQualityChanged,
			SessionKey: sessionKey,
			Quality:    merged.Quality,
			Timestamp:  time.Now(),
		})
	}
	m.publish(ctx, sessionKey, models.SessionEvent{
		Kind:       models.EventSessionRestarted,
		SessionKey: sessionKey,
		Quality:    merged.Quality,
		Timestamp:  time.Now(),
	})
	metrics.SessionRestartsTotal.Inc()

	return &models.UpdateSettingsResult{Applied: merged, Restarted: true}, nil
}

// updateSettingsInactive merges settings into the persisted record only.
func (m *Manager) updateSettingsInactive(ctx context.Context, sessionKey string, req models.UpdateSettingsRequest) (*models.UpdateSettingsResult, error) {
	desc, err := m.store.LoadSession(ctx, sessionKey)
	if err != nil {
		return nil, WrapError(KindNotFound, "session lookup failed", err)
	}
	if desc == nil {
		return nil, NewError(KindNotFound, "no session with this key")
	}

	applyChanges(&desc.Settings, req)
	if err := m.store.UpsertSession(ctx, desc); err != nil {
		return nil, WrapError(KindStartFailed, "failed to persist settings", err)
	}
	return &models.UpdateSettingsResult{Applied: desc.Settings, Restarted: false}, nil
}

// GetInfo returns a non-blocking snapshot of a session. Stale persisted
// records (live status, no registry entry) are presented as inactive; the
// durable correction happens on the next mutating access.
func (m *Manager) GetInfo(ctx context.Context, sessionKey string) (*models.SessionInfo, error) {
	if sess, ok := m.registry.get(sessionKey); ok {
		info := sess.info(m.tracker.Count(sessionKey))
		return &info, nil
	}

	desc, err := m.store.LoadSession(ctx, sessionKey)
	if err != nil {
		return nil, WrapError(KindNotFound, "session lookup failed", err)
	}
	if desc == nil {
		return nil, NewError(KindNotFound, "no session with this key")
	}

	status := desc.Status
	switch status {
	case models.SessionStatusStarting, models.SessionStatusActive, models.SessionStatusRestarting:
		status = models.SessionStatusInactive
	}

	return &models.SessionInfo{
		SessionKey: desc.SessionKey,
		CameraID:   desc.CameraID,
		Status:     status,
		Quality:    desc.Settings.Quality,
		OutputMode: desc.Settings.OutputMode,
		MaxViewers: desc.Settings.MaxViewers,
	}, nil
}

// ActiveSessions returns snapshots of all live sessions.
func (m *Manager) ActiveSessions() []models.SessionInfo {
	sessions := m.registry.active()
	out := make([]models.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.info(m.tracker.Count(sess.key)))
	}
	return out
}

// Stats returns the aggregate statistics for a session, live or persisted.
func (m *Manager) Stats(ctx context.Context, sessionKey string) (*models.SessionStats, int, error) {
	if sess, ok := m.registry.get(sessionKey); ok {
		sess.mu.Lock()
		stats := sess.stats
		sess.mu.Unlock()
		return &stats, m.tracker.Count(sessionKey), nil
	}

	desc, err := m.store.LoadSession(ctx, sessionKey)
	if err != nil {
		return nil, 0, WrapError(KindNotFound, "session lookup failed", err)
	}
	if desc == nil {
		return nil, 0, NewError(KindNotFound, "no session with this key")
	}
	return &desc.Stats, 0, nil
}

// Viewers returns a snapshot of the admitted viewer list for a session.
func (m *Manager) Viewers(sessionKey string) []models.Viewer {
	return m.tracker.Viewers(sessionKey)
}

// JoinViewer admits a viewer to an active session.
func (m *Manager) JoinViewer(ctx context.Context, sessionKey, viewerIdentity, originAddress string) (*models.JoinResult, error) {
	sess, ok := m.registry.get(sessionKey)
	if !ok {
		return nil, NewError(KindNotFound, "no session with this key")
	}

	switch sess.getStatus() {
	case models.SessionStatusActive:
	case models.SessionStatusRestarting:
		metrics.ViewerRejectionsTotal.WithLabelValues("restarting").Inc()
		return nil, NewError(KindSessionRestarting, "session is restarting, retry shortly")
	default:
		metrics.ViewerRejectionsTotal.WithLabelValues("not_active").Inc()
		return nil, NewError(KindSessionNotActive, "session is not active")
	}

	result, newly, err := m.tracker.Admit(sessionKey, viewerIdentity, originAddress)
	if err != nil {
		if IsKind(err, KindCapacityExceeded) {
			metrics.ViewerRejectionsTotal.WithLabelValues("capacity").Inc()
		}
		return nil, err
	}

	if newly {
		sess.mu.Lock()
		sess.stats.TotalViewers++
		if result.CurrentCount > sess.stats.PeakViewers {
			sess.stats.PeakViewers = result.CurrentCount
		}
		stats := sess.stats
		sess.mu.Unlock()

		m.recordStats(ctx, sessionKey, stats)
		metrics.ViewerJoinsTotal.Inc()
		metrics.ViewersCurrent.Inc()

		m.publish(ctx, sessionKey, models.SessionEvent{
			Kind:        models.EventViewerJoined,
			SessionKey:  sessionKey,
			ViewerID:    viewerIdentity,
			ViewerCount: result.CurrentCount,
			Timestamp:   time.Now(),
		})
	}

	return &result, nil
}

// LeaveViewer removes a viewer. Leaving a session the viewer never joined
// is a no-op.
func (m *Manager) LeaveViewer(ctx context.Context, sessionKey, viewerIdentity string) error {
	viewer, remaining, removed := m.tracker.Dismiss(sessionKey, viewerIdentity)
	if !removed {
		return nil
	}

	if sess, ok := m.registry.get(sessionKey); ok {
		sess.mu.Lock()
		sess.stats.TotalViewTimeMS += time.Since(viewer.JoinedAt).Milliseconds()
		stats := sess.stats
		sess.mu.Unlock()
		m.recordStats(ctx, sessionKey, stats)
	}

	metrics.ViewersCurrent.Dec()
	m.publish(ctx, sessionKey, models.SessionEvent{
		Kind:        models.EventViewerLeft,
		SessionKey:  sessionKey,
		ViewerID:    viewerIdentity,
		ViewerCount: remaining,
		Timestamp:   time.Now(),
	})
	return nil
}

// Health scores a session 0-100 from its lifecycle state, crash history
// and viewer load.
func (m *Manager) Health(ctx context.Context, sessionKey string) (*models.SessionHealth, error) {
	if m.stats != nil {
		if cached, err := m.stats.GetHealth(ctx, sessionKey); err == nil && cached != nil {
			return cached, nil
		}
	}

	sess, ok := m.registry.get(sessionKey)
	if !ok {
		info, err := m.GetInfo(ctx, sessionKey)
		if err != nil {
			return nil, err
		}
		health := &models.SessionHealth{
			SessionKey: sessionKey,
			Status:     info.Status,
			Score:      0,
			CheckedAt:  time.Now(),
		}
		return health, nil
	}

	sess.mu.Lock()
	status := sess.status
	crashes := sess.crashCount
	maxViewers := sess.settings.MaxViewers
	sess.mu.Unlock()

	score := 0
	switch status {
	case models.SessionStatusActive:
		score = 100 - 15*crashes
		if maxViewers > 0 {
			load := m.tracker.Count(sessionKey) * 20 / maxViewers
			score -= load
		}
	case models.SessionStatusStarting, models.SessionStatusRestarting:
		score = 50
	case models.SessionStatusStopping:
		score = 25
	}
	if score < 0 {
		score = 0
	}

	health := &models.SessionHealth{
		SessionKey: sessionKey,
		Status:     status,
		Score:      score,
		CheckedAt:  time.Now(),
	}

	if m.stats != nil {
		if err := m.stats.SetHealth(ctx, *health); err != nil {
			m.logger.WithSessionKey(sessionKey).WithError(err).Debug("failed to cache health")
		}
	}

	return health, nil
}

// Shutdown stops every live session. Used on service shutdown.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, sess := range m.registry.active() {
		if err := m.Stop(ctx, sess.key, "shutdown"); err != nil {
			m.logger.WithSessionKey(sess.key).WithError(err).Warn("failed to stop session during shutdown")
		}
	}
}

// handleProcessEvent reacts to unexpected process exits: the session is
// forced to error state, removed from the registry, and a crash event is
// published exactly once. Crashed sessions are never auto-restarted.
func (m *Manager) handleProcessEvent(ctx context.Context, ev ProcessEvent) {
	sess, ok := m.registry.get(ev.SessionKey)
	if !ok {
		return
	}

	sess.mu.Lock()
	switch sess.status {
	case models.SessionStatusStopping, models.SessionStatusInactive:
		sess.mu.Unlock()
		return
	}
	sess.status = models.SessionStatusError
	sess.crashCount++
	sess.handle = nil
	sess.mu.Unlock()

	log := m.logger.WithSessionKey(ev.SessionKey)
	if ev.Kind == ProcessEventErrored {
		log.WithError(ev.Err).Error("transcoding process errored")
	} else {
		log.Errorf("transcoding process exited unexpectedly, code=%d", ev.ExitCode)
	}

	m.finishSession(ctx, sess, models.SessionStatusError)
	metrics.SessionCrashesTotal.Inc()

	m.publish(ctx, ev.SessionKey, models.SessionEvent{
		Kind:       models.EventSessionCrashed,
		SessionKey: ev.SessionKey,
		Message:    fmt.Sprintf("transcoding process exited with code %d", ev.ExitCode),
		Timestamp:  time.Now(),
	})
	m.fanout.CloseSession(ev.SessionKey)
}

// finishSession removes the session from the registry, folds remaining
// viewer time into the statistics and persists the final state.
func (m *Manager) finishSession(ctx context.Context, sess *session, finalStatus string) {
	m.registry.remove(sess.key)
	m.pushHub.Close(sess.key)

	viewers := m.tracker.Close(sess.key)
	now := time.Now()

	sess.mu.Lock()
	for _, v := range viewers {
		sess.stats.TotalViewTimeMS += now.Sub(v.JoinedAt).Milliseconds()
	}
	sess.status = finalStatus
	sess.mu.Unlock()

	if len(viewers) > 0 {
		metrics.ViewersCurrent.Sub(float64(len(viewers)))
	}
	metrics.SessionsActive.Set(float64(m.registry.size()))

	if m.recorder != nil {
		m.recorder.Stop(sess.key)
	}

	if err := m.persist(ctx, sess); err != nil {
		m.logger.WithSessionKey(sess.key).WithError(err).Error("failed to persist final session state")
	}
}

// abortStart rolls back a failed launch: the persisted record is cleared
// to inactive so no dangling "starting" row survives.
func (m *Manager) abortStart(ctx context.Context, sess *session) {
	m.registry.remove(sess.key)
	m.tracker.Close(sess.key)

	sess.mu.Lock()
	sess.status = models.SessionStatusInactive
	sess.mu.Unlock()

	if err := m.persist(ctx, sess); err != nil {
		m.logger.WithSessionKey(sess.key).WithError(err).Error("failed to clear aborted session")
	}
	metrics.SessionsActive.Set(float64(m.registry.size()))
}

// launchWithFallback launches the process, retrying once in HLS mode when
// a push-transport launch fails and fallback is enabled.
func (m *Manager) launchWithFallback(ctx context.Context, sess *session, sourceURI string, settings models.SessionSettings) (*LaunchResult, error) {
	quality, err := LookupQuality(settings.Quality)
	if err != nil {
		return nil, WrapError(KindStartFailed, "invalid quality profile", err)
	}

	spec := LaunchSpec{
		SessionKey:      sess.key,
		SourceURI:       sourceURI,
		OutputMode:      settings.OutputMode,
		Quality:         quality,
		SegmentDuration: m.cfg.SegmentDuration,
		PlaylistLength:  m.cfg.PlaylistLength,
	}

	result, err := m.adapter.Launch(ctx, spec)
	if err == nil {
		return result, nil
	}

	if settings.OutputMode == models.OutputModePush && m.cfg.FallbackToHLS {
		m.logger.WithSessionKey(sess.key).WithError(err).Warn("push-transport start failed, falling back to segmented playlist")
		metrics.PushFallbacksTotal.Inc()

		spec.OutputMode = models.OutputModeHLS
		result, fbErr := m.adapter.Launch(ctx, spec)
		if fbErr == nil {
			sess.mu.Lock()
			sess.settings.OutputMode = models.OutputModeHLS
			sess.mu.Unlock()
			return result, nil
		}
		err = fbErr
	}

	if IsKind(err, KindStartTimeout) {
		return nil, err
	}
	return nil, WrapError(KindStartFailed, "transcoding process failed to start", err)
}

// resolveSettings merges caller options with configured defaults and
// validates the enumerated fields.
func (m *Manager) resolveSettings(opts StartOptions) (models.SessionSettings, error) {
	settings := models.SessionSettings{
		Quality:          opts.Quality,
		OutputMode:       opts.OutputMode,
		MaxViewers:       opts.MaxViewers,
		RecordingEnabled: opts.RecordingEnabled,
	}
	if settings.Quality == "" {
		settings.Quality = m.cfg.DefaultQuality
	}
	if settings.OutputMode == "" {
		settings.OutputMode = m.cfg.DefaultOutputMode
	}
	if settings.MaxViewers <= 0 {
		settings.MaxViewers = m.cfg.DefaultMaxViewers
	}

	if !ValidQuality(settings.Quality) {
		return settings, NewError(KindStartFailed, fmt.Sprintf("unknown quality profile %q", settings.Quality))
	}
	if !ValidOutputMode(settings.OutputMode) {
		return settings, NewError(KindStartFailed, fmt.Sprintf("unknown output mode %q", settings.OutputMode))
	}
	return settings, nil
}

// resolveSessionKey reuses the camera's persisted session key when one
// exists so the durable record stays stable, otherwise generates a new key.
func (m *Manager) resolveSessionKey(ctx context.Context, cameraID string) (string, error) {
	desc, err := m.store.LoadSessionByCamera(ctx, cameraID)
	if err != nil {
		return "", WrapError(KindStartFailed, "session lookup failed", err)
	}
	if desc != nil {
		return desc.SessionKey, nil
	}
	return newSessionKey(cameraID), nil
}

// resolveSourceURI resolves camera credentials and injects them into the
// source URI.
func (m *Manager) resolveSourceURI(ctx context.Context, cameraID string) (string, error) {
	creds, err := m.cameras.Credentials(ctx, cameraID)
	if err != nil {
		if errors.Is(err, models.ErrCameraNotFound) {
			return "", WrapError(KindNotFound, "camera not found", err)
		}
		return "", WrapError(KindSourceUnavailable, "camera credentials unavailable", err)
	}

	if creds.Username == "" {
		return creds.URI, nil
	}

	parsed, err := url.Parse(creds.URI)
	if err != nil {
		return "", WrapError(KindSourceUnavailable, "malformed camera stream URL", err)
	}
	parsed.User = url.UserPassword(creds.Username, creds.Password)
	return parsed.String(), nil
}

// persist writes the session's current state through the Persistence
// Gateway.
func (m *Manager) persist(ctx context.Context, sess *session) error {
	sess.mu.Lock()
	desc := &models.SessionDescriptor{
		SessionKey: sess.key,
		CameraID:   sess.cameraID,
		Status:     sess.status,
		Settings:   sess.settings,
		Stats:      sess.stats,
	}
	sess.mu.Unlock()
	return m.store.UpsertSession(ctx, desc)
}

// publish fans an event out to subscribers and bridges it to the external
// broker best-effort.
func (m *Manager) publish(ctx context.Context, sessionKey string, event models.SessionEvent) {
	m.fanout.Publish(sessionKey, event)
	metrics.EventsPublishedTotal.WithLabelValues(event.Kind).Inc()
	m.logger.LogStreamEvent(sessionKey, event.Kind, event.ViewerCount)

	if m.bridge != nil {
		go func() {
			bridgeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.bridge.PublishEvent(bridgeCtx, event); err != nil {
				m.logger.WithSessionKey(sessionKey).WithError(err).Debug("event bridge publish failed")
			}
		}()
	}
}

// sampleBandwidth refreshes the rolling bandwidth estimate for every active
// session: push mode counts bytes broadcast by the hub since the last
// sample, segmented mode measures output directory growth.
func (m *Manager) sampleBandwidth(ctx context.Context) {
	interval := m.cfg.BandwidthSampleInterval.Seconds()

	for _, sess := range m.registry.active() {
		sess.mu.Lock()
		status := sess.status
		mode := sess.settings.OutputMode
		dir := sess.outputDir
		lastSize := sess.outputBytes
		sess.mu.Unlock()

		if status != models.SessionStatusActive {
			continue
		}

		var delta int64
		if mode == models.OutputModePush {
			delta = m.pushHub.TakeBytes(sess.key)
		} else if dir != "" {
			size := dirSize(dir)
			if size > lastSize {
				delta = size - lastSize
			}
			sess.mu.Lock()
			sess.outputBytes = size
			sess.mu.Unlock()
		}

		bps := float64(delta*8) / interval

		sess.mu.Lock()
		sess.stats.Bandwidth = bps
		sess.mu.Unlock()

		if m.stats != nil {
			if err := m.stats.RecordBandwidth(ctx, sess.key, bps); err != nil {
				m.logger.WithSessionKey(sess.key).WithError(err).Debug("failed to record bandwidth sample")
			}
		}
	}
}

// dirSize sums regular file sizes under dir. Errors are ignored; segment
// files come and go while the walk runs.
func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, infoErr := d.Info(); infoErr == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

func (m *Manager) recordStats(ctx context.Context, sessionKey string, stats models.SessionStats) {
	if m.stats == nil {
		return
	}
	if err := m.stats.RecordStats(ctx, sessionKey, stats); err != nil {
		m.logger.WithSessionKey(sessionKey).WithError(err).Debug("failed to record stats")
	}
}

func (m *Manager) toggleRecording(ctx context.Context, sess *session, enabled bool) {
	if m.recorder == nil {
		return
	}
	if enabled {
		sourceURI, err := m.resolveSourceURI(ctx, sess.cameraID)
		if err != nil {
			m.logger.WithSessionKey(sess.key).WithError(err).Warn("cannot start recording")
			return
		}
		if err := m.recorder.Start(ctx, sess.key, sourceURI); err != nil {
			m.logger.WithSessionKey(sess.key).WithError(err).Warn("failed to start recording")
		}
	} else {
		m.recorder.Stop(sess.key)
	}
}

// applyChanges merges a partial update into settings.
func applyChanges(settings *models.SessionSettings, req models.UpdateSettingsRequest) {
	if req.Quality != nil {
		settings.Quality = *req.Quality
	}
	if req.OutputMode != nil {
		settings.OutputMode = *req.OutputMode
	}
	if req.MaxViewers != nil && *req.MaxViewers > 0 {
		settings.MaxViewers = *req.MaxViewers
	}
	if req.RecordingEnabled != nil {
		settings.RecordingEnabled = *req.RecordingEnabled
	}
}

func kindOrStartFailed(err error) ErrorKind {
	if kind := Kind(err); kind != "" {
		return kind
	}
	return KindStartFailed
}

// newSessionKey builds a key that satisfies the playback endpoint's
// allow-list (alphanumeric, underscore, hyphen).
func newSessionKey(cameraID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '-'
	}, cameraID)
	return fmt.Sprintf("stream_%s_%d_%s", sanitized, time.Now().UnixMilli(), uuid.NewString()[:8])
}
