package recording

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/drbilel35-sudo/cctv-backend/internal/logging"
	"github.com/drbilel35-sudo/cctv-backend/internal/storage"
)

// gracefulTimeout bounds how long we wait for ffmpeg to finalize the MP4
// moov atom after SIGTERM before killing the process group.
const gracefulTimeout = 10 * time.Second

// Recorder captures a camera source to a local MP4 alongside the live
// session and archives the file to object storage when the recording
// stops. One capture process per session key.
type Recorder struct {
	ffmpegPath string
	workDir    string
	store      *storage.Storage
	logger     *logging.Logger

	mu       sync.Mutex
	captures map[string]*capture
}

type capture struct {
	cmd      *exec.Cmd
	filePath string
	done     chan struct{}
}

// NewRecorder creates a recorder writing intermediate files under workDir.
func NewRecorder(ffmpegPath, workDir string, store *storage.Storage, logger *logging.Logger) *Recorder {
	return &Recorder{
		ffmpegPath: ffmpegPath,
		workDir:    workDir,
		store:      store,
		logger:     logger,
		captures:   make(map[string]*capture),
	}
}

// Start begins capturing the source for a session. Starting an already
// recording session is a no-op.
func (r *Recorder) Start(ctx context.Context, sessionKey, sourceURI string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.captures[sessionKey]; exists {
		return nil
	}

	if err := os.MkdirAll(r.workDir, 0o755); err != nil {
		return fmt.Errorf("failed to create recording dir: %w", err)
	}

	fileName := fmt.Sprintf("%s_%d.mp4", sessionKey, time.Now().Unix())
	filePath := filepath.Join(r.workDir, fileName)

	// Copy codecs straight through. The live transcode already normalizes
	// the stream; re-encoding here would double the CPU cost per camera.
	args := []string{
		"-rtsp_transport", "tcp",
		"-i", sourceURI,
		"-c", "copy",
		"-movflags", "+faststart",
		"-y", filePath,
	}

	cmd := exec.Command(r.ffmpegPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}

	cp := &capture{
		cmd:      cmd,
		filePath: filePath,
		done:     make(chan struct{}),
	}
	r.captures[sessionKey] = cp

	go r.reap(sessionKey, cp)

	r.logger.WithSessionKey(sessionKey).WithField("file", filePath).Info("Recording started")

	return nil
}

// Stop ends the capture for a session and archives the file. Unknown
// session keys are ignored.
func (r *Recorder) Stop(sessionKey string) {
	r.mu.Lock()
	cp, exists := r.captures[sessionKey]
	if exists {
		delete(r.captures, sessionKey)
	}
	r.mu.Unlock()

	if !exists {
		return
	}

	// SIGTERM lets ffmpeg write the trailer; fall back to killing the
	// group if it hangs on a stalled source.
	if cp.cmd.Process != nil {
		_ = syscall.Kill(-cp.cmd.Process.Pid, syscall.SIGTERM)
	}

	select {
	case <-cp.done:
	case <-time.After(gracefulTimeout):
		if cp.cmd.Process != nil {
			_ = syscall.Kill(-cp.cmd.Process.Pid, syscall.SIGKILL)
		}
		<-cp.done
	}

	r.archive(sessionKey, cp.filePath)
}

func (r *Recorder) reap(sessionKey string, cp *capture) {
	err := cp.cmd.Wait()
	close(cp.done)

	if err == nil {
		return
	}

	// Wait returns an error for signal-terminated processes too, which is
	// the normal stop path. Only an early exit while still registered is
	// worth logging.
	r.mu.Lock()
	_, stillRecording := r.captures[sessionKey]
	r.mu.Unlock()

	if stillRecording {
		r.logger.WithSessionKey(sessionKey).WithError(err).Warn("Recording process exited early")
	}
}

func (r *Recorder) archive(sessionKey, filePath string) {
	log := r.logger.WithSessionKey(sessionKey)

	info, err := os.Stat(filePath)
	if err != nil || info.Size() == 0 {
		log.WithField("file", filePath).Warn("Recording file missing or empty, skipping upload")
		_ = os.Remove(filePath)
		return
	}

	if r.store == nil {
		log.WithField("file", filePath).Info("Recording kept locally, object storage disabled")
		return
	}

	objectName := fmt.Sprintf("recordings/%s/%s", time.Now().Format("2006-01-02"), filepath.Base(filePath))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := r.store.UploadFile(ctx, objectName, filePath); err != nil {
		log.WithError(err).Error("Failed to archive recording")
		return
	}

	_ = os.Remove(filePath)

	log.WithField("object", objectName).WithField("size_bytes", info.Size()).Info("Recording archived")
}

// Shutdown stops all active captures.
func (r *Recorder) Shutdown() {
	r.mu.Lock()
	keys := make([]string, 0, len(r.captures))
	for key := range r.captures {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	for _, key := range keys {
		r.Stop(key)
	}
}
