package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/drbilel35-sudo/cctv-backend/internal/logging"
	"github.com/drbilel35-sudo/cctv-backend/pkg/models"
)

const (
	// pushChunkSize is the read size for MPEG-TS output in push mode.
	pushChunkSize = 32 * 1024
	// pushBufferChunks is the per-session buffer between the process pump
	// and the broadcaster. Oldest chunks are dropped when it fills.
	pushBufferChunks = 64
)

// ProcessHandle identifies one running transcoding process. It is created
// and released exclusively by the adapter.
type ProcessHandle struct {
	sessionKey string
	mode       string
	outputDir  string

	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	stopped bool
}

// SessionKey returns the session this process belongs to.
func (h *ProcessHandle) SessionKey() string { return h.sessionKey }

// markStopped flags the handle as deliberately terminated so the exit
// monitor does not report a crash. Returns the previous value.
func (h *ProcessHandle) markStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	was := h.stopped
	h.stopped = true
	return was
}

func (h *ProcessHandle) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// FFmpegAdapterConfig holds adapter tunables.
type FFmpegAdapterConfig struct {
	FFmpegPath      string
	HLSRoot         string // base directory for per-session segment trees
	StartTimeout    time.Duration
	GracefulTimeout time.Duration
}

// FFmpegAdapter runs one ffmpeg process per active session.
type FFmpegAdapter struct {
	cfg       FFmpegAdapterConfig
	logger    *logging.Logger
	events    chan ProcessEvent
	available bool
}

// NewFFmpegAdapter creates an adapter and probes the spawn facility. When
// the ffmpeg binary cannot be resolved, the adapter reports unavailable and
// every launch fails.
func NewFFmpegAdapter(cfg FFmpegAdapterConfig, logger *logging.Logger) *FFmpegAdapter {
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 5 * time.Second
	}

	a := &FFmpegAdapter{
		cfg:    cfg,
		logger: logger,
		events: make(chan ProcessEvent, 16),
	}

	if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
		logger.WithError(err).Error("ffmpeg binary not found, streaming disabled")
		a.available = false
	} else {
		a.available = true
	}

	return a
}

// Available reports whether ffmpeg can be spawned on this host.
func (a *FFmpegAdapter) Available() bool {
	return a.available
}

// Events returns the asynchronous process lifecycle channel.
func (a *FFmpegAdapter) Events() <-chan ProcessEvent {
	return a.events
}

// Launch starts ffmpeg for the given spec and resolves once the process has
// confirmed output: the playlist file for HLS mode, the first TS bytes for
// push mode.
func (a *FFmpegAdapter) Launch(ctx context.Context, spec LaunchSpec) (*LaunchResult, error) {
	if !a.available {
		return nil, NewError(KindSourceUnavailable, "transcoding engine unavailable on this host")
	}

	outputDir := filepath.Join(a.cfg.HLSRoot, spec.SessionKey)
	args := a.buildArgs(spec, outputDir)

	log := a.logger.WithSessionKey(spec.SessionKey)

	if spec.OutputMode == models.OutputModeHLS {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, WrapError(KindStartFailed, "failed to create output directory", err)
		}
	}

	cmd := exec.Command(a.cfg.FFmpegPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout io.ReadCloser
	if spec.OutputMode == models.OutputModePush {
		pipe, err := cmd.StdoutPipe()
		if err != nil {
			return nil, WrapError(KindStartFailed, "failed to open stdout pipe", err)
		}
		stdout = pipe
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, WrapError(KindStartFailed, "failed to open stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, WrapError(KindStartFailed, "failed to start ffmpeg", err)
	}

	handle := &ProcessHandle{
		sessionKey: spec.SessionKey,
		mode:       spec.OutputMode,
		outputDir:  outputDir,
		cmd:        cmd,
		done:       make(chan struct{}),
	}

	go a.drainStderr(spec.SessionKey, stderr)
	go a.monitorExit(handle)

	log.Infof("ffmpeg started, pid=%d, mode=%s", cmd.Process.Pid, spec.OutputMode)

	switch spec.OutputMode {
	case models.OutputModePush:
		output, err := a.confirmPush(ctx, handle, stdout)
		if err != nil {
			a.forceKill(handle)
			return nil, err
		}
		return &LaunchResult{
			Handle:         handle,
			OutputLocation: fmt.Sprintf("/ws/streams/%s/live", spec.SessionKey),
			Output:         output,
		}, nil

	default:
		manifest := filepath.Join(outputDir, "index.m3u8")
		if err := a.waitForFile(ctx, handle, manifest); err != nil {
			a.forceKill(handle)
			return nil, err
		}
		return &LaunchResult{
			Handle:         handle,
			OutputLocation: fmt.Sprintf("/hls/%s/index.m3u8", spec.SessionKey),
			OutputDir:      outputDir,
		}, nil
	}
}

// Terminate stops the process gracefully and always releases its resources,
// even when the process already exited.
func (a *FFmpegAdapter) Terminate(ctx context.Context, handle *ProcessHandle) error {
	if handle == nil {
		return nil
	}

	log := a.logger.WithSessionKey(handle.sessionKey)

	if !handle.markStopped() {
		// Negative pid signals the whole process group.
		if handle.cmd.Process != nil {
			_ = syscall.Kill(-handle.cmd.Process.Pid, syscall.SIGTERM)
		}

		select {
		case <-handle.done:
		case <-time.After(a.cfg.GracefulTimeout):
			log.Warn("ffmpeg did not exit gracefully, killing")
			a.forceKill(handle)
			select {
			case <-handle.done:
			case <-ctx.Done():
			}
		case <-ctx.Done():
			a.forceKill(handle)
		}
	}

	if handle.outputDir != "" && handle.mode == models.OutputModeHLS {
		if err := os.RemoveAll(handle.outputDir); err != nil {
			log.WithError(err).Warn("failed to remove output directory")
		}
	}

	log.Info("ffmpeg terminated")
	return nil
}

func (a *FFmpegAdapter) forceKill(handle *ProcessHandle) {
	handle.markStopped()
	if handle.cmd.Process != nil {
		_ = syscall.Kill(-handle.cmd.Process.Pid, syscall.SIGKILL)
	}
}

// monitorExit waits for the process to die and reports a crash unless the
// handle was deliberately stopped.
func (a *FFmpegAdapter) monitorExit(handle *ProcessHandle) {
	err := handle.cmd.Wait()
	close(handle.done)

	if handle.isStopped() {
		return
	}

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		a.events <- ProcessEvent{
			SessionKey: handle.sessionKey,
			Kind:       ProcessEventErrored,
			Err:        err,
		}
		return
	}

	a.logger.WithSessionKey(handle.sessionKey).Warnf("ffmpeg exited unexpectedly, code=%d", exitCode)
	a.events <- ProcessEvent{
		SessionKey: handle.sessionKey,
		Kind:       ProcessEventExited,
		ExitCode:   exitCode,
	}
}

func (a *FFmpegAdapter) drainStderr(sessionKey string, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	log := a.logger.WithSessionKey(sessionKey)
	for scanner.Scan() {
		log.Debugf("ffmpeg: %s", scanner.Text())
	}
}

// waitForFile polls for the HLS manifest within the start timeout.
func (a *FFmpegAdapter) waitForFile(ctx context.Context, handle *ProcessHandle, path string) error {
	deadline := time.Now().Add(a.cfg.StartTimeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return WrapError(KindStartFailed, "launch cancelled", ctx.Err())
		case <-handle.done:
			return NewError(KindStartFailed, "ffmpeg exited before producing output")
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		}
	}

	return NewError(KindStartTimeout, fmt.Sprintf("no output within %s", a.cfg.StartTimeout))
}

// confirmPush waits for the first MPEG-TS bytes, then keeps pumping chunks
// into a bounded channel. Oldest chunks are dropped when the consumer lags.
func (a *FFmpegAdapter) confirmPush(ctx context.Context, handle *ProcessHandle, stdout io.Reader) (<-chan []byte, error) {
	first := make(chan []byte, 1)
	readErr := make(chan error, 1)

	go func() {
		buf := make([]byte, pushChunkSize)
		n, err := stdout.Read(buf)
		if err != nil {
			readErr <- err
			return
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		first <- chunk
	}()

	var initial []byte
	select {
	case initial = <-first:
	case err := <-readErr:
		return nil, WrapError(KindStartFailed, "ffmpeg produced no output", err)
	case <-handle.done:
		return nil, NewError(KindStartFailed, "ffmpeg exited before producing output")
	case <-ctx.Done():
		return nil, WrapError(KindStartFailed, "launch cancelled", ctx.Err())
	case <-time.After(a.cfg.StartTimeout):
		return nil, NewError(KindStartTimeout, fmt.Sprintf("no output within %s", a.cfg.StartTimeout))
	}

	output := make(chan []byte, pushBufferChunks)
	output <- initial

	go func() {
		defer close(output)
		buf := make([]byte, pushChunkSize)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case output <- chunk:
				default:
					// Consumer is behind: drop the oldest chunk.
					select {
					case <-output:
					default:
					}
					select {
					case output <- chunk:
					default:
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return output, nil
}

// buildArgs assembles the ffmpeg invocation from the quality tier and
// output mode. Zerolatency tuning keeps the glass-to-glass delay low
// enough for live monitoring.
func (a *FFmpegAdapter) buildArgs(spec LaunchSpec, outputDir string) []string {
	q := spec.Quality

	args := []string{
		"-rtsp_transport", "tcp",
		"-i", spec.SourceURI,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-c:a", "aac",
		"-ar", "44100",
		"-r", "25",
		"-b:v", q.VideoBitrate,
		"-maxrate", q.VideoBitrate,
		"-bufsize", q.BufferSize,
		"-g", fmt.Sprintf("%d", q.KeyframeInterval),
		"-sc_threshold", "0",
	}

	if scale := q.Scale(); scale != "" {
		args = append(args, "-s", scale)
	}

	if spec.OutputMode == models.OutputModePush {
		args = append(args, "-f", "mpegts", "pipe:1")
		return args
	}

	segmentDuration := spec.SegmentDuration
	if segmentDuration == 0 {
		segmentDuration = 4
	}
	playlistLength := spec.PlaylistLength
	if playlistLength == 0 {
		playlistLength = 6
	}

	args = append(args,
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", segmentDuration),
		"-hls_list_size", fmt.Sprintf("%d", playlistLength),
		"-hls_flags", "delete_segments+independent_segments",
		"-hls_segment_filename", filepath.Join(outputDir, "segment_%03d.ts"),
		filepath.Join(outputDir, "index.m3u8"),
	)

	return args
}
