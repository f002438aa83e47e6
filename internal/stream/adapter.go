package stream

import (
	"context"
)

// ProcessEvent kinds
const (
	ProcessEventExited  = "exited"
	ProcessEventErrored = "errored"
)

// ProcessEvent is an asynchronous lifecycle notification from the adapter.
// Exited events are only emitted for processes that die on their own;
// deliberate Terminate calls do not produce one.
type ProcessEvent struct {
	SessionKey string
	Kind       string
	ExitCode   int
	Err        error
}

// LaunchSpec describes one transcoding process to start.
type LaunchSpec struct {
	SessionKey      string
	SourceURI       string
	OutputMode      string
	Quality         QualityProfile
	SegmentDuration int // seconds per HLS segment
	PlaylistLength  int // segments kept in the rolling window
}

// LaunchResult is returned once the process has confirmed it is producing
// output. The handle is opaque to callers and owned by the adapter.
type LaunchResult struct {
	Handle *ProcessHandle
	// OutputLocation is the playlist path for HLS mode or the push channel
	// address for push mode.
	OutputLocation string
	// OutputDir is the segment directory on disk for HLS mode; empty for
	// push mode.
	OutputDir string
	// Output carries MPEG-TS chunks for push mode; nil for HLS mode.
	Output <-chan []byte
}

// ProcessAdapter launches and stops external transcoding processes and
// reports their lifecycle. Implementations must resolve Launch only after a
// confirmed "producing output" signal, not merely after spawning.
type ProcessAdapter interface {
	Launch(ctx context.Context, spec LaunchSpec) (*LaunchResult, error)
	Terminate(ctx context.Context, handle *ProcessHandle) error
	Events() <-chan ProcessEvent
	// Available reports whether the spawn facility works on this host.
	// When false, no session can start.
	Available() bool
}
