package controller

import (
	"errors"

	"github.com/enricmcalvo/UUTrap/internal/health"
	"github.com/enricmcalvo/UUTrap/internal/logger"
	"github.com/enricmcalvo/UUTrap/internal/recorder"
	"github.com/enricmcalvo/UUTrap/pkg/types"
)

var (
	// ErrAlreadyRunning is returned for a start request while the same
	// activity is already running. The request is ignored.
	ErrAlreadyRunning = errors.New("already running")
	// ErrConfigRejected is returned for ROI or exposure changes while acquiring.
	ErrConfigRejected = errors.New("config change rejected while acquiring")
	// ErrClosed is returned after the controller has shut down.
	ErrClosed = errors.New("controller closed")
	// ErrNoFrame is returned by SaveImage before any frame was acquired.
	ErrNoFrame = errors.New("no frame to save")
)

// Event is a notification for the display layer.
type Event int

const (
	// FrameReady means a new frame is available. It is coalesced to at most
	// one per refresh tick.
	FrameReady Event = iota
	// AcquisitionStopped is emitted when a run ends, including snaps and failures.
	AcquisitionStopped
	// ConfigApplied is emitted after ApplyConfig.
	ConfigApplied
	// CloseRequested is emitted when RequestClose starts the shutdown.
	CloseRequested
	// Closed is emitted once shutdown is complete.
	Closed
)

func (e Event) String() string {
	switch e {
	case FrameReady:
		return "frame-ready"
	case AcquisitionStopped:
		return "acquisition-stopped"
	case ConfigApplied:
		return "config-applied"
	case CloseRequested:
		return "close-requested"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// View is what the display layer renders on each refresh tick.
type View struct {
	Latest        *types.Frame
	Waterfall     [][]uint64 // newest first, nil when the waterfall is closed
	Health        health.Sample
	Log           []logger.Entry // oldest first
	Region        types.Region
	Recording     recorder.RecordingStatus
	Saving        bool
	Accumulating  bool
	Acquiring     bool
	WaterfallOpen bool
}
