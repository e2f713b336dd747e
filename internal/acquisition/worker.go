// Package acquisition runs the camera producer loop.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"

	"github.com/enricmcalvo/UUTrap/internal/camera"
	"github.com/enricmcalvo/UUTrap/internal/logger"
	"github.com/enricmcalvo/UUTrap/pkg/types"
)

// Origin says why a run was started.
type Origin string

const (
	// OriginSnap performs exactly one trigger and read.
	OriginSnap Origin = "snap"
	// OriginContinuous loops until RequestStop.
	OriginContinuous Origin = "continuous"
)

// Worker states.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateStopping = "stopping"
	StateStopped  = "stopped"
	StateFailed   = "failed"
)

const (
	eventStart  = "start"
	eventStop   = "stop"
	eventFinish = "finish"
	eventFail   = "fail"
)

// ErrAlreadyStarted is returned by Start while a run is active.
var ErrAlreadyStarted = errors.New("acquisition already started")

// DeviceError is a trigger or read failure. It ends the run.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("camera %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Result is one message from a run. Every run ends with exactly one Final
// result; a failed run's Final result carries Err.
type Result struct {
	Frame  *types.Frame
	Origin Origin
	Err    *DeviceError
	Final  bool
}

// Worker drives one camera. Results are sent on out and each send blocks
// until the receiver takes it, so a slow receiver slows acquisition and no
// frame is dropped. Whoever waits on Done must keep receiving from out.
type Worker struct {
	dev camera.Device
	out chan<- Result

	mu   sync.Mutex
	fsm  *fsm.FSM
	stop chan struct{}
	done chan struct{}
}

// NewWorker creates an idle worker.
func NewWorker(dev camera.Device, out chan<- Result) *Worker {
	done := make(chan struct{})
	close(done)

	w := &Worker{
		dev:  dev,
		out:  out,
		done: done,
	}
	w.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{StateIdle, StateStopped, StateFailed}, Dst: StateRunning},
			{Name: eventStop, Src: []string{StateRunning}, Dst: StateStopping},
			{Name: eventFinish, Src: []string{StateRunning, StateStopping}, Dst: StateStopped},
			{Name: eventFail, Src: []string{StateRunning, StateStopping}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debug("Acquisition", "State %s -> %s", e.Src, e.Dst)
			},
		},
	)
	return w
}

// Start begins a run in its own goroutine.
func (w *Worker) Start(origin Origin) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
	default:
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, w.fsm.Current())
	}
	if err := w.fsm.Event(context.Background(), eventStart); err != nil {
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, w.fsm.Current())
	}

	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	logger.Info("Acquisition", "Starting %s acquisition", origin)
	go w.run(origin, w.stop, w.done)
	return nil
}

// RequestStop asks a continuous run to stop after the current cycle. An
// in-flight trigger or read is not interrupted. It is a no-op when not running.
func (w *Worker) RequestStop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.fsm.Event(context.Background(), eventStop); err != nil {
		return
	}
	close(w.stop)
}

// Done is closed when the current run has delivered its Final result.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// State returns the lifecycle state.
func (w *Worker) State() string {
	return w.fsm.Current()
}

// Active reports whether a run is in progress. It turns false just before the
// Final result is sent.
func (w *Worker) Active() bool {
	switch w.fsm.Current() {
	case StateRunning, StateStopping:
		return true
	}
	return false
}

func (w *Worker) run(origin Origin, stop <-chan struct{}, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			w.finish(origin, nil)
			return
		default:
		}

		frame, derr := w.cycle()
		if derr != nil {
			logger.Error("Acquisition", "%v", derr)
			w.finish(origin, derr)
			return
		}
		w.out <- Result{Frame: frame, Origin: origin}

		if origin == OriginSnap {
			w.finish(origin, nil)
			return
		}
	}
}

func (w *Worker) cycle() (*types.Frame, *DeviceError) {
	if err := w.dev.Trigger(); err != nil {
		return nil, &DeviceError{Op: "trigger", Err: err}
	}
	frame, err := w.dev.Read()
	if err != nil {
		return nil, &DeviceError{Op: "read", Err: err}
	}
	return frame, nil
}

// finish moves to the terminal state and sends the Final result. Done is
// closed after the send, and Start fails until then.
func (w *Worker) finish(origin Origin, derr *DeviceError) {
	event := eventFinish
	if derr != nil {
		event = eventFail
	}
	w.mu.Lock()
	if err := w.fsm.Event(context.Background(), event); err != nil {
		logger.Warn("Acquisition", "Transition %s from %s: %v", event, w.fsm.Current(), err)
	}
	w.mu.Unlock()

	w.out <- Result{Origin: origin, Err: derr, Final: true}
	logger.Debug("Acquisition", "%s acquisition finished", origin)
}
