package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/enricmcalvo/UUTrap/internal/container"
	"github.com/enricmcalvo/UUTrap/internal/framebuffer"
	"github.com/enricmcalvo/UUTrap/internal/logger"
	"github.com/enricmcalvo/UUTrap/internal/metrics"
	"github.com/enricmcalvo/UUTrap/pkg/types"
)

// DefaultDataset is the dataset name used for continuous saves.
const DefaultDataset = "frames"

var (
	// ErrPersistence wraps every I/O failure on the save path.
	ErrPersistence = errors.New("persistence error")
	// ErrAlreadyRecording is returned by Start while a run is active.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNotRecording is returned by Stop when no run is active.
	ErrNotRecording = errors.New("not recording")
)

// Sink is the file a save run streams frames into. *container.Writer is the
// production implementation.
type Sink interface {
	Path() string
	Count() int
	Append(frames ...*types.Frame) error
	Flush() error
	Finalize() error
	Close() error
}

// CreateFunc opens the sink of a new save run.
type CreateFunc func(path string, meta container.Metadata) (Sink, error)

func createContainer(path string, meta container.Metadata) (Sink, error) {
	w, err := container.Create(path, meta)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithCreate replaces how save runs open their file.
func WithCreate(fn CreateFunc) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.create = fn
		}
	}
}

// WithFlushEvery flushes after n accumulated frames.
func WithFlushEvery(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.flushEvery = n
		}
	}
}

// WithFlushInterval flushes accumulated frames at least this often.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.flushInterval = d
		}
	}
}

// WithMetrics reports saved frames and failures to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// Recorder consumes frames from the frame buffer and stream-saves them to a
// container until its stop sentinel arrives.
type Recorder struct {
	queue   *framebuffer.Queue
	create  CreateFunc
	metrics *metrics.Metrics

	mu            sync.RWMutex
	flushEvery    int
	flushInterval time.Duration
	recording     bool
	stopping      bool
	token         string
	filename      string
	frameCount    uint64
	startTime     time.Time
	err           error
	done          chan struct{}
}

// New creates a recorder consuming queue.
func New(queue *framebuffer.Queue, opts ...Option) *Recorder {
	done := make(chan struct{})
	close(done)
	r := &Recorder{
		queue:         queue,
		create:        createContainer,
		flushEvery:    50,
		flushInterval: time.Second,
		done:          done,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetFlush changes the flush thresholds. Values <= 0 keep the current setting.
// A run in progress keeps the thresholds it started with.
func (r *Recorder) SetFlush(every int, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if every > 0 {
		r.flushEvery = every
	}
	if interval > 0 {
		r.flushInterval = interval
	}
}

// FlushSettings returns the thresholds the next run will use.
func (r *Recorder) FlushSettings() (every int, interval time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flushEvery, r.flushInterval
}

// Start opens a container at path, writes meta and begins consuming the queue.
func (r *Recorder) Start(path string, meta container.Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return fmt.Errorf("%w: %s", ErrAlreadyRecording, r.filename)
	}

	release, err := r.queue.Acquire("recorder")
	if err != nil {
		return err
	}

	token := uuid.NewString()
	if meta.RunID == "" {
		meta.RunID = token
	}
	if meta.Dataset == "" {
		meta.Dataset = DefaultDataset
	}
	if meta.Created.IsZero() {
		meta.Created = time.Now()
	}

	w, err := r.create(path, meta)
	if err != nil {
		release()
		r.countError()
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	r.recording = true
	r.stopping = false
	r.token = token
	r.filename = path
	r.frameCount = 0
	r.startTime = time.Now()
	r.err = nil
	r.done = make(chan struct{})
	if r.metrics != nil {
		r.metrics.SetSaving(true)
	}

	logger.Info("Recorder", "Saving to %s (run %s)", path, meta.RunID)
	go r.run(w, release, token, r.flushEvery, r.flushInterval, r.done)
	return nil
}

// Stop asks the current run to finalize by pushing its sentinel behind every
// frame already queued. It does not wait; use Wait.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording || r.stopping {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.stopping = true
	token := r.token
	r.mu.Unlock()

	r.queue.PushSentinel(token)
	return nil
}

// Wait blocks until the current run exits or ctx ends, and returns the run error.
func (r *Recorder) Wait(ctx context.Context) error {
	select {
	case <-r.Done():
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops an active run and waits for it.
func (r *Recorder) Close(ctx context.Context) error {
	if err := r.Stop(); err != nil && !errors.Is(err, ErrNotRecording) {
		return err
	}
	return r.Wait(ctx)
}

// Done is closed when the current run exits.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.done
}

// Err returns the error of the last run, nil when it finalized cleanly.
func (r *Recorder) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// run is the consumer loop of one save run.
func (r *Recorder) run(w Sink, release func(), token string, flushEvery int, flushInterval time.Duration, done chan struct{}) {
	var pending []*types.Frame
	lastFlush := time.Now()

	flush := func() error {
		if len(pending) > 0 {
			if err := w.Append(pending...); err != nil {
				return err
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if r.metrics != nil {
			r.metrics.FramesSaved.Add(uint64(len(pending)))
		}
		r.mu.Lock()
		r.frameCount += uint64(len(pending))
		r.mu.Unlock()
		pending = pending[:0]
		lastFlush = time.Now()
		return nil
	}

	err := func() error {
		for {
			wait := flushInterval - time.Since(lastFlush)
			if wait <= 0 {
				if err := flush(); err != nil {
					return err
				}
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), wait)
			item, err := r.queue.Pop(ctx)
			cancel()
			if err != nil {
				// Flush interval elapsed with nothing queued.
				continue
			}

			if item.Sentinel() {
				if item.Token() != token {
					logger.Debug("Recorder", "Ignoring stale sentinel %s", item.Token())
					continue
				}
				if err := flush(); err != nil {
					return err
				}
				return w.Finalize()
			}

			pending = append(pending, item.Frame())
			if len(pending) >= flushEvery {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}()

	if err != nil {
		w.Close()
		err = fmt.Errorf("%w: %s: %w", ErrPersistence, w.Path(), err)
		logger.Error("Recorder", "Save run failed: %v", err)
		r.countError()
	} else {
		logger.Info("Recorder", "Finalized %s with %d frames", w.Path(), w.Count())
	}

	release()
	r.mu.Lock()
	r.recording = false
	r.stopping = false
	r.err = err
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.SetSaving(false)
	}
	close(done)
}

func (r *Recorder) countError() {
	if r.metrics != nil {
		r.metrics.PersistenceErrors.Add(1)
	}
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}

	status := RecordingStatus{
		Recording:  r.recording,
		Stopping:   r.stopping,
		Filename:   r.filename,
		FrameCount: r.frameCount,
		Duration:   duration,
		StartTime:  r.startTime,
	}
	if r.err != nil {
		status.LastError = r.err.Error()
	}
	return status
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording  bool          `json:"recording"`
	Stopping   bool          `json:"stopping"`
	Filename   string        `json:"filename"`
	FrameCount uint64        `json:"frame_count"`
	Duration   time.Duration `json:"duration_ms"`
	StartTime  time.Time     `json:"start_time"`
	LastError  string        `json:"last_error,omitempty"`
}
