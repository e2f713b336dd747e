// Package controller orchestrates acquisition, buffering, saving and the
// display refresh tick.
//
// Run owns the single select loop that receives acquisition results and
// drives the refresh ticker. Operations may be called from any goroutine
// while Run is running; they are serialised and never block Run.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/enricmcalvo/UUTrap/internal/acquisition"
	"github.com/enricmcalvo/UUTrap/internal/camera"
	"github.com/enricmcalvo/UUTrap/internal/container"
	"github.com/enricmcalvo/UUTrap/internal/framebuffer"
	"github.com/enricmcalvo/UUTrap/internal/health"
	"github.com/enricmcalvo/UUTrap/internal/logger"
	"github.com/enricmcalvo/UUTrap/internal/metrics"
	"github.com/enricmcalvo/UUTrap/internal/recorder"
	"github.com/enricmcalvo/UUTrap/internal/session"
	"github.com/enricmcalvo/UUTrap/internal/waterfall"
	"github.com/enricmcalvo/UUTrap/pkg/types"
)

const module = "Controller"

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics mirrors pipeline state into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithCPUSampler replaces the host CPU sampler.
func WithCPUSampler(s health.CPUSampler) Option {
	return func(c *Controller) { c.cpu = s }
}

// WithOnRefresh registers a hook called with the View on every refresh tick,
// from the Run goroutine.
func WithOnRefresh(fn func(View)) Option {
	return func(c *Controller) { c.onRefresh = fn }
}

// WithRecorderOptions passes extra options to the continuous-save recorder.
func WithRecorderOptions(opts ...recorder.Option) Option {
	return func(c *Controller) { c.recorderOpts = append(c.recorderOpts, opts...) }
}

// WithShutdownTimeout bounds how long shutdown waits for saving to finish.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Controller) { c.shutdownTimeout = d }
}

// Controller is the main controller of a camera session.
type Controller struct {
	dev      camera.Device
	store    *session.Store
	queue    *framebuffer.Queue
	drainer  *framebuffer.Drainer
	recorder *recorder.Recorder
	monitor  *health.Monitor
	history  *logger.History
	metrics  *metrics.Metrics
	cpu      health.CPUSampler

	onRefresh       func(View)
	shutdownTimeout time.Duration
	recorderOpts    []recorder.Option

	worker  *acquisition.Worker
	results chan acquisition.Result
	events  chan Event
	retick  chan time.Duration

	closeOnce    sync.Once
	closeReq     chan struct{}
	done         chan struct{}
	framePending atomic.Bool

	// opMu serialises operations. It is never taken by Run.
	opMu sync.Mutex

	mu           sync.Mutex
	closed       bool
	latest       *types.Frame
	totalFrames  uint64
	accumulating bool
	wf           *waterfall.Buffer // nil when closed
	lastSample   health.Sample
	reportedErr  error
}

// New creates a controller for dev using the config held by store. The
// session exposure and region are applied to the camera.
func New(dev camera.Device, store *session.Store, opts ...Option) (*Controller, error) {
	cfg := store.Snapshot()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		dev:             dev,
		store:           store,
		queue:           framebuffer.NewQueue(),
		history:         logger.NewHistory(cfg.LogHistory),
		shutdownTimeout: time.Minute,
		results:         make(chan acquisition.Result),
		events:          make(chan Event, 64),
		retick:          make(chan time.Duration, 1),
		closeReq:        make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}

	c.drainer = framebuffer.NewDrainer(c.queue, framebuffer.DefaultQuantum)
	c.recorder = recorder.New(c.queue, append([]recorder.Option{
		recorder.WithFlushEvery(cfg.FlushEvery),
		recorder.WithFlushInterval(cfg.FlushInterval),
		recorder.WithMetrics(c.metrics),
	}, c.recorderOpts...)...)
	c.monitor = health.NewMonitor(cfg.QueueCapacityHint, c.cpu)
	c.worker = acquisition.NewWorker(dev, c.results)

	if err := dev.SetExposure(cfg.Exposure); err != nil {
		return nil, fmt.Errorf("failed to set exposure: %w", err)
	}
	region := cfg.Region
	if region.IsZero() {
		region = types.FullRegion(dev.MaxSize())
	}
	if err := c.applyROI(region); err != nil {
		return nil, err
	}
	return c, nil
}

// Run is the controller loop. It returns after shutdown, either because ctx
// ended or RequestClose was called.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.store.Snapshot().RefreshInterval)
	defer ticker.Stop()

	logger.Info(module, "Controller running")
	for {
		select {
		case r := <-c.results:
			c.handleResult(r)
		case now := <-ticker.C:
			c.refresh(now)
		case d := <-c.retick:
			ticker.Reset(d)
			logger.Debug(module, "Refresh interval set to %s", d)
		case <-c.closeReq:
			c.emit(CloseRequested)
			c.shutdown()
			return nil
		case <-ctx.Done():
			c.shutdown()
			return nil
		}
	}
}

// Events returns the event stream. Events are dropped when nobody reads them.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Done is closed once shutdown has completed.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Log returns the rolling log, oldest first.
func (c *Controller) Log() []logger.Entry {
	return c.history.Entries()
}

// Queue returns the frame buffer.
func (c *Controller) Queue() *framebuffer.Queue {
	return c.queue
}

// Config returns the active session config.
func (c *Controller) Config() session.Config {
	return c.store.Snapshot()
}

func (c *Controller) emit(ev Event) {
	if ev == FrameReady && !c.framePending.CompareAndSwap(false, true) {
		return
	}
	select {
	case c.events <- ev:
	default:
		logger.Debug(module, "Event %s dropped, no reader", ev)
	}
}

func (c *Controller) handleResult(r acquisition.Result) {
	if r.Frame != nil {
		c.consumeFrame(r.Frame)
	}
	if !r.Final {
		return
	}

	if r.Err != nil {
		c.metrics.DeviceErrors.Add(1)
		c.history.Add(logger.ERROR, module, "Acquisition stopped: %v", r.Err)
	} else if r.Origin == acquisition.OriginContinuous {
		c.history.Add(logger.INFO, module, "Stopped free run movie")
	}
	c.metrics.SetAcquiring(false)
	c.emit(AcquisitionStopped)
}

func (c *Controller) consumeFrame(frame *types.Frame) {
	now := time.Now()

	c.mu.Lock()
	c.latest = frame
	c.totalFrames++
	if c.accumulating {
		c.queue.Push(frame)
		c.metrics.FramesQueued.Add(1)
	}
	if c.wf != nil {
		c.wf.Push(frame)
	}
	c.mu.Unlock()

	c.monitor.FrameConsumed(now)
	c.metrics.FramesAcquired.Add(1)
	c.emit(FrameReady)
}

func (c *Controller) refresh(now time.Time) {
	c.mu.Lock()
	total := c.totalFrames
	c.mu.Unlock()

	qlen := c.queue.Len()
	sample := c.monitor.Sample(qlen, total, now)

	c.mu.Lock()
	c.lastSample = sample
	c.mu.Unlock()

	c.metrics.UpdateQueue(qlen, c.monitor.CapacityHint())
	c.metrics.UpdateCPU(sample.CPUPercent)
	c.metrics.UpdateIntervals(sample.BufferInterval, sample.RefreshInterval)
	c.metrics.SetAcquiring(c.worker.Active())
	c.metrics.SetSaving(c.recorder.IsRecording())
	c.metrics.FramesDiscarded.Store(c.drainer.Discarded())

	c.reportRecorderError()
	c.framePending.Store(false)

	if c.onRefresh != nil {
		c.onRefresh(c.View())
	}
}

// reportRecorderError copies a failed save run into the rolling log once.
func (c *Controller) reportRecorderError() {
	if c.recorder.IsRecording() {
		return
	}
	err := c.recorder.Err()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil && err != c.reportedErr {
		c.reportedErr = err
		c.history.Add(logger.ERROR, module, "Continuous saving failed: %v", err)
	}
}

// View returns a snapshot of the display state.
func (c *Controller) View() View {
	c.mu.Lock()
	v := View{
		Latest:        c.latest,
		Health:        c.lastSample,
		Accumulating:  c.accumulating,
		WaterfallOpen: c.wf != nil,
	}
	if c.wf != nil {
		v.Waterfall = c.wf.Rows()
	}
	c.mu.Unlock()

	v.Log = c.history.Entries()
	v.Region = c.store.Snapshot().Region
	v.Recording = c.recorder.GetStatus()
	v.Saving = v.Recording.Recording
	v.Acquiring = c.worker.Active()
	return v
}

// begin takes the operation lock. It fails once the controller is closed.
func (c *Controller) begin() (func(), error) {
	c.opMu.Lock()
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		c.opMu.Unlock()
		return nil, ErrClosed
	}
	return c.opMu.Unlock, nil
}

func (c *Controller) waitWorker(ctx context.Context) error {
	select {
	case <-c.worker.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snap acquires a single frame. It is refused while acquiring.
func (c *Controller) Snap(ctx context.Context) error {
	end, err := c.begin()
	if err != nil {
		return err
	}
	defer end()

	if c.worker.Active() {
		c.metrics.RejectedRequests.Add(1)
		c.history.Add(logger.ERROR, module, "Tried to snap while in free run")
		return ErrAlreadyRunning
	}
	return c.start(ctx, acquisition.OriginSnap)
}

// StartAcquisition starts free-run acquisition. A second start while
// acquiring is ignored and reported.
func (c *Controller) StartAcquisition(ctx context.Context) error {
	end, err := c.begin()
	if err != nil {
		return err
	}
	defer end()

	if c.worker.State() == acquisition.StateRunning {
		c.metrics.RejectedRequests.Add(1)
		c.history.Add(logger.WARN, module, "Free run already started")
		return ErrAlreadyRunning
	}
	if err := c.start(ctx, acquisition.OriginContinuous); err != nil {
		return err
	}
	c.history.Add(logger.INFO, module, "Started free run movie")
	return nil
}

// start waits for a finishing run, then starts a new one. Callers hold opMu.
func (c *Controller) start(ctx context.Context, origin acquisition.Origin) error {
	if err := c.waitWorker(ctx); err != nil {
		return err
	}
	if err := c.worker.Start(origin); err != nil {
		return fmt.Errorf("%w: %w", ErrAlreadyRunning, err)
	}
	c.metrics.SetAcquiring(true)
	return nil
}

// StopAcquisition stops free-run acquisition and waits for the last frame.
func (c *Controller) StopAcquisition(ctx context.Context) error {
	end, err := c.begin()
	if err != nil {
		return err
	}
	defer end()
	return c.stop(ctx)
}

func (c *Controller) stop(ctx context.Context) error {
	c.worker.RequestStop()
	return c.waitWorker(ctx)
}

// ToggleAcquisition stops acquisition when running, starts it otherwise.
func (c *Controller) ToggleAcquisition(ctx context.Context) error {
	if c.worker.Active() {
		return c.StopAcquisition(ctx)
	}
	return c.StartAcquisition(ctx)
}

// IsAcquiring reports whether a run is in progress.
func (c *Controller) IsAcquiring() bool {
	return c.worker.Active()
}

// SetAccumulate turns pushing acquired frames to the frame buffer on or off.
func (c *Controller) SetAccumulate(on bool) {
	c.mu.Lock()
	changed := c.accumulating != on
	c.accumulating = on
	c.mu.Unlock()

	if !changed {
		return
	}
	if on {
		c.history.Add(logger.INFO, module, "Started the buffer accumulation")
	} else {
		c.history.Add(logger.INFO, module, "Stopped the buffer accumulation")
	}
}

// ToggleAccumulate flips buffer accumulation and returns the new state.
func (c *Controller) ToggleAccumulate() bool {
	c.mu.Lock()
	on := !c.accumulating
	c.mu.Unlock()
	c.SetAccumulate(on)
	return on
}

// OpenWaterfall starts aggregating frames into the waterfall.
func (c *Controller) OpenWaterfall() {
	depth := c.store.Snapshot().WaterfallDepth
	width, _ := c.dev.Size()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wf != nil {
		return
	}
	c.wf = waterfall.New(depth, width)
	c.history.Add(logger.INFO, module, "Waterfall opened")
}

// CloseWaterfall stops aggregating and drops the waterfall data.
func (c *Controller) CloseWaterfall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wf == nil {
		return
	}
	c.wf = nil
	c.history.Add(logger.INFO, module, "Waterfall closed")
}

// ToggleWaterfall opens or closes the waterfall and returns whether it is open.
func (c *Controller) ToggleWaterfall() bool {
	c.mu.Lock()
	open := c.wf != nil
	c.mu.Unlock()
	if open {
		c.CloseWaterfall()
		return false
	}
	c.OpenWaterfall()
	return true
}

// SetROI restricts readout to r. It is rejected while acquiring, leaving the
// session unchanged.
func (c *Controller) SetROI(r types.Region) error {
	end, err := c.begin()
	if err != nil {
		return err
	}
	defer end()

	if c.worker.Active() {
		c.metrics.RejectedRequests.Add(1)
		c.history.Add(logger.ERROR, module, "Cannot change ROI while acquiring")
		return ErrConfigRejected
	}
	return c.applyROI(r)
}

// ClearROI resets the region to the full sensor.
func (c *Controller) ClearROI() error {
	return c.SetROI(types.FullRegion(c.dev.MaxSize()))
}

// applyROI normalises r, forwards it to the camera and resets the buffers
// that depend on the frame shape. Callers ensure acquisition is idle.
func (c *Controller) applyROI(r types.Region) error {
	maxW, maxH := c.dev.MaxSize()
	norm, err := session.NormalizeRegion(r, maxW, maxH)
	if err != nil {
		c.history.Add(logger.ERROR, module, "Rejected ROI: %v", err)
		return err
	}

	width, height, err := c.dev.SetROI(norm.XBounds(), norm.YBounds())
	if err != nil {
		c.history.Add(logger.ERROR, module, "Camera refused ROI: %v", err)
		return fmt.Errorf("failed to set ROI: %w", err)
	}

	c.mu.Lock()
	c.latest = types.NewFrame(width, height)
	if c.wf != nil {
		c.wf.Reset(width)
	}
	c.mu.Unlock()

	c.store.Update(func(cfg *session.Config) { cfg.Region = norm })
	c.history.Add(logger.INFO, module, "ROI set to x=[%d,%d] y=[%d,%d] (%dx%d)",
		norm.Left, norm.Right, norm.Bottom, norm.Top, width, height)
	return nil
}

// SetExposure changes the exposure. It is rejected while acquiring.
func (c *Controller) SetExposure(exposure time.Duration) error {
	end, err := c.begin()
	if err != nil {
		return err
	}
	defer end()

	if c.worker.Active() {
		c.metrics.RejectedRequests.Add(1)
		c.history.Add(logger.ERROR, module, "Cannot change exposure while acquiring")
		return ErrConfigRejected
	}
	if err := c.dev.SetExposure(exposure); err != nil {
		c.history.Add(logger.ERROR, module, "Camera refused exposure %s: %v", exposure, err)
		return err
	}
	c.store.Update(func(cfg *session.Config) { cfg.Exposure = exposure })
	c.history.Add(logger.INFO, module, "Exposure set to %s", exposure)
	return nil
}

// ApplyConfig replaces the session config: acquisition is stopped if
// running, the camera is updated, the refresh ticker is restarted with the
// new interval and acquisition resumes.
//
// The config and its region are checked before anything is stopped. If the
// camera refuses a setting, the previous exposure is restored, the stored
// config is left unchanged and acquisition resumes if it was running.
func (c *Controller) ApplyConfig(ctx context.Context, cfg session.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	end, err := c.begin()
	if err != nil {
		return err
	}
	defer end()

	old := c.store.Snapshot()
	newROI := !cfg.Region.IsZero() && cfg.Region != old.Region
	if newROI {
		maxW, maxH := c.dev.MaxSize()
		if _, err := session.NormalizeRegion(cfg.Region, maxW, maxH); err != nil {
			c.history.Add(logger.ERROR, module, "Rejected ROI: %v", err)
			return err
		}
	} else {
		cfg.Region = old.Region
	}

	wasAcquiring := c.worker.State() == acquisition.StateRunning
	if wasAcquiring {
		if err := c.stop(ctx); err != nil {
			return err
		}
	}

	if err := c.applyDevice(cfg, newROI); err != nil {
		if restoreErr := c.dev.SetExposure(old.Exposure); restoreErr != nil {
			c.history.Add(logger.ERROR, module, "Cannot restore exposure %s: %v", old.Exposure, restoreErr)
		}
		if wasAcquiring {
			if startErr := c.start(ctx, acquisition.OriginContinuous); startErr != nil {
				return errors.Join(err, startErr)
			}
		}
		return err
	}
	// applyROI stores the normalised region.
	cfg.Region = c.store.Snapshot().Region
	c.store.Replace(cfg)

	c.mu.Lock()
	if c.wf != nil && cfg.WaterfallDepth != old.WaterfallDepth {
		c.wf = waterfall.New(cfg.WaterfallDepth, c.wf.Width())
	}
	c.mu.Unlock()

	c.monitor.SetCapacityHint(cfg.QueueCapacityHint)
	c.recorder.SetFlush(cfg.FlushEvery, cfg.FlushInterval)
	c.history.Resize(cfg.LogHistory)

	select {
	case <-c.retick:
	default:
	}
	c.retick <- cfg.RefreshInterval

	if wasAcquiring {
		if err := c.start(ctx, acquisition.OriginContinuous); err != nil {
			return err
		}
	}

	c.history.Add(logger.INFO, module, "Updated the parameters")
	c.emit(ConfigApplied)
	return nil
}

// applyDevice pushes the exposure and, when changed, the region of cfg to
// the camera. Callers ensure acquisition is idle.
func (c *Controller) applyDevice(cfg session.Config, newROI bool) error {
	if err := c.dev.SetExposure(cfg.Exposure); err != nil {
		c.history.Add(logger.ERROR, module, "Camera refused exposure %s: %v", cfg.Exposure, err)
		return err
	}
	if newROI {
		return c.applyROI(cfg.Region)
	}
	return nil
}

// SaveImage writes the displayed frame to a new photo file and returns its path.
func (c *Controller) SaveImage() (string, error) {
	c.mu.Lock()
	frame := c.latest
	total := c.totalFrames
	c.mu.Unlock()

	if frame == nil || total == 0 {
		c.history.Add(logger.WARN, module, "No image to save")
		return "", ErrNoFrame
	}

	cfg := c.store.Snapshot()
	path, err := recorder.SaveSnapshot(cfg.SaveDirectory, cfg.PhotoFilename, frame, c.metadata(cfg))
	if err != nil {
		c.metrics.PersistenceErrors.Add(1)
		c.history.Add(logger.ERROR, module, "Saving image failed: %v", err)
		return "", err
	}
	c.metrics.SnapshotsSaved.Add(1)
	c.history.Add(logger.INFO, module, "Saved image to %s", path)
	return path, nil
}

func (c *Controller) metadata(cfg session.Config) container.Metadata {
	return container.Metadata{
		User:     cfg.User,
		Exposure: cfg.Exposure,
		Created:  time.Now(),
	}
}

// StartSaving starts stream-saving the frame buffer to a new movie file.
func (c *Controller) StartSaving() (string, error) {
	end, err := c.begin()
	if err != nil {
		return "", err
	}
	defer end()

	if c.recorder.IsRecording() {
		c.metrics.RejectedRequests.Add(1)
		c.history.Add(logger.WARN, module, "Continuous savings already triggered")
		return "", ErrAlreadyRunning
	}

	cfg := c.store.Snapshot()
	if err := os.MkdirAll(cfg.SaveDirectory, 0755); err != nil {
		c.history.Add(logger.ERROR, module, "Cannot create %s: %v", cfg.SaveDirectory, err)
		return "", fmt.Errorf("%w: %w", recorder.ErrPersistence, err)
	}
	path, err := recorder.UniquePath(cfg.SaveDirectory, cfg.MovieFilename, container.Ext)
	if err != nil {
		c.history.Add(logger.ERROR, module, "Cannot pick a movie file: %v", err)
		return "", fmt.Errorf("%w: %w", recorder.ErrPersistence, err)
	}

	if err := c.recorder.Start(path, c.metadata(cfg)); err != nil {
		if errors.Is(err, recorder.ErrAlreadyRecording) {
			c.history.Add(logger.WARN, module, "Continuous savings already triggered")
			return "", fmt.Errorf("%w: %w", ErrAlreadyRunning, err)
		}
		c.history.Add(logger.ERROR, module, "Starting continuous savings failed: %v", err)
		return "", err
	}
	c.history.Add(logger.INFO, module, "Started the Continuous savings to %s", path)
	return path, nil
}

// StopSaving pushes the stop sentinel. Frames already queued are still saved.
func (c *Controller) StopSaving() error {
	if err := c.recorder.Stop(); err != nil {
		return err
	}
	c.history.Add(logger.INFO, module, "Stopped the Continuous savings")
	return nil
}

// WaitSaving blocks until the current save run has finalized.
func (c *Controller) WaitSaving(ctx context.Context) error {
	return c.recorder.Wait(ctx)
}

// Recording returns the status of the current save run.
func (c *Controller) Recording() recorder.RecordingStatus {
	return c.recorder.GetStatus()
}

// ClearBuffer discards the frame buffer in the background. It fails while
// continuous saving holds the buffer.
func (c *Controller) ClearBuffer() error {
	err := c.drainer.Start()
	switch {
	case errors.Is(err, framebuffer.ErrConsumerBusy):
		c.history.Add(logger.ERROR, module, "Cannot clear the buffer while saving")
		return err
	case errors.Is(err, framebuffer.ErrDrainRunning):
		return nil
	case err != nil:
		return err
	}
	c.history.Add(logger.INFO, module, "Clearing the buffer")
	return nil
}

// ClearDone is closed when the last ClearBuffer has finished.
func (c *Controller) ClearDone() <-chan struct{} {
	return c.drainer.Done()
}

// RequestClose starts the shutdown. Run returns once it is complete.
func (c *Controller) RequestClose() {
	c.closeOnce.Do(func() { close(c.closeReq) })
}

// shutdown runs on the Run goroutine: stop acquisition, let saving finalize,
// drain the buffer, release the camera.
func (c *Controller) shutdown() {
	logger.Info(module, "Shutting down")

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	// An operation may be waiting for the worker while holding opMu, so the
	// worker is stopped before and after taking it.
	c.stopAndConsume()
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.stopAndConsume()

	if c.recorder.IsRecording() {
		if err := c.recorder.Stop(); err == nil {
			c.history.Add(logger.INFO, module, "Stopped the Continuous savings")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
	if err := c.recorder.Wait(ctx); err != nil {
		c.history.Add(logger.ERROR, module, "Continuous saving did not finish cleanly: %v", err)
	}
	cancel()

	if err := c.drainer.Start(); err != nil {
		c.history.Add(logger.WARN, module, "Cannot clear the buffer: %v", err)
	} else {
		<-c.drainer.Done()
	}
	c.metrics.FramesDiscarded.Store(c.drainer.Discarded())

	if err := c.dev.Stop(); err != nil {
		c.history.Add(logger.WARN, module, "Ignoring camera stop error: %v", err)
	}

	c.metrics.SetAcquiring(false)
	c.metrics.SetSaving(false)
	c.emit(Closed)
	close(c.done)
	logger.Info(module, "Shutdown complete")
}

// stopAndConsume stops the worker while handling its remaining results.
func (c *Controller) stopAndConsume() {
	for {
		c.worker.RequestStop()
		select {
		case r := <-c.results:
			c.handleResult(r)
		case <-c.worker.Done():
			return
		}
	}
}
