package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enricmcalvo/UUTrap/internal/camera"
	"github.com/enricmcalvo/UUTrap/internal/container"
	"github.com/enricmcalvo/UUTrap/internal/framebuffer"
	"github.com/enricmcalvo/UUTrap/internal/health"
	"github.com/enricmcalvo/UUTrap/internal/metrics"
	"github.com/enricmcalvo/UUTrap/internal/recorder"
	"github.com/enricmcalvo/UUTrap/internal/session"
	"github.com/enricmcalvo/UUTrap/pkg/types"
)

const (
	sensorW = 128
	sensorH = 64
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

type fixedCPU float64

func (f fixedCPU) CPUPercent() (float64, error) { return float64(f), nil }

type eventLog struct {
	mu   sync.Mutex
	seen map[Event]int
}

func (l *eventLog) count(ev Event) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[ev]
}

type harness struct {
	c       *Controller
	cam     *camera.Simulated
	metrics *metrics.Metrics
	events  *eventLog
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, camOpts []camera.SimulatedOption, opts ...Option) *harness {
	t.Helper()
	cam := camera.NewSimulated(sensorW, sensorH, camOpts...)
	return startHarness(t, cam, cam, opts...)
}

// startHarness runs a controller over dev, which wraps cam.
func startHarness(t *testing.T, cam *camera.Simulated, dev camera.Device, opts ...Option) *harness {
	t.Helper()

	cfg := session.DefaultConfig()
	cfg.SaveDirectory = t.TempDir()
	cfg.RefreshInterval = 10 * time.Millisecond
	cfg.Exposure = time.Millisecond
	cfg.WaterfallDepth = 16
	cfg.FlushInterval = 20 * time.Millisecond

	m := metrics.New()
	opts = append([]Option{WithCPUSampler(fixedCPU(5)), WithMetrics(m)}, opts...)
	c, err := New(dev, session.NewStore(cfg), opts...)
	require.NoError(t, err)

	h := &harness{
		c:       c,
		cam:     cam,
		metrics: m,
		events:  &eventLog{seen: map[Event]int{}},
	}

	go func() {
		for {
			select {
			case ev := <-c.Events():
				h.events.record(ev)
			case <-c.Done():
				for {
					select {
					case ev := <-c.Events():
						h.events.record(ev)
					default:
						return
					}
				}
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go c.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})
	return h
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	l.seen[ev]++
	l.mu.Unlock()
}

func (h *harness) waitEvent(t *testing.T, ev Event, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.events.count(ev) >= n }, waitFor, tick, "waiting for %s", ev)
}

func (h *harness) waitFrames(t *testing.T, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return h.metrics.FramesAcquired.Load() >= n }, waitFor, tick)
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

func logContains(c *Controller, text string) bool {
	for _, e := range c.Log() {
		if strings.Contains(e.Message, text) {
			return true
		}
	}
	return false
}

func TestStartAcquisitionIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	require.NoError(t, h.c.StartAcquisition(ctxT(t)))
	assert.ErrorIs(t, h.c.StartAcquisition(ctxT(t)), ErrAlreadyRunning)
	assert.True(t, h.c.IsAcquiring())
	assert.True(t, logContains(h.c, "Free run already started"))
	// A snap does not pre-empt the running worker.
	assert.ErrorIs(t, h.c.Snap(ctxT(t)), ErrAlreadyRunning)
	assert.True(t, h.c.IsAcquiring())
	h.waitFrames(t, 3)

	require.NoError(t, h.c.StopAcquisition(ctxT(t)))
	assert.False(t, h.c.IsAcquiring())
	h.waitEvent(t, AcquisitionStopped, 1)

	// Stopping when idle is harmless.
	require.NoError(t, h.c.StopAcquisition(ctxT(t)))
}

func TestSetROIRejectedWhileAcquiring(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	before := h.c.Config()

	require.NoError(t, h.c.StartAcquisition(ctxT(t)))
	err := h.c.SetROI(types.Region{Left: 1, Right: 100, Bottom: 1, Top: 50})
	assert.ErrorIs(t, err, ErrConfigRejected)
	assert.ErrorIs(t, h.c.SetExposure(time.Second), ErrConfigRejected)

	assert.Equal(t, before, h.c.Config())
	w, hh := h.cam.Size()
	assert.Equal(t, sensorW, w)
	assert.Equal(t, sensorH, hh)
	assert.True(t, logContains(h.c, "Cannot change ROI while acquiring"))
	assert.Equal(t, uint64(2), h.metrics.RejectedRequests.Load())

	require.NoError(t, h.c.StopAcquisition(ctxT(t)))
}

func TestSetROIResetsShapeDependentBuffers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.c.OpenWaterfall()
	require.Len(t, h.c.View().Waterfall, 16)
	assert.Len(t, h.c.View().Waterfall[0], sensorW)

	require.NoError(t, h.c.SetROI(types.Region{Left: 100, Right: 1, Bottom: 50, Top: 1}))

	w, hh := h.cam.Size()
	assert.Equal(t, 100, w)
	assert.Equal(t, 50, hh)

	v := h.c.View()
	require.Len(t, v.Waterfall, 16)
	for _, row := range v.Waterfall {
		assert.Len(t, row, 100)
	}
	require.NotNil(t, v.Latest)
	assert.Equal(t, 100, v.Latest.Width)
	assert.Equal(t, 50, v.Latest.Height)
	assert.Equal(t, types.Region{Left: 1, Right: 100, Bottom: 1, Top: 50}, v.Region)

	require.NoError(t, h.c.ClearROI())
	assert.Equal(t, types.FullRegion(sensorW, sensorH), h.c.Config().Region)
	assert.Len(t, h.c.View().Waterfall[0], sensorW)
}

func TestSnap(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	_, err := h.c.SaveImage()
	assert.ErrorIs(t, err, ErrNoFrame)

	require.NoError(t, h.c.Snap(ctxT(t)))
	h.waitEvent(t, AcquisitionStopped, 1)
	assert.Equal(t, uint64(1), h.metrics.FramesAcquired.Load())
	assert.False(t, h.c.IsAcquiring())

	first, err := h.c.SaveImage()
	require.NoError(t, err)
	second, err := h.c.SaveImage()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(first, "photo_1"+container.Ext))
	assert.True(t, strings.HasSuffix(second, "photo_2"+container.Ext))
	assert.Equal(t, uint64(2), h.metrics.SnapshotsSaved.Load())

	require.NoError(t, h.c.StartAcquisition(ctxT(t)))
	assert.ErrorIs(t, h.c.Snap(ctxT(t)), ErrAlreadyRunning)
	assert.True(t, logContains(h.c, "Tried to snap while in free run"))
	require.NoError(t, h.c.StopAcquisition(ctxT(t)))
}

func TestContinuousSaveKeepsAccumulatedFrames(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.c.SetAccumulate(true)
	path, err := h.c.StartSaving()
	require.NoError(t, err)
	_, err = h.c.StartSaving()
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, h.c.StartAcquisition(ctxT(t)))
	h.waitFrames(t, 10)
	require.NoError(t, h.c.StopAcquisition(ctxT(t)))

	require.NoError(t, h.c.StopSaving())
	require.NoError(t, h.c.WaitSaving(ctxT(t)))

	f, err := container.Open(path)
	require.NoError(t, err)
	assert.Equal(t, int(h.metrics.FramesQueued.Load()), f.Dataset.Count)
	assert.Equal(t, h.metrics.FramesSaved.Load(), h.metrics.FramesQueued.Load())
	assert.Equal(t, "unknown", f.Metadata.User)
	assert.Equal(t, time.Millisecond, f.Metadata.Exposure)

	frames, err := f.Frames()
	require.NoError(t, err)
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].Seq, frames[i-1].Seq)
	}
}

func TestClearBuffer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.c.SetAccumulate(true)

	for i := 1; i <= 3; i++ {
		require.NoError(t, h.c.Snap(ctxT(t)))
		h.waitEvent(t, AcquisitionStopped, i)
	}
	assert.Equal(t, 3, h.c.Queue().Len())

	require.NoError(t, h.c.ClearBuffer())
	select {
	case <-h.c.ClearDone():
	case <-time.After(waitFor):
		t.Fatal("clear did not finish")
	}
	assert.Zero(t, h.c.Queue().Len())
	require.Eventually(t, func() bool { return h.metrics.FramesDiscarded.Load() == 3 }, waitFor, tick)
}

func TestClearBufferRefusedWhileSaving(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	_, err := h.c.StartSaving()
	require.NoError(t, err)
	assert.ErrorIs(t, h.c.ClearBuffer(), framebuffer.ErrConsumerBusy)
	require.NoError(t, h.c.StopSaving())
	require.NoError(t, h.c.WaitSaving(ctxT(t)))
}

func TestApplyConfigRestartsAcquisition(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	require.NoError(t, h.c.StartAcquisition(ctxT(t)))
	h.waitFrames(t, 2)

	cfg := h.c.Config()
	cfg.Exposure = 2 * time.Millisecond
	cfg.RefreshInterval = 20 * time.Millisecond
	cfg.User = "alice"
	cfg.Region = types.Region{Left: 10, Right: 41, Bottom: 1, Top: 32}
	require.NoError(t, h.c.ApplyConfig(ctxT(t), cfg))

	assert.True(t, h.c.IsAcquiring())
	assert.Equal(t, 2*time.Millisecond, h.cam.Exposure())
	assert.Equal(t, "alice", h.c.Config().User)
	w, hh := h.cam.Size()
	assert.Equal(t, 32, w)
	assert.Equal(t, 32, hh)
	h.waitEvent(t, ConfigApplied, 1)
	assert.True(t, logContains(h.c, "Updated the parameters"))

	require.NoError(t, h.c.StopAcquisition(ctxT(t)))

	bad := h.c.Config()
	bad.WaterfallDepth = 0
	assert.Error(t, h.c.ApplyConfig(ctxT(t), bad))
}

func TestApplyConfigRejectsRegionBeforeStopping(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	require.NoError(t, h.c.StartAcquisition(ctxT(t)))
	h.waitFrames(t, 2)
	before := h.c.Config()

	cfg := before
	cfg.Exposure = 7 * time.Millisecond
	cfg.Region = types.Region{Left: 5, Right: 5, Bottom: 1, Top: 10}
	err := h.c.ApplyConfig(ctxT(t), cfg)
	require.ErrorIs(t, err, session.ErrInvalidRegion)

	assert.True(t, h.c.IsAcquiring())
	assert.Equal(t, time.Millisecond, h.cam.Exposure())
	assert.Equal(t, before, h.c.Config())
	assert.True(t, logContains(h.c, "Rejected ROI"))

	n := h.metrics.FramesAcquired.Load()
	h.waitFrames(t, n+2)
	require.NoError(t, h.c.StopAcquisition(ctxT(t)))
}

// roiFault refuses ROI changes while refuse is set.
type roiFault struct {
	*camera.Simulated
	refuse atomic.Bool
}

func (d *roiFault) SetROI(x, y [2]int) (int, int, error) {
	if d.refuse.Load() {
		return 0, 0, errors.New("roi refused by firmware")
	}
	return d.Simulated.SetROI(x, y)
}

func TestApplyConfigRestoresCameraWhenRefused(t *testing.T) {
	t.Parallel()
	cam := camera.NewSimulated(sensorW, sensorH)
	dev := &roiFault{Simulated: cam}
	h := startHarness(t, cam, dev)

	require.NoError(t, h.c.StartAcquisition(ctxT(t)))
	h.waitFrames(t, 2)
	before := h.c.Config()

	dev.refuse.Store(true)
	cfg := before
	cfg.Exposure = 7 * time.Millisecond
	cfg.Region = types.Region{Left: 10, Right: 41, Bottom: 1, Top: 32}
	err := h.c.ApplyConfig(ctxT(t), cfg)
	require.ErrorContains(t, err, "roi refused by firmware")

	assert.True(t, h.c.IsAcquiring(), "acquisition resumes after a refused config")
	assert.Equal(t, time.Millisecond, cam.Exposure())
	assert.Equal(t, before, h.c.Config())
	w, hh := cam.Size()
	assert.Equal(t, sensorW, w)
	assert.Equal(t, sensorH, hh)

	n := h.metrics.FramesAcquired.Load()
	h.waitFrames(t, n+2)
	require.NoError(t, h.c.StopAcquisition(ctxT(t)))
	assert.Zero(t, h.events.count(ConfigApplied))
}

func TestApplyConfigUpdatesRuntimeSettings(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	cfg := h.c.Config()
	cfg.QueueCapacityHint = 10
	cfg.FlushEvery = 5
	cfg.FlushInterval = 40 * time.Millisecond
	cfg.LogHistory = 3
	require.NoError(t, h.c.ApplyConfig(ctxT(t), cfg))

	every, interval := h.c.recorder.FlushSettings()
	assert.Equal(t, 5, every)
	assert.Equal(t, 40*time.Millisecond, interval)
	assert.LessOrEqual(t, len(h.c.Log()), 3)

	for i := 0; i < 8; i++ {
		h.c.Queue().Push(types.NewFrame(4, 4))
	}
	require.Eventually(t, func() bool {
		s := h.c.View().Health
		return s.QueueLength == 8 && s.QueueLevel == health.Critical
	}, waitFor, tick)
	assert.InDelta(t, 80.0, h.c.View().Health.QueueOccupancyPercent, 1e-9)
}

// brokenDisk is a save file whose Flush always fails.
type brokenDisk struct {
	recorder.Sink
}

func (brokenDisk) Flush() error { return errors.New("input/output error") }

func TestContinuousSaveFailureIsLogged(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, WithRecorderOptions(recorder.WithCreate(
		func(path string, meta container.Metadata) (recorder.Sink, error) {
			w, err := container.Create(path, meta)
			if err != nil {
				return nil, err
			}
			return brokenDisk{Sink: w}, nil
		})))

	h.c.SetAccumulate(true)
	_, err := h.c.StartSaving()
	require.NoError(t, err)
	require.NoError(t, h.c.StartAcquisition(ctxT(t)))

	err = h.c.WaitSaving(ctxT(t))
	require.ErrorIs(t, err, recorder.ErrPersistence)
	assert.ErrorContains(t, err, "input/output error")
	assert.False(t, h.c.Recording().Recording)
	assert.Empty(t, h.c.Queue().Consumer())

	require.Eventually(t, func() bool { return logContains(h.c, "Continuous saving failed") }, waitFor, tick)
	assert.Equal(t, uint64(1), h.metrics.PersistenceErrors.Load())

	// Acquisition is unaffected and the buffer can be cleared again.
	assert.True(t, h.c.IsAcquiring())
	require.NoError(t, h.c.StopAcquisition(ctxT(t)))
	require.NoError(t, h.c.ClearBuffer())
	<-h.c.ClearDone()
}

func TestDeviceFailureStopsAcquisition(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []camera.SimulatedOption{camera.WithFailAfter(3)})

	require.NoError(t, h.c.StartAcquisition(ctxT(t)))
	h.waitEvent(t, AcquisitionStopped, 1)

	assert.False(t, h.c.IsAcquiring())
	assert.Equal(t, uint64(3), h.metrics.FramesAcquired.Load())
	assert.Equal(t, uint64(1), h.metrics.DeviceErrors.Load())
	assert.True(t, logContains(h.c, "Acquisition stopped"))
}

func TestRefreshHookReportsHealth(t *testing.T) {
	t.Parallel()

	views := make(chan View, 1)
	h := newHarness(t, nil, WithOnRefresh(func(v View) {
		select {
		case views <- v:
		default:
		}
	}))
	h.c.SetAccumulate(true)
	require.NoError(t, h.c.Snap(ctxT(t)))
	h.waitEvent(t, AcquisitionStopped, 1)

	require.Eventually(t, func() bool {
		v := <-views
		return v.Health.QueueLength == 1 && v.Health.TotalFrames == 1
	}, waitFor, tick)

	v := h.c.View()
	assert.InDelta(t, 0.5, v.Health.QueueOccupancyPercent, 1e-9)
	assert.Equal(t, 5.0, v.Health.CPUPercent)
	assert.True(t, v.Accumulating)
	assert.False(t, v.Acquiring)
	assert.Equal(t, uint64(1), h.metrics.QueueLength.Load())
}

func TestCloseFinalizesSavingAndReleasesCamera(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.c.SetAccumulate(true)
	path, err := h.c.StartSaving()
	require.NoError(t, err)
	require.NoError(t, h.c.StartAcquisition(ctxT(t)))
	h.waitFrames(t, 5)

	h.c.RequestClose()
	select {
	case <-h.c.Done():
	case <-time.After(waitFor):
		t.Fatal("shutdown did not complete")
	}

	h.waitEvent(t, CloseRequested, 1)
	h.waitEvent(t, Closed, 1)

	f, err := container.Open(path)
	require.NoError(t, err)
	assert.True(t, f.Finalized)
	assert.Equal(t, int(h.metrics.FramesQueued.Load()), f.Dataset.Count)
	assert.Zero(t, h.c.Queue().Len())

	assert.ErrorIs(t, h.cam.Trigger(), camera.ErrStopped)
	assert.ErrorIs(t, h.c.StartAcquisition(ctxT(t)), ErrClosed)
	assert.ErrorIs(t, h.c.SetROI(types.FullRegion(sensorW, sensorH)), ErrClosed)
}

func TestToggles(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	assert.True(t, h.c.ToggleAccumulate())
	assert.False(t, h.c.ToggleAccumulate())
	assert.True(t, logContains(h.c, "Stopped the buffer accumulation"))

	assert.True(t, h.c.ToggleWaterfall())
	assert.False(t, h.c.ToggleWaterfall())
	assert.Nil(t, h.c.View().Waterfall)

	require.NoError(t, h.c.ToggleAcquisition(ctxT(t)))
	assert.True(t, h.c.IsAcquiring())
	require.NoError(t, h.c.ToggleAcquisition(ctxT(t)))
	assert.False(t, h.c.IsAcquiring())
}

func TestEventString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "frame-ready", FrameReady.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "unknown", Event(99).String())
}
