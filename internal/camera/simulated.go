package camera

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/enricmcalvo/UUTrap/pkg/types"
)

// SimulatedOption configures a Simulated camera.
type SimulatedOption func(*Simulated)

// WithROIStep makes the simulated hardware round ROI widths and heights down
// to a multiple of step, the way binning cameras do.
func WithROIStep(step int) SimulatedOption {
	return func(s *Simulated) {
		if step > 0 {
			s.step = step
		}
	}
}

// WithFailAfter makes Read fail once n frames have been read.
func WithFailAfter(n int) SimulatedOption {
	return func(s *Simulated) {
		s.failAfter = n
	}
}

// WithExposure sets the initial exposure.
func WithExposure(d time.Duration) SimulatedOption {
	return func(s *Simulated) {
		s.exposure = d
	}
}

// Simulated is a synthetic 16-bit sensor: a horizontal gradient with a bright
// spot that drifts a little every frame, plus deterministic noise.
type Simulated struct {
	mu        sync.Mutex
	maxW      int
	maxH      int
	roiX      [2]int
	roiY      [2]int
	step      int
	exposure  time.Duration
	triggered bool
	stopped   bool
	seq       uint64
	failAfter int
	noise     uint32
}

// NewSimulated creates a simulated camera with the given sensor size.
func NewSimulated(maxWidth, maxHeight int, opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		maxW:  maxWidth,
		maxH:  maxHeight,
		roiX:  [2]int{1, maxWidth},
		roiY:  [2]int{1, maxHeight},
		step:  1,
		noise: 2463534242,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Trigger implements Device.
func (s *Simulated) Trigger() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("%w: trigger: %w", ErrDevice, ErrStopped)
	}
	s.triggered = true
	return nil
}

// Read implements Device. It sleeps for the exposure time.
func (s *Simulated) Read() (*types.Frame, error) {
	s.mu.Lock()
	exposure := s.exposure
	s.mu.Unlock()

	if exposure > 0 {
		time.Sleep(exposure)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, fmt.Errorf("%w: read: %w", ErrDevice, ErrStopped)
	}
	if !s.triggered {
		return nil, fmt.Errorf("%w: read without trigger", ErrDevice)
	}
	if s.failAfter > 0 && s.seq >= uint64(s.failAfter) {
		return nil, fmt.Errorf("%w: simulated readout failure after %d frames", ErrDevice, s.seq)
	}
	s.triggered = false

	w := s.roiX[1] - s.roiX[0] + 1
	h := s.roiY[1] - s.roiY[0] + 1
	frame := types.NewFrame(w, h)
	frame.Seq = s.seq
	frame.Timestamp = time.Now()

	// Spot position in sensor coordinates.
	cx := float64(s.maxW)/2 + float64(s.maxW)/4*math.Sin(float64(s.seq)/25)
	cy := float64(s.maxH) / 2
	sigma := float64(s.maxW) / 20
	gain := 1.0 + exposure.Seconds()*10

	for y := 0; y < h; y++ {
		sy := float64(s.roiY[0] + y)
		for x := 0; x < w; x++ {
			sx := float64(s.roiX[0] + x)
			d2 := (sx-cx)*(sx-cx) + (sy-cy)*(sy-cy)
			v := 1000*sx/float64(s.maxW) + 20000*math.Exp(-d2/(2*sigma*sigma))
			v = v*gain + float64(s.nextNoise()%200)
			if v > math.MaxUint16 {
				v = math.MaxUint16
			}
			frame.Data[y*w+x] = uint16(v)
		}
	}
	s.seq++

	return frame, nil
}

// nextNoise is a xorshift32 step; callers hold s.mu.
func (s *Simulated) nextNoise() uint32 {
	x := s.noise
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	s.noise = x
	return x
}

// SetROI implements Device. Bounds are clamped to the sensor and the size is
// rounded down to the hardware step.
func (s *Simulated) SetROI(x, y [2]int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0, 0, fmt.Errorf("%w: set roi: %w", ErrDevice, ErrStopped)
	}

	x0, x1 := clampRange(x, s.maxW)
	y0, y1 := clampRange(y, s.maxH)
	x0, w := fit(x0, roundDown(x1-x0+1, s.step), s.maxW)
	y0, h := fit(y0, roundDown(y1-y0+1, s.step), s.maxH)

	s.roiX = [2]int{x0, x0 + w - 1}
	s.roiY = [2]int{y0, y0 + h - 1}
	return w, h, nil
}

// SetExposure implements Device.
func (s *Simulated) SetExposure(exposure time.Duration) error {
	if exposure < 0 {
		return fmt.Errorf("%w: negative exposure %s", ErrDevice, exposure)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exposure = exposure
	return nil
}

// Exposure returns the current exposure.
func (s *Simulated) Exposure() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exposure
}

// Size implements Device.
func (s *Simulated) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roiX[1] - s.roiX[0] + 1, s.roiY[1] - s.roiY[0] + 1
}

// MaxSize implements Device.
func (s *Simulated) MaxSize() (int, int) {
	return s.maxW, s.maxH
}

// Stop implements Device. Stopping twice is an error.
func (s *Simulated) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("%w: already stopped", ErrStopped)
	}
	s.stopped = true
	return nil
}

func clampRange(b [2]int, limit int) (int, int) {
	lo, hi := b[0], b[1]
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo < 1 {
		lo = 1
	}
	if hi > limit {
		hi = limit
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// fit shifts a window of size n starting at lo so that it ends inside [1, limit].
func fit(lo, n, limit int) (int, int) {
	if n > limit {
		return 1, limit
	}
	if lo+n-1 > limit {
		lo = limit - n + 1
	}
	return lo, n
}

func roundDown(n, step int) int {
	if step <= 1 {
		return n
	}
	if r := n - n%step; r > 0 {
		return r
	}
	return step
}
