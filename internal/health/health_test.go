package health

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeCPU struct {
	values []float64
	err    error
}

func (f *fakeCPU) CPUPercent() (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	v := f.values[0]
	if len(f.values) > 1 {
		f.values = f.values[1:]
	}
	return v, nil
}

func TestClassifyQueue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		percent float64
		want    Level
	}{
		{80, Critical},
		{75.5, Critical},
		{75, Warning},
		{60, Warning},
		{50, Normal},
		{30, Normal},
		{0, Normal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyQueue(tt.percent), "percent %v", tt.percent)
	}
}

func TestClassifyCPU(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Critical, ClassifyCPU(90))
	assert.Equal(t, Normal, ClassifyCPU(60))
	assert.Equal(t, Normal, ClassifyCPU(75))
}

func TestSampleQueueBands(t *testing.T) {
	t.Parallel()

	m := NewMonitor(200, &fakeCPU{values: []float64{10}})
	now := time.Now()

	assert.Equal(t, Critical, m.Sample(160, 0, now).QueueLevel)
	assert.Equal(t, Warning, m.Sample(120, 0, now).QueueLevel)
	assert.Equal(t, Normal, m.Sample(60, 0, now).QueueLevel)

	// The hint is not a limit: occupancy can exceed 100%.
	s := m.Sample(500, 0, now)
	assert.InDelta(t, 250.0, s.QueueOccupancyPercent, 1e-9)
	assert.Equal(t, Critical, s.QueueLevel)
}

func TestSampleIntervals(t *testing.T) {
	t.Parallel()

	m := NewMonitor(0, &fakeCPU{values: []float64{20, 80}})
	assert.Equal(t, DefaultCapacityHint, m.CapacityHint())

	t0 := time.Unix(1000, 0)
	first := m.Sample(0, 0, t0)
	assert.Zero(t, first.RefreshInterval)
	assert.Zero(t, first.BufferInterval)
	assert.Equal(t, Normal, first.CPULevel)

	// A single frame has no period yet.
	m.FrameConsumed(t0.Add(10 * time.Millisecond))
	second := m.Sample(0, 42, t0.Add(50*time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, second.RefreshInterval)
	assert.Zero(t, second.BufferInterval)
	assert.Equal(t, uint64(42), second.TotalFrames)
	assert.Equal(t, Critical, second.CPULevel)
}

func TestBufferIntervalIsFramePeriod(t *testing.T) {
	t.Parallel()

	m := NewMonitor(0, &fakeCPU{values: []float64{0}})
	t0 := time.Unix(2000, 0)
	for i := 0; i < 5; i++ {
		m.FrameConsumed(t0.Add(time.Duration(i) * 10 * time.Millisecond))
	}

	// The tick arrives long after the last frame; the period is unchanged.
	s := m.Sample(0, 5, t0.Add(540*time.Millisecond))
	assert.Equal(t, 10*time.Millisecond, s.BufferInterval)
}

func TestSetCapacityHint(t *testing.T) {
	t.Parallel()

	m := NewMonitor(200, &fakeCPU{values: []float64{0}})
	m.SetCapacityHint(10)
	assert.Equal(t, 10, m.CapacityHint())

	s := m.Sample(8, 0, time.Now())
	assert.InDelta(t, 80.0, s.QueueOccupancyPercent, 1e-9)
	assert.Equal(t, Critical, s.QueueLevel)

	m.SetCapacityHint(0)
	assert.Equal(t, DefaultCapacityHint, m.CapacityHint())
}

func TestSampleKeepsLastCPUOnError(t *testing.T) {
	t.Parallel()

	cpu := &fakeCPU{values: []float64{33}}
	m := NewMonitor(200, cpu)
	m.Sample(0, 0, time.Now())

	cpu.err = errors.New("boom")
	s := m.Sample(0, 0, time.Now())
	assert.Equal(t, 33.0, s.CPUPercent)
	assert.Equal(t, 1, m.CPUFailures())
}

func TestLevelString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "normal", Normal.String())
	assert.Equal(t, "warning", Warning.String())
	assert.Equal(t, "critical", Critical.String())
}
