// Package health samples queue occupancy and CPU load and classifies them for
// display. Classification is advisory; nothing acts on it.
package health

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// Level is a display band.
type Level int

const (
	Normal Level = iota
	Warning
	Critical
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "normal"
	}
}

// Thresholds in percent.
const (
	CriticalPercent = 75
	WarningPercent  = 50
)

// DefaultCapacityHint is the queue size treated as 100% occupancy.
const DefaultCapacityHint = 200

// ClassifyQueue maps a queue occupancy to a band.
func ClassifyQueue(percent float64) Level {
	switch {
	case percent > CriticalPercent:
		return Critical
	case percent > WarningPercent:
		return Warning
	default:
		return Normal
	}
}

// ClassifyCPU maps a CPU load to a band. CPU has no warning band.
func ClassifyCPU(percent float64) Level {
	if percent > CriticalPercent {
		return Critical
	}
	return Normal
}

// CPUSampler returns the current CPU load in percent.
type CPUSampler interface {
	CPUPercent() (float64, error)
}

// HostCPU samples whole-host CPU load with gopsutil. Each call reports the
// load since the previous call.
type HostCPU struct{}

// CPUPercent implements CPUSampler.
func (HostCPU) CPUPercent() (float64, error) {
	pct, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, nil
	}
	return pct[0], nil
}

// Sample is one refresh-tick reading.
type Sample struct {
	QueueLength           int
	QueueOccupancyPercent float64
	QueueLevel            Level
	CPUPercent            float64
	CPULevel              Level
	BufferInterval        time.Duration
	RefreshInterval       time.Duration
	TotalFrames           uint64
}

// Monitor produces a Sample per refresh tick.
type Monitor struct {
	capacityHint int
	sampler      CPUSampler

	mu          sync.Mutex
	lastFrame   time.Time
	framePeriod time.Duration
	lastTick    time.Time
	lastCPU     float64
	cpuFailures int
}

// NewMonitor creates a monitor. A capacityHint <= 0 uses DefaultCapacityHint;
// a nil sampler uses HostCPU.
func NewMonitor(capacityHint int, sampler CPUSampler) *Monitor {
	if capacityHint <= 0 {
		capacityHint = DefaultCapacityHint
	}
	if sampler == nil {
		sampler = HostCPU{}
	}
	return &Monitor{
		capacityHint: capacityHint,
		sampler:      sampler,
	}
}

// CapacityHint returns the queue size treated as full.
func (m *Monitor) CapacityHint() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacityHint
}

// SetCapacityHint changes the queue size treated as full. n <= 0 restores
// DefaultCapacityHint.
func (m *Monitor) SetCapacityHint(n int) {
	if n <= 0 {
		n = DefaultCapacityHint
	}
	m.mu.Lock()
	m.capacityHint = n
	m.mu.Unlock()
}

// FrameConsumed records the time the controller consumed a frame. The gap to
// the previous frame becomes the reported buffer interval.
func (m *Monitor) FrameConsumed(t time.Time) {
	m.mu.Lock()
	if !m.lastFrame.IsZero() {
		m.framePeriod = t.Sub(m.lastFrame)
	}
	m.lastFrame = t
	m.mu.Unlock()
}

// Sample takes a reading at now. BufferInterval is the gap between the last
// two consumed frames; RefreshInterval is the gap since the previous tick.
// Both are zero until there is something to measure from. A failing CPU sampler repeats the last value.
func (m *Monitor) Sample(queueLen int, totalFrames uint64, now time.Time) Sample {
	cpuPct, err := m.sampler.CPUPercent()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.cpuFailures++
		cpuPct = m.lastCPU
	} else {
		m.lastCPU = cpuPct
	}

	s := Sample{
		QueueLength:           queueLen,
		QueueOccupancyPercent: 100 * float64(queueLen) / float64(m.capacityHint),
		CPUPercent:            cpuPct,
		TotalFrames:           totalFrames,
	}
	s.QueueLevel = ClassifyQueue(s.QueueOccupancyPercent)
	s.CPULevel = ClassifyCPU(cpuPct)

	s.BufferInterval = m.framePeriod
	if !m.lastTick.IsZero() {
		s.RefreshInterval = now.Sub(m.lastTick)
	}
	m.lastTick = now
	return s
}

// CPUFailures returns how many CPU samples failed.
func (m *Monitor) CPUFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cpuFailures
}
