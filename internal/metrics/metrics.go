package metrics

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	// Frame counters
	FramesAcquired  atomic.Uint64
	FramesQueued    atomic.Uint64
	FramesSaved     atomic.Uint64
	FramesDiscarded atomic.Uint64
	SnapshotsSaved  atomic.Uint64

	// Error counters
	DeviceErrors      atomic.Uint64
	PersistenceErrors atomic.Uint64
	RejectedRequests  atomic.Uint64

	// Queue and load, refreshed every tick
	QueueLength           atomic.Uint64
	QueueOccupancyPercent atomic.Uint64
	cpuPercentBits        atomic.Uint64 // float64 bits

	// Timing
	BufferIntervalMs  atomic.Uint64
	RefreshIntervalMs atomic.Uint64

	// State flags (0 = off, 1 = on)
	Acquiring atomic.Uint64
	Saving    atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "camera",
			Name:      name,
			Help:      help,
		},
		fn,
	))
}

func loader(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Frame counters
	m.gauge("frames_acquired_total", "Total frames read from the camera", loader(&m.FramesAcquired))
	m.gauge("frames_queued_total", "Total frames pushed to the frame buffer", loader(&m.FramesQueued))
	m.gauge("frames_saved_total", "Total frames written to containers", loader(&m.FramesSaved))
	m.gauge("frames_discarded_total", "Total frames discarded by clear-buffer", loader(&m.FramesDiscarded))
	m.gauge("snapshots_saved_total", "Total single-shot images saved", loader(&m.SnapshotsSaved))

	// Errors
	m.gauge("device_errors_total", "Total camera trigger/read failures", loader(&m.DeviceErrors))
	m.gauge("persistence_errors_total", "Total failed save runs", loader(&m.PersistenceErrors))
	m.gauge("rejected_requests_total", "Total requests refused because of the acquisition state", loader(&m.RejectedRequests))

	// Queue and load
	m.gauge("queue_length", "Frames waiting in the frame buffer", loader(&m.QueueLength))
	m.gauge("queue_occupancy_percent", "Frame buffer length relative to the capacity hint", loader(&m.QueueOccupancyPercent))
	m.gauge("cpu_percent", "Host CPU load", m.CPUPercent)

	// Timing
	m.gauge("buffer_interval_ms", "Time between the last two frames consumed by the controller", loader(&m.BufferIntervalMs))
	m.gauge("refresh_interval_ms", "Time between the last two refresh ticks", loader(&m.RefreshIntervalMs))

	// State
	m.gauge("acquiring", "Acquisition active (0=inactive, 1=active)", loader(&m.Acquiring))
	m.gauge("saving", "Continuous saving active (0=inactive, 1=active)", loader(&m.Saving))
}

// UpdateQueue updates the queue length and its occupancy against capacityHint.
func (m *Metrics) UpdateQueue(length, capacityHint int) {
	m.QueueLength.Store(uint64(length))
	if capacityHint > 0 {
		m.QueueOccupancyPercent.Store(uint64(length * 100 / capacityHint))
	}
}

// UpdateCPU stores the last CPU sample.
func (m *Metrics) UpdateCPU(percent float64) {
	m.cpuPercentBits.Store(math.Float64bits(percent))
}

// CPUPercent returns the last CPU sample.
func (m *Metrics) CPUPercent() float64 {
	return math.Float64frombits(m.cpuPercentBits.Load())
}

// UpdateIntervals updates the buffer and refresh intervals
func (m *Metrics) UpdateIntervals(buffer, refresh time.Duration) {
	m.BufferIntervalMs.Store(uint64(buffer.Milliseconds()))
	m.RefreshIntervalMs.Store(uint64(refresh.Milliseconds()))
}

// SetAcquiring sets the acquisition flag.
func (m *Metrics) SetAcquiring(on bool) { setFlag(&m.Acquiring, on) }

// SetSaving sets the saving flag.
func (m *Metrics) SetSaving(on bool) { setFlag(&m.Saving, on) }

func setFlag(v *atomic.Uint64, on bool) {
	if on {
		v.Store(1)
	} else {
		v.Store(0)
	}
}

// Gatherer exposes the private registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics on addr.
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	return m.NewServer(addr).ListenAndServe()
}
