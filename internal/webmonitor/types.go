package webmonitor

import (
	"time"

	"github.com/enricmcalvo/UUTrap/internal/controller"
	"github.com/enricmcalvo/UUTrap/internal/recorder"
	"github.com/enricmcalvo/UUTrap/pkg/types"
)

// RegionPayload is the JSON shape of a region of interest, bounds inclusive.
type RegionPayload struct {
	Left   int `json:"left"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Top    int `json:"top"`
}

func (r RegionPayload) region() types.Region {
	return types.Region{Left: r.Left, Right: r.Right, Bottom: r.Bottom, Top: r.Top}
}

// HealthStats is the JSON shape of a health sample.
type HealthStats struct {
	QueueLength       int     `json:"queue_length"`
	QueueOccupancy    float64 `json:"queue_occupancy_percent"`
	QueueLevel        string  `json:"queue_level"`
	CPUPercent        float64 `json:"cpu_percent"`
	CPULevel          string  `json:"cpu_level"`
	BufferIntervalMs  float64 `json:"buffer_interval_ms"`
	RefreshIntervalMs float64 `json:"refresh_interval_ms"`
	TotalFrames       uint64  `json:"total_frames"`
}

// FrameInfo describes the displayed frame.
type FrameInfo struct {
	Seq       uint64  `json:"seq"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Timestamp float64 `json:"timestamp"`
}

// StatusPayload is the payload for /api/status and /api/status/stream.
type StatusPayload struct {
	Acquiring     bool                     `json:"acquiring"`
	Accumulating  bool                     `json:"accumulating"`
	Saving        bool                     `json:"saving"`
	WaterfallOpen bool                     `json:"waterfall_open"`
	Region        RegionPayload            `json:"region"`
	Health        HealthStats              `json:"health"`
	Frame         *FrameInfo               `json:"frame,omitempty"`
	Recording     recorder.RecordingStatus `json:"recording"`
	Timestamp     float64                  `json:"timestamp"`
}

func newStatusPayload(v controller.View, now time.Time) StatusPayload {
	h := v.Health
	p := StatusPayload{
		Acquiring:     v.Acquiring,
		Accumulating:  v.Accumulating,
		Saving:        v.Saving,
		WaterfallOpen: v.WaterfallOpen,
		Region: RegionPayload{
			Left:   v.Region.Left,
			Right:  v.Region.Right,
			Bottom: v.Region.Bottom,
			Top:    v.Region.Top,
		},
		Health: HealthStats{
			QueueLength:       h.QueueLength,
			QueueOccupancy:    h.QueueOccupancyPercent,
			QueueLevel:        h.QueueLevel.String(),
			CPUPercent:        h.CPUPercent,
			CPULevel:          h.CPULevel.String(),
			BufferIntervalMs:  millis(h.BufferInterval),
			RefreshIntervalMs: millis(h.RefreshInterval),
			TotalFrames:       h.TotalFrames,
		},
		Recording: v.Recording,
		Timestamp: float64(now.UnixNano()) / 1e9,
	}
	if f := v.Latest; f != nil {
		p.Frame = &FrameInfo{Seq: f.Seq, Width: f.Width, Height: f.Height}
		if !f.Timestamp.IsZero() {
			p.Frame.Timestamp = float64(f.Timestamp.UnixNano()) / 1e9
		}
	}
	return p
}

func millis(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// LogEntry is one line of the rolling log.
type LogEntry struct {
	Time    float64 `json:"time"`
	Level   string  `json:"level"`
	Module  string  `json:"module"`
	Message string  `json:"message"`
}
