package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueGauges(t *testing.T) {
	t.Parallel()

	m := New()
	m.UpdateQueue(160, 200)

	expected := `
# HELP camera_queue_length Frames waiting in the frame buffer
# TYPE camera_queue_length gauge
camera_queue_length 160
# HELP camera_queue_occupancy_percent Frame buffer length relative to the capacity hint
# TYPE camera_queue_occupancy_percent gauge
camera_queue_occupancy_percent 80
`
	err := testutil.GatherAndCompare(m.Gatherer(), strings.NewReader(expected),
		"camera_queue_length", "camera_queue_occupancy_percent")
	assert.NoError(t, err)
}

func TestUpdateQueueIgnoresZeroCapacity(t *testing.T) {
	t.Parallel()

	m := New()
	m.UpdateQueue(10, 0)
	assert.Equal(t, uint64(10), m.QueueLength.Load())
	assert.Zero(t, m.QueueOccupancyPercent.Load())
}

func TestHandlerExposesCounters(t *testing.T) {
	t.Parallel()

	m := New()
	m.FramesAcquired.Add(3)
	m.UpdateCPU(42.5)
	m.UpdateIntervals(120*time.Millisecond, 50*time.Millisecond)
	m.SetSaving(true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "camera_frames_acquired_total 3")
	assert.Contains(t, text, "camera_cpu_percent 42.5")
	assert.Contains(t, text, "camera_buffer_interval_ms 120")
	assert.Contains(t, text, "camera_refresh_interval_ms 50")
	assert.Contains(t, text, "camera_saving 1")
	assert.Contains(t, text, "camera_acquiring 0")
}
