package webmonitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/enricmcalvo/UUTrap/internal/controller"
	"github.com/enricmcalvo/UUTrap/internal/logger"
)

// mjpegKeepAlive is how long a stream waits for a frame before resending the
// placeholder.
const mjpegKeepAlive = 5 * time.Second

func writeSSE(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// placeholderJPEG renders a gray ramp shown until the first frame arrives.
func placeholderJPEG(width, height int) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 255 / max(width-1, 1))})
		}
	}
	return encodeJPEG(img, 75)
}

func statusLines(v controller.View) string {
	h := v.Health
	return fmt.Sprintf("frame %d  %dx%d\nbuffer %d (%.0f%%, %s)  cpu %.1f%% (%s)",
		v.Latest.Seq, v.Latest.Width, v.Latest.Height,
		h.QueueLength, h.QueueOccupancyPercent, h.QueueLevel, h.CPUPercent, h.CPULevel)
}

// streamMJPEGFromChannel streams MJPEG from a channel (fanout pattern).
func streamMJPEGFromChannel(w http.ResponseWriter, r *http.Request, frameCh <-chan []byte, placeholder []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	jpegData := placeholder
	for {
		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		if _, err := w.Write(jpegData); err != nil {
			logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			logger.Debug("MJPEG", "Client disconnected during delimiter write: %v", err)
			return
		}
		flusher.Flush()

		select {
		case data, ok := <-frameCh:
			if !ok {
				// Broadcaster stopped
				return
			}
			jpegData = data
		case <-time.After(mjpegKeepAlive):
			// Resend the last frame to keep the connection alive
		case <-r.Context().Done():
			return
		}
	}
}

// streamStatus pushes a status payload every interval until the client goes
// away or the pipeline shuts down.
func streamStatus(w http.ResponseWriter, r *http.Request, interval time.Duration, done <-chan struct{}, snapshot func() any) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, snapshot()); err != nil {
			logger.Debug("SSE", "Client disconnected during status write: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		case <-done:
			return
		}
	}
}
