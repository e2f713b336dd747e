package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/enricmcalvo/UUTrap/internal/controller"
	"github.com/enricmcalvo/UUTrap/internal/framebuffer"
	"github.com/enricmcalvo/UUTrap/internal/logger"
	"github.com/enricmcalvo/UUTrap/internal/recorder"
	"github.com/enricmcalvo/UUTrap/internal/session"
	"github.com/enricmcalvo/UUTrap/pkg/types"
)

// Pipeline is the part of the controller the monitor drives.
type Pipeline interface {
	View() controller.View
	Done() <-chan struct{}
	Snap(ctx context.Context) error
	StartAcquisition(ctx context.Context) error
	StopAcquisition(ctx context.Context) error
	StartSaving() (string, error)
	StopSaving() error
	Recording() recorder.RecordingStatus
	SaveImage() (string, error)
	SetAccumulate(on bool)
	ClearBuffer() error
	SetROI(r types.Region) error
	ClearROI() error
}

// Server serves the live view and control endpoints.
type Server struct {
	cfg         Config
	pipeline    Pipeline
	broadcaster *FrameBroadcaster
	placeholder []byte
}

// NewServer returns a configured monitor server. Feed it views with Offer.
func NewServer(cfg Config, p Pipeline) (*Server, error) {
	def := DefaultConfig()
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.MaxWidth <= 0 || cfg.MaxHeight <= 0 {
		cfg.MaxWidth, cfg.MaxHeight = def.MaxWidth, def.MaxHeight
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = def.JPEGQuality
	}

	placeholder, err := placeholderJPEG(cfg.MaxWidth, cfg.MaxHeight)
	if err != nil {
		return nil, fmt.Errorf("failed to render placeholder: %w", err)
	}

	broadcaster := NewFrameBroadcaster(cfg)
	broadcaster.Start()

	return &Server{
		cfg:         cfg,
		pipeline:    p,
		broadcaster: broadcaster,
		placeholder: placeholder,
	}, nil
}

// Offer passes a refreshed view to the MJPEG stream. It never blocks.
func (s *Server) Offer(v controller.View) {
	s.broadcaster.Offer(v)
}

// Close stops the broadcaster and ends every MJPEG stream.
func (s *Server) Close() {
	s.broadcaster.Stop()
	<-s.broadcaster.Done()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/status/stream", s.handleStatusStream)
	mux.HandleFunc("GET /api/log", s.handleLog)
	mux.HandleFunc("POST /api/acquisition/snap", s.handleSnap)
	mux.HandleFunc("POST /api/acquisition/start", s.handleAcquisitionStart)
	mux.HandleFunc("POST /api/acquisition/stop", s.handleAcquisitionStop)
	mux.HandleFunc("POST /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /api/buffer/accumulate", s.handleAccumulate)
	mux.HandleFunc("POST /api/buffer/clear", s.handleClear)
	mux.HandleFunc("POST /api/roi", s.handleROI)
	mux.HandleFunc("DELETE /api/roi", s.handleClearROI)
	mux.HandleFunc("POST /api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("GET /api/recording/status", s.handleRecordingStatus)

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh, s.placeholder)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, newStatusPayload(s.pipeline.View(), time.Now()))
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	streamStatus(w, r, s.cfg.StatusInterval, s.pipeline.Done(), func() any {
		return newStatusPayload(s.pipeline.View(), time.Now())
	})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	entries := s.pipeline.View().Log
	out := make([]LogEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, LogEntry{
			Time:    float64(e.Time.UnixNano()) / 1e9,
			Level:   e.Level.String(),
			Module:  e.Module,
			Message: e.Message,
		})
	}
	writeJSON(w, map[string]any{"entries": out})
}

func (s *Server) handleSnap(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Snap(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "snapped"})
}

func (s *Server) handleAcquisitionStart(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.StartAcquisition(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "acquiring"})
}

func (s *Server) handleAcquisitionStop(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.StopAcquisition(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "stopped"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	path, err := s.pipeline.SaveImage()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "saved", "file": path})
}

func (s *Server) handleAccumulate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeJSONWithStatus(w, map[string]any{"error": "expected {\"enabled\": bool}"}, http.StatusBadRequest)
		return
	}
	s.pipeline.SetAccumulate(*req.Enabled)
	writeJSON(w, map[string]any{"accumulating": *req.Enabled})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.ClearBuffer(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "clearing"})
}

func (s *Server) handleROI(w http.ResponseWriter, r *http.Request) {
	var req RegionPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid region data"}, http.StatusBadRequest)
		return
	}
	if err := s.pipeline.SetROI(req.region()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, newStatusPayload(s.pipeline.View(), time.Now()).Region)
}

func (s *Server) handleClearROI(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.ClearROI(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, newStatusPayload(s.pipeline.View(), time.Now()).Region)
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	filename, err := s.pipeline.StartSaving()
	if err != nil {
		writeError(w, err)
		return
	}

	payload := map[string]any{
		"status":     "recording",
		"file":       filename,
		"started_at": float64(time.Now().Unix()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	filename := s.pipeline.Recording().Filename
	if err := s.pipeline.StopSaving(); err != nil {
		writeError(w, err)
		return
	}

	payload := map[string]any{
		"status":     "stopped",
		"file":       filename,
		"stats":      s.pipeline.Recording(),
		"stopped_at": float64(time.Now().Unix()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.pipeline.Recording())
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, controller.ErrAlreadyRunning),
		errors.Is(err, controller.ErrConfigRejected),
		errors.Is(err, recorder.ErrNotRecording),
		errors.Is(err, framebuffer.ErrConsumerBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidRegion):
		return http.StatusBadRequest
	case errors.Is(err, controller.ErrNoFrame):
		return http.StatusNotFound
	case errors.Is(err, controller.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("WebMonitor", "Request failed: %v", err)
	}
	writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
