package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/facesentry/facesentry/internal/livescan"
)

// CaptureController is the camera loop surface the live endpoints control.
type CaptureController interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
	Latest() []byte
	Subscribe() (<-chan []byte, func())
}

// LiveHandler serves the live scan endpoints: session control, cycle
// submission for browser-side cameras, and the MJPEG stream.
type LiveHandler struct {
	engine  *livescan.Engine
	capture CaptureController // nil when no camera is configured
	log     zerolog.Logger
}

// NewLiveHandler creates a live scan handler.
func NewLiveHandler(engine *livescan.Engine, capture CaptureController, log zerolog.Logger) *LiveHandler {
	return &LiveHandler{
		engine:  engine,
		capture: capture,
		log:     log.With().Str("component", "web").Logger(),
	}
}

type statusResponse struct {
	Active    bool `json:"active"`
	Capturing bool `json:"capturing"`
	livescan.StateView
}

// Status returns the current scan state.
func (h *LiveHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		Active:    h.engine.Active(),
		Capturing: h.capture != nil && h.capture.Running(),
		StateView: h.engine.State(),
	})
}

// Start begins a scan session. With a configured camera the capture loop is
// started as well; starting twice is a no-op.
func (h *LiveHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h.capture != nil {
		if err := h.capture.Start(r.Context()); err != nil {
			h.log.Error().Err(err).Msg("capture start failed")
			respondError(w, http.StatusServiceUnavailable, "capture source unavailable")
			return
		}
	} else {
		h.engine.Start()
	}
	h.Status(w, r)
}

// Stop ends the scan session and releases the camera.
func (h *LiveHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if h.capture != nil {
		h.capture.Stop()
	}
	h.engine.Stop()
	h.Status(w, r)
}

// scanRequest carries one frame of client-side evidence. The flat
// face_label/confidence pair is the legacy single-detection shape; the
// detections list supersedes it.
type scanRequest struct {
	Detections     []livescan.Detection `json:"detections"`
	FaceLabel      string               `json:"face_label"`
	Confidence     float64              `json:"confidence"`
	Status         string               `json:"status"`
	MotionScore    *float64             `json:"motion_score"`
	Snapshot       string               `json:"snapshot"`
	InvestigatorID string               `json:"investigator_id"`
	SuppressAlerts bool                 `json:"suppress_alerts"`
}

// Scan runs one recognition cycle from client-submitted detections.
func (h *LiveHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	detections := req.Detections
	if len(detections) == 0 && req.FaceLabel != "" {
		detections = []livescan.Detection{{FaceLabel: req.FaceLabel, Confidence: req.Confidence}}
	}

	input := livescan.CycleInput{
		Detections:      detections,
		Status:          req.Status,
		SnapshotDataURL: req.Snapshot,
		InvestigatorID:  req.InvestigatorID,
		SuppressAlerts:  req.SuppressAlerts,
	}
	if req.MotionScore != nil {
		input.MotionScore = *req.MotionScore
		input.HasMotion = true
	}

	// Pushed detections are already aggregated by the client, so they
	// confirm directly instead of re-entering the voting window.
	view, err := h.engine.Ingest(r.Context(), input)
	if errors.Is(err, livescan.ErrNotScanning) {
		respondError(w, http.StatusConflict, "no active scan session")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("scan cycle failed")
		respondError(w, http.StatusInternalServerError, "scan cycle failed")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

const mjpegBoundary = "frame"

// Stream serves the annotated camera feed as multipart MJPEG.
func (h *LiveHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.capture == nil {
		respondError(w, http.StatusNotFound, "no camera configured")
		return
	}
	if !h.capture.Running() {
		respondError(w, http.StatusConflict, "capture not running")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	frames, cancel := h.capture.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.WriteHeader(http.StatusOK)

	// Send the latest frame immediately so clients do not wait for the
	// next capture tick.
	if latest := h.capture.Latest(); latest != nil {
		if err := writeMJPEGPart(w, latest); err != nil {
			return
		}
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := writeMJPEGPart(w, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeMJPEGPart(w http.ResponseWriter, frame []byte) error {
	if _, err := w.Write([]byte("--" + mjpegBoundary + "\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
