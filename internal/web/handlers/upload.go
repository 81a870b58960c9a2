package handlers

import (
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/facesentry/facesentry/internal/analyze"
	"github.com/facesentry/facesentry/internal/livescan"
)

// maxUploadBytes bounds uploaded media size (64 MiB).
const maxUploadBytes = 64 << 20

// UploadHandler runs whole-file recognition over uploaded media. Confirmed
// matches go through the live scan engine, so uploads produce the same
// records, alerts and state transitions as camera sightings.
type UploadHandler struct {
	analyzer *analyze.Analyzer
	engine   *livescan.Engine
	log      zerolog.Logger
}

// NewUploadHandler creates an upload analysis handler.
func NewUploadHandler(analyzer *analyze.Analyzer, engine *livescan.Engine, log zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		analyzer: analyzer,
		engine:   engine,
		log:      log.With().Str("component", "web").Logger(),
	}
}

type uploadResponse struct {
	livescan.StateView
	FramesScanned int             `json:"frames_scanned"`
	FacesSeen     int             `json:"faces_seen"`
	Matches       []analyze.Match `json:"matches"`
	Preview       string          `json:"preview,omitempty"`
}

// Analyze accepts a multipart "file" field and returns the matched labels.
func (h *UploadHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable upload")
		return
	}

	result, err := h.analyzer.Analyze(r.Context(), data)
	if err != nil {
		h.log.Warn().Err(err).Str("filename", sanitizeForLog(header.Filename)).Msg("upload analysis failed")
		respondError(w, http.StatusUnprocessableEntity, "unsupported or corrupt media")
		return
	}

	detections := make([]livescan.Detection, 0, len(result.Matches))
	for _, match := range result.Matches {
		detections = append(detections, livescan.Detection{
			FaceLabel:  match.FaceLabel,
			Confidence: match.Confidence,
		})
	}
	view := h.engine.Report(r.Context(), livescan.CycleInput{
		Detections:      detections,
		Status:          livescan.StatusNoMatch,
		SnapshotDataURL: result.Preview,
		InvestigatorID:  r.FormValue("investigator_id"),
	})

	h.log.Info().
		Str("filename", sanitizeForLog(header.Filename)).
		Str("status", view.Status).
		Int("frames", result.FramesScanned).
		Int("matches", len(result.Matches)).
		Msg("upload analyzed")
	respondJSON(w, http.StatusOK, uploadResponse{
		StateView:     view,
		FramesScanned: result.FramesScanned,
		FacesSeen:     result.FacesSeen,
		Matches:       result.Matches,
		Preview:       result.Preview,
	})
}
