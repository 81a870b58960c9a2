package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/facesentry/facesentry/internal/livescan"
	"github.com/facesentry/facesentry/internal/recognition"
	"github.com/facesentry/facesentry/internal/storage"
)

// SystemHandler serves health, dashboard, and template store maintenance
// endpoints.
type SystemHandler struct {
	store     *recognition.Store
	engine    *livescan.Engine
	sink      storage.RecordSink
	directory storage.IdentityDirectory
	log       zerolog.Logger
}

// NewSystemHandler creates the system handler. Sink and directory may be
// nil when the process runs without databases; the dashboard degrades to
// store-only numbers.
func NewSystemHandler(store *recognition.Store, engine *livescan.Engine, sink storage.RecordSink, directory storage.IdentityDirectory, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		store:     store,
		engine:    engine,
		sink:      sink,
		directory: directory,
		log:       log.With().Str("component", "web").Logger(),
	}
}

// Health reports process liveness and the loaded template store size.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"labels":    h.store.Len(),
		"templates": h.store.TemplateCount(),
	})
}

type dashboardResponse struct {
	ScanStatus         string `json:"scan_status"`
	EnrolledLabels     int    `json:"enrolled_labels"`
	StoredTemplates    int    `json:"stored_templates"`
	EnrolledIdentities int    `json:"enrolled_identities"`
	TotalDetections    int    `json:"total_detections"`
	DistinctLabels     int    `json:"distinct_labels"`
	TotalAlerts        int    `json:"total_alerts"`
}

// Dashboard aggregates counters for the operator overview.
func (h *SystemHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	resp := dashboardResponse{
		ScanStatus:      h.engine.State().Status,
		EnrolledLabels:  h.store.Len(),
		StoredTemplates: h.store.TemplateCount(),
	}

	if h.sink != nil {
		stats, err := h.sink.Stats(r.Context())
		if err != nil {
			h.log.Error().Err(err).Msg("record stats failed")
			respondError(w, http.StatusInternalServerError, "record store unavailable")
			return
		}
		resp.TotalDetections = stats.TotalDetections
		resp.DistinctLabels = stats.DistinctLabels
		resp.TotalAlerts = stats.TotalAlerts
	}

	if h.directory != nil {
		count, err := h.directory.Count(r.Context())
		if err != nil {
			h.log.Error().Err(err).Msg("identity count failed")
			respondError(w, http.StatusInternalServerError, "case database unavailable")
			return
		}
		resp.EnrolledIdentities = count
	}

	respondJSON(w, http.StatusOK, resp)
}

// ReloadTemplates re-reads the template store file and swaps it in without
// interrupting in-flight matches.
func (h *SystemHandler) ReloadTemplates(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Reload(); err != nil {
		h.log.Error().Err(err).Msg("template store reload failed")
		respondError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	h.log.Info().Int("labels", h.store.Len()).Int("templates", h.store.TemplateCount()).Msg("template store reloaded")
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "reloaded",
		"labels":    h.store.Len(),
		"templates": h.store.TemplateCount(),
	})
}
