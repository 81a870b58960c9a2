// Package livescan implements the live recognition state machine: temporal
// voting over per-frame candidates, identity resolution, per-label alert
// cooldown, and the state view polled by scan clients.
package livescan

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/facesentry/facesentry/internal/recognition"
	"github.com/facesentry/facesentry/internal/storage"
	"github.com/facesentry/facesentry/internal/voting"
)

// Scan session statuses exposed through the state view.
const (
	StatusIdle      = "IDLE"
	StatusScanning  = "SCANNING"
	StatusMatch     = "MATCH"
	StatusLowMotion = "LOW_MOTION"
	StatusNoMatch   = "NO_MATCH"
)

// ErrNotScanning is returned by Cycle when no scan session is active.
var ErrNotScanning = errors.New("no active scan session")

// Detection is one per-frame match candidate submitted to a cycle.
type Detection struct {
	FaceLabel  string  `json:"face_label"`
	Confidence float64 `json:"confidence"`
}

// CycleInput carries one frame's worth of evidence into the engine.
type CycleInput struct {
	Detections []Detection
	// MotionScore is the frame-to-frame motion estimate; ignored unless
	// HasMotion is set. Frames below the motion floor are treated as a
	// frozen feed and never advance the voting window.
	MotionScore float64
	HasMotion   bool
	// SnapshotDataURL optionally carries the frame as a base64 data URL
	// to attach to alerts triggered by this cycle.
	SnapshotDataURL string
	InvestigatorID  string
	// SuppressAlerts records recognitions without emitting alert records.
	SuppressAlerts bool
	// Status optionally carries the caller's own status for pushed cycles.
	// It is used when nothing confirms; unrecognized values fall back to
	// SCANNING.
	Status string
}

// CriminalPayload is one resolved identity in the state view.
type CriminalPayload struct {
	Name       string  `json:"name"`
	Age        int     `json:"age"`
	Gender     string  `json:"gender"`
	Address    string  `json:"address"`
	CrimeType  string  `json:"crime_type"`
	RiskLevel  string  `json:"risk_level"`
	FaceLabel  string  `json:"face_label"`
	Photo      string  `json:"photo"`
	Confidence float64 `json:"confidence"`
	Time       string  `json:"time"`
	Snapshot   string  `json:"snapshot,omitempty"`
}

// StateView is the polled scan state. Criminal mirrors the best entry of
// Criminals for clients that only render a single match.
type StateView struct {
	Status     string            `json:"status"`
	Confidence float64           `json:"confidence"`
	Criminal   *CriminalPayload  `json:"criminal"`
	Criminals  []CriminalPayload `json:"criminals"`
}

// EngineConfig bundles the engine tunables.
type EngineConfig struct {
	VotingWindow  int
	VotingMinHits int
	Cooldown      time.Duration
	MinConfidence float64
	MotionFloor   float64
}

// Engine runs the live scan state machine. Every cycle executes under one
// exclusive lock, so concurrent scan clients observe a serialized sequence
// of state transitions and each confirmed sighting produces at most one
// recognition record.
type Engine struct {
	mu        sync.Mutex
	cfg       EngineConfig
	window    *voting.Window
	cooldown  *cooldownRegistry
	risk      *RiskTable
	directory storage.IdentityDirectory
	sink      storage.RecordSink
	log       zerolog.Logger

	active bool
	view   StateView

	// snapshots caches the alert snapshot per label so the state view can
	// keep showing it while the label sits in cooldown.
	snapshots map[string]string

	now func() time.Time
}

// NewEngine creates an idle engine.
func NewEngine(cfg EngineConfig, risk *RiskTable, directory storage.IdentityDirectory, sink storage.RecordSink, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		window:    voting.NewWindow(cfg.VotingWindow, cfg.VotingMinHits),
		cooldown:  newCooldownRegistry(cfg.Cooldown),
		risk:      risk,
		directory: directory,
		sink:      sink,
		log:       log.With().Str("component", "livescan").Logger(),
		view:      StateView{Status: StatusIdle},
		snapshots: make(map[string]string),
		now:       time.Now,
	}
}

// Start begins a scan session. Starting an already active session is a
// no-op that keeps accumulated voting state.
func (e *Engine) Start() StateView {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		e.active = true
		e.window.Reset()
		e.cooldown.Reset()
		e.snapshots = make(map[string]string)
		e.view = StateView{Status: StatusScanning}
		e.log.Info().Msg("scan session started")
	}
	return e.view
}

// Stop ends the scan session and resets the view to idle.
func (e *Engine) Stop() StateView {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active {
		e.active = false
		e.window.Reset()
		e.view = StateView{Status: StatusIdle}
		e.log.Info().Msg("scan session stopped")
	}
	return e.view
}

// Active reports whether a scan session is running.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// State returns the current state view.
func (e *Engine) State() StateView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// Cycle processes one frame of evidence and returns the updated view.
func (e *Engine) Cycle(ctx context.Context, input CycleInput) (StateView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		return e.view, ErrNotScanning
	}

	// The window advances on every frame, low motion included, so stale
	// evidence drains out instead of freezing in place until motion
	// resumes.
	stable := e.window.Push(e.filterDetections(input.Detections))

	if input.HasMotion && input.MotionScore < e.cfg.MotionFloor {
		e.view = StateView{Status: StatusLowMotion}
		return e.view, nil
	}

	e.view = e.resolve(ctx, stable, input, StatusScanning)
	return e.view, nil
}

// Ingest confirms externally pushed detections directly, bypassing the
// voting window. Clients that aggregate evidence on their side submit the
// result here; only the confidence floor gates confirmation.
func (e *Engine) Ingest(ctx context.Context, input CycleInput) (StateView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		return e.view, ErrNotScanning
	}

	e.view = e.ingest(ctx, input, StatusScanning)
	return e.view, nil
}

// Report runs one whole-file analysis result through the recognition
// pipeline. Uploads confirm with or without a live session; an empty
// result is the terminal NO_MATCH.
func (e *Engine) Report(ctx context.Context, input CycleInput) StateView {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.view = e.ingest(ctx, input, StatusNoMatch)
	return e.view
}

func (e *Engine) ingest(ctx context.Context, input CycleInput, fallback string) StateView {
	if input.HasMotion && input.MotionScore < e.cfg.MotionFloor {
		return StateView{Status: StatusLowMotion}
	}

	switch input.Status {
	case StatusScanning, StatusNoMatch, StatusLowMotion:
		fallback = input.Status
	}

	stable := dedupeCandidates(e.filterDetections(input.Detections))
	return e.resolve(ctx, stable, input, fallback)
}

// filterDetections drops unknown, unlabeled and sub-floor detections.
func (e *Engine) filterDetections(detections []Detection) []recognition.Candidate {
	candidates := make([]recognition.Candidate, 0, len(detections))
	for _, d := range detections {
		if d.FaceLabel == "" || d.FaceLabel == recognition.UnknownLabel {
			continue
		}
		if d.Confidence < e.cfg.MinConfidence {
			continue
		}
		candidates = append(candidates, recognition.Candidate{
			Label:      d.FaceLabel,
			Confidence: d.Confidence,
		})
	}
	return candidates
}

// dedupeCandidates keeps the best confidence per label, ordered best
// first with the label breaking ties.
func dedupeCandidates(candidates []recognition.Candidate) []recognition.Candidate {
	best := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		if c.Confidence > best[c.Label] {
			best[c.Label] = c.Confidence
		}
	}

	out := make([]recognition.Candidate, 0, len(best))
	for label, confidence := range best {
		out = append(out, recognition.Candidate{Label: label, Confidence: confidence})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// resolve confirms the stable matches and assembles the state view,
// falling back to the given status when nothing confirms.
func (e *Engine) resolve(ctx context.Context, stable []recognition.Candidate, input CycleInput, fallback string) StateView {
	now := e.now()

	var criminals []CriminalPayload
	for _, match := range stable {
		payload, ok := e.confirm(ctx, match, input, now)
		if ok {
			criminals = append(criminals, payload)
		}
	}

	view := StateView{Status: fallback}
	if len(criminals) > 0 {
		view.Status = StatusMatch
		view.Confidence = criminals[0].Confidence
		view.Criminal = &criminals[0]
		view.Criminals = criminals
	}
	return view
}

// confirm resolves one stable match against the identity directory and,
// outside the cooldown window, writes the recognition and alert records.
func (e *Engine) confirm(ctx context.Context, match recognition.Candidate, input CycleInput, now time.Time) (CriminalPayload, bool) {
	ident, err := e.directory.FindByLabel(ctx, match.Label)
	if errors.Is(err, storage.ErrIdentityNotFound) {
		e.log.Debug().Str("label", match.Label).Msg("stable match without enrolled identity")
		return CriminalPayload{}, false
	}
	if err != nil {
		e.log.Error().Err(err).Str("label", match.Label).Msg("identity lookup failed")
		return CriminalPayload{}, false
	}

	payload := CriminalPayload{
		Name:       ident.Name,
		Age:        ident.Age,
		Gender:     ident.Gender,
		Address:    ident.Address,
		CrimeType:  ident.CrimeType,
		RiskLevel:  e.risk.Level(ident.CrimeType),
		FaceLabel:  ident.FaceLabel,
		Photo:      ident.PhotoURL,
		Confidence: match.Confidence,
		Time:       now.Format("15:04:05"),
	}

	if e.cooldown.Suppressed(match.Label, now) {
		payload.Snapshot = e.snapshots[match.Label]
		return payload, true
	}

	rec := &storage.RecognitionLogRecord{
		ID:             uuid.NewString(),
		InvestigatorID: input.InvestigatorID,
		IdentityID:     ident.ID,
		FaceLabel:      ident.FaceLabel,
		Confidence:     match.Confidence,
		DetectedAt:     now,
	}
	if err := e.sink.WriteRecognition(ctx, rec); err != nil {
		e.log.Error().Err(err).Str("label", match.Label).Msg("recognition record write failed")
	}

	snapshot, format := decodeSnapshot(input.SnapshotDataURL)

	if !input.SuppressAlerts {
		alert := &storage.AlertRecord{
			ID:             uuid.NewString(),
			InvestigatorID: input.InvestigatorID,
			IdentityID:     ident.ID,
			FaceLabel:      ident.FaceLabel,
			CrimeType:      ident.CrimeType,
			RiskLevel:      payload.RiskLevel,
			Confidence:     match.Confidence,
			Message:        "ALERT: " + ident.Name + " detected",
			Snapshot:       snapshot,
			SnapshotFormat: format,
			TriggeredAt:    now,
		}
		if err := e.sink.WriteAlert(ctx, alert); err != nil {
			e.log.Error().Err(err).Str("label", match.Label).Msg("alert record write failed")
		} else {
			e.log.Warn().
				Str("label", labelSlug(ident.FaceLabel)).
				Str("risk", payload.RiskLevel).
				Float64("confidence", match.Confidence).
				Msg("alert triggered")
		}
	}

	// Cache the snapshot on every confirmation, suppressed alerts
	// included, so cooldown views keep showing it.
	if snapshot != nil {
		e.snapshots[match.Label] = input.SnapshotDataURL
		payload.Snapshot = input.SnapshotDataURL
	}

	e.cooldown.Mark(match.Label, now)
	return payload, true
}
