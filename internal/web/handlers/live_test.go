package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/facesentry/facesentry/internal/livescan"
	"github.com/facesentry/facesentry/internal/storage"
	"github.com/facesentry/facesentry/internal/storage/mock"
)

func testEngine(t *testing.T) (*livescan.Engine, *mock.Sink) {
	t.Helper()
	directory := mock.NewDirectory()
	directory.Add(storage.Identity{
		ID:        1,
		Name:      "Jane Doe",
		CrimeType: "fraud",
		FaceLabel: "person_001",
	})
	sink := mock.NewSink()
	engine := livescan.NewEngine(livescan.EngineConfig{
		VotingWindow:  7,
		VotingMinHits: 4,
		Cooldown:      6 * time.Second,
		MinConfidence: 70,
		MotionFloor:   1.8,
	}, livescan.DefaultRiskTable(), directory, sink, zerolog.Nop())
	return engine, sink
}

type fakeCapture struct {
	running  bool
	startErr error
	frames   chan []byte
	latest   []byte
}

func (f *fakeCapture) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}
func (f *fakeCapture) Stop()          { f.running = false }
func (f *fakeCapture) Running() bool  { return f.running }
func (f *fakeCapture) Latest() []byte { return f.latest }
func (f *fakeCapture) Subscribe() (<-chan []byte, func()) {
	return f.frames, func() {}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	return body
}

func TestLiveStatusIdle(t *testing.T) {
	engine, _ := testEngine(t)
	h := NewLiveHandler(engine, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/v1/live/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != livescan.StatusIdle {
		t.Errorf("scan status = %v, want IDLE", body["status"])
	}
	if body["active"] != false {
		t.Error("fresh engine must not be active")
	}
}

func TestLiveStartStopWithoutCamera(t *testing.T) {
	engine, _ := testEngine(t)
	h := NewLiveHandler(engine, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/v1/live/start", nil))
	if body := decodeBody(t, rec); body["status"] != livescan.StatusScanning {
		t.Errorf("status after start = %v", body["status"])
	}

	rec = httptest.NewRecorder()
	h.Stop(rec, httptest.NewRequest(http.MethodPost, "/api/v1/live/stop", nil))
	if body := decodeBody(t, rec); body["status"] != livescan.StatusIdle {
		t.Errorf("status after stop = %v", body["status"])
	}
}

func TestLiveStartWithCamera(t *testing.T) {
	engine, _ := testEngine(t)
	capture := &fakeCapture{}
	h := NewLiveHandler(engine, capture, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/v1/live/start", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !capture.running {
		t.Error("capture loop must start")
	}
}

func TestLiveStartCameraUnavailable(t *testing.T) {
	engine, _ := testEngine(t)
	capture := &fakeCapture{startErr: errors.New("no device")}
	h := NewLiveHandler(engine, capture, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/v1/live/start", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestScanWithoutSession(t *testing.T) {
	engine, _ := testEngine(t)
	h := NewLiveHandler(engine, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/live/scan", strings.NewReader(`{}`))
	h.Scan(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestScanLegacyShape(t *testing.T) {
	engine, sink := testEngine(t)
	engine.Start()
	h := NewLiveHandler(engine, nil, zerolog.Nop())

	// Pushed detections are pre-aggregated by the client, so a single
	// legacy-shape call confirms without re-entering the voting window.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/live/scan",
		strings.NewReader(`{"face_label": "person_001", "confidence": 91.5}`))
	h.Scan(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != livescan.StatusMatch {
		t.Errorf("status = %v, want MATCH from one call", body["status"])
	}
	if sink.AlertCount() != 1 {
		t.Errorf("alerts = %d, want 1", sink.AlertCount())
	}
}

func TestScanPassesClientStatusThrough(t *testing.T) {
	engine, _ := testEngine(t)
	engine.Start()
	h := NewLiveHandler(engine, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/live/scan",
		strings.NewReader(`{"status": "NO_MATCH"}`))
	h.Scan(rec, req)

	if body := decodeBody(t, rec); body["status"] != livescan.StatusNoMatch {
		t.Errorf("status = %v, want the client-provided NO_MATCH", body["status"])
	}
}

func TestScanDetectionsList(t *testing.T) {
	engine, sink := testEngine(t)
	engine.Start()
	h := NewLiveHandler(engine, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/live/scan",
		strings.NewReader(`{"detections": [{"face_label": "person_001", "confidence": 88}], "suppress_alerts": true, "investigator_id": "inv-7"}`))
	h.Scan(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if sink.AlertCount() != 0 {
		t.Error("suppressed scan must not alert")
	}
	if sink.RecognitionCount() != 1 {
		t.Error("suppressed scan still logs the recognition")
	}
	if sink.Recognitions[0].InvestigatorID != "inv-7" {
		t.Errorf("investigator = %q", sink.Recognitions[0].InvestigatorID)
	}
}

func TestScanLowMotion(t *testing.T) {
	engine, _ := testEngine(t)
	engine.Start()
	h := NewLiveHandler(engine, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/live/scan",
		strings.NewReader(`{"face_label": "person_001", "confidence": 95, "motion_score": 0.2}`))
	h.Scan(rec, req)

	if body := decodeBody(t, rec); body["status"] != livescan.StatusLowMotion {
		t.Errorf("status = %v, want LOW_MOTION", body["status"])
	}
}

func TestScanRejectsBadBody(t *testing.T) {
	engine, _ := testEngine(t)
	h := NewLiveHandler(engine, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/live/scan", strings.NewReader(`{broken`))
	h.Scan(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStreamWithoutCamera(t *testing.T) {
	engine, _ := testEngine(t)
	h := NewLiveHandler(engine, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Stream(rec, httptest.NewRequest(http.MethodGet, "/api/v1/live/stream", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStreamYieldsFrames(t *testing.T) {
	engine, _ := testEngine(t)
	frames := make(chan []byte, 1)
	frames <- []byte{0xFF, 0xD8, 0xFF, 0xD9}
	capture := &fakeCapture{running: true, frames: frames, latest: []byte{0xFF, 0xD8}}
	h := NewLiveHandler(engine, capture, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/live/stream", nil).WithContext(ctx)
	h.Stream(rec, req)

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "--frame") {
		t.Error("stream body missing multipart boundary")
	}
}
