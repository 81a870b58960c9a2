package livescan

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/facesentry/facesentry/internal/storage"
	"github.com/facesentry/facesentry/internal/storage/mock"
)

func testEngine(t *testing.T, sink *mock.Sink) (*Engine, *mock.Directory, *time.Time) {
	t.Helper()

	directory := mock.NewDirectory()
	directory.Add(storage.Identity{
		ID:        1,
		Name:      "Jane Doe",
		Age:       34,
		Gender:    "female",
		Address:   "12 Elm Street",
		CrimeType: "fraud",
		FaceLabel: "person_001",
		PhotoURL:  "/media/photos/person_001.jpg",
	})
	directory.Add(storage.Identity{
		ID:        2,
		Name:      "John Roe",
		CrimeType: "terrorism",
		FaceLabel: "person_002",
	})

	engine := NewEngine(EngineConfig{
		VotingWindow:  7,
		VotingMinHits: 4,
		Cooldown:      6 * time.Second,
		MinConfidence: 70,
		MotionFloor:   1.8,
	}, DefaultRiskTable(), directory, sink, zerolog.Nop())

	clock := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	engine.now = func() time.Time { return clock }
	return engine, directory, &clock
}

// driveToStable pushes the same detection enough times to satisfy the
// voting window and returns the final view.
func driveToStable(t *testing.T, engine *Engine, d Detection, frames int) StateView {
	t.Helper()
	var view StateView
	var err error
	for i := 0; i < frames; i++ {
		view, err = engine.Cycle(context.Background(), CycleInput{Detections: []Detection{d}})
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	return view
}

func TestCycleRequiresActiveSession(t *testing.T) {
	engine, _, _ := testEngine(t, mock.NewSink())

	if _, err := engine.Cycle(context.Background(), CycleInput{}); !errors.Is(err, ErrNotScanning) {
		t.Errorf("expected ErrNotScanning, got %v", err)
	}
}

func TestStartStopTransitions(t *testing.T) {
	engine, _, _ := testEngine(t, mock.NewSink())

	if view := engine.State(); view.Status != StatusIdle {
		t.Errorf("fresh engine status = %s, want IDLE", view.Status)
	}
	if view := engine.Start(); view.Status != StatusScanning {
		t.Errorf("started status = %s, want SCANNING", view.Status)
	}
	if !engine.Active() {
		t.Error("engine should be active after Start")
	}
	if view := engine.Stop(); view.Status != StatusIdle {
		t.Errorf("stopped status = %s, want IDLE", view.Status)
	}
	if engine.Active() {
		t.Error("engine should be inactive after Stop")
	}
}

func TestStableMatchWritesOneRecognitionAndOneAlert(t *testing.T) {
	sink := mock.NewSink()
	engine, _, _ := testEngine(t, sink)
	engine.Start()

	view := driveToStable(t, engine, Detection{FaceLabel: "person_001", Confidence: 88}, 4)

	if view.Status != StatusMatch {
		t.Fatalf("status = %s, want MATCH", view.Status)
	}
	if view.Criminal == nil {
		t.Fatal("expected a criminal payload")
	}
	if view.Criminal.Name != "Jane Doe" {
		t.Errorf("criminal name = %q", view.Criminal.Name)
	}
	if view.Criminal.RiskLevel != "MEDIUM" {
		t.Errorf("risk level = %q, want MEDIUM for fraud", view.Criminal.RiskLevel)
	}
	if view.Criminal.Time != "14:30:00" {
		t.Errorf("time = %q, want 14:30:00", view.Criminal.Time)
	}
	if view.Confidence != view.Criminal.Confidence {
		t.Errorf("view confidence %v != criminal confidence %v", view.Confidence, view.Criminal.Confidence)
	}

	if sink.RecognitionCount() != 1 {
		t.Errorf("recognition records = %d, want 1", sink.RecognitionCount())
	}
	if sink.AlertCount() != 1 {
		t.Errorf("alert records = %d, want 1", sink.AlertCount())
	}
	alert := sink.Alerts[0]
	if alert.Message != "ALERT: Jane Doe detected" {
		t.Errorf("alert message = %q", alert.Message)
	}
	if alert.RiskLevel != "MEDIUM" {
		t.Errorf("alert risk = %q", alert.RiskLevel)
	}
}

func TestCooldownSuppressesRepeatAlerts(t *testing.T) {
	sink := mock.NewSink()
	engine, _, clock := testEngine(t, sink)
	engine.Start()

	d := Detection{FaceLabel: "person_001", Confidence: 90}
	driveToStable(t, engine, d, 4)

	// Same person still in frame two seconds later.
	*clock = clock.Add(2 * time.Second)
	view := driveToStable(t, engine, d, 1)

	if view.Status != StatusMatch {
		t.Errorf("status during cooldown = %s, want MATCH", view.Status)
	}
	if view.Criminal == nil || view.Criminal.Name != "Jane Doe" {
		t.Error("state view should still carry the matched identity during cooldown")
	}
	if sink.RecognitionCount() != 1 {
		t.Errorf("recognition records = %d, want 1 (cooldown must suppress)", sink.RecognitionCount())
	}
	if sink.AlertCount() != 1 {
		t.Errorf("alert records = %d, want 1 (cooldown must suppress)", sink.AlertCount())
	}

	// After the cooldown expires the next confirmation alerts again.
	*clock = clock.Add(7 * time.Second)
	driveToStable(t, engine, d, 1)
	if sink.AlertCount() != 2 {
		t.Errorf("alert records after cooldown = %d, want 2", sink.AlertCount())
	}
}

func TestCooldownReusesSnapshotInView(t *testing.T) {
	sink := mock.NewSink()
	engine, _, clock := testEngine(t, sink)
	engine.Start()

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)

	d := Detection{FaceLabel: "person_001", Confidence: 90}
	for i := 0; i < 4; i++ {
		if _, err := engine.Cycle(context.Background(), CycleInput{
			Detections:      []Detection{d},
			SnapshotDataURL: dataURL,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if len(sink.Alerts) != 1 || len(sink.Alerts[0].Snapshot) != len(jpeg) {
		t.Fatalf("alert should carry the decoded snapshot")
	}
	if sink.Alerts[0].SnapshotFormat != "jpg" {
		t.Errorf("snapshot format = %q", sink.Alerts[0].SnapshotFormat)
	}

	// No snapshot submitted during cooldown, view keeps the original.
	*clock = clock.Add(2 * time.Second)
	view := driveToStable(t, engine, d, 1)
	if view.Criminal == nil || view.Criminal.Snapshot != dataURL {
		t.Error("cooldown view should reuse the alert snapshot")
	}
}

func TestSuppressAlertsStillLogsRecognition(t *testing.T) {
	sink := mock.NewSink()
	engine, _, _ := testEngine(t, sink)
	engine.Start()

	var err error
	for i := 0; i < 4; i++ {
		_, err = engine.Cycle(context.Background(), CycleInput{
			Detections:     []Detection{{FaceLabel: "person_001", Confidence: 90}},
			SuppressAlerts: true,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if sink.RecognitionCount() != 1 {
		t.Errorf("recognition records = %d, want 1", sink.RecognitionCount())
	}
	if sink.AlertCount() != 0 {
		t.Errorf("alert records = %d, want 0 when alerts suppressed", sink.AlertCount())
	}
}

func TestLowMotionFreezesPipeline(t *testing.T) {
	sink := mock.NewSink()
	engine, _, _ := testEngine(t, sink)
	engine.Start()

	view, err := engine.Cycle(context.Background(), CycleInput{
		Detections:  []Detection{{FaceLabel: "person_001", Confidence: 95}},
		MotionScore: 0.4,
		HasMotion:   true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != StatusLowMotion {
		t.Errorf("status = %s, want LOW_MOTION", view.Status)
	}
	if view.Criminal != nil || len(view.Criminals) != 0 {
		t.Error("low motion frames must not report matches")
	}
	if sink.RecognitionCount() != 0 {
		t.Error("low motion frames must not confirm matches")
	}
}

func TestLowMotionDrainsStaleEvidence(t *testing.T) {
	sink := mock.NewSink()
	engine, _, _ := testEngine(t, sink)
	engine.Start()

	d := Detection{FaceLabel: "person_001", Confidence: 90}
	driveToStable(t, engine, d, 4)

	// The person leaves and the feed freezes. Each frozen frame still
	// advances the voting window, so the old evidence ages out.
	for i := 0; i < 7; i++ {
		view, err := engine.Cycle(context.Background(), CycleInput{
			MotionScore: 0.3,
			HasMotion:   true,
		})
		if err != nil {
			t.Fatal(err)
		}
		if view.Status != StatusLowMotion {
			t.Fatalf("frozen frame %d status = %s, want LOW_MOTION", i, view.Status)
		}
	}

	// Motion resumes on an empty scene; the drained window must not
	// resurface the departed person as a fresh match.
	view, err := engine.Cycle(context.Background(), CycleInput{
		MotionScore: 5.0,
		HasMotion:   true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != StatusScanning {
		t.Errorf("status = %s, want SCANNING after the window drained", view.Status)
	}
	if len(view.Criminals) != 0 {
		t.Errorf("criminals = %+v, want none", view.Criminals)
	}
	if sink.AlertCount() != 1 {
		t.Errorf("alerts = %d, want only the original sighting", sink.AlertCount())
	}
}

func TestLowConfidenceDetectionsAreFiltered(t *testing.T) {
	sink := mock.NewSink()
	engine, _, _ := testEngine(t, sink)
	engine.Start()

	view := driveToStable(t, engine, Detection{FaceLabel: "person_001", Confidence: 60}, 7)
	if view.Status != StatusScanning {
		t.Errorf("status = %s, want SCANNING for sub-floor detections", view.Status)
	}
	if sink.RecognitionCount() != 0 {
		t.Error("sub-floor detections must never confirm")
	}
}

func TestUnknownLabelNeverConfirms(t *testing.T) {
	sink := mock.NewSink()
	engine, _, _ := testEngine(t, sink)
	engine.Start()

	view := driveToStable(t, engine, Detection{FaceLabel: "unknown", Confidence: 99}, 7)
	if view.Status != StatusScanning {
		t.Errorf("status = %s, want SCANNING", view.Status)
	}
	if sink.RecognitionCount() != 0 {
		t.Error("unknown labels must never be recorded")
	}
}

func TestUnenrolledStableLabelIsSkipped(t *testing.T) {
	sink := mock.NewSink()
	engine, _, _ := testEngine(t, sink)
	engine.Start()

	view := driveToStable(t, engine, Detection{FaceLabel: "person_999", Confidence: 95}, 4)
	if view.Status != StatusScanning {
		t.Errorf("status = %s, want SCANNING for stale template", view.Status)
	}
	if sink.RecognitionCount() != 0 {
		t.Error("stale templates must not produce records")
	}
}

func TestRecordWriteFailureDoesNotBreakCycle(t *testing.T) {
	sink := mock.NewSink()
	sink.RecognitionError = errors.New("database down")
	sink.AlertError = errors.New("database down")
	engine, _, _ := testEngine(t, sink)
	engine.Start()

	view := driveToStable(t, engine, Detection{FaceLabel: "person_001", Confidence: 90}, 4)
	if view.Status != StatusMatch {
		t.Errorf("status = %s, want MATCH even when record writes fail", view.Status)
	}
}

func TestMultipleStableMatchesSortedByConfidence(t *testing.T) {
	sink := mock.NewSink()
	engine, _, _ := testEngine(t, sink)
	engine.Start()

	var view StateView
	var err error
	for i := 0; i < 4; i++ {
		view, err = engine.Cycle(context.Background(), CycleInput{Detections: []Detection{
			{FaceLabel: "person_001", Confidence: 82},
			{FaceLabel: "person_002", Confidence: 95},
		}})
		if err != nil {
			t.Fatal(err)
		}
	}

	if len(view.Criminals) != 2 {
		t.Fatalf("expected 2 criminals, got %d", len(view.Criminals))
	}
	if view.Criminals[0].FaceLabel != "person_002" {
		t.Errorf("best match = %s, want person_002", view.Criminals[0].FaceLabel)
	}
	if view.Criminals[0].RiskLevel != "CRITICAL" {
		t.Errorf("risk for terrorism = %q, want CRITICAL", view.Criminals[0].RiskLevel)
	}
	if view.Criminal.FaceLabel != view.Criminals[0].FaceLabel {
		t.Error("Criminal must mirror the best entry of Criminals")
	}
}

func TestStopResetsVotingState(t *testing.T) {
	sink := mock.NewSink()
	engine, _, _ := testEngine(t, sink)
	engine.Start()

	driveToStable(t, engine, Detection{FaceLabel: "person_001", Confidence: 90}, 3)
	engine.Stop()
	engine.Start()

	// Three pre-stop frames must not count toward the window.
	view := driveToStable(t, engine, Detection{FaceLabel: "person_001", Confidence: 90}, 1)
	if view.Status == StatusMatch {
		t.Error("voting state must not survive a stop/start cycle")
	}
}

func TestIngestConfirmsWithoutVotingWindow(t *testing.T) {
	sink := mock.NewSink()
	engine, _, _ := testEngine(t, sink)
	engine.Start()

	// Two detections of the same person collapse to one confirmation at
	// the best confidence, in a single call.
	view, err := engine.Ingest(context.Background(), CycleInput{Detections: []Detection{
		{FaceLabel: "person_001", Confidence: 82},
		{FaceLabel: "person_001", Confidence: 90},
	}})
	if err != nil {
		t.Fatal(err)
	}

	if view.Status != StatusMatch {
		t.Fatalf("status = %s, want MATCH from one pushed cycle", view.Status)
	}
	if view.Confidence != 90 {
		t.Errorf("confidence = %v, want the best of the duplicates", view.Confidence)
	}
	if sink.RecognitionCount() != 1 {
		t.Errorf("recognition records = %d, want 1", sink.RecognitionCount())
	}
	if sink.AlertCount() != 1 {
		t.Errorf("alert records = %d, want 1", sink.AlertCount())
	}
}

func TestIngestRequiresActiveSession(t *testing.T) {
	engine, _, _ := testEngine(t, mock.NewSink())

	if _, err := engine.Ingest(context.Background(), CycleInput{}); !errors.Is(err, ErrNotScanning) {
		t.Errorf("expected ErrNotScanning, got %v", err)
	}
}

func TestIngestHonorsCallerStatus(t *testing.T) {
	engine, _, _ := testEngine(t, mock.NewSink())
	engine.Start()

	view, err := engine.Ingest(context.Background(), CycleInput{Status: StatusNoMatch})
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != StatusNoMatch {
		t.Errorf("status = %s, want the caller-provided NO_MATCH", view.Status)
	}

	view, err = engine.Ingest(context.Background(), CycleInput{Status: "bogus"})
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != StatusScanning {
		t.Errorf("status = %s, want SCANNING for an unrecognized caller status", view.Status)
	}
}

func TestReportConfirmsWithoutSession(t *testing.T) {
	sink := mock.NewSink()
	engine, _, _ := testEngine(t, sink)

	view := engine.Report(context.Background(), CycleInput{
		Detections:     []Detection{{FaceLabel: "person_001", Confidence: 88}},
		Status:         StatusNoMatch,
		InvestigatorID: "inv-3",
	})

	if view.Status != StatusMatch {
		t.Fatalf("status = %s, want MATCH without a live session", view.Status)
	}
	if sink.RecognitionCount() != 1 {
		t.Errorf("recognition records = %d, want 1", sink.RecognitionCount())
	}
	if sink.AlertCount() != 1 {
		t.Errorf("alert records = %d, want 1", sink.AlertCount())
	}
	if sink.Recognitions[0].InvestigatorID != "inv-3" {
		t.Errorf("investigator = %q", sink.Recognitions[0].InvestigatorID)
	}
	if engine.State().Status != StatusMatch {
		t.Error("state view must reflect the upload confirmation")
	}
}

func TestReportWithoutMatchesIsTerminalNoMatch(t *testing.T) {
	sink := mock.NewSink()
	engine, _, _ := testEngine(t, sink)

	view := engine.Report(context.Background(), CycleInput{Status: StatusNoMatch})
	if view.Status != StatusNoMatch {
		t.Errorf("status = %s, want NO_MATCH", view.Status)
	}
	if sink.RecognitionCount() != 0 {
		t.Error("empty results must not produce records")
	}
}

func TestSuppressedConfirmationStillCachesSnapshot(t *testing.T) {
	sink := mock.NewSink()
	engine, _, clock := testEngine(t, sink)
	engine.Start()

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)

	d := Detection{FaceLabel: "person_001", Confidence: 90}
	for i := 0; i < 4; i++ {
		if _, err := engine.Cycle(context.Background(), CycleInput{
			Detections:      []Detection{d},
			SnapshotDataURL: dataURL,
			SuppressAlerts:  true,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if sink.AlertCount() != 0 {
		t.Fatalf("alerts = %d, want 0 while suppressed", sink.AlertCount())
	}

	// The next sighting lands inside the cooldown without a snapshot of
	// its own; the view reuses the one cached during suppression.
	*clock = clock.Add(2 * time.Second)
	view := driveToStable(t, engine, d, 1)
	if view.Criminal == nil || view.Criminal.Snapshot != dataURL {
		t.Error("cooldown view should reuse the snapshot cached while alerts were suppressed")
	}
}
