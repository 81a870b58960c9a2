package recognition

import (
	"math"
	"path/filepath"
	"testing"
)

func storeWith(t *testing.T, templates map[string][][]float32) *Store {
	t.Helper()
	path := writeStoreFile(t, templates)
	store, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return store
}

// vecAt returns a unit vector at the given angle from the x axis, in the
// xy plane. Cosine distance to [1,0,...] is 1-cos(angle).
func vecAt(angle float64) []float32 {
	return []float32{float32(math.Cos(angle)), float32(math.Sin(angle)), 0, 0}
}

func TestMatch_AcceptsCloseQuery(t *testing.T) {
	store := storeWith(t, map[string][][]float32{
		"person_001": {vecAt(0)},
		"person_002": {vecAt(math.Pi / 2)},
	})
	matcher := NewMatcher(store, 0.62, 3, 70)

	label, confidence, diag := matcher.Match(vecAt(0.1))

	if label != "person_001" {
		t.Errorf("expected person_001, got %q", label)
	}
	if confidence < 99 {
		t.Errorf("expected confidence near 100, got %f", confidence)
	}
	if diag.Reason != ReasonOK {
		t.Errorf("expected reason ok, got %q", diag.Reason)
	}
}

func TestMatch_EmptyStore(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatal(err)
	}
	matcher := NewMatcher(store, 0.62, 3, 70)

	label, confidence, diag := matcher.Match(vecAt(0))

	if label != UnknownLabel || confidence != 0 {
		t.Errorf("expected unknown/0 for empty store, got %q/%f", label, confidence)
	}
	if diag.Reason != ReasonEmptyStore {
		t.Errorf("expected reason empty_store, got %q", diag.Reason)
	}
}

func TestMatch_MissingEmbedding(t *testing.T) {
	store := storeWith(t, map[string][][]float32{
		"person_001": {vecAt(0)},
	})
	matcher := NewMatcher(store, 0.62, 3, 70)

	label, confidence, diag := matcher.Match(nil)

	if label != UnknownLabel || confidence != 0 {
		t.Errorf("expected unknown/0 for missing embedding, got %q/%f", label, confidence)
	}
	if diag.Reason != ReasonNoEmbedding {
		t.Errorf("expected reason no_embedding, got %q", diag.Reason)
	}
}

func TestMatch_RejectionCarriesBestCandidate(t *testing.T) {
	// ~66 degrees: distance ~0.6 > threshold 0.3, confidence ~40.
	store := storeWith(t, map[string][][]float32{
		"person_001": {vecAt(0)},
	})
	matcher := NewMatcher(store, 0.3, 3, 70)

	label, confidence, diag := matcher.Match(vecAt(1.16))

	if label != UnknownLabel || confidence != 0 {
		t.Errorf("expected unknown/0 on rejection, got %q/%f", label, confidence)
	}
	if diag.BestLabel != "person_001" {
		t.Errorf("expected best candidate person_001, got %q", diag.BestLabel)
	}
	if diag.BestConfidence <= 0 {
		t.Error("expected non-zero best candidate confidence in diagnostics")
	}
	if diag.Reason != ReasonLowConfidence {
		t.Errorf("expected reason low_confidence, got %q", diag.Reason)
	}
}

func TestMatch_RejectionAboveSecondaryFloor(t *testing.T) {
	// ~37 degrees: distance ~0.2, confidence ~80 — above the secondary floor
	// but rejected by a strict threshold.
	store := storeWith(t, map[string][][]float32{
		"person_001": {vecAt(0)},
	})
	matcher := NewMatcher(store, 0.1, 3, 70)

	label, _, diag := matcher.Match(vecAt(0.64))

	if label != UnknownLabel {
		t.Errorf("expected unknown, got %q", label)
	}
	if diag.Reason != ReasonBelowThreshold {
		t.Errorf("expected reason below_threshold, got %q", diag.Reason)
	}
}

func TestMatch_TopKMeanRobustToOutlierTemplate(t *testing.T) {
	// person_001 has two tight templates and one outlier; person_002 has one
	// template slightly closer than person_001's outlier. Top-3 mean still
	// favors person_001 for a query near its cluster.
	store := storeWith(t, map[string][][]float32{
		"person_001": {vecAt(0), vecAt(0.05), vecAt(1.5)},
		"person_002": {vecAt(0.6)},
	})
	matcher := NewMatcher(store, 0.62, 2, 70)

	label, _, _ := matcher.Match(vecAt(0.02))

	if label != "person_001" {
		t.Errorf("expected person_001 via top-k mean, got %q", label)
	}
}

func TestMatch_Deterministic(t *testing.T) {
	store := storeWith(t, map[string][][]float32{
		"person_001": {vecAt(0), vecAt(0.2)},
		"person_002": {vecAt(0.5)},
		"person_003": {vecAt(1.0)},
	})
	matcher := NewMatcher(store, 0.62, 3, 70)
	query := vecAt(0.1)

	firstLabel, firstConfidence, _ := matcher.Match(query)
	for range 20 {
		label, confidence, _ := matcher.Match(query)
		if label != firstLabel || confidence != firstConfidence {
			t.Fatalf("match is not deterministic: %q/%f vs %q/%f",
				label, confidence, firstLabel, firstConfidence)
		}
	}
}

func TestMatch_QueryScaleInvariant(t *testing.T) {
	store := storeWith(t, map[string][][]float32{
		"person_001": {vecAt(0)},
	})
	matcher := NewMatcher(store, 0.62, 3, 70)

	q := vecAt(0.1)
	scaled := make([]float32, len(q))
	for i, x := range q {
		scaled[i] = x * 42
	}

	_, c1, _ := matcher.Match(q)
	_, c2, _ := matcher.Match(scaled)

	if math.Abs(c1-c2) > 1e-4 {
		t.Errorf("expected scale-invariant confidence, got %f vs %f", c1, c2)
	}
}
