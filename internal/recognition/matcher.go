package recognition

import "sort"

// UnknownLabel is the label reported when no template clears the threshold.
const UnknownLabel = "unknown"

// Reason codes carried in match diagnostics.
const (
	ReasonOK             = "ok"
	ReasonNoEmbedding    = "no_embedding"
	ReasonEmptyStore     = "empty_store"
	ReasonBelowThreshold = "below_threshold" // rejected, but best candidate clears the secondary confidence floor
	ReasonLowConfidence  = "low_confidence"  // rejected with a weak best candidate
)

// Candidate is one per-face match result: an identity label and a confidence
// percentage in [0,100].
type Candidate struct {
	Label      string  `json:"face_label"`
	Confidence float64 `json:"confidence"`
}

// Diagnostics surfaces the near-miss details of a match. Downstream display
// logic shows the closest guess even when the match was rejected.
type Diagnostics struct {
	Reason         string             `json:"reason"`
	BestLabel      string             `json:"best_candidate,omitempty"`
	BestDistance   float64            `json:"best_distance,omitempty"`
	BestConfidence float64            `json:"best_candidate_confidence,omitempty"`
	Threshold      float64            `json:"threshold"`
	Scores         map[string]float64 `json:"scores,omitempty"`
}

// Matcher scores query embeddings against a template store.
type Matcher struct {
	store *Store

	// Threshold is the maximum aggregated cosine distance to accept a match.
	Threshold float64
	// TopK is how many best per-label distances are averaged.
	TopK int
	// MinConfidence is the secondary confidence floor used only to pick the
	// rejection reason code.
	MinConfidence float64
}

// NewMatcher creates a matcher over the given store.
func NewMatcher(store *Store, threshold float64, topK int, minConfidence float64) *Matcher {
	if topK < 1 {
		topK = 1
	}
	return &Matcher{
		store:         store,
		Threshold:     threshold,
		TopK:          topK,
		MinConfidence: minConfidence,
	}
}

// labelDistance aggregates the query's distance to one label's templates:
// the mean of the K smallest per-template distances. Averaging the best K is
// more robust to one noisy template than a single nearest neighbor.
func (m *Matcher) labelDistance(query []float32, templates [][]float32) float64 {
	if len(templates) == 0 {
		return 1.0
	}

	distances := make([]float64, 0, len(templates))
	for _, t := range templates {
		distances = append(distances, CosineDistance(query, t))
	}
	sort.Float64s(distances)

	k := min(m.TopK, len(distances))
	var sum float64
	for _, d := range distances[:k] {
		sum += d
	}
	return sum / float64(k)
}

// Match scores the query embedding against every enrolled label and returns
// the accepted label with its confidence, or "unknown" with confidence 0.
// Diagnostics always carry the best candidate, so rejections still expose the
// closest guess. The whole computation reads one store snapshot; a concurrent
// reload never mixes old and new templates into one match.
//
// Ties in aggregated distance resolve to the label that sorts first. That is
// an implementation-defined tie-break, not a contract.
func (m *Matcher) Match(query []float32) (string, float64, Diagnostics) {
	if len(query) == 0 {
		return UnknownLabel, 0, Diagnostics{Reason: ReasonNoEmbedding, Threshold: m.Threshold}
	}

	snap := m.store.snapshot()
	if len(snap.labels) == 0 {
		return UnknownLabel, 0, Diagnostics{Reason: ReasonEmptyStore, Threshold: m.Threshold}
	}

	query = Normalize(query)

	bestLabel := ""
	bestScore := 1.0
	scores := make(map[string]float64)

	for _, label := range snap.shortlist(query) {
		score := m.labelDistance(query, snap.templates[label])
		scores[label] = score
		if score < bestScore {
			bestScore = score
			bestLabel = label
		}
	}

	bestConfidence := clampConfidence((1.0 - bestScore) * 100.0)

	if bestLabel != "" && bestScore < m.Threshold {
		return bestLabel, bestConfidence, Diagnostics{
			Reason:         ReasonOK,
			BestLabel:      bestLabel,
			BestDistance:   bestScore,
			BestConfidence: bestConfidence,
			Threshold:      m.Threshold,
			Scores:         scores,
		}
	}

	reason := ReasonLowConfidence
	if bestConfidence >= m.MinConfidence {
		reason = ReasonBelowThreshold
	}
	return UnknownLabel, 0, Diagnostics{
		Reason:         reason,
		BestLabel:      bestLabel,
		BestDistance:   bestScore,
		BestConfidence: bestConfidence,
		Threshold:      m.Threshold,
		Scores:         scores,
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
