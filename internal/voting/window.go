// Package voting implements temporal voting over per-frame match candidates.
// A label must recur across enough recent frames before it is trusted, which
// suppresses one-frame false positives from a noisy per-frame matcher.
package voting

import (
	"sort"

	"github.com/facesentry/facesentry/internal/recognition"
)

// Window is a bounded ring buffer of per-frame candidate sets. It is not
// safe for concurrent use; the capture loop owns it.
type Window struct {
	frames   [][]recognition.Candidate
	capacity int
	minHits  int
	next     int
	filled   bool
}

// NewWindow creates a voting window of the given frame capacity. A label is
// emitted as stable once it appears in at least minHits retained frames.
func NewWindow(capacity, minHits int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	if minHits < 1 {
		minHits = 1
	}
	return &Window{
		frames:   make([][]recognition.Candidate, capacity),
		capacity: capacity,
		minHits:  minHits,
	}
}

// Push inserts one frame's accepted candidates, evicting the oldest frame at
// capacity, and returns the labels currently stable across the window.
//
// Candidates are deduplicated by label within the frame, keeping the highest
// confidence. Stable output confidence is max(max confidence, mean
// confidence) — biased toward the best single observation while still
// rewarding consistency. Output is sorted by confidence descending.
func (w *Window) Push(candidates []recognition.Candidate) []recognition.Candidate {
	w.frames[w.next] = dedupeByLabel(candidates)
	w.next++
	if w.next == w.capacity {
		w.next = 0
		w.filled = true
	}
	return w.stable()
}

// Reset drops all retained frames.
func (w *Window) Reset() {
	for i := range w.frames {
		w.frames[i] = nil
	}
	w.next = 0
	w.filled = false
}

// Len returns the number of frames currently retained.
func (w *Window) Len() int {
	if w.filled {
		return w.capacity
	}
	return w.next
}

// dedupeByLabel keeps one candidate per label, preferring the highest
// confidence. Duplicate detections of the same identity within a single
// frame otherwise double-count in the hit tally.
func dedupeByLabel(candidates []recognition.Candidate) []recognition.Candidate {
	if len(candidates) == 0 {
		return nil
	}
	best := make(map[string]float64, len(candidates))
	order := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.Label == "" || c.Label == recognition.UnknownLabel {
			continue
		}
		if prev, ok := best[c.Label]; !ok {
			best[c.Label] = c.Confidence
			order = append(order, c.Label)
		} else if c.Confidence > prev {
			best[c.Label] = c.Confidence
		}
	}
	out := make([]recognition.Candidate, 0, len(order))
	for _, label := range order {
		out = append(out, recognition.Candidate{Label: label, Confidence: best[label]})
	}
	return out
}

func (w *Window) stable() []recognition.Candidate {
	hits := make(map[string]int)
	maxConf := make(map[string]float64)
	confSum := make(map[string]float64)

	for _, frame := range w.frames {
		for _, c := range frame {
			hits[c.Label]++
			if c.Confidence > maxConf[c.Label] {
				maxConf[c.Label] = c.Confidence
			}
			confSum[c.Label] += c.Confidence
		}
	}

	out := make([]recognition.Candidate, 0, len(hits))
	for label, n := range hits {
		if n < w.minHits {
			continue
		}
		mean := confSum[label] / float64(n)
		out = append(out, recognition.Candidate{
			Label:      label,
			Confidence: max(maxConf[label], mean),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Label < out[j].Label
	})
	return out
}
