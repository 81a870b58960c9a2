// Package analyze runs whole-file recognition over uploaded media. Unlike
// the live pipeline it is synchronous and stateless: frames are sampled,
// matched, and tallied in one pass with no alerting side effects.
package analyze

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"sort"

	"github.com/facesentry/facesentry/internal/capture"
	"github.com/facesentry/facesentry/internal/extract"
	"github.com/facesentry/facesentry/internal/media"
	"github.com/facesentry/facesentry/internal/recognition"
)

// Processing bounds for uploaded media.
const (
	MaxFrames   = 600
	SampleEvery = 6
)

// Analysis outcome statuses.
const (
	StatusMatch   = "MATCH"
	StatusNoMatch = "NO_MATCH"
)

// FaceExtractor produces embeddings for all faces in a frame.
type FaceExtractor interface {
	ExtractAll(ctx context.Context, imageData []byte) ([]extract.Result, error)
}

// FaceMatcher matches one embedding against the template store.
type FaceMatcher interface {
	Match(query []float32) (string, float64, recognition.Diagnostics)
}

// Match is one identity confirmed across the uploaded file.
type Match struct {
	FaceLabel  string  `json:"face_label"`
	Confidence float64 `json:"confidence"`
	Hits       int     `json:"hits"`
}

// Result summarizes one upload analysis. Preview is an annotated JPEG of
// the highest-confidence matched frame, as a data URL.
type Result struct {
	Status        string  `json:"status"`
	FramesScanned int     `json:"frames_scanned"`
	FacesSeen     int     `json:"faces_seen"`
	Matches       []Match `json:"matches"`
	Preview       string  `json:"preview,omitempty"`
}

// Analyzer matches uploaded media against the template store.
type Analyzer struct {
	extractor FaceExtractor
	matcher   FaceMatcher
	minHits   int
}

// New creates an analyzer. A label must appear in at least minHits sampled
// frames to count as a match.
func New(extractor FaceExtractor, matcher FaceMatcher, minHits int) *Analyzer {
	if minHits < 1 {
		minHits = 1
	}
	return &Analyzer{extractor: extractor, matcher: matcher, minHits: minHits}
}

// Analyze decodes the media, samples frames, and tallies matched labels
// across the whole file. Confidence per label is the maximum seen in any
// frame.
func (a *Analyzer) Analyze(ctx context.Context, data []byte) (*Result, error) {
	frames, err := media.Frames(data, SampleEvery, MaxFrames)
	if err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}

	hits := make(map[string]int)
	maxConf := make(map[string]float64)
	result := &Result{}

	var (
		previewConf  float64
		previewLabel string
		previewFrame image.Image
		previewBoxes []image.Rectangle
	)

	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		encoded, err := media.EncodeJPEG(frame)
		if err != nil {
			continue
		}
		faces, err := a.extractor.ExtractAll(ctx, encoded)
		if err != nil {
			// Extraction failures skip the frame, they never abort the
			// whole analysis.
			continue
		}
		result.FramesScanned++
		result.FacesSeen += len(faces)

		// One vote per label per frame, keeping the best confidence.
		frameBest := make(map[string]float64)
		var frameBoxes []image.Rectangle
		for _, face := range faces {
			label, confidence, _ := a.matcher.Match(face.Embedding)
			if label == recognition.UnknownLabel {
				continue
			}
			frameBoxes = append(frameBoxes, face.Box)
			if confidence > frameBest[label] {
				frameBest[label] = confidence
			}
		}
		for label, confidence := range frameBest {
			hits[label]++
			if confidence > maxConf[label] {
				maxConf[label] = confidence
			}
			if confidence > previewConf {
				previewConf = confidence
				previewLabel = label
				previewFrame = frame
				previewBoxes = frameBoxes
			}
		}
	}

	for label, n := range hits {
		if n < a.minHits {
			continue
		}
		result.Matches = append(result.Matches, Match{
			FaceLabel:  label,
			Confidence: maxConf[label],
			Hits:       n,
		})
	}
	sort.Slice(result.Matches, func(i, j int) bool {
		if result.Matches[i].Confidence != result.Matches[j].Confidence {
			return result.Matches[i].Confidence > result.Matches[j].Confidence
		}
		return result.Matches[i].FaceLabel < result.Matches[j].FaceLabel
	})

	if len(result.Matches) == 0 {
		result.Status = StatusNoMatch
		return result, nil
	}
	result.Status = StatusMatch
	result.Preview = a.renderPreview(result.Matches, previewLabel, previewFrame, previewBoxes)
	return result, nil
}

// renderPreview annotates the best matched frame and encodes it as a JPEG
// data URL. The frame is dropped when its label was voted out below the
// hit floor.
func (a *Analyzer) renderPreview(matches []Match, label string, frame image.Image, boxes []image.Rectangle) string {
	if frame == nil {
		return ""
	}
	confirmed := false
	for _, match := range matches {
		if match.FaceLabel == label {
			confirmed = true
			break
		}
	}
	if !confirmed {
		return ""
	}

	encoded, err := media.EncodeJPEG(capture.Annotate(frame, boxes))
	if err != nil {
		return ""
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(encoded)
}
