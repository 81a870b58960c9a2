// Package detect provides face detection over decoded frames with a fixed
// fallback chain: the embedding service's learned detector, a local landmark
// cascade, and finally a coarse geometric heuristic. The chain is probed once
// at construction; detection itself never fails, it only returns fewer boxes.
package detect

import (
	"context"
	"image"

	"github.com/rs/zerolog"

	"github.com/facesentry/facesentry/internal/config"
	"github.com/facesentry/facesentry/internal/extract"
)

// Detector finds face bounding boxes in a frame.
type Detector interface {
	// Detect returns boxes for faces in the frame. An empty slice is a
	// valid result; implementations never surface transient errors.
	Detect(ctx context.Context, frame image.Image) []image.Rectangle
	// Name identifies the active backend for logs and status output.
	Name() string
}

// New selects the best available detector backend. Order of preference is
// the remote learned detector, the local landmark cascade, then the
// geometric fallback which always constructs.
func New(cfg config.DetectorConfig, embedder extract.FaceEmbedder, log zerolog.Logger) Detector {
	log = log.With().Str("component", "detect").Logger()

	if embedder != nil {
		log.Info().Msg("using remote face detector")
		return newRemote(embedder, cfg.ConfidenceFloor, cfg.MinBoxSize)
	}

	if cfg.ModelPath != "" {
		cascade, err := newCascade(cfg.ModelPath, cfg.MinBoxSize)
		if err == nil {
			log.Info().Str("model", cfg.ModelPath).Msg("using cascade face detector")
			return cascade
		}
		log.Warn().Err(err).Str("model", cfg.ModelPath).Msg("cascade unavailable, falling back")
	}

	log.Info().Msg("using geometric face detector")
	return newGeometric(cfg.MinBoxSize)
}

// filterBoxes drops boxes smaller than the minimum edge length.
func filterBoxes(boxes []image.Rectangle, minSize int) []image.Rectangle {
	out := boxes[:0]
	for _, b := range boxes {
		if b.Dx() >= minSize && b.Dy() >= minSize {
			out = append(out, b)
		}
	}
	return out
}
