package detect

import (
	"context"
	"image"

	"github.com/facesentry/facesentry/internal/extract"
	"github.com/facesentry/facesentry/internal/media"
)

// remote asks the embedding service for face boxes. The service runs a
// learned detector alongside embedding extraction, so boxes from this
// backend are the most precise the chain offers.
type remote struct {
	embedder        extract.FaceEmbedder
	confidenceFloor float64
	minBoxSize      int
}

func newRemote(embedder extract.FaceEmbedder, confidenceFloor float64, minBoxSize int) *remote {
	return &remote{
		embedder:        embedder,
		confidenceFloor: confidenceFloor,
		minBoxSize:      minBoxSize,
	}
}

func (r *remote) Name() string { return "remote" }

func (r *remote) Detect(ctx context.Context, frame image.Image) []image.Rectangle {
	data, err := media.EncodeJPEG(frame)
	if err != nil {
		return nil
	}
	resp, err := r.embedder.ComputeFaceEmbeddings(ctx, data)
	if err != nil {
		return nil
	}

	var boxes []image.Rectangle
	for _, face := range resp.Faces {
		if face.DetScore < r.confidenceFloor || len(face.BBox) != 4 {
			continue
		}
		boxes = append(boxes, image.Rect(
			int(face.BBox[0]), int(face.BBox[1]),
			int(face.BBox[2]), int(face.BBox[3]),
		))
	}
	return filterBoxes(boxes, r.minBoxSize)
}
