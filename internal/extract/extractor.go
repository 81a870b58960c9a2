package extract

import (
	"context"
	"image"

	"github.com/facesentry/facesentry/internal/media"
)

// FaceEmbedder is the embedding service surface the extractor needs.
type FaceEmbedder interface {
	ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error)
}

// Result is one successfully extracted face. A nil Embedding means the
// image was rejected; Quality.Reason says why.
type Result struct {
	Embedding []float32
	Box       image.Rectangle
	DetScore  float64
	Quality   QualityMetadata
}

// Extractor turns raw images into face embeddings with quality gating.
type Extractor struct {
	embedder        FaceEmbedder
	confidenceFloor float64
	minBoxSize      int
}

// NewExtractor creates an extractor over the embedding service.
func NewExtractor(embedder FaceEmbedder, confidenceFloor float64, minBoxSize int) *Extractor {
	return &Extractor{
		embedder:        embedder,
		confidenceFloor: confidenceFloor,
		minBoxSize:      minBoxSize,
	}
}

// ExtractLargest extracts the largest face in the image, applying quality
// gates. Intended for enrollment photos where one subject is expected.
// Never returns an error; failures are reported through Quality.Reason.
func (e *Extractor) ExtractLargest(ctx context.Context, imageData []byte, relaxed bool) Result {
	resp, err := e.embedder.ComputeFaceEmbeddings(ctx, imageData)
	if err != nil {
		return Result{Quality: QualityMetadata{Reason: ReasonDetectorError}}
	}

	best := largestFace(resp.Faces, e.confidenceFloor)
	if best == nil {
		return Result{Quality: QualityMetadata{Reason: ReasonNoFace}}
	}

	box := boxRect(best.BBox)
	if box.Dx() < e.minBoxSize || box.Dy() < e.minBoxSize {
		return Result{Quality: QualityMetadata{Reason: ReasonFaceTooSmall}}
	}
	if len(best.Embedding) == 0 {
		return Result{Quality: QualityMetadata{Reason: ReasonEmbeddingError}}
	}

	quality := e.cropQuality(imageData, box, relaxed)
	if !quality.Passed {
		return Result{Box: box, DetScore: best.DetScore, Quality: quality}
	}

	return Result{
		Embedding: best.Embedding,
		Box:       box,
		DetScore:  best.DetScore,
		Quality:   quality,
	}
}

// ExtractAll extracts every face above the detection floor and minimum box
// size. Used on live and uploaded frames, where quality gating is left to
// the matcher's confidence floor.
func (e *Extractor) ExtractAll(ctx context.Context, imageData []byte) ([]Result, error) {
	resp, err := e.embedder.ComputeFaceEmbeddings(ctx, imageData)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, face := range resp.Faces {
		if face.DetScore < e.confidenceFloor || len(face.Embedding) == 0 {
			continue
		}
		box := boxRect(face.BBox)
		if box.Dx() < e.minBoxSize || box.Dy() < e.minBoxSize {
			continue
		}
		results = append(results, Result{
			Embedding: face.Embedding,
			Box:       box,
			DetScore:  face.DetScore,
			Quality:   QualityMetadata{Passed: true, Reason: ReasonOK},
		})
	}
	return results, nil
}

// cropQuality decodes the image and scores the face region. Undecodable
// images score as failing quality rather than erroring; the embedding
// service already proved a face exists.
func (e *Extractor) cropQuality(imageData []byte, box image.Rectangle, relaxed bool) QualityMetadata {
	img, err := media.Decode(imageData)
	if err != nil {
		return QualityMetadata{Reason: ReasonLowQuality}
	}
	crop := media.Crop(img, box)
	if crop == nil {
		return QualityMetadata{Reason: ReasonLowQuality}
	}
	return EvaluateQuality(crop, 0, relaxed)
}

func largestFace(faces []Face, floor float64) *Face {
	var best *Face
	var bestArea int
	for i := range faces {
		face := &faces[i]
		if face.DetScore < floor {
			continue
		}
		box := boxRect(face.BBox)
		area := box.Dx() * box.Dy()
		if best == nil || area > bestArea {
			best = face
			bestArea = area
		}
	}
	return best
}

func boxRect(bbox []float64) image.Rectangle {
	if len(bbox) != 4 {
		return image.Rectangle{}
	}
	return image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3]))
}
