package extract

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/facesentry/facesentry/internal/media"
)

type fakeEmbedder struct {
	resp *FaceResponse
	err  error
}

func (f *fakeEmbedder) ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	return f.resp, f.err
}

// sharpJPEG renders a well-lit high-contrast frame the quality gate accepts.
func sharpJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 200})
			} else {
				img.SetGray(x, y, color.Gray{Y: 60})
			}
		}
	}
	data, err := media.EncodeJPEG(img)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func face(score float64, x1, y1, x2, y2 float64, emb []float32) Face {
	return Face{Embedding: emb, BBox: []float64{x1, y1, x2, y2}, DetScore: score}
}

func TestExtractLargestPicksBiggestFace(t *testing.T) {
	embedder := &fakeEmbedder{resp: &FaceResponse{Faces: []Face{
		face(0.9, 0, 0, 50, 50, []float32{1, 0}),
		face(0.9, 0, 0, 100, 100, []float32{0, 1}),
	}}}
	ex := NewExtractor(embedder, 0.35, 40)

	res := ex.ExtractLargest(context.Background(), sharpJPEG(t, 120, 120), false)
	if res.Embedding == nil {
		t.Fatalf("expected extraction, got reason %q", res.Quality.Reason)
	}
	if res.Embedding[1] != 1 {
		t.Error("largest face should win")
	}
	if res.Quality.Reason != ReasonOK {
		t.Errorf("reason = %q", res.Quality.Reason)
	}
}

func TestExtractLargestFailureReasons(t *testing.T) {
	frame := sharpJPEG(t, 120, 120)

	t.Run("DetectorError", func(t *testing.T) {
		ex := NewExtractor(&fakeEmbedder{err: errors.New("service down")}, 0.35, 40)
		res := ex.ExtractLargest(context.Background(), frame, false)
		if res.Embedding != nil || res.Quality.Reason != ReasonDetectorError {
			t.Errorf("reason = %q, want detector_error", res.Quality.Reason)
		}
	})

	t.Run("NoFace", func(t *testing.T) {
		ex := NewExtractor(&fakeEmbedder{resp: &FaceResponse{}}, 0.35, 40)
		res := ex.ExtractLargest(context.Background(), frame, false)
		if res.Quality.Reason != ReasonNoFace {
			t.Errorf("reason = %q, want no_face", res.Quality.Reason)
		}
	})

	t.Run("BelowConfidenceFloor", func(t *testing.T) {
		embedder := &fakeEmbedder{resp: &FaceResponse{Faces: []Face{
			face(0.2, 0, 0, 100, 100, []float32{1}),
		}}}
		ex := NewExtractor(embedder, 0.35, 40)
		res := ex.ExtractLargest(context.Background(), frame, false)
		if res.Quality.Reason != ReasonNoFace {
			t.Errorf("reason = %q, want no_face for sub-floor detection", res.Quality.Reason)
		}
	})

	t.Run("FaceTooSmall", func(t *testing.T) {
		embedder := &fakeEmbedder{resp: &FaceResponse{Faces: []Face{
			face(0.9, 0, 0, 20, 20, []float32{1}),
		}}}
		ex := NewExtractor(embedder, 0.35, 40)
		res := ex.ExtractLargest(context.Background(), frame, false)
		if res.Quality.Reason != ReasonFaceTooSmall {
			t.Errorf("reason = %q, want face_too_small", res.Quality.Reason)
		}
	})

	t.Run("EmbeddingError", func(t *testing.T) {
		embedder := &fakeEmbedder{resp: &FaceResponse{Faces: []Face{
			face(0.9, 0, 0, 100, 100, nil),
		}}}
		ex := NewExtractor(embedder, 0.35, 40)
		res := ex.ExtractLargest(context.Background(), frame, false)
		if res.Quality.Reason != ReasonEmbeddingError {
			t.Errorf("reason = %q, want embedding_error", res.Quality.Reason)
		}
	})
}

func TestExtractAllFiltersAndKeepsSurvivors(t *testing.T) {
	embedder := &fakeEmbedder{resp: &FaceResponse{Faces: []Face{
		face(0.9, 0, 0, 100, 100, []float32{1, 0}),
		face(0.2, 0, 0, 100, 100, []float32{0, 1}), // below floor
		face(0.9, 0, 0, 30, 30, []float32{0, 1}),   // too small
		face(0.9, 0, 0, 100, 100, nil),             // no embedding
	}}}
	ex := NewExtractor(embedder, 0.35, 40)

	results, err := ex.ExtractAll(context.Background(), sharpJPEG(t, 120, 120))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 surviving face, got %d", len(results))
	}
	if results[0].Box.Dx() != 100 {
		t.Errorf("unexpected box %v", results[0].Box)
	}
}

func TestExtractAllPropagatesServiceError(t *testing.T) {
	ex := NewExtractor(&fakeEmbedder{err: errors.New("down")}, 0.35, 40)
	if _, err := ex.ExtractAll(context.Background(), []byte{}); err == nil {
		t.Error("expected error")
	}
}
