package detect

import (
	"context"
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"
)

const (
	cascadeShiftFactor         = 0.1
	cascadeScaleFactor         = 1.1
	cascadeIoUClusterThreshold = 0.2
	cascadeQualityThreshold    = 5.0
)

// cascade runs a local pixel-intensity comparison cascade. Slower to miss
// than the remote detector but works without the embedding service.
type cascade struct {
	classifier *pigo.Pigo
	minBoxSize int
}

func newCascade(modelPath string, minBoxSize int) (*cascade, error) {
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("read cascade model: %w", err)
	}
	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack cascade model: %w", err)
	}
	return &cascade{classifier: classifier, minBoxSize: minBoxSize}, nil
}

func (c *cascade) Name() string { return "cascade" }

func (c *cascade) Detect(ctx context.Context, frame image.Image) []image.Rectangle {
	src := pigo.ImgToNRGBA(frame)
	pixels := pigo.RgbToGrayscale(src)
	cols, rows := src.Bounds().Dx(), src.Bounds().Dy()

	maxSize := rows
	if cols < rows {
		maxSize = cols
	}

	params := pigo.CascadeParams{
		MinSize:     c.minBoxSize,
		MaxSize:     maxSize,
		ShiftFactor: cascadeShiftFactor,
		ScaleFactor: cascadeScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := c.classifier.RunCascade(params, 0.0)
	dets = c.classifier.ClusterDetections(dets, cascadeIoUClusterThreshold)

	var boxes []image.Rectangle
	for _, det := range dets {
		if det.Q < cascadeQualityThreshold {
			continue
		}
		half := det.Scale / 2
		boxes = append(boxes, image.Rect(
			det.Col-half, det.Row-half,
			det.Col+half, det.Row+half,
		))
	}
	return filterBoxes(boxes, c.minBoxSize)
}
