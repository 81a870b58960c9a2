package detect

import (
	"context"
	"image"
)

// geometric is the last-resort backend: it proposes a single centered box
// sized to typical head framing. It keeps the pipeline alive when neither
// learned detector is available; the matcher's confidence floor rejects
// crops that turn out not to contain a face.
type geometric struct {
	minBoxSize int
}

func newGeometric(minBoxSize int) *geometric {
	return &geometric{minBoxSize: minBoxSize}
}

func (g *geometric) Name() string { return "geometric" }

func (g *geometric) Detect(ctx context.Context, frame image.Image) []image.Rectangle {
	bounds := frame.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	// Half the shorter edge, centered with a slight upward bias since
	// faces sit above frame center in typical camera framing.
	size := w
	if h < w {
		size = h
	}
	size /= 2
	if size < g.minBoxSize {
		return nil
	}

	cx := bounds.Min.X + w/2
	cy := bounds.Min.Y + h*2/5
	box := image.Rect(cx-size/2, cy-size/2, cx+size/2, cy+size/2).
		Intersect(bounds)
	return filterBoxes([]image.Rectangle{box}, g.minBoxSize)
}
