package capture

import (
	"image"
	"image/color"
	"image/draw"
)

var boxColor = color.RGBA{R: 0, G: 220, B: 80, A: 255}

const boxStroke = 2

// Annotate copies the frame and strokes detection boxes onto it.
func Annotate(frame image.Image, boxes []image.Rectangle) *image.RGBA {
	bounds := frame.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, frame, bounds.Min, draw.Src)

	for _, box := range boxes {
		box = box.Intersect(bounds)
		if box.Empty() {
			continue
		}
		strokeRect(out, box)
	}
	return out
}

func strokeRect(img *image.RGBA, r image.Rectangle) {
	for s := 0; s < boxStroke; s++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			setIn(img, x, r.Min.Y+s)
			setIn(img, x, r.Max.Y-1-s)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			setIn(img, r.Min.X+s, y)
			setIn(img, r.Max.X-1-s, y)
		}
	}
}

func setIn(img *image.RGBA, x, y int) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.Set(x, y, boxColor)
	}
}
