package capture

import "image"

// motionSampleGrid bounds per-frame motion scoring cost on large frames.
const motionSampleGrid = 64

// MotionScore estimates frame-to-frame motion as the mean absolute
// luma difference over a sampled grid. Identical frames score 0; a frozen
// or covered feed scores near 0 regardless of content.
func MotionScore(prev, curr image.Image) float64 {
	if prev == nil || curr == nil {
		return 0
	}
	pb, cb := prev.Bounds(), curr.Bounds()
	if pb.Dx() != cb.Dx() || pb.Dy() != cb.Dy() || pb.Empty() {
		return 0
	}

	stepX := pb.Dx() / motionSampleGrid
	if stepX < 1 {
		stepX = 1
	}
	stepY := pb.Dy() / motionSampleGrid
	if stepY < 1 {
		stepY = 1
	}

	var sum float64
	var n int
	for y := 0; y < pb.Dy(); y += stepY {
		for x := 0; x < pb.Dx(); x += stepX {
			d := luma(prev, pb.Min.X+x, pb.Min.Y+y) - luma(curr, cb.Min.X+x, cb.Min.Y+y)
			if d < 0 {
				d = -d
			}
			sum += d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func luma(img image.Image, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	return 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
}
