// Package media decodes still images and multi-frame media (animated GIF,
// raw MJPEG streams) into frames for the recognition pipeline.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DetectMIME detects the media MIME type from magic bytes.
func DetectMIME(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	if data[0] == 0x42 && data[1] == 0x4D {
		return "image/bmp"
	}
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}

// Decode decodes a single still image of any supported format.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Frames expands uploaded media into sampled frames. Animated GIFs are
// coalesced frame by frame, concatenated JPEG streams are split on their
// SOI/EOI markers, everything else yields a single frame. Every sampleEvery-th
// frame is kept, up to maxFrames.
func Frames(data []byte, sampleEvery, maxFrames int) ([]image.Image, error) {
	if sampleEvery < 1 {
		sampleEvery = 1
	}
	if maxFrames < 1 {
		maxFrames = 1
	}

	switch DetectMIME(data) {
	case "image/gif":
		return gifFrames(data, sampleEvery, maxFrames)
	case "image/jpeg":
		parts := SplitMJPEG(data)
		if len(parts) > 1 {
			return jpegFrames(parts, sampleEvery, maxFrames)
		}
	}

	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return []image.Image{img}, nil
}

// gifFrames coalesces an animated GIF. Each frame is drawn over the running
// canvas so partial-update frames come out whole.
func gifFrames(data []byte, sampleEvery, maxFrames int) ([]image.Image, error) {
	anim, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode gif: %w", err)
	}
	if len(anim.Image) == 0 {
		return nil, fmt.Errorf("gif has no frames")
	}

	bounds := image.Rect(0, 0, anim.Config.Width, anim.Config.Height)
	if bounds.Empty() {
		bounds = anim.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)

	var frames []image.Image
	for i, frame := range anim.Image {
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		if i%sampleEvery != 0 {
			continue
		}
		snapshot := image.NewRGBA(bounds)
		draw.Draw(snapshot, bounds, canvas, bounds.Min, draw.Src)
		frames = append(frames, snapshot)
		if len(frames) == maxFrames {
			break
		}
	}
	return frames, nil
}

func jpegFrames(parts [][]byte, sampleEvery, maxFrames int) ([]image.Image, error) {
	var frames []image.Image
	for i, part := range parts {
		if i%sampleEvery != 0 {
			continue
		}
		img, err := Decode(part)
		if err != nil {
			// Truncated trailing frames happen in interrupted streams.
			continue
		}
		frames = append(frames, img)
		if len(frames) == maxFrames {
			break
		}
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no decodable jpeg frames")
	}
	return frames, nil
}

// SplitMJPEG splits a raw MJPEG byte stream into individual JPEG images by
// scanning for SOI (FFD8) and EOI (FFD9) markers.
func SplitMJPEG(data []byte) [][]byte {
	var parts [][]byte
	start := -1
	for i := 0; i+1 < len(data); i++ {
		if data[i] != 0xFF {
			continue
		}
		switch data[i+1] {
		case 0xD8:
			if start < 0 {
				start = i
			}
		case 0xD9:
			if start >= 0 {
				parts = append(parts, data[start:i+2])
				start = -1
				i++
			}
		}
	}
	return parts
}

// Crop returns the sub-image for the rectangle clamped to the image bounds,
// or nil when the intersection is empty.
func Crop(img image.Image, rect image.Rectangle) image.Image {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return nil
	}
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out
}

// EncodeJPEG encodes a frame for streaming and snapshots.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
