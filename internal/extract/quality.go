package extract

import (
	"image"
	"math"
)

// Quality gating thresholds for training and probe crops.
const (
	MinBrightness       = 40.0
	MaxBrightness       = 220.0
	MinLaplacianVar     = 75.0
	RelaxedLaplacianVar = 35.0
	MaxRollAngle        = 30.0
)

// Extraction failure reason codes.
const (
	ReasonOK             = "ok"
	ReasonNoFace         = "no_face"
	ReasonFaceTooSmall   = "face_too_small"
	ReasonLowQuality     = "low_quality"
	ReasonRollTooHigh    = "pose_roll_too_high"
	ReasonDetectorError  = "detector_error"
	ReasonEmbeddingError = "embedding_error"
)

// QualityMetadata describes one extraction attempt. Reason is ReasonOK on
// success, otherwise it names the gate that rejected the image.
type QualityMetadata struct {
	Brightness float64 `json:"brightness"`
	Sharpness  float64 `json:"sharpness"`
	RollAngle  float64 `json:"roll_angle"`
	Score      float64 `json:"quality_score"`
	Passed     bool    `json:"passed"`
	Reason     string  `json:"reason"`
}

// RollAngle returns the eye line angle in degrees given eye center
// coordinates. Zero when the eyes are level.
func RollAngle(leftX, leftY, rightX, rightY float64) float64 {
	return math.Atan2(rightY-leftY, rightX-leftX) * 180 / math.Pi
}

// EvaluateQuality scores a face crop. The roll angle is supplied by the
// caller when landmark positions are known; pass 0 otherwise. Relaxed mode
// lowers the sharpness gate for already-cropped enrollment photos.
func EvaluateQuality(crop image.Image, roll float64, relaxed bool) QualityMetadata {
	if math.Abs(roll) > MaxRollAngle {
		return QualityMetadata{RollAngle: roll, Reason: ReasonRollTooHigh}
	}

	gray, w, h := grayPixels(crop)
	brightness := meanBrightness(gray)
	sharpness := laplacianVariance(gray, w, h)

	minVar := MinLaplacianVar
	if relaxed {
		minVar = RelaxedLaplacianVar
	}

	brightnessScore := 1.0
	if brightness < MinBrightness {
		brightnessScore = math.Max(0, brightness/MinBrightness)
	} else if brightness > MaxBrightness {
		brightnessScore = math.Max(0, (255-brightness)/(255-MaxBrightness))
	}
	sharpnessScore := math.Min(1, sharpness/minVar)
	score := math.Max(0, math.Min(1, 0.45*brightnessScore+0.55*sharpnessScore))

	meta := QualityMetadata{
		Brightness: brightness,
		Sharpness:  sharpness,
		RollAngle:  roll,
		Score:      score,
	}
	if brightness >= MinBrightness && brightness <= MaxBrightness && sharpness >= minVar {
		meta.Passed = true
		meta.Reason = ReasonOK
	} else {
		meta.Reason = ReasonLowQuality
	}
	return meta
}

// grayPixels flattens an image into row-major luma values.
func grayPixels(img image.Image) ([]float64, int, int) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	pixels := make([]float64, 0, w*h)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma on 8-bit channel values.
			pixels = append(pixels, 0.299*float64(r>>8)+0.587*float64(g>>8)+0.114*float64(b>>8))
		}
	}
	return pixels, w, h
}

func meanBrightness(gray []float64) float64 {
	if len(gray) == 0 {
		return 0
	}
	var sum float64
	for _, v := range gray {
		sum += v
	}
	return sum / float64(len(gray))
}

// laplacianVariance measures blur as the variance of a 4-neighbor Laplacian
// over interior pixels. Sharper edges produce larger responses.
func laplacianVariance(gray []float64, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}

	responses := make([]float64, 0, (w-2)*(h-2))
	var sum float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			v := gray[(y-1)*w+x] + gray[(y+1)*w+x] + gray[y*w+x-1] + gray[y*w+x+1] - 4*gray[y*w+x]
			responses = append(responses, v)
			sum += v
		}
	}

	mean := sum / float64(len(responses))
	var variance float64
	for _, v := range responses {
		d := v - mean
		variance += d * d
	}
	return variance / float64(len(responses))
}
