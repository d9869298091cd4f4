package analysis

import (
	"image"
	"math"

	"splatgate/internal/frames"
)

const (
	motionSide          = 64
	staticSide          = 50
	staticDiffThreshold = 50
)

// Motion returns the mean absolute pixel difference of a and b after reducing
// both to 64x64. ok is false when either frame is unusable.
func Motion(a, b frames.Frame) (value float64, ok bool) {
	if !a.Valid() || !b.Valid() {
		return 0, false
	}
	ga := frames.Downscale(a, motionSide, motionSide)
	gb := frames.Downscale(b, motionSide, motionSide)
	return meanAbsDiff(ga, gb), true
}

// ChangedPercent returns the percentage of pixels whose absolute difference
// exceeds 50 after reducing both frames to 50x50.
func ChangedPercent(a, b frames.Frame) (value float64, ok bool) {
	if !a.Valid() || !b.Valid() {
		return 0, false
	}
	ga := frames.Downscale(a, staticSide, staticSide)
	gb := frames.Downscale(b, staticSide, staticSide)

	changed := 0
	for i := range ga.Pix {
		if math.Abs(float64(ga.Pix[i])-float64(gb.Pix[i])) > staticDiffThreshold {
			changed++
		}
	}
	return float64(changed) / float64(len(ga.Pix)) * 100, true
}

func meanAbsDiff(a, b *image.Gray) float64 {
	var sum float64
	for i := range a.Pix {
		sum += math.Abs(float64(a.Pix[i]) - float64(b.Pix[i]))
	}
	return sum / float64(len(a.Pix))
}
