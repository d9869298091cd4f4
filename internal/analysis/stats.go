package analysis

import (
	"image"
	"math"

	"gonum.org/v1/gonum/stat"
)

// kernel3 is a 3x3 convolution kernel in row-major order.
type kernel3 [9]float64

var (
	laplacianKernel = kernel3{0, -1, 0, -1, 4, -1, 0, -1, 0}
	cornerKernel    = kernel3{-1, -1, -1, -1, 8, -1, -1, -1, -1}
)

// convolve applies k over the valid region of img (no border padding).
// Responses are clamped to 0..255 as an 8-bit filter output would be.
func convolve(img *image.Gray, k kernel3) []float64 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w < 3 || h < 3 {
		return nil
	}
	out := make([]float64, 0, (w-2)*(h-2))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			var sum float64
			for ky := -1; ky <= 1; ky++ {
				row := (y+ky)*img.Stride + x
				for kx := -1; kx <= 1; kx++ {
					sum += k[(ky+1)*3+kx+1] * float64(img.Pix[row+kx])
				}
			}
			out = append(out, clamp(sum, 0, 255))
		}
	}
	return out
}

// popMeanVariance returns the mean and population variance, or zeros for empty input.
func popMeanVariance(xs []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	return stat.PopMeanVariance(xs, nil)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

func toFloats(pix []uint8) []float64 {
	out := make([]float64, len(pix))
	for i, p := range pix {
		out[i] = float64(p)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// roundScore rounds half away from zero and clamps to the 0..100 score range.
func roundScore(v float64) int {
	return int(clamp(math.Round(v), 0, 100))
}

// part is one weighted component of a composite score. Weights are whole
// percentages so the sum is exact before rounding.
type part struct {
	score  int
	weight int
}

// weightedScore combines parts whose weights sum to 100.
func weightedScore(parts ...part) int {
	total := 0
	for _, p := range parts {
		total += p.score * p.weight
	}
	return roundScore(float64(total) / 100)
}
