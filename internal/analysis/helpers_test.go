package analysis

import (
	"errors"

	"splatgate/internal/frames"
)

const (
	testW = 160
	testH = 90
)

func flatFrame(index int, value uint8) frames.Frame {
	pix := make([]uint8, testW*testH)
	for i := range pix {
		pix[i] = value
	}
	return frames.FromGray(index, float64(index)*0.5, testW, testH, pix)
}

// checkerFrame alternates 0 and 255 on every pixel.
func checkerFrame(index int) frames.Frame {
	pix := make([]uint8, testW*testH)
	for y := 0; y < testH; y++ {
		for x := 0; x < testW; x++ {
			if (x+y)%2 == 0 {
				pix[y*testW+x] = 255
			}
		}
	}
	return frames.FromGray(index, float64(index)*0.5, testW, testH, pix)
}

func brokenFrame(index int) frames.Frame {
	return frames.Failed(index, float64(index)*0.5, errors.New("corrupt jpeg"))
}

func flatFrames(n int, value uint8) []frames.Frame {
	out := make([]frames.Frame, n)
	for i := range out {
		out[i] = flatFrame(i, value)
	}
	return out
}

func metricsFor(fs []frames.Frame) []FrameMetrics {
	out := make([]FrameMetrics, len(fs))
	for i, f := range fs {
		out[i] = ComputeFrameMetrics(f)
	}
	return out
}

func brightnessSeries(values ...float64) []FrameMetrics {
	out := make([]FrameMetrics, len(values))
	for i, v := range values {
		out[i] = FrameMetrics{Index: i, Brightness: v}
	}
	return out
}

// sequenceFrames returns one flat frame per value, in order.
func sequenceFrames(values ...uint8) []frames.Frame {
	out := make([]frames.Frame, len(values))
	for i, v := range values {
		out[i] = flatFrame(i, v)
	}
	return out
}

// stripeFrame sets the first cols columns to on and the rest to off.
func stripeFrame(index, cols int, on, off uint8) frames.Frame {
	pix := make([]uint8, testW*testH)
	for y := 0; y < testH; y++ {
		for x := 0; x < testW; x++ {
			v := off
			if x < cols {
				v = on
			}
			pix[y*testW+x] = v
		}
	}
	return frames.FromGray(index, float64(index)*0.5, testW, testH, pix)
}

// dotFrame places isolated white pixels on a black frame every spacing
// pixels, starting at (1,1).
func dotFrame(index, spacing int) frames.Frame {
	pix := make([]uint8, testW*testH)
	for y := 1; y < testH; y += spacing {
		for x := 1; x < testW; x += spacing {
			pix[y*testW+x] = 255
		}
	}
	return frames.FromGray(index, float64(index)*0.5, testW, testH, pix)
}
