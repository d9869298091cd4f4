package analysis

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"splatgate/internal/frames"
)

const (
	sharpnessMaxSide = 200
	sharpnessDivisor = 20
	edgeThreshold    = 30
)

// Neutral values used for a frame that could not be decoded.
const (
	fallbackBrightness  = 128
	fallbackContrast    = 50
	fallbackSharpness   = 50
	fallbackEdgeDensity = 50
)

// FrameMetrics holds the per-frame scalars every scorer works from.
type FrameMetrics struct {
	Index       int     `json:"index"`
	Timestamp   float64 `json:"timestamp"`
	Brightness  float64 `json:"brightness"`  // 0-255
	Contrast    float64 `json:"contrast"`    // 0-127.5
	Sharpness   float64 `json:"sharpness"`   // 0-100
	EdgeDensity float64 `json:"edgeDensity"` // 0-100
	Fallback    bool    `json:"fallback,omitempty"`
}

// ComputeFrameMetrics measures one frame. An undecodable frame yields the neutral
// fallback record with Fallback set.
func ComputeFrameMetrics(f frames.Frame) FrameMetrics {
	m := FrameMetrics{Index: f.Index, Timestamp: f.Timestamp}
	if !f.Valid() {
		m.Brightness = fallbackBrightness
		m.Contrast = fallbackContrast
		m.Sharpness = fallbackSharpness
		m.EdgeDensity = fallbackEdgeDensity
		m.Fallback = true
		return m
	}

	m.Brightness, m.Contrast = brightnessContrast(f.Pix)
	m.Sharpness = sharpness(f)
	m.EdgeDensity = edgeDensity(f)
	return m
}

// brightnessContrast returns the mean intensity and its population standard deviation.
func brightnessContrast(pix []uint8) (float64, float64) {
	mu, variance := popMeanVariance(toFloats(pix))
	return mu, math.Sqrt(variance)
}

// sharpness is the Laplacian variance of a reduced copy, normalised to 0..100.
func sharpness(f frames.Frame) float64 {
	small := frames.DownscaleToFit(f, sharpnessMaxSide, sharpnessMaxSide)
	_, variance := popMeanVariance(convolve(small, laplacianKernel))
	return math.Min(100, math.Round(variance/sharpnessDivisor))
}

// edgeDensity is the percentage of pixels whose forward-difference gradient
// magnitude exceeds edgeThreshold. The last row and column are not compared.
func edgeDensity(f frames.Frame) float64 {
	if f.Width < 2 || f.Height < 2 {
		return 0
	}
	edges, compared := 0, 0
	for y := 0; y < f.Height-1; y++ {
		row := y * f.Width
		for x := 0; x < f.Width-1; x++ {
			cur := float64(f.Pix[row+x])
			gx := math.Abs(float64(f.Pix[row+x+1]) - cur)
			gy := math.Abs(float64(f.Pix[row+f.Width+x]) - cur)
			if math.Sqrt(gx*gx+gy*gy) > edgeThreshold {
				edges++
			}
			compared++
		}
	}
	return math.Round(float64(edges) / float64(compared) * 100)
}

// ComputeAll measures every frame using up to workers goroutines. The result is
// index-aligned with fs regardless of completion order.
func ComputeAll(ctx context.Context, fs []frames.Frame, workers int) ([]FrameMetrics, error) {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]FrameMetrics, len(fs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range fs {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = ComputeFrameMetrics(fs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
