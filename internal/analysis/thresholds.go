package analysis

// Thresholds configures every tunable cutoff used by the scorers and the gate.
type Thresholds struct {
	MinBrightness    float64
	MinFrameCount    int
	IdealFrameCount  int
	QualityThreshold int
	Suitability      SuitabilityThresholds
}

// SuitabilityThresholds configures the six reconstruction-suitability checks.
type SuitabilityThresholds struct {
	MinCameraMotion     float64 // mean abs diff (0-255) below which parallax is insufficient
	MaxCameraMotion     float64 // mean abs diff above which motion blur is likely
	MaxMotionVariance   float64 // per-pair motion variance above which movement is uneven
	MinOverlap          float64 // percent
	MaxOverlap          float64 // percent
	MaxExposureVariance float64 // variance of mean brightness across frames
	MinFeatureCount     int
	MaxReflectiveArea   float64 // percent of near-white pixels
	MaxMotionPixels     float64 // percent of pixels changing between frames two apart
}

// DefaultThresholds returns the stock gate configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinBrightness:    50,
		MinFrameCount:    30,
		IdealFrameCount:  150,
		QualityThreshold: 70,
		Suitability: SuitabilityThresholds{
			MinCameraMotion:     5,
			MaxCameraMotion:     100,
			MaxMotionVariance:   500,
			MinOverlap:          50,
			MaxOverlap:          85,
			MaxExposureVariance: 400,
			MinFeatureCount:     100,
			MaxReflectiveArea:   15,
			MaxMotionPixels:     10,
		},
	}
}
