package analysis

import (
	"context"
	"errors"
	"fmt"

	"splatgate/internal/frames"
)

// ErrCannotAssess is returned when there are no frames and no usable metadata.
var ErrCannotAssess = errors.New("cannot assess video: no frames and no usable metadata")

const maxSuggestions = 5

// Confidence expresses how far the report can be trusted.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceLow     Confidence = "low"
	ConfidenceUnknown Confidence = "unknown"
)

// QualityReport is the terminal result of one assessment.
type QualityReport struct {
	OverallScore         int                  `json:"overallScore"`
	OverallLevel         string               `json:"overallLevel"`
	Passed               bool                 `json:"passed"`
	Threshold            int                  `json:"threshold"`
	Confidence           Confidence           `json:"confidence"`
	Degraded             []string             `json:"degraded,omitempty"`
	BasicQuality         BasicQuality         `json:"basicQuality"`
	SplattingSuitability Suitability          `json:"splattingSuitability"`
	FeedbackMessage      string               `json:"feedbackMessage"`
	Suggestions          []string             `json:"suggestions"`
	KeyframeCount        int                  `json:"keyframeCount"`
	Duration             float64              `json:"duration"`
	Resolution           string               `json:"resolution"`
	Metadata             frames.VideoMetadata `json:"metadata"`
	FrameMetrics         []FrameMetrics       `json:"frameMetrics"`
}

// Assessor runs the full scoring engine with a fixed configuration.
// It holds no mutable state and is safe for concurrent use.
type Assessor struct {
	thresholds Thresholds
	workers    int
}

// NewAssessor returns an Assessor. workers bounds per-frame metric
// parallelism; values below 1 mean GOMAXPROCS.
func NewAssessor(t Thresholds, workers int) *Assessor {
	return &Assessor{thresholds: t, workers: workers}
}

// Thresholds returns the configuration the assessor scores against.
func (a *Assessor) Thresholds() Thresholds { return a.thresholds }

// Assess scores a batch. It fails only with ErrCannotAssess or a context error.
func (a *Assessor) Assess(ctx context.Context, b frames.Batch) (*QualityReport, error) {
	if len(b.Frames) == 0 && !b.Metadata.Usable() {
		return nil, ErrCannotAssess
	}
	metrics, err := ComputeAll(ctx, b.Frames, a.workers)
	if err != nil {
		return nil, fmt.Errorf("compute frame metrics: %w", err)
	}
	return BuildReport(b, metrics, a.thresholds), nil
}

// BuildReport assembles the report from precomputed metrics. metrics must be
// index-aligned with b.Frames.
func BuildReport(b frames.Batch, metrics []FrameMetrics, t Thresholds) *QualityReport {
	basic := ScoreBasic(metrics, b.Metadata, t)
	suit := AnalyzeSuitability(b.Frames, metrics, t.Suitability)

	overall := weightedScore(part{basic.Score, 60}, part{suit.Score, 40})
	confidence, reasons := assessConfidence(b, metrics)

	r := &QualityReport{
		OverallScore:         overall,
		OverallLevel:         overallLevel(overall),
		Threshold:            t.QualityThreshold,
		Confidence:           confidence,
		Degraded:             reasons,
		BasicQuality:         basic,
		SplattingSuitability: suit,
		Suggestions:          mergeSuggestions(basic.Suggestions, suit.Recommendation.Tips),
		KeyframeCount:        len(b.Frames),
		Duration:             b.Metadata.Duration,
		Resolution:           b.Metadata.Resolution(),
		Metadata:             b.Metadata,
		FrameMetrics:         metrics,
	}
	if suit.Score < 60 {
		r.FeedbackMessage = suit.Recommendation.Message
	} else {
		r.FeedbackMessage = basic.Message
	}
	r.Passed = Gate(r, t.QualityThreshold).Proceed
	return r
}

func mergeSuggestions(lists ...[]string) []string {
	out := []string{}
	for _, l := range lists {
		for _, s := range l {
			if len(out) == maxSuggestions {
				return out
			}
			out = append(out, s)
		}
	}
	return out
}

func assessConfidence(b frames.Batch, metrics []FrameMetrics) (Confidence, []string) {
	var reasons []string
	if b.Metadata.Degraded {
		reasons = append(reasons, "video metadata could not be read; defaults were assumed")
	}
	fallback := 0
	for _, m := range metrics {
		if m.Fallback {
			fallback++
		}
	}
	switch {
	case len(metrics) == 0:
		reasons = append(reasons, "no frames were extracted")
	case fallback > 0:
		reasons = append(reasons, fmt.Sprintf("%d of %d frames could not be decoded", fallback, len(metrics)))
	}

	switch {
	case fallback == len(metrics):
		return ConfidenceUnknown, reasons
	case len(reasons) > 0:
		return ConfidenceLow, reasons
	default:
		return ConfidenceHigh, nil
	}
}

// Decision is the gate outcome for one report.
type Decision struct {
	Proceed bool   `json:"proceed"`
	Reason  string `json:"reason"`
}

// Gate decides whether the footage may proceed to reconstruction. A report
// whose quality is unknown never proceeds.
func Gate(r *QualityReport, threshold int) Decision {
	switch {
	case r == nil:
		return Decision{Reason: "no report"}
	case r.Confidence == ConfidenceUnknown:
		return Decision{Reason: "quality could not be determined"}
	case r.OverallScore < threshold:
		return Decision{Reason: fmt.Sprintf("overall score %d is below threshold %d", r.OverallScore, threshold)}
	default:
		return Decision{Proceed: true, Reason: fmt.Sprintf("overall score %d meets threshold %d", r.OverallScore, threshold)}
	}
}
