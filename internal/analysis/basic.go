package analysis

import (
	"fmt"
	"math"

	"splatgate/internal/frames"
)

// CheckResult is the outcome of one sub-metric or suitability check.
type CheckResult struct {
	Score   int            `json:"score"`
	Issue   string         `json:"issue,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// HasIssue reports whether the check flagged a problem.
func (c CheckResult) HasIssue() bool { return c.Issue != "" }

// Recommendation returns details["recommendation"] if present.
func (c CheckResult) Recommendation() string {
	s, _ := c.Details["recommendation"].(string)
	return s
}

// BasicMetrics holds the four basic-quality sub-scores.
type BasicMetrics struct {
	Brightness  CheckResult `json:"brightness"`
	Blur        CheckResult `json:"blur"`
	FrameCount  CheckResult `json:"frameCount"`
	Consistency CheckResult `json:"consistency"`
}

// BasicQuality is the generic visual-quality half of the report.
type BasicQuality struct {
	Score        int          `json:"score"`
	Metrics      BasicMetrics `json:"metrics"`
	PrimaryIssue string       `json:"primaryIssue,omitempty"`
	Message      string       `json:"message"`
	Suggestions  []string     `json:"suggestions"`
}

const passingSubScore = 70

// ScoreBasic aggregates frame metrics and container metadata into the basic score.
func ScoreBasic(metrics []FrameMetrics, meta frames.VideoMetadata, t Thresholds) BasicQuality {
	bm := BasicMetrics{
		Brightness:  brightnessCheck(metrics, t.MinBrightness),
		Blur:        blurCheck(metrics),
		FrameCount:  frameCountCheck(meta, t.MinFrameCount, t.IdealFrameCount),
		Consistency: consistencyCheck(metrics),
	}

	score := weightedScore(
		part{bm.Brightness.Score, 25},
		part{bm.Blur.Score, 30},
		part{bm.FrameCount.Score, 25},
		part{bm.Consistency.Score, 20},
	)

	bq := BasicQuality{Score: score, Metrics: bm, Suggestions: []string{}}
	ordered := []CheckResult{bm.Brightness, bm.Blur, bm.FrameCount, bm.Consistency}
	for _, c := range ordered {
		if c.Score >= passingSubScore {
			continue
		}
		if bq.PrimaryIssue == "" {
			bq.PrimaryIssue = c.Issue
		}
		bq.Suggestions = append(bq.Suggestions, c.Recommendation())
	}
	bq.Message = basicMessage(ordered, bq.PrimaryIssue)
	return bq
}

func basicMessage(checks []CheckResult, primary string) string {
	var sum float64
	for _, c := range checks {
		sum += float64(c.Score)
	}
	avg := sum / float64(len(checks))

	switch {
	case avg >= 80:
		return "Excellent video quality. Footage is ready for 3D reconstruction."
	case primary == "":
		return "Acceptable video quality."
	case avg >= 60:
		return fmt.Sprintf("Acceptable video quality. Main issue: %s.", primary)
	default:
		return fmt.Sprintf("Video quality needs improvement. Main issue: %s.", primary)
	}
}

func brightnessCheck(metrics []FrameMetrics, minBrightness float64) CheckResult {
	values := make([]float64, len(metrics))
	for i, m := range metrics {
		values[i] = m.Brightness
	}
	avg := mean(values)
	c := CheckResult{
		Score: scoreAtLeast(brightnessTiers(minBrightness), avg, 20),
		Details: map[string]any{
			"averageBrightness": round2(avg),
			"minBrightness":     minBrightness,
		},
	}
	if c.Score < passingSubScore {
		c.Issue = "video is too dark"
		c.Details["recommendation"] = "Record in brighter light or increase the camera exposure."
	}
	return c
}

func blurCheck(metrics []FrameMetrics) CheckResult {
	values := make([]float64, len(metrics))
	for i, m := range metrics {
		values[i] = m.Sharpness
	}
	avg := mean(values)
	score := scoreAtLeast(sharpnessTiers, avg, 30)
	if avg == 0 {
		// No measurable detail in any frame: nothing to focus on.
		score = 0
	}
	c := CheckResult{
		Score:   score,
		Details: map[string]any{"averageSharpness": round2(avg)},
	}
	if c.Score < passingSubScore {
		c.Issue = "footage is blurry"
		c.Details["recommendation"] = "Hold the camera steady, move more slowly and make sure the subject is in focus."
	}
	return c
}

func frameCountCheck(meta frames.VideoMetadata, minFrames, idealFrames int) CheckResult {
	c := CheckResult{
		Score: scoreAtLeast(frameCountTiers(minFrames, idealFrames), float64(meta.FrameCount), 20),
		Details: map[string]any{
			"frameCount":    meta.FrameCount,
			"minFrameCount": minFrames,
			"idealFrames":   idealFrames,
			"duration":      round2(meta.Duration),
			"fps":           round2(meta.FPS),
		},
	}
	if c.Score < passingSubScore {
		c.Issue = "video is too short"
		c.Details["recommendation"] = fmt.Sprintf("Record at least %d frames (about %.0f seconds at 30 fps).", idealFrames, math.Ceil(float64(idealFrames)/30))
	}
	return c
}

// consistencyCheck scores the mean absolute brightness change between
// consecutive frames. Fewer than two frames is scored 0.
func consistencyCheck(metrics []FrameMetrics) CheckResult {
	if len(metrics) < 2 {
		return CheckResult{
			Score: 0,
			Issue: "not enough frames to judge consistency",
			Details: map[string]any{
				"frames":         len(metrics),
				"recommendation": "Provide a longer video so that several keyframes can be compared.",
			},
		}
	}
	deltas := make([]float64, 0, len(metrics)-1)
	for i := 1; i < len(metrics); i++ {
		deltas = append(deltas, math.Abs(metrics[i].Brightness-metrics[i-1].Brightness))
	}
	avg := mean(deltas)
	c := CheckResult{
		Score:   scoreBelow(consistencyTiers, avg, 30),
		Details: map[string]any{"averageBrightnessDelta": round2(avg)},
	}
	if c.Score < passingSubScore {
		c.Issue = "lighting or motion is inconsistent"
		c.Details["recommendation"] = "Keep lighting constant and move the camera at an even pace."
	}
	return c
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
