package analysis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splatgate/internal/frames"
)

func TestMotionlessGrayVideoIsRejected(t *testing.T) {
	batch := frames.Batch{
		Frames:   flatFrames(20, 128),
		Metadata: frames.NewVideoMetadata(10, 30, 1920, 1080, "h264"),
	}
	r, err := NewAssessor(DefaultThresholds(), 4).Assess(context.Background(), batch)
	require.NoError(t, err)

	bm := r.BasicQuality.Metrics
	assert.Equal(t, 100, bm.Brightness.Score)
	assert.Equal(t, 0, bm.Blur.Score)
	assert.Equal(t, 100, bm.FrameCount.Score)
	assert.Equal(t, 100, bm.Consistency.Score)
	assert.Equal(t, 70, r.BasicQuality.Score)

	checks := r.SplattingSuitability.Checks
	assert.Equal(t, 30, checks.CameraMotion.Score)
	assert.Equal(t, 60, checks.FrameOverlap.Score)
	assert.Equal(t, 100, checks.ExposureConsistency.Score)
	assert.Equal(t, 90, checks.ReflectiveSurfaces.Score)
	assert.Equal(t, 90, checks.SceneStaticness.Score)
	assert.Equal(t, 30, checks.FeatureDensity.Score)
	assert.Equal(t, 57, r.SplattingSuitability.Score)
	assert.Equal(t, LevelAcceptable, r.SplattingSuitability.Level)

	assert.Equal(t, 65, r.OverallScore)
	assert.Equal(t, LevelMedium, r.OverallLevel)
	assert.False(t, r.Passed)
	assert.Equal(t, ConfidenceHigh, r.Confidence)
	assert.Equal(t, r.SplattingSuitability.Recommendation.Message, r.FeedbackMessage)
	assert.Len(t, r.Suggestions, 4)
	assert.Equal(t, 20, r.KeyframeCount)
	assert.Equal(t, "1920x1080", r.Resolution)
	assert.Equal(t, 10.0, r.Duration)
	require.Len(t, r.FrameMetrics, 20)
	for i, m := range r.FrameMetrics {
		assert.Equal(t, i, m.Index)
	}

	d := Gate(r, 70)
	assert.False(t, d.Proceed)
	assert.Contains(t, d.Reason, "below threshold")
}

func TestReportIsDeterministic(t *testing.T) {
	fs := []frames.Frame{flatFrame(0, 40), checkerFrame(1), gradientFrame(2), brokenFrame(3), flatFrame(4, 220)}
	batch := frames.Batch{Frames: fs, Metadata: frames.NewVideoMetadata(4.5, 24, 1280, 720, "hevc")}
	a := NewAssessor(DefaultThresholds(), 2)

	first, err := a.Assess(context.Background(), batch)
	require.NoError(t, err)
	second, err := a.Assess(context.Background(), batch)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("reports differ (-first +second):\n%s", diff)
	}
	j1, err := json.Marshal(first)
	require.NoError(t, err)
	j2, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(j1), string(j2))
}

func TestOverallScoreIsMonotonic(t *testing.T) {
	for basic := 0; basic <= 100; basic += 5 {
		for suit := 0; suit < 100; suit += 5 {
			lo := weightedScore(part{basic, 60}, part{suit, 40})
			hi := weightedScore(part{basic, 60}, part{suit + 1, 40})
			if hi < lo {
				t.Fatalf("raising suitability lowered overall: basic=%d suit=%d %d -> %d", basic, suit, lo, hi)
			}
			if basic < 100 {
				up := weightedScore(part{basic + 1, 60}, part{suit, 40})
				if up < lo {
					t.Fatalf("raising basic lowered overall: basic=%d suit=%d", basic, suit)
				}
			}
		}
	}
}

func TestGateThreshold(t *testing.T) {
	assert.False(t, Gate(&QualityReport{OverallScore: 69, Confidence: ConfidenceHigh}, 70).Proceed)
	assert.True(t, Gate(&QualityReport{OverallScore: 70, Confidence: ConfidenceHigh}, 70).Proceed)
	assert.True(t, Gate(&QualityReport{OverallScore: 70, Confidence: ConfidenceLow}, 70).Proceed)
	assert.False(t, Gate(&QualityReport{OverallScore: 95, Confidence: ConfidenceUnknown}, 70).Proceed)
	assert.False(t, Gate(nil, 0).Proceed)
}

func TestSuggestionsAreCapped(t *testing.T) {
	got := mergeSuggestions([]string{"a", "b", "c", "d"}, []string{"e", "f", "g"})
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
	assert.Equal(t, []string{}, mergeSuggestions(nil, nil))
}

func TestCannotAssessWithoutFramesOrMetadata(t *testing.T) {
	a := NewAssessor(DefaultThresholds(), 1)
	_, err := a.Assess(context.Background(), frames.Batch{Metadata: frames.DefaultMetadata()})
	require.ErrorIs(t, err, ErrCannotAssess)

	_, err = a.Assess(context.Background(), frames.Batch{})
	require.ErrorIs(t, err, ErrCannotAssess)
}

func TestZeroFramesWithMetadataIsUnknown(t *testing.T) {
	a := NewAssessor(DefaultThresholds(), 1)
	r, err := a.Assess(context.Background(), frames.Batch{Metadata: frames.NewVideoMetadata(12, 30, 1920, 1080, "h264")})
	require.NoError(t, err)
	assert.Equal(t, ConfidenceUnknown, r.Confidence)
	assert.Contains(t, r.Degraded, "no frames were extracted")
	assert.Equal(t, 0, r.BasicQuality.Metrics.Consistency.Score)
	assert.False(t, r.Passed)
}

func TestDegradedInputsLowerConfidence(t *testing.T) {
	a := NewAssessor(DefaultThresholds(), 1)

	fs := []frames.Frame{checkerFrame(0), brokenFrame(1), checkerFrame(2)}
	r, err := a.Assess(context.Background(), frames.Batch{Frames: fs, Metadata: frames.NewVideoMetadata(10, 30, 640, 360, "h264")})
	require.NoError(t, err)
	assert.Equal(t, ConfidenceLow, r.Confidence)
	assert.Equal(t, []string{"1 of 3 frames could not be decoded"}, r.Degraded)
	assert.True(t, r.FrameMetrics[1].Fallback)

	r, err = a.Assess(context.Background(), frames.Batch{Frames: flatFrames(3, 128), Metadata: frames.DefaultMetadata()})
	require.NoError(t, err)
	assert.Equal(t, ConfidenceLow, r.Confidence)
	require.Len(t, r.Degraded, 1)
	assert.Contains(t, r.Degraded[0], "metadata")

	broken := []frames.Frame{brokenFrame(0), brokenFrame(1)}
	r, err = a.Assess(context.Background(), frames.Batch{Frames: broken, Metadata: frames.DefaultMetadata()})
	require.NoError(t, err)
	assert.Equal(t, ConfidenceUnknown, r.Confidence)
	assert.False(t, r.Passed)
}
