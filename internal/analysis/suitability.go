package analysis

import (
	"fmt"

	"splatgate/internal/frames"
)

// Check names, also used as JSON keys.
const (
	CheckCameraMotion        = "cameraMotion"
	CheckFrameOverlap        = "frameOverlap"
	CheckExposureConsistency = "exposureConsistency"
	CheckReflectiveSurfaces  = "reflectiveSurfaces"
	CheckSceneStaticness     = "sceneStaticness"
	CheckFeatureDensity      = "featureDensity"
)

// checkWeights are percentages summing to 100, in report order.
var checkWeights = []struct {
	name   string
	weight int
}{
	{CheckCameraMotion, 25},
	{CheckFrameOverlap, 15},
	{CheckExposureConsistency, 10},
	{CheckReflectiveSurfaces, 15},
	{CheckSceneStaticness, 10},
	{CheckFeatureDensity, 25},
}

// checkPriority orders issues when building user-facing tips, most important first.
var checkPriority = []string{
	CheckFeatureDensity,
	CheckCameraMotion,
	CheckReflectiveSurfaces,
	CheckFrameOverlap,
	CheckSceneStaticness,
	CheckExposureConsistency,
}

const (
	maxMotionPairs      = 10
	reflectiveSamples   = 5
	reflectiveSide      = 100
	reflectiveLuma      = 240
	staticPairCap       = 5
	featureMaxSide      = 200
	featureResponse     = 100
	featureNormalizer   = 10
	maxRecommendedTips  = 3
	overlapCeiling      = 95
	overlapFloor        = 40
	overlapSweetSpot    = 85
)

// SuitabilityChecks holds the six check results.
type SuitabilityChecks struct {
	CameraMotion        CheckResult `json:"cameraMotion"`
	FrameOverlap        CheckResult `json:"frameOverlap"`
	ExposureConsistency CheckResult `json:"exposureConsistency"`
	ReflectiveSurfaces  CheckResult `json:"reflectiveSurfaces"`
	SceneStaticness     CheckResult `json:"sceneStaticness"`
	FeatureDensity      CheckResult `json:"featureDensity"`
}

// byName returns the checks keyed by check name.
func (s SuitabilityChecks) byName() map[string]CheckResult {
	return map[string]CheckResult{
		CheckCameraMotion:        s.CameraMotion,
		CheckFrameOverlap:        s.FrameOverlap,
		CheckExposureConsistency: s.ExposureConsistency,
		CheckReflectiveSurfaces:  s.ReflectiveSurfaces,
		CheckSceneStaticness:     s.SceneStaticness,
		CheckFeatureDensity:      s.FeatureDensity,
	}
}

// Recommendation summarises the prioritised suitability issues.
type Recommendation struct {
	Message string   `json:"message"`
	Issues  []string `json:"issues"`
	Tips    []string `json:"tips"`
}

// Suitability is the reconstruction-suitability half of the report.
type Suitability struct {
	Score            int               `json:"score"`
	Level            string            `json:"level"`
	EstimatedQuality string            `json:"estimatedQuality"`
	Checks           SuitabilityChecks `json:"checks"`
	Recommendation   Recommendation    `json:"recommendation"`
}

// AnalyzeSuitability runs the six checks over frames (in extraction order) and
// their metrics, and combines them into a weighted suitability score.
func AnalyzeSuitability(fs []frames.Frame, metrics []FrameMetrics, t SuitabilityThresholds) Suitability {
	motion := measureCameraMotion(fs)
	checks := SuitabilityChecks{
		CameraMotion:        cameraMotionCheck(motion, t),
		FrameOverlap:        frameOverlapCheck(motion.average, t),
		ExposureConsistency: exposureCheck(metrics, t.MaxExposureVariance),
		ReflectiveSurfaces:  reflectiveCheck(fs, t.MaxReflectiveArea),
		SceneStaticness:     staticnessCheck(fs, t.MaxMotionPixels),
		FeatureDensity:      featureDensityCheck(fs, t.MinFeatureCount),
	}

	named := checks.byName()
	parts := make([]part, len(checkWeights))
	for i, w := range checkWeights {
		parts[i] = part{named[w.name].Score, w.weight}
	}
	score := weightedScore(parts...)
	level := suitabilityLevel(score)

	return Suitability{
		Score:            score,
		Level:            level,
		EstimatedQuality: estimatedQuality(level),
		Checks:           checks,
		Recommendation:   buildRecommendation(named, level),
	}
}

func estimatedQuality(level string) string {
	switch level {
	case LevelExcellent:
		return "high-fidelity reconstruction expected"
	case LevelGood:
		return "good reconstruction with minor artifacts"
	case LevelAcceptable:
		return "usable reconstruction with visible artifacts"
	default:
		return "reconstruction likely to fail or be heavily degraded"
	}
}

func buildRecommendation(named map[string]CheckResult, level string) Recommendation {
	rec := Recommendation{Issues: []string{}, Tips: []string{}}
	for _, name := range checkPriority {
		c := named[name]
		if !c.HasIssue() {
			continue
		}
		rec.Issues = append(rec.Issues, c.Issue)
		if len(rec.Tips) < maxRecommendedTips {
			rec.Tips = append(rec.Tips, c.Recommendation())
		}
	}
	if len(rec.Issues) == 0 {
		rec.Message = "Footage is well suited for Gaussian Splatting reconstruction."
	} else {
		rec.Message = fmt.Sprintf("Splatting suitability is %s. Main issue: %s.", level, rec.Issues[0])
	}
	return rec
}

type motionSample struct {
	values   []float64
	average  float64
	variance float64
}

// measureCameraMotion computes Motion over the first consecutive frame pairs.
func measureCameraMotion(fs []frames.Frame) motionSample {
	var ms motionSample
	for i := 1; i < len(fs) && len(ms.values) < maxMotionPairs; i++ {
		if v, ok := Motion(fs[i-1], fs[i]); ok {
			ms.values = append(ms.values, v)
		}
	}
	ms.average, ms.variance = popMeanVariance(ms.values)
	return ms
}

func cameraMotionCheck(ms motionSample, t SuitabilityThresholds) CheckResult {
	c := CheckResult{Details: map[string]any{
		"averageMotion":  round2(ms.average),
		"motionVariance": round2(ms.variance),
		"pairs":          len(ms.values),
	}}
	switch {
	case len(ms.values) == 0:
		c.Score = 30
		c.Issue = "not enough frames to estimate camera motion"
		c.Details["recommendation"] = "Record a longer clip while moving around the subject."
	case ms.average < t.MinCameraMotion:
		c.Score = 30
		c.Issue = "too little camera motion (insufficient parallax)"
		c.Details["recommendation"] = "Walk around the subject instead of standing still or only panning."
	case ms.average > t.MaxCameraMotion:
		c.Score = 40
		c.Issue = "camera moves too fast (motion blur risk)"
		c.Details["recommendation"] = "Move the camera more slowly and smoothly."
	case ms.variance > t.MaxMotionVariance:
		c.Score = 60
		c.Issue = "uneven camera movement"
		c.Details["recommendation"] = "Keep a steady walking pace around the subject."
	default:
		c.Score = roundScore(70 + ms.average/3)
		c.Details["recommendation"] = "Camera motion is good."
	}
	return c
}

// frameOverlapCheck estimates overlap from average motion: clamp(95-motion, 40, 95).
func frameOverlapCheck(avgMotion float64, t SuitabilityThresholds) CheckResult {
	overlap := clamp(overlapCeiling-avgMotion, overlapFloor, overlapCeiling)
	c := CheckResult{Details: map[string]any{"estimatedOverlap": round2(overlap)}}
	switch {
	case overlap > t.MaxOverlap:
		c.Score = 60
		c.Issue = "too much overlap between frames"
		c.Details["recommendation"] = "Move further between shots so each frame adds new viewpoints."
	case overlap < t.MinOverlap:
		c.Score = 40
		c.Issue = "too little overlap between frames"
		c.Details["recommendation"] = "Move more slowly so consecutive frames share more of the scene."
	default:
		c.Score = overlapSweetSpot
		c.Details["recommendation"] = "Frame overlap is in the ideal range."
	}
	return c
}

// exposureCheck scores the variance of brightness across all frames.
func exposureCheck(metrics []FrameMetrics, maxVariance float64) CheckResult {
	values := make([]float64, len(metrics))
	for i, m := range metrics {
		values[i] = m.Brightness
	}
	_, variance := popMeanVariance(values)
	c := CheckResult{Details: map[string]any{"brightnessVariance": round2(variance)}}
	switch {
	case variance > 2*maxVariance:
		c.Score = 30
		c.Issue = "exposure changes strongly across the video"
		c.Details["recommendation"] = "Lock exposure and white balance before recording."
	case variance > maxVariance:
		c.Score = 60
		c.Issue = "exposure is inconsistent"
		c.Details["recommendation"] = "Avoid moving between bright and dark areas, or lock exposure."
	default:
		c.Score = roundScore(80 + (maxVariance - variance))
		c.Details["recommendation"] = "Exposure is consistent."
	}
	return c
}

// reflectiveCheck averages the share of near-white pixels over the first frames.
func reflectiveCheck(fs []frames.Frame, maxArea float64) CheckResult {
	var shares []float64
	for _, f := range fs {
		if len(shares) == reflectiveSamples {
			break
		}
		if !f.Valid() {
			continue
		}
		small := frames.Downscale(f, reflectiveSide, reflectiveSide)
		bright := 0
		for _, p := range small.Pix {
			if p > reflectiveLuma {
				bright++
			}
		}
		shares = append(shares, float64(bright)/float64(len(small.Pix))*100)
	}
	area := mean(shares)
	c := CheckResult{Details: map[string]any{
		"reflectiveArea": round2(area),
		"framesSampled":  len(shares),
	}}
	switch {
	case area > maxArea:
		c.Score = 40
		c.Issue = "large reflective or overexposed areas"
		c.Details["recommendation"] = "Avoid mirrors, glass and glossy surfaces, or use diffuse lighting."
	case area > maxArea/2:
		c.Score = 70
		c.Issue = "some reflective surfaces detected"
		c.Details["recommendation"] = "Reduce glare from shiny surfaces where possible."
	default:
		c.Score = 90
		c.Details["recommendation"] = "No significant reflections detected."
	}
	return c
}

// staticnessCheck compares frames two apart, sampling every other pair.
func staticnessCheck(fs []frames.Frame, maxPixels float64) CheckResult {
	var changes []float64
	for i := 0; i+2 < len(fs) && len(changes) < staticPairCap; i += 2 {
		if v, ok := ChangedPercent(fs[i], fs[i+2]); ok {
			changes = append(changes, v)
		}
	}
	changed := mean(changes)
	c := CheckResult{Details: map[string]any{
		"changedPixels": round2(changed),
		"pairs":         len(changes),
	}}
	switch {
	case changed > 3*maxPixels:
		c.Score = 30
		c.Issue = "scene content is moving"
		c.Details["recommendation"] = "Record a static scene: no people, pets or moving objects."
	case changed > maxPixels:
		c.Score = 60
		c.Issue = "some scene movement detected"
		c.Details["recommendation"] = "Wait for moving objects to leave the scene before recording."
	default:
		c.Score = 90
		c.Details["recommendation"] = "Scene appears static."
	}
	return c
}

// featureDensityCheck estimates trackable features on the middle usable frame.
func featureDensityCheck(fs []frames.Frame, minFeatures int) CheckResult {
	features := 0
	if f, ok := middleValidFrame(fs); ok {
		small := frames.DownscaleToFit(f, featureMaxSide, featureMaxSide)
		strong := 0
		for _, r := range convolve(small, cornerKernel) {
			if r > featureResponse {
				strong++
			}
		}
		features = int(float64(strong)/featureNormalizer + 0.5)
	}

	c := CheckResult{Details: map[string]any{
		"estimatedFeatures": features,
		"minFeatures":       minFeatures,
	}}
	switch {
	case features < minFeatures:
		c.Score = 30
		c.Issue = "too few visual features"
		c.Details["recommendation"] = "Add texture to the scene and avoid blank walls or uniform surfaces."
	case features < 2*minFeatures:
		c.Score = 60
		c.Issue = "limited visual features"
		c.Details["recommendation"] = "Include more detailed, textured objects in the frame."
	default:
		c.Score = roundScore(70 + float64(features)/5)
		c.Details["recommendation"] = "Scene has plenty of trackable features."
	}
	return c
}

func middleValidFrame(fs []frames.Frame) (frames.Frame, bool) {
	if len(fs) == 0 {
		return frames.Frame{}, false
	}
	mid := len(fs) / 2
	for off := 0; off <= len(fs); off++ {
		for _, i := range []int{mid + off, mid - off} {
			if i >= 0 && i < len(fs) && fs[i].Valid() {
				return fs[i], true
			}
		}
	}
	return frames.Frame{}, false
}
