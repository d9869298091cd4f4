package analysis

// tier is one rung of a score ladder.
type tier struct {
	bound float64
	score int
}

// scoreAtLeast walks tiers ordered by descending bound and returns the score of the
// first tier whose bound v reaches. floor is returned when no tier matches.
func scoreAtLeast(tiers []tier, v float64, floor int) int {
	for _, t := range tiers {
		if v >= t.bound {
			return t.score
		}
	}
	return floor
}

// scoreBelow walks tiers ordered by ascending bound and returns the score of the
// first tier whose bound v stays under. ceiling is returned when none match.
func scoreBelow(tiers []tier, v float64, ceiling int) int {
	for _, t := range tiers {
		if v < t.bound {
			return t.score
		}
	}
	return ceiling
}

func brightnessTiers(minBrightness float64) []tier {
	return []tier{
		{100, 100},
		{80, 85},
		{minBrightness, 70},
		{minBrightness * 0.5, 40},
	}
}

var sharpnessTiers = []tier{
	{100, 100},
	{80, 85},
	{60, 70},
	{40, 50},
}

func frameCountTiers(minFrames, idealFrames int) []tier {
	return []tier{
		{float64(idealFrames), 100},
		{float64(2 * minFrames), 85},
		{float64(minFrames), 70},
		{float64(minFrames) * 0.5, 40},
	}
}

var consistencyTiers = []tier{
	{10, 100},
	{20, 85},
	{30, 70},
	{50, 50},
}

// Level names.
const (
	LevelExcellent  = "excellent"
	LevelGood       = "good"
	LevelAcceptable = "acceptable"
	LevelPoor       = "poor"
	LevelMedium     = "medium"
)

var suitabilityLevels = []struct {
	min   int
	level string
}{
	{80, LevelExcellent},
	{65, LevelGood},
	{50, LevelAcceptable},
}

func suitabilityLevel(score int) string {
	for _, l := range suitabilityLevels {
		if score >= l.min {
			return l.level
		}
	}
	return LevelPoor
}

func overallLevel(score int) string {
	switch {
	case score >= 80:
		return LevelGood
	case score >= 60:
		return LevelMedium
	default:
		return LevelPoor
	}
}
