package tremor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifySeverityBuckets(t *testing.T) {
	t.Parallel()

	cases := []struct {
		score float64
		want  string
	}{
		{0, SeverityNone},
		{0.49, SeverityNone},
		{0.5, SeverityMinimal},
		{1.49, SeverityMinimal},
		{1.5, SeverityMild},
		{2.99, SeverityMild},
		{3.0, SeverityModerate},
		{4.99, SeverityModerate},
		{5.0, SeverityModerateSevere},
		{7.49, SeverityModerateSevere},
		{7.5, SeveritySevere},
		{10, SeveritySevere},
		{math.NaN(), SeverityNone},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ClassifySeverity(tc.score), "score %v", tc.score)
	}
}

func TestSeverityAlwaysBounded(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(3))
	special := []float64{0, -1, 1e300, -1e300, math.NaN(), math.Inf(1), math.Inf(-1)}
	pick := func(scale float64) float64 {
		if rng.Intn(8) == 0 {
			return special[rng.Intn(len(special))]
		}
		return (rng.Float64()*2 - 0.5) * scale
	}
	for i := 0; i < 5000; i++ {
		score := CalculateSeverity(pick(20), pick(30), pick(1.5), pick(1.5), pick(60), pick(10))
		require.False(t, math.IsNaN(score))
		require.GreaterOrEqual(t, score, 0.0)
		require.LessOrEqual(t, score, 10.0)
	}
}

func TestSeveritySaturatesForLargeMagnitudes(t *testing.T) {
	t.Parallel()

	low := ExplainSeverity(0.1, 5, 0.8, 1, 0, 1)
	mid := ExplainSeverity(1, 5, 0.8, 1, 0, 1)
	high := ExplainSeverity(1e6, 5, 0.8, 1, 0, 1)
	require.Less(t, low.Base, mid.Base)
	require.Equal(t, baseCap, high.Base)
	require.Equal(t, 10.0, CalculateSeverity(1e6, 5, 1, 1, 20, 4))
}

func TestSeverityFactors(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.3, frequencyWeight(2))
	require.Equal(t, 0.6, frequencyWeight(14))
	require.Equal(t, 0.8, frequencyWeight(3.2))
	require.InDelta(t, 1.3, frequencyWeight(5), 1e-12)
	require.Greater(t, frequencyWeight(5), frequencyWeight(8))
	require.InDelta(t, 1.1, frequencyWeight(8), 1e-12)

	require.InDelta(t, 1.2, qualityFactor(0.9), 1e-12)
	require.InDelta(t, 1.3, qualityFactor(1.0), 1e-12)
	require.Equal(t, 0.95, qualityFactor(0.6))
	require.Equal(t, 0.85, qualityFactor(0.35))
	require.Equal(t, 0.5, qualityFactor(0.1))

	require.Equal(t, 1.0, durationFactor(0))
	require.Equal(t, 0.85, durationFactor(1))
	require.Equal(t, 1.0, durationFactor(3))
	require.Equal(t, 1.15, durationFactor(6))
	require.Equal(t, 1.3, durationFactor(12))

	require.Equal(t, 1.0, baselineBoost(1.2))
	require.Equal(t, 1.1, baselineBoost(1.5))
	require.Equal(t, 1.2, baselineBoost(2.5))
	require.Equal(t, 1.3, baselineBoost(3))
}

func TestSeverityConfidenceGateHasFloor(t *testing.T) {
	t.Parallel()

	full := ExplainSeverity(0.4, 5, 0.8, 1, 4, 1)
	none := ExplainSeverity(0.4, 5, 0.8, 0, 4, 1)
	require.Equal(t, 1.0, full.ConfidenceGate)
	require.Equal(t, 0.2, none.ConfidenceGate)
	require.Greater(t, none.Score, 0.0)
	require.InDelta(t, full.Score*0.2, none.Score, 1e-12)
}

func TestSeverityRestingTremorIsMildToModerate(t *testing.T) {
	t.Parallel()

	b := ExplainSeverity(0.4, 4.8, 0.95, 0.9, 4.7, 1)
	require.InDelta(t, 2.5*math.Log(2.6), b.Base, 1e-12)
	require.Equal(t, 1.0, b.DurationFactor)
	require.GreaterOrEqual(t, b.Score, 1.5)
	require.LessOrEqual(t, b.Score, 5.0)
	require.Contains(t, []string{SeverityMild, SeverityModerate}, b.Category)
}
