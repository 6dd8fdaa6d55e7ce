package tremor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyRuleCascade(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name                                 string
		freq, power, ratio, conf, accelDelta float64
		want                                 TremorType
	}{
		{"classic resting", 5, 1, 0.8, 0.9, 0, TypeResting},
		{"physiological", 10, 8, 0.3, 0.5, 0, TypePhysiological},
		{"physiological wins over action", 9, 10, 0.4, 0.8, 1.0, TypePhysiological},
		{"action", 7, 10, 0.7, 0.8, 0.5, TypeAction},
		{"postural", 7, 10, 0.7, 0.8, 0.1, TypePostural},
		{"kinetic", 5, 30, 0.6, 0.8, 0.1, TypeKinetic},
		{"mixed", 8, 1, 0.7, 0.8, 0, TypeMixed},
		{"fallback", 3.2, 1, 0.8, 0.8, 0, TypeUnknown},
		{"too slow", 2, 1, 0.9, 0.9, 0, TypeUnknown},
		{"too fast", 16, 1, 0.9, 0.9, 0, TypeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Classify(tc.freq, tc.power, tc.ratio, tc.conf, tc.accelDelta)
			require.Equal(t, tc.want, c.Primary)
			require.GreaterOrEqual(t, c.Confidence, 0.0)
			require.LessOrEqual(t, c.Confidence, 1.0)
			require.NotEmpty(t, c.Reasoning)
		})
	}
}

func TestClassifyOutOfRangeHasZeroConfidence(t *testing.T) {
	t.Parallel()

	for _, f := range []float64{0, 1.5, 2.99, 15.01, 30} {
		c := Classify(f, 1, 0.9, 1, 0)
		require.Equal(t, TypeUnknown, c.Primary)
		require.Zero(t, c.Confidence)
		require.Empty(t, c.Secondary)
	}
}

func TestClassifyHighConfidenceHasNoSecondary(t *testing.T) {
	t.Parallel()

	c := Classify(5, 1, 0.8, 0.9, 0)
	require.Equal(t, TypeResting, c.Primary)
	require.InDelta(t, 0.4+0.25+0.2+0.15*0.9, c.Confidence, 1e-12)
	require.Empty(t, c.Secondary)
}

func TestClassifyLowConfidenceProposesSecondary(t *testing.T) {
	t.Parallel()

	c := Classify(3.6, 1, 0.3, 0.2, 0)
	require.Equal(t, TypeResting, c.Primary)
	require.Less(t, c.Confidence, highTypeConfidence)
	require.Equal(t, TypePostural, c.Secondary)
	require.Contains(t, c.Reasoning, "postural also plausible")

	c = Classify(6.2, 1, 0.3, 0.2, 0)
	require.Equal(t, TypeResting, c.Primary)
	require.Equal(t, TypeMixed, c.Secondary)
}

func TestClassifyIsIdempotent(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 1000; i++ {
		freq := rng.Float64() * 20
		power := rng.Float64() * 40
		ratio := rng.Float64()
		conf := rng.Float64()
		accel := rng.Float64()
		first := Classify(freq, power, ratio, conf, accel)
		second := Classify(freq, power, ratio, conf, accel)
		require.Equal(t, first, second)
		require.GreaterOrEqual(t, first.Confidence, 0.0)
		require.LessOrEqual(t, first.Confidence, 1.0)
	}
}

func TestActivityFromPower(t *testing.T) {
	t.Parallel()

	require.Equal(t, ActivityResting, ActivityFromPower(0))
	require.Equal(t, ActivityResting, ActivityFromPower(4.99))
	require.Equal(t, ActivityActive, ActivityFromPower(5))
	require.Equal(t, ActivityActive, ActivityFromPower(19.9))
	require.Equal(t, ActivityHigh, ActivityFromPower(20))
}

func TestClassifyWithConfigFollowsPowerCeilings(t *testing.T) {
	t.Parallel()

	cfg := DefaultDetectionConfig()
	cfg.RestingPowerCeiling = 0.5
	cfg.ActivePowerCeiling = 2

	require.Equal(t, ActivityResting, ActivityForConfig(DefaultDetectionConfig(), 1))
	require.Equal(t, ActivityActive, ActivityForConfig(cfg, 1))
	require.Equal(t, ActivityHigh, ActivityForConfig(cfg, 2))

	// the same features flip from resting to postural once the ceilings shrink
	require.Equal(t, TypeResting, Classify(5.5, 1, 0.8, 0.9, 0).Primary)
	require.Equal(t, TypePostural, ClassifyWithConfig(cfg, 5.5, 1, 0.8, 0.9, 0).Primary)
}
