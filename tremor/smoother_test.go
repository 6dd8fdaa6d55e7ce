package tremor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePeriodNs = int64(20_000_000)

func smootherConfig(minRun, maxGap int) DetectionConfig {
	cfg := DefaultDetectionConfig()
	cfg.MinEpisodeDurationSamples = minRun
	cfg.MaxGapSamples = maxGap
	return cfg
}

type smootherRun struct {
	cfg DetectionConfig
	s   EpisodeSmoother
	ts  int64
}

func (r *smootherRun) feed(raw bool, confidence float64) SmoothedDetection {
	r.ts += samplePeriodNs
	return r.s.Step(r.cfg, raw, confidence, r.ts)
}

func TestSmootherEntersEpisodeAfterExactlyMinSamples(t *testing.T) {
	t.Parallel()

	run := &smootherRun{cfg: smootherConfig(25, 10)}
	for i := 1; i < 25; i++ {
		out := run.feed(true, 0.8)
		require.False(t, out.IsTremor, "surfaced before debounce at sample %d", i)
		require.False(t, out.InEpisode)
		require.Equal(t, 0.8, out.Confidence)
	}
	out := run.feed(true, 0.8)
	require.True(t, out.EpisodeStarted)
	require.True(t, out.InEpisode)
	require.True(t, out.IsTremor)
	require.Equal(t, 25, run.s.State().EpisodeSampleCount)
	// the episode starts with the first sample of the run
	require.InDelta(t, 24*0.02, out.EpisodeDurationSeconds, 1e-9)
}

func TestSmootherBridgesShortGap(t *testing.T) {
	t.Parallel()

	run := &smootherRun{cfg: smootherConfig(25, 10)}
	for i := 0; i < 30; i++ {
		run.feed(true, 0.7)
	}
	out := run.feed(false, 0.1)
	require.True(t, out.InEpisode)
	require.True(t, out.IsTremor)
	require.True(t, out.Bridged)

	out = run.feed(true, 0.7)
	require.True(t, out.InEpisode)
	require.False(t, out.EpisodeStarted)
}

func TestSmootherEndsEpisodeAfterGapTolerance(t *testing.T) {
	t.Parallel()

	for _, maxGap := range []int{0, 1, 4, 10} {
		run := &smootherRun{cfg: smootherConfig(5, maxGap)}
		for i := 0; i < 10; i++ {
			run.feed(true, 0.9)
		}
		for i := 0; i < maxGap; i++ {
			out := run.feed(false, 0)
			require.True(t, out.InEpisode, "maxGap=%d gap=%d", maxGap, i+1)
		}
		out := run.feed(false, 0)
		require.True(t, out.EpisodeEnded, "maxGap=%d", maxGap)
		require.False(t, out.InEpisode)
		require.False(t, out.IsTremor)
		require.Greater(t, out.EpisodeDurationSeconds, 0.0)
		require.Equal(t, EpisodeState{}, run.s.State())
	}
}

func TestSmootherAlternatingDetectionsNeverStartEpisode(t *testing.T) {
	t.Parallel()

	run := &smootherRun{cfg: smootherConfig(25, 0)}
	for i := 0; i < 500; i++ {
		out := run.feed(i%2 == 0, 0.9)
		require.False(t, out.InEpisode)
		require.False(t, out.IsTremor)
		require.LessOrEqual(t, run.s.State().ConsecutiveTremorSamples, 1)
	}
}

func TestSmootherConfidenceBoosts(t *testing.T) {
	t.Parallel()

	run := &smootherRun{cfg: smootherConfig(10, 3)}
	for i := 1; i < 10; i++ {
		run.feed(true, 0.5)
	}

	// newly confirmed
	out := run.feed(true, 0.5)
	require.InDelta(t, 0.55, out.Confidence, 1e-12)

	for i := 11; i < 20; i++ {
		out = run.feed(true, 0.5)
		require.InDelta(t, 0.55, out.Confidence, 1e-12, "sample %d", i)
	}
	// long-running: at least twice the minimum
	out = run.feed(true, 0.5)
	require.InDelta(t, 0.6, out.Confidence, 1e-12)

	// gaps hold the last confidence
	out = run.feed(false, 0.05)
	require.True(t, out.Bridged)
	require.InDelta(t, 0.6, out.Confidence, 1e-12)

	// boosted confidence is clamped
	out = run.feed(true, 0.95)
	require.Equal(t, 1.0, out.Confidence)
}

func TestSmootherLeavesIdleConfidenceUnmodified(t *testing.T) {
	t.Parallel()

	run := &smootherRun{cfg: smootherConfig(25, 10)}
	out := run.feed(false, 0.42)
	require.Equal(t, 0.42, out.Confidence)
	out = run.feed(true, 1.7)
	require.Equal(t, 1.0, out.Confidence)
	out = run.feed(true, -0.3)
	require.Equal(t, 0.0, out.Confidence)
}

func TestSmoothEpisodeIsPure(t *testing.T) {
	t.Parallel()

	cfg := smootherConfig(3, 1)
	state := EpisodeState{ConsecutiveTremorSamples: 2, RunStartNs: 100}
	a, outA := SmoothEpisode(cfg, state, true, 0.6, 140)
	b, outB := SmoothEpisode(cfg, state, true, 0.6, 140)
	require.Equal(t, a, b)
	require.Equal(t, outA, outB)
	require.Equal(t, EpisodeState{ConsecutiveTremorSamples: 2, RunStartNs: 100}, state)
	require.True(t, a.InEpisode)
}
