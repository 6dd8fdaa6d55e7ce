package tremor

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func nan() float64 { return math.NaN() }
func inf() float64 { return math.Inf(1) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingListener struct {
	progress []CalibrationProgress
	results  []CalibrationResult
}

func (l *recordingListener) OnCalibrationProgress(p CalibrationProgress) {
	l.progress = append(l.progress, p)
}

func (l *recordingListener) OnCalibrationComplete(r CalibrationResult) {
	l.results = append(l.results, r)
}

func newCalibrationTracker(t *testing.T) (*BaselineTracker, *fakeClock, *recordingSink) {
	t.Helper()
	tracker, sink := newTestTracker(t)
	clock := newFakeClock()
	tracker.SetClock(clock.Now)
	return tracker, clock, sink
}

func TestCalibrationSucceedsWithRequiredSamples(t *testing.T) {
	t.Parallel()

	tracker, clock, sink := newCalibrationTracker(t)
	listener := &recordingListener{}

	start, err := tracker.StartCalibration(listener)
	require.NoError(t, err)
	require.True(t, start.Active)
	require.Equal(t, 300, start.SamplesRequired)
	require.InDelta(t, 30, start.SecondsRemaining, 1e-9)

	const v = 0.0731
	var last CalibrationProgress
	for i := 1; i <= 300; i++ {
		clock.Advance(100 * time.Millisecond)
		last, err = tracker.ProcessCalibrationSample(v)
		require.NoError(t, err)
		if i < 300 {
			require.False(t, last.Done(), "finished early at sample %d", i)
			require.Equal(t, i, last.SamplesCollected)
		}
	}

	require.True(t, last.Done())
	require.False(t, last.Active)
	require.InDelta(t, 1.0, last.Fraction, 1e-12)
	result := *last.Result
	require.True(t, result.Success)
	require.Equal(t, v, result.BaselineMagnitude)
	require.Equal(t, 0.0, result.BaselineVariance)
	require.Equal(t, 300, result.SamplesCollected)

	resting := tracker.Stats(true)
	require.Equal(t, v, resting.Magnitude)
	require.Equal(t, 0.0, resting.MagnitudeVariance)
	require.True(t, tracker.IsValid(true))
	require.True(t, tracker.CalibrationComplete())
	require.False(t, tracker.CalibrationActive())

	require.Len(t, listener.progress, 301)
	require.Len(t, listener.results, 1)
	require.Equal(t, result, listener.results[0])

	require.Equal(t, 1, sink.count())
	require.True(t, sink.last().CalibrationComplete)
	require.Equal(t, clock.Now(), sink.last().CalibrationAt)
}

func TestCalibrationFailsWithTooFewSamples(t *testing.T) {
	t.Parallel()

	tracker, clock, _ := newCalibrationTracker(t)
	listener := &recordingListener{}
	before := tracker.Stats(true)

	_, err := tracker.StartCalibration(listener)
	require.NoError(t, err)

	var last CalibrationProgress
	for i := 1; i <= 100; i++ {
		clock.Advance(300 * time.Millisecond)
		last, err = tracker.ProcessCalibrationSample(0.2)
		require.NoError(t, err)
	}

	require.True(t, last.Done())
	require.False(t, last.Result.Success)
	require.Equal(t, CalibrationInsufficientSamples, last.Result.Reason)
	require.Zero(t, last.Result.BaselineMagnitude)
	require.Zero(t, last.Result.BaselineVariance)
	require.Equal(t, before, tracker.Stats(true))
	require.False(t, tracker.CalibrationComplete())
	require.Len(t, listener.results, 1)
}

func TestCalibrationWaitsForFullDuration(t *testing.T) {
	t.Parallel()

	tracker, clock, _ := newCalibrationTracker(t)
	_, err := tracker.StartCalibration(nil)
	require.NoError(t, err)

	for i := 0; i < 400; i++ {
		clock.Advance(10 * time.Millisecond)
		progress, err := tracker.ProcessCalibrationSample(0.05 + float64(i%2)*0.02)
		require.NoError(t, err)
		require.False(t, progress.Done())
	}

	progress, err := tracker.CheckCalibrationTimeout()
	require.NoError(t, err)
	require.False(t, progress.Done())
	require.InDelta(t, 26, progress.SecondsRemaining, 1e-9)

	clock.Advance(26 * time.Second)
	progress, err = tracker.CheckCalibrationTimeout()
	require.NoError(t, err)
	require.True(t, progress.Done())
	require.True(t, progress.Result.Success)
	require.InDelta(t, 0.06, progress.Result.BaselineMagnitude, 1e-12)
	require.InDelta(t, 0.0001, progress.Result.BaselineVariance, 1e-12)
}

func TestCalibrationTimeoutWithoutSamplesFails(t *testing.T) {
	t.Parallel()

	tracker, clock, _ := newCalibrationTracker(t)
	listener := &recordingListener{}
	_, err := tracker.StartCalibration(listener)
	require.NoError(t, err)

	clock.Advance(31 * time.Second)
	progress, err := tracker.CheckCalibrationTimeout()
	require.NoError(t, err)
	require.True(t, progress.Done())
	require.False(t, progress.Result.Success)
	require.Len(t, listener.results, 1)

	_, err = tracker.CheckCalibrationTimeout()
	require.ErrorIs(t, err, ErrNoCalibration)
}

func TestCalibrationRejectsConcurrentSession(t *testing.T) {
	t.Parallel()

	tracker, _, _ := newCalibrationTracker(t)
	_, err := tracker.StartCalibration(nil)
	require.NoError(t, err)

	_, err = tracker.StartCalibration(nil)
	require.ErrorIs(t, err, ErrCalibrationActive)
	require.True(t, tracker.CalibrationActive())
}

func TestCalibrationCancelReportsFailure(t *testing.T) {
	t.Parallel()

	tracker, clock, _ := newCalibrationTracker(t)
	listener := &recordingListener{}
	before := tracker.Stats(true)

	_, err := tracker.StartCalibration(listener)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		clock.Advance(100 * time.Millisecond)
		_, err := tracker.ProcessCalibrationSample(0.3)
		require.NoError(t, err)
	}

	result, err := tracker.CancelCalibration()
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, CalibrationCancelled, result.Reason)
	require.Zero(t, result.BaselineMagnitude)
	require.Zero(t, result.BaselineVariance)
	require.Equal(t, []CalibrationResult{result}, listener.results)
	require.Equal(t, before, tracker.Stats(true))

	_, err = tracker.ProcessCalibrationSample(0.3)
	require.ErrorIs(t, err, ErrNoCalibration)
	_, err = tracker.CancelCalibration()
	require.ErrorIs(t, err, ErrNoCalibration)

	// a new session may start after cancellation
	_, err = tracker.StartCalibration(nil)
	require.NoError(t, err)
}

func TestCalibrationKeepsSampleCountMonotonic(t *testing.T) {
	t.Parallel()

	tracker, clock, _ := newCalibrationTracker(t)
	for i := 0; i < 500; i++ {
		tracker.UpdateBaseline(0.1, 0.2, 0.1, true, false)
	}
	_, err := tracker.StartCalibration(nil)
	require.NoError(t, err)
	for i := 0; i < 300; i++ {
		clock.Advance(100 * time.Millisecond)
		_, err := tracker.ProcessCalibrationSample(0.08)
		require.NoError(t, err)
	}
	require.EqualValues(t, 500, tracker.Stats(true).SampleCount)
	require.Equal(t, 0.08, tracker.Stats(true).Magnitude)
}
