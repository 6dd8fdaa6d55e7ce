package tremor

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tremorwatch/models"
)

func newTestEngine(t *testing.T, cfg DetectionConfig) *Engine {
	t.Helper()
	store := mustStore(t, cfg)
	tracker := NewBaselineTracker(store, nil)
	seq := 0
	return NewEngine(store, tracker,
		WithSessionID("test-session"),
		WithClock(func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("rec-%04d", seq)
		}))
}

func runSignal(engine *Engine, samples []models.MotionSample) []models.TremorRecord {
	var records []models.TremorRecord
	for _, s := range samples {
		if record, ok := engine.Process(s); ok {
			records = append(records, record)
		}
	}
	return records
}

func TestEngineRestingTremorScenario(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, DefaultDetectionConfig())
	records := runSignal(engine, RestingTremorSignal().Generate())
	require.Len(t, records, 250)

	for i, r := range records {
		require.GreaterOrEqual(t, r.Confidence, 0.0, "record %d", i)
		require.LessOrEqual(t, r.Confidence, 1.0, "record %d", i)
		require.GreaterOrEqual(t, r.Severity, 0.0, "record %d", i)
		require.LessOrEqual(t, r.Severity, 10.0, "record %d", i)
		require.True(t, r.IsResting, "record %d", i)
		require.Equal(t, "test-session", r.SessionID)
	}

	last := records[len(records)-1]
	require.True(t, last.IsTremor)
	require.True(t, last.RawIsTremor)
	require.True(t, last.InEpisode)
	require.Equal(t, string(TypeResting), last.TremorType)
	require.InDelta(t, 4.8, last.DominantFrequencyHz, 50.0/128)
	require.GreaterOrEqual(t, last.Severity, 1.5)
	require.LessOrEqual(t, last.Severity, 5.0)
	require.Contains(t, []string{SeverityMild, SeverityModerate}, last.SeverityCategory)
	require.GreaterOrEqual(t, last.EpisodeDurationSeconds, 4.0)
	require.LessOrEqual(t, last.EpisodeDurationSeconds, 5.0)
	require.Equal(t, 1.0, durationFactor(last.EpisodeDurationSeconds))
	require.Equal(t, 1.0, last.BaselineMultiplier)

	// the first records precede any analysis
	for _, r := range records[:MinAnalysisSamples-1] {
		require.False(t, r.IsTremor)
		require.Zero(t, r.DominantFrequencyHz)
	}
}

func TestEngineTremorSamplesDoNotUpdateBaseline(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, DefaultDetectionConfig())
	records := runSignal(engine, RestingTremorSignal().Generate())

	var expected int64
	for i, r := range records {
		if i >= MinAnalysisSamples-1 && !r.RawIsTremor && !r.IsTremor {
			expected++
		}
	}
	require.Equal(t, expected, engine.Baseline().Stats(true).SampleCount)
	require.Zero(t, engine.Baseline().Stats(false).SampleCount)
	require.Less(t, expected, int64(len(records)/2))
}

func TestEngineQuietSignalBuildsBaseline(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, DefaultDetectionConfig())
	quiet := SyntheticSignal{
		SampleRateHz:    50,
		DurationSeconds: 6,
		Offset:          0.05,
		GyroNoise:       0.002,
		AccelNoise:      0.01,
		Seed:            5,
	}
	records := runSignal(engine, quiet.Generate())
	require.Len(t, records, 300)
	for _, r := range records {
		require.False(t, r.IsTremor)
		require.Equal(t, SeverityNone, r.SeverityCategory)
	}
	require.True(t, engine.Baseline().IsValid(true))
	require.InDelta(t, 0.05, engine.Baseline().Stats(true).Magnitude, 0.005)
}

func TestEngineDetectsActivityFromAccelerometer(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, DefaultDetectionConfig())
	moving := RestingTremorSignal()
	moving.AccelMotionAmplitude = 1.5
	moving.AccelMotionHz = 1
	records := runSignal(engine, moving.Generate())
	require.False(t, records[len(records)-1].IsResting)
}

func TestEngineRejectsNonFiniteSamples(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, DefaultDetectionConfig())
	_, ok := engine.ProcessGyro(models.MotionSample{Sensor: models.SensorGyroscope, X: math.NaN()})
	require.False(t, ok)
	require.False(t, engine.ProcessAccel(models.MotionSample{Sensor: models.SensorAccelerometer, Z: math.Inf(1)}))

	_, ok = engine.Process(models.MotionSample{Sensor: models.SensorAccelerometer, Z: 9.8})
	require.False(t, ok)
	_, ok = engine.Process(models.MotionSample{Sensor: "magnetometer", X: 1})
	require.False(t, ok)
}

func TestEngineIsDeterministic(t *testing.T) {
	t.Parallel()

	signal := RestingTremorSignal()
	signal.GyroNoise = 0.02
	signal.DurationSeconds = 8
	first := runSignal(newTestEngine(t, DefaultDetectionConfig()), signal.Generate())
	second := runSignal(newTestEngine(t, DefaultDetectionConfig()), signal.Generate())
	require.Equal(t, first, second)
}

func TestEngineFollowsConfigSwap(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, DefaultDetectionConfig())
	samples := RestingTremorSignal().Generate()
	half := len(samples) / 2
	runSignal(engine, samples[:half])

	cfg := DefaultDetectionConfig()
	cfg.Version = 2
	cfg.WindowSize = 64
	cfg.MinBandPower = 1e6
	require.NoError(t, engine.Configs().Swap(cfg))

	records := runSignal(engine, samples[half:])
	require.NotEmpty(t, records)
	last := records[len(records)-1]
	require.False(t, last.RawIsTremor)
	require.Equal(t, 64, engine.gyro.Cap())
}

func TestEngineRestartKeepsBaseline(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, DefaultDetectionConfig())
	for i := 0; i < 150; i++ {
		engine.Baseline().UpdateBaseline(0.05, 0.2, 0.1, true, false)
	}
	before := engine.SessionID()
	after := engine.Restart()
	require.NotEqual(t, before, after)
	require.True(t, engine.Baseline().IsValid(true))

	records := runSignal(engine, RestingTremorSignal().Generate())
	require.Equal(t, after, records[0].SessionID)
}

func TestEngineHugeFiniteSamplesStaySerialisable(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, DefaultDetectionConfig())
	for i := 0; i < 128; i++ {
		sample := models.MotionSample{
			Sensor:      models.SensorGyroscope,
			TimestampNs: int64(i) * 20_000_000,
			X:           6e153 * (1 + math.Sin(2*math.Pi*5*float64(i)/50)),
		}
		record, ok := engine.ProcessGyro(sample)
		require.True(t, ok)
		require.False(t, record.IsTremor)
		require.Zero(t, record.Confidence)
		require.Zero(t, record.TotalPower)

		_, err := json.Marshal(record)
		require.NoError(t, err, "sample %d", i)
	}

	_, err := json.Marshal(engine.Baseline().Snapshot())
	require.NoError(t, err)
	require.Zero(t, engine.Baseline().Stats(true).SampleCount)
}
