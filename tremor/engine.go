package tremor

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"tremorwatch/dsp"
	"tremorwatch/models"
)

// Engine runs the per-sample pipeline: windowing, throttled spectral
// analysis, episode smoothing, baseline feedback, severity and type. Samples
// are processed one at a time under a single lock.
type Engine struct {
	mu sync.Mutex

	configs  *ConfigStore
	baseline *BaselineTracker
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time

	sessionID string
	gyro      *dsp.RingFloat
	accel     *dsp.RingFloat
	smoother  EpisodeSmoother

	sinceAnalysis int
	analysed      bool
	last          SpectralResult
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger used for episode and calibration events.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) EngineOption {
	return func(e *Engine) {
		if id != "" {
			e.sessionID = id
		}
	}
}

// WithIDGenerator replaces the record id generator.
func WithIDGenerator(gen func() string) EngineOption {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithClock replaces the wall clock used when samples carry no wall time.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine wires an engine to the shared config store and baseline tracker.
func NewEngine(configs *ConfigStore, baseline *BaselineTracker, opts ...EngineOption) *Engine {
	cfg := configs.Current()
	e := &Engine{
		configs:   configs,
		baseline:  baseline,
		logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
		newID:     uuid.NewString,
		now:       time.Now,
		sessionID: uuid.NewString(),
		gyro:      dsp.NewRingFloat(cfg.WindowSize),
		accel:     dsp.NewRingFloat(cfg.WindowSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SessionID identifies the monitoring session.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Configs returns the config store the engine reads from.
func (e *Engine) Configs() *ConfigStore {
	return e.configs
}

// Baseline returns the baseline tracker fed by the engine.
func (e *Engine) Baseline() *BaselineTracker {
	return e.baseline
}

// Restart clears windows and episode state and starts a new session. The
// baseline survives.
func (e *Engine) Restart() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg := e.configs.Current()
	e.gyro = dsp.NewRingFloat(cfg.WindowSize)
	e.accel = dsp.NewRingFloat(cfg.WindowSize)
	e.smoother.Reset()
	e.sinceAnalysis = 0
	e.analysed = false
	e.last = SpectralResult{}
	e.sessionID = uuid.NewString()
	return e.sessionID
}

// Process dispatches a sample by sensor type. Only gyroscope samples produce
// records.
func (e *Engine) Process(sample models.MotionSample) (models.TremorRecord, bool) {
	switch sample.Sensor {
	case models.SensorGyroscope:
		return e.ProcessGyro(sample)
	case models.SensorAccelerometer:
		e.ProcessAccel(sample)
	}
	return models.TremorRecord{}, false
}

// ProcessAccel feeds the accelerometer window used for the resting decision.
// It reports whether the sample was accepted.
func (e *Engine) ProcessAccel(sample models.MotionSample) bool {
	magnitude := sample.Magnitude()
	if !finite(magnitude) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resizeWindows(e.configs.Current())
	e.accel.Push(magnitude)
	return true
}

// ProcessGyro runs one gyroscope sample through the pipeline. Non-finite
// samples are rejected with ok=false.
func (e *Engine) ProcessGyro(sample models.MotionSample) (record models.TremorRecord, ok bool) {
	magnitude := sample.Magnitude()
	if !finite(magnitude) {
		return models.TremorRecord{}, false
	}

	if e.baseline.CalibrationActive() {
		if progress, err := e.baseline.ProcessCalibrationSample(magnitude); err == nil && progress.Done() {
			e.logCalibration(progress)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := e.configs.Current()
	e.resizeWindows(cfg)
	e.gyro.Push(magnitude)

	isResting, accelDeviation := e.restingState(cfg)

	e.sinceAnalysis++
	if e.gyro.Len() >= cfg.MinWindowSamples && (!e.analysed || e.sinceAnalysis >= cfg.AnalysisInterval) {
		window := e.gyro.Slice()
		adaptive := e.adaptiveThresholds(cfg, isResting, dsp.Mean(window))
		e.last = Analyze(cfg, window, isResting, adaptive)
		e.analysed = true
		e.sinceAnalysis = 0
	}
	raw := e.last

	smoothed := e.smoother.Step(cfg, raw.IsTremor, raw.Confidence, sample.TimestampNs)
	if smoothed.EpisodeStarted {
		e.logger.InfoContext(context.Background(), "tremor episode started",
			slog.String("session", e.sessionID),
			slog.Float64("frequencyHz", raw.DominantFrequencyHz),
			slog.Float64("confidence", smoothed.Confidence))
	}
	if smoothed.EpisodeEnded {
		e.logger.InfoContext(context.Background(), "tremor episode ended",
			slog.String("session", e.sessionID),
			slog.Float64("durationSeconds", smoothed.EpisodeDurationSeconds))
	}

	if e.analysed && !raw.IsTremor && !smoothed.IsTremor && raw.Rejection != RejectNonFinite {
		e.baseline.UpdateBaseline(magnitude, raw.BandRatio, raw.TotalPower, isResting, false)
	}

	record = models.TremorRecord{
		ID:          e.newID(),
		SessionID:   e.sessionID,
		TimestampNs: sample.TimestampNs,
		WallClock:   e.wallClock(sample),

		X:         sample.X,
		Y:         sample.Y,
		Z:         sample.Z,
		Magnitude: magnitude,

		DominantFrequencyHz: raw.DominantFrequencyHz,
		TremorBandPower:     raw.TremorBandPower,
		TotalPower:          raw.TotalPower,
		BandRatio:           raw.BandRatio,
		TremorAmplitude:     raw.Amplitude,
		RawIsTremor:         raw.IsTremor,
		RawConfidence:       raw.Confidence,

		IsTremor:               smoothed.IsTremor,
		Confidence:             smoothed.Confidence,
		InEpisode:              smoothed.InEpisode,
		EpisodeDurationSeconds: smoothed.EpisodeDurationSeconds,
		IsResting:              isResting,

		SeverityCategory:   SeverityNone,
		BaselineMultiplier: 1,
	}

	if smoothed.IsTremor {
		eval := e.baseline.EvaluateRelativeToBaseline(magnitude, raw.BandRatio, isResting)
		breakdown := ExplainSeverity(raw.Amplitude, raw.DominantFrequencyHz, raw.BandRatio,
			smoothed.Confidence, smoothed.EpisodeDurationSeconds, eval.Multiplier)
		record.Severity = breakdown.Score
		record.SeverityCategory = breakdown.Category
		record.BaselineMultiplier = eval.Multiplier

		c := ClassifyWithConfig(cfg, raw.DominantFrequencyHz, raw.TotalPower, raw.BandRatio, smoothed.Confidence, accelDeviation)
		record.TremorType = string(c.Primary)
		record.TypeConfidence = c.Confidence
		record.SecondaryTremorType = string(c.Secondary)
		record.Reasoning = c.Reasoning
	}
	return record, true
}

// restingState decides resting from accelerometer variance. Without enough
// accelerometer data the wearer is assumed to be at rest.
func (e *Engine) restingState(cfg DetectionConfig) (isResting bool, deviation float64) {
	if e.accel.Len() < MinAnalysisSamples {
		return true, 0
	}
	window := e.accel.Latest(dsp.LargestPowerOfTwo(e.accel.Len()))
	variance := dsp.Variance(window)
	return variance < cfg.RestingAccelVarianceThreshold, math.Sqrt(variance)
}

func (e *Engine) adaptiveThresholds(cfg DetectionConfig, isResting bool, windowMean float64) *AdaptiveThresholds {
	adaptive := &AdaptiveThresholds{}
	if e.baseline.IsValid(true) {
		rest := e.baseline.Stats(true)
		adaptive.MinBandPower = math.Max(cfg.MinBandPower, cfg.Baseline.PowerFloorMultiplier*rest.TotalPower)
	}
	if e.baseline.CalibrationComplete() {
		adaptive.ConfidenceThreshold = cfg.CalibratedConfidenceThreshold
	}
	adaptive.ConfidenceBoost = e.baseline.EvaluateRelativeToBaseline(windowMean, e.last.BandRatio, isResting).ConfidenceBoost
	return adaptive
}

func (e *Engine) resizeWindows(cfg DetectionConfig) {
	if e.gyro.Cap() != cfg.WindowSize {
		e.gyro = resized(e.gyro, cfg.WindowSize)
	}
	if e.accel.Cap() != cfg.WindowSize {
		e.accel = resized(e.accel, cfg.WindowSize)
	}
}

func resized(r *dsp.RingFloat, capacity int) *dsp.RingFloat {
	next := dsp.NewRingFloat(capacity)
	for _, v := range r.Latest(capacity) {
		next.Push(v)
	}
	return next
}

func (e *Engine) wallClock(sample models.MotionSample) time.Time {
	if sample.WallClockMs > 0 {
		return time.UnixMilli(sample.WallClockMs).UTC()
	}
	return e.now().UTC()
}

func (e *Engine) logCalibration(progress CalibrationProgress) {
	r := progress.Result
	e.logger.InfoContext(context.Background(), "calibration finished",
		slog.Bool("success", r.Success),
		slog.Int("samples", r.SamplesCollected),
		slog.Float64("baselineMagnitude", r.BaselineMagnitude),
		slog.Float64("baselineVariance", r.BaselineVariance),
		slog.String("reason", r.Reason))
}
