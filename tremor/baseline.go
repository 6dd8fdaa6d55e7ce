package tremor

import (
	"math"
	"sync"
	"time"

	"tremorwatch/models"
)

// ActivityState selects which baseline a sample belongs to.
type ActivityState int

const (
	StateResting ActivityState = iota
	StateActive
)

func (s ActivityState) String() string {
	if s == StateResting {
		return "resting"
	}
	return "active"
}

func stateOf(isResting bool) ActivityState {
	if isResting {
		return StateResting
	}
	return StateActive
}

// BaselineStats are the rolling statistics for one activity state.
type BaselineStats struct {
	Magnitude         float64 `json:"magnitude"`
	BandRatio         float64 `json:"bandRatio"`
	TotalPower        float64 `json:"totalPower"`
	MagnitudeVariance float64 `json:"magnitudeVariance"`
	SampleCount       int64   `json:"sampleCount"`
}

// StdDev returns the running standard deviation of the magnitude.
func (s BaselineStats) StdDev() float64 {
	if s.MagnitudeVariance <= 0 {
		return 0
	}
	return math.Sqrt(s.MagnitudeVariance)
}

// population-typical starting points used until a person's own data arrives
func defaultRestingStats() BaselineStats {
	return BaselineStats{Magnitude: 0.05, BandRatio: 0.2, TotalPower: 0.1, MagnitudeVariance: 0.0004}
}

func defaultActiveStats() BaselineStats {
	return BaselineStats{Magnitude: 0.5, BandRatio: 0.15, TotalPower: 2.0, MagnitudeVariance: 0.04}
}

func statsToRecord(s BaselineStats) models.BaselineStatsRecord {
	return models.BaselineStatsRecord{
		Magnitude:         s.Magnitude,
		BandRatio:         s.BandRatio,
		TotalPower:        s.TotalPower,
		MagnitudeVariance: s.MagnitudeVariance,
		SampleCount:       s.SampleCount,
	}
}

func statsFromRecord(r models.BaselineStatsRecord) BaselineStats {
	return BaselineStats{
		Magnitude:         r.Magnitude,
		BandRatio:         r.BandRatio,
		TotalPower:        r.TotalPower,
		MagnitudeVariance: r.MagnitudeVariance,
		SampleCount:       r.SampleCount,
	}
}

// SnapshotSink receives baseline snapshots for durable storage. SaveBaseline
// is called without the tracker lock held and must not block for long.
type SnapshotSink interface {
	SaveBaseline(snapshot models.BaselineSnapshot)
}

// SnapshotSinkFunc adapts a function to SnapshotSink.
type SnapshotSinkFunc func(models.BaselineSnapshot)

func (f SnapshotSinkFunc) SaveBaseline(snapshot models.BaselineSnapshot) { f(snapshot) }

// Tiered confidence boosts keyed on how far a sample sits above baseline.
const (
	boostAt3x   = 0.15
	boostAt2x   = 0.10
	boostAt1p5x = 0.05

	magnitudeRatioWeight = 0.7
	bandRatioWeight      = 0.3
)

// BaselineEvaluation compares one sample to its activity state's baseline.
type BaselineEvaluation struct {
	Valid             bool    `json:"valid"`
	ExceedsThreshold  bool    `json:"exceedsThreshold"`
	RelativeIntensity float64 `json:"relativeIntensity"`
	Multiplier        float64 `json:"multiplier"`
	ConfidenceBoost   float64 `json:"confidenceBoost"`
}

func neutralEvaluation() BaselineEvaluation {
	return BaselineEvaluation{Multiplier: 1, RelativeIntensity: 1}
}

// BaselineTracker owns the resting and active baselines. All methods are safe
// for concurrent use; updates are serialised by a single mutex.
type BaselineTracker struct {
	mu      sync.Mutex
	configs *ConfigStore
	sink    SnapshotSink
	now     func() time.Time

	resting BaselineStats
	active  BaselineStats

	calibrationComplete bool
	calibrationAt       time.Time
	sinceFlush          int

	calibration *calibrationSession
}

// NewBaselineTracker starts from population defaults. sink may be nil.
func NewBaselineTracker(configs *ConfigStore, sink SnapshotSink) *BaselineTracker {
	return &BaselineTracker{
		configs: configs,
		sink:    sink,
		now:     time.Now,
		resting: defaultRestingStats(),
		active:  defaultActiveStats(),
	}
}

// SetClock replaces the time source used for calibration timing.
func (t *BaselineTracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

func (t *BaselineTracker) statsFor(state ActivityState) *BaselineStats {
	if state == StateResting {
		return &t.resting
	}
	return &t.active
}

// UpdateBaseline folds one non-tremor sample into the baseline of its state.
// Tremor samples and non-finite values are ignored.
func (t *BaselineTracker) UpdateBaseline(magnitude, bandRatio, totalPower float64, isResting, isTremorSample bool) {
	if isTremorSample {
		return
	}
	if !finite(magnitude) || !finite(bandRatio) || !finite(totalPower) {
		return
	}
	cfg := t.configs.Current().Baseline

	t.mu.Lock()
	s := t.statsFor(stateOf(isResting))
	count := s.SampleCount + 1

	alpha := cfg.SlowAlpha
	if count < cfg.MinSamples {
		alpha = 1 / float64(count)
	}

	oldMean := s.Magnitude
	newMean := oldMean + alpha*(magnitude-oldMean)
	variance := (1-alpha)*s.MagnitudeVariance + alpha*(magnitude-oldMean)*(magnitude-newMean)
	if !finite(newMean) || !finite(variance) {
		t.mu.Unlock()
		return
	}
	if variance < 0 {
		variance = 0
	}
	s.SampleCount = count
	s.MagnitudeVariance = variance
	s.Magnitude = newMean
	s.BandRatio += alpha * (bandRatio - s.BandRatio)
	s.TotalPower += alpha * (totalPower - s.TotalPower)

	t.sinceFlush++
	var snapshot *models.BaselineSnapshot
	if t.sinceFlush >= cfg.FlushEvery {
		t.sinceFlush = 0
		snap := t.snapshotLocked()
		snapshot = &snap
	}
	t.mu.Unlock()

	if snapshot != nil && t.sink != nil {
		t.sink.SaveBaseline(*snapshot)
	}
}

// IsValid reports whether the state has seen enough samples to be trusted.
func (t *BaselineTracker) IsValid(isResting bool) bool {
	minSamples := t.configs.Current().Baseline.MinSamples
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsFor(stateOf(isResting)).SampleCount >= minSamples
}

// Stats returns a copy of one state's statistics.
func (t *BaselineTracker) Stats(isResting bool) BaselineStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.statsFor(stateOf(isResting))
}

// CalibrationComplete reports whether a personal calibration has been applied.
func (t *BaselineTracker) CalibrationComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calibrationComplete
}

// GetAdaptiveThreshold returns baseline magnitude + k·σ. ok is false while the
// baseline is not yet valid.
func (t *BaselineTracker) GetAdaptiveThreshold(isResting bool) (threshold float64, ok bool) {
	cfg := t.configs.Current().Baseline
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.statsFor(stateOf(isResting))
	if s.SampleCount < cfg.MinSamples {
		return 0, false
	}
	return s.Magnitude + cfg.StdDevMultiplier*s.StdDev(), true
}

// EvaluateRelativeToBaseline scores a sample against the baseline of its state.
func (t *BaselineTracker) EvaluateRelativeToBaseline(magnitude, bandRatio float64, isResting bool) BaselineEvaluation {
	cfg := t.configs.Current().Baseline
	if !finite(magnitude) || !finite(bandRatio) {
		return neutralEvaluation()
	}

	t.mu.Lock()
	s := *t.statsFor(stateOf(isResting))
	t.mu.Unlock()

	if s.SampleCount < cfg.MinSamples || s.Magnitude <= 0 {
		return neutralEvaluation()
	}

	multiplier := magnitude / s.Magnitude
	if !finite(multiplier) {
		return neutralEvaluation()
	}
	bandRatioRatio := 1.0
	if s.BandRatio > 0 {
		bandRatioRatio = bandRatio / s.BandRatio
	}

	eval := BaselineEvaluation{
		Valid:             true,
		Multiplier:        multiplier,
		RelativeIntensity: magnitudeRatioWeight*multiplier + bandRatioWeight*bandRatioRatio,
		ExceedsThreshold: magnitude > s.Magnitude+cfg.StdDevMultiplier*s.StdDev() ||
			magnitude > cfg.FixedMultiplier*s.Magnitude,
	}
	switch {
	case multiplier >= 3:
		eval.ConfidenceBoost = boostAt3x
	case multiplier >= 2:
		eval.ConfidenceBoost = boostAt2x
	case multiplier >= 1.5:
		eval.ConfidenceBoost = boostAt1p5x
	}
	return eval
}

// Snapshot returns the persisted layout of the current state.
func (t *BaselineTracker) Snapshot() models.BaselineSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *BaselineTracker) snapshotLocked() models.BaselineSnapshot {
	return models.BaselineSnapshot{
		Resting:             statsToRecord(t.resting),
		Active:              statsToRecord(t.active),
		CalibrationComplete: t.calibrationComplete,
		CalibrationAt:       t.calibrationAt,
		SavedAt:             t.now(),
	}
}

// Restore replaces the tracker state with a previously persisted snapshot.
func (t *BaselineTracker) Restore(snapshot models.BaselineSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resting = statsFromRecord(snapshot.Resting)
	t.active = statsFromRecord(snapshot.Active)
	t.calibrationComplete = snapshot.CalibrationComplete
	t.calibrationAt = snapshot.CalibrationAt
	t.sinceFlush = 0
}

// Flush hands the current snapshot to the sink immediately.
func (t *BaselineTracker) Flush() {
	t.mu.Lock()
	snapshot := t.snapshotLocked()
	t.sinceFlush = 0
	t.mu.Unlock()
	if t.sink != nil {
		t.sink.SaveBaseline(snapshot)
	}
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
