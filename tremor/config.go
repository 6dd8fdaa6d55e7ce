package tremor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"

	"tremorwatch/dsp"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid detection config")

// ErrStaleConfig is returned when an update carries an older version than the active config.
var ErrStaleConfig = errors.New("stale detection config version")

// ConfigError describes the first field that failed validation.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// FrequencyBand is an inclusive [LowHz, HighHz] range.
type FrequencyBand struct {
	LowHz  float64 `json:"lowHz"`
	HighHz float64 `json:"highHz"`
}

// Contains reports whether f lies inside the band.
func (b FrequencyBand) Contains(f float64) bool {
	return f >= b.LowHz && f <= b.HighHz
}

// ConfidenceWeights are the four confidence contributions; they must sum to 1.
type ConfidenceWeights struct {
	BandRatio      float64 `json:"bandRatio"`
	PeakProminence float64 `json:"peakProminence"`
	Frequency      float64 `json:"frequency"`
	Activity       float64 `json:"activity"`
}

func (w ConfidenceWeights) sum() float64 {
	return w.BandRatio + w.PeakProminence + w.Frequency + w.Activity
}

// BaselineConfig tunes the baseline tracker and calibration.
type BaselineConfig struct {
	MinSamples                 int64   `json:"minSamples"`
	SlowAlpha                  float64 `json:"slowAlpha"`
	StdDevMultiplier           float64 `json:"stdDevMultiplier"`
	FixedMultiplier            float64 `json:"fixedMultiplier"`
	FlushEvery                 int     `json:"flushEvery"`
	PowerFloorMultiplier       float64 `json:"powerFloorMultiplier"`
	CalibrationSeconds         float64 `json:"calibrationSeconds"`
	CalibrationSamplesRequired int     `json:"calibrationSamplesRequired"`
}

// DetectionConfig holds every threshold used by the pipeline. Values are
// never mutated once published through a ConfigStore.
type DetectionConfig struct {
	Version int `json:"version"`

	SampleRateHz     float64 `json:"sampleRateHz"`
	WindowSize       int     `json:"windowSize"`
	MinWindowSamples int     `json:"minWindowSamples"`
	AnalysisInterval int     `json:"analysisInterval"`

	RestingBand            FrequencyBand `json:"restingBand"`
	ActiveBand             FrequencyBand `json:"activeBand"`
	IdealBand              FrequencyBand `json:"idealBand"`
	MinDominantFrequencyHz float64       `json:"minDominantFrequencyHz"`

	MinBandPower             float64 `json:"minBandPower"`
	RestingRatioThreshold    float64 `json:"restingRatioThreshold"`
	ActiveRatioThreshold     float64 `json:"activeRatioThreshold"`
	BandRatioSaturation      float64 `json:"bandRatioSaturation"`
	PeakProminenceSaturation float64 `json:"peakProminenceSaturation"`
	RestingPowerCeiling      float64 `json:"restingPowerCeiling"`
	ActivePowerCeiling       float64 `json:"activePowerCeiling"`

	MovementSeverityThreshold float64 `json:"movementSeverityThreshold"`
	MovementBandRatioFloor    float64 `json:"movementBandRatioFloor"`
	MovementAttenuation       float64 `json:"movementAttenuation"`

	Weights                       ConfidenceWeights `json:"weights"`
	ConfidenceThreshold           float64           `json:"confidenceThreshold"`
	CalibratedConfidenceThreshold float64           `json:"calibratedConfidenceThreshold"`

	RestingAccelVarianceThreshold float64 `json:"restingAccelVarianceThreshold"`

	MinEpisodeDurationSamples  int     `json:"minEpisodeDurationSamples"`
	MaxGapSamples              int     `json:"maxGapSamples"`
	LongEpisodeConfidenceBoost float64 `json:"longEpisodeConfidenceBoost"`
	NewEpisodeConfidenceBoost  float64 `json:"newEpisodeConfidenceBoost"`

	Baseline BaselineConfig `json:"baseline"`
}

// DefaultDetectionConfig returns the reference thresholds.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		Version:          1,
		SampleRateHz:     50,
		WindowSize:       256,
		MinWindowSamples: 16,
		AnalysisInterval: 10,

		RestingBand:            FrequencyBand{LowHz: 3.0, HighHz: 7.0},
		ActiveBand:             FrequencyBand{LowHz: 3.0, HighHz: 12.0},
		IdealBand:              FrequencyBand{LowHz: 4.0, HighHz: 6.0},
		MinDominantFrequencyHz: 3.0,

		MinBandPower:             0.05,
		RestingRatioThreshold:    0.35,
		ActiveRatioThreshold:     0.50,
		BandRatioSaturation:      0.70,
		PeakProminenceSaturation: 4.0,
		RestingPowerCeiling:      5.0,
		ActivePowerCeiling:       20.0,

		MovementSeverityThreshold: 6.0,
		MovementBandRatioFloor:    0.30,
		MovementAttenuation:       0.10,

		Weights: ConfidenceWeights{
			BandRatio:      0.35,
			PeakProminence: 0.25,
			Frequency:      0.25,
			Activity:       0.15,
		},
		ConfidenceThreshold:           0.60,
		CalibratedConfidenceThreshold: 0.55,

		RestingAccelVarianceThreshold: 0.05,

		MinEpisodeDurationSamples:  25,
		MaxGapSamples:              10,
		LongEpisodeConfidenceBoost: 1.2,
		NewEpisodeConfidenceBoost:  1.1,

		Baseline: BaselineConfig{
			MinSamples:                 100,
			SlowAlpha:                  0.01,
			StdDevMultiplier:           2.0,
			FixedMultiplier:            2.0,
			FlushEvery:                 60,
			PowerFloorMultiplier:       2.0,
			CalibrationSeconds:         30,
			CalibrationSamplesRequired: 300,
		},
	}
}

// Validate checks every invariant. A config that fails is never published.
func (c DetectionConfig) Validate() error {
	if !(c.SampleRateHz > 0) || math.IsInf(c.SampleRateHz, 0) {
		return &ConfigError{"sampleRateHz", "must be positive"}
	}
	if !dsp.IsPowerOfTwo(c.WindowSize) {
		return &ConfigError{"windowSize", "must be a power of two"}
	}
	if c.MinWindowSamples < 16 || c.MinWindowSamples > c.WindowSize {
		return &ConfigError{"minWindowSamples", "must be in [16, windowSize]"}
	}
	if c.AnalysisInterval < 1 {
		return &ConfigError{"analysisInterval", "must be >= 1"}
	}

	nyquist := c.SampleRateHz / 2
	bands := []struct {
		name string
		band FrequencyBand
	}{
		{"restingBand", c.RestingBand},
		{"activeBand", c.ActiveBand},
		{"idealBand", c.IdealBand},
	}
	for _, b := range bands {
		if !(b.band.LowHz >= 0) || !(b.band.LowHz < b.band.HighHz) {
			return &ConfigError{b.name, "requires 0 <= lowHz < highHz"}
		}
		if b.band.HighHz > nyquist {
			return &ConfigError{b.name, "exceeds the Nyquist frequency"}
		}
	}
	if c.MinDominantFrequencyHz < 0 {
		return &ConfigError{"minDominantFrequencyHz", "must be >= 0"}
	}

	if c.MinBandPower < 0 {
		return &ConfigError{"minBandPower", "must be >= 0"}
	}
	for name, v := range map[string]float64{
		"restingRatioThreshold":         c.RestingRatioThreshold,
		"activeRatioThreshold":          c.ActiveRatioThreshold,
		"movementBandRatioFloor":        c.MovementBandRatioFloor,
		"movementAttenuation":           c.MovementAttenuation,
		"confidenceThreshold":           c.ConfidenceThreshold,
		"calibratedConfidenceThreshold": c.CalibratedConfidenceThreshold,
	} {
		if !(v >= 0 && v <= 1) {
			return &ConfigError{name, "must be in [0, 1]"}
		}
	}
	if c.RestingRatioThreshold > c.ActiveRatioThreshold {
		return &ConfigError{"restingRatioThreshold", "must not exceed activeRatioThreshold"}
	}
	if !(c.BandRatioSaturation > 0 && c.BandRatioSaturation <= 1) {
		return &ConfigError{"bandRatioSaturation", "must be in (0, 1]"}
	}
	if !(c.PeakProminenceSaturation > 1) {
		return &ConfigError{"peakProminenceSaturation", "must be > 1"}
	}
	if !(c.RestingPowerCeiling > 0) || !(c.RestingPowerCeiling < c.ActivePowerCeiling) {
		return &ConfigError{"restingPowerCeiling", "requires 0 < restingPowerCeiling < activePowerCeiling"}
	}
	if !(c.MovementSeverityThreshold >= 0 && c.MovementSeverityThreshold <= maxSeverity) {
		return &ConfigError{"movementSeverityThreshold", "must be in [0, 10]"}
	}

	w := c.Weights
	if w.BandRatio < 0 || w.PeakProminence < 0 || w.Frequency < 0 || w.Activity < 0 {
		return &ConfigError{"weights", "must be non-negative"}
	}
	if math.Abs(w.sum()-1) > 1e-6 {
		return &ConfigError{"weights", fmt.Sprintf("must sum to 1.0 (got %.6f)", w.sum())}
	}

	if !(c.RestingAccelVarianceThreshold > 0) {
		return &ConfigError{"restingAccelVarianceThreshold", "must be positive"}
	}
	if c.MinEpisodeDurationSamples < 1 {
		return &ConfigError{"minEpisodeDurationSamples", "must be >= 1"}
	}
	if c.MaxGapSamples < 0 {
		return &ConfigError{"maxGapSamples", "must be >= 0"}
	}
	if c.LongEpisodeConfidenceBoost < 1 || c.NewEpisodeConfidenceBoost < 1 {
		return &ConfigError{"episodeConfidenceBoost", "must be >= 1"}
	}

	b := c.Baseline
	if b.MinSamples < 1 {
		return &ConfigError{"baseline.minSamples", "must be >= 1"}
	}
	if !(b.SlowAlpha > 0 && b.SlowAlpha <= 1) {
		return &ConfigError{"baseline.slowAlpha", "must be in (0, 1]"}
	}
	if b.StdDevMultiplier < 0 || !(b.FixedMultiplier > 1) {
		return &ConfigError{"baseline.multipliers", "require stdDevMultiplier >= 0 and fixedMultiplier > 1"}
	}
	if b.FlushEvery < 1 {
		return &ConfigError{"baseline.flushEvery", "must be >= 1"}
	}
	if b.PowerFloorMultiplier < 0 {
		return &ConfigError{"baseline.powerFloorMultiplier", "must be >= 0"}
	}
	if !(b.CalibrationSeconds > 0) || b.CalibrationSamplesRequired < 1 {
		return &ConfigError{"baseline.calibration", "requires positive duration and sample count"}
	}
	return nil
}

// ParseDetectionConfig decodes a JSON document on top of the defaults and validates it.
func ParseDetectionConfig(data []byte) (DetectionConfig, error) {
	cfg := DefaultDetectionConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DetectionConfig{}, fmt.Errorf("unable to parse detection config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return DetectionConfig{}, err
	}
	return cfg, nil
}

// LoadDetectionConfig reads a JSON override file. An empty path yields the defaults.
func LoadDetectionConfig(path string) (DetectionConfig, error) {
	if path == "" {
		return DefaultDetectionConfig(), nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DetectionConfig{}, fmt.Errorf("failed to read detection config (%s): %w", path, err)
	}
	return ParseDetectionConfig(data)
}

// ConfigStore publishes the active DetectionConfig. Readers always observe a
// complete config; replacement swaps the whole value atomically.
type ConfigStore struct {
	current atomic.Pointer[DetectionConfig]
}

// NewConfigStore validates cfg and makes it the active config.
func NewConfigStore(cfg DetectionConfig) (*ConfigStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &ConfigStore{}
	s.current.Store(&cfg)
	return s, nil
}

// Current returns a copy of the active config.
func (s *ConfigStore) Current() DetectionConfig {
	return *s.current.Load()
}

// Swap validates cfg and replaces the active config. Updates carrying an
// older version than the active one are rejected.
func (s *ConfigStore) Swap(cfg DetectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for {
		old := s.current.Load()
		if cfg.Version < old.Version {
			return fmt.Errorf("%w: have %d, got %d", ErrStaleConfig, old.Version, cfg.Version)
		}
		next := cfg
		if s.current.CompareAndSwap(old, &next) {
			return nil
		}
	}
}
