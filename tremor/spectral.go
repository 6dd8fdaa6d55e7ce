package tremor

// Spectral Analyzer
//
// Turns a window of motion magnitudes into a SpectralResult:
//
// 1. Truncation: only the most recent power-of-two samples are transformed
// 2. Detrend + Hann: the mean is removed, then a raised-cosine window is applied
// 3. Power spectrum: one-sided |X|²/N from the recursive radix-2 FFT (DC excluded)
// 4. Band features: band power, peak bin, dominant frequency and band ratio
// 5. Confidence: weighted blend of band ratio, peak prominence, frequency and activity
// 6. Decision: every gate must pass for IsTremor to be set
//
// Analysis never fails. Short or non-finite windows produce the zero result.

import (
	"math"

	"tremorwatch/dsp"
)

// MinAnalysisSamples is the shortest window that is ever transformed.
const MinAnalysisSamples = 16

// Rejection reasons recorded on a SpectralResult when IsTremor is false.
const (
	RejectNone          = ""
	RejectShortWindow   = "window too short"
	RejectNonFinite     = "non-finite samples"
	RejectFlatSignal    = "no spectral energy"
	RejectBandPower     = "band power below floor"
	RejectLowFrequency  = "dominant frequency below minimum"
	RejectOutOfBand     = "dominant frequency outside band"
	RejectBandRatio     = "band ratio below threshold"
	RejectMovement      = "high-energy voluntary movement"
	RejectLowConfidence = "confidence below threshold"
)

// SpectralResult is produced once per analysis and never mutated.
type SpectralResult struct {
	DominantFrequencyHz float64 `json:"dominantFrequencyHz"`
	TremorBandPower     float64 `json:"tremorBandPower"`
	TotalPower          float64 `json:"totalPower"`
	MaxPowerInBand      float64 `json:"maxPowerInBand"`
	BandRatio           float64 `json:"bandRatio"`
	Amplitude           float64 `json:"amplitude"`
	WindowLength        int     `json:"windowLength"`
	IsTremor            bool    `json:"isTremor"`
	Confidence          float64 `json:"confidence"`
	Rejection           string  `json:"rejection,omitempty"`
}

// AdaptiveThresholds override parts of the static config with personalised values.
// Zero fields fall back to the config.
type AdaptiveThresholds struct {
	MinBandPower        float64
	ConfidenceThreshold float64
	ConfidenceBoost     float64
}

// SpectralAnalyzer analyses windows against the currently active config.
type SpectralAnalyzer struct {
	configs *ConfigStore
}

// NewSpectralAnalyzer binds an analyzer to a config store.
func NewSpectralAnalyzer(configs *ConfigStore) *SpectralAnalyzer {
	return &SpectralAnalyzer{configs: configs}
}

// Analyze runs the analysis with the config active at call time.
func (a *SpectralAnalyzer) Analyze(window []float64, isResting bool, adaptive *AdaptiveThresholds) SpectralResult {
	return Analyze(a.configs.Current(), window, isResting, adaptive)
}

// Analyze is the pure form of SpectralAnalyzer.Analyze.
func Analyze(cfg DetectionConfig, window []float64, isResting bool, adaptive *AdaptiveThresholds) SpectralResult {
	if len(window) < MinAnalysisSamples || len(window) < cfg.MinWindowSamples {
		return SpectralResult{Rejection: RejectShortWindow}
	}
	if !dsp.AllFinite(window) {
		return SpectralResult{Rejection: RejectNonFinite}
	}

	n := dsp.LargestPowerOfTwo(len(window))
	buf := make([]float64, n)
	copy(buf, window[len(window)-n:])

	dsp.Detrend(buf)
	amplitude := math.Sqrt2 * dsp.RootMeanSquare(buf)
	dsp.ApplyHannWindow(buf)
	power := dsp.PowerSpectrum(buf)

	resolution := cfg.SampleRateHz / float64(n)
	band := cfg.ActiveBand
	ratioThreshold := cfg.ActiveRatioThreshold
	if isResting {
		band = cfg.RestingBand
		ratioThreshold = cfg.RestingRatioThreshold
	}

	var totalPower, bandPower, maxPower, dominant float64
	bandBins := 0
	for k := 1; k < len(power); k++ {
		p := power[k]
		totalPower += p
		freq := float64(k) * resolution
		if !band.Contains(freq) {
			continue
		}
		bandPower += p
		bandBins++
		if p > maxPower {
			maxPower = p
			dominant = freq
		}
	}

	// squaring very large but finite samples can overflow the spectrum
	if !finite(totalPower) || !finite(bandPower) || !finite(amplitude) {
		return SpectralResult{Rejection: RejectNonFinite}
	}

	result := SpectralResult{
		DominantFrequencyHz: dominant,
		TremorBandPower:     bandPower,
		TotalPower:          totalPower,
		MaxPowerInBand:      maxPower,
		Amplitude:           amplitude,
		WindowLength:        n,
	}
	if totalPower <= 0 || bandBins == 0 {
		result.Rejection = RejectFlatSignal
		return result
	}
	result.BandRatio = bandPower / totalPower

	meanBandBin := bandPower / float64(bandBins)
	confidence := confidenceScore(cfg, result.BandRatio, maxPower, meanBandBin, dominant, band, totalPower)

	floor := cfg.MinBandPower
	threshold := cfg.ConfidenceThreshold
	if adaptive != nil {
		if adaptive.MinBandPower > 0 {
			floor = adaptive.MinBandPower
		}
		if adaptive.ConfidenceThreshold > 0 {
			threshold = adaptive.ConfidenceThreshold
		}
		confidence = clamp01(confidence + adaptive.ConfidenceBoost)
	}

	// vigorous voluntary movement: lots of energy, little of it in the tremor band
	movement := estimatedMovementSeverity(totalPower) > cfg.MovementSeverityThreshold &&
		result.BandRatio < cfg.MovementBandRatioFloor
	if movement {
		confidence *= cfg.MovementAttenuation
	}
	result.Confidence = clamp01(confidence)

	switch {
	case bandPower <= floor:
		result.Rejection = RejectBandPower
	case dominant < cfg.MinDominantFrequencyHz:
		result.Rejection = RejectLowFrequency
	case !band.Contains(dominant):
		result.Rejection = RejectOutOfBand
	case result.BandRatio < ratioThreshold:
		result.Rejection = RejectBandRatio
	case movement:
		result.Rejection = RejectMovement
	case result.Confidence < threshold:
		result.Rejection = RejectLowConfidence
	default:
		result.IsTremor = true
	}
	return result
}

func confidenceScore(cfg DetectionConfig, bandRatio, maxPower, meanBandBin, dominant float64, band FrequencyBand, totalPower float64) float64 {
	w := cfg.Weights

	ratioScore := clamp01(bandRatio / cfg.BandRatioSaturation)

	var prominenceScore float64
	if meanBandBin > 0 {
		prominence := maxPower / meanBandBin
		prominenceScore = clamp01((prominence - 1) / (cfg.PeakProminenceSaturation - 1))
	}

	var freqScore float64
	switch {
	case cfg.IdealBand.Contains(dominant):
		freqScore = 1
	case band.Contains(dominant):
		freqScore = 0.5
	}

	var activityScore float64
	switch ActivityForConfig(cfg, totalPower) {
	case ActivityResting:
		activityScore = 1
	case ActivityActive:
		activityScore = 0.5
	}

	return w.BandRatio*ratioScore +
		w.PeakProminence*prominenceScore +
		w.Frequency*freqScore +
		w.Activity*activityScore
}

// estimatedMovementSeverity is a coarse severity guess from total power alone.
func estimatedMovementSeverity(totalPower float64) float64 {
	return 2.5 * math.Log1p(2*totalPower)
}

func clamp01(x float64) float64 {
	return clamp(x, 0, 1)
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
