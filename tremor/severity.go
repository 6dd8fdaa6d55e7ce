package tremor

import "math"

const (
	maxSeverity = 10.0

	// base = baseScale · ln(1 + amplitude·baseGain), capped at baseCap
	baseScale = 2.5
	baseGain  = 4.0
	baseCap   = 8.0

	restingPeakHz    = 5.0
	restingPeakSigma = 0.75
	actionPeakHz     = 8.0
	actionPeakSigma  = 1.5

	confidenceGateGain  = 1.25
	confidenceGateFloor = 0.2
)

// Severity categories, ordered.
const (
	SeverityNone           = "none"
	SeverityMinimal        = "minimal"
	SeverityMild           = "mild"
	SeverityModerate       = "moderate"
	SeverityModerateSevere = "moderate-severe"
	SeveritySevere         = "severe"
)

// SeverityBreakdown exposes every factor of the multiplicative model.
type SeverityBreakdown struct {
	Base            float64 `json:"base"`
	FrequencyWeight float64 `json:"frequencyWeight"`
	QualityFactor   float64 `json:"qualityFactor"`
	DurationFactor  float64 `json:"durationFactor"`
	BaselineBoost   float64 `json:"baselineBoost"`
	ConfidenceGate  float64 `json:"confidenceGate"`
	Score           float64 `json:"score"`
	Category        string  `json:"category"`
}

// CalculateSeverity returns a clinical severity score in [0, 10].
func CalculateSeverity(magnitude, dominantFrequency, bandRatio, confidence, episodeDurationSeconds, baselineMultiplier float64) float64 {
	return ExplainSeverity(magnitude, dominantFrequency, bandRatio, confidence, episodeDurationSeconds, baselineMultiplier).Score
}

// ExplainSeverity computes the score and returns each factor alongside it.
func ExplainSeverity(magnitude, dominantFrequency, bandRatio, confidence, episodeDurationSeconds, baselineMultiplier float64) SeverityBreakdown {
	b := SeverityBreakdown{
		Base:            baseSeverity(magnitude),
		FrequencyWeight: frequencyWeight(dominantFrequency),
		QualityFactor:   qualityFactor(bandRatio),
		DurationFactor:  durationFactor(episodeDurationSeconds),
		BaselineBoost:   baselineBoost(baselineMultiplier),
		ConfidenceGate:  clamp(confidenceGateGain*sanitize(confidence), confidenceGateFloor, 1),
	}
	score := b.Base * b.FrequencyWeight * b.QualityFactor * b.DurationFactor * b.BaselineBoost * b.ConfidenceGate
	b.Score = clamp(score, 0, maxSeverity)
	b.Category = ClassifySeverity(b.Score)
	return b
}

// ClassifySeverity maps a score to one of six ordered buckets.
func ClassifySeverity(score float64) string {
	switch {
	case !(score >= 0.5):
		return SeverityNone
	case score < 1.5:
		return SeverityMinimal
	case score < 3.0:
		return SeverityMild
	case score < 5.0:
		return SeverityModerate
	case score < 7.5:
		return SeverityModerateSevere
	default:
		return SeveritySevere
	}
}

func baseSeverity(magnitude float64) float64 {
	m := sanitize(magnitude)
	if m <= 0 {
		return 0
	}
	return math.Min(baseScale*math.Log1p(m*baseGain), baseCap)
}

func frequencyWeight(f float64) float64 {
	f = sanitize(f)
	switch {
	case f < 3.0:
		return 0.3
	case f > 12.0:
		// physiological range
		return 0.6
	case f >= 3.5 && f <= 6.5:
		return 1.0 + 0.3*gaussian(f, restingPeakHz, restingPeakSigma)
	case f > 6.5:
		return 0.9 + 0.2*gaussian(f, actionPeakHz, actionPeakSigma)
	default:
		return 0.8
	}
}

func qualityFactor(bandRatio float64) float64 {
	r := sanitize(bandRatio)
	switch {
	case r >= 0.7:
		return 1.0 + math.Min(0.3, r-0.7)
	case r >= 0.5:
		return 0.95
	case r >= 0.3:
		return 0.85
	default:
		return 0.5
	}
}

func durationFactor(seconds float64) float64 {
	s := sanitize(seconds)
	switch {
	case s <= 0:
		return 1.0
	case s >= 10:
		return 1.3
	case s >= 5:
		return 1.15
	case s >= 3:
		return 1.0
	default:
		return 0.85
	}
}

func baselineBoost(multiplier float64) float64 {
	m := sanitize(multiplier)
	switch {
	case m >= 3:
		return 1.3
	case m >= 2:
		return 1.2
	case m >= 1.5:
		return 1.1
	default:
		return 1.0
	}
}

func gaussian(x, mu, sigma float64) float64 {
	d := (x - mu) / sigma
	return math.Exp(-0.5 * d * d)
}

// sanitize maps non-finite inputs to 0 so the score stays bounded.
func sanitize(x float64) float64 {
	if !finite(x) {
		return 0
	}
	return x
}
