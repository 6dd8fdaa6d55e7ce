package tremor

// Tremor Type Classifier
//
// A fixed, ordered cascade of rules over a small feature struct. The first
// rule whose predicate matches produces the result; there is no hidden state,
// so identical inputs always give identical output.
//
// Each rule scores its own confidence from four sub-factors:
//   - frequency proximity to the type's characteristic sub-range (0.40)
//   - agreement between the type and the activity level (0.25)
//   - band ratio contribution (0.20)
//   - incoming detection confidence (0.15)
//
// Results below highTypeConfidence carry a plausible secondary type.

import (
	"fmt"
	"math"
)

// TremorType labels the classifier output.
type TremorType string

const (
	TypeUnknown       TremorType = "unknown"
	TypeResting       TremorType = "resting"
	TypePostural      TremorType = "postural"
	TypeAction        TremorType = "action"
	TypeKinetic       TremorType = "kinetic"
	TypePhysiological TremorType = "physiological"
	TypeMixed         TremorType = "mixed"
)

// ActivityLevel is derived from total spectral power.
type ActivityLevel int

const (
	ActivityResting ActivityLevel = iota
	ActivityActive
	ActivityHigh
)

func (a ActivityLevel) String() string {
	switch a {
	case ActivityResting:
		return "resting"
	case ActivityActive:
		return "active"
	default:
		return "highly active"
	}
}

const (
	plausibleMinHz = 3.0
	plausibleMaxHz = 15.0

	// minimum accelerometer deviation that indicates purposeful motion
	actionAccelFloor = 0.3

	highTypeConfidence = 0.75

	freqProximityWeight = 0.40
	activityWeight      = 0.25
	bandRatioWeightType = 0.20
	detectionWeight     = 0.15
)

// ActivityFromPower maps total power to an activity level using the default
// power ceilings.
func ActivityFromPower(totalPower float64) ActivityLevel {
	return ActivityForConfig(DefaultDetectionConfig(), totalPower)
}

// ActivityForConfig maps total power to an activity level using cfg's
// RestingPowerCeiling and ActivePowerCeiling.
func ActivityForConfig(cfg DetectionConfig, totalPower float64) ActivityLevel {
	switch {
	case totalPower < cfg.RestingPowerCeiling:
		return ActivityResting
	case totalPower < cfg.ActivePowerCeiling:
		return ActivityActive
	default:
		return ActivityHigh
	}
}

// ClassifierFeatures are the inputs every rule sees.
type ClassifierFeatures struct {
	DominantFrequencyHz float64       `json:"dominantFrequencyHz"`
	TotalPower          float64       `json:"totalPower"`
	BandRatio           float64       `json:"bandRatio"`
	Confidence          float64       `json:"confidence"`
	SecondaryMagnitude  float64       `json:"secondaryMagnitude"`
	Activity            ActivityLevel `json:"activity"`
}

// Classification is the classifier verdict.
type Classification struct {
	Primary    TremorType `json:"primary"`
	Confidence float64    `json:"confidence"`
	Secondary  TremorType `json:"secondary,omitempty"`
	Reasoning  string     `json:"reasoning"`
}

type classificationRule struct {
	kind      TremorType
	match     func(ClassifierFeatures) bool
	score     func(ClassifierFeatures) float64
	secondary func(ClassifierFeatures) TremorType
	describe  string
}

var classificationRules = []classificationRule{
	{
		kind: TypeResting,
		match: func(f ClassifierFeatures) bool {
			return f.Activity == ActivityResting && between(f.DominantFrequencyHz, 3.5, 6.5)
		},
		score: func(f ClassifierFeatures) float64 {
			return typeConfidence(f, frequencyProximity(f.DominantFrequencyHz, 4, 6, 1.5), 1, ratioContribution(f.BandRatio))
		},
		secondary: func(f ClassifierFeatures) TremorType {
			if f.DominantFrequencyHz >= 5.5 {
				return TypeMixed
			}
			return TypePostural
		},
		describe: "classic resting pattern in the low tremor band",
	},
	{
		kind: TypePhysiological,
		match: func(f ClassifierFeatures) bool {
			return f.DominantFrequencyHz >= 8 && f.BandRatio < 0.5
		},
		score: func(f ClassifierFeatures) float64 {
			agreement := 1.0
			if f.Activity == ActivityHigh {
				agreement = 0.7
			}
			return typeConfidence(f, frequencyProximity(f.DominantFrequencyHz, 8, 12, 3), agreement, clamp01(1-f.BandRatio))
		},
		secondary: func(ClassifierFeatures) TremorType { return TypePostural },
		describe:  "high-frequency, diffuse spectrum typical of physiological tremor",
	},
	{
		kind: TypeAction,
		match: func(f ClassifierFeatures) bool {
			return f.Activity != ActivityResting &&
				between(f.DominantFrequencyHz, 4, 12) &&
				f.SecondaryMagnitude >= actionAccelFloor
		},
		score: func(f ClassifierFeatures) float64 {
			agreement := 1.0
			if f.Activity == ActivityHigh {
				agreement = 0.6
			}
			return typeConfidence(f, frequencyProximity(f.DominantFrequencyHz, 6, 10, 2), agreement, ratioContribution(f.BandRatio))
		},
		secondary: func(f ClassifierFeatures) TremorType {
			if f.Activity == ActivityHigh {
				return TypeKinetic
			}
			return TypePostural
		},
		describe: "oscillation during purposeful limb movement",
	},
	{
		kind: TypePostural,
		match: func(f ClassifierFeatures) bool {
			return f.Activity == ActivityActive && between(f.DominantFrequencyHz, 5, 12)
		},
		score: func(f ClassifierFeatures) float64 {
			return typeConfidence(f, frequencyProximity(f.DominantFrequencyHz, 6, 9, 2), 1, ratioContribution(f.BandRatio))
		},
		secondary: func(ClassifierFeatures) TremorType { return TypeAction },
		describe:  "sustained oscillation while holding a posture",
	},
	{
		kind: TypeKinetic,
		match: func(f ClassifierFeatures) bool {
			return f.Activity == ActivityHigh && between(f.DominantFrequencyHz, 3, 10)
		},
		score: func(f ClassifierFeatures) float64 {
			return typeConfidence(f, frequencyProximity(f.DominantFrequencyHz, 4, 8, 2), 1, ratioContribution(f.BandRatio))
		},
		secondary: func(ClassifierFeatures) TremorType { return TypeAction },
		describe:  "oscillation during vigorous movement",
	},
	{
		kind: TypeMixed,
		match: func(f ClassifierFeatures) bool {
			return f.Activity == ActivityResting && f.DominantFrequencyHz > 6.5 && f.DominantFrequencyHz <= 9
		},
		score: func(f ClassifierFeatures) float64 {
			return typeConfidence(f, frequencyProximity(f.DominantFrequencyHz, 6.5, 9, 1.5), 0.7, ratioContribution(f.BandRatio))
		},
		secondary: func(ClassifierFeatures) TremorType { return TypeResting },
		describe:  "atypical higher-frequency oscillation at rest",
	},
}

// Classify labels a detection by tremor type with the default activity tiers.
func Classify(dominantFrequency, totalPower, bandRatio, confidence, secondaryMagnitude float64) Classification {
	return ClassifyWithConfig(DefaultDetectionConfig(), dominantFrequency, totalPower, bandRatio, confidence, secondaryMagnitude)
}

// ClassifyWithConfig labels a detection, deriving the activity tier from cfg.
func ClassifyWithConfig(cfg DetectionConfig, dominantFrequency, totalPower, bandRatio, confidence, secondaryMagnitude float64) Classification {
	return ClassifyFeatures(ClassifierFeatures{
		DominantFrequencyHz: sanitize(dominantFrequency),
		TotalPower:          sanitize(totalPower),
		BandRatio:           clamp01(sanitize(bandRatio)),
		Confidence:          clamp01(sanitize(confidence)),
		SecondaryMagnitude:  sanitize(secondaryMagnitude),
		Activity:            ActivityForConfig(cfg, sanitize(totalPower)),
	})
}

// ClassifyFeatures runs the rule cascade on precomputed features.
func ClassifyFeatures(f ClassifierFeatures) Classification {
	if f.DominantFrequencyHz < plausibleMinHz || f.DominantFrequencyHz > plausibleMaxHz {
		return Classification{
			Primary:   TypeUnknown,
			Reasoning: fmt.Sprintf("%.2f Hz is outside the plausible tremor range %.0f-%.0f Hz", f.DominantFrequencyHz, plausibleMinHz, plausibleMaxHz),
		}
	}

	for _, rule := range classificationRules {
		if !rule.match(f) {
			continue
		}
		c := Classification{
			Primary:    rule.kind,
			Confidence: clamp01(rule.score(f)),
		}
		if c.Confidence < highTypeConfidence && rule.secondary != nil {
			c.Secondary = rule.secondary(f)
		}
		c.Reasoning = reasoning(rule.describe, f, c)
		return c
	}

	return Classification{
		Primary:    TypeUnknown,
		Confidence: clamp01(0.25 * f.Confidence),
		Reasoning:  reasoning("no characteristic pattern matched", f, Classification{Primary: TypeUnknown}),
	}
}

func reasoning(describe string, f ClassifierFeatures, c Classification) string {
	text := fmt.Sprintf("%s: %s at %.2f Hz while %s (total power %.2f, band ratio %.2f, detection confidence %.2f)",
		c.Primary, describe, f.DominantFrequencyHz, f.Activity, f.TotalPower, f.BandRatio, f.Confidence)
	if c.Secondary != "" {
		text += fmt.Sprintf("; %s also plausible", c.Secondary)
	}
	return text
}

func typeConfidence(f ClassifierFeatures, freqProximity, activityAgreement, ratioScore float64) float64 {
	return freqProximityWeight*freqProximity +
		activityWeight*activityAgreement +
		bandRatioWeightType*ratioScore +
		detectionWeight*f.Confidence
}

// frequencyProximity is 1 inside [lo, hi] and decays linearly to 0 over falloff Hz.
func frequencyProximity(f, lo, hi, falloff float64) float64 {
	var distance float64
	switch {
	case f < lo:
		distance = lo - f
	case f > hi:
		distance = f - hi
	default:
		return 1
	}
	return math.Max(0, 1-distance/falloff)
}

func ratioContribution(bandRatio float64) float64 {
	return clamp01(bandRatio / 0.7)
}

func between(x, lo, hi float64) bool {
	return x >= lo && x <= hi
}
