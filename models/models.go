package models

import (
	"math"
	"time"
)

// SensorType identifies which motion stream a sample belongs to.
type SensorType string

const (
	SensorGyroscope     SensorType = "gyroscope"
	SensorAccelerometer SensorType = "accelerometer"
)

// MotionSample is a single tri-axis reading as delivered by the wearable.
type MotionSample struct {
	Sensor      SensorType `json:"sensor"`
	TimestampNs int64      `json:"timestampNs"` // monotonic
	WallClockMs int64      `json:"wallClockMs"` // epoch ms
	X           float64    `json:"x"`
	Y           float64    `json:"y"`
	Z           float64    `json:"z"`
}

// Magnitude returns sqrt(x²+y²+z²).
func (s MotionSample) Magnitude() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

// SampleBatch is the payload accepted by the HTTP and socket ingestion paths.
type SampleBatch struct {
	SessionID string         `json:"sessionId,omitempty"`
	Samples   []MotionSample `json:"samples"`
}

// TremorRecord is emitted once per accepted gyroscope sample.
type TremorRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	TimestampNs int64     `json:"timestampNs"`
	WallClock   time.Time `json:"wallClock"`

	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Magnitude float64 `json:"magnitude"`

	DominantFrequencyHz float64 `json:"dominantFrequencyHz"`
	TremorBandPower     float64 `json:"tremorBandPower"`
	TotalPower          float64 `json:"totalPower"`
	BandRatio           float64 `json:"bandRatio"`
	TremorAmplitude     float64 `json:"tremorAmplitude"`
	RawIsTremor         bool    `json:"rawIsTremor"`
	RawConfidence       float64 `json:"rawConfidence"`

	IsTremor               bool    `json:"isTremor"`
	Confidence             float64 `json:"confidence"`
	InEpisode              bool    `json:"inEpisode"`
	EpisodeDurationSeconds float64 `json:"episodeDurationSeconds"`
	IsResting              bool    `json:"isResting"`

	Severity           float64 `json:"severity"`
	SeverityCategory   string  `json:"severityCategory"`
	BaselineMultiplier float64 `json:"baselineMultiplier"`

	TremorType          string  `json:"tremorType"`
	TypeConfidence      float64 `json:"typeConfidence"`
	SecondaryTremorType string  `json:"secondaryTremorType,omitempty"`
	Reasoning           string  `json:"reasoning,omitempty"`
}

// BaselineStatsRecord is the persisted form of one activity state's baseline.
type BaselineStatsRecord struct {
	Magnitude         float64 `json:"magnitude" bson:"magnitude"`
	BandRatio         float64 `json:"bandRatio" bson:"bandRatio"`
	TotalPower        float64 `json:"totalPower" bson:"totalPower"`
	MagnitudeVariance float64 `json:"magnitudeVariance" bson:"magnitudeVariance"`
	SampleCount       int64   `json:"sampleCount" bson:"sampleCount"`
}

// BaselineSnapshot is the persisted baseline layout for both activity states.
type BaselineSnapshot struct {
	Resting             BaselineStatsRecord `json:"resting" bson:"resting"`
	Active              BaselineStatsRecord `json:"active" bson:"active"`
	CalibrationComplete bool                `json:"calibrationComplete" bson:"calibrationComplete"`
	CalibrationAt       time.Time           `json:"calibrationAt,omitempty" bson:"calibrationAt,omitempty"`
	SavedAt             time.Time           `json:"savedAt" bson:"savedAt"`
}

// SessionSummary aggregates records for reporting.
type SessionSummary struct {
	SessionID         string         `json:"sessionId,omitempty"`
	Records           int            `json:"records"`
	TremorRecords     int            `json:"tremorRecords"`
	Episodes          int            `json:"episodes"`
	LongestEpisodeSec float64        `json:"longestEpisodeSec"`
	MeanSeverity      float64        `json:"meanSeverity"`
	MaxSeverity       float64        `json:"maxSeverity"`
	TypeCounts        map[string]int `json:"typeCounts"`
	CategoryCounts    map[string]int `json:"categoryCounts"`
	MeanFrequencyHz   float64        `json:"meanFrequencyHz"`
	Narrative         string         `json:"narrative,omitempty"`
}

// Summarize computes a SessionSummary over records (oldest first).
func Summarize(records []TremorRecord) SessionSummary {
	summary := SessionSummary{
		TypeCounts:     map[string]int{},
		CategoryCounts: map[string]int{},
	}
	var severitySum, freqSum float64
	inEpisode := false
	for _, r := range records {
		summary.Records++
		if summary.SessionID == "" {
			summary.SessionID = r.SessionID
		}
		if r.InEpisode && !inEpisode {
			summary.Episodes++
		}
		inEpisode = r.InEpisode
		if r.EpisodeDurationSeconds > summary.LongestEpisodeSec {
			summary.LongestEpisodeSec = r.EpisodeDurationSeconds
		}
		if !r.IsTremor {
			continue
		}
		summary.TremorRecords++
		severitySum += r.Severity
		freqSum += r.DominantFrequencyHz
		if r.Severity > summary.MaxSeverity {
			summary.MaxSeverity = r.Severity
		}
		summary.TypeCounts[r.TremorType]++
		summary.CategoryCounts[r.SeverityCategory]++
	}
	if summary.TremorRecords > 0 {
		summary.MeanSeverity = severitySum / float64(summary.TremorRecords)
		summary.MeanFrequencyHz = freqSum / float64(summary.TremorRecords)
	}
	return summary
}
