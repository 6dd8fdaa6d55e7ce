package tremor

import (
	"math"
	"math/rand"

	"tremorwatch/models"
)

const standardGravity = 9.80665

// SyntheticSignal describes a reproducible wrist-motion recording. The gyro
// oscillation rides on a constant offset on the x axis so the magnitude
// carries the oscillation at its own frequency.
type SyntheticSignal struct {
	SampleRateHz    float64 `json:"sampleRateHz"`
	DurationSeconds float64 `json:"durationSeconds"`

	FrequencyHz float64 `json:"frequencyHz"`
	Amplitude   float64 `json:"amplitude"`
	Offset      float64 `json:"offset"`
	GyroNoise   float64 `json:"gyroNoise"`

	AccelNoise           float64 `json:"accelNoise"`
	AccelMotionAmplitude float64 `json:"accelMotionAmplitude"`
	AccelMotionHz        float64 `json:"accelMotionHz"`

	Seed        int64 `json:"seed"`
	StartNs     int64 `json:"startNs"`
	StartWallMs int64 `json:"startWallMs"`
}

// RestingTremorSignal is a 4.8 Hz, 0.4 rad/s tremor on a still forearm.
func RestingTremorSignal() SyntheticSignal {
	return SyntheticSignal{
		SampleRateHz:    50,
		DurationSeconds: 5,
		FrequencyHz:     4.8,
		Amplitude:       0.4,
		Offset:          0.6,
		AccelNoise:      0.01,
		Seed:            1,
	}
}

// Generate returns gyroscope and accelerometer samples interleaved per tick,
// accelerometer first.
func (s SyntheticSignal) Generate() []models.MotionSample {
	if s.SampleRateHz <= 0 || s.DurationSeconds <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(s.Seed))
	count := int(math.Round(s.SampleRateHz * s.DurationSeconds))
	periodNs := int64(math.Round(1e9 / s.SampleRateHz))
	samples := make([]models.MotionSample, 0, 2*count)

	for i := 0; i < count; i++ {
		t := float64(i) / s.SampleRateHz
		ts := s.StartNs + int64(i)*periodNs
		var wall int64
		if s.StartWallMs > 0 {
			wall = s.StartWallMs + ts/1e6 - s.StartNs/1e6
		}

		samples = append(samples, models.MotionSample{
			Sensor:      models.SensorAccelerometer,
			TimestampNs: ts,
			WallClockMs: wall,
			X:           s.AccelNoise * rng.NormFloat64(),
			Y:           s.AccelNoise * rng.NormFloat64(),
			Z:           standardGravity + s.AccelMotionAmplitude*math.Sin(2*math.Pi*s.AccelMotionHz*t) + s.AccelNoise*rng.NormFloat64(),
		})
		samples = append(samples, models.MotionSample{
			Sensor:      models.SensorGyroscope,
			TimestampNs: ts,
			WallClockMs: wall,
			X:           s.Offset + s.Amplitude*math.Sin(2*math.Pi*s.FrequencyHz*t) + s.GyroNoise*rng.NormFloat64(),
		})
	}
	return samples
}
