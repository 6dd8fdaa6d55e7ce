package main

import (
	"flag"
	"fmt"

	"tremorwatch/tremor"
)

// Explain how a set of spectral features is typed and scored.
func main() {
	freq := flag.Float64("freq", 5, "Dominant frequency (Hz)")
	power := flag.Float64("power", 1, "Total gyro power")
	ratio := flag.Float64("ratio", 0.8, "Tremor band ratio")
	conf := flag.Float64("conf", 0.8, "Detection confidence")
	accel := flag.Float64("accel", 0, "Accelerometer deviation")
	amplitude := flag.Float64("amplitude", 0.4, "Tremor amplitude (rad/s)")
	duration := flag.Float64("duration", 3, "Episode duration (s)")
	multiplier := flag.Float64("baseline", 1, "Baseline multiplier")
	flag.Parse()

	c := tremor.Classify(*freq, *power, *ratio, *conf, *accel)
	fmt.Println("=== Classification ===")
	fmt.Printf("Activity level: %s\n", tremor.ActivityFromPower(*power))
	fmt.Printf("Primary:        %s (%.2f)\n", c.Primary, c.Confidence)
	if c.Secondary != "" {
		fmt.Printf("Secondary:      %s\n", c.Secondary)
	}
	fmt.Printf("Reasoning:      %s\n", c.Reasoning)

	b := tremor.ExplainSeverity(*amplitude, *freq, *ratio, *conf, *duration, *multiplier)
	fmt.Println("\n=== Severity ===")
	fmt.Printf("Base:            %.3f\n", b.Base)
	fmt.Printf("Frequency:       x%.3f\n", b.FrequencyWeight)
	fmt.Printf("Quality:         x%.3f\n", b.QualityFactor)
	fmt.Printf("Duration:        x%.3f\n", b.DurationFactor)
	fmt.Printf("Baseline:        x%.3f\n", b.BaselineBoost)
	fmt.Printf("Confidence gate: x%.3f\n", b.ConfidenceGate)
	fmt.Printf("Score:           %.2f (%s)\n", b.Score, b.Category)
}
