package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"reflect"

	"tremorwatch/models"
	"tremorwatch/tremor"
)

// Check that the pipeline is deterministic: identical input, identical records.
func main() {
	runs := flag.Int("runs", 5, "Number of runs")
	noise := flag.Float64("noise", 0.02, "Gyro noise amplitude")
	seconds := flag.Float64("seconds", 10, "Signal duration")
	flag.Parse()

	signal := tremor.RestingTremorSignal()
	signal.GyroNoise = *noise
	signal.DurationSeconds = *seconds
	samples := signal.Generate()

	var first []models.TremorRecord
	allIdentical := true
	for i := 0; i < *runs; i++ {
		recs, err := run(samples)
		if err != nil {
			log.Fatalf("Run %d failed: %v", i+1, err)
		}
		last := recs[len(recs)-1]
		log.Printf("Run %d: %d records, last severity %.10f, confidence %.10f", i+1, len(recs), last.Severity, last.Confidence)
		if i == 0 {
			first = recs
			continue
		}
		if !reflect.DeepEqual(first, recs) {
			allIdentical = false
			for j := range first {
				if !reflect.DeepEqual(first[j], recs[j]) {
					fmt.Printf("❌ Record %d differs between run 1 and run %d\n", j, i+1)
					break
				}
			}
		}
	}

	fmt.Println("\n=== Determinism Check ===")
	if !allIdentical {
		fmt.Println("❌ Pipeline is NON-DETERMINISTIC")
		os.Exit(1)
	}
	fmt.Println("✅ All runs produced IDENTICAL records")
}

func run(samples []models.MotionSample) ([]models.TremorRecord, error) {
	configs, err := tremor.NewConfigStore(tremor.DefaultDetectionConfig())
	if err != nil {
		return nil, err
	}
	seq := 0
	engine := tremor.NewEngine(configs, tremor.NewBaselineTracker(configs, nil),
		tremor.WithSessionID("determinism"),
		tremor.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("%06d", seq)
		}))

	var recs []models.TremorRecord
	for _, s := range samples {
		if r, ok := engine.Process(s); ok {
			recs = append(recs, r)
		}
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no records produced")
	}
	return recs, nil
}
