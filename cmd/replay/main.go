package main

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"tremorwatch/db"
	"tremorwatch/models"
	"tremorwatch/records"
	"tremorwatch/tremor"
	"tremorwatch/utils"
)

type replayOptions struct {
	input      string
	csvOut     string
	jsonOut    string
	configPath string
	store      bool
}

// parseFlags loads .env before reading flag defaults from the environment.
func parseFlags(args []string) (replayOptions, error) {
	_ = godotenv.Load()

	var opts replayOptions
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.StringVar(&opts.input, "in", "", "JSON-lines file of motion samples (empty = synthetic resting tremor)")
	fs.StringVar(&opts.csvOut, "csv", "", "Optional CSV report path")
	fs.StringVar(&opts.jsonOut, "json", "", "Optional JSON-lines record export path")
	fs.StringVar(&opts.configPath, "config", utils.GetEnv("TREMOR_CONFIG_PATH"), "Detection config override file")
	fs.BoolVar(&opts.store, "store", false, "Also write records to the configured database")
	if err := fs.Parse(args); err != nil {
		return replayOptions{}, err
	}
	return opts, nil
}

// Replay a recorded sample stream through the engine offline.
func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	samples, err := loadSamples(opts.input)
	if err != nil {
		log.Fatalf("failed to load samples: %v", err)
	}
	log.Printf("Replaying %d samples\n", len(samples))

	cfg, err := tremor.LoadDetectionConfig(opts.configPath)
	if err != nil {
		log.Fatalf("failed to load detection config: %v", err)
	}
	configs, err := tremor.NewConfigStore(cfg)
	if err != nil {
		log.Fatalf("invalid detection config: %v", err)
	}
	engine := tremor.NewEngine(configs, tremor.NewBaselineTracker(configs, nil), tremor.WithLogger(utils.GetLogger()))

	var out []models.TremorRecord
	rejected := 0
	for _, s := range samples {
		if s.Sensor == models.SensorAccelerometer {
			if !engine.ProcessAccel(s) {
				rejected++
			}
			continue
		}
		record, ok := engine.ProcessGyro(s)
		if !ok {
			rejected++
			continue
		}
		out = append(out, record)
	}

	if opts.csvOut != "" {
		if err := writeCSV(opts.csvOut, out); err != nil {
			log.Fatalf("failed to write CSV: %v", err)
		}
		log.Printf("Wrote CSV report to %s\n", opts.csvOut)
	}
	if opts.jsonOut != "" {
		if err := records.NewJSONStore(opts.jsonOut).StoreRecords(out); err != nil {
			log.Fatalf("failed to export records: %v", err)
		}
		log.Printf("Exported %d records to %s\n", len(out), opts.jsonOut)
	}
	if opts.store {
		client, err := db.NewDBClient()
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer client.Close()
		if err := client.StoreRecords(out); err != nil {
			log.Fatalf("failed to store records: %v", err)
		}
		log.Printf("Stored %d records\n", len(out))
	}

	s := models.Summarize(out)
	fmt.Println("\n=== Replay Summary ===")
	fmt.Printf("Session:            %s\n", engine.SessionID())
	fmt.Printf("Records:            %d (rejected samples: %d)\n", s.Records, rejected)
	fmt.Printf("Tremor records:     %d\n", s.TremorRecords)
	fmt.Printf("Episodes:           %d (longest %.2f s)\n", s.Episodes, s.LongestEpisodeSec)
	fmt.Printf("Mean severity:      %.2f (max %.2f)\n", s.MeanSeverity, s.MaxSeverity)
	fmt.Printf("Mean frequency:     %.2f Hz\n", s.MeanFrequencyHz)
	for t, n := range s.TypeCounts {
		fmt.Printf("   - %s: %d\n", t, n)
	}
}

func loadSamples(path string) ([]models.MotionSample, error) {
	if path == "" {
		return tremor.RestingTremorSignal().Generate(), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var samples []models.MotionSample
	dec := json.NewDecoder(bufio.NewReader(file))
	for dec.More() {
		var s models.MotionSample
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("sample %d: %w", len(samples)+1, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func writeCSV(path string, recs []models.TremorRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	header := []string{"timestamp_ns", "magnitude", "dominant_hz", "band_ratio", "raw_tremor", "tremor",
		"confidence", "in_episode", "episode_s", "resting", "severity", "category", "type"}
	if err := w.Write(header); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	for _, r := range recs {
		row := []string{
			strconv.FormatInt(r.TimestampNs, 10), f(r.Magnitude), f(r.DominantFrequencyHz), f(r.BandRatio),
			strconv.FormatBool(r.RawIsTremor), strconv.FormatBool(r.IsTremor), f(r.Confidence),
			strconv.FormatBool(r.InEpisode), f(r.EpisodeDurationSeconds), strconv.FormatBool(r.IsResting),
			f(r.Severity), r.SeverityCategory, r.TremorType,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
