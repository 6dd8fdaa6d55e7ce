package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"tremorwatch/models"
	"tremorwatch/tremor"
)

type ingestResponse struct {
	SessionID string                `json:"sessionId"`
	Accepted  int                   `json:"accepted"`
	Rejected  int                   `json:"rejected"`
	Records   []models.TremorRecord `json:"records"`
}

// Simulated wearable streaming synthetic wrist motion to the server.
func main() {
	endpoint := flag.String("url", "http://localhost:5000/api/samples", "Sample ingestion endpoint")
	broker := flag.String("mqtt", "", "Publish to this MQTT broker instead of HTTP (e.g. tcp://localhost:1883)")
	prefix := flag.String("prefix", "tremor", "MQTT topic prefix")
	freq := flag.Float64("freq", 4.8, "Tremor frequency (Hz, 0 = none)")
	amplitude := flag.Float64("amp", 0.4, "Tremor amplitude (rad/s)")
	seconds := flag.Float64("seconds", 20, "Stream duration")
	batchSeconds := flag.Float64("batch", 0.5, "Seconds of samples per batch")
	moving := flag.Bool("moving", false, "Add gross arm movement to the accelerometer")
	realtime := flag.Bool("realtime", true, "Pace batches in real time")
	flag.Parse()

	signal := tremor.RestingTremorSignal()
	signal.FrequencyHz = *freq
	signal.Amplitude = *amplitude
	signal.DurationSeconds = *seconds
	signal.GyroNoise = 0.02
	signal.StartWallMs = time.Now().UnixMilli()
	if *moving {
		signal.AccelMotionAmplitude = 1.5
		signal.AccelMotionHz = 1
	}
	samples := signal.Generate()

	// two samples per tick: accelerometer and gyroscope
	perBatch := int(*batchSeconds*signal.SampleRateHz) * 2
	if perBatch < 2 {
		perBatch = 2
	}

	var publish func(models.SampleBatch) error
	if *broker != "" {
		client := mqtt.NewClient(mqtt.NewClientOptions().AddBroker(*broker).SetClientID("mock-wearable"))
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Fatalf("MQTT connect error: %v", token.Error())
		}
		defer client.Disconnect(250)
		topic := *prefix + "/samples"
		publish = func(batch models.SampleBatch) error {
			payload, err := json.Marshal(batch)
			if err != nil {
				return err
			}
			token := client.Publish(topic, 0, false, payload)
			token.Wait()
			return token.Error()
		}
		fmt.Printf("Publishing %d samples to %s on %s\n\n", len(samples), topic, *broker)
	} else {
		publish = func(batch models.SampleBatch) error { return postBatch(*endpoint, batch) }
		fmt.Printf("Posting %d samples to %s\n\n", len(samples), *endpoint)
	}

	for start := 0; start < len(samples); start += perBatch {
		end := start + perBatch
		if end > len(samples) {
			end = len(samples)
		}
		if err := publish(models.SampleBatch{Samples: samples[start:end]}); err != nil {
			log.Printf("batch %d failed: %v\n", start/perBatch, err)
		}
		if *realtime && end < len(samples) {
			time.Sleep(time.Duration(*batchSeconds * float64(time.Second)))
		}
	}
}

func postBatch(endpoint string, batch models.SampleBatch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post samples: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var result ingestResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decode ingest response: %w", err)
	}
	if n := len(result.Records); n > 0 {
		last := result.Records[n-1]
		fmt.Printf("   session=%s records=%d tremor=%v conf=%.2f severity=%.2f (%s) type=%s\n",
			result.SessionID, n, last.IsTremor, last.Confidence, last.Severity, last.SeverityCategory, last.TremorType)
	}
	return nil
}
