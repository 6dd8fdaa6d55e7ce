package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mdobak/go-xerrors"

	"tremorwatch/db"
	"tremorwatch/models"
	"tremorwatch/records"
	"tremorwatch/summary"
	"tremorwatch/tremor"
)

// monitor is the shared state behind the HTTP, socket and MQTT entry points.
type monitor struct {
	engine   *tremor.Engine
	store    db.DBClient
	batcher  *records.Batcher
	narrator summary.Narrator
	logger   *slog.Logger
	emit     func(event string, payload any)
}

type ingestResult struct {
	SessionID string                `json:"sessionId"`
	Accepted  int                   `json:"accepted"`
	Rejected  int                   `json:"rejected"`
	Records   []models.TremorRecord `json:"records"`
}

func (m *monitor) broadcast(event string, payload any) {
	if m.emit != nil {
		m.emit(event, payload)
	}
}

// ingest runs a batch through the engine in order. Every record is queued
// for storage and broadcast to live clients.
func (m *monitor) ingest(batch models.SampleBatch) ingestResult {
	result := ingestResult{Records: []models.TremorRecord{}}
	for _, sample := range batch.Samples {
		switch sample.Sensor {
		case models.SensorAccelerometer:
			if !m.engine.ProcessAccel(sample) {
				result.Rejected++
				continue
			}
		case models.SensorGyroscope:
			record, ok := m.engine.ProcessGyro(sample)
			if !ok {
				result.Rejected++
				continue
			}
			m.batcher.Add(record)
			m.broadcast("tremorRecord", record)
			result.Records = append(result.Records, record)
		default:
			result.Rejected++
			continue
		}
		result.Accepted++
	}
	result.SessionID = m.engine.SessionID()
	return result
}

// applyConfig parses a full config document and swaps it in.
func (m *monitor) applyConfig(doc []byte) (tremor.DetectionConfig, error) {
	cfg, err := tremor.ParseDetectionConfig(doc)
	if err != nil {
		return tremor.DetectionConfig{}, err
	}
	if err := m.engine.Configs().Swap(cfg); err != nil {
		return tremor.DetectionConfig{}, err
	}
	m.logger.InfoContext(context.Background(), "detection config updated", slog.Int("version", cfg.Version))
	return cfg, nil
}

func (m *monitor) startCalibration() (tremor.CalibrationProgress, error) {
	progress, err := m.engine.Baseline().StartCalibration(m)
	if err != nil {
		return progress, err
	}
	m.logger.InfoContext(context.Background(), "calibration started",
		slog.Int("samplesRequired", progress.SamplesRequired),
		slog.Float64("seconds", progress.SecondsRemaining))
	return progress, nil
}

func (m *monitor) cancelCalibration() (tremor.CalibrationResult, error) {
	return m.engine.Baseline().CancelCalibration()
}

// checkCalibration finishes a session whose time ran out without samples.
func (m *monitor) checkCalibration() {
	if !m.engine.Baseline().CalibrationActive() {
		return
	}
	if _, err := m.engine.Baseline().CheckCalibrationTimeout(); err != nil && !errors.Is(err, tremor.ErrNoCalibration) {
		m.logger.WarnContext(context.Background(), "calibration timeout check failed", slog.Any("error", xerrors.New(err)))
	}
}

func (m *monitor) OnCalibrationProgress(progress tremor.CalibrationProgress) {
	m.broadcast("calibrationProgress", progress)
}

func (m *monitor) OnCalibrationComplete(result tremor.CalibrationResult) {
	m.logger.InfoContext(context.Background(), "calibration complete",
		slog.Bool("success", result.Success),
		slog.Int("samples", result.SamplesCollected),
		slog.String("reason", result.Reason))
	m.broadcast("calibrationComplete", result)
}

// sessionSummary aggregates the stored records of a session. Records still
// buffered in the batcher may be missing.
func (m *monitor) sessionSummary(ctx context.Context, sessionID string) (models.SessionSummary, error) {
	if sessionID == "" {
		sessionID = m.engine.SessionID()
	}
	m.batcher.Flush()

	recs, err := m.store.GetSessionRecords(sessionID)
	if err != nil {
		return models.SessionSummary{}, fmt.Errorf("failed to load session records: %w", err)
	}
	s := models.Summarize(recs)
	s.SessionID = sessionID

	if m.narrator == nil {
		s.Narrative = summary.FallbackNarrative(s)
		return s, nil
	}
	text, err := m.narrator.Narrate(ctx, s)
	if err != nil {
		m.logger.WarnContext(ctx, "summary narration failed", slog.Any("error", xerrors.New(err)))
		text = summary.FallbackNarrative(s)
	}
	s.Narrative = text
	return s, nil
}
