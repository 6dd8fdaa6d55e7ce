package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration

	"tremorwatch/models"
	"tremorwatch/utils"
)

type SQLiteClient struct {
	db *sql.DB
}

func NewSQLiteClient(dataSourceName string) (*SQLiteClient, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	// Add busy timeout param to DSN (milliseconds)
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return &SQLiteClient{db: db}, nil
}

// createTables creates the required tables if they don't exist
func createTables(db *sql.DB) error {
	createBaselineTable := `
    CREATE TABLE IF NOT EXISTS baseline (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        resting_magnitude REAL NOT NULL,
        resting_band_ratio REAL NOT NULL,
        resting_total_power REAL NOT NULL,
        resting_variance REAL NOT NULL,
        resting_samples INTEGER NOT NULL,
        active_magnitude REAL NOT NULL,
        active_band_ratio REAL NOT NULL,
        active_total_power REAL NOT NULL,
        active_variance REAL NOT NULL,
        active_samples INTEGER NOT NULL,
        calibration_complete INTEGER NOT NULL DEFAULT 0,
        calibration_at DATETIME,
        saved_at DATETIME NOT NULL
    );
    `

	createRecordsTable := `
    CREATE TABLE IF NOT EXISTS tremor_records (
        id TEXT PRIMARY KEY,
        session_id TEXT NOT NULL,
        timestamp_ns INTEGER NOT NULL,
        wall_clock DATETIME NOT NULL,
        is_tremor INTEGER NOT NULL DEFAULT 0,
        confidence REAL NOT NULL DEFAULT 0,
        dominant_frequency REAL NOT NULL DEFAULT 0,
        severity REAL NOT NULL DEFAULT 0,
        severity_category TEXT,
        tremor_type TEXT,
        payload TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_records_session ON tremor_records(session_id, timestamp_ns);
    CREATE INDEX IF NOT EXISTS idx_records_wall_clock ON tremor_records(wall_clock);
    `

	if _, err := db.Exec(createBaselineTable); err != nil {
		return fmt.Errorf("error creating baseline table: %w", err)
	}
	if _, err := db.Exec(createRecordsTable); err != nil {
		return fmt.Errorf("error creating tremor_records table: %w", err)
	}
	return nil
}

func (db *SQLiteClient) Close() error {
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

// SaveBaseline replaces the single stored baseline row.
func (db *SQLiteClient) SaveBaseline(snapshot models.BaselineSnapshot) error {
	var calibrationAt *time.Time
	if !snapshot.CalibrationAt.IsZero() {
		at := snapshot.CalibrationAt.UTC()
		calibrationAt = &at
	}
	calibrated := 0
	if snapshot.CalibrationComplete {
		calibrated = 1
	}
	savedAt := snapshot.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}

	r, a := snapshot.Resting, snapshot.Active
	_, err := db.db.Exec(`
		INSERT OR REPLACE INTO baseline (
			id, resting_magnitude, resting_band_ratio, resting_total_power, resting_variance, resting_samples,
			active_magnitude, active_band_ratio, active_total_power, active_variance, active_samples,
			calibration_complete, calibration_at, saved_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Magnitude, r.BandRatio, r.TotalPower, r.MagnitudeVariance, r.SampleCount,
		a.Magnitude, a.BandRatio, a.TotalPower, a.MagnitudeVariance, a.SampleCount,
		calibrated, calibrationAt, savedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error storing baseline: %w", err)
	}
	return nil
}

// LoadBaseline returns the stored baseline; ok is false when none exists.
func (db *SQLiteClient) LoadBaseline() (models.BaselineSnapshot, bool, error) {
	row := db.db.QueryRow(`
		SELECT resting_magnitude, resting_band_ratio, resting_total_power, resting_variance, resting_samples,
		       active_magnitude, active_band_ratio, active_total_power, active_variance, active_samples,
		       calibration_complete, calibration_at, saved_at
		FROM baseline WHERE id = 1`)

	var s models.BaselineSnapshot
	var calibrated int
	var calibrationAt sql.NullTime
	err := row.Scan(
		&s.Resting.Magnitude, &s.Resting.BandRatio, &s.Resting.TotalPower, &s.Resting.MagnitudeVariance, &s.Resting.SampleCount,
		&s.Active.Magnitude, &s.Active.BandRatio, &s.Active.TotalPower, &s.Active.MagnitudeVariance, &s.Active.SampleCount,
		&calibrated, &calibrationAt, &s.SavedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.BaselineSnapshot{}, false, nil
		}
		return models.BaselineSnapshot{}, false, fmt.Errorf("failed to retrieve baseline: %w", err)
	}
	s.CalibrationComplete = calibrated == 1
	if calibrationAt.Valid {
		s.CalibrationAt = calibrationAt.Time
	}
	return s, true, nil
}

// StoreRecords inserts a batch of records in one transaction.
func (db *SQLiteClient) StoreRecords(records []models.TremorRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := db.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO tremor_records (
			id, session_id, timestamp_ns, wall_clock, is_tremor, confidence,
			dominant_frequency, severity, severity_category, tremor_type, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("error preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("error marshaling record %s: %w", r.ID, err)
		}
		isTremor := 0
		if r.IsTremor {
			isTremor = 1
		}
		if _, err := stmt.Exec(
			r.ID, r.SessionID, r.TimestampNs, r.WallClock.UTC(), isTremor, r.Confidence,
			r.DominantFrequencyHz, r.Severity, r.SeverityCategory, r.TremorType, string(payload),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("error executing statement: %w", err)
		}
	}

	return tx.Commit()
}

// GetRecentRecords returns up to limit records, newest first.
func (db *SQLiteClient) GetRecentRecords(limit int) ([]models.TremorRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.db.Query(`
		SELECT payload FROM tremor_records
		ORDER BY wall_clock DESC, timestamp_ns DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying records: %w", err)
	}
	defer rows.Close()
	return scanPayloads(rows)
}

// GetSessionRecords returns every record of a session, oldest first.
func (db *SQLiteClient) GetSessionRecords(sessionID string) ([]models.TremorRecord, error) {
	rows, err := db.db.Query(`
		SELECT payload FROM tremor_records
		WHERE session_id = ?
		ORDER BY timestamp_ns ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("error querying session records: %w", err)
	}
	defer rows.Close()
	return scanPayloads(rows)
}

func (db *SQLiteClient) CountRecords() (int, error) {
	var count int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM tremor_records").Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting records: %w", err)
	}
	return count, nil
}

func scanPayloads(rows *sql.Rows) ([]models.TremorRecord, error) {
	var records []models.TremorRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("error scanning record: %w", err)
		}
		var r models.TremorRecord
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("error unmarshaling record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}
