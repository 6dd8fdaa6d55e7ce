package db

import (
	"fmt"

	"tremorwatch/models"
	"tremorwatch/utils"
)

// DBClient persists tremor records and baseline snapshots.
type DBClient interface {
	Close() error
	SaveBaseline(snapshot models.BaselineSnapshot) error
	LoadBaseline() (models.BaselineSnapshot, bool, error)
	StoreRecords(records []models.TremorRecord) error
	GetRecentRecords(limit int) ([]models.TremorRecord, error)
	GetSessionRecords(sessionID string) ([]models.TremorRecord, error)
	CountRecords() (int, error)
}

// NewDBClient builds the client selected by DB_TYPE (sqlite or mongo).
func NewDBClient() (DBClient, error) {
	switch dbType := utils.GetEnv("DB_TYPE", "sqlite"); dbType {
	case "mongo":
		uri := utils.GetEnv("MONGO_URI", "mongodb://localhost:27017")
		return NewMongoClient(uri, utils.GetEnv("MONGO_DB", "tremorwatch"))
	case "sqlite":
		return NewSQLiteClient(utils.GetEnv("SQLITE_PATH", "db/tremor.sqlite3"))
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}
