package records

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tremorwatch/models"
	"tremorwatch/utils"
)

// JSONStore appends records to a JSON-lines export file.
type JSONStore struct {
	path string
	mu   sync.RWMutex
}

func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// StoreRecords appends one JSON document per record.
func (s *JSONStore) StoreRecords(records []models.TremorRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if dir != "." && dir != "" {
		if err := utils.CreateFolder(dir); err != nil {
			return fmt.Errorf("error creating directory: %w", err)
		}
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("error opening export file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("error marshaling record %s: %w", r.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("error writing export file: %w", err)
	}
	return nil
}

// LoadRecords reads every exported record; a missing file yields none.
func (s *JSONStore) LoadRecords() ([]models.TremorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return []models.TremorRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading export file: %w", err)
	}
	defer file.Close()

	records := []models.TremorRecord{}
	dec := json.NewDecoder(bufio.NewReader(file))
	for dec.More() {
		var r models.TremorRecord
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("error unmarshaling record: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}
