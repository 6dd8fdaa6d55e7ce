package db

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tremorwatch/models"
)

type memoryBackend struct {
	mu       sync.Mutex
	snapshot *models.BaselineSnapshot
	saves    int
	failLoad bool
}

func (m *memoryBackend) SaveBaseline(snapshot models.BaselineSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = &snapshot
	m.saves++
	return nil
}

func (m *memoryBackend) LoadBaseline() (models.BaselineSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoad {
		return models.BaselineSnapshot{}, false, errors.New("unavailable")
	}
	if m.snapshot == nil {
		return models.BaselineSnapshot{}, false, nil
	}
	return *m.snapshot, true, nil
}

func (m *memoryBackend) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func TestBaselineStorePrefersCache(t *testing.T) {
	primary, cache := &memoryBackend{}, &memoryBackend{}
	store := NewBaselineStore(primary, cache, nil)

	_, ok, err := store.LoadBaseline()
	require.NoError(t, err)
	require.False(t, ok)

	snap := models.BaselineSnapshot{Resting: models.BaselineStatsRecord{SampleCount: 7}}
	require.NoError(t, store.SaveBaseline(snap))
	require.Equal(t, 1, primary.count())
	require.Equal(t, 1, cache.count())

	primary.snapshot.Resting.SampleCount = 99
	loaded, ok, err := store.LoadBaseline()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), loaded.Resting.SampleCount)

	// a broken cache falls through to the database
	cache.failLoad = true
	loaded, ok, err = store.LoadBaseline()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(99), loaded.Resting.SampleCount)
}

func TestBaselineStoreWithoutCache(t *testing.T) {
	primary := &memoryBackend{}
	store := NewBaselineStore(primary, nil, nil)
	require.NoError(t, store.SaveBaseline(models.BaselineSnapshot{SavedAt: time.Unix(1, 0)}))
	_, ok, err := store.LoadBaseline()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAsyncBaselineWriterKeepsNewest(t *testing.T) {
	backend := &memoryBackend{}
	writer := NewAsyncBaselineWriter(backend, nil)
	for i := int64(1); i <= 100; i++ {
		writer.SaveBaseline(models.BaselineSnapshot{Resting: models.BaselineStatsRecord{SampleCount: i}})
	}
	writer.Close()
	writer.Close()

	loaded, ok, err := backend.LoadBaseline()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(100), loaded.Resting.SampleCount)
	require.GreaterOrEqual(t, backend.count(), 1)
	require.LessOrEqual(t, backend.count(), 100)
}

func TestAsyncBaselineWriterDropsSnapshotsAfterClose(t *testing.T) {
	backend := &memoryBackend{}
	writer := NewAsyncBaselineWriter(backend, nil)
	writer.SaveBaseline(models.BaselineSnapshot{Resting: models.BaselineStatsRecord{SampleCount: 7}})
	writer.Close()

	require.NotPanics(t, func() {
		writer.SaveBaseline(models.BaselineSnapshot{Resting: models.BaselineStatsRecord{SampleCount: 8}})
	})
	loaded, ok, err := backend.LoadBaseline()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), loaded.Resting.SampleCount)
}
