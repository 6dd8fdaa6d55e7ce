package records

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tremorwatch/models"
)

type collectingSink struct {
	mu      sync.Mutex
	batches [][]models.TremorRecord
}

func (c *collectingSink) StoreRecords(records []models.TremorRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, records)
	return nil
}

func (c *collectingSink) snapshot() [][]models.TremorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]models.TremorRecord(nil), c.batches...)
}

func record(i int) models.TremorRecord {
	return models.TremorRecord{ID: fmt.Sprintf("rec-%03d", i), SessionID: "s", TimestampNs: int64(i)}
}

func TestBatcherFlushesBySize(t *testing.T) {
	sink := &collectingSink{}
	b := NewBatcher(5, time.Hour, nil, sink)
	for i := 0; i < 12; i++ {
		require.True(t, b.Add(record(i)))
	}
	b.Close()
	require.False(t, b.Add(record(99)))

	batches := sink.snapshot()
	require.Len(t, batches, 3)
	require.Len(t, batches[0], 5)
	require.Len(t, batches[1], 5)
	require.Len(t, batches[2], 2)
	require.Equal(t, "rec-000", batches[0][0].ID)
	require.Equal(t, "rec-011", batches[2][1].ID)
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	sink := &collectingSink{}
	b := NewBatcher(100, 20*time.Millisecond, nil, sink)
	defer b.Close()
	b.Add(record(1))
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestBatcherKeepsWritingAfterSinkError(t *testing.T) {
	good := &collectingSink{}
	failing := SinkFunc(func([]models.TremorRecord) error { return errors.New("offline") })
	b := NewBatcher(2, time.Hour, nil, failing, good)
	for i := 0; i < 4; i++ {
		b.Add(record(i))
	}
	b.Close()
	b.Close()
	require.Len(t, good.snapshot(), 2)
}

func TestJSONStoreAppends(t *testing.T) {
	store := NewJSONStore(filepath.Join(t.TempDir(), "export", "records.jsonl"))

	loaded, err := store.LoadRecords()
	require.NoError(t, err)
	require.Empty(t, loaded)

	require.NoError(t, store.StoreRecords([]models.TremorRecord{record(1), record(2)}))
	require.NoError(t, store.StoreRecords([]models.TremorRecord{record(3)}))
	require.NoError(t, store.StoreRecords(nil))

	loaded, err = store.LoadRecords()
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	require.Equal(t, record(3), loaded[2])
}

func TestBatcherAddNeverBlocksOnSlowSink(t *testing.T) {
	release := make(chan struct{})
	var stored sync.Mutex
	total := 0
	slow := SinkFunc(func(batch []models.TremorRecord) error {
		<-release
		stored.Lock()
		total += len(batch)
		stored.Unlock()
		return nil
	})
	b := NewBatcher(1, time.Hour, nil, slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 40; i++ {
			b.Add(record(i))
		}
	}()
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	require.Positive(t, b.Dropped())

	close(release)
	b.Close()
	stored.Lock()
	defer stored.Unlock()
	require.EqualValues(t, 40, int64(total)+b.Dropped())
}
