package records

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tremorwatch/models"
)

const (
	DefaultBatchSize     = 50
	DefaultFlushInterval = 2 * time.Second
)

// Sink consumes flushed record batches.
type Sink interface {
	StoreRecords(records []models.TremorRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func([]models.TremorRecord) error

func (f SinkFunc) StoreRecords(records []models.TremorRecord) error { return f(records) }

// Batcher buffers records and hands them to every sink once the buffer
// reaches its size or the flush interval elapses. Batches are written by a
// single goroutine, in order.
type Batcher struct {
	sinks    []Sink
	size     int
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	buf     []models.TremorRecord
	closed  bool
	batches chan []models.TremorRecord

	stop    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
}

func NewBatcher(size int, interval time.Duration, logger *slog.Logger, sinks ...Sink) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	b := &Batcher{
		sinks:    sinks,
		size:     size,
		interval: interval,
		logger:   logger,
		buf:      make([]models.TremorRecord, 0, size),
		batches:  make(chan []models.TremorRecord, 16),
		stop:     make(chan struct{}),
	}
	b.wg.Add(2)
	go b.write()
	go b.tick()
	return b
}

// Add queues a record. It reports false once the batcher is closed.
func (b *Batcher) Add(record models.TremorRecord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.buf = append(b.buf, record)
	if len(b.buf) >= b.size {
		b.flushLocked(false)
	}
	return true
}

// Flush hands the buffered records to the writer immediately.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.flushLocked(false)
	}
}

// flushLocked hands the buffer to the writer. Unless wait is set, a batch that
// finds the writer queue full is dropped so ingestion never stalls on storage.
func (b *Batcher) flushLocked(wait bool) {
	if len(b.buf) == 0 {
		return
	}
	batch := b.buf
	b.buf = make([]models.TremorRecord, 0, b.size)
	if wait {
		b.batches <- batch
		return
	}
	select {
	case b.batches <- batch:
	default:
		b.dropped.Add(int64(len(batch)))
		b.logger.WarnContext(context.Background(), "record writer is behind, dropping batch",
			slog.Int("records", len(batch)))
	}
}

// Dropped counts records discarded because the writer queue was full.
func (b *Batcher) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Batcher) tick() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.Flush()
		case <-b.stop:
			return
		}
	}
}

func (b *Batcher) write() {
	defer b.wg.Done()
	for batch := range b.batches {
		for _, sink := range b.sinks {
			if err := sink.StoreRecords(batch); err != nil {
				b.logger.ErrorContext(context.Background(), "failed to store record batch",
					slog.Int("records", len(batch)), slog.Any("error", err))
			}
		}
	}
}

// Close flushes what is buffered, waits for the writer and stops.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.flushLocked(true)
	b.closed = true
	close(b.stop)
	close(b.batches)
	b.mu.Unlock()
	b.wg.Wait()
}
