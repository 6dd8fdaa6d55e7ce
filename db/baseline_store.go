package db

import (
	"context"
	"log/slog"
	"sync"

	"tremorwatch/models"
)

// BaselineBackend is anything that can persist a baseline snapshot.
type BaselineBackend interface {
	SaveBaseline(snapshot models.BaselineSnapshot) error
	LoadBaseline() (models.BaselineSnapshot, bool, error)
}

// BaselineStore layers an optional cache over the database. Loads prefer
// the cache; saves go to both.
type BaselineStore struct {
	primary BaselineBackend
	cache   BaselineBackend
	logger  *slog.Logger
}

func NewBaselineStore(primary, cache BaselineBackend, logger *slog.Logger) *BaselineStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BaselineStore{primary: primary, cache: cache, logger: logger}
}

func (s *BaselineStore) SaveBaseline(snapshot models.BaselineSnapshot) error {
	if s.cache != nil {
		if err := s.cache.SaveBaseline(snapshot); err != nil {
			s.logger.WarnContext(context.Background(), "baseline cache write failed", slog.Any("error", err))
		}
	}
	return s.primary.SaveBaseline(snapshot)
}

func (s *BaselineStore) LoadBaseline() (models.BaselineSnapshot, bool, error) {
	if s.cache != nil {
		snapshot, ok, err := s.cache.LoadBaseline()
		if err != nil {
			s.logger.WarnContext(context.Background(), "baseline cache read failed", slog.Any("error", err))
		} else if ok {
			return snapshot, true, nil
		}
	}
	return s.primary.LoadBaseline()
}

// AsyncBaselineWriter hands snapshots to a background goroutine so the
// analysis path never waits on storage. When the writer is busy only the
// newest pending snapshot is kept.
type AsyncBaselineWriter struct {
	backend BaselineBackend
	logger  *slog.Logger
	pending chan models.BaselineSnapshot
	wg      sync.WaitGroup
	once    sync.Once

	mu     sync.Mutex
	closed bool
}

func NewAsyncBaselineWriter(backend BaselineBackend, logger *slog.Logger) *AsyncBaselineWriter {
	if logger == nil {
		logger = slog.Default()
	}
	w := &AsyncBaselineWriter{
		backend: backend,
		logger:  logger,
		pending: make(chan models.BaselineSnapshot, 1),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// SaveBaseline queues a snapshot without blocking. Snapshots arriving after
// Close are dropped.
func (w *AsyncBaselineWriter) SaveBaseline(snapshot models.BaselineSnapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.logger.WarnContext(context.Background(), "baseline writer closed, dropping snapshot")
		return
	}
	for {
		select {
		case w.pending <- snapshot:
			return
		default:
		}
		// drop the stale pending snapshot and retry
		select {
		case <-w.pending:
		default:
		}
	}
}

func (w *AsyncBaselineWriter) run() {
	defer w.wg.Done()
	for snapshot := range w.pending {
		if err := w.backend.SaveBaseline(snapshot); err != nil {
			w.logger.ErrorContext(context.Background(), "failed to persist baseline", slog.Any("error", err))
		}
	}
}

// Close drains the queue and stops the writer.
func (w *AsyncBaselineWriter) Close() {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.pending)
		w.mu.Unlock()
		w.wg.Wait()
	})
}
