package kv

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	writerQueueSize = 64
	writeTimeout    = 10 * time.Second
)

type writeJob struct {
	key     string
	value   []byte
	flushed chan struct{} // non-nil marks a flush barrier
}

// Writer serializes writes to a Store through a single goroutine so that the
// last enqueued mutation is always the last one applied. Enqueue never
// reports storage errors; they are logged and the write is dropped.
type Writer struct {
	store Store
	log   *zap.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan writeJob
	done   chan struct{}
}

// NewWriter starts the writer goroutine for store.
func NewWriter(store Store, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Writer{
		store: store,
		log:   log,
		jobs:  make(chan writeJob, writerQueueSize),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for job := range w.jobs {
		if job.flushed != nil {
			close(job.flushed)
			continue
		}
		w.apply(job)
	}
}

func (w *Writer) apply(job writeJob) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := w.store.Set(ctx, job.key, job.value); err != nil {
		w.log.Error("persisting state failed", zap.String("key", job.key), zap.Error(err))
	}
}

// Enqueue schedules value to be stored under key.
func (w *Writer) Enqueue(key string, value []byte) {
	w.send(writeJob{key: key, value: cloneBytes(value)})
}

func (w *Writer) send(job writeJob) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.log.Warn("dropping write after close", zap.String("key", job.key))
		return
	}
	w.jobs <- job
}

// Flush blocks until every write enqueued before the call has been applied,
// or ctx is done.
func (w *Writer) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil
	}
	select {
	case w.jobs <- writeJob{flushed: barrier}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close applies pending writes and stops the writer. It does not close the
// underlying store.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return nil
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()

	<-w.done
	return nil
}
