package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// failingStore records Set calls and fails when fail is set.
type failingStore struct {
	*MemoryStore
	mu    sync.Mutex
	fail  bool
	order []string
}

func (f *failingStore) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	fail := f.fail
	f.order = append(f.order, string(value))
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func TestWriterLastWriteWins(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	w := NewWriter(store, nil)
	defer w.Close()

	for i := 0; i < 100; i++ {
		w.Enqueue("k", []byte(fmt.Sprintf("%d", i)))
	}
	require.NoError(t, w.Flush(context.Background()))

	got, ok, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "99", string(got))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.order, 100)
	for i, v := range store.order {
		assert.Equal(t, fmt.Sprintf("%d", i), v, "writes must apply in enqueue order")
	}
}

func TestWriterLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	store := &failingStore{MemoryStore: NewMemoryStore(), fail: true}
	w := NewWriter(store, zap.New(core))
	defer w.Close()

	w.Enqueue("k", []byte("1"))
	require.NoError(t, w.Flush(context.Background()))

	assert.Equal(t, 1, logs.FilterMessage("persisting state failed").Len())
	_, ok, _ := store.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestWriterCloseDrains(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, nil)

	w.Enqueue("k", []byte("1"))
	require.NoError(t, w.Close())

	got, ok, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", string(got))

	// Writes after close are dropped, not panics.
	w.Enqueue("k", []byte("2"))
	assert.NoError(t, w.Flush(context.Background()))
	assert.NoError(t, w.Close())
}
