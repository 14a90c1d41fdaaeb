package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/extmgr-labs/extmgr/internal/platform"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const fileExt = ".json"

// FileStore keeps one JSON file per key in a directory. Writes from other
// processes are picked up through fsnotify and reported to Watch subscribers
// alongside this process's own changes.
type FileStore struct {
	dir string
	log *zap.Logger

	mu     sync.Mutex
	seen   map[string][]byte // last value observed per key
	closed bool

	hub       *hub
	watchOnce sync.Once
	watchErr  error
	watcher   *fsnotify.Watcher
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, log *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, platform.DirPermSecure); err != nil {
		return nil, fmt.Errorf("creating storage directory %s: %w", dir, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStore{
		dir:  dir,
		log:  log,
		seen: make(map[string][]byte),
		hub:  newHub(),
	}, nil
}

// Dir returns the directory backing the store.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+fileExt)
}

// keyFromPath reverses path. Temp files and foreign files yield ok=false.
func keyFromPath(p string) (string, bool) {
	base := filepath.Base(p)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, fileExt) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(base, fileExt))
	if err != nil {
		return "", false
	}
	return key, true
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", key, err)
	}
	s.seen[key] = cloneBytes(data)
	return data, true, nil
}

func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	old, existed := s.readLocked(key)
	// Record the new value before the rename so the fsnotify echo of our own
	// write compares equal and is skipped.
	s.seen[key] = cloneBytes(value)
	if err := platform.WriteFileAtomic(s.path(key), value, platform.FilePermSecure); err != nil {
		if existed {
			s.seen[key] = old
		} else {
			delete(s.seen, key)
		}
		s.mu.Unlock()
		return fmt.Errorf("writing %s: %w", key, err)
	}
	s.mu.Unlock()

	if existed && bytes.Equal(old, value) {
		return nil
	}
	s.hub.publish(Change{Key: key, OldValue: old, NewValue: cloneBytes(value)})
	return nil
}

func (s *FileStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	old, existed := s.readLocked(key)
	delete(s.seen, key)
	err := os.Remove(s.path(key))
	s.mu.Unlock()

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", key, err)
	}
	if existed {
		s.hub.publish(Change{Key: key, OldValue: old})
	}
	return nil
}

// readLocked returns the current on-disk value. Callers hold s.mu.
func (s *FileStore) readLocked(key string) ([]byte, bool) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Watch subscribes to changes. The directory watcher starts on first use.
func (s *FileStore) Watch(ctx context.Context) (<-chan Change, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	s.watchOnce.Do(func() {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			s.watchErr = fmt.Errorf("creating file watcher: %w", err)
			return
		}
		if err := w.Add(s.dir); err != nil {
			w.Close()
			s.watchErr = fmt.Errorf("watching %s: %w", s.dir, err)
			return
		}
		s.mu.Lock()
		s.watcher = w
		s.mu.Unlock()
		go s.watchLoop(w)
	})
	if s.watchErr != nil {
		return nil, s.watchErr
	}
	return s.hub.subscribe(ctx)
}

func (s *FileStore) watchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			key, ok := keyFromPath(ev.Name)
			if !ok {
				continue
			}
			if c, changed := s.observe(key); changed {
				s.hub.publish(c)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Warn("file watcher error", zap.String("dir", s.dir), zap.Error(err))
		}
	}
}

// observe compares the on-disk value of key with the last value seen and
// reports a Change when they differ.
func (s *FileStore) observe(key string) (Change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Change{}, false
	}

	prev, hadPrev := s.seen[key]
	cur, exists := s.readLocked(key)
	switch {
	case !exists && !hadPrev:
		return Change{}, false
	case !exists:
		delete(s.seen, key)
		return Change{Key: key, OldValue: prev}, true
	case hadPrev && bytes.Equal(prev, cur):
		return Change{}, false
	default:
		s.seen[key] = cloneBytes(cur)
		return Change{Key: key, OldValue: prev, NewValue: cur}, true
	}
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	w := s.watcher
	s.mu.Unlock()

	s.hub.close()
	if w != nil {
		return w.Close()
	}
	return nil
}
