package kv

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("kv: store closed")

// Change describes one altered key. A nil NewValue means the key was removed;
// a nil OldValue means it did not exist before.
type Change struct {
	Key      string `json:"key"`
	OldValue []byte `json:"old_value,omitempty"`
	NewValue []byte `json:"new_value,omitempty"`
}

// Store is a durable key-value map with change notification.
type Store interface {
	// Get returns the value stored under key. ok is false when absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value under key.
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Watch delivers a Change for each altered key until ctx is done or the
	// store is closed, at which point the channel is closed.
	Watch(ctx context.Context) (<-chan Change, error)
	// Close releases resources and closes every Watch channel.
	Close() error
}

const watchBuffer = 64

// hub fans changes out to in-process subscribers. Publishing never blocks:
// once a subscriber's channel is full, further changes queue per key and
// collapse into one, so the latest value of every key is always delivered.
type hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	done   chan struct{}
}

func newHub() *hub {
	return &hub{
		subs: make(map[*subscriber]struct{}),
		done: make(chan struct{}),
	}
}

func (h *hub) subscribe(ctx context.Context) (<-chan Change, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	sub := &subscriber{
		out:   make(chan Change, watchBuffer),
		index: make(map[string]int),
		wake:  make(chan struct{}, 1),
	}
	h.subs[sub] = struct{}{}
	go h.pump(ctx, sub)
	return sub.out, nil
}

// pump moves queued changes into sub.out and closes it once ctx is done or
// the hub closes. It is the only goroutine that closes sub.out.
func (h *hub) pump(ctx context.Context, sub *subscriber) {
	defer func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		sub.shutdown()
	}()

	for {
		c, ok := sub.next()
		if !ok {
			select {
			case <-sub.wake:
				continue
			case <-ctx.Done():
				return
			case <-h.done:
				return
			}
		}
		select {
		case sub.out <- c:
			sub.sent()
		case <-ctx.Done():
			return
		case <-h.done:
			return
		}
	}
}

func (h *hub) publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.push(c)
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}

type subscriber struct {
	out  chan Change
	wake chan struct{}

	mu       sync.Mutex
	pending  []Change
	index    map[string]int // key -> position in pending
	inflight bool
	closed   bool
}

// push delivers c directly when nothing is queued ahead of it, and queues it
// otherwise. A queued change for the same key absorbs c, keeping the oldest
// OldValue and the newest NewValue.
func (s *subscriber) push(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.pending) == 0 && !s.inflight {
		select {
		case s.out <- c:
			return
		default:
		}
	}
	if i, ok := s.index[c.Key]; ok {
		s.pending[i].NewValue = c.NewValue
	} else {
		s.index[c.Key] = len(s.pending)
		s.pending = append(s.pending, c)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next takes the oldest queued change and marks it in flight.
func (s *subscriber) next() (Change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return Change{}, false
	}
	c := s.pending[0]
	s.pending = s.pending[1:]
	delete(s.index, c.Key)
	for key, i := range s.index {
		s.index[key] = i - 1
	}
	s.inflight = true
	return c, true
}

func (s *subscriber) sent() {
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}

func (s *subscriber) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = nil
	s.index = nil
	close(s.out)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
