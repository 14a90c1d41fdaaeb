package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps values in Redis under "<prefix>:<key>" and publishes every
// change on "<prefix>:changes", so all processes sharing the server observe
// each other's writes.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    *zap.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL, prefix string, log *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisStore(client, prefix, log), nil
}

func newRedisStore(client *redis.Client, prefix string, log *zap.Logger) *RedisStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: prefix, log: log}
}

func (s *RedisStore) key(key string) string { return s.prefix + ":" + key }

func (s *RedisStore) channel() string { return s.prefix + ":changes" }

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.wrap("reading", key, err)
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	old, err := s.client.GetSet(ctx, s.key(key), value).Bytes()
	existed := err == nil
	if err != nil && !errors.Is(err, redis.Nil) {
		return s.wrap("writing", key, err)
	}
	if existed && string(old) == string(value) {
		return nil
	}
	return s.publish(ctx, Change{Key: key, OldValue: old, NewValue: value})
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	old, err := s.client.GetDel(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return s.wrap("removing", key, err)
	}
	return s.publish(ctx, Change{Key: key, OldValue: old})
}

func (s *RedisStore) publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding change for %s: %w", c.Key, err)
	}
	if err := s.client.Publish(ctx, s.channel(), payload).Err(); err != nil {
		// The value is stored; only the notification was lost.
		s.log.Warn("publishing change failed", zap.String("key", c.Key), zap.Error(err))
	}
	return nil
}

func (s *RedisStore) Watch(ctx context.Context) (<-chan Change, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	ps := s.client.Subscribe(ctx, s.channel())
	s.subs = append(s.subs, ps)
	s.mu.Unlock()

	// Wait for the subscription confirmation so no change published after
	// Watch returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", s.channel(), err)
	}

	out := make(chan Change, watchBuffer)
	msgs := ps.Channel()
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					s.log.Warn("dropping malformed change", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	return s.client.Close()
}

func (s *RedisStore) wrap(op, key string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
