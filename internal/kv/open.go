package kv

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Dir         string
	SQLitePath  string
	RedisURL    string
	RedisPrefix string
}

// Open constructs the store named by opts.Backend.
func Open(ctx context.Context, opts Options, log *zap.Logger) (Store, error) {
	switch opts.Backend {
	case BackendFile, "":
		return NewFileStore(opts.Dir, log)
	case BackendSQLite:
		return NewSQLiteStore(opts.SQLitePath)
	case BackendRedis:
		return NewRedisStore(ctx, opts.RedisURL, opts.RedisPrefix, log)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want %s, %s, %s, or %s)",
			opts.Backend, BackendFile, BackendSQLite, BackendRedis, BackendMemory)
	}
}
