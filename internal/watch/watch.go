package watch

import (
	"context"
	"fmt"

	"github.com/extmgr-labs/extmgr/internal/extension"
	"github.com/extmgr-labs/extmgr/internal/kv"
	"github.com/extmgr-labs/extmgr/internal/tags"
	"go.uber.org/zap"
)

// TagReloader re-reads the persisted tag snapshot.
type TagReloader interface {
	Reload(ctx context.Context) error
}

// ExtensionLoader re-syncs the extension list.
type ExtensionLoader interface {
	Load(ctx context.Context) error
}

// Syncer routes change notifications to the owning store.
type Syncer struct {
	store kv.Store
	tags  TagReloader
	exts  ExtensionLoader
	log   *zap.Logger

	onSync func(key string)
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithOnSync registers fn to run after each successful reload with the key
// that triggered it.
func WithOnSync(fn func(key string)) Option {
	return func(s *Syncer) { s.onSync = fn }
}

// New returns a Syncer. Either reloader may be nil to ignore its key.
func New(store kv.Store, t TagReloader, e ExtensionLoader, log *zap.Logger, opts ...Option) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Syncer{store: store, tags: t, exts: e, log: log.Named("watch")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run subscribes to changes and reloads until ctx is done or the store
// closes. Reload failures are logged and do not stop the loop.
func (s *Syncer) Run(ctx context.Context) error {
	changes, err := s.store.Watch(ctx)
	if err != nil {
		return fmt.Errorf("subscribing to changes: %w", err)
	}
	s.log.Debug("watching for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return kv.ErrClosed
			}
			s.handle(ctx, c)
		}
	}
}

func (s *Syncer) handle(ctx context.Context, c kv.Change) {
	var err error
	switch {
	case c.Key == tags.StorageKey && s.tags != nil:
		err = s.tags.Reload(ctx)
	case c.Key == extension.StorageKey && s.exts != nil:
		err = s.exts.Load(ctx)
	default:
		return
	}
	if err != nil {
		s.log.Error("reloading after change failed", zap.String("key", c.Key), zap.Error(err))
		return
	}
	s.log.Debug("reloaded after change", zap.String("key", c.Key))
	if s.onSync != nil {
		s.onSync(c.Key)
	}
}
