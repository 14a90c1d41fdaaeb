// Package app constructs exactly one instance of each store per process and
// hands them to the command layer.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/extmgr-labs/extmgr/internal/config"
	"github.com/extmgr-labs/extmgr/internal/extension"
	"github.com/extmgr-labs/extmgr/internal/host"
	"github.com/extmgr-labs/extmgr/internal/kv"
	"github.com/extmgr-labs/extmgr/internal/profile"
	"github.com/extmgr-labs/extmgr/internal/tags"
	"github.com/extmgr-labs/extmgr/internal/watch"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

// App owns the backing store, the write queue, and the stores built on them.
type App struct {
	Settings   config.Settings
	Log        *zap.Logger
	Language   language.Tag
	Store      kv.Store
	Writer     *kv.Writer
	Host       host.Manager
	Opener     host.Opener
	Tags       *tags.Store
	Extensions *extension.Store
	Profiles   *profile.Manager
}

// Option overrides a collaborator New would otherwise build from settings.
type Option func(*App)

// WithStore uses store instead of opening the configured backend.
func WithStore(store kv.Store) Option {
	return func(a *App) { a.Store = store }
}

// WithHost uses h instead of the configured inventory.
func WithHost(h host.Manager) Option {
	return func(a *App) { a.Host = h }
}

// WithOpener uses o instead of the platform URL handler.
func WithOpener(o host.Opener) Option {
	return func(a *App) { a.Opener = o }
}

// New wires the application from settings. Close releases what it opened.
func New(ctx context.Context, settings config.Settings, log *zap.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Settings: settings, Log: log}
	for _, opt := range opts {
		opt(a)
	}

	lang, err := language.Parse(settings.Locale)
	if err != nil {
		log.Warn("unknown locale, using English collation", zap.String("locale", settings.Locale), zap.Error(err))
		lang = language.English
	}
	a.Language = lang

	if a.Store == nil {
		store, err := kv.Open(ctx, kv.Options{
			Backend:     settings.StorageBackend,
			Dir:         settings.StorageDir,
			SQLitePath:  settings.SQLitePath,
			RedisURL:    settings.RedisURL,
			RedisPrefix: settings.RedisPrefix,
		}, log.Named("kv"))
		if err != nil {
			return nil, fmt.Errorf("opening %s storage: %w", settings.StorageBackend, err)
		}
		a.Store = store
	}
	if a.Host == nil {
		a.Host = host.NewInventory(settings.HostInventory)
	}
	if a.Opener == nil {
		a.Opener = host.BrowserOpener{}
	}

	a.Writer = kv.NewWriter(a.Store, log.Named("writer"))
	a.Tags = tags.NewStore(a.Store, a.Writer, log)
	a.Extensions = extension.NewStore(a.Host, a.Store, a.Writer, log,
		extension.WithLanguage(lang),
		extension.WithRollbackOnError(settings.RollbackOnError))
	a.Profiles = profile.NewManager(a.Tags, a.Extensions, log)
	return a, nil
}

// Load brings both stores up to date with storage and the host.
func (a *App) Load(ctx context.Context) error {
	if err := a.Tags.Initialize(ctx); err != nil {
		return err
	}
	return a.Extensions.Load(ctx)
}

// Syncer returns a watcher that reloads this process's stores when another
// surface writes.
func (a *App) Syncer(opts ...watch.Option) *watch.Syncer {
	return watch.New(a.Store, a.Tags, a.Extensions, a.Log, opts...)
}

// Close drains pending writes and closes the backing store.
func (a *App) Close() error {
	a.Writer.Close()
	if err := a.Store.Close(); err != nil && !errors.Is(err, kv.ErrClosed) {
		return fmt.Errorf("closing storage: %w", err)
	}
	return nil
}
