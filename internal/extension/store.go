package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/extmgr-labs/extmgr/internal/host"
	"github.com/extmgr-labs/extmgr/internal/kv"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

// StorageKey is the key the persisted extension states live under.
const StorageKey = "extension-manager-extensions"

var (
	// ErrNotFound is returned for ids that are not currently loaded.
	ErrNotFound = errors.New("extension not found")
	// ErrLocked is returned by callers that refuse to toggle a locked extension.
	ErrLocked = errors.New("extension is locked")
)

type persisted struct {
	Extensions []State `json:"extensions"`
}

// Store holds the merged view of host extensions and local lock state.
type Store struct {
	host   host.Manager
	kv     kv.Store
	writer *kv.Writer
	log    *zap.Logger
	lang   language.Tag

	rollback bool

	mu         sync.RWMutex
	records    []Record
	loadSeq    uint64
	appliedSeq uint64
}

// Option configures a Store.
type Option func(*Store)

// WithLanguage sets the collation language used to sort by name.
func WithLanguage(tag language.Tag) Option {
	return func(s *Store) { s.lang = tag }
}

// WithRollbackOnError reverts an optimistic enabled change when the host
// rejects it. Off by default: the optimistic value is kept.
func WithRollbackOnError(on bool) Option {
	return func(s *Store) { s.rollback = on }
}

// NewStore returns an empty store. Call Load to populate it.
func NewStore(h host.Manager, store kv.Store, w *kv.Writer, log *zap.Logger, opts ...Option) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		host:   h,
		kv:     store,
		writer: w,
		log:    log.Named("extensions"),
		lang:   language.English,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load refetches the installed list from the host, sorts it by name, and
// overlays the persisted locked flags by id. Persisted entries for
// extensions that are no longer installed are dropped. When two loads
// overlap, the result of the one started last wins.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	s.loadSeq++
	seq := s.loadSeq
	s.mu.Unlock()

	installed, err := s.host.ListInstalled(ctx)
	if err != nil {
		s.log.Error("listing installed extensions failed", zap.Error(err))
		return fmt.Errorf("listing installed extensions: %w", err)
	}

	// Pending lock writes must land before the persisted state is read back.
	if err := s.writer.Flush(ctx); err != nil {
		return fmt.Errorf("flushing pending writes: %w", err)
	}
	locks := s.readLocks(ctx)

	records := make([]Record, 0, len(installed))
	for _, ext := range installed {
		rec := fromInstalled(ext)
		if st, ok := locks[rec.ID]; ok {
			rec.Locked = st.Locked
		}
		records = append(records, rec)
	}
	SortByName(records, s.lang)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.appliedSeq {
		s.log.Debug("discarding stale load", zap.Uint64("seq", seq), zap.Uint64("applied", s.appliedSeq))
		return nil
	}
	s.appliedSeq = seq
	s.records = records
	return nil
}

// readLocks returns the persisted states by id. Read failures are logged and
// treated as no persisted state.
func (s *Store) readLocks(ctx context.Context) map[string]State {
	out := make(map[string]State)
	data, ok, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		s.log.Error("reading persisted extension state failed", zap.String("key", StorageKey), zap.Error(err))
		return out
	}
	if !ok {
		return out
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		s.log.Error("decoding persisted extension state failed", zap.String("key", StorageKey), zap.Error(err))
		return out
	}
	for _, st := range p.Extensions {
		out[st.ID] = st
	}
	return out
}

// Records returns a copy of the current records in display order.
func (s *Store) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record(nil), s.records...)
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.records[i], true
	}
	return Record{}, false
}

// States returns the persisted subset of every current record.
func (s *Store) States() []State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statesLocked()
}

func (s *Store) statesLocked() []State {
	out := make([]State, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.State()
	}
	return out
}

func (s *Store) indexLocked(id string) int {
	for i := range s.records {
		if s.records[i].ID == id {
			return i
		}
	}
	return -1
}

// persistLocked enqueues the full state list. Callers hold s.mu so enqueue
// order matches mutation order.
func (s *Store) persistLocked() {
	data, err := json.Marshal(persisted{Extensions: s.statesLocked()})
	if err != nil {
		s.log.Error("encoding extension state failed", zap.Error(err))
		return
	}
	s.writer.Enqueue(StorageKey, data)
}

// ToggleEnabled updates the record optimistically, then asks the host to
// apply the change. A host failure is logged and returned; the optimistic
// value stays unless rollback was requested. The store does not consult the
// locked flag.
func (s *Store) ToggleEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("toggling %q: %w", id, ErrNotFound)
	}
	previous := s.records[i].Enabled
	s.records[i].Enabled = enabled
	s.persistLocked()
	s.mu.Unlock()

	if err := s.host.SetEnabled(ctx, id, enabled); err != nil {
		s.log.Error("host rejected enable change",
			zap.String("extension_id", id), zap.Bool("enabled", enabled), zap.Error(err))
		if s.rollback {
			s.revertEnabled(id, enabled, previous)
		}
		return fmt.Errorf("setting enabled on %q: %w", id, err)
	}
	return nil
}

// revertEnabled restores previous unless a later change already replaced
// the optimistic value.
func (s *Store) revertEnabled(id string, optimistic, previous bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 || s.records[i].Enabled != optimistic {
		return
	}
	s.records[i].Enabled = previous
	s.persistLocked()
}

// ToggleLock sets the locally owned locked flag and persists it.
func (s *Store) ToggleLock(id string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("locking %q: %w", id, ErrNotFound)
	}
	if s.records[i].Locked == locked {
		return nil
	}
	s.records[i].Locked = locked
	s.persistLocked()
	return nil
}

// Uninstall asks the host to remove the extension and drops its record.
func (s *Store) Uninstall(ctx context.Context, id string) error {
	if _, ok := s.Get(id); !ok {
		return fmt.Errorf("uninstalling %q: %w", id, ErrNotFound)
	}
	if err := s.host.Uninstall(ctx, id); err != nil {
		s.log.Error("host rejected uninstall", zap.String("extension_id", id), zap.Error(err))
		return fmt.Errorf("uninstalling %q: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		s.records = append(s.records[:i], s.records[i+1:]...)
		s.persistLocked()
	}
	return nil
}

// ImportExtensions overwrites enabled and locked on every loaded record that
// has a matching id in states. Records without a match keep their values and
// ids without a loaded record are ignored. Changed enabled values are relayed
// to the host; relay failures are logged. It returns the number of records
// that matched.
func (s *Store) ImportExtensions(ctx context.Context, states []State) int {
	byID := make(map[string]State, len(states))
	for _, st := range states {
		byID[st.ID] = st
	}

	type relay struct {
		id      string
		enabled bool
	}
	var relays []relay
	matched := 0

	s.mu.Lock()
	for i := range s.records {
		st, ok := byID[s.records[i].ID]
		if !ok {
			continue
		}
		matched++
		if s.records[i].Enabled != st.Enabled {
			relays = append(relays, relay{id: st.ID, enabled: st.Enabled})
		}
		s.records[i].Enabled = st.Enabled
		s.records[i].Locked = st.Locked
	}
	if matched > 0 {
		s.persistLocked()
	}
	s.mu.Unlock()

	for _, r := range relays {
		if err := s.host.SetEnabled(ctx, r.id, r.enabled); err != nil {
			s.log.Error("host rejected imported enable state",
				zap.String("extension_id", r.id), zap.Bool("enabled", r.enabled), zap.Error(err))
		}
	}
	return matched
}

// Flush waits until every state write enqueued so far has been applied.
func (s *Store) Flush(ctx context.Context) error {
	return s.writer.Flush(ctx)
}
