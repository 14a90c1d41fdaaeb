package tags

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/extmgr-labs/extmgr/internal/kv"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// StorageKey is the key the tag snapshot lives under.
const StorageKey = "extension-manager-tags"

// Store holds tags and extension-tag associations in memory and writes every
// mutation through to the key-value store.
type Store struct {
	kv     kv.Store
	writer *kv.Writer
	log    *zap.Logger
	now    func() time.Time
	newID  func() string

	loads singleflight.Group

	mu          sync.RWMutex
	loaded      bool
	tags        []Tag
	rows        []ExtensionTag
	lastWritten []byte
	visible     string
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces uuid.NewString.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// NewStore returns an uninitialized store.
func NewStore(store kv.Store, w *kv.Writer, log *zap.Logger, opts ...Option) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		kv:     store,
		writer: w,
		log:    log.Named("tags"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads the persisted snapshot once. Concurrent callers share a
// single in-flight load; later calls return immediately.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	_, err, _ := s.loads.Do("initialize", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.loaded {
			return nil, nil
		}
		return nil, s.loadLocked(ctx)
	})
	return err
}

// Reload re-reads the persisted snapshot after applying this store's own
// pending writes. If storage still holds what this store last wrote, memory
// is already current and nothing changes; otherwise another writer won and
// its snapshot replaces memory.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Flush(ctx); err != nil {
		return fmt.Errorf("flushing pending writes: %w", err)
	}
	return s.loadLocked(ctx)
}

// loadLocked replaces memory with the persisted snapshot. Callers hold s.mu.
func (s *Store) loadLocked(ctx context.Context) error {
	data, ok, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		s.log.Error("reading tags failed", zap.String("key", StorageKey), zap.Error(err))
		return fmt.Errorf("reading tags: %w", err)
	}

	if s.loaded && ok && bytes.Equal(data, s.lastWritten) {
		return nil
	}

	var snap Snapshot
	if ok {
		if err := json.Unmarshal(data, &snap); err != nil {
			// Corrupt state cannot be repaired here; start empty and let the
			// next write replace it.
			s.log.Error("decoding tags failed, starting empty", zap.String("key", StorageKey), zap.Error(err))
			snap = Snapshot{}
		}
	}

	snap = snap.clone()
	Sort(snap.Tags)
	s.tags = snap.Tags
	s.rows = snap.ExtensionTags
	s.lastWritten = data
	s.loaded = true
	return nil
}

// persistLocked enqueues the current snapshot. Callers hold s.mu.
func (s *Store) persistLocked() {
	data, err := json.Marshal(Snapshot{Tags: s.tags, ExtensionTags: s.rows}.clone())
	if err != nil {
		s.log.Error("encoding tags failed", zap.Error(err))
		return
	}
	s.lastWritten = data
	s.writer.Enqueue(StorageKey, data)
}

// mutate runs fn under the write lock after making sure the snapshot is
// loaded. fn reports whether it changed anything worth persisting.
func (s *Store) mutate(ctx context.Context, fn func() bool) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn() {
		s.persistLocked()
	}
	return nil
}

// AddTag creates a tag that sorts first: it gets order 0 and every existing
// tag moves down by one.
func (s *Store) AddTag(ctx context.Context, name string) (Tag, error) {
	var created Tag
	err := s.mutate(ctx, func() bool {
		now := s.now()
		created = Tag{ID: s.newID(), Name: name, Order: 0, CreatedAt: now, UpdatedAt: now}
		for i := range s.tags {
			s.tags[i].Order++
		}
		s.tags = append([]Tag{created}, s.tags...)
		return true
	})
	return created, err
}

// UpdateTag renames a tag in place. Unknown ids are a no-op.
func (s *Store) UpdateTag(ctx context.Context, id, name string) error {
	return s.mutate(ctx, func() bool {
		i := s.tagIndexLocked(id)
		if i < 0 {
			return false
		}
		s.tags[i].Name = name
		s.tags[i].UpdatedAt = s.now()
		return true
	})
}

// DeleteTag removes a tag and strips its id from every association row.
// Rows left with no tags are kept. The remaining tags are renumbered so
// order stays dense.
func (s *Store) DeleteTag(ctx context.Context, id string) error {
	return s.mutate(ctx, func() bool {
		i := s.tagIndexLocked(id)
		if i < 0 {
			return false
		}
		s.tags = append(s.tags[:i], s.tags[i+1:]...)
		renumber(s.tags)
		for r := range s.rows {
			s.rows[r].TagIDs = slices.DeleteFunc(s.rows[r].TagIDs, func(t string) bool { return t == id })
		}
		return true
	})
}

// ReorderTags assigns each listed tag its index as order. Unknown and
// repeated ids are ignored. Tags missing from orderedIDs are never deleted;
// they keep their relative order after the listed ones.
func (s *Store) ReorderTags(ctx context.Context, orderedIDs []string) error {
	return s.mutate(ctx, func() bool {
		position := make(map[string]int, len(orderedIDs))
		for _, id := range orderedIDs {
			if _, dup := position[id]; dup || s.tagIndexLocked(id) < 0 {
				continue
			}
			position[id] = len(position)
		}

		next := len(position)
		for i := range s.tags {
			if p, ok := position[s.tags[i].ID]; ok {
				s.tags[i].Order = p
				continue
			}
			s.tags[i].Order = next
			next++
		}
		Sort(s.tags)
		renumber(s.tags)
		return true
	})
}

// renumber sets each tag's order to its index. ts must be sorted.
func renumber(ts []Tag) {
	for i := range ts {
		ts[i].Order = i
	}
}

// AddTagToExtension attaches tagID to extensionID. Attaching an attached tag
// is a no-op. The tag id is not validated.
func (s *Store) AddTagToExtension(ctx context.Context, extensionID, tagID string) error {
	return s.mutate(ctx, func() bool {
		r := s.rowIndexLocked(extensionID)
		if r < 0 {
			s.rows = append(s.rows, ExtensionTag{ExtensionID: extensionID, TagIDs: []string{tagID}})
			return true
		}
		if s.rows[r].HasTag(tagID) {
			return false
		}
		s.rows[r].TagIDs = append(s.rows[r].TagIDs, tagID)
		return true
	})
}

// RemoveTagFromExtension detaches tagID from extensionID. Detaching a tag
// that is not attached is a no-op.
func (s *Store) RemoveTagFromExtension(ctx context.Context, extensionID, tagID string) error {
	return s.mutate(ctx, func() bool {
		r := s.rowIndexLocked(extensionID)
		if r < 0 || !s.rows[r].HasTag(tagID) {
			return false
		}
		s.rows[r].TagIDs = slices.DeleteFunc(s.rows[r].TagIDs, func(t string) bool { return t == tagID })
		return true
	})
}

// Export returns a copy of both collections.
func (s *Store) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Tags: s.tags, ExtensionTags: s.rows}.clone()
}

// Import replaces both collections and persists the result. Tag ids in
// association rows that name no imported tag are stripped, as are repeats
// within a row. It returns the number of references stripped.
func (s *Store) Import(snap Snapshot) int {
	snap = snap.clone()
	known := make(map[string]bool, len(snap.Tags))
	for _, t := range snap.Tags {
		known[t.ID] = true
	}

	stripped := 0
	for r := range snap.ExtensionTags {
		seen := make(map[string]bool)
		kept := snap.ExtensionTags[r].TagIDs[:0]
		for _, id := range snap.ExtensionTags[r].TagIDs {
			if !known[id] || seen[id] {
				stripped++
				continue
			}
			seen[id] = true
			kept = append(kept, id)
		}
		snap.ExtensionTags[r].TagIDs = kept
	}
	if stripped > 0 {
		s.log.Warn("stripped dangling tag references on import", zap.Int("count", stripped))
	}
	Sort(snap.Tags)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags = snap.Tags
	s.rows = snap.ExtensionTags
	s.loaded = true
	s.persistLocked()
	return stripped
}

// Tags returns all tags in display order.
func (s *Store) Tags() []Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Tag(nil), s.tags...)
}

// Tag returns the tag with the given id.
func (s *Store) Tag(id string) (Tag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.tagIndexLocked(id); i >= 0 {
		return s.tags[i], true
	}
	return Tag{}, false
}

// ExtensionTags returns a copy of every association row.
func (s *Store) ExtensionTags() []ExtensionTag {
	return s.Export().ExtensionTags
}

// TagsFor returns the live tags attached to extensionID in display order.
// Dangling ids are skipped.
func (s *Store) TagsFor(extensionID string) []Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.rowIndexLocked(extensionID)
	if r < 0 {
		return nil
	}
	var out []Tag
	for _, t := range s.tags {
		if s.rows[r].HasTag(t.ID) {
			out = append(out, t)
		}
	}
	return out
}

// SetVisibleTag selects the visibility filter consumed by the view layer.
// It is not persisted.
func (s *Store) SetVisibleTag(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = id
}

// ShowAllTags clears the visibility filter.
func (s *Store) ShowAllTags() { s.SetVisibleTag("") }

// VisibleTag returns the current visibility filter; empty means all.
func (s *Store) VisibleTag() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible
}

// Flush waits until every snapshot write enqueued so far has been applied.
func (s *Store) Flush(ctx context.Context) error {
	return s.writer.Flush(ctx)
}

func (s *Store) tagIndexLocked(id string) int {
	return slices.IndexFunc(s.tags, func(t Tag) bool { return t.ID == id })
}

func (s *Store) rowIndexLocked(extensionID string) int {
	return slices.IndexFunc(s.rows, func(r ExtensionTag) bool { return r.ExtensionID == extensionID })
}
