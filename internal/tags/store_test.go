package tags

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/extmgr-labs/extmgr/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type harness struct {
	mem   *kv.MemoryStore
	w     *kv.Writer
	store *Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := kv.NewMemoryStore()
	w := kv.NewWriter(mem, nil)
	t.Cleanup(func() {
		w.Close()
		mem.Close()
	})
	return &harness{mem: mem, w: w, store: newStoreOn(mem, w)}
}

func newStoreOn(mem kv.Store, w *kv.Writer) *Store {
	var mu sync.Mutex
	n := 0
	tick := 0
	return NewStore(mem, w, nil,
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("tag-%d", n)
		}),
		WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			tick++
			return epoch.Add(time.Duration(tick) * time.Second)
		}),
	)
}

func (h *harness) persisted(t *testing.T) Snapshot {
	t.Helper()
	require.NoError(t, h.store.Flush(context.Background()))
	data, ok, err := h.mem.Get(context.Background(), StorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	return snap
}

func orders(tags []Tag) map[string]int {
	out := make(map[string]int, len(tags))
	for _, t := range tags {
		out[t.ID] = t.Order
	}
	return out
}

func TestInitializeEmpty(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Initialize(context.Background()))
	assert.Empty(t, h.store.Tags())
	assert.Empty(t, h.store.ExtensionTags())
}

func TestInitializeLoadsPersisted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.mem.Set(ctx, StorageKey, []byte(`{
		"tags": [{"id":"b","name":"Work","order":1},{"id":"a","name":"Dev","order":0}],
		"extensionTags": [{"extensionId":"e1","tagIds":["a"]}]
	}`)))

	require.NoError(t, h.store.Initialize(ctx))
	tags := h.store.Tags()
	require.Len(t, tags, 2)
	assert.Equal(t, "a", tags[0].ID, "tags sorted by order")
	assert.Equal(t, []string{"a"}, h.store.ExtensionTags()[0].TagIDs)
}

func TestInitializeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Initialize(ctx))
	_, err := h.store.AddTag(ctx, "Dev")
	require.NoError(t, err)

	// Storage changes behind the store's back are not picked up by a
	// second Initialize; only Reload re-reads.
	require.NoError(t, h.store.Flush(ctx))
	require.NoError(t, h.mem.Set(ctx, StorageKey, []byte(`{"tags":[],"extensionTags":[]}`)))
	require.NoError(t, h.store.Initialize(ctx))
	assert.Len(t, h.store.Tags(), 1)
}

func TestInitializeConcurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.mem.Set(ctx, StorageKey, []byte(`{"tags":[{"id":"a","name":"Dev","order":0}],"extensionTags":[]}`)))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.store.Initialize(ctx))
		}()
	}
	wg.Wait()
	assert.Len(t, h.store.Tags(), 1)
}

func TestInitializeCorruptStartsEmpty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.mem.Set(ctx, StorageKey, []byte(`{not json`)))
	require.NoError(t, h.store.Initialize(ctx))
	assert.Empty(t, h.store.Tags())
}

func TestAddTagOrderInvariant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var created []Tag
	for _, name := range []string{"Dev", "Work", "Social", "Dev"} {
		before := orders(h.store.Tags())
		tag, err := h.store.AddTag(ctx, name)
		require.NoError(t, err)
		created = append(created, tag)

		after := orders(h.store.Tags())
		assert.Equal(t, 0, after[tag.ID])
		for id, order := range before {
			assert.Equal(t, order+1, after[id], "existing tag %s shifts by one", id)
		}
	}

	// Dense and unique: orders are exactly 0..n-1.
	var got []int
	for _, o := range orders(h.store.Tags()) {
		got = append(got, o)
	}
	sort.Ints(got)
	assert.Equal(t, []int{0, 1, 2, 3}, got)

	// Newest first; duplicate names are allowed.
	tags := h.store.Tags()
	assert.Equal(t, created[3].ID, tags[0].ID)
	assert.Equal(t, "Dev", tags[0].Name)
	assert.Equal(t, "Dev", tags[3].Name)

	assert.Len(t, h.persisted(t).Tags, 4)
}

func TestUpdateTag(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tag, err := h.store.AddTag(ctx, "Dev")
	require.NoError(t, err)

	require.NoError(t, h.store.UpdateTag(ctx, tag.ID, "Development"))
	got, ok := h.store.Tag(tag.ID)
	require.True(t, ok)
	assert.Equal(t, "Development", got.Name)
	assert.True(t, got.UpdatedAt.After(tag.UpdatedAt))
	assert.Equal(t, tag.CreatedAt, got.CreatedAt)

	require.NoError(t, h.store.UpdateTag(ctx, "missing", "x"), "unknown id is a no-op")
	assert.Len(t, h.store.Tags(), 1)
}

func TestDeleteTagCascades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	dev, _ := h.store.AddTag(ctx, "Dev")
	work, _ := h.store.AddTag(ctx, "Work")

	require.NoError(t, h.store.AddTagToExtension(ctx, "e1", dev.ID))
	require.NoError(t, h.store.AddTagToExtension(ctx, "e1", work.ID))
	require.NoError(t, h.store.AddTagToExtension(ctx, "e2", dev.ID))

	require.NoError(t, h.store.DeleteTag(ctx, dev.ID))

	_, ok := h.store.Tag(dev.ID)
	assert.False(t, ok)
	rows := h.store.ExtensionTags()
	require.Len(t, rows, 2, "rows are kept even when emptied")
	for _, row := range rows {
		assert.NotContains(t, row.TagIDs, dev.ID)
	}
	assert.Empty(t, h.store.TagsFor("e2"))
	assert.Equal(t, []Tag{mustTag(t, h.store, work.ID)}, h.store.TagsFor("e1"))

	for _, row := range h.persisted(t).ExtensionTags {
		assert.NotContains(t, row.TagIDs, dev.ID)
	}
}

func TestDeleteTagKeepsOrderDense(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, _ := h.store.AddTag(ctx, "A")
	b, _ := h.store.AddTag(ctx, "B")
	c, _ := h.store.AddTag(ctx, "C") // current order: C, B, A

	require.NoError(t, h.store.DeleteTag(ctx, b.ID))
	d, err := h.store.AddTag(ctx, "D")
	require.NoError(t, err)

	tags := h.store.Tags()
	require.Len(t, tags, 3)
	assert.Equal(t, []string{d.ID, c.ID, a.ID}, []string{tags[0].ID, tags[1].ID, tags[2].ID})
	for i, tag := range tags {
		assert.Equal(t, i, tag.Order, "tag %s", tag.Name)
	}
	assert.Equal(t, orders(tags), orders(h.persisted(t).Tags))
}

func mustTag(t *testing.T, s *Store, id string) Tag {
	t.Helper()
	tag, ok := s.Tag(id)
	require.True(t, ok)
	return tag
}

func TestMembershipIdempotence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	dev, _ := h.store.AddTag(ctx, "Dev")

	require.NoError(t, h.store.AddTagToExtension(ctx, "e1", dev.ID))
	once := h.store.ExtensionTags()
	require.NoError(t, h.store.AddTagToExtension(ctx, "e1", dev.ID))
	assert.Equal(t, once, h.store.ExtensionTags())

	require.NoError(t, h.store.RemoveTagFromExtension(ctx, "e1", "not-a-member"))
	require.NoError(t, h.store.RemoveTagFromExtension(ctx, "e9", dev.ID))
	assert.Equal(t, once, h.store.ExtensionTags())

	require.NoError(t, h.store.RemoveTagFromExtension(ctx, "e1", dev.ID))
	rows := h.store.ExtensionTags()
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].TagIDs)
}

func TestReorderIsPermutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, _ := h.store.AddTag(ctx, "A")
	b, _ := h.store.AddTag(ctx, "B")
	c, _ := h.store.AddTag(ctx, "C")

	ordered := []string{a.ID, c.ID, b.ID}
	require.NoError(t, h.store.ReorderTags(ctx, ordered))

	tags := h.store.Tags()
	require.Len(t, tags, 3)
	for i, id := range ordered {
		assert.Equal(t, id, tags[i].ID)
		assert.Equal(t, i, tags[i].Order)
	}
}

func TestReorderPartialKeepsMissing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, _ := h.store.AddTag(ctx, "A")
	b, _ := h.store.AddTag(ctx, "B")
	c, _ := h.store.AddTag(ctx, "C") // current order: C, B, A

	require.NoError(t, h.store.ReorderTags(ctx, []string{a.ID, "unknown", a.ID}))

	tags := h.store.Tags()
	require.Len(t, tags, 3, "tags missing from the input are never deleted")
	assert.Equal(t, []string{a.ID, c.ID, b.ID}, []string{tags[0].ID, tags[1].ID, tags[2].ID})
	assert.Equal(t, map[string]int{a.ID: 0, c.ID: 1, b.ID: 2}, orders(tags))
}

func TestImportRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	dev, _ := h.store.AddTag(ctx, "Dev")
	work, _ := h.store.AddTag(ctx, "Work")
	require.NoError(t, h.store.AddTagToExtension(ctx, "e1", dev.ID))
	require.NoError(t, h.store.AddTagToExtension(ctx, "e2", work.ID))
	require.NoError(t, h.store.AddTagToExtension(ctx, "e2", dev.ID))

	before := h.store.Export()
	stripped := h.store.Import(before)
	assert.Zero(t, stripped)

	after := h.store.Export()
	assert.ElementsMatch(t, before.Tags, after.Tags)
	assert.ElementsMatch(t, before.ExtensionTags, after.ExtensionTags)
}

func TestImportStripsDangling(t *testing.T) {
	h := newHarness(t)
	stripped := h.store.Import(Snapshot{
		Tags: []Tag{{ID: "t1", Name: "Dev"}},
		ExtensionTags: []ExtensionTag{
			{ExtensionID: "e1", TagIDs: []string{"t1", "ghost", "t1"}},
		},
	})
	assert.Equal(t, 2, stripped)
	assert.Equal(t, []string{"t1"}, h.store.ExtensionTags()[0].TagIDs)

	snap := h.persisted(t)
	assert.Equal(t, []string{"t1"}, snap.ExtensionTags[0].TagIDs)
}

func TestImportReplacesAndPersists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.AddTag(ctx, "Old")
	require.NoError(t, err)

	h.store.Import(Snapshot{Tags: []Tag{{ID: "t1", Name: "New"}}})
	tags := h.store.Tags()
	require.Len(t, tags, 1)
	assert.Equal(t, "New", tags[0].Name)
	assert.Len(t, h.persisted(t).Tags, 1)
}

func TestExportEncodesEmptyArrays(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Initialize(context.Background()))
	data, err := json.Marshal(h.store.Export())
	require.NoError(t, err)
	assert.JSONEq(t, `{"tags":[],"extensionTags":[]}`, string(data))
}

func TestReloadSkipsOwnWrites(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.AddTag(ctx, "A")
	require.NoError(t, err)
	_, err = h.store.AddTag(ctx, "B")
	require.NoError(t, err)

	require.NoError(t, h.store.Reload(ctx))
	assert.Len(t, h.store.Tags(), 2)
}

func TestReloadAdoptsForeignWrites(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.AddTag(ctx, "Mine")
	require.NoError(t, err)

	// A second surface sharing only the backing store.
	otherWriter := kv.NewWriter(h.mem, nil)
	defer otherWriter.Close()
	other := newStoreOn(h.mem, otherWriter)
	require.NoError(t, h.store.Flush(ctx))
	require.NoError(t, other.Initialize(ctx))
	_, err = other.AddTag(ctx, "Theirs")
	require.NoError(t, err)
	require.NoError(t, other.Flush(ctx))

	assert.Len(t, h.store.Tags(), 1, "in-memory state diverges until reload")
	require.NoError(t, h.store.Reload(ctx))
	assert.Len(t, h.store.Tags(), 2)
}

func TestVisibleTag(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "", h.store.VisibleTag())
	h.store.SetVisibleTag("t1")
	assert.Equal(t, "t1", h.store.VisibleTag())
	h.store.ShowAllTags()
	assert.Equal(t, "", h.store.VisibleTag())
}
