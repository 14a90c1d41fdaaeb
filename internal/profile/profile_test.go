package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/extmgr-labs/extmgr/internal/extension"
	"github.com/extmgr-labs/extmgr/internal/host"
	"github.com/extmgr-labs/extmgr/internal/kv"
	"github.com/extmgr-labs/extmgr/internal/tags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mem  *kv.MemoryStore
	host *host.Static
	tags *tags.Store
	exts *extension.Store
	mgr  *Manager
}

// newUnloadedFixture wires the stores without loading either of them.
func newUnloadedFixture(t *testing.T, persisted map[string]string) *fixture {
	t.Helper()
	mem := kv.NewMemoryStore()
	for key, value := range persisted {
		require.NoError(t, mem.Set(context.Background(), key, []byte(value)))
	}
	w := kv.NewWriter(mem, nil)
	t.Cleanup(func() {
		w.Close()
		mem.Close()
	})

	h := host.NewStatic(
		host.Installed{ID: "e1", Name: "Alpha", Version: "1.0", Enabled: true},
		host.Installed{ID: "e2", Name: "Beta", Version: "2.0", Enabled: false},
	)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := tags.NewStore(mem, w, nil, tags.WithClock(func() time.Time { return clock }))
	es := extension.NewStore(h, mem, w, nil)
	return &fixture{mem: mem, host: h, tags: ts, exts: es, mgr: NewManager(ts, es, nil)}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := newUnloadedFixture(t, nil)
	require.NoError(t, f.exts.Load(context.Background()))
	require.NoError(t, f.tags.Initialize(context.Background()))
	return f
}

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestSchemaCompiles(t *testing.T) {
	_, err := getSchema()
	require.NoError(t, err)
}

func TestParseValid(t *testing.T) {
	for _, name := range []string{"valid.json", "legacy.json"} {
		t.Run(name, func(t *testing.T) {
			doc, err := Parse(readTestdata(t, name))
			require.NoError(t, err)
			assert.NotEmpty(t, doc.Tags)
		})
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		keyword string
	}{
		{"empty input", ``, "json"},
		{"not json", `{tags:`, "json"},
		{"null document", `null`, "type"},
		{"missing extensions", `{"tags":[],"extensionTags":[]}`, "required"},
		{"tags not array", `{"tags":{},"extensionTags":[],"extensions":[]}`, "type"},
		{"negative order", `{"tags":[{"id":"a","name":"A","order":-1}],"extensionTags":[],"extensions":[]}`, "minimum"},
		{"missing locked", `{"tags":[],"extensionTags":[],"extensions":[{"id":"e","enabled":true}]}`, "required"},
		{"duplicate tag id", `{"tags":[{"id":"a","name":"A","order":0},{"id":"a","name":"B","order":1}],"extensionTags":[],"extensions":[]}`, "unique"},
		{"duplicate extension row", `{"tags":[],"extensionTags":[{"extensionId":"e","tagIds":[]},{"extensionId":"e","tagIds":[]}],"extensions":[]}`, "unique"},
		{"bad timestamp", `{"tags":[{"id":"a","name":"A","order":0,"createdAt":"yesterday"}],"extensionTags":[],"extensions":[]}`, "decode"},
		{"bad version", `{"version":"one","tags":[],"extensionTags":[],"extensions":[]}`, "version"},
		{"future major", `{"version":"2.0.0","tags":[],"extensionTags":[],"extensions":[]}`, "version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDocument)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			require.NotEmpty(t, ve.Issues)

			var keywords []string
			for _, issue := range ve.Issues {
				keywords = append(keywords, issue.Keyword)
			}
			assert.Contains(t, keywords, tt.keyword)
		})
	}
}

func tagIDs(ts []tags.Tag) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func TestImportAppliesDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sum, err := f.mgr.Import(ctx, readTestdata(t, "valid.json"))
	require.NoError(t, err)
	assert.Equal(t, Summary{Tags: 2, ExtensionTags: 2, Extensions: 2, Stripped: 1}, sum)

	assert.Equal(t, []string{"t1", "t2"}, tagIDs(f.tags.Tags()))
	assert.Equal(t, []string{"t1", "t2"}, tagIDs(f.tags.TagsFor("e1")))
	assert.Equal(t, []string{"t2"}, f.tags.Export().ExtensionTags[1].TagIDs, "dangling id stripped")

	// The follow-up reload keeps imported values: locked is local, enabled
	// was relayed to the host.
	e1, ok := f.exts.Get("e1")
	require.True(t, ok)
	assert.False(t, e1.Enabled)
	assert.True(t, e1.Locked)
	e2, _ := f.exts.Get("e2")
	assert.True(t, e2.Enabled)
	_, ok = f.exts.Get("uninstalled")
	assert.False(t, ok)
}

func TestImportRejectsWithoutMutating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.tags.AddTag(ctx, "Keep")
	require.NoError(t, err)
	require.NoError(t, f.exts.ToggleLock("e1", true))

	before := f.tags.Export()
	states := f.exts.States()

	_, err = f.mgr.Import(ctx, []byte(`{"tags":[{"id":"x","name":"X","order":0}],"extensionTags":[]}`))
	require.ErrorIs(t, err, ErrInvalidDocument)

	assert.Equal(t, before, f.tags.Export())
	assert.Equal(t, states, f.exts.States())
}

func TestImportHostFailureChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.tags.AddTag(ctx, "Keep")
	require.NoError(t, err)
	before := f.tags.Export()
	f.host.FailList = assert.AnError

	sum, err := f.mgr.Import(ctx, readTestdata(t, "legacy.json"))
	require.ErrorIs(t, err, assert.AnError)
	assert.NotErrorIs(t, err, ErrInvalidDocument)
	assert.Zero(t, sum)
	assert.Equal(t, before, f.tags.Export())
}

func TestImportIntoUnloadedStores(t *testing.T) {
	f := newUnloadedFixture(t, map[string]string{
		extension.StorageKey: `{"extensions":[{"id":"e2","enabled":false,"locked":true}]}`,
	})
	ctx := context.Background()

	sum, err := f.mgr.Import(ctx, []byte(`{"tags":[],"extensionTags":[],"extensions":[{"id":"e1","enabled":true,"locked":true}]}`))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Extensions)

	e1, ok := f.exts.Get("e1")
	require.True(t, ok)
	assert.True(t, e1.Locked, "imported state applied")
	e2, ok := f.exts.Get("e2")
	require.True(t, ok)
	assert.True(t, e2.Locked, "extensions absent from the profile keep their lock")

	require.NoError(t, f.exts.Flush(ctx))
	data, ok, err := f.mem.Get(ctx, extension.StorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(data), `"id":"e2","enabled":false,"locked":true`)
}

func TestExportRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev, err := f.tags.AddTag(ctx, "Dev")
	require.NoError(t, err)
	require.NoError(t, f.tags.AddTagToExtension(ctx, "e2", dev.ID))
	require.NoError(t, f.exts.ToggleLock("e2", true))

	var buf bytes.Buffer
	require.NoError(t, f.mgr.Export(ctx, &buf))
	assert.Contains(t, buf.String(), "\n  \"tags\": [", "pretty-printed")

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	assert.Contains(t, raw, "version")

	before := f.tags.Export()
	sum, err := f.mgr.Import(ctx, buf.Bytes())
	require.NoError(t, err)
	assert.Zero(t, sum.Stripped)
	assert.ElementsMatch(t, before.Tags, f.tags.Export().Tags)
	assert.ElementsMatch(t, before.ExtensionTags, f.tags.Export().ExtensionTags)
	e2, _ := f.exts.Get("e2")
	assert.True(t, e2.Locked)
}

func TestExportEmptyStores(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	require.NoError(t, f.mgr.Export(context.Background(), &buf))

	doc, err := Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Empty(t, doc.Tags)
	assert.Len(t, doc.Extensions, 2)
}

func TestExportFile(t *testing.T) {
	f := newFixture(t)
	f.mgr.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	dir := t.TempDir()

	path, err := f.mgr.ExportFile(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "extmgr-profile-20260304-050607.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = Parse(data)
	assert.NoError(t, err)
}
