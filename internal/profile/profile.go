package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/extmgr-labs/extmgr/internal/branding"
	"github.com/extmgr-labs/extmgr/internal/extension"
	"github.com/extmgr-labs/extmgr/internal/platform"
	"github.com/extmgr-labs/extmgr/internal/tags"
	"go.uber.org/zap"
)

const exportFileMode = 0o644

// TagStore is the part of the tag store a profile touches.
type TagStore interface {
	Initialize(ctx context.Context) error
	Export() tags.Snapshot
	Import(snap tags.Snapshot) int
}

// ExtensionStore is the part of the extension store a profile touches.
type ExtensionStore interface {
	States() []extension.State
	ImportExtensions(ctx context.Context, states []extension.State) int
	Load(ctx context.Context) error
}

// Summary reports what an import applied.
type Summary struct {
	Tags          int
	ExtensionTags int
	Extensions    int // states that matched an installed extension
	Stripped      int // dangling tag references removed
}

// Manager exports and imports profile documents.
type Manager struct {
	tags TagStore
	exts ExtensionStore
	log  *zap.Logger
	now  func() time.Time
}

// NewManager returns a Manager over the given stores.
func NewManager(t TagStore, e ExtensionStore, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{tags: t, exts: e, log: log.Named("profile"), now: time.Now}
}

// Snapshot assembles the current document.
func (m *Manager) Snapshot(ctx context.Context) (*Document, error) {
	if err := m.tags.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("loading tags: %w", err)
	}
	snap := m.tags.Export()
	states := m.exts.States()
	if states == nil {
		states = []extension.State{}
	}
	return &Document{
		Version:       FormatVersion,
		Tags:          snap.Tags,
		ExtensionTags: snap.ExtensionTags,
		Extensions:    states,
	}, nil
}

// Export writes the current document to w as indented JSON.
func (m *Manager) Export(ctx context.Context, w io.Writer) error {
	data, err := m.marshal(ctx)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}
	return nil
}

// ExportFile writes the current document into dir under a timestamped name
// and returns the path written.
func (m *Manager) ExportFile(ctx context.Context, dir string) (string, error) {
	data, err := m.marshal(ctx)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(m.now()))
	if err := platform.WriteFileAtomic(path, data, exportFileMode); err != nil {
		return "", fmt.Errorf("writing profile: %w", err)
	}
	m.log.Info("profile exported", zap.String("path", path))
	return path, nil
}

// FileName returns the export file name for t.
func FileName(t time.Time) string {
	return fmt.Sprintf("%s-profile-%s.json", branding.CLIName(), t.Format("20060102-150405"))
}

func (m *Manager) marshal(ctx context.Context) ([]byte, error) {
	doc, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding profile: %w", err)
	}
	return append(data, '\n'), nil
}

// Import validates data and, only if it is a valid document, replaces the
// tag collections, merges the extension states by id, and reloads the
// extension list from the host. The extension list is loaded first so the
// merge sees every installed extension; if that load fails nothing is
// changed. A failed reload afterwards is returned with the imported state
// already in place.
func (m *Manager) Import(ctx context.Context, data []byte) (Summary, error) {
	doc, err := Parse(data)
	if err != nil {
		m.log.Warn("profile rejected", zap.Error(err))
		return Summary{}, err
	}
	if err := m.exts.Load(ctx); err != nil {
		return Summary{}, fmt.Errorf("loading extensions before import: %w", err)
	}

	stripped := m.tags.Import(tags.Snapshot{Tags: doc.Tags, ExtensionTags: doc.ExtensionTags})
	matched := m.exts.ImportExtensions(ctx, doc.Extensions)
	sum := Summary{
		Tags:          len(doc.Tags),
		ExtensionTags: len(doc.ExtensionTags),
		Extensions:    matched,
		Stripped:      stripped,
	}
	m.log.Info("profile imported",
		zap.Int("tags", sum.Tags),
		zap.Int("extension_tags", sum.ExtensionTags),
		zap.Int("extensions", sum.Extensions),
		zap.Int("stripped", sum.Stripped))

	if err := m.exts.Load(ctx); err != nil {
		return sum, fmt.Errorf("reloading extensions after import: %w", err)
	}
	return sum, nil
}
