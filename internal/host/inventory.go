package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.yaml.in/yaml/v3"
)

// InventoryFile is the document an Inventory reads and writes.
type InventoryFile struct {
	Extensions []Installed `yaml:"extensions"`
}

// Inventory is a Manager backed by a YAML file that a browser-side exporter
// (or the user) keeps current. Enable and uninstall operations rewrite it.
type Inventory struct {
	mu   sync.Mutex
	path string
}

// NewInventory returns a Manager over the inventory file at path.
func NewInventory(path string) *Inventory {
	return &Inventory{path: path}
}

// Path returns the inventory file location.
func (inv *Inventory) Path() string { return inv.path }

// LoadInventory reads and parses an inventory file. A missing file is an
// empty inventory.
func LoadInventory(path string) (*InventoryFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &InventoryFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading inventory %s: %w", path, err)
	}

	var f InventoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing inventory %s: %w", path, err)
	}
	return &f, nil
}

// SaveInventory writes the inventory back to path.
func SaveInventory(path string, f *InventoryFile) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling inventory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating inventory directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing inventory %s: %w", path, err)
	}
	return nil
}

// Find returns the extension with the given id, or nil if not found.
func (f *InventoryFile) Find(id string) *Installed {
	for i := range f.Extensions {
		if f.Extensions[i].ID == id {
			return &f.Extensions[i]
		}
	}
	return nil
}

// Remove drops the extension with the given id.
func (f *InventoryFile) Remove(id string) error {
	for i, ext := range f.Extensions {
		if ext.ID == id {
			f.Extensions = append(f.Extensions[:i], f.Extensions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("extension %q: %w", id, ErrUnknownExtension)
}

func (inv *Inventory) ListInstalled(_ context.Context) ([]Installed, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	f, err := LoadInventory(inv.path)
	if err != nil {
		return nil, err
	}
	return f.Extensions, nil
}

func (inv *Inventory) SetEnabled(_ context.Context, id string, enabled bool) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	f, err := LoadInventory(inv.path)
	if err != nil {
		return err
	}
	ext := f.Find(id)
	if ext == nil {
		return fmt.Errorf("setting enabled on %q: %w", id, ErrUnknownExtension)
	}
	if ext.Enabled == enabled {
		return nil
	}
	ext.Enabled = enabled
	return SaveInventory(inv.path, f)
}

func (inv *Inventory) Uninstall(_ context.Context, id string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	f, err := LoadInventory(inv.path)
	if err != nil {
		return err
	}
	if err := f.Remove(id); err != nil {
		return fmt.Errorf("uninstalling: %w", err)
	}
	return SaveInventory(inv.path, f)
}
