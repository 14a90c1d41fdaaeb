package host

import (
	"context"
	"fmt"
	"sync"
)

// Static is an in-memory Manager. Failures can be injected per operation.
type Static struct {
	mu         sync.Mutex
	extensions []Installed

	// FailList, FailSetEnabled, and FailUninstall, when non-nil, are returned
	// by the matching operation instead of performing it.
	FailList       error
	FailSetEnabled error
	FailUninstall  error
}

// NewStatic returns a Manager reporting exts as installed.
func NewStatic(exts ...Installed) *Static {
	s := &Static{}
	s.extensions = append(s.extensions, exts...)
	return s
}

func (s *Static) ListInstalled(_ context.Context) ([]Installed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailList != nil {
		return nil, s.FailList
	}
	out := make([]Installed, len(s.extensions))
	for i, ext := range s.extensions {
		out[i] = ext
		out[i].Icons = append([]Icon(nil), ext.Icons...)
	}
	return out, nil
}

func (s *Static) SetEnabled(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSetEnabled != nil {
		return s.FailSetEnabled
	}
	for i := range s.extensions {
		if s.extensions[i].ID == id {
			s.extensions[i].Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("setting enabled on %q: %w", id, ErrUnknownExtension)
}

func (s *Static) Uninstall(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUninstall != nil {
		return s.FailUninstall
	}
	for i := range s.extensions {
		if s.extensions[i].ID == id {
			s.extensions = append(s.extensions[:i], s.extensions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("uninstalling %q: %w", id, ErrUnknownExtension)
}

// Put installs or replaces ext.
func (s *Static) Put(ext Installed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.extensions {
		if s.extensions[i].ID == ext.ID {
			s.extensions[i] = ext
			return
		}
	}
	s.extensions = append(s.extensions, ext)
}
