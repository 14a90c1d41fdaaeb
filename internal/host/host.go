package host

import (
	"context"
	"errors"
)

// ErrUnknownExtension is returned when an operation names an id the host
// does not report as installed.
var ErrUnknownExtension = errors.New("unknown extension")

// Icon is one size variant of an extension icon.
type Icon struct {
	Size int    `yaml:"size" json:"size"`
	URL  string `yaml:"url" json:"url"`
}

// Installed is an extension as reported by the host.
type Installed struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Icons       []Icon `yaml:"icons,omitempty" json:"icons,omitempty"`
	HomepageURL string `yaml:"homepage_url,omitempty" json:"homepage_url,omitempty"`
	OptionsURL  string `yaml:"options_url,omitempty" json:"options_url,omitempty"`
}

// Manager lists and controls installed extensions.
type Manager interface {
	ListInstalled(ctx context.Context) ([]Installed, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Uninstall(ctx context.Context, id string) error
}
