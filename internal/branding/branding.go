// Package branding provides compile-time identity values for the CLI.
//
// Forkers edit branding.yaml in this directory; Go's //go:embed bakes it
// into the binary.
package branding

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

//go:embed branding.yaml
var rawBranding []byte

var (
	once     sync.Once
	defaults brand
)

type brand struct {
	CLIName     string `yaml:"cli_name"`
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`
	HomeDir     string `yaml:"home_dir"`
	EnvPrefix   string `yaml:"env_prefix"`
	ManageURL   string `yaml:"manage_url"`
}

func load() {
	once.Do(func() {
		// Set hard defaults in case the embedded file is missing/empty.
		defaults = brand{
			CLIName:     "extmgr",
			DisplayName: "ExtMgr",
			Description: "Tag, lock, and profile manager for installed browser extensions",
			HomeDir:     ".extmgr",
			EnvPrefix:   "EXTMGR",
			ManageURL:   "chrome://extensions/?id=%s",
		}
		// Overlay with embedded YAML values.
		_ = yaml.Unmarshal(rawBranding, &defaults)
	})
}

// CLIName returns the root command name (e.g., "extmgr").
func CLIName() string { load(); return defaults.CLIName }

// DisplayName returns the human-readable product name (e.g., "ExtMgr").
func DisplayName() string { load(); return defaults.DisplayName }

// Description returns the short product description.
func Description() string { load(); return defaults.Description }

// HomeDir returns the dot-directory name under $HOME (e.g., ".extmgr").
func HomeDir() string { load(); return defaults.HomeDir }

// EnvPrefix returns the environment variable prefix (e.g., "EXTMGR").
func EnvPrefix() string { load(); return defaults.EnvPrefix }

// ManageURL returns the browser page that manages a single extension.
func ManageURL(extensionID string) string {
	load()
	return fmt.Sprintf(defaults.ManageURL, extensionID)
}

// EnvVar returns a fully qualified env var name, e.g., EnvVar("HOME") → "EXTMGR_HOME".
func EnvVar(suffix string) string {
	load()
	return defaults.EnvPrefix + "_" + strings.ToUpper(suffix)
}
