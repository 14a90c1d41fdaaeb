package extension

import (
	"sort"

	"github.com/extmgr-labs/extmgr/internal/host"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// iconTargetSize is the preferred icon edge in pixels.
const iconTargetSize = 48

// Record is one installed extension as shown to the user.
type Record struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	IconURL     string `json:"icon_url,omitempty"`
	Enabled     bool   `json:"enabled"`
	Locked      bool   `json:"locked"`
	HomepageURL string `json:"homepage_url,omitempty"`
	OptionsURL  string `json:"options_url,omitempty"`
}

// State is the persisted and exported subset of a Record.
type State struct {
	ID      string `json:"id" validate:"required"`
	Enabled bool   `json:"enabled"`
	Locked  bool   `json:"locked"`
}

// State returns the persisted subset of r.
func (r Record) State() State {
	return State{ID: r.ID, Enabled: r.Enabled, Locked: r.Locked}
}

// Toggleable reports whether callers should allow enabling or disabling r.
// The store itself never refuses; locked extensions are blocked by callers.
func (r Record) Toggleable() bool { return !r.Locked }

// fromInstalled maps a host extension into the local record shape.
func fromInstalled(ext host.Installed) Record {
	return Record{
		ID:          ext.ID,
		Name:        ext.Name,
		Version:     ext.Version,
		Description: ext.Description,
		IconURL:     ResolveIcon(ext.Icons),
		Enabled:     ext.Enabled,
		HomepageURL: ext.HomepageURL,
		OptionsURL:  ext.OptionsURL,
	}
}

// ResolveIcon picks the icon whose size is closest at or below 48px, falling
// back to the first icon when none qualifies.
func ResolveIcon(icons []host.Icon) string {
	if len(icons) == 0 {
		return ""
	}
	best := -1
	for i, icon := range icons {
		if icon.Size > iconTargetSize {
			continue
		}
		if best == -1 || icon.Size > icons[best].Size {
			best = i
		}
	}
	if best == -1 {
		return icons[0].URL
	}
	return icons[best].URL
}

// SortByName orders records by name using locale-aware, case-insensitive
// collation. Ties fall back to id so the order is total.
func SortByName(records []Record, tag language.Tag) {
	c := collate.New(tag, collate.IgnoreCase)
	sort.SliceStable(records, func(i, j int) bool {
		if cmp := c.CompareString(records[i].Name, records[j].Name); cmp != 0 {
			return cmp < 0
		}
		return records[i].ID < records[j].ID
	})
}
