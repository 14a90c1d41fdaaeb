package view

import (
	"strings"

	"github.com/extmgr-labs/extmgr/internal/extension"
	"github.com/extmgr-labs/extmgr/internal/tags"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Visibility selectors besides a tag id. The empty selector shows everything.
const (
	ShowAll      = ""
	ShowUntagged = "untagged"
	ShowEnabled  = "enabled"
	ShowDisabled = "disabled"
)

// Input is everything the projection depends on.
type Input struct {
	Extensions    []extension.Record
	Tags          []tags.Tag
	ExtensionTags []tags.ExtensionTag
	Query         string
	Visible       string
	Language      language.Tag
}

// Group is one tag and the extensions carrying it.
type Group struct {
	Tag        tags.Tag           `json:"tag"`
	Extensions []extension.Record `json:"extensions"`
}

// Result is the projected view. An extension with several tags appears in
// several groups. Tags with no matching extension have no entry.
type Result struct {
	GroupedByTag map[string][]extension.Record `json:"groupedByTag"`
	Untagged     []extension.Record            `json:"untagged"`

	tags []tags.Tag
}

// Groups returns the non-empty groups following tag order.
func (r Result) Groups() []Group {
	var out []Group
	for _, t := range r.tags {
		if recs, ok := r.GroupedByTag[t.ID]; ok {
			out = append(out, Group{Tag: t, Extensions: recs})
		}
	}
	return out
}

// Count returns the number of distinct extensions in the view.
func (r Result) Count() int {
	seen := make(map[string]bool)
	for _, recs := range r.GroupedByTag {
		for _, rec := range recs {
			seen[rec.ID] = true
		}
	}
	for _, rec := range r.Untagged {
		seen[rec.ID] = true
	}
	return len(seen)
}

// Project filters in.Extensions by query and visibility, then groups the
// filtered set once per tag and separately collects the untagged subset.
// Every list is sorted by name. Inputs are never modified; tag ids that name
// no tag are treated as absent.
func Project(in Input) Result {
	live := make(map[string]bool, len(in.Tags))
	for _, t := range in.Tags {
		live[t.ID] = true
	}
	membership := make(map[string]map[string]bool, len(in.ExtensionTags))
	for _, row := range in.ExtensionTags {
		set := membership[row.ExtensionID]
		if set == nil {
			set = make(map[string]bool)
			membership[row.ExtensionID] = set
		}
		for _, id := range row.TagIDs {
			set[id] = true
		}
	}

	hasLiveTag := func(extID string) bool {
		for id := range membership[extID] {
			if live[id] {
				return true
			}
		}
		return false
	}

	match := newMatcher(in.Query)
	var filtered []extension.Record
	for _, rec := range in.Extensions {
		if !match(rec) {
			continue
		}
		switch in.Visible {
		case ShowAll:
		case ShowUntagged:
			if hasLiveTag(rec.ID) {
				continue
			}
		case ShowEnabled:
			if !rec.Enabled {
				continue
			}
		case ShowDisabled:
			if rec.Enabled {
				continue
			}
		default:
			if !membership[rec.ID][in.Visible] {
				continue
			}
		}
		filtered = append(filtered, rec)
	}

	res := Result{
		GroupedByTag: make(map[string][]extension.Record),
		Untagged:     []extension.Record{},
		tags:         sortedTags(in.Tags),
	}
	for _, t := range res.tags {
		var group []extension.Record
		for _, rec := range filtered {
			if membership[rec.ID][t.ID] {
				group = append(group, rec)
			}
		}
		if len(group) > 0 {
			extension.SortByName(group, in.Language)
			res.GroupedByTag[t.ID] = group
		}
	}
	for _, rec := range filtered {
		if !hasLiveTag(rec.ID) {
			res.Untagged = append(res.Untagged, rec)
		}
	}
	extension.SortByName(res.Untagged, in.Language)
	return res
}

// newMatcher returns a case-insensitive substring test on name or
// description. The query is used as given, whitespace included. An empty
// query matches everything.
func newMatcher(query string) func(extension.Record) bool {
	fold := cases.Fold()
	q := fold.String(query)
	if q == "" {
		return func(extension.Record) bool { return true }
	}
	return func(rec extension.Record) bool {
		return strings.Contains(fold.String(rec.Name), q) ||
			strings.Contains(fold.String(rec.Description), q)
	}
}

func sortedTags(in []tags.Tag) []tags.Tag {
	out := append([]tags.Tag(nil), in...)
	tags.Sort(out)
	return out
}
