package tags

import (
	"slices"
	"sort"
	"time"
)

// Tag is a user-defined label. Order is the sort key; new tags get 0.
type Tag struct {
	ID        string    `json:"id" validate:"required"`
	Name      string    `json:"name"`
	Order     int       `json:"order" validate:"gte=0"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ExtensionTag lists the tags attached to one extension.
type ExtensionTag struct {
	ExtensionID string   `json:"extensionId" validate:"required"`
	TagIDs      []string `json:"tagIds"`
}

// Snapshot is the persisted and exported form of the store.
type Snapshot struct {
	Tags          []Tag          `json:"tags" validate:"unique=ID,dive"`
	ExtensionTags []ExtensionTag `json:"extensionTags" validate:"unique=ExtensionID,dive"`
}

// clone returns a deep copy with non-nil slices so it encodes as [] not null.
func (s Snapshot) clone() Snapshot {
	out := Snapshot{
		Tags:          make([]Tag, len(s.Tags)),
		ExtensionTags: make([]ExtensionTag, len(s.ExtensionTags)),
	}
	copy(out.Tags, s.Tags)
	for i, row := range s.ExtensionTags {
		ids := make([]string, len(row.TagIDs))
		copy(ids, row.TagIDs)
		out.ExtensionTags[i] = ExtensionTag{ExtensionID: row.ExtensionID, TagIDs: ids}
	}
	return out
}

// Sort orders tags by Order, breaking ties by creation time then id.
func Sort(tags []Tag) {
	sort.SliceStable(tags, func(i, j int) bool {
		a, b := tags[i], tags[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// HasTag reports whether row contains tagID.
func (row ExtensionTag) HasTag(tagID string) bool {
	return slices.Contains(row.TagIDs, tagID)
}
