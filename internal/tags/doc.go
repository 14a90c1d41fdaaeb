// Package tags owns Tag entities and the many-to-many association between
// extensions and tags. It is the sole writer of the persisted tag snapshot.
//
// Referential integrity is kept by cascading deletes and by stripping
// dangling ids on import; read paths additionally treat any unknown tag id
// as absent. An association row with an empty tag set is equivalent to no
// row at all.
package tags
