// Package watch keeps one process's stores in step with writes made by other
// surfaces sharing the same backing store. Each surface holds its own
// in-memory state; a change notification on a store key triggers a reload of
// the store that owns it.
package watch
