// Package view derives the grouped extension list shown to the user from the
// extension records, the tag collections, a search query and a visibility
// selector. It holds no state: Project is a pure function of its input.
package view
