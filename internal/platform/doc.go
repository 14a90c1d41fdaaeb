// Package platform provides cross-platform filesystem operations used by the
// file-backed store: permission management and atomic replacement of files.
// On Windows chmod is a no-op because Unix permission bits do not apply.
package platform
