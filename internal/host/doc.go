// Package host is the extension-management surface the stores consume: the
// source of truth for which extensions are installed and whether they are
// enabled. Inventory reads a YAML inventory file, Static serves a fixed
// in-memory list, and Opener launches management pages in the browser.
package host
