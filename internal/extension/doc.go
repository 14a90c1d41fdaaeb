// Package extension mirrors the host's installed extensions into a local
// record list, overlays the locally owned locked flag, and relays enable,
// disable, lock, unlock, and uninstall actions. Only the locked flag is
// authoritative local state; everything else is refetched on every Load.
package extension
