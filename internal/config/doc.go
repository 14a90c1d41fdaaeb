// Package config manages user-level settings stored at ~/.extmgr/config.yaml.
// It provides functions to load, read, and write configuration keys such as
// the storage backend, the host inventory path, and the collation locale.
package config
