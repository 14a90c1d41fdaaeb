// Package doctor checks the on-disk layout and persisted state and, when
// asked, repairs what it safely can.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/extmgr-labs/extmgr/internal/config"
	"github.com/extmgr-labs/extmgr/internal/extension"
	"github.com/extmgr-labs/extmgr/internal/host"
	"github.com/extmgr-labs/extmgr/internal/kv"
	"github.com/extmgr-labs/extmgr/internal/platform"
	"github.com/extmgr-labs/extmgr/internal/tags"
)

// Checker writes one line per check to W and counts problems found.
type Checker struct {
	W        io.Writer
	Settings config.Settings
	Store    kv.Store
	Fix      bool

	problems int
}

// Run performs every check and returns the number of problems left unfixed.
func (c *Checker) Run(ctx context.Context) int {
	c.problems = 0
	fmt.Fprintln(c.W, "Storage check:")
	if c.Settings.StorageBackend == kv.BackendFile || c.Settings.StorageBackend == "" {
		c.checkDirWithPerm(c.Settings.StorageDir, platform.DirPermSecure)
		c.checkFilePerms(c.Settings.StorageDir)
	} else {
		fmt.Fprintf(c.W, "  [ OK ] %s backend\n", c.Settings.StorageBackend)
	}

	fmt.Fprintln(c.W, "Host check:")
	c.checkInventory(c.Settings.HostInventory)

	fmt.Fprintln(c.W, "State check:")
	c.checkTags(ctx)
	c.checkExtensions(ctx)
	return c.problems
}

func (c *Checker) ok(format string, args ...any) {
	fmt.Fprintf(c.W, "  [ OK ] "+format+"\n", args...)
}

func (c *Checker) problem(tag, format string, args ...any) {
	c.problems++
	fmt.Fprintf(c.W, "  ["+tag+"] "+format+"\n", args...)
}

func (c *Checker) fixed(format string, args ...any) {
	c.problems--
	fmt.Fprintf(c.W, "  [FIX ] "+format+"\n", args...)
}

func (c *Checker) checkDirWithPerm(path string, expectedPerm os.FileMode) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		c.problem("MISS", "%s does not exist", path)
		if c.Fix {
			if mkErr := os.MkdirAll(path, expectedPerm); mkErr != nil {
				fmt.Fprintf(c.W, "  [FAIL] Could not create %s: %v\n", path, mkErr)
				return
			}
			_ = platform.Chmod(path, expectedPerm)
			c.fixed("Created %s with %o", path, expectedPerm)
		}
		return
	}
	if err != nil {
		c.problem("FAIL", "%s: %v", path, err)
		return
	}

	actualPerm := info.Mode().Perm()
	if actualPerm != expectedPerm {
		c.problem("WARN", "%s has permissions %o (expected %o)", path, actualPerm, expectedPerm)
		if c.Fix {
			if chErr := platform.Chmod(path, expectedPerm); chErr != nil {
				fmt.Fprintf(c.W, "  [FAIL] Could not fix permissions on %s: %v\n", path, chErr)
				return
			}
			c.fixed("Fixed permissions on %s to %o", path, expectedPerm)
		}
		return
	}
	c.ok("%s (permissions %o)", path, actualPerm)
}

func (c *Checker) checkFilePerms(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return // reported by checkDirWithPerm
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		perm := info.Mode().Perm()
		if perm == platform.FilePermSecure {
			continue
		}
		c.problem("WARN", "%s has permissions %o (expected %o)", path, perm, platform.FilePermSecure)
		if c.Fix {
			if chErr := platform.Chmod(path, platform.FilePermSecure); chErr != nil {
				fmt.Fprintf(c.W, "  [FAIL] Could not fix permissions on %s: %v\n", path, chErr)
				continue
			}
			c.fixed("Fixed permissions on %s to %o", path, platform.FilePermSecure)
		}
	}
}

func (c *Checker) checkInventory(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		c.problem("MISS", "%s does not exist; no extensions will be listed", path)
		return
	}
	inv, err := host.LoadInventory(path)
	if err != nil {
		c.problem("FAIL", "%v", err)
		return
	}
	seen := make(map[string]bool)
	for _, ext := range inv.Extensions {
		if ext.ID == "" {
			c.problem("WARN", "%s lists an extension without an id", path)
			continue
		}
		if seen[ext.ID] {
			c.problem("WARN", "%s lists %s more than once", path, ext.ID)
		}
		seen[ext.ID] = true
	}
	c.ok("%s (%d extensions)", path, len(inv.Extensions))
}

func (c *Checker) read(ctx context.Context, key string) ([]byte, bool) {
	data, ok, err := c.Store.Get(ctx, key)
	if err != nil {
		c.problem("FAIL", "reading %s: %v", key, err)
		return nil, false
	}
	if !ok {
		c.ok("%s not written yet", key)
		return nil, false
	}
	return data, true
}

func (c *Checker) checkTags(ctx context.Context) {
	data, ok := c.read(ctx, tags.StorageKey)
	if !ok {
		return
	}
	var snap tags.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.problem("FAIL", "%s is not valid JSON: %v", tags.StorageKey, err)
		return
	}

	live := make(map[string]bool, len(snap.Tags))
	orders := make(map[int]bool, len(snap.Tags))
	for _, t := range snap.Tags {
		if live[t.ID] {
			c.problem("WARN", "%s has duplicate tag id %s", tags.StorageKey, t.ID)
		}
		live[t.ID] = true
		orders[t.Order] = true
	}
	dangling := 0
	for _, row := range snap.ExtensionTags {
		for _, id := range row.TagIDs {
			if !live[id] {
				dangling++
			}
		}
	}
	if dangling > 0 {
		c.problem("WARN", "%s has %d references to deleted tags", tags.StorageKey, dangling)
	}
	if !denseOrders(orders, len(snap.Tags)) {
		c.problem("WARN", "%s has tag orders that are not 0..%d; run 'tag reorder' to renumber", tags.StorageKey, len(snap.Tags)-1)
	}
	c.ok("%s (%d tags, %d tagged extensions)", tags.StorageKey, len(snap.Tags), len(snap.ExtensionTags))
}

// denseOrders reports whether orders holds exactly 0..n-1.
func denseOrders(orders map[int]bool, n int) bool {
	if len(orders) != n {
		return false
	}
	for i := 0; i < n; i++ {
		if !orders[i] {
			return false
		}
	}
	return true
}

func (c *Checker) checkExtensions(ctx context.Context) {
	data, ok := c.read(ctx, extension.StorageKey)
	if !ok {
		return
	}
	var p struct {
		Extensions []extension.State `json:"extensions"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		c.problem("FAIL", "%s is not valid JSON: %v", extension.StorageKey, err)
		return
	}
	locked := 0
	for _, st := range p.Extensions {
		if st.Locked {
			locked++
		}
	}
	c.ok("%s (%d extensions, %d locked)", extension.StorageKey, len(p.Extensions), locked)
}
