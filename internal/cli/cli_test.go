package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/extmgr-labs/extmgr/internal/app"
	"github.com/extmgr-labs/extmgr/internal/extension"
	"github.com/extmgr-labs/extmgr/internal/host"
	"github.com/extmgr-labs/extmgr/internal/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingOpener struct{ urls []string }

func (r *recordingOpener) Open(_ context.Context, url string) error {
	r.urls = append(r.urls, url)
	return nil
}

// setupHome points the CLI at a fresh home with a two-extension inventory.
func setupHome(t *testing.T) (string, *recordingOpener) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("EXTMGR_HOME", home)
	viper.Reset()
	t.Cleanup(viper.Reset)

	require.NoError(t, host.SaveInventory(filepath.Join(home, "inventory.yaml"), &host.InventoryFile{
		Extensions: []host.Installed{
			{ID: "e1", Name: "Dark Reader", Version: "4.9.80", Enabled: true, OptionsURL: "chrome-extension://e1/options.html"},
			{ID: "e2", Name: "Zotero Connector", Version: "5.0.1", Enabled: false},
		},
	}))

	opener := &recordingOpener{}
	appOptions = []app.Option{app.WithOpener(opener)}
	t.Cleanup(func() { appOptions = nil })
	return home, opener
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := run(t, args...)
	require.NoError(t, err, "args=%v stderr=%s", args, stderr)
	return out
}

func TestVersionShort(t *testing.T) {
	buildVersion = "1.2.3"
	out := mustRun(t, "version", "--short")
	assert.Equal(t, "1.2.3\n", out)
}

func TestListGroupsByTag(t *testing.T) {
	setupHome(t)

	out := mustRun(t, "list")
	assert.Contains(t, out, "Untagged (2)")

	mustRun(t, "tag", "add", "Dev")
	mustRun(t, "tag", "assign", "Dev", "e1")

	out = mustRun(t, "list")
	assert.Contains(t, out, "Dev (1)")
	assert.Contains(t, out, "Untagged (1)")
	devAt := strings.Index(out, "Dev (1)")
	untaggedAt := strings.Index(out, "Untagged (1)")
	assert.Less(t, devAt, untaggedAt)
	assert.Less(t, strings.Index(out, "Dark Reader"), untaggedAt)

	out = mustRun(t, "list", "--show", "disabled", "--json")
	var got listOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Empty(t, got.Groups)
	require.Len(t, got.Untagged, 1)
	assert.Equal(t, "e2", got.Untagged[0].ID)

	out = mustRun(t, "list", "--search", "zotero")
	assert.NotContains(t, out, "Dark Reader")
	assert.Contains(t, out, "Zotero Connector")

	out = mustRun(t, "list", "--search", "nothing-matches")
	assert.Contains(t, out, "No extensions match.")

	_, _, err := run(t, "list", "--show", "Nope")
	assert.ErrorIs(t, err, errUnknownTag)
}

func TestLockBlocksToggle(t *testing.T) {
	home, _ := setupHome(t)

	mustRun(t, "lock", "e1")
	_, _, err := run(t, "disable", "e1")
	require.ErrorIs(t, err, extension.ErrLocked)

	out := mustRun(t, "disable", "e1", "--force")
	assert.Contains(t, out, "Disabled Dark Reader")

	inv, err := host.LoadInventory(filepath.Join(home, "inventory.yaml"))
	require.NoError(t, err)
	assert.False(t, inv.Extensions[0].Enabled, "change relayed to the host inventory")

	mustRun(t, "unlock", "e1")
	out = mustRun(t, "enable", "e1")
	assert.Contains(t, out, "Enabled Dark Reader")

	out = mustRun(t, "enable", "e1")
	assert.Contains(t, out, "already enabled")

	_, _, err = run(t, "enable", "missing")
	assert.ErrorIs(t, err, extension.ErrNotFound)
}

func TestTagLifecycle(t *testing.T) {
	setupHome(t)

	mustRun(t, "tag", "add", "Work")
	mustRun(t, "tag", "add", "Dev")
	mustRun(t, "tag", "assign", "Work", "e1", "e2")

	out := mustRun(t, "tag", "list")
	assert.Less(t, strings.Index(out, "Dev"), strings.Index(out, "Work"), "newest tag sorts first")

	out = mustRun(t, "tag", "reorder", "Work", "Dev")
	assert.Contains(t, out, "Tag order: Work, Dev")

	mustRun(t, "tag", "rename", "Work", "Job")
	mustRun(t, "tag", "unassign", "Job", "e2")
	out = mustRun(t, "list")
	assert.Contains(t, out, "Job (1)")

	mustRun(t, "tag", "delete", "Job")
	out = mustRun(t, "list")
	assert.Contains(t, out, "Untagged (2)")

	mustRun(t, "tag", "add", "Dev")
	_, _, err := run(t, "tag", "delete", "Dev")
	assert.ErrorIs(t, err, errAmbiguousTag)

	_, _, err = run(t, "tag", "add", "  ")
	assert.Error(t, err)
}

func TestProfileExportImport(t *testing.T) {
	home, _ := setupHome(t)

	mustRun(t, "tag", "add", "Dev")
	mustRun(t, "tag", "assign", "Dev", "e2")
	mustRun(t, "lock", "e2")

	outDir := filepath.Join(home, "exports")
	out := mustRun(t, "profile", "export", "--out", outDir)
	assert.Contains(t, out, "Exported profile to")
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	path := filepath.Join(outDir, entries[0].Name())

	mustRun(t, "tag", "delete", "Dev")
	mustRun(t, "unlock", "e2")

	out = mustRun(t, "profile", "import", path)
	assert.Contains(t, out, "Imported 1 tags, 1 tag assignments, 2 extension states")

	out = mustRun(t, "list")
	assert.Contains(t, out, "Dev (1)")
	assert.Contains(t, out, "disabled, locked")

	stdout := mustRun(t, "profile", "export", "--out", "-")
	_, err = profile.Parse([]byte(stdout))
	assert.NoError(t, err)
}

func TestProfileImportRejects(t *testing.T) {
	home, _ := setupHome(t)
	mustRun(t, "tag", "add", "Keep")

	bad := filepath.Join(home, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"tags": []}`), 0o600))

	_, stderr, err := run(t, "profile", "import", bad)
	require.ErrorIs(t, err, profile.ErrInvalidDocument)
	assert.Contains(t, stderr, "nothing was changed")

	out := mustRun(t, "tag", "list")
	assert.Contains(t, out, "Keep")
}

func TestOpen(t *testing.T) {
	_, opener := setupHome(t)

	mustRun(t, "open", "e1")
	mustRun(t, "open", "e1", "--options")
	assert.Equal(t, []string{"chrome://extensions/?id=e1", "chrome-extension://e1/options.html"}, opener.urls)

	_, _, err := run(t, "open", "e2", "--homepage")
	assert.ErrorIs(t, err, errNoPage)
}

func TestUninstall(t *testing.T) {
	setupHome(t)
	out := mustRun(t, "uninstall", "e2")
	assert.Contains(t, out, "Uninstalled Zotero Connector")

	out = mustRun(t, "list")
	assert.NotContains(t, out, "Zotero")
}
