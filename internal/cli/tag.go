package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/extmgr-labs/extmgr/internal/extension"
	"github.com/extmgr-labs/extmgr/internal/tags"
	"github.com/spf13/cobra"
)

var (
	errUnknownTag   = errors.New("no such tag")
	errAmbiguousTag = errors.New("tag name is ambiguous; use the id")
)

var tagListJSON bool

func init() {
	tagListCmd.Flags().BoolVar(&tagListJSON, "json", false, "Output in JSON format")

	tagCmd.AddCommand(tagListCmd)
	tagCmd.AddCommand(tagAddCmd)
	tagCmd.AddCommand(tagRenameCmd)
	tagCmd.AddCommand(tagDeleteCmd)
	tagCmd.AddCommand(tagReorderCmd)
	tagCmd.AddCommand(tagAssignCmd)
	tagCmd.AddCommand(tagUnassignCmd)
	rootCmd.AddCommand(tagCmd)
}

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage tags and their extensions",
	Long: `Create, rename, delete, and reorder tags, and attach them to extensions.

Tags may be referred to by id or, when unique, by name.`,
}

// resolveTag finds a tag by id, then by exact name.
func resolveTag(store *tags.Store, ref string) (tags.Tag, error) {
	if t, ok := store.Tag(ref); ok {
		return t, nil
	}
	var found []tags.Tag
	for _, t := range store.Tags() {
		if t.Name == ref {
			found = append(found, t)
		}
	}
	switch len(found) {
	case 0:
		return tags.Tag{}, fmt.Errorf("%q: %w", ref, errUnknownTag)
	case 1:
		return found[0], nil
	default:
		return tags.Tag{}, fmt.Errorf("%q: %w", ref, errAmbiguousTag)
	}
}

var tagListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show all tags in display order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		all := a.Tags.Tags()
		if tagListJSON {
			data, err := json.MarshalIndent(all, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling tags: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		if len(all) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tags yet.")
			return nil
		}

		counts := make(map[string]int)
		for _, row := range a.Tags.ExtensionTags() {
			for _, id := range row.TagIDs {
				counts[id]++
			}
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ORDER\tID\tNAME\tEXTENSIONS")
		for _, t := range all {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", t.Order, t.ID, t.Name, counts[t.ID])
		}
		return w.Flush()
	},
}

var tagAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a tag; it sorts first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		name := strings.TrimSpace(args[0])
		if name == "" {
			return errors.New("tag name must not be empty")
		}
		t, err := a.Tags.AddTag(cmd.Context(), name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created tag %s (%s)\n", t.Name, t.ID)
		return nil
	},
}

var tagRenameCmd = &cobra.Command{
	Use:   "rename <tag> <new-name>",
	Short: "Rename a tag",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		t, err := resolveTag(a.Tags, args[0])
		if err != nil {
			return err
		}
		if err := a.Tags.UpdateTag(cmd.Context(), t.ID, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %s\n", t.Name, args[1])
		return nil
	},
}

var tagDeleteCmd = &cobra.Command{
	Use:   "delete <tag>",
	Short: "Delete a tag and detach it from every extension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		t, err := resolveTag(a.Tags, args[0])
		if err != nil {
			return err
		}
		if err := a.Tags.DeleteTag(cmd.Context(), t.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted tag %s\n", t.Name)
		return nil
	},
}

var tagReorderCmd = &cobra.Command{
	Use:   "reorder <tag>...",
	Short: "Set the display order of tags",
	Long: `Set the display order of tags. Tags are given in the new order; tags not
listed keep their relative order after the listed ones.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		ids := make([]string, 0, len(args))
		for _, ref := range args {
			t, err := resolveTag(a.Tags, ref)
			if err != nil {
				return err
			}
			ids = append(ids, t.ID)
		}
		if err := a.Tags.ReorderTags(cmd.Context(), ids); err != nil {
			return err
		}
		names := make([]string, 0, len(ids))
		for _, t := range a.Tags.Tags() {
			names = append(names, t.Name)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tag order: %s\n", strings.Join(names, ", "))
		return nil
	},
}

var tagAssignCmd = &cobra.Command{
	Use:   "assign <tag> <extension-id>...",
	Short: "Attach a tag to extensions",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMembership(cmd, args[0], args[1:], true)
	},
}

var tagUnassignCmd = &cobra.Command{
	Use:   "unassign <tag> <extension-id>...",
	Short: "Detach a tag from extensions",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMembership(cmd, args[0], args[1:], false)
	},
}

func runMembership(cmd *cobra.Command, ref string, extIDs []string, attach bool) error {
	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	t, err := resolveTag(a.Tags, ref)
	if err != nil {
		return err
	}
	for _, id := range extIDs {
		rec, ok := a.Extensions.Get(id)
		if !ok {
			return fmt.Errorf("%q: %w", id, extension.ErrNotFound)
		}
		if attach {
			err = a.Tags.AddTagToExtension(cmd.Context(), id, t.ID)
		} else {
			err = a.Tags.RemoveTagFromExtension(cmd.Context(), id, t.ID)
		}
		if err != nil {
			return err
		}
		if attach {
			fmt.Fprintf(cmd.OutOrStdout(), "Tagged %s with %s\n", rec.Name, t.Name)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", t.Name, rec.Name)
		}
	}
	return nil
}
