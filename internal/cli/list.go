package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/extmgr-labs/extmgr/internal/app"
	"github.com/extmgr-labs/extmgr/internal/extension"
	"github.com/extmgr-labs/extmgr/internal/view"
	"github.com/spf13/cobra"
)

var (
	listSearch string
	listShow   string
	listJSON   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed extensions grouped by tag",
	Long: `List installed extensions grouped by tag. An extension with several tags
appears under each of them; extensions without tags are listed last.

--show narrows the list to one of: all, untagged, enabled, disabled, or a tag
id or name.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listSearch, "search", "s", "", "Case-insensitive match on name or description")
	listCmd.Flags().StringVar(&listShow, "show", "all", "Visibility: all, untagged, enabled, disabled, or a tag")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(listCmd)
}

// listOutput is the JSON shape of the list command.
type listOutput struct {
	Groups   []view.Group       `json:"groups"`
	Untagged []extension.Record `json:"untagged"`
}

func runList(cmd *cobra.Command, args []string) error {
	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	visible, err := resolveVisibility(a, listShow)
	if err != nil {
		return err
	}
	a.Tags.SetVisibleTag(visible)

	res := view.Project(view.Input{
		Extensions:    a.Extensions.Records(),
		Tags:          a.Tags.Tags(),
		ExtensionTags: a.Tags.ExtensionTags(),
		Query:         listSearch,
		Visible:       a.Tags.VisibleTag(),
		Language:      a.Language,
	})

	if listJSON {
		out := listOutput{Groups: res.Groups(), Untagged: res.Untagged}
		if out.Groups == nil {
			out.Groups = []view.Group{}
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling list: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	if res.Count() == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No extensions match.")
		return nil
	}
	return printView(cmd.OutOrStdout(), res)
}

// resolveVisibility maps a --show value to a view selector. Tags may be
// named by id or by name.
func resolveVisibility(a *app.App, show string) (string, error) {
	switch show {
	case "", "all":
		return view.ShowAll, nil
	case view.ShowUntagged, view.ShowEnabled, view.ShowDisabled:
		return show, nil
	}
	tag, err := resolveTag(a.Tags, show)
	if err != nil {
		return "", err
	}
	return tag.ID, nil
}

func printView(out io.Writer, res view.Result) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	for _, g := range res.Groups() {
		fmt.Fprintf(w, "%s (%d)\n", g.Tag.Name, len(g.Extensions))
		printRecords(w, g.Extensions)
		fmt.Fprintln(w)
	}
	if len(res.Untagged) > 0 {
		fmt.Fprintf(w, "Untagged (%d)\n", len(res.Untagged))
		printRecords(w, res.Untagged)
	}
	return w.Flush()
}

func printRecords(w io.Writer, records []extension.Record) {
	for _, r := range records {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", r.ID, r.Name, versionOrDash(r.Version), stateLabel(r))
	}
}

func versionOrDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func stateLabel(r extension.Record) string {
	label := "disabled"
	if r.Enabled {
		label = "enabled"
	}
	if r.Locked {
		label += ", locked"
	}
	return label
}
