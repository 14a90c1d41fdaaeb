package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/extmgr-labs/extmgr/internal/profile"
	"github.com/spf13/cobra"
)

var profileOut string

func init() {
	profileExportCmd.Flags().StringVarP(&profileOut, "out", "o", ".", "Directory to write the profile into, or - for stdout")

	profileCmd.AddCommand(profileExportCmd)
	profileCmd.AddCommand(profileImportCmd)
	rootCmd.AddCommand(profileCmd)
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Export or import tags, locks, and enabled states",
	Long: `A profile is a JSON document holding every tag, every tag assignment, and
the enabled and locked state of every installed extension. Importing one
replaces all tags and assignments and applies the extension states to the
extensions that are installed.`,
}

var profileExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the current profile to a timestamped file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		if profileOut == "-" {
			return a.Profiles.Export(cmd.Context(), cmd.OutOrStdout())
		}
		if err := os.MkdirAll(profileOut, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", profileOut, err)
		}
		path, err := a.Profiles.ExportFile(cmd.Context(), profileOut)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported profile to %s\n", path)
		return nil
	},
}

var profileImportCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Replace tags and apply extension states from a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}

		a, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		sum, err := a.Profiles.Import(cmd.Context(), data)
		var ve *profile.ValidationError
		if errors.As(err, &ve) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Profile rejected; nothing was changed:")
			for _, issue := range ve.Issues {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", issue)
			}
			return profile.ErrInvalidDocument
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Imported %d tags, %d tag assignments, %d extension states\n",
			sum.Tags, sum.ExtensionTags, sum.Extensions)
		if sum.Stripped > 0 {
			fmt.Fprintf(out, "Dropped %d references to tags not in the profile\n", sum.Stripped)
		}
		return nil
	},
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}
