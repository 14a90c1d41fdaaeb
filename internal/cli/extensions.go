package cli

import (
	"errors"
	"fmt"

	"github.com/extmgr-labs/extmgr/internal/branding"
	"github.com/extmgr-labs/extmgr/internal/extension"
	"github.com/spf13/cobra"
)

var (
	toggleForce bool
	openOptions bool
	openHome    bool
)

func init() {
	for _, c := range []*cobra.Command{enableCmd, disableCmd} {
		c.Flags().BoolVarP(&toggleForce, "force", "f", false, "Toggle even if the extension is locked")
	}
	openCmd.Flags().BoolVar(&openOptions, "options", false, "Open the extension's own settings page")
	openCmd.Flags().BoolVar(&openHome, "homepage", false, "Open the extension's homepage")

	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(openCmd)
}

var enableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable an extension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runToggle(cmd, args[0], true)
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable an extension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runToggle(cmd, args[0], false)
	},
}

func runToggle(cmd *cobra.Command, id string, enabled bool) error {
	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	rec, ok := a.Extensions.Get(id)
	if !ok {
		return fmt.Errorf("%q: %w", id, extension.ErrNotFound)
	}
	if !rec.Toggleable() && !toggleForce {
		return fmt.Errorf("%s (%s): %w; unlock it or pass --force", rec.Name, id, extension.ErrLocked)
	}
	if rec.Enabled == enabled {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is already %s\n", rec.Name, stateWord(enabled))
		return nil
	}

	if err := a.Extensions.ToggleEnabled(cmd.Context(), id, enabled); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", stateWordTitle(enabled), rec.Name)
	return nil
}

func stateWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func stateWordTitle(enabled bool) string {
	if enabled {
		return "Enabled"
	}
	return "Disabled"
}

var lockCmd = &cobra.Command{
	Use:   "lock <id>",
	Short: "Lock an extension so enable and disable are refused",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLock(cmd, args[0], true)
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <id>",
	Short: "Unlock an extension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLock(cmd, args[0], false)
	},
}

func runLock(cmd *cobra.Command, id string, locked bool) error {
	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	if err := a.Extensions.ToggleLock(id, locked); err != nil {
		return err
	}
	rec, _ := a.Extensions.Get(id)
	if locked {
		fmt.Fprintf(cmd.OutOrStdout(), "Locked %s\n", rec.Name)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Unlocked %s\n", rec.Name)
	}
	return nil
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <id>",
	Short: "Uninstall an extension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		id := args[0]
		rec, _ := a.Extensions.Get(id)
		if err := a.Extensions.Uninstall(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled %s\n", rec.Name)
		return nil
	},
}

var errNoPage = errors.New("extension does not provide that page")

var openCmd = &cobra.Command{
	Use:   "open <id>",
	Short: "Open an extension's management page in the browser",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		id := args[0]
		rec, ok := a.Extensions.Get(id)
		if !ok {
			return fmt.Errorf("%q: %w", id, extension.ErrNotFound)
		}

		url := branding.ManageURL(id)
		switch {
		case openOptions:
			url = rec.OptionsURL
		case openHome:
			url = rec.HomepageURL
		}
		if url == "" {
			return fmt.Errorf("%s: %w", rec.Name, errNoPage)
		}

		if err := a.Opener.Open(cmd.Context(), url); err != nil {
			return fmt.Errorf("opening %s: %w", url, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Opened %s\n", url)
		return nil
	},
}
