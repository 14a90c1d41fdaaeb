package cli

import (
	"fmt"

	"github.com/extmgr-labs/extmgr/internal/app"
	"github.com/extmgr-labs/extmgr/internal/config"
	"github.com/extmgr-labs/extmgr/internal/doctor"
	"github.com/spf13/cobra"
)

var doctorFix bool

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Repair missing directories and file permissions")
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check storage, host inventory, and persisted state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.Current()
		a, err := app.New(cmd.Context(), settings, nil, appOptions...)
		if err != nil {
			return err
		}
		defer a.Close()

		c := &doctor.Checker{W: cmd.OutOrStdout(), Settings: settings, Store: a.Store, Fix: doctorFix}
		if n := c.Run(cmd.Context()); n > 0 {
			return fmt.Errorf("%d problem(s) found", n)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All checks passed.")
		return nil
	},
}
