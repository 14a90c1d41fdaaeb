package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/extmgr-labs/extmgr/internal/extension"
	"github.com/extmgr-labs/extmgr/internal/tags"
	"github.com/extmgr-labs/extmgr/internal/watch"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow changes made by other sessions",
	Long: `Keep this session's stores in step with writes from other sessions sharing
the same storage, printing a line for each reload. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Watching %s storage (%d tags, %d extensions)\n",
			a.Settings.StorageBackend, len(a.Tags.Tags()), len(a.Extensions.Records()))

		syncer := a.Syncer(watch.WithOnSync(func(key string) {
			switch key {
			case tags.StorageKey:
				fmt.Fprintf(out, "Tags reloaded: %d tags\n", len(a.Tags.Tags()))
			case extension.StorageKey:
				fmt.Fprintf(out, "Extensions reloaded: %d extensions\n", len(a.Extensions.Records()))
			}
		}))
		return syncer.Run(ctx)
	},
}
