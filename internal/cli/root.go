package cli

import (
	"fmt"
	"os"

	"github.com/extmgr-labs/extmgr/internal/app"
	"github.com/extmgr-labs/extmgr/internal/branding"
	"github.com/extmgr-labs/extmgr/internal/config"
	"github.com/extmgr-labs/extmgr/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string
)

var (
	flagDebug bool

	// appOptions lets tests substitute collaborators.
	appOptions []app.Option
)

var rootCmd = &cobra.Command{
	Use:   branding.CLIName(),
	Short: branding.Description(),
	Long: branding.DisplayName() + ` lists the browser extensions reported by the host inventory and lets you
enable, disable, lock, tag, group, and search them, and export or import the
whole configuration as a profile.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
}

// Execute runs the root command with build info injected via ldflags.
func Execute(version, commit, date string) error {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// openApp wires the stores from the current settings and loads them. The
// returned closer flushes pending writes.
func openApp(cmd *cobra.Command) (*app.App, func(), error) {
	settings := config.Current()
	log, err := logging.New(settings.LogDebug || flagDebug, settings.LogJSON)
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, settings, log, appOptions...)
	if err != nil {
		_ = logging.Sync(log)
		return nil, nil, err
	}
	closer := func() {
		if err := a.Close(); err != nil {
			log.Error("closing application", zap.Error(err))
		}
		_ = logging.Sync(log)
	}

	if err := a.Load(ctx); err != nil {
		closer()
		return nil, nil, fmt.Errorf("loading extensions: %w", err)
	}
	return a, closer, nil
}
