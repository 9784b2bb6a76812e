package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/quill/internal/daemon"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		Long: `Run the daemon until interrupted.

Loads hook scripts, opens the note store and, when enabled, starts the plugin
bridge, the metrics endpoint and trace export.`,
		Example: `  # Run with hooks from a directory
  quill serve --hooks-dir ~/.config/quill/hooks

  # Forward events to plugins on stdout and expose metrics
  quill serve --bridge --metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := daemon.New(ctx, a.cfg,
				daemon.WithLogger(a.logger),
				daemon.WithVersion(a.build.Version),
			)
			if err != nil {
				return err
			}

			runErr := d.Run(ctx)

			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := d.Close(closeCtx); err != nil {
				a.logger.Error().Err(err).Msg("shutdown")
			}
			a.logger.Info().Msg("daemon stopped")
			return runErr
		},
	}
}
