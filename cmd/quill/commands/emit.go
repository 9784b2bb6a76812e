package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/quill/internal/bridge"
	"github.com/dshills/quill/internal/daemon"
	"github.com/dshills/quill/internal/event"
)

func newEmitCommand(a *app) *cobra.Command {
	var (
		payload string
		plan    bool
	)

	cmd := &cobra.Command{
		Use:   "emit TYPE IDENTIFIER",
		Short: "Dispatch one event through the handlers and print the outcome",
		Long: `Dispatch one event through the built-in and hook handlers and print the
outcome as JSON. Useful for testing hooks. emit opens the data directory, so
it cannot run next to a serving daemon.`,
		Example: `  quill emit tool:before write_file --payload '{"path": "/etc/passwd"}'
  quill emit note:created notes/a.md --plan`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			evt, err := event.FromJSON(args[0], args[1], []byte(payload))
			if err != nil {
				return fmt.Errorf("payload: %w", err)
			}

			cfg := a.cfg
			cfg.Hooks.Watch = false
			cfg.Bridge.Enabled = false
			cfg.Metrics.Enabled = false

			ctx := cmd.Context()
			d, err := daemon.New(ctx, cfg, daemon.WithLogger(a.logger), daemon.WithVersion(a.build.Version))
			if err != nil {
				return err
			}
			defer func() { _ = d.Close(context.WithoutCancel(ctx)) }()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if plan {
				infos, err := d.Reactor().Plan(evt)
				if err != nil {
					return err
				}
				names := make([]string, len(infos))
				for i, info := range infos {
					names[i] = info.Name
				}
				return enc.Encode(map[string]any{"type": evt.Type(), "identifier": evt.Identifier(), "plan": names})
			}

			out, err := d.Emit(ctx, evt)
			if err != nil {
				return err
			}
			return enc.Encode(bridge.Project(out))
		},
	}

	cmd.Flags().StringVarP(&payload, "payload", "p", "{}", "event payload as a JSON object")
	cmd.Flags().BoolVar(&plan, "plan", false, "print the handler order without running handlers")
	return cmd
}
