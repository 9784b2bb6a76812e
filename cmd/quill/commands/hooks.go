package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/quill/internal/daemon"
	"github.com/dshills/quill/internal/event"
	"github.com/dshills/quill/internal/hook"
)

// ErrHooksInvalid is returned by hooks check when a hook file is broken.
var ErrHooksInvalid = errors.New("hook check failed")

func newHooksCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Inspect hook scripts",
		Long: `Inspect the Lua and CUE hook scripts in the configured hook directories
without starting the daemon.`,
	}
	cmd.PersistentFlags().String("output", "table", "output format: json, table")

	cmd.AddCommand(newHooksListCommand(a))
	cmd.AddCommand(newHooksCheckCommand(a))
	return cmd
}

func (a *app) inspect() hook.Report {
	return hook.Inspect(a.cfg.Hooks.Dirs, daemon.Engines(a.cfg, a.logger), daemon.BuiltinNames()...)
}

func newHooksListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List handlers declared by hook scripts",
		Example: `  quill hooks list
  quill hooks list --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.formatter(cmd)
			if err != nil {
				return err
			}
			report := a.inspect()

			var handlers []event.SubscriptionInfo
			for _, fr := range report.Files {
				handlers = append(handlers, fr.Handlers...)
			}

			if f.IsJSON() {
				return f.JSON(map[string]any{
					"handlers": handlerRows(handlers),
					"count":    len(handlers),
				})
			}
			if len(handlers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No hook handlers found.")
				return nil
			}

			headers := []string{"name", "runtime", "filter", "priority", "enabled", "depends", "source"}
			rows := make([][]string, 0, len(handlers))
			for _, h := range handlers {
				rows = append(rows, []string{
					h.Name,
					h.Runtime.String(),
					h.Filter.String(),
					h.Priority.String(),
					strconv.FormatBool(h.Enabled),
					strings.Join(h.Dependencies, ","),
					h.Source,
				})
			}
			return f.Table(headers, rows)
		},
	}
}

type handlerRow struct {
	Name         string   `json:"name"`
	Runtime      string   `json:"runtime"`
	Filter       string   `json:"filter"`
	Priority     int      `json:"priority"`
	Enabled      bool     `json:"enabled"`
	Dependencies []string `json:"depends"`
	Source       string   `json:"source"`
}

func handlerRows(infos []event.SubscriptionInfo) []handlerRow {
	rows := make([]handlerRow, 0, len(infos))
	for _, h := range infos {
		deps := h.Dependencies
		if deps == nil {
			deps = []string{}
		}
		rows = append(rows, handlerRow{
			Name:         h.Name,
			Runtime:      h.Runtime.String(),
			Filter:       h.Filter.String(),
			Priority:     int(h.Priority),
			Enabled:      h.Enabled,
			Dependencies: deps,
			Source:       h.Source,
		})
	}
	return rows
}

func newHooksCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compile hook scripts and report problems",
		Long: `Compile every hook script and hooks.toml manifest. Reports compile errors,
duplicate handler names and dependencies on unknown handlers. Exits non-zero
when any file fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.formatter(cmd)
			if err != nil {
				return err
			}
			report := a.inspect()

			if f.IsJSON() {
				files := make([]map[string]any, 0, len(report.Files))
				for _, fr := range report.Files {
					entry := map[string]any{"path": fr.Path, "handlers": len(fr.Handlers)}
					if fr.Err != nil {
						entry["error"] = fr.Err.Error()
					}
					files = append(files, entry)
				}
				warnings := report.Warnings
				if warnings == nil {
					warnings = []string{}
				}
				if err := f.JSON(map[string]any{"ok": report.OK(), "files": files, "warnings": warnings}); err != nil {
					return err
				}
			} else {
				for _, fr := range report.Files {
					if fr.Err != nil {
						f.Fail("%s: %v", fr.Path, fr.Err)
						continue
					}
					f.OK("%s (%d handlers)", fr.Path, len(fr.Handlers))
				}
				for _, w := range report.Warnings {
					f.Warn("%s", w)
				}
			}

			if !report.OK() {
				return ErrHooksInvalid
			}
			return nil
		},
	}
}
