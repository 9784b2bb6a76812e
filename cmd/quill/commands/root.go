// Package commands implements the quill command line.
package commands

import (
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dshills/quill/cmd/quill/internal/format"
	"github.com/dshills/quill/internal/config"
	"github.com/dshills/quill/internal/logging"
)

// BuildInfo identifies the binary.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// app carries state shared by subcommands after the root pre-run.
type app struct {
	build      BuildInfo
	configPath string
	cfg        config.Config
	logger     zerolog.Logger
}

// NewCommand creates the root command with all subcommands.
func NewCommand(build BuildInfo) *cobra.Command {
	a := &app{build: build}

	cmd := &cobra.Command{
		Use:   "quill",
		Short: "Event-driven knowledge daemon",
		Long: `quill stores notes and routes every note, tool and session event through
handlers written in Go, Lua or CUE.

Hook scripts live in the configured hook directories and are reloaded when
they change.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (default "+config.DefaultPath()+")")
	config.BindFlags(flags)

	cmd.AddCommand(newServeCommand(a))
	cmd.AddCommand(newHooksCommand(a))
	cmd.AddCommand(newEmitCommand(a))
	cmd.AddCommand(newVersionCommand(a))
	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.ConfigureWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// formatter returns the output formatter for cmd's --output flag.
func (a *app) formatter(cmd *cobra.Command) (*format.Formatter, error) {
	output, _ := cmd.Flags().GetString("output")
	mode, err := format.ParseMode(output)
	if err != nil {
		return nil, err
	}
	return format.New(cmd.OutOrStdout(), mode, !color.NoColor), nil
}
