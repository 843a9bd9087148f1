// Package cmd implements the udprec command line: send records from a database, listen for them, and query a
// running listener's status.
package cmd

import (
	"fmt"
	"os"

	"github.com/rflandau/udprec/udprec/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app is the state shared by every subcommand, populated by the root's PersistentPreRunE.
type app struct {
	cfg *config.Config
	log zerolog.Logger
}

// NewRootCmd assembles the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "udprec",
		Short: "Send and receive id-tagged text records over UDP",
		Long: `udprec moves records (a 32-bit id plus UTF-8 text) between hosts, one record per UDP datagram.

Examples:
  udprec send --dest 10.0.0.2:8142 --db test/test.sqlite
  udprec send --dest 10.0.0.2:8142 --id 7 --text "hello"
  udprec listen --bind 0.0.0.0:8142 --status 127.0.0.1:8080 --journal
  udprec status --addr 127.0.0.1:8080`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().String("config", "", "path to a YAML config file")
	root.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "log format (console or json)")
	root.PersistentFlags().String("db", "", "sqlite database holding records")

	root.AddCommand(newSendCmd(a), newListenCmd(a), newStatusCmd(a))
	return root
}

// load reads the config file (if any), applies global flag overrides, validates, and builds the logger.
func (a *app) load(cmd *cobra.Command) error {
	a.cfg = config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		c, err := config.LoadConfig(path)
		if err != nil {
			return err
		}
		a.cfg = c
	}

	overrideString(cmd, "log-level", &a.cfg.Logging.Level)
	overrideString(cmd, "log-format", &a.cfg.Logging.Format)
	overrideString(cmd, "db", &a.cfg.Database)

	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l, err := newLogger(cmd.OutOrStdout(), a.cfg.Logging.Level, a.cfg.Logging.Format)
	if err != nil {
		return err
	}
	a.log = l
	return nil
}

// overrideString replaces *dst with the named flag's value if the flag was given on the command line.
func overrideString(cmd *cobra.Command, name string, dst *string) {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		*dst = f.Value.String()
	}
}

// Execute runs the command tree against os.Args, exiting non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
