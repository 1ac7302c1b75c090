// Package cli implements the ksched command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/ksched/internal/config"
	"github.com/me/ksched/internal/logging"
)

// Version is set at build time with -ldflags "-X github.com/me/ksched/internal/cli.Version=...".
var Version = "dev"

var (
	flagConfig    string
	flagServer    string
	flagDB        string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	simCfg config.SimConfig
	logger *slog.Logger
	client *Client
)

// defaultServer returns the default monitor URL, checking KSCHED_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("KSCHED_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the ksched CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ksched",
		Short: "ksched: a preemptible kernel scheduler simulator",
		Long: "ksched runs scheduling scenarios on a simulated single-CPU kernel with priority donation\n" +
			"or a multi-level feedback queue, records their traces and serves them over HTTP.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultSimConfig()
			if flagConfig != "" {
				loaded, err := config.Load(flagConfig)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			flags := cmd.Flags()
			if flags.Changed("log-level") || flagConfig == "" {
				cfg.LogLevel = flagLogLevel
			}
			if flags.Changed("log-format") || flagConfig == "" {
				cfg.LogFormat = flagLogFormat
			}
			if flags.Changed("db") {
				cfg.DBPath = flagDB
			}
			if flagDebug {
				cfg.LogLevel = "debug"
			}
			simCfg = cfg
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Simulation config file (YAML)")
	pf.StringVar(&flagServer, "server", defaultServer(), "ksched monitor URL (or KSCHED_SERVER env)")
	pf.StringVar(&flagDB, "db", "", "Run database path (default ~/.ksched/ksched.db)")
	pf.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newServeCmd(),
		newRunsCmd(),
		newSubmitCmd(),
		newStatusCmd(),
		newCancelCmd(),
		newThreadsCmd(),
		newVersionCmd(),
	)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ksched version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ksched %s\n", Version)
		},
	}
}
