// Datadog trace export tool
// Sends exported OpenTelemetry spans to the Datadog trace intake and works with x-datadog-* headers
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andrewh/ddspan/pkg/logging"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalOptions holds flags shared by every subcommand.
type globalOptions struct {
	configFile string
	logLevel   string
	logFormat  string

	logger *zap.Logger
}

func rootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:          "ddspan",
		Short:        "Datadog trace export for OpenTelemetry spans",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Config{Level: g.logLevel, Format: g.logFormat})
			if err != nil {
				return err
			}
			g.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if g.logger != nil {
				_ = g.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&g.configFile, "config", "", "config file (YAML, JSON or TOML)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "console", "log format: console or json")

	root.AddCommand(sendCmd(g))
	root.AddCommand(encodeCmd(g))
	root.AddCommand(headersCmd())
	root.AddCommand(versionCmd())

	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ddspan %s (commit: %s, built: %s)\n", version, commit, buildTime)
		},
	}
}
