// Package cmd provides the CLI commands for docsearch.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/knoguchi/docsearch/internal/output"
)

// globalOptions holds persistent flags shared by every command.
type globalOptions struct {
	configDir string
	logLevel  string
	noColor   bool
}

// NewRootCmd creates the root command for the docsearch CLI.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "docsearch",
		Short: "Hybrid semantic and keyword search over a document collection",
		Long: `docsearch indexes a directory of text documents into a dense and a
sparse index and answers queries with hybrid retrieval and reranking.

An owner runs 'docsearch setup-owner' once and keeps the indexes current
with 'index', 'refresh' or 'watch'. Anyone else runs 'docsearch connect'
and searches the owner's indexes.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(cmd.ErrOrStderr(), g.logLevel, false)
		},
	}

	cmd.PersistentFlags().StringVar(&g.configDir, "config-dir", "", "Settings directory (default ~/.config/docsearch, or CONFIG_DIR)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error (default LOG_LEVEL or warn)")
	cmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(newConnectCmd(g))
	cmd.AddCommand(newSetupOwnerCmd(g))
	cmd.AddCommand(newIndexCmd(g))
	cmd.AddCommand(newRefreshCmd(g))
	cmd.AddCommand(newWatchCmd(g))
	cmd.AddCommand(newSearchCmd(g))
	cmd.AddCommand(newStatusCmd(g))
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newTokenCmd(g))

	return cmd
}

// Execute runs the root command with a context cancelled on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// setupLogging installs the default slog handler on w. CLI commands log
// text at warn unless asked otherwise; serve logs JSON.
func setupLogging(w io.Writer, flagLevel string, json bool) error {
	level := flagLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		level = "warn"
	}
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if json {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", s)
	}
}

func newPrinter(cmd *cobra.Command, g *globalOptions, format output.Format) *output.Printer {
	return output.NewPrinter(cmd.OutOrStdout(), format, g.noColor || os.Getenv("NO_COLOR") != "")
}
