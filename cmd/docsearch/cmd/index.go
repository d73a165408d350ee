package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/knoguchi/docsearch/internal/ingestion"
	"github.com/knoguchi/docsearch/internal/output"
	"github.com/knoguchi/docsearch/internal/service"
)

// indexOptions holds CLI flags shared by index and refresh.
type indexOptions struct {
	limit     int
	fileTypes string
	dryRun    bool
	format    string
}

func (o *indexOptions) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.limit, "limit", 0, "Maximum number of files to process (0 means all)")
	cmd.Flags().StringVar(&o.fileTypes, "file-types", "", "Comma-separated file types or categories (e.g. md,code)")
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "List the files that would be processed")
	cmd.Flags().StringVarP(&o.format, "format", "f", "text", "Output format: text, json")
}

func (o *indexOptions) options() (service.IndexOptions, output.Format, error) {
	format, err := output.ParseFormat(o.format)
	if err != nil {
		return service.IndexOptions{}, "", err
	}
	if o.limit < 0 {
		return service.IndexOptions{}, "", errors.New("--limit must not be negative")
	}
	types, err := ingestion.ValidateFileTypes(o.fileTypes)
	if err != nil {
		return service.IndexOptions{}, "", err
	}
	return service.IndexOptions{Limit: o.limit, FileTypes: types, DryRun: o.dryRun}, format, nil
}

func newIndexCmd(g *globalOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index every document under the source root",
		Long: `Chunk, embed and upsert every supported document under the owner's
source root into both indexes. Files already indexed are replaced.

Examples:
  docsearch index
  docsearch index --file-types txt,code --limit 50
  docsearch index --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			idx, format, err := opts.options()
			if err != nil {
				return err
			}
			return withOwnerApp(cmd, g, func(ctx context.Context, a *app) error {
				if !idx.DryRun {
					if err := a.index.EnsureIndexes(ctx); err != nil {
						return err
					}
				}
				report, err := a.index.Index(ctx, idx)
				if report != nil {
					_ = newPrinter(cmd, g, format).Report(report)
				}
				return err
			})
		},
	}
	opts.register(cmd)
	return cmd
}

func newRefreshCmd(g *globalOptions) *cobra.Command {
	var (
		opts      indexOptions
		since     string
		forceFull bool
	)

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Index new and modified documents and drop deleted ones",
		Long: `Refresh the indexes incrementally. Files modified since the last refresh
(or --since) and files never indexed are processed; indexed files that no
longer exist are removed, except with --force-full.

Examples:
  docsearch refresh
  docsearch refresh --since 2024-01-15
  docsearch refresh --force-full --file-types md`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			idx, format, err := opts.options()
			if err != nil {
				return err
			}
			ro := service.RefreshOptions{IndexOptions: idx, ForceFull: forceFull}
			if since != "" {
				t, err := time.Parse(time.DateOnly, since)
				if err != nil {
					return fmt.Errorf("invalid --since %q: use YYYY-MM-DD", since)
				}
				ro.Since = t
			}
			return withOwnerApp(cmd, g, func(ctx context.Context, a *app) error {
				report, err := a.index.Refresh(ctx, ro)
				if report != nil {
					_ = newPrinter(cmd, g, format).Report(report)
				}
				return err
			})
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&since, "since", "", "Also process files modified on or after this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&forceFull, "force-full", false, "Process every file and skip deleted-file cleanup")
	return cmd
}

func newWatchCmd(g *globalOptions) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the indexes current as files change",
		Long: `Refresh once, then watch the source root and reindex changed files
after they settle for --debounce. Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withOwnerApp(cmd, g, func(ctx context.Context, a *app) error {
				p := newPrinter(cmd, g, output.FormatText)
				if err := a.index.EnsureIndexes(ctx); err != nil {
					return err
				}
				report, err := a.index.Refresh(ctx, service.RefreshOptions{})
				if report != nil {
					_ = p.Report(report)
				}
				if err != nil {
					return err
				}

				w, err := ingestion.NewWatcher(a.state.Owner.SourceRoot, debounce, a.logger)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Watching %s\n", a.state.Owner.SourceRoot)
				return w.Run(ctx, func(ctx context.Context, paths []string) error {
					a.logger.Info("files changed", slog.Int("count", len(paths)))
					report, err := a.index.Reindex(ctx, paths)
					if report != nil {
						_ = p.Report(report)
					}
					return err
				})
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", ingestion.DefaultDebounce, "Quiet period before reindexing changed files")
	return cmd
}

// withOwnerApp builds an owner-mode app for the duration of fn.
func withOwnerApp(cmd *cobra.Command, g *globalOptions, fn func(ctx context.Context, a *app) error) error {
	e, err := loadEnv(g)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), e, true)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}
