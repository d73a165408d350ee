package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knoguchi/docsearch/internal/ingestion"
	"github.com/knoguchi/docsearch/internal/output"
	"github.com/knoguchi/docsearch/internal/service"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit     int
	fileTypes string
	format    string
	details   bool
}

func (o searchOptions) request(query string) (service.SearchRequest, output.Format, error) {
	format, err := output.ParseFormat(o.format)
	if err != nil {
		return service.SearchRequest{}, "", err
	}
	if o.limit < 1 || o.limit > service.MaxSearchLimit {
		return service.SearchRequest{}, "", fmt.Errorf("--limit must be between 1 and %d", service.MaxSearchLimit)
	}
	types, err := ingestion.ValidateFileTypes(o.fileTypes)
	if err != nil {
		return service.SearchRequest{}, "", err
	}
	return service.SearchRequest{Query: query, Limit: o.limit, FileTypes: types}, format, nil
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed documents",
		Long: `Search with hybrid retrieval: dense and sparse results are merged,
deduplicated per document and reranked.

Examples:
  docsearch search "quarterly revenue forecast"
  docsearch search "retry policy" --file-types code --limit 5
  docsearch search "onboarding" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, format, err := opts.request(strings.Join(args, " "))
			if err != nil {
				return err
			}
			e, err := loadEnv(g)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), e, false)
			if err != nil {
				return err
			}
			defer a.Close()
			return runSearch(cmd.Context(), newPrinter(cmd, g, format), a.search, req, opts.details)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", service.DefaultSearchLimit, "Maximum number of results (at most 100)")
	cmd.Flags().StringVar(&opts.fileTypes, "file-types", "", "Comma-separated file types or categories (e.g. md,code)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.details, "details", false, "Show every score and the full chunk text per result")
	return cmd
}

// searcher is satisfied by service.SearchService.
type searcher interface {
	Search(ctx context.Context, req service.SearchRequest) (*service.SearchResponse, error)
}

func runSearch(ctx context.Context, p *output.Printer, s searcher, req service.SearchRequest, details bool) error {
	resp, err := s.Search(ctx, req)
	if err != nil {
		return err
	}
	if !details || p.Format() == output.FormatJSON {
		return p.Results(resp.Query, resp.Results)
	}
	for i, r := range resp.Results {
		if err := p.ResultDetail(i+1, r); err != nil {
			return err
		}
	}
	return nil
}

func newStatusCmd(g *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index statistics and the current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			e, err := loadEnv(g)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), e, false)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.index.Status(cmd.Context())
			if err != nil {
				return err
			}
			return newPrinter(cmd, g, f).Status(st, a.state)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}
