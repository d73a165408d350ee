package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/knoguchi/docsearch/internal/config"
	"github.com/knoguchi/docsearch/internal/output"
)

// indexNameOptions holds the index name flags of connect and setup-owner.
type indexNameOptions struct {
	dense    string
	sparse   string
	noVerify bool
}

func (o *indexNameOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.dense, "dense-index-name", "d", "", "Dense index name (or DENSE_INDEX_NAME)")
	cmd.Flags().StringVarP(&o.sparse, "sparse-index-name", "s", "", "Sparse index name (or SPARSE_INDEX_NAME)")
	cmd.Flags().BoolVar(&o.noVerify, "no-verify", false, "Save without contacting the indexes")
}

// resolve fills unset names from the environment.
func (o *indexNameOptions) resolve(cfg *config.Config) (dense, sparse string, err error) {
	dense, sparse = o.dense, o.sparse
	if dense == "" {
		dense = cfg.DenseIndexName
	}
	if sparse == "" {
		sparse = cfg.SparseIndexName
	}
	if dense == "" {
		return "", "", errors.New("dense index name not found: use --dense-index-name or set DENSE_INDEX_NAME")
	}
	if sparse == "" {
		return "", "", errors.New("sparse index name not found: use --sparse-index-name or set SPARSE_INDEX_NAME")
	}
	return dense, sparse, nil
}

func newConnectCmd(g *globalOptions) *cobra.Command {
	var opts indexNameOptions

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to existing indexes for searching",
		Long: `Connect to a dense and a sparse index built by someone else.

Connected mode can search and show status but never modifies the indexes.

Examples:
  docsearch connect --dense-index-name team-dense --sparse-index-name team-sparse
  DENSE_INDEX_NAME=team-dense SPARSE_INDEX_NAME=team-sparse docsearch connect`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(g)
			if err != nil {
				return err
			}
			dense, sparse, err := opts.resolve(e.cfg)
			if err != nil {
				return err
			}

			if !opts.noVerify {
				e.state.SetConnection(dense, sparse, time.Now().UTC())
				a, err := newApp(cmd.Context(), e, false)
				if err != nil {
					return err
				}
				defer a.Close()
				if _, err := a.index.Status(cmd.Context()); err != nil {
					return fmt.Errorf("connection failed: %w", err)
				}
			}

			err = e.store.Update(func(st *config.State) error {
				st.SetConnection(dense, sparse, time.Now().UTC())
				return nil
			})
			if err != nil {
				return err
			}
			return newPrinter(cmd, g, output.FormatText).Success("Setup Complete",
				fmt.Sprintf("Connected to dense index %q and sparse index %q. You can now use the search command.", dense, sparse))
		},
	}
	opts.register(cmd)
	return cmd
}

func newSetupOwnerCmd(g *globalOptions) *cobra.Command {
	var (
		opts     indexNameOptions
		root     string
		settings config.Settings
	)

	cmd := &cobra.Command{
		Use:   "setup-owner",
		Short: "Configure owner mode for a source directory",
		Long: `Configure owner mode: this machine indexes the documents under --root
into the named indexes, creating them when missing.

Examples:
  docsearch setup-owner --root ~/docs -d docs-dense -s docs-sparse
  docsearch setup-owner --root . --chunk-size 300 --chunk-overlap 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(g)
			if err != nil {
				return err
			}
			dense, sparse, err := opts.resolve(e.cfg)
			if err != nil {
				return err
			}
			abs, err := filepath.Abs(root)
			if err != nil {
				return err
			}
			if info, err := os.Stat(abs); err != nil || !info.IsDir() {
				return fmt.Errorf("source root %s is not a directory", abs)
			}
			if settings.ChunkSize < 0 || settings.ChunkOverlap < 0 {
				return errors.New("chunk size and overlap must not be negative")
			}

			apply := func(st *config.State) {
				st.SetOwner(abs, dense, sparse)
				if settings.RerankingModel != "" {
					st.Settings.RerankingModel = settings.RerankingModel
				}
				if settings.ChunkSize > 0 {
					st.Settings.ChunkSize = settings.ChunkSize
				}
				if settings.ChunkOverlap > 0 {
					st.Settings.ChunkOverlap = settings.ChunkOverlap
				}
			}

			if !opts.noVerify {
				apply(e.state)
				a, err := newApp(cmd.Context(), e, true)
				if err != nil {
					return err
				}
				defer a.Close()
				if err := a.index.EnsureIndexes(cmd.Context()); err != nil {
					return err
				}
			}

			err = e.store.Update(func(st *config.State) error {
				apply(st)
				return nil
			})
			if err != nil {
				return err
			}
			return newPrinter(cmd, g, output.FormatText).Success("Owner Setup Complete",
				fmt.Sprintf("Indexing %s into %q and %q. Run 'docsearch index' to build the indexes.", abs, dense, sparse))
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&root, "root", "", "Source directory to index")
	cmd.Flags().StringVar(&settings.RerankingModel, "reranking-model", "", "Reranking model name")
	cmd.Flags().IntVar(&settings.ChunkSize, "chunk-size", 0, "Target chunk size in tokens")
	cmd.Flags().IntVar(&settings.ChunkOverlap, "chunk-overlap", 0, "Chunk overlap in tokens")
	_ = cmd.MarkFlagRequired("root")
	return cmd
}
