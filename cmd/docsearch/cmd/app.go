package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/knoguchi/docsearch/internal/auth"
	"github.com/knoguchi/docsearch/internal/config"
	"github.com/knoguchi/docsearch/internal/embedder"
	"github.com/knoguchi/docsearch/internal/ingestion"
	"github.com/knoguchi/docsearch/internal/llm"
	"github.com/knoguchi/docsearch/internal/ratelimit"
	"github.com/knoguchi/docsearch/internal/repository"
	"github.com/knoguchi/docsearch/internal/repository/postgres"
	"github.com/knoguchi/docsearch/internal/reranker"
	"github.com/knoguchi/docsearch/internal/retrieval"
	"github.com/knoguchi/docsearch/internal/service"
	"github.com/knoguchi/docsearch/internal/vectorstore"
)

// errOwnerOnly is returned by commands that modify the indexes.
var errOwnerOnly = errors.New("this command requires owner mode: run 'docsearch setup-owner' first")

// env is the environment configuration plus the settings file.
type env struct {
	cfg   *config.Config
	store *config.Store
	state *config.State
}

func loadEnv(g *globalOptions) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if g.configDir != "" {
		cfg.ConfigDir = g.configDir
	}
	store, err := config.NewStore(cfg.ConfigDir)
	if err != nil {
		return nil, err
	}
	state, err := store.Load()
	if err != nil {
		return nil, err
	}
	state.ApplyEnv(cfg)
	return &env{cfg: cfg, store: store, state: state}, nil
}

func (e *env) dir() string { return filepath.Dir(e.store.Path()) }

// jwtManager returns nil when JWT_SECRET is unset.
func (e *env) jwtManager() *auth.JWTManager {
	if !e.cfg.AuthEnabled() {
		return nil
	}
	return auth.NewJWTManager(&auth.JWTConfig{
		Secret: e.cfg.JWTSecret,
		Expiry: e.cfg.JWTExpiry,
		Issuer: e.cfg.JWTIssuer,
	})
}

func (e *env) guard(limit int, window time.Duration) ratelimit.Guard {
	policy := ratelimit.DefaultPolicy()
	policy.MaxAttempts = e.cfg.RetryAttempts
	policy.BaseDelay = e.cfg.RetryBaseDelay
	return ratelimit.Guard{
		Limiter: ratelimit.NewLimiter(limit, window),
		Policy:  policy,
		Timeout: e.cfg.CallTimeout,
	}
}

// app holds the components a command needs, built from env.
type app struct {
	*env
	logger *slog.Logger

	dense    vectorstore.TextIndex
	sparse   vectorstore.TextIndex
	registry repository.Registry
	index    *service.IndexService
	search   *service.SearchService

	closers []func()
}

// newApp wires indexes, encoders, the reranker and the registry for the
// configured mode. requireOwner rejects connected mode.
func newApp(ctx context.Context, e *env, requireOwner bool) (*app, error) {
	if err := e.state.Validate(); err != nil {
		return nil, fmt.Errorf("%w: run 'docsearch connect' or 'docsearch setup-owner' first", err)
	}
	if requireOwner && !e.state.IsOwner() {
		return nil, errOwnerOnly
	}
	denseName, sparseName, err := e.state.IndexNames()
	if err != nil {
		return nil, err
	}

	a := &app{env: e, logger: slog.Default()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	client, err := vectorstore.NewQdrantClient(e.cfg.QdrantAddr, e.cfg.QdrantAPIKey, e.cfg.QdrantTLS)
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = client.Close() })

	a.dense = vectorstore.NewDenseQdrantIndex(client, denseName, a.embedder())
	if a.sparse, err = a.sparseIndex(client, sparseName); err != nil {
		return nil, err
	}
	if a.registry, err = a.openRegistry(ctx, denseName); err != nil {
		return nil, err
	}

	gateway := retrieval.NewRerankGateway(a.reranker(), e.state.Settings.RerankingModel,
		retrieval.WithRerankGuard(e.guard(e.cfg.RerankRateLimit, e.cfg.RerankRateWindow)),
		retrieval.WithGatewayLogger(a.logger),
	)
	fusion := retrieval.DefaultFusion()
	fusion.SparseDivisor = e.cfg.FusionSparseDivisor

	indexGuard := e.guard(e.cfg.IndexRateLimit, e.cfg.IndexRateWindow)
	hybrid := retrieval.NewHybrid(a.dense, a.sparse, gateway,
		retrieval.WithFusion(fusion),
		retrieval.WithSearchGuard(indexGuard),
		retrieval.WithLogger(a.logger),
	)
	a.search = service.NewSearchService(hybrid, a.logger)

	var source ingestion.Source
	if e.state.IsOwner() {
		dir, err := ingestion.NewDirSource(e.state.Owner.SourceRoot)
		if err != nil {
			return nil, err
		}
		source = dir
	}
	pipeline := ingestion.NewPipeline(ingestion.NewChunker(ingestion.ChunkerConfig{
		Method:    ingestion.MethodSentence,
		ChunkSize: e.state.Settings.ChunkSize,
		Overlap:   e.state.Settings.ChunkOverlap,
	}))
	a.index = service.NewIndexService(source, pipeline, a.dense, a.sparse, a.registry,
		service.WithIndexGuard(indexGuard),
		service.WithStateStore(e.store),
		service.WithRerankingModel(e.state.Settings.RerankingModel),
		service.WithIndexedBy(indexedBy()),
		service.WithIndexLogger(a.logger),
	)

	ok = true
	return a, nil
}

func (a *app) embedder() vectorstore.DenseEncoder {
	cfg := a.cfg
	ollama := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL:          cfg.OllamaURL,
		Model:            cfg.OllamaEmbeddingModel,
		Dimension:        embedder.DimensionFor(cfg.OllamaEmbeddingModel, cfg.EmbeddingDimension),
		BatchConcurrency: cfg.EmbedConcurrency,
	})
	if cfg.EmbedCacheSize <= 0 {
		return ollama
	}
	return embedder.NewCachedEmbedder(ollama, cfg.EmbedCacheSize)
}

func (a *app) sparseIndex(client *qdrant.Client, name string) (vectorstore.TextIndex, error) {
	if a.cfg.SparseBackend != config.SparseBackendBleve {
		return vectorstore.NewSparseQdrantIndex(client, name, embedder.NewHashingEncoder()), nil
	}
	path := a.cfg.BlevePath
	if path == "" {
		path = filepath.Join(a.dir(), name+".bleve")
	}
	idx, err := vectorstore.NewBleveIndex(path)
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = idx.Close() })
	return idx, nil
}

func (a *app) reranker() reranker.Reranker {
	switch a.cfg.RerankBackend {
	case config.RerankBackendLLM:
		client := llm.NewOllamaClient(
			llm.WithBaseURL(a.cfg.OllamaURL),
			llm.WithModel(a.cfg.OllamaLLMModel),
		)
		return reranker.NewLLMReranker(client, reranker.WithModel(a.cfg.OllamaLLMModel))
	case config.RerankBackendNone:
		return reranker.Noop{}
	default:
		return reranker.NewHTTPReranker(a.cfg.RerankAPIKey, reranker.WithBaseURL(a.cfg.RerankURL))
	}
}

// openRegistry uses PostgreSQL when DATABASE_URL is set, otherwise a JSON
// file per dense index next to the settings file.
func (a *app) openRegistry(ctx context.Context, denseName string) (repository.Registry, error) {
	if a.cfg.DatabaseURL == "" {
		reg, err := repository.OpenFileRegistry(filepath.Join(a.dir(), "registry-"+denseName+".json"))
		if err != nil {
			return nil, err
		}
		return reg, nil
	}
	db, err := postgres.New(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.onClose(db.Close)
	if err := db.Migrate(ctx); err != nil {
		return nil, err
	}
	return postgres.NewRegistry(db), nil
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// indexedBy names the local user recorded in index metadata.
func indexedBy() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}
