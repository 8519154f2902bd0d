// Package cmd provides the CLI commands for pampax.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lemon07r/pampax/internal/blobstore"
	"github.com/lemon07r/pampax/internal/codemap"
	"github.com/lemon07r/pampax/internal/config"
	"github.com/lemon07r/pampax/internal/embed"
	"github.com/lemon07r/pampax/internal/logging"
	"github.com/lemon07r/pampax/internal/manifest"
	"github.com/lemon07r/pampax/internal/search"
	"github.com/lemon07r/pampax/internal/store"
	"github.com/lemon07r/pampax/pkg/version"
)

var debugMode bool

// NewRootCmd creates the root command for the pampax CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pampax",
		Short:   "Local, git-friendly semantic code memory",
		Long:    `pampax indexes a codebase into a hybrid BM25 + semantic search store, entirely locally.`,
		Version: version.Version,
	}

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newIndexInfoCmd())
	cmd.AddCommand(newOverviewCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newQueryAnalyticsCmd())
	cmd.AddCommand(newGetChunkCmd())
	cmd.AddCommand(newContextPackCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// projectPaths resolves the project root and its .pampa data directory for path.
func projectPaths(path string) (root, dataDir string, err error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", "", fmt.Errorf("resolving path: %w", err)
	}
	root, err = config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}
	return root, filepath.Join(root, ".pampa"), nil
}

// setupLogging configures the shared slog logger per the --debug flag.
func setupLogging() (func(), error) {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

// openStores constructs the metadata/BM25/vector stores and embedder shared
// by the index/search/watch commands.
type openStoresResult struct {
	metadata store.MetadataStore
	bm25     store.BM25Index
	vector   store.VectorStore
	embedder embed.Embedder
	blobs    *blobstore.Store
	mf       *manifest.Manifest
	cm       *codemap.Codemap
}

func openStores(ctx context.Context, cfg *config.Config, root, dataDir string) (*openStoresResult, func(), error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}

	metadata, err := store.NewSQLiteStore(filepath.Join(dataDir, "pampa.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening metadata store: %w", err)
	}

	bm25, err := store.NewBM25IndexWithBackend(filepath.Join(dataDir, "bm25"), store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		metadata.Close()
		return nil, nil, fmt.Errorf("opening BM25 index: %w", err)
	}

	embedder, err := embed.NewEmbedder(ctx, embed.ParseProvider(cfg.Embeddings.Provider), cfg.Embeddings.Model)
	if err != nil {
		metadata.Close()
		return nil, nil, fmt.Errorf("initializing embedder: %w", err)
	}

	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		metadata.Close()
		return nil, nil, fmt.Errorf("opening vector store: %w", err)
	}
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if err := vector.Load(vectorPath); err != nil {
			metadata.Close()
			return nil, nil, fmt.Errorf("loading vector store: %w", err)
		}
	}

	blobs, err := blobstore.New(dataDir, blobstore.ResolveMode(os.Getenv("PAMPAX_ENCRYPTION_MODE")), os.Getenv("PAMPAX_ENCRYPTION_KEY"))
	if err != nil {
		metadata.Close()
		return nil, nil, fmt.Errorf("opening chunk store: %w", err)
	}

	mf, err := manifest.Load(root)
	if err != nil {
		metadata.Close()
		return nil, nil, fmt.Errorf("loading merkle manifest: %w", err)
	}

	cm, err := codemap.Load(root)
	if err != nil {
		metadata.Close()
		return nil, nil, fmt.Errorf("loading codemap: %w", err)
	}

	cleanup := func() {
		_ = metadata.Close()
		_ = bm25.Close()
		_ = vector.Close()
	}

	return &openStoresResult{
		metadata: metadata,
		bm25:     bm25,
		vector:   vector,
		embedder: embedder,
		blobs:    blobs,
		mf:       mf,
		cm:       cm,
	}, cleanup, nil
}

// defaultEngineConfig returns the Engine configuration derived from cfg.
func defaultEngineConfig(cfg *config.Config) search.EngineConfig {
	return search.EngineConfig{
		DefaultLimit: 10,
		MaxLimit:     100,
		DefaultWeights: search.Weights{
			BM25:     cfg.Search.BM25Weight,
			Semantic: cfg.Search.SemanticWeight,
		},
		RRFConstant: cfg.Search.RRFConstant,
	}
}
