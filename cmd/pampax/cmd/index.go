package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lemon07r/pampax/internal/config"
	"github.com/lemon07r/pampax/internal/index"
	"github.com/lemon07r/pampax/internal/store"
	"github.com/lemon07r/pampax/internal/ui"
)

// projectID derives the stable project identifier the indexer uses for root,
// matching index.Runner's internal hashString convention.
func projectID(root string) string {
	h := sha256.Sum256([]byte(root))
	return hex.EncodeToString(h[:])[:16]
}

// indexGetInfo assembles the index-info display using the current embedder
// configuration as the "current" side of the compatibility check.
func indexGetInfo(ctx context.Context, stores *openStoresResult, project *store.Project, dataDir string, cfg *config.Config) (*store.IndexInfo, error) {
	return store.GetIndexInfo(ctx, stores.metadata, project, dataDir, stores.embedder.ModelName(), cfg.Embeddings.Provider, stores.embedder.Dimensions())
}

func newIndexCmd() *cobra.Command {
	var (
		noTUI  bool
		resume bool
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory for searching",
		Long: `Index a directory to enable hybrid search over its contents.

Scans files, chunks code and documents, generates embeddings, and builds
both BM25 and vector indices for fast retrieval. Every scanned file is
chunked and embedded on each run: this command does not consult the
per-file Merkle manifest to skip unchanged files (watch mode does).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			loggingCleanup, err := setupLogging()
			if err != nil {
				return err
			}
			defer loggingCleanup()

			root, dataDir, err := projectPaths(path)
			if err != nil {
				return err
			}

			cfg, err := config.Load(root)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			stores, cleanup, err := openStores(ctx, cfg, root, dataDir)
			if err != nil {
				return err
			}
			defer cleanup()

			renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout()))
			if noTUI {
				renderer = ui.NewPlainRenderer(ui.NewConfig(cmd.OutOrStdout()))
			}

			runner, err := index.NewRunner(index.RunnerDependencies{
				Renderer: renderer,
				Config:   cfg,
				Metadata: stores.metadata,
				BM25:     stores.bm25,
				Vector:   stores.vector,
				Embedder: stores.embedder,
				Blobs:    stores.blobs,
				Codemap:  stores.cm,
			})
			if err != nil {
				return fmt.Errorf("creating indexer: %w", err)
			}
			defer runner.Close()

			runCfg := index.RunnerConfig{
				RootDir: root,
				DataDir: dataDir,
			}
			if resume {
				if cp, err := stores.metadata.LoadIndexCheckpoint(ctx); err == nil && cp != nil {
					runCfg.ResumeFromCheckpoint = cp.EmbeddedCount
					runCfg.CheckpointModel = cp.EmbedderModel
				}
			}

			result, err := runner.Run(ctx, runCfg)
			if err != nil {
				return fmt.Errorf("indexing failed: %w", err)
			}

			if err := stores.mf.Save(); err != nil {
				return fmt.Errorf("saving merkle manifest: %w", err)
			}
			if err := stores.cm.Save(root); err != nil {
				return fmt.Errorf("saving codemap: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d files, %d chunks in %s\n", result.Files, result.Chunks, result.Duration)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from previous checkpoint if available")

	return cmd
}

func newIndexInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index-info [path]",
		Short: "Show index status and configuration compatibility",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			root, dataDir, err := projectPaths(path)
			if err != nil {
				return err
			}

			cfg, err := config.Load(root)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			stores, cleanup, err := openStores(ctx, cfg, root, dataDir)
			if err != nil {
				return err
			}
			defer cleanup()

			project, _ := stores.metadata.GetProject(ctx, projectID(root))
			info, err := indexGetInfo(ctx, stores, project, dataDir, cfg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "location: %s\nmodel: %s (%d dims, compatible: %v)\nchunks: %d\ndocuments: %d\n",
				info.Location, info.IndexModel, info.IndexDimensions, info.Compatible, info.ChunkCount, info.DocumentCount)
			return nil
		},
	}
}
