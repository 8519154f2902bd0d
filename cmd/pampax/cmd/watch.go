package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lemon07r/pampax/internal/chunk"
	"github.com/lemon07r/pampax/internal/config"
	"github.com/lemon07r/pampax/internal/index"
	"github.com/lemon07r/pampax/internal/search"
	"github.com/lemon07r/pampax/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Watch a directory and incrementally update the index on change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

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

			engine, err := search.NewEngine(stores.bm25, stores.vector, stores.embedder, stores.metadata, defaultEngineConfig(cfg))
			if err != nil {
				return fmt.Errorf("creating search engine: %w", err)
			}

			coord := index.NewCoordinator(index.CoordinatorConfig{
				ProjectID:   projectID(root),
				RootPath:    root,
				DataDir:     dataDir,
				Engine:      engine,
				Metadata:    stores.metadata,
				CodeChunker: chunk.NewCodeChunker(),
				MDChunker:   chunk.NewMarkdownChunker(),
				Blobs:       stores.blobs,
				Manifest:    stores.mf,
				Codemap:     stores.cm,
			})

			w, err := watcher.NewHybridWatcher(watcher.Options{})
			if err != nil {
				return fmt.Errorf("creating watcher: %w", err)
			}
			if err := w.Start(ctx, root); err != nil {
				return fmt.Errorf("starting watcher: %w", err)
			}
			defer w.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "watching %s for changes (ctrl-c to stop)\n", root)

			for {
				select {
				case <-ctx.Done():
					return coord.Flush(root)
				case events := <-w.Events():
					if err := coord.HandleEvents(ctx, events); err != nil {
						slog.Warn("failed to process events", slog.String("error", err.Error()))
					}
				case err := <-w.Errors():
					slog.Warn("watcher error", slog.String("error", err.Error()))
				}
			}
		},
	}

	return cmd
}
