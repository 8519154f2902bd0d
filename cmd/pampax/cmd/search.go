package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lemon07r/pampax/internal/config"
	"github.com/lemon07r/pampax/internal/search"
)

func newSearchCmd() *cobra.Command {
	var (
		path  string
		limit int
		lang  string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an indexed codebase",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			query := strings.Join(args, " ")

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

			results, err := engine.Search(ctx, query, search.SearchOptions{Limit: limit, Language: lang})
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no results")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s:%d-%d (score %.3f)\n", i+1, r.Chunk.FilePath, r.Chunk.StartLine, r.Chunk.EndLine, r.Score)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "project path")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results to return")
	cmd.Flags().StringVar(&lang, "lang", "", "filter by language")

	return cmd
}
