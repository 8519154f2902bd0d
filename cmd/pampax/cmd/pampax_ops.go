package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lemon07r/pampax/internal/config"
	"github.com/lemon07r/pampax/internal/pampax"
	"github.com/lemon07r/pampax/internal/store"
)

// newCoreForPath opens the stores for path and wraps them in a pampax.Core,
// returning a cleanup function that releases both the stores and anything
// Core itself does not own.
func newCoreForPath(cmd *cobra.Command, path string) (*pampax.Core, *openStoresResult, func(), error) {
	ctx := cmd.Context()
	root, dataDir, err := projectPaths(path)
	if err != nil {
		return nil, nil, nil, err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	stores, cleanup, err := openStores(ctx, cfg, root, dataDir)
	if err != nil {
		return nil, nil, nil, err
	}

	core := pampax.New(stores.metadata, stores.blobs, stores.cm, root, dataDir)
	return core, stores, cleanup, nil
}

func newOverviewCmd() *cobra.Command {
	var (
		path  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "overview",
		Short: "Show a bird's-eye summary of the indexed codebase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			core, stores, cleanup, err := newCoreForPath(cmd, path)
			if err != nil {
				return err
			}
			defer cleanup()

			project, _ := stores.metadata.GetProject(ctx, projectID(core.Root))
			overview, err := core.GetOverview(ctx, project, limit)
			if err != nil {
				return fmt.Errorf("getting overview: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), pampax.FormatOverview(overview))
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "project path")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics and embedder compatibility",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			core, stores, cleanup, err := newCoreForPath(cmd, path)
			if err != nil {
				return err
			}
			defer cleanup()

			cfg, err := config.Load(core.Root)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			project, _ := stores.metadata.GetProject(ctx, projectID(core.Root))
			info, err := core.GetStats(ctx, project, stores.embedder.ModelName(), cfg.Embeddings.Provider, stores.embedder.Dimensions())
			if err != nil {
				return fmt.Errorf("getting stats: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "location: %s\nmodel: %s (%d dims, compatible: %v)\nchunks: %d\ndocuments: %d\nindex size: %s\n",
				info.Location, info.IndexModel, info.IndexDimensions, info.Compatible, info.ChunkCount, info.DocumentCount,
				store.FormatBytes(info.IndexSizeBytes))
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "project path")
	return cmd
}

func newQueryAnalyticsCmd() *cobra.Command {
	var (
		path  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "query-analytics",
		Short: "Show the most frequent normalized query shapes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			core, _, cleanup, err := newCoreForPath(cmd, path)
			if err != nil {
				return err
			}
			defer cleanup()

			patterns, err := core.GetQueryAnalytics(ctx, limit)
			if err != nil {
				return fmt.Errorf("getting query analytics: %w", err)
			}
			if len(patterns) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no recorded query patterns yet")
				return nil
			}
			for _, p := range patterns {
				fmt.Fprintf(cmd.OutOrStdout(), "%4d  %s\n", p.Frequency, p.Pattern)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "project path")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum patterns to show")
	return cmd
}

func newGetChunkCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "get-chunk <id>",
		Short: "Print a previously indexed chunk's body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			core, _, cleanup, err := newCoreForPath(cmd, path)
			if err != nil {
				return err
			}
			defer cleanup()

			_, body, err := core.GetChunk(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "project path")
	return cmd
}

func newContextPackCmd() *cobra.Command {
	parent := &cobra.Command{
		Use:   "contextpack",
		Short: "Manage named, reusable search scope presets",
	}
	parent.AddCommand(newContextPackListCmd())
	parent.AddCommand(newContextPackUseCmd())
	return parent
}

func newContextPackListCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available context packs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			core, _, cleanup, err := newCoreForPath(cmd, path)
			if err != nil {
				return err
			}
			defer cleanup()

			packs, err := core.ListContextPacks()
			if err != nil {
				return fmt.Errorf("listing context packs: %w", err)
			}
			if len(packs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no context packs defined")
				return nil
			}
			for _, p := range packs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.Name, p.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "project path")
	return cmd
}

func newContextPackUseCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "use <name>",
		Short: "Print a context pack's scope filters as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, _, cleanup, err := newCoreForPath(cmd, path)
			if err != nil {
				return err
			}
			defer cleanup()

			pack, err := core.UseContextPack(args[0])
			if err != nil {
				return err
			}
			enc, err := json.MarshalIndent(pack, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding context pack: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(enc))
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "project path")
	return cmd
}
