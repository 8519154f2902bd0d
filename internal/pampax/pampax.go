// Package pampax provides the Core facade: the single Go surface that
// cmd/pampax's cobra commands call into for the read-oriented semantic
// operations listed in ("Semantic operations exposed to the
// outer adapter") that are not already owned by a dedicated package --
// index()/update()/watch() stay on internal/index.Runner and
// internal/index.Coordinator, search() stays on internal/search.Engine,
// because those already expose the right shape and rewrapping them here
// would just be an extra indirection with nothing to add. Core is the
// home for the remaining operations: getChunk, getOverview, getStats,
// getQueryAnalytics, useContextPack, listContextPacks.
package pampax

import (
	"context"
	"fmt"
	"sort"

	"github.com/lemon07r/pampax/internal/blobstore"
	"github.com/lemon07r/pampax/internal/codemap"
	"github.com/lemon07r/pampax/internal/contextpack"
	pampaerrors "github.com/lemon07r/pampax/internal/errors"
	"github.com/lemon07r/pampax/internal/manifest"
	"github.com/lemon07r/pampax/internal/store"
)

// Core bundles the already-open stores a single project needs for the
// read-side semantic operations. Callers construct one Core per project
// root, reusing the same metadata/blob/codemap handles opened for
// index/search/watch so there is exactly one open SQLite connection and
// one open codemap per invocation.
type Core struct {
	Metadata store.MetadataStore
	Blobs    *blobstore.Store
	Codemap  *codemap.Codemap
	DataDir  string
	Root     string
}

// New constructs a Core over already-opened stores.
func New(metadata store.MetadataStore, blobs *blobstore.Store, cm *codemap.Codemap, root, dataDir string) *Core {
	return &Core{Metadata: metadata, Blobs: blobs, Codemap: cm, DataDir: dataDir, Root: root}
}

// GetChunk implements `getChunk(sha, path)`: it resolves the
// chunk metadata row for id, recomputes its content SHA-1 the same way the
// indexer does when writing blob bodies (over RawContent), and returns the
// decoded chunk body bytes from the blob store keyed by that SHA.
func (c *Core) GetChunk(ctx context.Context, id string) (*store.Chunk, []byte, error) {
	chunk, err := c.Metadata.GetChunk(ctx, id)
	if err != nil || chunk == nil {
		return nil, nil, pampaerrors.New(pampaerrors.ErrCodeNoChunksFound, "chunk not found", err).
			WithDetail("id", id).
			WithSuggestion("run `pampax search` to find a valid chunk id")
	}
	sha := manifest.HashFile([]byte(chunk.RawContent))
	body, err := c.Blobs.Read(sha)
	if err != nil {
		return chunk, nil, pampaerrors.New(pampaerrors.ErrCodeBlobNotFound, "reading chunk body", err).
			WithDetail("sha", sha)
	}
	return chunk, body, nil
}

// OverviewEntry summarizes one codemap entry for a project-level overview.
type OverviewEntry struct {
	FilePath string
	Symbol   string
	Lang     string
	Intent   string
	Tags     []string
}

// Overview is the response for `getOverview(limit, path)`:
// a bird's-eye sample of the indexed codebase for an agent orienting
// itself before issuing targeted searches.
type Overview struct {
	ProjectRoot string
	FileCount   int
	ChunkCount  int
	Entries     []OverviewEntry
}

// GetOverview returns up to limit codemap entries, sorted by file path
// then symbol for determinism, alongside project-wide file/chunk counts.
func (c *Core) GetOverview(ctx context.Context, project *store.Project, limit int) (*Overview, error) {
	if limit <= 0 {
		limit = 20
	}

	keys := make([]string, 0, len(c.Codemap.Entries))
	for k := range c.Codemap.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	overview := &Overview{ProjectRoot: c.Root}
	if project != nil {
		overview.FileCount = project.FileCount
		overview.ChunkCount = project.ChunkCount
	}

	for _, k := range keys {
		if len(overview.Entries) >= limit {
			break
		}
		e := c.Codemap.Entries[k]
		overview.Entries = append(overview.Entries, OverviewEntry{
			FilePath: e.FilePath,
			Symbol:   e.Symbol,
			Lang:     e.Lang,
			Intent:   e.Intent,
			Tags:     e.Tags,
		})
	}
	return overview, nil
}

// GetStats implements `getStats(path)` by delegating to the
// same index-info assembly the `pampax index-info` command uses -- the
// comparison between the index's stored embedder config and the
// currently configured one is exactly "stats" from an agent's point of
// view.
func (c *Core) GetStats(ctx context.Context, project *store.Project, currentModel, currentBackend string, currentDimensions int) (*store.IndexInfo, error) {
	return store.GetIndexInfo(ctx, c.Metadata, project, c.DataDir, currentModel, currentBackend, currentDimensions)
}

// GetQueryAnalytics implements `getQueryAnalytics(path)`: the
// most frequent normalized query shapes recorded by the retrieval
// engine's learning step (internal/search's intention cache / query
// pattern table).
func (c *Core) GetQueryAnalytics(ctx context.Context, limit int) ([]*store.QueryPatternEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return c.Metadata.TopQueryPatterns(ctx, limit)
}

// UseContextPack implements `useContextPack(name, path)`.
func (c *Core) UseContextPack(name string) (*contextpack.Pack, error) {
	return contextpack.Load(c.DataDir, name)
}

// ListContextPacks implements `listContextPacks(path)`.
func (c *Core) ListContextPacks() ([]*contextpack.Pack, error) {
	return contextpack.List(c.DataDir)
}

// SaveContextPack persists a new or updated named scope preset. Not named
// directly in operation list, but required to produce the
// files useContextPack/listContextPacks read -- grounded the same way
// internal/codemap and internal/manifest pair a Load with a Save.
func (c *Core) SaveContextPack(pack *contextpack.Pack) error {
	return contextpack.Save(c.DataDir, pack)
}

// FormatOverview renders an Overview as plain text for CLI output.
func FormatOverview(o *Overview) string {
	out := fmt.Sprintf("project: %s\nfiles: %d\nchunks: %d\n", o.ProjectRoot, o.FileCount, o.ChunkCount)
	for _, e := range o.Entries {
		intent := e.Intent
		if intent == "" {
			intent = "-"
		}
		out += fmt.Sprintf("  %s :: %s [%s] intent=%s tags=%v\n", e.FilePath, e.Symbol, e.Lang, intent, e.Tags)
	}
	return out
}
