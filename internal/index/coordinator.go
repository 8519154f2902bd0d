package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lemon07r/pampax/internal/blobstore"
	"github.com/lemon07r/pampax/internal/chunk"
	"github.com/lemon07r/pampax/internal/codemap"
	"github.com/lemon07r/pampax/internal/gitignore"
	"github.com/lemon07r/pampax/internal/manifest"
	"github.com/lemon07r/pampax/internal/scanner"
	"github.com/lemon07r/pampax/internal/search"
	"github.com/lemon07r/pampax/internal/store"
	"github.com/lemon07r/pampax/internal/watcher"
)

// DefaultMaxFileSize caps indexable file size (100MB); larger files
// are skipped rather than read into memory.
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// GitignoreHashKey is the state key holding the combined gitignore
// hash, compared on startup to detect offline .gitignore edits.
const GitignoreHashKey = "gitignore_hash"

// stateGitignoreContent caches the root .gitignore body so a change
// can be diffed instead of triggering a full rescan.
const stateGitignoreContent = "gitignore_content"

// CoordinatorConfig wires the Coordinator's collaborators.
type CoordinatorConfig struct {
	// ProjectID identifies this project's rows in the metadata store.
	ProjectID string

	// RootPath is the absolute project root.
	RootPath string

	// DataDir is the project's data directory (the CLI passes <root>/.pampa).
	DataDir string

	// Engine indexes and deletes chunks (embedding included).
	Engine *search.Engine

	// Metadata tracks files and chunks.
	Metadata store.MetadataStore

	// CodeChunker and MDChunker split the two indexable content types.
	CodeChunker chunk.Chunker
	MDChunker   chunk.Chunker

	// Scanner enables gitignore/config reconciliation when set.
	Scanner *scanner.Scanner

	// ExcludePatterns mirror the initial indexing configuration so
	// reconciliation scans see the same file set.
	ExcludePatterns []string

	// MaxFileSize overrides DefaultMaxFileSize when positive.
	MaxFileSize int64

	// Blobs persists chunk bodies content-addressed by SHA-1.
	// Optional: when nil, bodies live only in the metadata DB.
	Blobs *blobstore.Store

	// Manifest is the per-file hash registry used to skip files whose
	// content is unchanged. Optional: when nil, every event processes.
	Manifest *manifest.Manifest

	// Codemap is the git-committed symbol map. Optional.
	Codemap *codemap.Codemap
}

// Coordinator applies watcher batches and startup reconciliation to
// the live index. File preparation (read, hash, parse, chunk) is pure
// CPU work and fans out on a bounded pool; the commit phase, which
// touches the stores and the manifest/codemap working copies, runs
// sequentially under the coordinator lock.
type Coordinator struct {
	config CoordinatorConfig
	mu     sync.Mutex
}

// NewCoordinator builds a coordinator.
func NewCoordinator(config CoordinatorConfig) *Coordinator {
	return &Coordinator{config: config}
}

func (c *Coordinator) maxFileSize() int64 {
	if c.config.MaxFileSize > 0 {
		return c.config.MaxFileSize
	}
	return DefaultMaxFileSize
}

// HandleEvents applies one debounced watcher batch. The debouncer
// guarantees at most one event per path, so the batch can be split by
// kind: deletions and special events run in order, upserts go through
// the parallel prepare pipeline.
func (c *Coordinator) HandleEvents(ctx context.Context, events []watcher.FileEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var upserts []string
	var processed int

	for _, event := range events {
		if event.IsDir {
			continue
		}

		slog.Debug("processing file event",
			slog.String("path", event.Path),
			slog.String("operation", event.Operation.String()))

		var err error
		switch event.Operation {
		case watcher.OpCreate, watcher.OpModify:
			upserts = append(upserts, event.Path)
			continue
		case watcher.OpDelete:
			err = c.removeFile(ctx, event.Path)
		case watcher.OpGitignoreChange:
			err = c.handleGitignoreChange(ctx, event.Path)
		case watcher.OpConfigChange:
			err = c.handleConfigChange(ctx)
		default:
			// Renames arrive as delete+create pairs from the watcher.
			continue
		}

		if err != nil {
			slog.Warn("failed to process file event",
				slog.String("path", event.Path),
				slog.String("operation", event.Operation.String()),
				slog.String("error", err.Error()))
			continue
		}
		processed++
	}

	processed += c.indexPaths(ctx, upserts, "watch batch")

	if processed > 0 {
		if err := c.config.Metadata.RefreshProjectStats(ctx, c.config.ProjectID); err != nil {
			slog.Warn("failed to refresh project stats", slog.String("error", err.Error()))
		}
	}
	if err := c.Flush(c.config.RootPath); err != nil {
		slog.Warn("failed to persist manifest/codemap", slog.String("error", err.Error()))
	}
	return nil
}

// Flush writes the manifest and codemap working copies to disk: once
// per batch, all-or-nothing from the caller's perspective, never per
// file.
func (c *Coordinator) Flush(root string) error {
	if c.config.Manifest != nil {
		if err := c.config.Manifest.Save(); err != nil {
			return fmt.Errorf("saving merkle manifest: %w", err)
		}
	}
	if c.config.Codemap != nil {
		if err := c.config.Codemap.Save(root); err != nil {
			return fmt.Errorf("saving codemap: %w", err)
		}
	}
	return nil
}

// preparedFile is the output of the CPU phase for one path: either a
// ready-to-commit record+chunks pair, a skip, or a failure.
type preparedFile struct {
	relPath string
	fileSha string
	record  *store.File
	chunks  []*chunk.Chunk
	skip    bool
	err     error
}

// indexPaths runs the prepare phase for paths on an errgroup-bounded
// worker pool, then commits the survivors sequentially. Returns the
// number of files committed; per-file failures are warnings.
func (c *Coordinator) indexPaths(ctx context.Context, paths []string, label string) int {
	if len(paths) == 0 {
		return 0
	}

	prepared := make([]preparedFile, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, relPath := range paths {
		i, relPath := i, relPath
		g.Go(func() error {
			prepared[i] = c.prepareFile(gctx, relPath)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("file preparation interrupted",
			slog.String("phase", label),
			slog.String("error", err.Error()))
		return 0
	}

	var committed int
	for _, p := range prepared {
		if p.skip {
			continue
		}
		if p.err == nil {
			p.err = c.commitFile(ctx, p)
		}
		if p.err != nil {
			slog.Warn("failed to index file",
				slog.String("phase", label),
				slog.String("path", p.relPath),
				slog.String("error", p.err.Error()))
			continue
		}
		committed++
	}
	return committed
}

// prepareFile does everything that needs no store access: stat and
// filter the file, read it, hash it, consult the manifest, and chunk
// it. Safe to run concurrently.
func (c *Coordinator) prepareFile(ctx context.Context, relPath string) preparedFile {
	out := preparedFile{relPath: relPath, skip: true}
	absPath := filepath.Join(c.config.RootPath, relPath)

	// Lstat so symlinks are seen as symlinks, not their targets.
	info, err := os.Lstat(absPath)
	if err != nil {
		return preparedFile{relPath: relPath, err: fmt.Errorf("failed to stat file: %w", err)}
	}
	if info.Mode()&os.ModeSymlink != 0 {
		slog.Debug("skipping symlink", slog.String("path", relPath))
		return out
	}
	if info.Size() > c.maxFileSize() {
		slog.Warn("skipping oversized file",
			slog.String("path", relPath),
			slog.Int64("size", info.Size()),
			slog.Int64("max", c.maxFileSize()))
		return out
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return preparedFile{relPath: relPath, err: fmt.Errorf("failed to read file: %w", err)}
	}
	if isBinaryContent(content) {
		return out
	}

	language := scanner.DetectLanguage(relPath)
	contentType := scanner.DetectContentType(language)

	var chunker chunk.Chunker
	switch contentType {
	case scanner.ContentTypeCode:
		chunker = c.config.CodeChunker
	case scanner.ContentTypeMarkdown:
		chunker = c.config.MDChunker
	default:
		return out
	}

	fileSha := manifest.HashFile(content)
	if c.config.Manifest != nil && c.config.Manifest.Unchanged(relPath, fileSha) {
		slog.Debug("skipping unchanged file", slog.String("path", relPath))
		return out
	}

	chunks, err := chunker.Chunk(ctx, &chunk.FileInput{
		Path:     relPath,
		Content:  content,
		Language: language,
	})
	if err != nil {
		return preparedFile{relPath: relPath, err: fmt.Errorf("failed to chunk file: %w", err)}
	}
	if len(chunks) == 0 {
		return out
	}

	return preparedFile{
		relPath: relPath,
		fileSha: fileSha,
		record: &store.File{
			ID:          generateFileID(c.config.ProjectID, relPath),
			ProjectID:   c.config.ProjectID,
			Path:        relPath,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			ContentHash: hashContent(content),
			Language:    language,
			ContentType: string(contentType),
		},
		chunks: chunks,
	}
}

// commitFile replaces the file's previous index state with the
// prepared one: delete stale rows, save the file record (chunks hold
// a foreign key to it), index through the engine, then record the
// blob/codemap/manifest side effects.
func (c *Coordinator) commitFile(ctx context.Context, p preparedFile) error {
	// A modified file's old chunks go first; absence is fine.
	_ = c.removeFile(ctx, p.relPath)

	if err := c.config.Metadata.SaveFiles(ctx, []*store.File{p.record}); err != nil {
		return fmt.Errorf("failed to save file record: %w", err)
	}

	storeChunks := make([]*store.Chunk, len(p.chunks))
	for i, ch := range p.chunks {
		storeChunks[i] = &store.Chunk{
			ID:          ch.ID,
			FileID:      p.record.ID,
			FilePath:    p.relPath,
			Content:     ch.Content,
			RawContent:  ch.RawContent,
			Context:     ch.Context,
			ContentType: store.ContentType(ch.ContentType),
			Language:    ch.Language,
			StartLine:   ch.StartLine,
			EndLine:     ch.EndLine,
			Metadata:    ch.Metadata,
			Symbols:     convertSymbols(ch.Symbols),
		}
	}
	if err := c.config.Engine.Index(ctx, storeChunks); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}

	c.recordSideEffects(p)
	return nil
}

// recordSideEffects writes chunk bodies to the blob store and updates
// the codemap and manifest working copies for one committed file.
func (c *Coordinator) recordSideEffects(p preparedFile) {
	chunkShas := make([]string, 0, len(p.chunks))
	codemapEntries := make(map[string]codemap.Entry, len(p.chunks))

	for _, ch := range p.chunks {
		sha := manifest.HashFile([]byte(ch.RawContent))
		chunkShas = append(chunkShas, sha)

		if c.config.Blobs != nil {
			if _, err := c.config.Blobs.Write(sha, []byte(ch.Content)); err != nil {
				slog.Warn("failed to persist chunk body",
					slog.String("chunk_id", ch.ID),
					slog.String("error", err.Error()))
			}
		}
		if c.config.Codemap == nil {
			continue
		}

		symbol := ch.ID
		if len(ch.Symbols) > 0 {
			symbol = ch.Symbols[0].Name
		}
		var tags []string
		var intent, description string
		if len(ch.Metadata) > 0 {
			if raw := ch.Metadata["tags"]; raw != "" {
				tags = strings.Split(raw, ",")
			}
			intent = ch.Metadata["intent"]
			description = ch.Metadata["description"]
		}
		codemapEntries[p.relPath+":"+symbol] = codemap.Entry{
			FilePath:    p.relPath,
			Symbol:      symbol,
			Sha:         sha,
			Lang:        p.record.Language,
			StartLine:   ch.StartLine,
			EndLine:     ch.EndLine,
			Tags:        tags,
			Intent:      intent,
			Description: description,
		}
	}

	if c.config.Codemap != nil && len(codemapEntries) > 0 {
		c.config.Codemap.Remove(p.relPath)
		c.config.Codemap.Merge(codemapEntries)
	}
	if c.config.Manifest != nil {
		c.config.Manifest.Put(p.relPath, p.fileSha, chunkShas)
	}
}

// removeFile drops a file and its chunks from every store and from
// the manifest/codemap working copies.
func (c *Coordinator) removeFile(ctx context.Context, relPath string) error {
	fileID := generateFileID(c.config.ProjectID, relPath)

	if c.config.Manifest != nil {
		c.config.Manifest.Remove(relPath)
	}
	if c.config.Codemap != nil {
		c.config.Codemap.Remove(relPath)
	}

	chunks, err := c.config.Metadata.GetChunksByFile(ctx, fileID)
	if err != nil {
		// Never indexed; nothing to remove.
		return nil
	}

	if c.config.Blobs != nil {
		for _, ch := range chunks {
			sha := manifest.HashFile([]byte(ch.RawContent))
			if err := c.config.Blobs.Remove(sha); err != nil {
				slog.Warn("failed to remove chunk body",
					slog.String("chunk_id", ch.ID),
					slog.String("error", err.Error()))
			}
		}
	}

	if len(chunks) == 0 {
		// A file row may exist without chunks; clean it up anyway.
		if err := c.config.Metadata.DeleteFile(ctx, fileID); err != nil {
			slog.Warn("failed to delete orphan file record",
				slog.String("file_id", fileID),
				slog.String("path", relPath),
				slog.String("error", err.Error()))
		}
		return nil
	}

	chunkIDs := make([]string, len(chunks))
	for i, ch := range chunks {
		chunkIDs[i] = ch.ID
	}
	if err := c.config.Engine.Delete(ctx, chunkIDs); err != nil {
		return fmt.Errorf("failed to delete from index: %w", err)
	}

	// DeleteFile cascades to the chunk rows.
	if err := c.config.Metadata.DeleteFile(ctx, fileID); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// indexDiff is the outcome of comparing a scan against the index.
type indexDiff struct {
	toAdd    []string
	toRemove []string
}

// diffScanAgainstIndex drains a scan channel into a should-be-indexed
// set and diffs it against the paths currently indexed. This one
// helper backs every reconciliation flavor (full, subtree, startup).
func diffScanAgainstIndex(results <-chan scanner.ScanResult, indexed map[string]bool) indexDiff {
	current := make(map[string]bool)
	for result := range results {
		if result.Error != nil {
			slog.Debug("scan error during reconciliation",
				slog.String("error", result.Error.Error()))
			continue
		}
		if result.File == nil {
			continue
		}
		contentType := scanner.DetectContentType(result.File.Language)
		if contentType == scanner.ContentTypeCode || contentType == scanner.ContentTypeMarkdown {
			current[result.File.Path] = true
		}
	}

	var diff indexDiff
	for path := range indexed {
		if !current[path] {
			diff.toRemove = append(diff.toRemove, path)
		}
	}
	for path := range current {
		if !indexed[path] {
			diff.toAdd = append(diff.toAdd, path)
		}
	}
	sort.Strings(diff.toRemove)
	sort.Strings(diff.toAdd)
	return diff
}

// applyDiff removes first, then indexes additions through the
// parallel pipeline.
func (c *Coordinator) applyDiff(ctx context.Context, diff indexDiff, label string) {
	for _, path := range diff.toRemove {
		if err := c.removeFile(ctx, path); err != nil {
			slog.Warn("failed to remove file during reconciliation",
				slog.String("phase", label),
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	c.indexPaths(ctx, diff.toAdd, label)

	if len(diff.toRemove) > 0 || len(diff.toAdd) > 0 {
		slog.Info("reconciliation applied",
			slog.String("phase", label),
			slog.Int("removed", len(diff.toRemove)),
			slog.Int("added", len(diff.toAdd)))
	}
}

// indexedPathSet loads the project's indexed paths as a set,
// optionally restricted to a directory prefix.
func (c *Coordinator) indexedPathSet(ctx context.Context, subtree string) (map[string]bool, error) {
	var paths []string
	var err error
	if subtree == "" {
		paths, err = c.config.Metadata.GetFilePathsByProject(ctx, c.config.ProjectID)
	} else {
		paths, err = c.config.Metadata.ListFilePathsUnder(ctx, c.config.ProjectID, subtree)
	}
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return set, nil
}

// reconcileStrategy picks how much work a gitignore change costs.
type reconcileStrategy struct {
	subtree         string   // non-empty: rescan only this directory
	addedPatterns   []string // root change, additions only: filter in place
	patternDiffOnly bool
	full            bool
}

// handleGitignoreChange reconciles after a .gitignore edit, choosing
// the cheapest strategy that is still correct: a nested file scopes
// to its subtree; root additions only filter already-indexed paths;
// root removals force a full rescan to find newly unignored files.
func (c *Coordinator) handleGitignoreChange(ctx context.Context, gitignorePath string) error {
	if c.config.Scanner == nil {
		slog.Warn("gitignore change detected but scanner not configured, skipping reconciliation")
		return nil
	}

	c.config.Scanner.InvalidateGitignoreCache()
	slog.Debug("invalidated scanner gitignore cache", "trigger", gitignorePath)

	strategy := c.chooseGitignoreStrategy(ctx, gitignorePath)

	var err error
	switch {
	case strategy.subtree != "":
		slog.Info("gitignore change: subtree reconciliation",
			slog.String("path", gitignorePath),
			slog.String("scope", strategy.subtree))
		err = c.reconcileSubtree(ctx, strategy.subtree)

	case strategy.patternDiffOnly:
		slog.Info("gitignore change: pattern diff reconciliation",
			slog.String("path", gitignorePath),
			slog.Int("added", len(strategy.addedPatterns)))
		err = c.removeNewlyIgnored(ctx, strategy.addedPatterns)

	default:
		slog.Info("gitignore change: full reconciliation",
			slog.String("path", gitignorePath))
		err = c.reconcileFull(ctx)
	}
	if err != nil {
		return err
	}

	if newHash, hashErr := ComputeGitignoreHash(c.config.RootPath); hashErr != nil {
		slog.Warn("failed to compute new gitignore hash", slog.String("error", hashErr.Error()))
	} else if setErr := c.config.Metadata.SetState(ctx, GitignoreHashKey, newHash); setErr != nil {
		slog.Warn("failed to save gitignore hash", slog.String("error", setErr.Error()))
	}
	return nil
}

// chooseGitignoreStrategy classifies the change using the cached copy
// of the root .gitignore, refreshing the cache as a side effect.
func (c *Coordinator) chooseGitignoreStrategy(ctx context.Context, gitignorePath string) reconcileStrategy {
	relPath, err := filepath.Rel(c.config.RootPath, gitignorePath)
	if err != nil {
		slog.Debug("failed to get relative path, using full reconciliation", slog.String("error", err.Error()))
		return reconcileStrategy{full: true}
	}

	if dir := filepath.Dir(relPath); dir != "." && dir != "" {
		return reconcileStrategy{subtree: dir}
	}

	oldContent, err := c.config.Metadata.GetState(ctx, stateGitignoreContent)
	if err != nil || oldContent == "" {
		// Nothing cached to diff against; cache now for next time.
		if newContent, _ := os.ReadFile(gitignorePath); len(newContent) > 0 {
			_ = c.config.Metadata.SetState(ctx, stateGitignoreContent, string(newContent))
		}
		return reconcileStrategy{full: true}
	}

	newContent, err := os.ReadFile(gitignorePath)
	if err != nil {
		_ = c.config.Metadata.SetState(ctx, stateGitignoreContent, "")
		return reconcileStrategy{full: true}
	}

	added, removed := gitignore.DiffPatterns(oldContent, string(newContent))
	_ = c.config.Metadata.SetState(ctx, stateGitignoreContent, string(newContent))

	if len(removed) > 0 {
		slog.Debug("root gitignore: patterns removed, requiring full scan",
			slog.Int("removed_count", len(removed)),
			slog.Int("added_count", len(added)))
		return reconcileStrategy{full: true}
	}

	// Additions only (or pure comment churn): no filesystem scan.
	slog.Debug("root gitignore: additions only, using pattern diff",
		slog.Int("added_count", len(added)))
	return reconcileStrategy{patternDiffOnly: true, addedPatterns: added}
}

// removeNewlyIgnored drops indexed files matching freshly added
// ignore patterns; no scan needed.
func (c *Coordinator) removeNewlyIgnored(ctx context.Context, addedPatterns []string) error {
	if len(addedPatterns) == 0 {
		slog.Debug("gitignore pattern diff: no patterns to process")
		return nil
	}

	indexedPaths, err := c.config.Metadata.GetFilePathsByProject(ctx, c.config.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to list indexed files: %w", err)
	}

	var removed int
	for _, path := range indexedPaths {
		if !gitignore.MatchesAnyPattern(path, addedPatterns) {
			continue
		}
		if err := c.removeFile(ctx, path); err != nil {
			slog.Warn("failed to remove newly-ignored file",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		removed++
	}

	slog.Info("pattern diff reconciliation complete",
		slog.Int("patterns_added", len(addedPatterns)),
		slog.Int("files_removed", removed))
	return nil
}

// reconcileSubtree rescans one directory and applies the diff.
func (c *Coordinator) reconcileSubtree(ctx context.Context, subtree string) error {
	indexed, err := c.indexedPathSet(ctx, subtree)
	if err != nil {
		return fmt.Errorf("failed to list indexed files under %s: %w", subtree, err)
	}

	results, err := c.config.Scanner.ScanSubtree(ctx, &scanner.ScanOptions{
		RootDir:          c.config.RootPath,
		RespectGitignore: true,
	}, subtree)
	if err != nil {
		return fmt.Errorf("failed to scan subtree %s: %w", subtree, err)
	}

	c.applyDiff(ctx, diffScanAgainstIndex(results, indexed), "subtree "+subtree)
	return nil
}

// reconcileFull rescans the whole project and applies the diff.
func (c *Coordinator) reconcileFull(ctx context.Context) error {
	if c.config.Scanner == nil {
		return nil
	}

	indexed, err := c.indexedPathSet(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to get indexed files: %w", err)
	}

	results, err := c.config.Scanner.Scan(ctx, &scanner.ScanOptions{
		RootDir:          c.config.RootPath,
		RespectGitignore: true,
		ExcludePatterns:  c.config.ExcludePatterns,
	})
	if err != nil {
		return fmt.Errorf("failed to scan for reconciliation: %w", err)
	}

	c.applyDiff(ctx, diffScanAgainstIndex(results, indexed), "full")
	return nil
}

// handleConfigChange reacts to a .pampax.yaml edit. Exclude patterns
// are loaded at startup, so this reconciles with what it has and
// points at a restart for the rest.
func (c *Coordinator) handleConfigChange(ctx context.Context) error {
	slog.Info("configuration file changed",
		slog.String("note", "restart server for full config reload"))

	if c.config.Scanner == nil {
		slog.Warn("config change detected but scanner not configured, skipping reconciliation")
		return nil
	}

	c.config.Scanner.InvalidateGitignoreCache()
	return c.reconcileFull(ctx)
}

// ReconcileOnStartup re-syncs against gitignore edits made while the
// process was down, keyed off the combined gitignore hash.
func (c *Coordinator) ReconcileOnStartup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.Scanner == nil {
		slog.Debug("startup reconciliation skipped: scanner not configured")
		return nil
	}

	cachedHash, err := c.config.Metadata.GetState(ctx, GitignoreHashKey)
	if err != nil {
		slog.Warn("failed to get cached gitignore hash", slog.String("error", err.Error()))
	}

	currentHash, err := ComputeGitignoreHash(c.config.RootPath)
	if err != nil {
		slog.Warn("failed to compute gitignore hash", slog.String("error", err.Error()))
		return nil
	}

	if cachedHash == currentHash && cachedHash != "" {
		slog.Debug("gitignore unchanged since last run, skipping startup reconciliation")
		return nil
	}

	slog.Info("gitignore changed since last run, reconciling index")
	if err := c.reconcileFull(ctx); err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}

	if err := c.config.Metadata.SetState(ctx, GitignoreHashKey, currentHash); err != nil {
		slog.Warn("failed to save gitignore hash", slog.String("error", err.Error()))
	}
	return nil
}

// ChangeType classifies a file change found by startup
// reconciliation.
type ChangeType int

const (
	ChangeTypeAdded ChangeType = iota
	ChangeTypeModified
	ChangeTypeDeleted
)

// FileChange is one offline change to apply.
type FileChange struct {
	Path string
	Type ChangeType
}

// ReconcileFilesOnStartup diffs the metadata store's file records
// (path, mtime, size) against the filesystem and applies whatever
// changed while the process was down.
func (c *Coordinator) ReconcileFilesOnStartup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.Scanner == nil {
		slog.Debug("file reconciliation skipped: scanner not configured")
		return nil
	}

	indexedFiles, err := c.config.Metadata.GetFilesForReconciliation(ctx, c.config.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to get indexed files: %w", err)
	}
	if len(indexedFiles) == 0 {
		slog.Debug("no indexed files found, skipping file reconciliation")
		return nil
	}

	results, err := c.config.Scanner.Scan(ctx, &scanner.ScanOptions{
		RootDir:          c.config.RootPath,
		RespectGitignore: true,
		ExcludePatterns:  c.config.ExcludePatterns,
	})
	if err != nil {
		return fmt.Errorf("failed to scan filesystem: %w", err)
	}

	current := make(map[string]*scanner.FileInfo)
	for result := range results {
		if result.Error != nil || result.File == nil {
			continue
		}
		contentType := scanner.DetectContentType(result.File.Language)
		if contentType == scanner.ContentTypeCode || contentType == scanner.ContentTypeMarkdown {
			current[result.File.Path] = result.File
		}
	}

	changes := detectFileChanges(indexedFiles, current)
	if len(changes) == 0 {
		slog.Debug("no file changes detected since last index")
		return nil
	}

	slog.Info("file changes detected, reconciling", slog.Int("changes", len(changes)))
	c.applyFileChanges(ctx, changes)
	return nil
}

// detectFileChanges compares indexed records against the live tree.
// Mtimes compare at second precision: filesystems and SQLite disagree
// below that.
func detectFileChanges(indexed map[string]*store.File, current map[string]*scanner.FileInfo) []FileChange {
	var changes []FileChange

	for path, record := range indexed {
		live, exists := current[path]
		if !exists {
			changes = append(changes, FileChange{Path: path, Type: ChangeTypeDeleted})
			continue
		}
		if !live.ModTime.Truncate(1e9).Equal(record.ModTime.Truncate(1e9)) || live.Size != record.Size {
			changes = append(changes, FileChange{Path: path, Type: ChangeTypeModified})
		}
	}
	for path := range current {
		if _, exists := indexed[path]; !exists {
			changes = append(changes, FileChange{Path: path, Type: ChangeTypeAdded})
		}
	}

	// Deletions first, then modifications, then additions; stable by
	// path within each class.
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Type != changes[j].Type {
			return changes[i].Type > changes[j].Type
		}
		return changes[i].Path < changes[j].Path
	})
	return changes
}

// applyFileChanges executes the change list: deletions in order, then
// the upserts through the parallel pipeline. Checks for shutdown
// between steps so a closing database never sees stray writes.
func (c *Coordinator) applyFileChanges(ctx context.Context, changes []FileChange) {
	var upserts []string
	var deleted int

	for i, change := range changes {
		select {
		case <-ctx.Done():
			slog.Debug("file reconciliation interrupted by shutdown",
				slog.Int("processed", i),
				slog.Int("remaining", len(changes)-i))
			return
		default:
		}

		if change.Type == ChangeTypeDeleted {
			if err := c.removeFile(ctx, change.Path); err != nil {
				slog.Warn("failed to remove deleted file from index",
					slog.String("path", change.Path),
					slog.String("error", err.Error()))
				continue
			}
			deleted++
			continue
		}
		upserts = append(upserts, change.Path)
	}

	indexed := c.indexPaths(ctx, upserts, "startup reconciliation")
	slog.Debug("file reconciliation applied",
		slog.Int("deleted", deleted),
		slog.Int("indexed", indexed))
}

// generateFileID derives the deterministic file row ID.
func generateFileID(projectID, path string) string {
	hash := sha256.Sum256([]byte(projectID + ":" + path))
	return hex.EncodeToString(hash[:])[:16]
}

// hashContent hashes file content for change detection.
func hashContent(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// convertSymbols maps chunker symbols onto store rows so SearchSymbols
// and the symbol boost have declarations to match.
func convertSymbols(symbols []*chunk.Symbol) []*store.Symbol {
	if len(symbols) == 0 {
		return nil
	}
	out := make([]*store.Symbol, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, &store.Symbol{
			Name:       s.Name,
			Type:       store.SymbolType(s.Type),
			StartLine:  s.StartLine,
			EndLine:    s.EndLine,
			Signature:  s.Signature,
			DocComment: s.DocComment,
			Parameters: s.Parameters,
			Calls:      s.Calls,
		})
	}
	return out
}

// isBinaryContent sniffs the first 512 bytes for NUL.
func isBinaryContent(content []byte) bool {
	checkLen := 512
	if len(content) < checkLen {
		checkLen = len(content)
	}
	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

// ComputeGitignoreHash hashes every .gitignore in the tree into one
// deterministic digest (paths sorted, "path:content" per file), used
// to detect offline gitignore edits.
func ComputeGitignoreHash(rootPath string) (string, error) {
	var gitignorePaths []string

	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if name != "." && (name[0] == '.' || name == "node_modules" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == ".gitignore" {
			gitignorePaths = append(gitignorePaths, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk directory: %w", err)
	}

	sort.Strings(gitignorePaths)

	h := sha256.New()
	for _, path := range gitignorePaths {
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		relPath, _ := filepath.Rel(rootPath, path)
		h.Write([]byte(relPath))
		h.Write([]byte(":"))
		h.Write(content)
		h.Write([]byte("\n"))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
