package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemon07r/pampax/internal/blobstore"
	"github.com/lemon07r/pampax/internal/chunk"
	"github.com/lemon07r/pampax/internal/codemap"
	"github.com/lemon07r/pampax/internal/embed"
	"github.com/lemon07r/pampax/internal/manifest"
	"github.com/lemon07r/pampax/internal/scanner"
	"github.com/lemon07r/pampax/internal/search"
	"github.com/lemon07r/pampax/internal/store"
	"github.com/lemon07r/pampax/internal/watcher"
)

// watchHarness is a coordinator wired to real stores in a temp
// project, the way the watch command assembles it.
type watchHarness struct {
	root     string
	dataDir  string
	coord    *Coordinator
	metadata *store.SQLiteStore
	mf       *manifest.Manifest
	cm       *codemap.Codemap
	blobs    *blobstore.Store
	engine   *search.Engine
}

const watchProjectID = "proj-watch"

func newWatchHarness(t *testing.T, opts ...func(*CoordinatorConfig)) *watchHarness {
	t.Helper()
	ctx := context.Background()

	root := t.TempDir()
	dataDir := filepath.Join(root, ".pampax")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	metadata, err := store.NewSQLiteStore(filepath.Join(dataDir, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { metadata.Close() })

	bm25, err := store.NewBM25IndexWithBackend(filepath.Join(dataDir, "bm25"), store.DefaultBM25Config(), "")
	require.NoError(t, err)
	t.Cleanup(func() { bm25.Close() })

	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embed.StaticDimensions))
	require.NoError(t, err)
	t.Cleanup(func() { vector.Close() })

	engine, err := search.NewEngine(bm25, vector, embed.NewStaticEmbedder(), metadata, search.DefaultConfig())
	require.NoError(t, err)

	mf, err := manifest.Load(root)
	require.NoError(t, err)
	cm, err := codemap.Load(root)
	require.NoError(t, err)
	blobs, err := blobstore.New(dataDir, blobstore.ModeOff, "")
	require.NoError(t, err)

	sc, err := scanner.New()
	require.NoError(t, err)

	require.NoError(t, metadata.SaveProject(ctx, &store.Project{
		ID:       watchProjectID,
		Name:     "watch-fixture",
		RootPath: root,
	}))

	cfg := CoordinatorConfig{
		ProjectID:   watchProjectID,
		RootPath:    root,
		DataDir:     dataDir,
		Engine:      engine,
		Metadata:    metadata,
		CodeChunker: chunk.NewCodeChunker(),
		MDChunker:   chunk.NewMarkdownChunker(),
		Scanner:     sc,
		Blobs:       blobs,
		Manifest:    mf,
		Codemap:     cm,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &watchHarness{
		root:     root,
		dataDir:  dataDir,
		coord:    NewCoordinator(cfg),
		metadata: metadata,
		mf:       mf,
		cm:       cm,
		blobs:    blobs,
		engine:   engine,
	}
}

func (h *watchHarness) write(t *testing.T, relPath, content string) {
	t.Helper()
	abs := filepath.Join(h.root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func (h *watchHarness) apply(t *testing.T, events ...watcher.FileEvent) {
	t.Helper()
	require.NoError(t, h.coord.HandleEvents(context.Background(), events))
}

func (h *watchHarness) indexedPaths(t *testing.T) []string {
	t.Helper()
	paths, err := h.metadata.GetFilePathsByProject(context.Background(), watchProjectID)
	require.NoError(t, err)
	return paths
}

func (h *watchHarness) chunksFor(t *testing.T, relPath string) []*store.Chunk {
	t.Helper()
	chunks, err := h.metadata.GetChunksByFile(context.Background(), generateFileID(watchProjectID, relPath))
	require.NoError(t, err)
	return chunks
}

func created(path string) watcher.FileEvent {
	return watcher.FileEvent{Path: path, Operation: watcher.OpCreate, Timestamp: time.Now()}
}

func modified(path string) watcher.FileEvent {
	return watcher.FileEvent{Path: path, Operation: watcher.OpModify, Timestamp: time.Now()}
}

func deleted(path string) watcher.FileEvent {
	return watcher.FileEvent{Path: path, Operation: watcher.OpDelete, Timestamp: time.Now()}
}

const ledgerSource = `package ledger

// PostEntry appends a double-entry record to the journal.
func PostEntry(debit, credit string, cents int64) error {
	return nil
}
`

func TestWatchCreateRecordsEveryArtifact(t *testing.T) {
	h := newWatchHarness(t)
	h.write(t, "ledger/journal.go", ledgerSource)

	h.apply(t, created("ledger/journal.go"))

	assert.Equal(t, []string{"ledger/journal.go"}, h.indexedPaths(t))

	chunks := h.chunksFor(t, "ledger/journal.go")
	require.NotEmpty(t, chunks)
	assert.Equal(t, "go", chunks[0].Language)

	// The merkle manifest learned the file and its chunk hashes.
	entry, ok := h.mf.Get("ledger/journal.go")
	require.True(t, ok)
	assert.NotEmpty(t, entry.ChunkShas)

	// The codemap carries the symbol under file:symbol.
	_, ok = h.cm.Entries["ledger/journal.go:PostEntry"]
	assert.True(t, ok, "codemap keys: %v", codemapKeys(h.cm.Entries))

	// Each chunk body landed in the content-addressed blob store.
	for _, sha := range entry.ChunkShas {
		_, err := h.blobs.Read(sha)
		assert.NoError(t, err, "missing blob %s", sha)
	}

	// And the chunk is retrievable by keyword.
	results, err := h.engine.Search(context.Background(), "PostEntry journal", search.SearchOptions{Limit: 5, BM25Only: true})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "ledger/journal.go", results[0].Chunk.FilePath)
}

func TestWatchModifyReplacesChunks(t *testing.T) {
	h := newWatchHarness(t)
	h.write(t, "ledger/journal.go", ledgerSource)
	h.apply(t, created("ledger/journal.go"))

	before := h.chunksFor(t, "ledger/journal.go")
	require.NotEmpty(t, before)

	h.write(t, "ledger/journal.go", `package ledger

// ReverseEntry voids a previously posted record.
func ReverseEntry(id string) error {
	return nil
}
`)
	h.apply(t, modified("ledger/journal.go"))

	after := h.chunksFor(t, "ledger/journal.go")
	require.NotEmpty(t, after)

	beforeIDs := make(map[string]bool)
	for _, ch := range before {
		beforeIDs[ch.ID] = true
	}
	for _, ch := range after {
		assert.False(t, beforeIDs[ch.ID], "stale chunk %s survived the rewrite", ch.ID)
	}

	_, hasOld := h.cm.Entries["ledger/journal.go:PostEntry"]
	_, hasNew := h.cm.Entries["ledger/journal.go:ReverseEntry"]
	assert.False(t, hasOld)
	assert.True(t, hasNew)
}

func TestWatchUnchangedContentIsSkippedByManifest(t *testing.T) {
	h := newWatchHarness(t)
	h.write(t, "ledger/journal.go", ledgerSource)
	h.apply(t, created("ledger/journal.go"))

	recorded, err := h.metadata.GetFilesForReconciliation(context.Background(), watchProjectID)
	require.NoError(t, err)
	originalMtime := recorded["ledger/journal.go"].ModTime

	// Touch the file without changing its bytes. The modify event must
	// short-circuit on the content hash, so the stored mtime stays at
	// the original commit.
	later := time.Now().Add(2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(h.root, "ledger/journal.go"), later, later))
	h.apply(t, modified("ledger/journal.go"))

	recorded, err = h.metadata.GetFilesForReconciliation(context.Background(), watchProjectID)
	require.NoError(t, err)
	assert.True(t, recorded["ledger/journal.go"].ModTime.Equal(originalMtime),
		"unchanged content must not be recommitted")
}

func TestWatchDeleteRemovesEveryArtifact(t *testing.T) {
	h := newWatchHarness(t)
	h.write(t, "ledger/journal.go", ledgerSource)
	h.apply(t, created("ledger/journal.go"))

	entry, ok := h.mf.Get("ledger/journal.go")
	require.True(t, ok)

	require.NoError(t, os.Remove(filepath.Join(h.root, "ledger/journal.go")))
	h.apply(t, deleted("ledger/journal.go"))

	assert.Empty(t, h.indexedPaths(t))
	assert.Empty(t, h.chunksFor(t, "ledger/journal.go"))

	_, ok = h.mf.Get("ledger/journal.go")
	assert.False(t, ok, "manifest entry must go with the file")
	_, ok = h.cm.Entries["ledger/journal.go:PostEntry"]
	assert.False(t, ok, "codemap entry must go with the file")

	for _, sha := range entry.ChunkShas {
		_, err := h.blobs.Read(sha)
		assert.Error(t, err, "blob %s must be removed", sha)
	}
}

func TestWatchIgnoresNonIndexableFiles(t *testing.T) {
	h := newWatchHarness(t, func(cfg *CoordinatorConfig) {
		cfg.MaxFileSize = 64
	})

	// Binary: NUL bytes in the sniff window.
	h.write(t, "assets/logo.go", "pkg\x00\x01\x02binary")

	// Oversized: past the 64-byte cap.
	h.write(t, "big.go", "package big\n\nvar blob = \""+fmt.Sprintf("%0128d", 7)+"\"\n")

	// Symlink, pointing at a real file.
	h.write(t, "real.txt", "plain text")
	require.NoError(t, os.Symlink(filepath.Join(h.root, "real.txt"), filepath.Join(h.root, "link.go")))

	h.apply(t,
		created("assets/logo.go"),
		created("big.go"),
		created("link.go"),
		watcher.FileEvent{Path: "ledger", Operation: watcher.OpCreate, IsDir: true},
	)

	assert.Empty(t, h.indexedPaths(t))
}

func TestWatchMarkdownUsesDocChunker(t *testing.T) {
	h := newWatchHarness(t)
	h.write(t, "docs/settlement.md", "# Settlement\n\nBatches post nightly at 02:00 UTC.\n")

	h.apply(t, created("docs/settlement.md"))

	chunks := h.chunksFor(t, "docs/settlement.md")
	require.NotEmpty(t, chunks)
	assert.Equal(t, store.ContentTypeMarkdown, chunks[0].ContentType)
}

func TestWatchBatchAppliesMixedOperations(t *testing.T) {
	h := newWatchHarness(t)
	h.write(t, "a/alpha.go", "package a\n\nfunc Alpha() {}\n")
	h.write(t, "b/beta.go", "package b\n\nfunc Beta() {}\n")
	h.apply(t, created("a/alpha.go"), created("b/beta.go"))

	h.write(t, "c/gamma.go", "package c\n\nfunc Gamma() {}\n")
	require.NoError(t, os.Remove(filepath.Join(h.root, "b/beta.go")))

	h.apply(t, deleted("b/beta.go"), created("c/gamma.go"))

	assert.ElementsMatch(t, []string{"a/alpha.go", "c/gamma.go"}, h.indexedPaths(t))
}

func TestGitignoreAdditionPrunesWithoutRescan(t *testing.T) {
	h := newWatchHarness(t)
	ctx := context.Background()

	h.write(t, "svc/handler.go", "package svc\n\nfunc Handle() {}\n")
	h.write(t, "svc/handler.gen.go", "package svc\n\nfunc HandleGen() {}\n")
	h.apply(t, created("svc/handler.go"), created("svc/handler.gen.go"))
	require.Len(t, h.indexedPaths(t), 2)

	// Seed the cached root gitignore, then add one pattern. An
	// addition-only diff prunes from the index without scanning.
	require.NoError(t, h.metadata.SetState(ctx, stateGitignoreContent, "node_modules/\n"))
	h.write(t, ".gitignore", "node_modules/\n*.gen.go\n")

	h.apply(t, watcher.FileEvent{
		Path:      filepath.Join(h.root, ".gitignore"),
		Operation: watcher.OpGitignoreChange,
	})

	assert.Equal(t, []string{"svc/handler.go"}, h.indexedPaths(t))

	// The cache rolled forward so the next diff starts from here.
	cached, err := h.metadata.GetState(ctx, stateGitignoreContent)
	require.NoError(t, err)
	assert.Contains(t, cached, "*.gen.go")
}

func TestGitignorePatternRemovalReindexesUnignoredFiles(t *testing.T) {
	h := newWatchHarness(t)
	ctx := context.Background()

	h.write(t, "svc/handler.go", "package svc\n\nfunc Handle() {}\n")
	h.write(t, "svc/legacy.go", "package svc\n\nfunc Legacy() {}\n")
	h.write(t, ".gitignore", "svc/legacy.go\n")
	h.apply(t, created("svc/handler.go"))
	require.Equal(t, []string{"svc/handler.go"}, h.indexedPaths(t))

	// Dropping a pattern can unhide files, which only a rescan finds.
	require.NoError(t, h.metadata.SetState(ctx, stateGitignoreContent, "svc/legacy.go\n"))
	h.write(t, ".gitignore", "")

	h.apply(t, watcher.FileEvent{
		Path:      filepath.Join(h.root, ".gitignore"),
		Operation: watcher.OpGitignoreChange,
	})

	assert.ElementsMatch(t, []string{"svc/handler.go", "svc/legacy.go"}, h.indexedPaths(t))
}

func TestNestedGitignoreReconcilesOnlyItsSubtree(t *testing.T) {
	h := newWatchHarness(t)

	h.write(t, "svc/tool.tmp.go", "package svc\n\nfunc Tool() {}\n")
	h.write(t, "other/tool.tmp.go", "package other\n\nfunc Tool() {}\n")
	h.apply(t, created("svc/tool.tmp.go"), created("other/tool.tmp.go"))
	require.Len(t, h.indexedPaths(t), 2)

	// The new nested ignore hides svc's file. The same name under
	// other/ is outside the subtree and must survive, even though the
	// pattern would match it there too.
	h.write(t, "svc/.gitignore", "*.tmp.go\n")

	h.apply(t, watcher.FileEvent{
		Path:      filepath.Join(h.root, "svc/.gitignore"),
		Operation: watcher.OpGitignoreChange,
	})

	assert.Equal(t, []string{"other/tool.tmp.go"}, h.indexedPaths(t))
}

func TestStartupReconcileReactsToOfflineGitignoreEdit(t *testing.T) {
	h := newWatchHarness(t)
	ctx := context.Background()

	h.write(t, "svc/handler.go", "package svc\n\nfunc Handle() {}\n")
	h.apply(t, created("svc/handler.go"))

	// Simulate a clean shutdown: hash stored, then .gitignore edited
	// while the process was down.
	hash, err := ComputeGitignoreHash(h.root)
	require.NoError(t, err)
	require.NoError(t, h.metadata.SetState(ctx, GitignoreHashKey, hash))

	h.write(t, ".gitignore", "svc/\n")
	require.NoError(t, h.coord.ReconcileOnStartup(ctx))

	assert.Empty(t, h.indexedPaths(t), "offline-ignored files must be pruned at startup")

	// The stored hash now matches, so a second startup is a no-op.
	current, err := ComputeGitignoreHash(h.root)
	require.NoError(t, err)
	stored, err := h.metadata.GetState(ctx, GitignoreHashKey)
	require.NoError(t, err)
	assert.Equal(t, current, stored)
}

func TestStartupReconcileSkipsWhenHashMatches(t *testing.T) {
	h := newWatchHarness(t)
	ctx := context.Background()

	h.write(t, "svc/handler.go", "package svc\n\nfunc Handle() {}\n")
	h.apply(t, created("svc/handler.go"))

	hash, err := ComputeGitignoreHash(h.root)
	require.NoError(t, err)
	require.NoError(t, h.metadata.SetState(ctx, GitignoreHashKey, hash))

	require.NoError(t, h.coord.ReconcileOnStartup(ctx))
	assert.Equal(t, []string{"svc/handler.go"}, h.indexedPaths(t))
}

func TestStartupFileReconcileAppliesOfflineEdits(t *testing.T) {
	h := newWatchHarness(t)
	ctx := context.Background()

	h.write(t, "svc/kept.go", "package svc\n\nfunc Kept() {}\n")
	h.write(t, "svc/edited.go", "package svc\n\nfunc Edited() {}\n")
	h.write(t, "svc/dropped.go", "package svc\n\nfunc Dropped() {}\n")
	h.apply(t, created("svc/kept.go"), created("svc/edited.go"), created("svc/dropped.go"))
	require.Len(t, h.indexedPaths(t), 3)

	// Offline: one file rewritten, one removed, one brand new. The
	// rewrite changes size, which is detected regardless of mtime
	// resolution.
	h.write(t, "svc/edited.go", "package svc\n\nfunc Edited() {}\n\nfunc EditedAgain() int { return 2 }\n")
	require.NoError(t, os.Remove(filepath.Join(h.root, "svc/dropped.go")))
	h.write(t, "svc/fresh.go", "package svc\n\nfunc Fresh() {}\n")

	require.NoError(t, h.coord.ReconcileFilesOnStartup(ctx))

	assert.ElementsMatch(t, []string{"svc/kept.go", "svc/edited.go", "svc/fresh.go"}, h.indexedPaths(t))

	_, hasNew := h.cm.Entries["svc/edited.go:EditedAgain"]
	assert.True(t, hasNew, "rewritten file must be rechunked")
}

func TestDetectFileChangesOrdersDeletesFirst(t *testing.T) {
	now := time.Now()
	indexed := map[string]*store.File{
		"gone.go":    {Path: "gone.go", Size: 10, ModTime: now},
		"same.go":    {Path: "same.go", Size: 20, ModTime: now},
		"resized.go": {Path: "resized.go", Size: 30, ModTime: now},
	}
	current := map[string]*scanner.FileInfo{
		"same.go":    {Path: "same.go", Size: 20, ModTime: now},
		"resized.go": {Path: "resized.go", Size: 31, ModTime: now},
		"new.go":     {Path: "new.go", Size: 5, ModTime: now},
	}

	changes := detectFileChanges(indexed, current)
	require.Len(t, changes, 3)
	assert.Equal(t, FileChange{Path: "gone.go", Type: ChangeTypeDeleted}, changes[0])
	assert.Equal(t, FileChange{Path: "resized.go", Type: ChangeTypeModified}, changes[1])
	assert.Equal(t, FileChange{Path: "new.go", Type: ChangeTypeAdded}, changes[2])
}

func TestDetectFileChangesToleratesSubsecondMtimeDrift(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	indexed := map[string]*store.File{
		"a.go": {Path: "a.go", Size: 10, ModTime: base},
	}
	current := map[string]*scanner.FileInfo{
		"a.go": {Path: "a.go", Size: 10, ModTime: base.Add(500 * time.Millisecond)},
	}
	assert.Empty(t, detectFileChanges(indexed, current),
		"sub-second drift between filesystem and database must not look like an edit")
}

func TestDiffScanAgainstIndex(t *testing.T) {
	results := make(chan scanner.ScanResult, 4)
	results <- scanner.ScanResult{File: &scanner.FileInfo{Path: "kept.go", Language: "go"}}
	results <- scanner.ScanResult{File: &scanner.FileInfo{Path: "new.go", Language: "go"}}
	results <- scanner.ScanResult{File: &scanner.FileInfo{Path: "notes.bin", Language: ""}}
	results <- scanner.ScanResult{Error: fmt.Errorf("transient walk error")}
	close(results)

	diff := diffScanAgainstIndex(results, map[string]bool{"kept.go": true, "stale.go": true})
	assert.Equal(t, []string{"new.go"}, diff.toAdd)
	assert.Equal(t, []string{"stale.go"}, diff.toRemove)
}

func TestComputeGitignoreHashTracksEveryGitignore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))

	empty, err := ComputeGitignoreHash(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("dist/\n"), 0o644))
	withRoot, err := ComputeGitignoreHash(root)
	require.NoError(t, err)
	assert.NotEqual(t, empty, withRoot)

	// A nested gitignore changes the digest too.
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", ".gitignore"), []byte("*.log\n"), 0o644))
	withNested, err := ComputeGitignoreHash(root)
	require.NoError(t, err)
	assert.NotEqual(t, withRoot, withNested)

	// Deterministic for identical trees.
	again, err := ComputeGitignoreHash(root)
	require.NoError(t, err)
	assert.Equal(t, withNested, again)
}

func codemapKeys(m map[string]codemap.Entry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
