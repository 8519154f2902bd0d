// Package index provides indexing operations including the Runner for reusable indexing logic.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lemon07r/pampax/internal/blobstore"
	"github.com/lemon07r/pampax/internal/chunk"
	"github.com/lemon07r/pampax/internal/codemap"
	"github.com/lemon07r/pampax/internal/config"
	"github.com/lemon07r/pampax/internal/embed"
	"github.com/lemon07r/pampax/internal/manifest"
	"github.com/lemon07r/pampax/internal/scanner"
	"github.com/lemon07r/pampax/internal/store"
	"github.com/lemon07r/pampax/internal/ui"
)

// embedBatchSize is the per-request chunk count for embedding.
const embedBatchSize = 32

// embedConcurrency bounds in-flight embedding batches. Two keeps the
// daemon's request pipeline full without racing the thermal pacing.
const embedConcurrency = 2

// RunnerConfig configures an indexing run.
type RunnerConfig struct {
	// RootDir is the project root directory to index.
	RootDir string

	// DataDir is the .pampax data directory (defaults to RootDir/.pampax).
	DataDir string

	// Offline uses static embeddings instead of neural embedder.
	Offline bool

	// ResumeFromCheckpoint is the number of chunks already embedded (for resume).
	ResumeFromCheckpoint int

	// CheckpointModel is the embedder model name from checkpoint (for validation).
	CheckpointModel string

	// InterBatchDelay is the cooling delay between embedding batches.
	InterBatchDelay time.Duration
}

// RunnerResult is the outcome of one indexing run.
type RunnerResult struct {
	Files    int
	Chunks   int
	Duration time.Duration
	Errors   int
	Warnings int
	Resumed  bool
}

// RunnerDependencies are the Runner's injected collaborators.
type RunnerDependencies struct {
	// Renderer for progress display (required).
	Renderer ui.Renderer

	// Config is the loaded project configuration (required).
	Config *config.Config

	// Metadata store for chunks and files (required).
	Metadata store.MetadataStore

	// BM25 index for keyword search (required).
	BM25 store.BM25Index

	// Vector store for semantic search (required).
	Vector store.VectorStore

	// Embedder for generating embeddings (required).
	Embedder embed.Embedder

	// CodeChunker and MarkdownChunker split files; nil gets defaults.
	CodeChunker     chunk.Chunker
	MarkdownChunker chunk.Chunker

	// Blobs persists chunk bodies content-addressed by SHA-1.
	// Optional: when nil, bodies are not persisted and getChunk
	// cannot recover content after the run.
	Blobs *blobstore.Store

	// Codemap accumulates the committed chunk_id -> entry map.
	// Optional: when nil, pampax.codemap.json is not updated.
	Codemap *codemap.Codemap
}

// Runner drives one full indexing pass: scan, chunk, enrich, embed,
// index. Dependencies are injected so the CLI and watcher share it and
// tests can substitute doubles.
type Runner struct {
	renderer        ui.Renderer
	config          *config.Config
	metadata        store.MetadataStore
	bm25            store.BM25Index
	vector          store.VectorStore
	embedder        embed.Embedder
	codeChunker     chunk.Chunker
	markdownChunker chunk.Chunker
	blobs           *blobstore.Store
	codemap         *codemap.Codemap
}

// NewRunner validates the dependency set and fills in default
// chunkers.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	switch {
	case deps.Renderer == nil:
		return nil, fmt.Errorf("renderer is required")
	case deps.Config == nil:
		return nil, fmt.Errorf("config is required")
	case deps.Metadata == nil:
		return nil, fmt.Errorf("metadata store is required")
	case deps.BM25 == nil:
		return nil, fmt.Errorf("BM25 index is required")
	case deps.Vector == nil:
		return nil, fmt.Errorf("vector store is required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	}

	if deps.CodeChunker == nil {
		deps.CodeChunker = chunk.NewCodeChunker()
	}
	if deps.MarkdownChunker == nil {
		deps.MarkdownChunker = chunk.NewMarkdownChunker()
	}

	return &Runner{
		renderer:        deps.Renderer,
		config:          deps.Config,
		metadata:        deps.Metadata,
		bm25:            deps.BM25,
		vector:          deps.Vector,
		embedder:        deps.Embedder,
		codeChunker:     deps.CodeChunker,
		markdownChunker: deps.MarkdownChunker,
		blobs:           deps.Blobs,
		codemap:         deps.Codemap,
	}, nil
}

// Closer is the optional cleanup interface a chunker may implement.
type Closer interface {
	Close()
}

// Close tears down chunkers that hold resources.
func (r *Runner) Close() error {
	if c, ok := r.codeChunker.(Closer); ok {
		c.Close()
	}
	if c, ok := r.markdownChunker.(Closer); ok {
		c.Close()
	}
	return nil
}

// runState threads the pipeline's accumulating state between stages
// so each stage function stays small.
type runState struct {
	cfg       RunnerConfig
	root      string
	dataDir   string
	projectID string
	now       time.Time

	files       []*scanner.FileInfo
	storeFiles  []*store.File
	chunks      []*chunk.Chunk
	storeChunks []*store.Chunk

	warnings int
	timing   stageTiming
}

type stageTiming struct {
	scan    time.Duration
	chunk   time.Duration
	context time.Duration
	embed   time.Duration
	index   time.Duration
}

// Run executes the pipeline. Each stage either advances the state or
// fails the run; empty intermediate results short-circuit into an
// empty (not error) result.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	startTime := time.Now()

	st := &runState{
		cfg:     cfg,
		root:    cfg.RootDir,
		dataDir: cfg.DataDir,
		now:     time.Now(),
	}
	if st.dataDir == "" {
		st.dataDir = filepath.Join(st.root, ".pampax")
	}
	st.projectID = hashString(st.root)

	if err := r.registerProject(ctx, st); err != nil {
		return nil, err
	}

	stageStart := time.Now()
	if err := r.stageScan(ctx, st); err != nil {
		return nil, err
	}
	st.timing.scan = time.Since(stageStart)

	if len(st.files) == 0 {
		return r.finish(ctx, st, startTime, true)
	}

	stageStart = time.Now()
	if err := r.stageChunk(ctx, st); err != nil {
		return nil, err
	}
	st.timing.chunk = time.Since(stageStart)

	if len(st.chunks) == 0 {
		return r.finish(ctx, st, startTime, true)
	}

	if err := r.persistChunkRows(ctx, st); err != nil {
		return nil, err
	}

	if r.config.Contextual.Enabled && cfg.ResumeFromCheckpoint == 0 {
		stageStart = time.Now()
		r.stageEnrich(ctx, st)
		st.timing.context = time.Since(stageStart)
	}

	// Chunk bodies and codemap entries persist once per run, over the
	// final (possibly enriched) chunk set.
	r.persistBlobsAndCodemap(st.chunks, st.storeChunks)

	stageStart = time.Now()
	if err := r.stageEmbed(ctx, st); err != nil {
		return nil, err
	}
	st.timing.embed = time.Since(stageStart)

	stageStart = time.Now()
	if err := r.stageIndex(ctx, st); err != nil {
		return nil, err
	}
	st.timing.index = time.Since(stageStart)

	return r.finish(ctx, st, startTime, false)
}

// registerProject upserts the project row first; files and chunks
// reference it.
func (r *Runner) registerProject(ctx context.Context, st *runState) error {
	project := &store.Project{
		ID:          st.projectID,
		Name:        filepath.Base(st.root),
		RootPath:    st.root,
		ProjectType: string(config.DetectProjectType(st.root)),
		IndexedAt:   st.now,
		Version:     fmt.Sprintf("%d", store.CurrentSchemaVersion),
	}
	if err := r.metadata.SaveProject(ctx, project); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

// stageScan enumerates indexable files.
func (r *Runner) stageScan(ctx context.Context, st *runState) error {
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageScanning,
		Message: fmt.Sprintf("Scanning %s...", st.root),
	})
	slog.Info("index_scan_started", slog.String("path", st.root))

	s, err := scanner.New()
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}

	results, err := s.Scan(ctx, &scanner.ScanOptions{
		RootDir:          st.root,
		IncludePatterns:  r.config.Paths.Include,
		ExcludePatterns:  append(r.config.Paths.Exclude, "**/.pampax/**"),
		RespectGitignore: true,
		Workers:          runtime.NumCPU(),
	})
	if err != nil {
		return fmt.Errorf("failed to start scanning: %w", err)
	}

	for result := range results {
		if result.Error != nil {
			r.renderer.AddError(ui.ErrorEvent{
				File:   result.File.Path,
				Err:    result.Error,
				IsWarn: true,
			})
			st.warnings++
			continue
		}
		st.files = append(st.files, result.File)
	}

	slog.Info("index_scan_complete", slog.Int("files", len(st.files)))
	return nil
}

// fileChunks is one file's chunking outcome, slotted by scan index so
// parallel workers preserve deterministic output order.
type fileChunks struct {
	file   *store.File
	chunks []*chunk.Chunk
	warn   error
}

// stageChunk reads and chunks every file on an errgroup-bounded
// worker pool (parsing is CPU work), then flattens results in scan
// order.
func (r *Runner) stageChunk(ctx context.Context, st *runState) error {
	total := len(st.files)
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageChunking, Total: total})

	slots := make([]fileChunks, total)
	var done int
	var progressMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, file := range st.files {
		i, file := i, file
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			slots[i] = r.chunkOneFile(gctx, file, st.projectID, st.now)

			progressMu.Lock()
			done++
			r.renderer.UpdateProgress(ui.ProgressEvent{
				Stage:       ui.StageChunking,
				Current:     done,
				Total:       total,
				CurrentFile: file.Path,
			})
			progressMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, slot := range slots {
		if slot.warn != nil {
			r.renderer.AddError(ui.ErrorEvent{File: slot.file.Path, Err: slot.warn, IsWarn: true})
			st.warnings++
			continue
		}
		if slot.file == nil {
			continue
		}
		st.storeFiles = append(st.storeFiles, slot.file)
		st.chunks = append(st.chunks, slot.chunks...)
	}

	slog.Info("index_chunking_complete",
		slog.Int("chunks", len(st.chunks)),
		slog.Int("files", len(st.storeFiles)))
	return nil
}

// chunkOneFile reads one file and runs the content-type-appropriate
// chunker. A per-file failure is a warning, never a run failure.
func (r *Runner) chunkOneFile(ctx context.Context, file *scanner.FileInfo, projectID string, now time.Time) fileChunks {
	content, err := os.ReadFile(file.AbsPath)
	if err != nil {
		return fileChunks{
			file: &store.File{Path: file.Path},
			warn: fmt.Errorf("failed to read: %w", err),
		}
	}

	// Same ID derivation as the watch coordinator, so a later watch
	// event can find and replace the rows this run created.
	record := &store.File{
		ID:          generateFileID(projectID, file.Path),
		ProjectID:   projectID,
		Path:        file.Path,
		Size:        file.Size,
		ModTime:     file.ModTime,
		ContentHash: hashString(string(content)),
		Language:    file.Language,
		ContentType: string(file.ContentType),
		IndexedAt:   now,
	}

	var chunker chunk.Chunker
	switch file.ContentType {
	case scanner.ContentTypeCode:
		chunker = r.codeChunker
	case scanner.ContentTypeMarkdown:
		chunker = r.markdownChunker
	default:
		// Config/text files are tracked but not chunked.
		return fileChunks{file: record}
	}

	chunks, err := chunker.Chunk(ctx, &chunk.FileInput{
		Path:     file.Path,
		Content:  content,
		Language: file.Language,
	})
	if err != nil {
		return fileChunks{
			file: record,
			warn: fmt.Errorf("failed to chunk: %w", err),
		}
	}
	return fileChunks{file: record, chunks: chunks}
}

// persistChunkRows writes file and chunk rows, which also enables
// checkpoint resume.
func (r *Runner) persistChunkRows(ctx context.Context, st *runState) error {
	if err := r.metadata.SaveFiles(ctx, st.storeFiles); err != nil {
		return fmt.Errorf("failed to save files: %w", err)
	}

	st.storeChunks = make([]*store.Chunk, len(st.chunks))
	for i, c := range st.chunks {
		st.storeChunks[i] = convertChunkToStore(c, st.storeFiles, st.now)
	}
	if err := r.metadata.SaveChunks(ctx, st.storeChunks); err != nil {
		return fmt.Errorf("failed to save chunks: %w", err)
	}
	return nil
}

// stageEnrich runs contextual enrichment; failures degrade to the
// original content.
func (r *Runner) stageEnrich(ctx context.Context, st *runState) {
	if err := r.enrichWithContext(ctx, st.storeChunks); err != nil {
		slog.Warn("contextual enrichment failed, continuing with original content",
			slog.String("error", err.Error()))
		return
	}
	if err := r.metadata.SaveChunks(ctx, st.storeChunks); err != nil {
		slog.Warn("failed to save enriched chunks, search will use original content",
			slog.String("error", err.Error()))
	}
}

// enrichWithContext generates situating descriptions per chunk,
// grouped by file so the model's prompt cache gets reused.
func (r *Runner) enrichWithContext(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageContextual,
		Message: "Generating contextual descriptions...",
		Total:   len(chunks),
	})

	gen := r.buildContextGenerator(ctx)
	defer func() { _ = gen.Close() }()

	processed := 0
	for filePath, fileChunks := range GroupChunksByFile(chunks) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		docContext := ExtractDocumentContext(fileChunks)
		contexts, err := gen.GenerateBatch(ctx, fileChunks, docContext)
		if err != nil {
			slog.Debug("contextual_batch_failed",
				slog.String("file", filePath),
				slog.String("error", err.Error()))
			continue
		}

		for i, c := range fileChunks {
			if i < len(contexts) && contexts[i] != "" {
				EnrichChunkWithContext(c, contexts[i])
			}
		}

		processed += len(fileChunks)
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageContextual,
			Current: processed,
			Total:   len(chunks),
		})
	}

	slog.Info("contextual_enrichment_complete",
		slog.Int("chunks", len(chunks)),
		slog.String("generator", gen.ModelName()))
	return nil
}

// buildContextGenerator picks LLM, hybrid or pattern generation per
// config and availability.
func (r *Runner) buildContextGenerator(ctx context.Context) ContextGenerator {
	if r.config.Contextual.FallbackOnly {
		slog.Info("contextual_using_pattern_fallback",
			slog.Bool("code_chunks", r.config.Contextual.CodeChunks))
		return NewPatternContextGenerator(r.config)
	}

	llmGen, err := NewLLMContextGenerator(ContextGeneratorConfig{
		OllamaHost: r.config.Embeddings.OllamaHost,
		Model:      r.config.Contextual.Model,
		Timeout:    r.config.Contextual.Timeout,
		BatchSize:  r.config.Contextual.BatchSize,
	})
	if err != nil || !llmGen.Available(ctx) {
		slog.Info("contextual_llm_unavailable_using_pattern",
			slog.String("model", r.config.Contextual.Model),
			slog.Bool("code_chunks", r.config.Contextual.CodeChunks))
		return NewPatternContextGenerator(r.config)
	}

	slog.Info("contextual_using_llm",
		slog.String("model", r.config.Contextual.Model),
		slog.Bool("code_chunks", r.config.Contextual.CodeChunks))
	return NewHybridContextGenerator(llmGen, r.config)
}

// embedBatch is one embedding unit of work: a contiguous slice of
// chunks starting at a fixed offset.
type embedBatch struct {
	start  int
	chunks []*chunk.Chunk
}

// stageEmbed embeds all chunks. Batches fan out on a bounded errgroup
// so the daemon's pipeline stays full; the checkpoint only ever
// advances to the highest contiguous completed batch, so a resume
// never skips work that an out-of-order batch left unfinished.
func (r *Runner) stageEmbed(ctx context.Context, st *runState) error {
	chunks := st.chunks
	currentModel := r.embedder.ModelName()
	cfg := st.cfg

	if cfg.ResumeFromCheckpoint > 0 && cfg.CheckpointModel != "" && cfg.CheckpointModel != currentModel {
		return fmt.Errorf("embedder mismatch on resume: checkpoint used '%s', but current embedder is '%s'. "+
			"Use --force to rebuild the index from scratch, or ensure the original embedder is available",
			cfg.CheckpointModel, currentModel)
	}

	startFrom := 0
	if cfg.ResumeFromCheckpoint > 0 && cfg.ResumeFromCheckpoint < len(chunks) {
		startFrom = cfg.ResumeFromCheckpoint
		r.embedder.SetBatchIndex(startFrom / embedBatchSize)
		slog.Info("resume_embedding",
			slog.Int("skip_chunks", startFrom),
			slog.Int("total_chunks", len(chunks)),
			slog.Int("batch_index", startFrom/embedBatchSize))
	}

	if err := r.metadata.SaveIndexCheckpoint(ctx, "embedding", len(chunks), startFrom, currentModel); err != nil {
		slog.Warn("failed to save checkpoint", slog.String("error", err.Error()))
	}
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageEmbedding,
		Current: startFrom,
		Total:   len(chunks),
	})

	var batches []embedBatch
	for start := startFrom; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, embedBatch{start: start, chunks: chunks[start:end]})
	}
	if len(batches) == 0 {
		return nil
	}

	// tracker turns out-of-order batch completions into a monotonic
	// contiguous-progress counter for checkpoints and the UI.
	var trackerMu sync.Mutex
	completed := make(map[int]int, len(batches)) // batch start -> size
	contiguous := startFrom
	advance := func(b embedBatch) {
		trackerMu.Lock()
		defer trackerMu.Unlock()

		completed[b.start] = len(b.chunks)
		for size, ok := completed[contiguous]; ok; size, ok = completed[contiguous] {
			delete(completed, contiguous)
			contiguous += size
		}

		if err := r.metadata.SaveIndexCheckpoint(ctx, "embedding", len(chunks), contiguous, currentModel); err != nil {
			slog.Warn("failed to save checkpoint", slog.String("error", err.Error()))
		}
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageEmbedding,
			Current: contiguous,
			Total:   len(chunks),
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for bi, b := range batches {
		bi, b := bi, b
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			// Thermal pacing: stagger batch launches by index.
			if cfg.InterBatchDelay > 0 && bi > 0 {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(cfg.InterBatchDelay):
				}
			}

			if bi == len(batches)-1 {
				r.embedder.SetFinalBatch(true)
			}

			contents := make([]string, len(b.chunks))
			ids := make([]string, len(b.chunks))
			for i, c := range b.chunks {
				contents[i] = c.Content
				ids[i] = c.ID
			}

			vectors, err := r.embedder.EmbedBatch(gctx, contents)
			if err != nil {
				return fmt.Errorf("failed to generate embeddings for batch %d-%d: %w",
					b.start, b.start+len(b.chunks), err)
			}
			if err := r.metadata.SaveChunkEmbeddings(gctx, ids, vectors, currentModel); err != nil {
				return fmt.Errorf("failed to save embeddings: %w", err)
			}

			advance(b)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			trackerMu.Lock()
			embedded := contiguous
			trackerMu.Unlock()
			slog.Info("index_interrupted",
				slog.Int("embedded", embedded),
				slog.Int("total", len(chunks)))
			return fmt.Errorf("indexing interrupted at %d/%d chunks: %w", embedded, len(chunks), ctx.Err())
		}
		return err
	}
	return nil
}

// stageIndex feeds the lexical and vector indexes and flushes them to
// disk.
func (r *Runner) stageIndex(ctx context.Context, st *runState) error {
	chunks := st.chunks
	currentModel := r.embedder.ModelName()

	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageIndexing,
		Message: "Building search indices...",
	})
	if err := r.metadata.SaveIndexCheckpoint(ctx, "indexing", len(chunks), len(chunks), currentModel); err != nil {
		slog.Warn("failed to save checkpoint", slog.String("error", err.Error()))
	}

	docs := make([]*store.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = &store.Document{ID: c.ID, Content: c.Content}
	}
	if err := r.bm25.Index(ctx, docs); err != nil {
		return fmt.Errorf("failed to index in BM25: %w", err)
	}

	ids, embeddings, err := r.collectEmbeddings(ctx, chunks, currentModel)
	if err != nil {
		return err
	}
	if err := r.vector.Add(ctx, ids, embeddings); err != nil {
		return fmt.Errorf("failed to add to vector store: %w", err)
	}

	if err := r.bm25.Save(filepath.Join(st.dataDir, "bm25")); err != nil {
		return fmt.Errorf("failed to save BM25 index: %w", err)
	}
	if err := r.vector.Save(filepath.Join(st.dataDir, "vectors.hnsw")); err != nil {
		return fmt.Errorf("failed to save vector store: %w", err)
	}
	return nil
}

// collectEmbeddings loads every chunk's vector from metadata,
// regenerating any the embedding stage somehow missed.
func (r *Runner) collectEmbeddings(ctx context.Context, chunks []*chunk.Chunk, currentModel string) ([]string, [][]float32, error) {
	stored, err := r.metadata.GetAllEmbeddings(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load embeddings: %w", err)
	}

	ids := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	var missing []int

	for i, c := range chunks {
		ids[i] = c.ID
		if emb, ok := stored[c.ID]; ok {
			embeddings[i] = emb
		} else {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return ids, embeddings, nil
	}

	slog.Warn("regenerating missing embeddings",
		slog.Int("count", len(missing)),
		slog.String("first_chunk", chunks[missing[0]].ID))

	contents := make([]string, len(missing))
	missingIDs := make([]string, len(missing))
	for i, idx := range missing {
		contents[i] = chunks[idx].Content
		missingIDs[i] = chunks[idx].ID
	}

	regenerated, err := r.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to regenerate %d missing embeddings: %w", len(missing), err)
	}
	if err := r.metadata.SaveChunkEmbeddings(ctx, missingIDs, regenerated, currentModel); err != nil {
		slog.Warn("failed to save regenerated embeddings", slog.String("error", err.Error()))
	}
	for i, idx := range missing {
		embeddings[idx] = regenerated[i]
	}

	slog.Info("regenerated missing embeddings", slog.Int("count", len(missing)))
	return ids, embeddings, nil
}

// finish records run metadata, emits the completion display, and
// assembles the result. When empty is true the run found nothing to
// do and the bookkeeping stages are skipped.
func (r *Runner) finish(ctx context.Context, st *runState, startTime time.Time, empty bool) (*RunnerResult, error) {
	if !empty {
		if err := r.metadata.UpdateProjectStats(ctx, st.projectID, len(st.storeFiles), len(st.chunks)); err != nil {
			return nil, fmt.Errorf("failed to update project stats: %w", err)
		}
		if err := r.metadata.ClearIndexCheckpoint(ctx); err != nil {
			slog.Warn("failed to clear checkpoint", slog.String("error", err.Error()))
		}
		if err := r.metadata.SetState(ctx, store.StateKeyChunkIDVersion, store.ChunkIDVersionContent); err != nil {
			slog.Warn("failed to save chunk ID version", slog.String("error", err.Error()))
		}
		if err := r.storeIndexEmbeddingInfo(ctx); err != nil {
			slog.Warn("failed to store index embedding info", slog.String("error", err.Error()))
		}
		if hash, err := ComputeGitignoreHash(st.root); err != nil {
			slog.Warn("failed to compute gitignore hash", slog.String("error", err.Error()))
		} else if err := r.metadata.SetState(ctx, GitignoreHashKey, hash); err != nil {
			slog.Warn("failed to save gitignore hash", slog.String("error", err.Error()))
		}
	}

	duration := time.Since(startTime)
	embedderInfo := embed.GetInfo(ctx, r.embedder)

	r.renderer.Complete(ui.CompletionStats{
		Files:    len(st.storeFiles),
		Chunks:   len(st.chunks),
		Duration: duration,
		Warnings: st.warnings,
		Stages: ui.StageTimings{
			Scan:    st.timing.scan,
			Chunk:   st.timing.chunk,
			Context: st.timing.context,
			Embed:   st.timing.embed,
			Index:   st.timing.index,
		},
		Embedder: ui.EmbedderInfo{
			Backend:    string(embedderInfo.Provider),
			Model:      embedderInfo.Model,
			Dimensions: embedderInfo.Dimensions,
		},
	})

	chunksPerSec := 0.0
	if st.timing.embed.Seconds() > 0 {
		chunksPerSec = float64(len(st.chunks)) / st.timing.embed.Seconds()
	}
	slog.Info("index_complete",
		slog.Int("files", len(st.storeFiles)),
		slog.Int("chunks", len(st.chunks)),
		slog.String("duration_total", duration.String()),
		slog.Int64("duration_scan_ms", st.timing.scan.Milliseconds()),
		slog.Int64("duration_chunk_ms", st.timing.chunk.Milliseconds()),
		slog.Int64("duration_context_ms", st.timing.context.Milliseconds()),
		slog.Int64("duration_embed_ms", st.timing.embed.Milliseconds()),
		slog.Int64("duration_index_ms", st.timing.index.Milliseconds()),
		slog.String("embedder_backend", string(embedderInfo.Provider)),
		slog.String("embedder_model", embedderInfo.Model),
		slog.Int("embedder_dimensions", embedderInfo.Dimensions),
		slog.Float64("chunks_per_sec", chunksPerSec),
		slog.String("path", st.root))

	return &RunnerResult{
		Files:    len(st.storeFiles),
		Chunks:   len(st.chunks),
		Duration: duration,
		Warnings: st.warnings,
		Resumed:  st.cfg.ResumeFromCheckpoint > 0,
	}, nil
}

// storeIndexEmbeddingInfo records which embedder built the index so a
// later search with a different provider/dimension pair is caught
// instead of silently returning garbage.
func (r *Runner) storeIndexEmbeddingInfo(ctx context.Context) error {
	dim := fmt.Sprintf("%d", r.embedder.Dimensions())
	model := r.embedder.ModelName()

	if err := r.metadata.SetState(ctx, store.StateKeyIndexDimension, dim); err != nil {
		return fmt.Errorf("failed to store index dimension: %w", err)
	}
	if err := r.metadata.SetState(ctx, store.StateKeyIndexModel, model); err != nil {
		return fmt.Errorf("failed to store index model: %w", err)
	}

	slog.Info("index_embedding_info_stored",
		slog.String("model", model),
		slog.Int("dimensions", r.embedder.Dimensions()))
	return nil
}

// persistBlobsAndCodemap writes each chunk's body to the blob store
// keyed by its content SHA-1 and records a codemap entry carrying the
// chunker's tags, intent, and description. allChunks and storeChunks
// are parallel slices; storeChunks reflects contextual enrichment, so
// its Content is what gets persisted.
func (r *Runner) persistBlobsAndCodemap(allChunks []*chunk.Chunk, storeChunks []*store.Chunk) {
	if r.blobs == nil && r.codemap == nil {
		return
	}

	codemapEntries := make(map[string]codemap.Entry, len(allChunks))
	for i, c := range allChunks {
		sc := storeChunks[i]
		sha := manifest.HashFile([]byte(c.RawContent))

		if r.blobs != nil {
			if _, err := r.blobs.Write(sha, []byte(sc.Content)); err != nil {
				slog.Warn("failed to persist chunk body",
					slog.String("chunk_id", c.ID),
					slog.String("error", err.Error()))
			}
		}
		if r.codemap == nil {
			continue
		}

		symbol := c.ID
		if len(c.Symbols) > 0 {
			symbol = c.Symbols[0].Name
		}
		var tags []string
		var intent, description string
		if len(c.Metadata) > 0 {
			if raw := c.Metadata["tags"]; raw != "" {
				tags = strings.Split(raw, ",")
			}
			intent = c.Metadata["intent"]
			description = c.Metadata["description"]
		}
		codemapEntries[c.FilePath+":"+symbol] = codemap.Entry{
			FilePath:    c.FilePath,
			Symbol:      symbol,
			Sha:         sha,
			Lang:        c.Language,
			StartLine:   c.StartLine,
			EndLine:     c.EndLine,
			Tags:        tags,
			Intent:      intent,
			Description: description,
		}
	}

	if r.codemap != nil {
		r.codemap.Merge(codemapEntries)
	}
}

// hashString is the 16-hex-char SHA-256 prefix used for file and
// project IDs.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}

// convertChunkToStore lifts a chunker chunk into its store row,
// resolving the owning file's ID by path.
func convertChunkToStore(c *chunk.Chunk, files []*store.File, now time.Time) *store.Chunk {
	var fileID string
	for _, f := range files {
		if f.Path == c.FilePath {
			fileID = f.ID
			break
		}
	}

	var symbols []*store.Symbol
	for _, s := range c.Symbols {
		symbols = append(symbols, &store.Symbol{
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

	return &store.Chunk{
		ID:          c.ID,
		FileID:      fileID,
		FilePath:    c.FilePath,
		Content:     c.Content,
		RawContent:  c.RawContent,
		Context:     c.Context,
		ContentType: store.ContentType(c.ContentType),
		Language:    c.Language,
		StartLine:   c.StartLine,
		EndLine:     c.EndLine,
		Symbols:     symbols,
		Metadata:    c.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
