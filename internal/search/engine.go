package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lemon07r/pampax/internal/embed"
	"github.com/lemon07r/pampax/internal/store"
	"github.com/lemon07r/pampax/internal/telemetry"
)

// Engine is the hybrid retriever: BM25 and vector search run side by
// side and meet in reciprocal rank fusion.
type Engine struct {
	bm25       store.BM25Index
	vector     store.VectorStore
	embedder   embed.Embedder
	metadata   store.MetadataStore
	config     EngineConfig
	fusion     *RRFFusion
	classifier Classifier
	metrics    *telemetry.QueryMetrics
	expander   *QueryExpander
	reranker   Reranker
	multiQuery *MultiQuerySearcher
	mu         sync.RWMutex
}

var _ SearchEngine = (*Engine)(nil)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// ErrDimensionMismatch means the configured embedder produces vectors
// of a different width than the ones already indexed.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Qwen3QueryInstruction prefixes queries before embedding. Qwen3-style
// models embed documents bare but want an instruction on the query side.
const Qwen3QueryInstruction = "Instruct: Given a code search query, retrieve relevant code snippets that answer the query\nQuery:"

func formatQueryForEmbedding(query string) string {
	return Qwen3QueryInstruction + query
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithClassifier picks BM25/semantic weights per query when the caller
// doesn't set them explicitly.
func WithClassifier(c Classifier) EngineOption {
	return func(e *Engine) { e.classifier = c }
}

// WithMetrics attaches a query telemetry collector.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithQueryExpander expands the BM25 side of the query with code-aware
// synonyms. Vector search keeps the original text.
func WithQueryExpander(exp *QueryExpander) EngineOption {
	return func(e *Engine) { e.expander = exp }
}

// WithReranker inserts a cross-encoder rerank step between fusion and
// enrichment.
func WithReranker(r Reranker) EngineOption {
	return func(e *Engine) { e.reranker = r }
}

// WithMultiQuerySearch routes decomposable generic queries through
// parallel sub-queries with consensus fusion.
func WithMultiQuerySearch(decomposer QueryDecomposer) EngineOption {
	return func(e *Engine) {
		if decomposer == nil {
			return
		}
		searchFunc := func(ctx context.Context, query string, opts SearchOptions) ([]*FusedResult, error) {
			return e.singleSearch(ctx, query, opts)
		}
		e.multiQuery = NewMultiQuerySearcher(decomposer, searchFunc)
	}
}

// NewEngine builds a hybrid engine, rejecting nil dependencies.
func NewEngine(
	bm25 store.BM25Index,
	vector store.VectorStore,
	embedder embed.Embedder,
	metadata store.MetadataStore,
	config EngineConfig,
	opts ...EngineOption,
) (*Engine, error) {
	switch {
	case bm25 == nil:
		return nil, fmt.Errorf("%w: bm25 index is required", ErrNilDependency)
	case vector == nil:
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	case embedder == nil:
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	case metadata == nil:
		return nil, fmt.Errorf("%w: metadata store is required", ErrNilDependency)
	}

	e := &Engine{
		bm25:     bm25,
		vector:   vector,
		embedder: embedder,
		metadata: metadata,
		config:   config,
		fusion:   NewRRFFusionWithK(config.RRFConstant),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// New is NewEngine that panics instead of returning an error.
//
// Deprecated: use NewEngine.
func New(
	bm25 store.BM25Index,
	vector store.VectorStore,
	embedder embed.Embedder,
	metadata store.MetadataStore,
	config EngineConfig,
	opts ...EngineOption,
) *Engine {
	e, err := NewEngine(bm25, vector, embedder, metadata, config, opts...)
	if err != nil {
		panic("search.New: " + err.Error())
	}
	return e
}

// Search runs the full query path: intention-cache lookup, hybrid
// retrieval, symbol boost, and learning a confident top hit back into
// the intention cache. A cached intention with confidence above 0.8 is
// prepended to the organic results rather than replacing them.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, nil
	}

	normalized := normalizeQuery(trimmed)
	e.recordQueryPattern(ctx, trimmed)
	intentionHit := e.lookupIntention(ctx, normalized)

	p := e.newPipeline(trimmed, opts)
	results, err := p.run(ctx)
	if err != nil {
		return nil, err
	}

	results = applySymbolBoost(results, trimmed)

	if intentionHit != nil {
		results = prependIntentionResult(results, intentionHit)
		if opts.Limit > 0 && len(results) > opts.Limit {
			results = results[:opts.Limit]
		}
		return results, nil
	}

	if len(results) > 0 && results[0].Score > 0.8 {
		_ = e.metadata.RecordIntention(ctx, normalized, trimmed, results[0].Chunk.ID, results[0].Score)
	}
	return results, nil
}

// lookupIntention returns a confident learned answer for the
// normalized query, or nil.
func (e *Engine) lookupIntention(ctx context.Context, normalized string) *SearchResult {
	entry, err := e.metadata.LookupIntention(ctx, normalized)
	if err != nil || entry == nil || entry.Confidence <= 0.8 {
		return nil
	}
	chunk, err := e.metadata.GetChunk(ctx, entry.TargetSHA)
	if err != nil || chunk == nil {
		return nil
	}
	_ = e.metadata.TouchIntention(ctx, normalized)
	return &SearchResult{
		Chunk:        chunk,
		Score:        entry.Confidence,
		MatchedTerms: []string{"intention_cache"},
	}
}

// prependIntentionResult places hit first, dropping any duplicate of
// the same chunk further down.
func prependIntentionResult(results []*SearchResult, hit *SearchResult) []*SearchResult {
	out := make([]*SearchResult, 0, len(results)+1)
	out = append(out, hit)
	for _, r := range results {
		if r.Chunk != nil && hit.Chunk != nil && r.Chunk.ID == hit.Chunk.ID {
			continue
		}
		out = append(out, r)
	}
	return out
}

// recordQueryPattern stores the query's entity-normalized shape for
// analytics.
func (e *Engine) recordQueryPattern(ctx context.Context, rawQuery string) {
	if pattern := queryPatternSignature(rawQuery); pattern != "" {
		_ = e.metadata.RecordQueryPattern(ctx, pattern)
	}
}

// searchPipeline carries one query through retrieval, fusion and the
// shared post-processing chain. Every retrieval mode (hybrid, lexical
// fallback, multi-query) converges on finish().
type searchPipeline struct {
	e     *Engine
	query string
	opts  SearchOptions
	start time.Time

	bm25Count   int
	vecCount    int
	dimMismatch bool
	decomposed  bool
	subQueries  []string
	queryType   QueryType
}

func (e *Engine) newPipeline(query string, opts SearchOptions) *searchPipeline {
	return &searchPipeline{e: e, query: query, opts: opts, start: time.Now(), queryType: QueryTypeMixed}
}

// run resolves weights, picks the retrieval mode, and finishes.
func (p *searchPipeline) run(ctx context.Context) ([]*SearchResult, error) {
	e := p.e

	if e.multiQuery != nil && e.multiQuery.decomposer.ShouldDecompose(p.query) {
		return p.runDecomposed(ctx)
	}

	if p.opts.Weights == nil && e.classifier != nil {
		if qt, weights, err := e.classifier.Classify(ctx, p.query); err == nil {
			p.opts.Weights = &weights
			p.queryType = qt
		}
	}
	p.opts = e.applyDefaults(p.opts)

	fused, err := p.retrieve(ctx)
	if err != nil {
		return nil, err
	}
	return p.finish(ctx, fused)
}

// retrieve produces the fused candidate list for one query, falling
// back to lexical-only when the user asked for it or when the vector
// side is unusable.
func (p *searchPipeline) retrieve(ctx context.Context) ([]*fusedResult, error) {
	e := p.e
	fetchLimit := p.opts.Limit * 2

	if p.opts.BM25Only {
		slog.Info("bm25_only mode enabled (user requested)")
		p.queryType = QueryTypeLexical
		return p.lexicalOnly(ctx, fetchLimit, &Weights{BM25: 1.0, Semantic: 0.0})
	}

	if err := e.validateDimensions(ctx); err != nil {
		slog.Warn("dimension mismatch detected, semantic search disabled",
			slog.String("error", err.Error()),
			slog.String("recovery_1", "pampax reindex --force"),
			slog.String("recovery_2", "pampax search --bm25-only"),
			slog.String("info", "pampax index info"))
		p.dimMismatch = true
		p.queryType = QueryTypeLexical
		fused, lexErr := p.lexicalOnly(ctx, fetchLimit, p.opts.Weights)
		if lexErr != nil {
			return nil, fmt.Errorf("BM25 search failed (semantic disabled due to dimension mismatch): %w", lexErr)
		}
		return fused, nil
	}

	bm25Results, vecResults, searchErr := e.parallelSearch(ctx, p.query, fetchLimit)
	if searchErr != nil && bm25Results == nil && vecResults == nil {
		return nil, searchErr
	}

	p.bm25Count = len(bm25Results)
	p.vecCount = len(vecResults)
	return e.fuseResults(bm25Results, vecResults, p.opts.Weights), nil
}

// lexicalOnly fuses a bare BM25 result list.
func (p *searchPipeline) lexicalOnly(ctx context.Context, limit int, weights *Weights) ([]*fusedResult, error) {
	bm25Results, err := p.e.bm25.Search(ctx, p.query, limit)
	if err != nil {
		return nil, fmt.Errorf("BM25 search failed: %w", err)
	}
	p.bm25Count = len(bm25Results)
	return p.e.fuseResults(bm25Results, nil, weights), nil
}

// runDecomposed delegates to the multi-query searcher and feeds its
// consensus-fused candidates into the common tail.
func (p *searchPipeline) runDecomposed(ctx context.Context) ([]*SearchResult, error) {
	e := p.e
	p.decomposed = true
	p.opts = e.applyDefaults(p.opts)

	if p.opts.Explain {
		for _, sq := range e.multiQuery.decomposer.Decompose(p.query) {
			p.subQueries = append(p.subQueries, sq.Query)
		}
	}

	multiFused, err := e.multiQuery.Search(ctx, p.query, p.opts)
	if err != nil {
		return nil, err
	}

	fused := make([]*fusedResult, len(multiFused))
	for i, mf := range multiFused {
		fused[i] = &fusedResult{
			chunkID:      mf.ChunkID,
			rrfScore:     mf.RRFScore,
			bm25Score:    mf.BM25Score,
			vecScore:     mf.VecScore,
			bm25Rank:     mf.BM25Rank,
			vecRank:      mf.VecRank,
			inBothLists:  mf.InBothLists,
			matchedTerms: mf.MatchedTerms,
		}
	}

	results, err := p.finish(ctx, fused)
	if err != nil {
		return nil, err
	}

	slog.Debug("multi_query_search_complete",
		slog.String("query", p.query),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(p.start)))
	return results, nil
}

// finish is the shared post-fusion tail: rerank, enrich, boost,
// filter, trim, explain, record.
func (p *searchPipeline) finish(ctx context.Context, fused []*fusedResult) ([]*SearchResult, error) {
	e := p.e

	// Multi-query results are already consensus-ranked; reranking them
	// again discards that signal.
	if !p.decomposed {
		fused = e.rerankResults(ctx, p.query, fused)
	}

	enriched, err := e.enrichResults(ctx, fused)
	if err != nil {
		return nil, err
	}

	if !p.decomposed {
		enriched = applyMetadataBoost(enriched, p.query)
	}
	e.attachAdjacentContext(ctx, enriched, p.opts.AdjacentChunks, 5)
	enriched = ApplyTestFilePenalty(enriched)
	enriched = ApplyPathBoost(enriched)

	results := ApplyFilters(enriched, p.opts)
	if len(results) > p.opts.Limit {
		results = results[:p.opts.Limit]
	}

	p.attachExplain(results)
	e.recordMetrics(p.query, p.queryType, len(results), time.Since(p.start))
	return results, nil
}

// attachExplain populates ExplainData on the first result when asked.
func (p *searchPipeline) attachExplain(results []*SearchResult) {
	if !p.opts.Explain || len(results) == 0 {
		return
	}

	bm25Count, vecCount := p.bm25Count, p.vecCount
	if p.decomposed {
		// Per-source counts are aggregated across sub-queries.
		bm25Count, vecCount = len(results), len(results)
	}
	results[0].Explain = &ExplainData{
		Query:                p.query,
		BM25ResultCount:      bm25Count,
		VectorResultCount:    vecCount,
		Weights:              *p.opts.Weights,
		RRFConstant:          p.e.config.RRFConstant,
		BM25Only:             p.opts.BM25Only,
		DimensionMismatch:    p.dimMismatch,
		MultiQueryDecomposed: p.decomposed,
		SubQueries:           p.subQueries,
	}
}

// recordMetrics forwards one query event to telemetry.
func (e *Engine) recordMetrics(query string, queryType QueryType, resultCount int, latency time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(telemetry.QueryEvent{
		Query:       query,
		QueryType:   telemetry.QueryType(queryType),
		ResultCount: resultCount,
		Latency:     latency,
		Timestamp:   time.Now(),
	})
}

// Index writes chunks through every store: BM25, vectors, metadata
// rows, and the persisted embedding column used by compaction.
func (e *Engine) Index(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	docs := make([]*store.Document, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		texts[i] = c.Content
		docs[i] = &store.Document{ID: c.ID, Content: c.Content}
	}

	embeddings, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("generate embeddings: %w", err)
	}
	if err := e.bm25.Index(ctx, docs); err != nil {
		return fmt.Errorf("index in BM25: %w", err)
	}
	if err := e.vector.Add(ctx, ids, embeddings); err != nil {
		return fmt.Errorf("add vectors: %w", err)
	}
	if err := e.metadata.SaveChunks(ctx, chunks); err != nil {
		return fmt.Errorf("save chunks metadata: %w", err)
	}

	if err := e.metadata.SaveChunkEmbeddings(ctx, ids, embeddings, e.embedder.ModelName()); err != nil {
		slog.Warn("failed to persist embeddings, compaction will require re-embedding",
			slog.String("error", err.Error()),
			slog.Int("count", len(ids)))
	}
	if err := e.storeIndexEmbeddingInfo(ctx); err != nil {
		slog.Warn("failed to store index embedding info",
			slog.String("error", err.Error()))
	}
	return nil
}

// storeIndexEmbeddingInfo stamps the active embedder's dimension and
// model so a later embedder swap is caught at query time.
func (e *Engine) storeIndexEmbeddingInfo(ctx context.Context) error {
	dim := fmt.Sprintf("%d", e.embedder.Dimensions())
	if err := e.metadata.SetState(ctx, store.StateKeyIndexDimension, dim); err != nil {
		return fmt.Errorf("failed to store index dimension: %w", err)
	}
	if err := e.metadata.SetState(ctx, store.StateKeyIndexModel, e.embedder.ModelName()); err != nil {
		return fmt.Errorf("failed to store index model: %w", err)
	}
	return nil
}

// validateDimensions compares the active embedder against the stamped
// index dimension. Missing or unreadable stamps allow the search; only
// a confirmed mismatch blocks the vector side.
func (e *Engine) validateDimensions(ctx context.Context) error {
	storedDim, err := e.metadata.GetState(ctx, store.StateKeyIndexDimension)
	if err != nil || storedDim == "" {
		return nil
	}

	var indexDim int
	if _, err := fmt.Sscanf(storedDim, "%d", &indexDim); err != nil {
		slog.Warn("invalid stored index dimension", slog.String("value", storedDim))
		return nil
	}

	if currentDim := e.embedder.Dimensions(); indexDim != currentDim {
		storedModel, _ := e.metadata.GetState(ctx, store.StateKeyIndexModel)
		return fmt.Errorf("%w: index has %d dimensions (%s), but current embedder has %d dimensions (%s). Run 'pampax reindex --force' to rebuild with current embedder",
			ErrDimensionMismatch, indexDim, storedModel, currentDim, e.embedder.ModelName())
	}
	return nil
}

// Delete removes chunks. Metadata is the source of truth and must
// succeed; BM25 and vector deletes are best-effort, their orphans are
// filtered at query time and reclaimed by compaction.
func (e *Engine) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.bm25.Delete(ctx, chunkIDs); err != nil {
		slog.Warn("BM25 delete failed, orphans will remain until compaction",
			slog.String("error", err.Error()),
			slog.Int("count", len(chunkIDs)))
	}
	if err := e.vector.Delete(ctx, chunkIDs); err != nil {
		slog.Warn("vector delete failed, orphans will remain until compaction",
			slog.String("error", err.Error()),
			slog.Int("count", len(chunkIDs)))
	}
	if err := e.metadata.DeleteChunks(ctx, chunkIDs); err != nil {
		return fmt.Errorf("delete chunks metadata: %w", err)
	}
	return nil
}

// Stats reports index sizes.
func (e *Engine) Stats() *EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &EngineStats{
		BM25Stats:   e.bm25.Stats(),
		VectorCount: e.vector.Count(),
	}
}

// Close releases the underlying stores.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Join(e.bm25.Close(), e.vector.Close(), e.metadata.Close())
}

// applyDefaults fills unset options from config.
func (e *Engine) applyDefaults(opts SearchOptions) SearchOptions {
	if opts.Limit <= 0 {
		opts.Limit = e.config.DefaultLimit
	}
	if opts.Limit > e.config.MaxLimit {
		opts.Limit = e.config.MaxLimit
	}
	if opts.Filter == "" {
		opts.Filter = "all"
	}
	if opts.Weights == nil {
		w := e.config.DefaultWeights
		opts.Weights = &w
	}
	return opts
}

// parallelSearch runs both retrievers concurrently. BM25 gets the
// synonym-expanded query; the vector side embeds the original text,
// since the embedding model resolves vocabulary on its own. One side
// failing degrades to partial results, both failing is an error.
func (e *Engine) parallelSearch(ctx context.Context, query string, limit int) (
	bm25Results []*store.BM25Result,
	vecResults []*store.VectorResult,
	err error,
) {
	bm25Query := query
	if e.expander != nil {
		if expanded := e.expander.Expand(query); expanded != query {
			slog.Debug("query expanded for BM25",
				slog.String("original", query),
				slog.String("expanded", expanded))
			bm25Query = expanded
		}
	}

	var bm25Err, vecErr error
	var queryEmbedding []float32

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bm25Results, bm25Err = e.bm25.Search(gctx, bm25Query, limit)
		return nil
	})
	g.Go(func() error {
		embedding, embedErr := e.embedder.Embed(gctx, formatQueryForEmbedding(query))
		if embedErr != nil {
			vecErr = embedErr
			return nil
		}
		queryEmbedding = embedding
		vecResults, vecErr = e.vector.Search(gctx, embedding, limit)
		return nil
	})
	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, waitErr
	}

	if e.metrics != nil && len(queryEmbedding) > 0 {
		e.metrics.RecordQueryEmbedding(queryEmbedding)
	}

	switch {
	case bm25Err != nil && vecErr != nil:
		return nil, nil, errors.Join(bm25Err, vecErr)
	case bm25Err != nil:
		err = bm25Err
	case vecErr != nil:
		err = vecErr
	}
	return bm25Results, vecResults, err
}

// fusedResult holds intermediate fusion state.
type fusedResult struct {
	chunkID      string
	rrfScore     float64
	bm25Score    float64
	vecScore     float64
	bm25Rank     int
	vecRank      int
	inBothLists  bool
	matchedTerms []string
}

// fuseResults folds both result lists through RRF.
func (e *Engine) fuseResults(
	bm25Results []*store.BM25Result,
	vecResults []*store.VectorResult,
	weights *Weights,
) []*fusedResult {
	rrfResults := e.fusion.Fuse(bm25Results, vecResults, *weights)

	results := make([]*fusedResult, len(rrfResults))
	for i, r := range rrfResults {
		results[i] = &fusedResult{
			chunkID:      r.ChunkID,
			rrfScore:     r.RRFScore,
			bm25Score:    r.BM25Score,
			vecScore:     r.VecScore,
			bm25Rank:     r.BM25Rank,
			vecRank:      r.VecRank,
			inBothLists:  r.InBothLists,
			matchedTerms: r.MatchedTerms,
		}
	}
	return results
}

// enrichResults turns fused IDs into full SearchResults with one batch
// chunk fetch. IDs with no surviving metadata row (deleted between
// fusion and now) drop out here.
func (e *Engine) enrichResults(ctx context.Context, fused []*fusedResult) ([]*SearchResult, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]string, len(fused))
	byID := make(map[string]*fusedResult, len(fused))
	for i, f := range fused {
		ids[i] = f.chunkID
		byID[f.chunkID] = f
	}

	chunks, err := e.metadata.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]*SearchResult, 0, len(chunks))
	for _, chunk := range chunks {
		f, ok := byID[chunk.ID]
		if !ok {
			continue
		}
		results = append(results, &SearchResult{
			Chunk:        chunk,
			Score:        f.rrfScore,
			BM25Score:    f.bm25Score,
			VecScore:     f.vecScore,
			BM25Rank:     f.bm25Rank,
			VecRank:      f.vecRank,
			InBothLists:  f.inBothLists,
			Highlights:   e.calculateHighlights(chunk.Content, f.matchedTerms),
			MatchedTerms: f.matchedTerms,
		})
	}
	return results, nil
}

// attachAdjacentContext loads each top result's neighboring chunks
// from the same file, grouped per file so each file is fetched once.
func (e *Engine) attachAdjacentContext(ctx context.Context, results []*SearchResult, adjacentCount, topN int) {
	if adjacentCount <= 0 || len(results) == 0 {
		return
	}

	enrichCount := len(results)
	if topN > 0 && enrichCount > topN {
		enrichCount = topN
	}

	byFile := make(map[string][]*SearchResult)
	for _, result := range results[:enrichCount] {
		if result.Chunk == nil || result.Chunk.FileID == "" {
			continue
		}
		byFile[result.Chunk.FileID] = append(byFile[result.Chunk.FileID], result)
	}

	for fileID, fileResults := range byFile {
		siblings, err := e.metadata.GetChunksByFile(ctx, fileID)
		if err != nil {
			slog.Debug("failed to fetch chunks for adjacent context",
				slog.String("file_id", fileID),
				slog.String("error", err.Error()))
			continue
		}
		for _, result := range fileResults {
			before, after := splitNeighbors(siblings, result.Chunk, adjacentCount)
			result.AdjacentContext.Before = before
			result.AdjacentContext.After = after
		}
	}
}

// splitNeighbors partitions a file's chunks around target by line
// range and keeps the n closest on each side.
func splitNeighbors(siblings []*store.Chunk, target *store.Chunk, n int) (before, after []*store.Chunk) {
	for _, c := range siblings {
		switch {
		case c.ID == target.ID:
		case c.EndLine < target.StartLine:
			before = append(before, c)
		case c.StartLine > target.EndLine:
			after = append(after, c)
		}
	}

	// Closest first on both sides.
	sort.Slice(before, func(i, j int) bool { return before[i].EndLine > before[j].EndLine })
	sort.Slice(after, func(i, j int) bool { return after[i].StartLine < after[j].StartLine })

	if len(before) > n {
		before = before[:n]
	}
	if len(after) > n {
		after = after[:n]
	}
	return before, after
}

// rerankResults rescores the fused candidates with the cross-encoder.
// Any failure (unavailable backend, fetch error, bad indices) returns
// the RRF order untouched.
func (e *Engine) rerankResults(ctx context.Context, query string, fused []*fusedResult) []*fusedResult {
	if e.reranker == nil || len(fused) < 2 {
		return fused
	}
	if !e.reranker.Available(ctx) {
		slog.Debug("reranker unavailable, skipping reranking")
		return fused
	}

	start := time.Now()

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.chunkID
	}
	chunks, err := e.metadata.GetChunks(ctx, ids)
	if err != nil {
		slog.Warn("failed to fetch chunks for reranking, skipping",
			slog.String("error", err.Error()))
		return fused
	}

	contentByID := make(map[string]string, len(chunks))
	for _, chunk := range chunks {
		contentByID[chunk.ID] = chunk.Content
	}

	documents := make([]string, 0, len(fused))
	candidates := make([]*fusedResult, 0, len(fused))
	for _, f := range fused {
		if content := contentByID[f.chunkID]; content != "" {
			documents = append(documents, content)
			candidates = append(candidates, f)
		}
	}
	if len(documents) == 0 {
		return fused
	}

	reranked, err := e.reranker.Rerank(ctx, query, documents, 0)
	if err != nil {
		slog.Warn("reranking failed, using original order",
			slog.String("error", err.Error()))
		return fused
	}

	out := make([]*fusedResult, 0, len(reranked))
	for _, rr := range reranked {
		if rr.Index < 0 || rr.Index >= len(candidates) {
			slog.Warn("invalid reranker index, skipping",
				slog.Int("index", rr.Index),
				slog.Int("valid_count", len(candidates)))
			continue
		}
		f := candidates[rr.Index]
		f.rrfScore = rr.Score
		out = append(out, f)
	}

	slog.Debug("rerank_complete",
		slog.String("query", truncateQuery(query, 50)),
		slog.Int("input_count", len(fused)),
		slog.Int("output_count", len(out)),
		slog.Duration("total", time.Since(start)))
	return out
}

// calculateHighlights locates matched terms in content, capped per
// term so a pathological chunk can't flood the result.
func (e *Engine) calculateHighlights(content string, matchedTerms []string) []Range {
	if len(matchedTerms) == 0 || len(content) == 0 {
		return []Range{}
	}

	const maxMatchesPerTerm = 10
	highlights := make([]Range, 0, len(matchedTerms)*3)
	lowerContent := strings.ToLower(content)

	for _, term := range matchedTerms {
		if term == "" {
			continue
		}
		lowerTerm := strings.ToLower(term)
		for start, found := 0, 0; found < maxMatchesPerTerm; found++ {
			idx := strings.Index(lowerContent[start:], lowerTerm)
			if idx == -1 {
				break
			}
			at := start + idx
			highlights = append(highlights, Range{Start: at, End: at + len(term)})
			start = at + len(term)
		}
	}

	if len(highlights) > 1 {
		sort.Slice(highlights, func(i, j int) bool {
			return highlights[i].Start < highlights[j].Start
		})
	}
	return highlights
}

// singleSearch is the sub-query entry point for the multi-query
// searcher: one hybrid pass, no rerank, no boosts, returning raw fused
// candidates for consensus fusion upstream.
func (e *Engine) singleSearch(ctx context.Context, query string, opts SearchOptions) ([]*FusedResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if opts.Weights == nil && e.classifier != nil {
		if _, weights, err := e.classifier.Classify(ctx, query); err == nil {
			opts.Weights = &weights
		}
	}
	opts = e.applyDefaults(opts)

	var fused []*fusedResult
	switch {
	case opts.BM25Only:
		bm25Results, err := e.bm25.Search(ctx, query, opts.Limit*2)
		if err != nil {
			return nil, fmt.Errorf("BM25 search failed: %w", err)
		}
		fused = e.fuseResults(bm25Results, nil, &Weights{BM25: 1.0, Semantic: 0.0})

	case e.validateDimensions(ctx) != nil:
		bm25Results, err := e.bm25.Search(ctx, query, opts.Limit*2)
		if err != nil {
			return nil, fmt.Errorf("BM25 search failed: %w", err)
		}
		fused = e.fuseResults(bm25Results, nil, opts.Weights)

	default:
		bm25Results, vecResults, _ := e.parallelSearch(ctx, query, opts.Limit*2)
		fused = e.fuseResults(bm25Results, vecResults, opts.Weights)
	}

	// A sub-query hint like "code" needs chunk metadata to apply, which
	// costs an enrichment round-trip.
	if opts.Filter != "" && opts.Filter != "all" {
		enriched, err := e.enrichResults(ctx, fused)
		if err != nil {
			return e.convertToFusedResult(fused), nil
		}
		filtered := ApplyFilters(enriched, opts)
		out := make([]*FusedResult, len(filtered))
		for i, r := range filtered {
			out[i] = &FusedResult{
				ChunkID:      r.Chunk.ID,
				RRFScore:     r.Score,
				BM25Score:    r.BM25Score,
				VecScore:     r.VecScore,
				InBothLists:  r.InBothLists,
				MatchedTerms: r.MatchedTerms,
			}
		}
		return out, nil
	}

	return e.convertToFusedResult(fused), nil
}

// convertToFusedResult exposes internal fusion state as the public
// FusedResult type.
func (e *Engine) convertToFusedResult(internal []*fusedResult) []*FusedResult {
	results := make([]*FusedResult, len(internal))
	for i, f := range internal {
		results[i] = &FusedResult{
			ChunkID:      f.chunkID,
			RRFScore:     f.rrfScore,
			BM25Score:    f.bm25Score,
			BM25Rank:     f.bm25Rank,
			VecScore:     f.vecScore,
			VecRank:      f.vecRank,
			InBothLists:  f.inBothLists,
			MatchedTerms: f.matchedTerms,
		}
	}
	return results
}
