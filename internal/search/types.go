// Package search is the hybrid retrieval engine: BM25 and vector
// candidates fused with reciprocal rank fusion, boosted by metadata
// and symbol matches, optionally reranked by a cross-encoder.
package search

import (
	"context"
	"time"

	"github.com/lemon07r/pampax/internal/store"
)

// SearchEngine is the engine's public contract.
type SearchEngine interface {
	// Search runs the full hybrid pipeline for one query.
	Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error)

	// Index adds chunks to both the lexical and vector indexes.
	Index(ctx context.Context, chunks []*store.Chunk) error

	// Delete removes chunks from both indexes.
	Delete(ctx context.Context, chunkIDs []string) error

	// Stats reports index sizes.
	Stats() *EngineStats

	// Close releases everything.
	Close() error
}

// SearchOptions scopes and tunes one query.
type SearchOptions struct {
	// Limit caps returned results; default 10, hard max 100.
	Limit int

	// Filter restricts content type: "all", "code" or "docs".
	Filter string

	// Language keeps only one language's chunks.
	Language string

	// SymbolType keeps only chunks declaring this kind of symbol.
	SymbolType string

	// Weights overrides the classifier-chosen BM25/semantic split.
	Weights *Weights

	// Scopes are path prefixes; a result must live under one of them
	// (OR semantics). Empty means everywhere.
	Scopes []string

	// BM25Only skips vector search entirely, for exact keyword work
	// or when no embedder is available.
	BM25Only bool

	// AdjacentChunks fetches N chunks before and after each result
	// from the same file, for context continuity. 0 disables.
	AdjacentChunks int

	// Explain attaches ExplainData describing how the ranking came
	// about.
	Explain bool
}

// Weights split the fused score between the two retrieval modes.
type Weights struct {
	// BM25 weighs keyword matching.
	BM25 float64

	// Semantic weighs vector similarity.
	Semantic float64
}

// DefaultWeights is the mixed-query tuning.
func DefaultWeights() Weights {
	return Weights{
		BM25:     0.35,
		Semantic: 0.65,
	}
}

// SearchResult is one ranked hit with its full score breakdown.
type SearchResult struct {
	// Chunk is the stored chunk, loaded from metadata.
	Chunk *store.Chunk

	// Score is the final combined score in [0, 1].
	Score float64

	// BM25Score and VecScore are the per-source scores.
	BM25Score float64
	VecScore  float64

	// BM25Rank and VecRank are 1-indexed source positions, 0 when the
	// result was absent from that source. Surfaced for explain mode.
	BM25Rank int
	VecRank  int

	// Highlights marks where query terms matched.
	Highlights []Range

	// InBothLists is true when both sources returned the chunk.
	InBothLists bool

	// MatchedTerms are the BM25 terms that hit, for display.
	MatchedTerms []string

	// AdjacentContext holds surrounding chunks when requested.
	AdjacentContext AdjacentContext

	// Explain is populated on the first result when opts.Explain.
	Explain *ExplainData

	// MetadataBoost is the additive intent/tag bonus: +0.2 for an
	// intent substring match, +0.1 per matched tag.
	MetadataBoost float64

	// ScoreRaw keeps the pre-clamp value when MetadataBoost pushed
	// Score past 1.0; zero when no clamp happened.
	ScoreRaw float64
}

// AdjacentContext carries a result's neighboring chunks, closest
// first, so multi-chunk implementations read coherently.
type AdjacentContext struct {
	Before []*store.Chunk
	After  []*store.Chunk
}

// Range is a half-open character span for highlighting.
type Range struct {
	Start int
	End   int
}

// EngineStats summarizes index sizes.
type EngineStats struct {
	BM25Stats   *store.IndexStats
	VectorCount int
}

// EngineConfig tunes the engine.
type EngineConfig struct {
	// DefaultLimit applies when a query passes no limit.
	DefaultLimit int

	// MaxLimit caps any requested limit.
	MaxLimit int

	// DefaultWeights apply when neither the caller nor the classifier
	// chooses.
	DefaultWeights Weights

	// RRFConstant is the fusion k.
	RRFConstant int

	// SearchTimeout bounds one query end to end.
	SearchTimeout time.Duration
}

// DefaultConfig is the standard tuning.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		DefaultLimit:   10,
		MaxLimit:       100,
		DefaultWeights: DefaultWeights(),
		RRFConstant:    60,
		SearchTimeout:  5 * time.Second,
	}
}

// QueryType classifies what kind of matching a query needs.
type QueryType string

const (
	// QueryTypeLexical wants exact matching: error codes,
	// identifiers, quoted phrases, file paths.
	QueryTypeLexical QueryType = "LEXICAL"

	// QueryTypeSemantic is natural language after meaning.
	QueryTypeSemantic QueryType = "SEMANTIC"

	// QueryTypeMixed benefits from both; also the fallback.
	QueryTypeMixed QueryType = "MIXED"
)

// Classifier picks a query's type and weights. Implementations
// returning an error should still return usable mixed defaults.
type Classifier interface {
	Classify(ctx context.Context, query string) (QueryType, Weights, error)
}

// WeightsForQueryType maps a classification to its weight split.
func WeightsForQueryType(qt QueryType) Weights {
	switch qt {
	case QueryTypeLexical:
		return Weights{BM25: 0.85, Semantic: 0.15}
	case QueryTypeSemantic:
		return Weights{BM25: 0.20, Semantic: 0.80}
	default:
		return Weights{BM25: 0.35, Semantic: 0.65}
	}
}

// ExplainData records how a ranking was produced, for debugging
// searches that return surprising results.
type ExplainData struct {
	Query string

	BM25ResultCount   int
	VectorResultCount int

	Weights     Weights
	RRFConstant int

	BM25Only          bool
	DimensionMismatch bool

	MultiQueryDecomposed bool
	SubQueries           []string
}
