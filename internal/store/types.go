// Package store is the persistence layer: SQLite metadata, the BM25
// lexical indexes (FTS5 and bleve) and the HNSW vector store.
package store

import (
	"context"
	"fmt"
	"time"
)

// ContentType is the broad kind of content in a chunk.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// State keys recording which embedder built the index, checked on
// open to catch provider/dimension mismatches.
const (
	StateKeyIndexDimension = "index_embedding_dimension"
	StateKeyIndexModel     = "index_embedding_model"
)

// Checkpoint state keys for resumable indexing.
const (
	// StateKeyCheckpointStage: scanning|chunking|embedding|indexing|complete.
	StateKeyCheckpointStage     = "checkpoint_stage"
	StateKeyCheckpointTotal     = "checkpoint_total"
	StateKeyCheckpointEmbedded  = "checkpoint_embedded"
	StateKeyCheckpointTimestamp = "checkpoint_timestamp"
	// StateKeyCheckpointEmbedderModel guards resume against an
	// embedder swap that would mix dimensions mid-index.
	StateKeyCheckpointEmbedderModel = "checkpoint_embedder_model"
)

// Chunk ID versioning, used to detect indexes that predate
// content-addressed IDs and need a rebuild.
const (
	StateKeyChunkIDVersion = "chunk_id_version"

	// ChunkIDVersionLegacy: position-based IDs (path + start line),
	// unstable across edits.
	ChunkIDVersionLegacy = "1"

	// ChunkIDVersionContent: content-addressed IDs, stable across
	// line shifts.
	ChunkIDVersionContent = "2"
)

// SymbolType classifies a declaration.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// Symbol is a declaration extracted during chunking, persisted so the
// retrieval engine's symbol boost can match query words against
// names, parameters and call edges.
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
	Parameters []string
	Calls      []string
}

// Chunk is one retrievable fragment as stored.
type Chunk struct {
	ID          string            // content-derived identity
	FileID      string            // parent file
	FilePath    string            // repo-relative
	Content     string            // body with context
	RawContent  string            // body alone (code only)
	Context     string            // package decl, imports (code only)
	ContentType ContentType       // code, markdown, text
	Language    string            // go, typescript, ...
	StartLine   int               // 1-indexed
	EndLine     int               // inclusive
	Symbols     []*Symbol         // declarations inside
	Metadata    map[string]string // tags, intent, annotations
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// File is one tracked source file.
type File struct {
	ID          string    // hash of relative path
	ProjectID   string    // parent project
	Path        string    // repo-relative
	Size        int64     // bytes
	ModTime     time.Time // last modification
	ContentHash string    // content hash for change detection
	Language    string
	ContentType string // code, markdown, text
	IndexedAt   time.Time
}

// Project is one indexed repository.
type Project struct {
	ID          string // hash of absolute path
	Name        string // directory name
	RootPath    string // absolute path
	ProjectType string // go, node, python, ...
	ChunkCount  int
	FileCount   int
	IndexedAt   time.Time
	Version     string // index schema version
}

// MetadataStore is the relational store behind the index: projects,
// files, chunks, embeddings, runtime state, the intention cache and
// query-pattern analytics.
type MetadataStore interface {
	// Projects.
	SaveProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	UpdateProjectStats(ctx context.Context, id string, fileCount, chunkCount int) error
	// RefreshProjectStats recounts from the database and stamps
	// indexed_at.
	RefreshProjectStats(ctx context.Context, id string) error

	// Files.
	SaveFiles(ctx context.Context, files []*File) error
	GetFileByPath(ctx context.Context, projectID, path string) (*File, error)
	GetChangedFiles(ctx context.Context, projectID string, since time.Time) ([]*File, error)
	ListFiles(ctx context.Context, projectID string, cursor string, limit int) ([]*File, string, error)
	GetFilePathsByProject(ctx context.Context, projectID string) ([]string, error)
	GetFilesForReconciliation(ctx context.Context, projectID string) (map[string]*File, error)
	ListFilePathsUnder(ctx context.Context, projectID, dirPrefix string) ([]string, error)
	// DeleteFile cascades to the file's chunks.
	DeleteFile(ctx context.Context, fileID string) error
	DeleteFilesByProject(ctx context.Context, projectID string) error

	// Chunks.
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetChunksByFile(ctx context.Context, fileID string) ([]*Chunk, error)
	DeleteChunks(ctx context.Context, ids []string) error
	DeleteChunksByFile(ctx context.Context, fileID string) error

	// Symbols.
	SearchSymbols(ctx context.Context, name string, limit int) ([]*Symbol, error)

	// Runtime key-value state.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Embeddings, persisted for HNSW compaction rebuilds.
	SaveChunkEmbeddings(ctx context.Context, chunkIDs []string, embeddings [][]float32, model string) error
	GetAllEmbeddings(ctx context.Context) (map[string][]float32, error)
	GetEmbeddingStats(ctx context.Context) (withEmbedding, withoutEmbedding int, err error)

	// Checkpoints for resumable indexing.
	SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error
	LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error)
	ClearIndexCheckpoint(ctx context.Context) error

	// Intention cache: learned query -> chunk shortcuts.
	LookupIntention(ctx context.Context, normalizedQuery string) (*IntentionCacheEntry, error)
	RecordIntention(ctx context.Context, normalizedQuery, originalQuery, targetSHA string, confidence float64) error
	TouchIntention(ctx context.Context, normalizedQuery string) error

	// Query-pattern analytics.
	RecordQueryPattern(ctx context.Context, pattern string) error
	TopQueryPatterns(ctx context.Context, limit int) ([]*QueryPatternEntry, error)

	Close() error
}

// IntentionCacheEntry maps a normalized query to the chunk SHA that
// satisfied it before, with confidence and usage bookkeeping.
type IntentionCacheEntry struct {
	QueryNormalized string
	OriginalQuery   string
	TargetSHA       string
	Confidence      float64
	UsageCount      int
	CreatedAt       time.Time
	LastUsed        time.Time
}

// QueryPatternEntry counts how often a normalized query shape (named
// entities replaced by placeholders) has been searched.
type QueryPatternEntry struct {
	Pattern   string
	Frequency int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IndexCheckpoint is the resumable-indexing snapshot.
type IndexCheckpoint struct {
	Stage         string // scanning|chunking|embedding|indexing|complete
	Total         int
	EmbeddedCount int
	Timestamp     time.Time
	EmbedderModel string
}

// IndexInfo backs `pampax index info`: where the index lives, what
// built it, and whether the current embedder still matches.
type IndexInfo struct {
	Location    string
	ProjectRoot string

	IndexModel      string
	IndexBackend    string
	IndexDimensions int

	ChunkCount      int
	DocumentCount   int
	IndexSizeBytes  int64
	BM25SizeBytes   int64
	VectorSizeBytes int64

	CreatedAt time.Time
	UpdatedAt time.Time

	CurrentModel      string
	CurrentBackend    string
	CurrentDimensions int
	Compatible        bool
}

// CurrentSchemaVersion is the database schema version.
const CurrentSchemaVersion = 2

// Document is what the BM25 index consumes.
type Document struct {
	ID      string // chunk ID
	Content string
}

// BM25Result is one lexical hit.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats summarizes a BM25 index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index is the lexical index contract.
type BM25Index interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)
	Delete(ctx context.Context, docIDs []string) error
	// AllIDs supports consistency reconciliation.
	AllIDs() ([]string, error)
	Stats() *IndexStats

	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config tunes scoring and tokenization.
type BM25Config struct {
	// K1 is term-frequency saturation.
	K1 float64

	// B is document-length normalization.
	B float64

	// StopWords are dropped during tokenization.
	StopWords []string

	// MinTokenLength filters short fragments.
	MinTokenLength int
}

// DefaultBM25Config is the standard k1=1.2, b=0.75 tuning.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords are language keywords and throwaway identifier
// names that carry no search signal.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// VectorResult is one nearest-neighbor hit.
type VectorResult struct {
	ID       string  // chunk ID
	Distance float32 // lower is closer (0-2 for cosine)
	Score    float32 // normalized similarity in [0,1]
}

// VectorStoreConfig tunes the HNSW store.
type VectorStoreConfig struct {
	// Dimensions must match the embedding provider.
	Dimensions int

	// Quantization: f32, f16 or i8.
	Quantization string

	// Metric: "cos" or "l2".
	Metric string

	// M is max connections per HNSW layer.
	M int

	// EfConstruction is build-time search width.
	EfConstruction int

	// EfSearch is query-time search width.
	EfSearch int
}

// DefaultVectorStoreConfig is cosine/f16 with standard HNSW tuning.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Quantization:   "f16",
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore is the ANN index contract.
type VectorStore interface {
	// Add inserts vectors; an existing ID is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search returns the k nearest neighbors.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	Delete(ctx context.Context, ids []string) error

	// AllIDs supports consistency reconciliation.
	AllIDs() []string

	Contains(id string) bool
	Count() int

	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch reports a vector sized for a different
// embedder than the index.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'pampax reindex --force')", e.Expected, e.Got)
}
