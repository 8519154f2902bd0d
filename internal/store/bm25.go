package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

// Names under which the code-aware analysis chain registers with
// bleve.
const (
	CodeTokenizerName  = "code_tokenizer"
	CodeStopFilterName = "code_stop"
	CodeAnalyzerName   = "code_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(CodeTokenizerName, codeTokenizerConstructor)
	_ = registry.RegisterTokenFilter(CodeStopFilterName, codeStopFilterConstructor)
}

// BleveBM25Index is the bleve-backed lexical index. Single-process
// only: bleve's BoltDB store holds an exclusive lock.
type BleveBM25Index struct {
	mu        sync.RWMutex
	index     bleve.Index
	path      string
	config    BM25Config
	closed    bool
	stopWords map[string]struct{}
}

var _ BM25Index = (*BleveBM25Index)(nil)

// BleveDocument is the shape bleve indexes.
type BleveDocument struct {
	Content string `json:"content"`
}

// NewBleveBM25Index opens or creates the index at path (in-memory for
// an empty path), clearing and recreating on detected corruption.
func NewBleveBM25Index(path string, config BM25Config) (*BleveBM25Index, error) {
	indexMapping, err := codeIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		idx, err = openDiskIndex(path, indexMapping)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveBM25Index{
		index:     idx,
		path:      path,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}, nil
}

// openDiskIndex opens the on-disk index, creating it when absent and
// recovering from corruption by clearing the directory. A half-written
// index from a crashed run would otherwise wedge every subsequent open.
func openDiskIndex(path string, indexMapping *mapping.IndexMappingImpl) (bleve.Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}

	if probeErr := probeIndexMeta(path); probeErr != nil {
		if err := clearCorruptIndex(path, probeErr); err != nil {
			return nil, err
		}
	}

	idx, err := bleve.Open(path)
	switch {
	case err == nil:
		return idx, nil
	case err == bleve.ErrorIndexPathDoesNotExist:
		return bleve.New(path, indexMapping)
	case isCorruptionError(err):
		slog.Warn("bm25_index_open_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if clearErr := clearCorruptIndex(path, err); clearErr != nil {
			return nil, clearErr
		}
		return bleve.New(path, indexMapping)
	default:
		return nil, err
	}
}

// probeIndexMeta sanity-checks index_meta.json before bleve touches
// the directory. Returns nil when nothing exists yet.
func probeIndexMeta(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	case err != nil:
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	case len(data) == 0:
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// clearCorruptIndex removes the damaged index directory so the caller
// can recreate it, logging what happened for the reindex that follows.
func clearCorruptIndex(path string, cause error) error {
	slog.Warn("bm25_index_corrupted",
		slog.String("path", path),
		slog.String("error", cause.Error()))

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("BM25 index corrupted at %s and cannot remove: %w (original error: %v)", path, err, cause)
	}

	slog.Info("bm25_index_cleared",
		slog.String("path", path),
		slog.String("reason", "corruption detected, please reindex"))
	return nil
}

// isCorruptionError classifies bleve open failures that call for a
// clear-and-recreate rather than a hard error.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	if err == bleve.ErrorIndexMetaCorrupt {
		return true
	}
	for _, marker := range []string{
		"unexpected end of JSON",
		"error parsing mapping JSON",
		"failed to load segment",
		"error opening bolt",
		"no such file or directory",
	} {
		if strings.Contains(err.Error(), marker) {
			return true
		}
	}
	return false
}

// codeIndexMapping wires the code tokenizer and stop filter into a
// bleve analyzer and makes it the default.
func codeIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(CodeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": CodeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			CodeStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = CodeAnalyzerName
	return indexMapping, nil
}

// runBatch executes one write batch under the lock.
func (b *BleveBM25Index) runBatch(fill func(*bleve.Batch) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	if err := fill(batch); err != nil {
		return err
	}
	return b.index.Batch(batch)
}

// Index adds documents in one batch.
func (b *BleveBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	err := b.runBatch(func(batch *bleve.Batch) error {
		for _, doc := range docs {
			if err := batch.Index(doc.ID, BleveDocument{Content: doc.Content}); err != nil {
				return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Delete removes documents in one batch.
func (b *BleveBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}
	err := b.runBatch(func(batch *bleve.Batch) error {
		for _, id := range docIDs {
			batch.Delete(id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Search runs a match query through the code analyzer and returns
// BM25-scored hits with their matched terms.
func (b *BleveBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*BM25Result{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	searchRequest := bleve.NewSearchRequest(matchQuery)
	searchRequest.Size = limit
	searchRequest.IncludeLocations = true

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*BM25Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &BM25Result{
			DocID:        hit.ID,
			Score:        hit.Score,
			MatchedTerms: matchedContentTerms(hit),
		})
	}
	return results, nil
}

// AllIDs lists every indexed document ID via a match-all query, for
// consistency reconciliation.
func (b *BleveBM25Index) AllIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	docCount, _ := b.index.DocCount()
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(docCount)
	req.Fields = []string{}

	result, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search for all IDs: %w", err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Stats reports the document count. bleve doesn't expose term count
// or average doc length without a full scan, so those stay zero.
func (b *BleveBM25Index) Stats() *IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return &IndexStats{}
	}
	docCount, _ := b.index.DocCount()
	return &IndexStats{DocumentCount: int(docCount)}
}

// Save is a no-op: a disk-backed bleve index persists as it goes.
func (b *BleveBM25Index) Save(path string) error {
	return nil
}

// Load reopens the index at path, closing any current one.
func (b *BleveBM25Index) Load(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.index != nil && !b.closed {
		_ = b.index.Close()
	}

	idx, err := bleve.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}

	b.index = idx
	b.path = path
	b.closed = false
	return nil
}

// Close closes the underlying bleve index.
func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// matchedContentTerms collects the distinct content-field terms a hit
// matched on.
func matchedContentTerms(hit *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field != "content" {
			continue
		}
		for term := range locations {
			seen[term] = struct{}{}
		}
	}

	terms := make([]string, 0, len(seen))
	for term := range seen {
		terms = append(terms, term)
	}
	return terms
}

func codeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveCodeTokenizer{}, nil
}

// bleveCodeTokenizer adapts TokenizeCode to bleve's tokenizer
// interface.
type bleveCodeTokenizer struct{}

func (t *bleveCodeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	tokens := TokenizeCode(text)

	stream := make(analysis.TokenStream, 0, len(tokens))
	cursor := 0
	for i, token := range tokens {
		// Best-effort offsets: locate each token in the original text
		// so highlighting works.
		start := strings.Index(lower[cursor:], strings.ToLower(token))
		if start < 0 {
			start = cursor
		} else {
			start += cursor
		}
		end := start + len(token)

		stream = append(stream, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		if end <= len(text) {
			cursor = end
		}
	}
	return stream
}

func codeStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveCodeStopFilter{
		stopWords: BuildStopWordMap(DefaultCodeStopWords),
	}, nil
}

// bleveCodeStopFilter drops language-keyword tokens.
type bleveCodeStopFilter struct {
	stopWords map[string]struct{}
}

func (f *bleveCodeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	kept := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[strings.ToLower(string(token.Term))]; !isStop {
			kept = append(kept, token)
		}
	}
	return kept
}
