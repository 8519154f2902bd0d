package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultClassifierModel   = "llama3.2:1b"
	DefaultClassifierTimeout = 2 * time.Second
	// 10k cached classifications costs roughly 100KB and covers the
	// repeat-heavy query stream a coding agent produces.
	DefaultClassifierCacheSize = 10000
	DefaultOllamaHost          = "http://localhost:11434"
)

// ClassifierConfig tunes the LLM-backed query classifier.
type ClassifierConfig struct {
	// Model is the local classification model.
	Model string

	// Timeout bounds the LLM call; classification must never make a
	// search feel slow.
	Timeout time.Duration

	// CacheSize is the LRU capacity for classification results.
	CacheSize int

	// OllamaHost is the API base URL.
	OllamaHost string
}

// DefaultClassifierConfig returns the standard settings.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Model:      DefaultClassifierModel,
		Timeout:    DefaultClassifierTimeout,
		CacheSize:  DefaultClassifierCacheSize,
		OllamaHost: DefaultOllamaHost,
	}
}

type classificationResult struct {
	queryType QueryType
	weights   Weights
}

// HybridClassifier asks the LLM when one is configured and falls back
// to regex patterns, caching either answer.
type HybridClassifier struct {
	llm      *LLMClassifier
	patterns *PatternClassifier
	cache    *lru.Cache[string, classificationResult]
}

// NewHybridClassifier builds the classifier; a nil llm leaves only
// the pattern path.
func NewHybridClassifier(llm *LLMClassifier) *HybridClassifier {
	cache, _ := lru.New[string, classificationResult](DefaultClassifierCacheSize)
	return &HybridClassifier{
		llm:      llm,
		patterns: NewPatternClassifier(),
		cache:    cache,
	}
}

// NewHybridClassifierWithConfig sizes the cache from config.
func NewHybridClassifierWithConfig(llm *LLMClassifier, config ClassifierConfig) *HybridClassifier {
	cacheSize := config.CacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultClassifierCacheSize
	}
	cache, _ := lru.New[string, classificationResult](cacheSize)
	return &HybridClassifier{
		llm:      llm,
		patterns: NewPatternClassifier(),
		cache:    cache,
	}
}

// Classify resolves query type and weights: cache, then LLM, then
// patterns.
func (h *HybridClassifier) Classify(ctx context.Context, query string) (QueryType, Weights, error) {
	cacheKey := classifierCacheKey(query)
	if cacheKey == "" {
		return QueryTypeMixed, WeightsForQueryType(QueryTypeMixed), nil
	}

	if result, ok := h.cache.Get(cacheKey); ok {
		return result.queryType, result.weights, nil
	}

	if h.llm != nil {
		if qt, weights, err := h.llm.Classify(ctx, query); err == nil {
			h.cache.Add(cacheKey, classificationResult{qt, weights})
			return qt, weights, nil
		}
		// LLM failure degrades silently to patterns.
	}

	qt, weights, err := h.patterns.Classify(ctx, query)
	if err == nil {
		h.cache.Add(cacheKey, classificationResult{qt, weights})
	}
	return qt, weights, err
}

// classifierCacheKey normalizes a query into the classification
// cache's key. Deliberately simpler than intent.go's normalizeQuery
// (no Spanish synonym mapping, no punctuation stripping): this cache
// only dedupes repeats and whitespace variants, it does not unify
// cross-language phrasings onto one intention-cache entry.
func classifierCacheKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

var _ Classifier = (*HybridClassifier)(nil)

// LLMClassifier asks a small local model which retrieval mode suits
// the query.
type LLMClassifier struct {
	client *http.Client
	config ClassifierConfig
	prompt string
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewLLMClassifier builds the LLM classifier with defaults filled in.
func NewLLMClassifier(config ClassifierConfig) *LLMClassifier {
	if config.Model == "" {
		config.Model = DefaultClassifierModel
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultClassifierTimeout
	}
	if config.OllamaHost == "" {
		config.OllamaHost = DefaultOllamaHost
	}

	return &LLMClassifier{
		client: &http.Client{Timeout: config.Timeout},
		config: config,
		prompt: classificationPrompt,
	}
}

const classificationPrompt = `You are a search query classifier. Classify the given query into exactly ONE of these categories:

LEXICAL - The query needs exact/keyword matching. Examples:
- Error codes: ERR_CONNECTION_REFUSED, E0001
- Function/variable names: getUserById, handle_auth
- File paths: src/auth/handler.go
- Quoted phrases: "exact match"

SEMANTIC - The query is natural language seeking meaning. Examples:
- Questions: "how does authentication work"
- Conceptual: "explain the search algorithm"
- Descriptions: "find code that handles errors"

MIXED - The query benefits from both approaches. Examples:
- Short technical terms: "useEffect cleanup"
- Ambiguous: "authentication" (could be code or concept)

Respond with ONLY one word: LEXICAL, SEMANTIC, or MIXED.

Query: %s

Classification:`

// Classify sends the query to /api/generate and parses the one-word
// verdict. Every failure path returns MIXED alongside the error so
// callers can degrade without re-deciding.
func (l *LLMClassifier) Classify(ctx context.Context, query string) (QueryType, Weights, error) {
	mixed := func(err error) (QueryType, Weights, error) {
		return QueryTypeMixed, WeightsForQueryType(QueryTypeMixed), err
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return mixed(nil)
	}

	body, err := json.Marshal(generateRequest{
		Model:  l.config.Model,
		Prompt: fmt.Sprintf(l.prompt, query),
		Stream: false,
	})
	if err != nil {
		return mixed(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.config.OllamaHost+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return mixed(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return mixed(fmt.Errorf("execute request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return mixed(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody)))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return mixed(fmt.Errorf("decode response: %w", err))
	}

	qt := parseClassificationResponse(result.Response)
	return qt, WeightsForQueryType(qt), nil
}

// parseClassificationResponse tolerates chatty models: exact word
// first, then substring, then MIXED.
func parseClassificationResponse(response string) QueryType {
	response = strings.ToUpper(strings.TrimSpace(response))

	switch response {
	case "LEXICAL":
		return QueryTypeLexical
	case "SEMANTIC":
		return QueryTypeSemantic
	case "MIXED":
		return QueryTypeMixed
	}

	if strings.Contains(response, "LEXICAL") {
		return QueryTypeLexical
	}
	if strings.Contains(response, "SEMANTIC") {
		return QueryTypeSemantic
	}
	return QueryTypeMixed
}

// Available probes /api/tags.
func (l *LLMClassifier) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.config.OllamaHost+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

var _ Classifier = (*LLMClassifier)(nil)
