package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder is the zero-dependency fallback backend: vectors come
// from hashed token and trigram features. Deterministic and instant,
// at the cost of real semantic quality.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// programmingStopWords drops language keywords that carry no meaning.
var programmingStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

// Feature weights: whole tokens matter more than character trigrams.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticEmbedder builds the hash-based embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

func (e *StaticEmbedder) guard() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}

// Embed produces a normalized hash-feature vector for text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}
	return normalizeVector(e.generateVector(trimmed)), nil
}

func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)
	bump := func(feature string, weight float32) {
		vector[hashToIndex(feature, StaticDimensions)] += weight
	}

	for _, token := range filterStopWords(tokenize(text)) {
		bump(token, tokenWeight)
	}
	for _, ngram := range extractNgrams(normalizeForNgrams(text), ngramSize) {
		bump(ngram, ngramWeight)
	}
	return vector
}

// tokenize splits text into lowercase word tokens, breaking camelCase
// and snake_case identifiers apart.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, piece := range strings.Split(word, "_") {
			for _, t := range splitCamelCase(piece) {
				if lower := strings.ToLower(t); lower != "" {
					tokens = append(tokens, lower)
				}
			}
		}
	}
	return tokens
}

// splitCamelCase cuts at case transitions, keeping acronym runs like
// "HTTPServer" as "HTTP" + "Server". A boundary sits before an upper
// rune that follows a lower one, or that starts a new word after an
// acronym run.
func splitCamelCase(s string) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}

	boundaries := []int{0}
	for i := 1; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			continue
		}
		if unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1])) {
			boundaries = append(boundaries, i)
		}
	}
	boundaries = append(boundaries, len(runes))

	parts := make([]string, 0, len(boundaries)-1)
	for i := 1; i < len(boundaries); i++ {
		if from, to := boundaries[i-1], boundaries[i]; to > from {
			parts = append(parts, string(runes[from:to]))
		}
	}
	return parts
}

func filterStopWords(tokens []string) []string {
	var kept []string
	for _, t := range tokens {
		if !programmingStopWords[t] {
			kept = append(kept, t)
		}
	}
	return kept
}

// normalizeForNgrams keeps only lowercase letters and digits.
func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return []string{}
	}
	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i+n <= len(text); i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch embeds each text sequentially; hashing is cheap enough
// that batching buys nothing here.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

func (e *StaticEmbedder) Dimensions() int { return StaticDimensions }

func (e *StaticEmbedder) ModelName() string { return "static" }

// Available is true until Close; there is nothing external to fail.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// SetBatchIndex is a no-op: no thermal pacing for local hashing.
func (e *StaticEmbedder) SetBatchIndex(_ int) {}

// SetFinalBatch is a no-op: no thermal pacing for local hashing.
func (e *StaticEmbedder) SetFinalBatch(_ bool) {}
