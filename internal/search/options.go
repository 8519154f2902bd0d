package search

import (
	"sort"
	"strings"

	"github.com/lemon07r/pampax/internal/store"
)

// Score adjustments applied after fusion.
const (
	// TestFilePenalty halves test-file scores. Test files repeat the
	// same signatures many times and otherwise outrank the real code.
	TestFilePenalty = 0.5

	// InternalPathBoost favors implementation code under internal/.
	InternalPathBoost = 1.3

	// CmdPathPenalty demotes CLI wrappers under cmd/, which match
	// many queries without being what anyone wants to read.
	CmdPathPenalty = 0.6
)

// FilterFunc decides whether a result passes one filter.
type FilterFunc func(result *SearchResult) bool

// ApplyFilters applies the scope filters from opts with AND
// semantics.
func ApplyFilters(results []*SearchResult, opts SearchOptions) []*SearchResult {
	if opts.Filter == "all" && opts.Language == "" && opts.SymbolType == "" && len(opts.Scopes) == 0 {
		return results
	}

	filters := buildFilters(opts)
	if len(filters) == 0 {
		return results
	}

	filtered := make([]*SearchResult, 0, len(results))
	for _, r := range results {
		if matchesAllFilters(r, filters) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func buildFilters(opts SearchOptions) []FilterFunc {
	var filters []FilterFunc
	if opts.Filter != "" && opts.Filter != "all" {
		filters = append(filters, contentTypeFilter(opts.Filter))
	}
	if opts.Language != "" {
		filters = append(filters, languageFilter(opts.Language))
	}
	if opts.SymbolType != "" {
		filters = append(filters, symbolTypeFilter(opts.SymbolType))
	}
	if len(opts.Scopes) > 0 {
		filters = append(filters, scopeFilter(opts.Scopes))
	}
	return filters
}

func matchesAllFilters(result *SearchResult, filters []FilterFunc) bool {
	for _, f := range filters {
		if !f(result) {
			return false
		}
	}
	return true
}

func contentTypeFilter(filter string) FilterFunc {
	return func(r *SearchResult) bool {
		if r.Chunk == nil {
			return false
		}
		switch filter {
		case "code":
			return r.Chunk.ContentType == store.ContentTypeCode
		case "docs":
			return r.Chunk.ContentType == store.ContentTypeMarkdown ||
				r.Chunk.ContentType == store.ContentTypeText
		default:
			return true
		}
	}
}

func languageFilter(lang string) FilterFunc {
	return func(r *SearchResult) bool {
		return r.Chunk != nil && r.Chunk.Language == lang
	}
}

func symbolTypeFilter(symbolType string) FilterFunc {
	return func(r *SearchResult) bool {
		if r.Chunk == nil || len(r.Chunk.Symbols) == 0 {
			return false
		}
		targetType := store.SymbolType(symbolType)
		for _, s := range r.Chunk.Symbols {
			if s.Type == targetType {
				return true
			}
		}
		return false
	}
}

// ValidateOptions sanity-checks search options. Unknown filter values
// degrade to "all" rather than failing the search.
func ValidateOptions(opts SearchOptions) error {
	return nil
}

// NormalizeScope trims surrounding slashes so scope matching is
// consistent regardless of how the user wrote the path.
func NormalizeScope(scope string) string {
	return strings.Trim(scope, "/")
}

// scopeFilter admits results under ANY of the scopes. Each scope gets
// a trailing slash so "services/api" cannot match "services/api-v2".
func scopeFilter(scopes []string) FilterFunc {
	normalized := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if n := NormalizeScope(s); n != "" {
			normalized = append(normalized, n+"/")
		}
	}
	if len(normalized) == 0 {
		return func(*SearchResult) bool { return true }
	}

	return func(r *SearchResult) bool {
		if r.Chunk == nil {
			return false
		}
		filePath := NormalizeScope(r.Chunk.FilePath) + "/"
		for _, scope := range normalized {
			if strings.HasPrefix(filePath, scope) {
				return true
			}
		}
		return false
	}
}

// ApplyTestFilePenalty halves test-file scores and re-sorts. Without
// it, a query like "Search function" returns the mock in
// engine_test.go ahead of Engine.Search because mocks repeat the
// signature more often.
func ApplyTestFilePenalty(results []*SearchResult) []*SearchResult {
	if len(results) == 0 {
		return results
	}

	for _, r := range results {
		if r.Chunk != nil && IsTestFile(r.Chunk.FilePath) {
			r.Score *= TestFilePenalty
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// IsTestFile recognizes test files across the indexed ecosystems: Go
// _test.go, JS/TS .test./.spec., Python test_*.py and *_test.py, and
// the conventional test directories.
func IsTestFile(filePath string) bool {
	if strings.HasSuffix(filePath, "_test.go") {
		return true
	}
	if strings.Contains(filePath, ".test.") || strings.Contains(filePath, ".spec.") {
		return true
	}

	fileName := filePath
	if idx := strings.LastIndex(filePath, "/"); idx >= 0 {
		fileName = filePath[idx+1:]
	}
	if strings.HasPrefix(fileName, "test_") && strings.HasSuffix(fileName, ".py") {
		return true
	}
	if strings.HasSuffix(fileName, "_test.py") {
		return true
	}

	if strings.Contains(filePath, "/test/") || strings.Contains(filePath, "/tests/") {
		return true
	}
	if strings.HasPrefix(filePath, "test/") || strings.HasPrefix(filePath, "tests/") {
		return true
	}
	if strings.Contains(filePath, "/__tests__/") || strings.HasPrefix(filePath, "__tests__/") {
		return true
	}
	return false
}

// ApplyPathBoost favors internal/ over cmd/. Multi-query consensus
// systematically over-rewards wrappers: cmd/ files mention everything
// and so appear in every sub-query's results. The combined 1.3/0.6
// adjustment (about 2.2x) outweighs the typical consensus advantage.
func ApplyPathBoost(results []*SearchResult) []*SearchResult {
	if len(results) == 0 {
		return results
	}

	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		if IsImplementationPath(r.Chunk.FilePath) {
			r.Score *= InternalPathBoost
		}
		if IsWrapperPath(r.Chunk.FilePath) {
			r.Score *= CmdPathPenalty
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// IsImplementationPath matches code under internal/.
func IsImplementationPath(filePath string) bool {
	return strings.HasPrefix(filePath, "internal/") ||
		strings.Contains(filePath, "/internal/")
}

// IsWrapperPath matches CLI code under cmd/.
func IsWrapperPath(filePath string) bool {
	return strings.HasPrefix(filePath, "cmd/") ||
		strings.Contains(filePath, "/cmd/")
}
