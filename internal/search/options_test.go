package search

import (
	"testing"

	"github.com/lemon07r/pampax/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resultAt(path string, score float64, contentType store.ContentType, lang string, symbols ...*store.Symbol) *SearchResult {
	return &SearchResult{
		Score: score,
		Chunk: &store.Chunk{
			FilePath:    path,
			ContentType: contentType,
			Language:    lang,
			Symbols:     symbols,
		},
	}
}

func TestNormalizeScope(t *testing.T) {
	assert.Equal(t, "src/api", NormalizeScope("/src/api/"))
	assert.Equal(t, "src", NormalizeScope("src"))
	assert.Equal(t, "", NormalizeScope("/"))
	assert.Equal(t, "", NormalizeScope(""))
}

func TestApplyFiltersPassThrough(t *testing.T) {
	results := []*SearchResult{
		resultAt("a.go", 1, store.ContentTypeCode, "go"),
	}
	got := ApplyFilters(results, SearchOptions{Filter: "all"})
	assert.Equal(t, results, got)
}

func TestContentTypeFilter(t *testing.T) {
	results := []*SearchResult{
		resultAt("a.go", 1, store.ContentTypeCode, "go"),
		resultAt("b.md", 1, store.ContentTypeMarkdown, "markdown"),
		resultAt("c.txt", 1, store.ContentTypeText, ""),
	}

	code := ApplyFilters(results, SearchOptions{Filter: "code"})
	require.Len(t, code, 1)
	assert.Equal(t, "a.go", code[0].Chunk.FilePath)

	docs := ApplyFilters(results, SearchOptions{Filter: "docs"})
	assert.Len(t, docs, 2)
}

func TestLanguageFilter(t *testing.T) {
	results := []*SearchResult{
		resultAt("a.go", 1, store.ContentTypeCode, "go"),
		resultAt("b.ts", 1, store.ContentTypeCode, "typescript"),
	}

	got := ApplyFilters(results, SearchOptions{Filter: "all", Language: "go"})
	require.Len(t, got, 1)
	assert.Equal(t, "a.go", got[0].Chunk.FilePath)
}

func TestSymbolTypeFilter(t *testing.T) {
	results := []*SearchResult{
		resultAt("a.go", 1, store.ContentTypeCode, "go",
			&store.Symbol{Name: "F", Type: store.SymbolTypeFunction}),
		resultAt("b.go", 1, store.ContentTypeCode, "go",
			&store.Symbol{Name: "T", Type: store.SymbolTypeType}),
		resultAt("c.go", 1, store.ContentTypeCode, "go"),
	}

	got := ApplyFilters(results, SearchOptions{Filter: "all", SymbolType: "function"})
	require.Len(t, got, 1)
	assert.Equal(t, "a.go", got[0].Chunk.FilePath)
}

func TestScopeFilter(t *testing.T) {
	results := []*SearchResult{
		resultAt("services/api/handler.go", 1, store.ContentTypeCode, "go"),
		resultAt("services/api-v2/handler.go", 1, store.ContentTypeCode, "go"),
		resultAt("internal/core/engine.go", 1, store.ContentTypeCode, "go"),
	}

	got := ApplyFilters(results, SearchOptions{Filter: "all", Scopes: []string{"services/api"}})
	require.Len(t, got, 1, "scope must respect directory boundaries")
	assert.Equal(t, "services/api/handler.go", got[0].Chunk.FilePath)

	// Multiple scopes OR together.
	got = ApplyFilters(results, SearchOptions{Filter: "all", Scopes: []string{"services/api", "internal"}})
	assert.Len(t, got, 2)
}

func TestFiltersAreANDed(t *testing.T) {
	results := []*SearchResult{
		resultAt("src/a.go", 1, store.ContentTypeCode, "go"),
		resultAt("src/b.ts", 1, store.ContentTypeCode, "typescript"),
		resultAt("docs/c.md", 1, store.ContentTypeMarkdown, "markdown"),
	}

	got := ApplyFilters(results, SearchOptions{
		Filter:   "code",
		Language: "go",
		Scopes:   []string{"src"},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "src/a.go", got[0].Chunk.FilePath)
}

func TestNilChunkNeverPassesFilters(t *testing.T) {
	results := []*SearchResult{{Score: 1, Chunk: nil}}
	got := ApplyFilters(results, SearchOptions{Filter: "code"})
	assert.Empty(t, got)
}

func TestValidateOptions(t *testing.T) {
	assert.NoError(t, ValidateOptions(SearchOptions{}))
	assert.NoError(t, ValidateOptions(SearchOptions{Filter: "bogus"}))
}

func TestIsTestFile(t *testing.T) {
	cases := map[string]bool{
		"internal/search/engine_test.go": true,
		"src/app.test.ts":                true,
		"src/app.spec.js":                true,
		"tests/helper.py":                true,
		"pkg/test/util.go":               true,
		"__tests__/app.js":               true,
		"test_models.py":                 true,
		"models_test.py":                 true,
		"internal/search/engine.go":      false,
		"src/app.ts":                     false,
		"contest/winner.go":              false,
	}
	for path, want := range cases {
		assert.Equal(t, want, IsTestFile(path), "path %q", path)
	}
}

func TestApplyTestFilePenalty(t *testing.T) {
	results := []*SearchResult{
		resultAt("engine_test.go", 1.0, store.ContentTypeCode, "go"),
		resultAt("engine.go", 0.8, store.ContentTypeCode, "go"),
	}

	got := ApplyTestFilePenalty(results)
	require.Len(t, got, 2)
	assert.Equal(t, "engine.go", got[0].Chunk.FilePath, "real code overtakes the mock")
	assert.InDelta(t, 0.5, got[1].Score, 0.001)

	assert.Empty(t, ApplyTestFilePenalty(nil))
}

func TestApplyPathBoost(t *testing.T) {
	results := []*SearchResult{
		resultAt("cmd/pampax/cmd/search.go", 1.0, store.ContentTypeCode, "go"),
		resultAt("internal/search/engine.go", 0.9, store.ContentTypeCode, "go"),
	}

	got := ApplyPathBoost(results)
	require.Len(t, got, 2)
	assert.Equal(t, "internal/search/engine.go", got[0].Chunk.FilePath)
	assert.InDelta(t, 0.9*InternalPathBoost, got[0].Score, 0.001)
	assert.InDelta(t, 1.0*CmdPathPenalty, got[1].Score, 0.001)
}

func TestPathClassifiers(t *testing.T) {
	assert.True(t, IsImplementationPath("internal/search/engine.go"))
	assert.True(t, IsImplementationPath("x/internal/y.go"))
	assert.False(t, IsImplementationPath("pkg/version/version.go"))

	assert.True(t, IsWrapperPath("cmd/pampax/main.go"))
	assert.True(t, IsWrapperPath("tools/cmd/gen.go"))
	assert.False(t, IsWrapperPath("internal/command.go"))
}
