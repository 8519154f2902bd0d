package index

import (
	"context"
	"errors"
	"testing"

	"github.com/lemon07r/pampax/internal/config"
	"github.com/lemon07r/pampax/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// codeChunksEnabled returns a config with contextual generation
// extended to code chunks, which most of these tests exercise.
func codeChunksEnabled() *config.Config {
	cfg := config.NewConfig()
	cfg.Contextual.CodeChunks = true
	return cfg
}

func codeChunk(id, path, symbol string) *store.Chunk {
	return &store.Chunk{
		ID:          id,
		FilePath:    path,
		RawContent:  "func " + symbol + "() {}",
		Content:     "package x\n\nfunc " + symbol + "() {}",
		ContentType: store.ContentTypeCode,
		Language:    "go",
		Symbols: []*store.Symbol{{
			Name:       symbol,
			Type:       store.SymbolTypeFunction,
			DocComment: symbol + " does the thing. It also logs.",
		}},
	}
}

func TestEnrichChunkWithContext(t *testing.T) {
	chunk := codeChunk("c1", "internal/search/engine.go", "Search")
	generated := "Implements the hybrid search entry point."

	EnrichChunkWithContext(chunk, generated)

	assert.Contains(t, chunk.Content, generated)
	assert.Contains(t, chunk.Content, chunk.RawContent)
	assert.Equal(t, generated, chunk.Metadata["contextual_context"])
}

func TestEnrichChunkWithContextNoOps(t *testing.T) {
	chunk := codeChunk("c1", "a.go", "F")
	before := chunk.Content

	EnrichChunkWithContext(chunk, "")
	assert.Equal(t, before, chunk.Content, "empty context changes nothing")

	EnrichChunkWithContext(nil, "something") // must not panic
}

func TestExtractDocumentContextCode(t *testing.T) {
	chunk := codeChunk("c1", "internal/store/metadata.go", "SaveChunks")
	chunk.Context = "package store\n\nimport \"database/sql\""

	docCtx := ExtractDocumentContext([]*store.Chunk{chunk})
	assert.Contains(t, docCtx, "File: internal/store/metadata.go")
	assert.Contains(t, docCtx, "package store")

	chunk.Context = ""
	docCtx = ExtractDocumentContext([]*store.Chunk{chunk})
	assert.Equal(t, "File: internal/store/metadata.go", docCtx)
}

func TestExtractDocumentContextMarkdown(t *testing.T) {
	chunks := []*store.Chunk{
		{
			FilePath:    "docs/guide.md",
			ContentType: store.ContentTypeMarkdown,
			Symbols:     []*store.Symbol{{Name: "Install", Type: store.SymbolTypeFunction}},
		},
		{
			FilePath:    "docs/guide.md",
			ContentType: store.ContentTypeMarkdown,
			Symbols:     []*store.Symbol{{Name: "Configure", Type: store.SymbolTypeFunction}},
		},
	}

	docCtx := ExtractDocumentContext(chunks)
	assert.Contains(t, docCtx, "Document: docs/guide.md")
	assert.Contains(t, docCtx, "- Install")
	assert.Contains(t, docCtx, "- Configure")
}

func TestExtractDocumentContextEmpty(t *testing.T) {
	assert.Equal(t, "", ExtractDocumentContext(nil))
}

func TestGroupChunksByFile(t *testing.T) {
	grouped := GroupChunksByFile([]*store.Chunk{
		codeChunk("1", "a.go", "A"),
		codeChunk("2", "a.go", "B"),
		codeChunk("3", "b.go", "C"),
	})

	assert.Len(t, grouped, 2)
	assert.Len(t, grouped["a.go"], 2)
	assert.Len(t, grouped["b.go"], 1)
}

func TestPatternGeneratorDescribesChunk(t *testing.T) {
	gen := NewPatternContextGenerator(codeChunksEnabled())
	chunk := codeChunk("c1", "internal/billing/stripe.go", "CreateSession")

	generated, err := gen.GenerateContext(context.Background(), chunk, "")
	require.NoError(t, err)

	assert.Contains(t, generated, "internal/billing/stripe.go")
	assert.Contains(t, generated, "CreateSession")
	assert.Contains(t, generated, "function")
	assert.Contains(t, generated, "CreateSession does the thing")
	assert.Contains(t, generated, "Language: go")
}

func TestPatternGeneratorSkipsCodeWhenDisabled(t *testing.T) {
	cfg := config.NewConfig() // CodeChunks off by default
	gen := NewPatternContextGenerator(cfg)

	generated, err := gen.GenerateContext(context.Background(), codeChunk("c1", "a.go", "F"), "")
	require.NoError(t, err)
	assert.Empty(t, generated, "code chunks skip generation unless enabled")

	// Markdown still gets context.
	md := &store.Chunk{FilePath: "docs/x.md", ContentType: store.ContentTypeMarkdown}
	generated, err = gen.GenerateContext(context.Background(), md, "")
	require.NoError(t, err)
	assert.Contains(t, generated, "docs/x.md")
}

func TestPatternGeneratorBatch(t *testing.T) {
	gen := NewPatternContextGenerator(codeChunksEnabled())
	chunks := []*store.Chunk{
		codeChunk("1", "a.go", "A"),
		codeChunk("2", "a.go", "B"),
	}

	contexts, err := gen.GenerateBatch(context.Background(), chunks, "")
	require.NoError(t, err)
	require.Len(t, contexts, 2)
	assert.Contains(t, contexts[0], "A")
	assert.Contains(t, contexts[1], "B")
}

func TestPatternGeneratorLifecycle(t *testing.T) {
	gen := NewPatternContextGenerator(nil)
	assert.True(t, gen.Available(context.Background()))
	assert.Equal(t, "pattern-based", gen.ModelName())
	assert.NoError(t, gen.Close())
}

func TestExtractFirstSentence(t *testing.T) {
	assert.Equal(t, "Does the thing", extractFirstSentence("Does the thing. And more."))
	assert.Equal(t, "First line", extractFirstSentence("First line\nsecond line"))
	assert.Equal(t, "", extractFirstSentence("   "))
	assert.Equal(t, "no terminator here", extractFirstSentence("no terminator here"))

	long := make([]byte, 150)
	for i := range long {
		long[i] = 'x'
	}
	got := extractFirstSentence(string(long))
	assert.Len(t, got, 103) // 100 chars + "..."
}

// flakyGenerator fails or succeeds on demand, for hybrid fallback
// coverage.
type flakyGenerator struct {
	available bool
	response  string
	err       error
}

func (f *flakyGenerator) GenerateContext(context.Context, *store.Chunk, string) (string, error) {
	return f.response, f.err
}
func (f *flakyGenerator) GenerateBatch(_ context.Context, chunks []*store.Chunk, _ string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]string, len(chunks))
	for i := range out {
		out[i] = f.response
	}
	return out, nil
}
func (f *flakyGenerator) Available(context.Context) bool { return f.available }
func (f *flakyGenerator) ModelName() string              { return "flaky" }
func (f *flakyGenerator) Close() error                   { return nil }

func TestHybridGeneratorPrefersLLM(t *testing.T) {
	llm := &flakyGenerator{available: true, response: "llm says hi"}
	h := NewHybridContextGenerator(llm, codeChunksEnabled())

	generated, err := h.GenerateContext(context.Background(), codeChunk("c", "a.go", "F"), "")
	require.NoError(t, err)
	assert.Equal(t, "llm says hi", generated)
	assert.Equal(t, "flaky+pattern", h.ModelName())
}

func TestHybridGeneratorFallsBackOnError(t *testing.T) {
	llm := &flakyGenerator{available: true, err: errors.New("model exploded")}
	h := NewHybridContextGenerator(llm, codeChunksEnabled())

	generated, err := h.GenerateContext(context.Background(), codeChunk("c", "a.go", "F"), "")
	require.NoError(t, err)
	assert.Contains(t, generated, "a.go", "pattern fallback produced the context")
}

func TestHybridGeneratorFallsBackWhenUnavailable(t *testing.T) {
	llm := &flakyGenerator{available: false, response: "never used"}
	h := NewHybridContextGenerator(llm, codeChunksEnabled())

	generated, err := h.GenerateContext(context.Background(), codeChunk("c", "a.go", "F"), "")
	require.NoError(t, err)
	assert.NotEqual(t, "never used", generated)
	assert.True(t, h.Available(context.Background()))
}

func TestHybridGeneratorWithoutLLM(t *testing.T) {
	h := NewHybridContextGenerator(nil, codeChunksEnabled())
	assert.Equal(t, "pattern-based", h.ModelName())
	assert.NoError(t, h.Close())

	contexts, err := h.GenerateBatch(context.Background(),
		[]*store.Chunk{codeChunk("c", "a.go", "F")}, "")
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	assert.NotEmpty(t, contexts[0])
}

func TestLLMGeneratorDefaults(t *testing.T) {
	gen, err := NewLLMContextGenerator(ContextGeneratorConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultContextModel, gen.ModelName())
}

func TestLLMGeneratorUnreachable(t *testing.T) {
	gen, err := NewLLMContextGenerator(ContextGeneratorConfig{
		OllamaHost: "http://127.0.0.1:1",
		Timeout:    "100ms",
	})
	require.NoError(t, err)

	assert.False(t, gen.Available(context.Background()))
	_, genErr := gen.GenerateContext(context.Background(), codeChunk("c", "a.go", "F"), "")
	assert.Error(t, genErr)
}

func TestTruncateContent(t *testing.T) {
	assert.Equal(t, "short", truncateContent("short", 10))
	got := truncateContent("0123456789abcdef", 10)
	assert.Contains(t, got, "[truncated]")
	assert.Contains(t, got, "0123456789")
}
