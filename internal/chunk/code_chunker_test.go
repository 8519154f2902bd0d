package chunk

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkFile(t *testing.T, c *CodeChunker, path, content, language string) []*Chunk {
	t.Helper()
	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:     path,
		Content:  []byte(content),
		Language: language,
	})
	require.NoError(t, err)
	return chunks
}

func symbolNames(chunks []*Chunk) []string {
	var names []string
	for _, ch := range chunks {
		for _, s := range ch.Symbols {
			names = append(names, s.Name)
		}
	}
	return names
}

func TestChunkGoFunctions(t *testing.T) {
	c := NewCodeChunker()
	defer c.Close()

	source := `package payments

import "fmt"

// CreateSession starts a checkout session.
func CreateSession(amount int) string {
	return fmt.Sprintf("session-%d", amount)
}

func refundPayment(id string) error {
	return nil
}
`
	chunks := chunkFile(t, c, "payments/session.go", source, "go")
	require.Len(t, chunks, 2)

	names := symbolNames(chunks)
	assert.Contains(t, names, "CreateSession")
	assert.Contains(t, names, "refundPayment")

	// Context carries the file marker plus package and imports.
	assert.Contains(t, chunks[0].Context, "// File: payments/session.go")
	assert.Contains(t, chunks[0].Context, "package payments")
	assert.Contains(t, chunks[0].Context, `import "fmt"`)

	// The doc comment rides along with its function.
	assert.Contains(t, chunks[0].RawContent, "CreateSession starts a checkout session")
	assert.Equal(t, ContentTypeCode, chunks[0].ContentType)
}

func TestChunkGoMethodsAndTypes(t *testing.T) {
	c := NewCodeChunker()
	defer c.Close()

	source := `package store

type Cache struct {
	items map[string]string
}

func (c *Cache) Get(key string) string {
	return c.items[key]
}

const DefaultTTL = 300
`
	chunks := chunkFile(t, c, "store/cache.go", source, "go")
	names := symbolNames(chunks)
	assert.Contains(t, names, "Cache")
	assert.Contains(t, names, "Get")
	assert.Contains(t, names, "DefaultTTL")
}

func TestChunkTypeScriptArrowFunction(t *testing.T) {
	c := NewCodeChunker()
	defer c.Close()

	source := `import { api } from "./api"

const fetchUser = async (id: string) => {
	return api.get("/users/" + id)
}

function plain() {
	return 1
}
`
	chunks := chunkFile(t, c, "src/users.ts", source, "typescript")
	names := symbolNames(chunks)
	assert.Contains(t, names, "fetchUser")
	assert.Contains(t, names, "plain")

	// Arrow functions classify as functions, not constants.
	for _, ch := range chunks {
		for _, s := range ch.Symbols {
			if s.Name == "fetchUser" {
				assert.Equal(t, SymbolTypeFunction, s.Type)
			}
		}
	}
}

func TestChunkPythonClassAndFunction(t *testing.T) {
	c := NewCodeChunker()
	defer c.Close()

	source := `import os

class Loader:
    def load(self):
        return os.getcwd()

def standalone():
    pass
`
	chunks := chunkFile(t, c, "loader.py", source, "python")
	names := symbolNames(chunks)
	assert.Contains(t, names, "Loader")
	assert.Contains(t, names, "standalone")
}

func TestChunkUnsupportedLanguageFallsBack(t *testing.T) {
	c := NewCodeChunker()
	defer c.Close()

	chunks := chunkFile(t, c, "query.xyz", "SELECT *\nFROM users;\n", "unknownlang")
	require.NotEmpty(t, chunks)
	assert.Equal(t, ContentTypeText, chunks[0].ContentType)
}

func TestChunkEmptyFile(t *testing.T) {
	c := NewCodeChunker()
	defer c.Close()

	chunks := chunkFile(t, c, "empty.go", "", "go")
	assert.Empty(t, chunks)
}

func TestChunkIDStability(t *testing.T) {
	// Same content, same file: same ID. Any variation changes it.
	a := generateChunkID("a.go", "func x() {}")
	assert.Equal(t, a, generateChunkID("a.go", "func x() {}"))
	assert.NotEqual(t, a, generateChunkID("b.go", "func x() {}"))
	assert.NotEqual(t, a, generateChunkID("a.go", "func y() {}"))
	assert.Len(t, a, 16)
}

func TestChunkIDStableAcrossLineShifts(t *testing.T) {
	c := NewCodeChunker()
	defer c.Close()

	fn := "func target() int {\n\treturn 42\n}\n"
	v1 := chunkFile(t, c, "a.go", "package a\n\n"+fn, "go")
	v2 := chunkFile(t, c, "a.go", "package a\n\n// moved down\n\nvar filler = 1\n\n"+fn, "go")

	find := func(chunks []*Chunk, name string) *Chunk {
		for _, ch := range chunks {
			for _, s := range ch.Symbols {
				if s.Name == name {
					return ch
				}
			}
		}
		return nil
	}

	first := find(v1, "target")
	second := find(v2, "target")
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID, "pure line shifts must not change chunk identity")
}

func TestLargeFunctionSplitsIntoParts(t *testing.T) {
	c := NewCodeChunkerWithOptions(CodeChunkerOptions{MaxChunkTokens: 100, OverlapTokens: 10})
	defer c.Close()

	var body strings.Builder
	body.WriteString("package big\n\nfunc enormous() {\n")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&body, "\tdoSomethingWithALongName(%d) // padding to inflate the token count\n", i)
	}
	body.WriteString("}\n")

	chunks := chunkFile(t, c, "big.go", body.String(), "go")
	require.Greater(t, len(chunks), 1, "oversized function must split")

	names := symbolNames(chunks)
	assert.Contains(t, names, "enormous_part1")
	assert.Contains(t, names, "enormous", "parent symbol rides on the first part")

	// Adjacent parts share overlap lines.
	firstLines := strings.Split(chunks[0].RawContent, "\n")
	lastOfFirst := firstLines[len(firstLines)-1]
	assert.Contains(t, chunks[1].RawContent, lastOfFirst)
}

func TestLargeClassSplitsByMethods(t *testing.T) {
	// Eight tiny methods and one enormous one: the big one splits by
	// lines, the small ones merge into <class>_small_methods_8.
	c := NewCodeChunkerWithOptions(CodeChunkerOptions{
		MaxChunkTokens: 175,
		MinChunkTokens: 25,
		OverlapTokens:  10,
	})
	defer c.Close()

	var src strings.Builder
	src.WriteString("class Checkout {\n")
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&src, "  tiny%d() { return %d }\n", i, i)
	}
	src.WriteString("  huge() {\n")
	for i := 0; i < 120; i++ {
		fmt.Fprintf(&src, "    this.performStep(%d) // long padding comment to add tokens here\n", i)
	}
	src.WriteString("  }\n}\n")

	chunks := chunkFile(t, c, "checkout.js", src.String(), "javascript")
	names := symbolNames(chunks)

	assert.Contains(t, names, "Checkout_small_methods_8")
	var sawHugePart bool
	for _, n := range names {
		if strings.HasPrefix(n, "huge_part") {
			sawHugePart = true
		}
	}
	assert.True(t, sawHugePart, "oversized method splits into parts, got %v", names)

	// The merged chunk records how many members it absorbed.
	for _, ch := range chunks {
		for _, s := range ch.Symbols {
			if s.Name == "Checkout_small_methods_8" {
				assert.Equal(t, "8", ch.Metadata["merged"])
			}
		}
	}
}

func TestChunkMetadataEnrichment(t *testing.T) {
	c := NewCodeChunker()
	defer c.Close()

	source := `package billing

// @pampa-tags: billing, stripe
// @pampa-intent: create a stripe checkout session
func CreateStripeSession(apiKey string) error {
	return nil
}
`
	chunks := chunkFile(t, c, "billing/stripe.go", source, "go")
	require.Len(t, chunks, 1)

	md := chunks[0].Metadata
	assert.Contains(t, md["tags"], "billing")
	assert.Contains(t, md["tags"], "stripe")
	assert.Equal(t, "create a stripe checkout session", md["intent"])
}

func TestSupportedExtensionsCoverSpecLanguages(t *testing.T) {
	c := NewCodeChunker()
	defer c.Close()

	exts := c.SupportedExtensions()
	for _, want := range []string{".go", ".ts", ".tsx", ".js", ".jsx", ".py", ".rs", ".java", ".kt", ".c", ".cpp", ".cs", ".rb", ".php", ".scala", ".swift", ".lua", ".ml", ".ex", ".sh", ".html", ".css"} {
		assert.Contains(t, exts, want)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("abcd"))
	assert.Equal(t, 25, estimateTokens(strings.Repeat("x", 100)))
}

func TestCombineContextAndContent(t *testing.T) {
	assert.Equal(t, "body", combineContextAndContent("", "body"))
	assert.Equal(t, "ctx\n\nbody", combineContextAndContent("ctx", "body"))
}

func TestPrependFileMarker(t *testing.T) {
	assert.Equal(t, "// File: a.go", prependFileMarker("a.go", "go", ""))
	assert.Equal(t, "# File: a.py", prependFileMarker("a.py", "python", ""))
	assert.Equal(t, "// File: a.go\npackage a", prependFileMarker("a.go", "go", "package a"))
	assert.Equal(t, "ctx", prependFileMarker("", "go", "ctx"))
}

// fixedCounter reports a constant token count, proving the chunker
// consults the pluggable counter rather than character length.
type fixedCounter struct{ n int }

func (f fixedCounter) Count(string) (int, error) { return f.n, nil }

func TestChunkerUsesPluggableTokenCounter(t *testing.T) {
	// The counter insists everything is 1000 tokens, far past max, so
	// even a trivial function must be split into parts.
	c := NewCodeChunkerWithOptions(CodeChunkerOptions{
		MaxChunkTokens: 100,
		OverlapTokens:  10,
		TokenCounter:   fixedCounter{n: 1000},
	})
	defer c.Close()

	chunks := chunkFile(t, c, "a.go", "package a\n\nfunc tiny() {}\n", "go")
	require.NotEmpty(t, chunks)

	var sawPart bool
	for _, name := range symbolNames(chunks) {
		if strings.HasPrefix(name, "tiny_part") {
			sawPart = true
		}
	}
	assert.True(t, sawPart, "counter verdict, not character length, drives the split; got %v", symbolNames(chunks))
}
