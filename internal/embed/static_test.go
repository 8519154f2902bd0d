package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedderBasics(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	vec, err := e.Embed(context.Background(), "func CreateSession() {}")
	require.NoError(t, err)
	require.Len(t, vec, StaticDimensions)

	// Output is unit-normalized.
	assert.InDelta(t, 1.0, vectorMagnitude(vec), 0.001)

	assert.Equal(t, StaticDimensions, e.Dimensions())
	assert.Equal(t, "static", e.ModelName())
	assert.True(t, e.Available(context.Background()))
}

func TestStaticEmbedderDeterministic(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	a, err := e.Embed(context.Background(), "parse the merkle manifest")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "parse the merkle manifest")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStaticEmbedderSimilarTextsScoreHigher(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	ctx := context.Background()
	checkout1, _ := e.Embed(ctx, "create checkout session for stripe")
	checkout2, _ := e.Embed(ctx, "create stripe checkout session")
	unrelated, _ := e.Embed(ctx, "parse yaml configuration file")

	simRelated := cosineSimilarity(checkout1, checkout2)
	simUnrelated := cosineSimilarity(checkout1, unrelated)
	assert.Greater(t, simRelated, simUnrelated)
}

func TestStaticEmbedderEmptyInput(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	for _, input := range []string{"", "   ", "\n\t"} {
		vec, err := e.Embed(context.Background(), input)
		require.NoError(t, err)
		assert.Len(t, vec, StaticDimensions)
		assert.Zero(t, vectorMagnitude(vec), "blank input yields the zero vector")
	}
}

func TestStaticEmbedderBatch(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	texts := []string{"alpha function", "beta handler", ""}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, _ := e.Embed(context.Background(), texts[0])
	assert.Equal(t, single, vecs[0], "batch and single paths agree")
	assert.Zero(t, vectorMagnitude(vecs[2]))

	empty, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStaticEmbedderClosed(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "anything")
	assert.Error(t, err)
	_, err = e.EmbedBatch(context.Background(), []string{"x"})
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestStaticEmbedderThermalHooksAreNoOps(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()
	e.SetBatchIndex(42)
	e.SetFinalBatch(true)

	vec, err := e.Embed(context.Background(), "still works")
	require.NoError(t, err)
	assert.Len(t, vec, StaticDimensions)
}

func TestStatic768Embedder(t *testing.T) {
	e := NewStaticEmbedder768()
	defer e.Close()

	vec, err := e.Embed(context.Background(), "func CreateSession() {}")
	require.NoError(t, err)
	require.Len(t, vec, Static768Dimensions)
	assert.InDelta(t, 1.0, vectorMagnitude(vec), 0.001)

	assert.Equal(t, Static768Dimensions, e.Dimensions())
	assert.Equal(t, "static768", e.ModelName())
	assert.Equal(t, DefaultDimensions, e.Dimensions(),
		"static768 must stay dimension-compatible with the neural default")
}

func TestStatic768Deterministic(t *testing.T) {
	e := NewStaticEmbedder768()
	defer e.Close()

	a, _ := e.Embed(context.Background(), "hybrid retrieval engine")
	b, _ := e.Embed(context.Background(), "hybrid retrieval engine")
	assert.Equal(t, a, b)
}

func TestStatic768Batch(t *testing.T) {
	e := NewStaticEmbedder768()
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	for _, v := range vecs {
		assert.Len(t, v, Static768Dimensions)
	}
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("CreateCheckoutSession stripe_api_key HTTPServer")
	assert.Contains(t, tokens, "create")
	assert.Contains(t, tokens, "checkout")
	assert.Contains(t, tokens, "session")
	assert.Contains(t, tokens, "stripe")
	assert.Contains(t, tokens, "api")
	assert.Contains(t, tokens, "key")
	// Acronym runs survive as their own token.
	assert.Contains(t, tokens, "http")
	assert.Contains(t, tokens, "server")
}

func TestFilterStopWords(t *testing.T) {
	got := filterStopWords([]string{"func", "checkout", "return", "session"})
	assert.Equal(t, []string{"checkout", "session"}, got)
}

func TestSplitCamelCase(t *testing.T) {
	assert.Equal(t, []string{"Create", "Session"}, splitCamelCase("CreateSession"))
	assert.Equal(t, []string{"HTTP", "Server"}, splitCamelCase("HTTPServer"))
	assert.Equal(t, []string{"simple"}, splitCamelCase("simple"))
	assert.Empty(t, splitCamelCase(""))
}

func TestExtractNgrams(t *testing.T) {
	assert.Equal(t, []string{"abc", "bcd"}, extractNgrams("abcd", 3))
	assert.Empty(t, extractNgrams("ab", 3))
}

func TestNormalizeVector(t *testing.T) {
	v := normalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 0.001)
	assert.InDelta(t, 0.8, float64(v[1]), 0.001)

	zero := normalizeVector([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}
