package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOpRerankerPreservesOrder(t *testing.T) {
	r := &NoOpReranker{}
	docs := []string{"first", "second", "third"}

	results, err := r.Rerank(context.Background(), "query", docs, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, res := range results {
		assert.Equal(t, i, res.Index)
		assert.Equal(t, docs[i], res.Document)
		if i > 0 {
			assert.Less(t, res.Score, results[i-1].Score, "scores strictly decrease")
		}
	}
}

func TestNoOpRerankerTopK(t *testing.T) {
	r := &NoOpReranker{}
	docs := []string{"a", "b", "c", "d"}

	results, err := r.Rerank(context.Background(), "query", docs, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// topK past the end returns everything.
	results, err = r.Rerank(context.Background(), "query", docs, 99)
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestNoOpRerankerEmptyDocs(t *testing.T) {
	r := &NoOpReranker{}
	results, err := r.Rerank(context.Background(), "query", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNoOpRerankerLifecycle(t *testing.T) {
	r := &NoOpReranker{}
	assert.True(t, r.Available(context.Background()))
	assert.NoError(t, r.Close())
}

func TestResolveRerankerOff(t *testing.T) {
	r, err := ResolveReranker(context.Background(), RerankerOff,
		DefaultMLXRerankerConfig(), APIRerankerConfig{})
	require.NoError(t, err)
	_, isNoOp := r.(*NoOpReranker)
	assert.True(t, isNoOp)
}

func TestResolveRerankerAPIWithoutURL(t *testing.T) {
	_, err := ResolveReranker(context.Background(), RerankerAPI,
		DefaultMLXRerankerConfig(), APIRerankerConfig{})
	assert.Error(t, err, "API mode without a URL cannot work")
}

func TestDefaultRerankerMode(t *testing.T) {
	t.Setenv("PAMPAX_RERANKER_DEFAULT", "")
	assert.Equal(t, RerankerOff, DefaultRerankerMode())

	t.Setenv("PAMPAX_RERANKER_DEFAULT", "transformers")
	assert.Equal(t, RerankerTransformers, DefaultRerankerMode())

	t.Setenv("PAMPAX_RERANKER_DEFAULT", "api")
	assert.Equal(t, RerankerAPI, DefaultRerankerMode())

	t.Setenv("PAMPAX_RERANKER_DEFAULT", "bogus")
	assert.Equal(t, RerankerOff, DefaultRerankerMode())
}

func TestForceRerankModeForTests(t *testing.T) {
	// The test hook overrides the explicit mode when set.
	t.Setenv("PAMPAX_MOCK_RERANKER_TESTS", "off")
	r, err := ResolveReranker(context.Background(), RerankerAPI,
		DefaultMLXRerankerConfig(), APIRerankerConfig{})
	require.NoError(t, err)
	_, isNoOp := r.(*NoOpReranker)
	assert.True(t, isNoOp)
}

func TestTruncateQuery(t *testing.T) {
	assert.Equal(t, "short", truncateQuery("short", 10))
	assert.Equal(t, "0123456789...", truncateQuery("0123456789abcdef", 10))
}
