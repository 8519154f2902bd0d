package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SQLite-specific behavior beyond the shared backend contract in
// bm25_test.go: WAL-mode concurrency and stop-word handling.

func TestSQLiteBM25ConcurrentReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm25.db")
	ctx := context.Background()

	idx, err := NewSQLiteBM25Index(path, DefaultBM25Config())
	require.NoError(t, err)
	defer idx.Close()
	require.NoError(t, idx.Index(ctx, sampleDocs()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				results, err := idx.Search(ctx, "stripe", 5)
				assert.NoError(t, err)
				assert.NotEmpty(t, results)
			}
		}()
	}
	wg.Wait()
}

func TestSQLiteBM25ConcurrentReadWrite(t *testing.T) {
	idx, err := NewSQLiteBM25Index(filepath.Join(t.TempDir(), "bm25.db"), DefaultBM25Config())
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, sampleDocs()))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_ = idx.Index(ctx, []*Document{{
				ID:      fmt.Sprintf("writer-%d", i),
				Content: fmt.Sprintf("concurrent write number %d", i),
			}})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, _ = idx.Search(ctx, "concurrent", 5)
		}
	}()
	wg.Wait()

	assert.GreaterOrEqual(t, idx.Stats().DocumentCount, 3)
}

func TestSQLiteBM25StopWordsFiltered(t *testing.T) {
	idx, err := NewSQLiteBM25Index("", DefaultBM25Config())
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Document{
		{ID: "doc", Content: "func return if else while processPayment"},
	}))

	// A query of nothing but stop words yields nothing rather than
	// matching every document.
	results, err := idx.Search(ctx, "func return if", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Real identifiers still match.
	results, err = idx.Search(ctx, "processPayment", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSQLiteBM25MalformedMatchInput(t *testing.T) {
	idx, err := NewSQLiteBM25Index("", DefaultBM25Config())
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, sampleDocs()))

	// FTS5 operator characters are stripped by tokenization; the
	// search degrades to its word content instead of erroring.
	for _, q := range []string{`"unclosed`, "NOT AND OR", "a*b(c)"} {
		_, err := idx.Search(ctx, q, 5)
		assert.NoError(t, err, "query %q", q)
	}
}

func TestSQLiteBM25InMemory(t *testing.T) {
	idx, err := NewSQLiteBM25Index("", DefaultBM25Config())
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Index(context.Background(), sampleDocs()))
	assert.Equal(t, 3, idx.Stats().DocumentCount)
}
