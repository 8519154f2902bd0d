package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The two lexical backends share a contract; every behavioral test
// below runs against both.
func lexicalBackends(t *testing.T) map[string]BM25Index {
	t.Helper()

	bleveIdx, err := NewBleveBM25Index("", DefaultBM25Config())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bleveIdx.Close() })

	sqliteIdx, err := NewSQLiteBM25Index("", DefaultBM25Config())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteIdx.Close() })

	return map[string]BM25Index{
		"bleve":  bleveIdx,
		"sqlite": sqliteIdx,
	}
}

func sampleDocs() []*Document {
	return []*Document{
		{ID: "checkout", Content: "func CreateCheckoutSession(apiKey string) creates a stripe checkout session"},
		{ID: "refund", Content: "func RefundPayment(id string) refunds a stripe payment"},
		{ID: "parser", Content: "func ParseManifest(path string) reads the merkle manifest from disk"},
	}
}

func TestBM25IndexAndSearch(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, idx.Index(ctx, sampleDocs()))

			results, err := idx.Search(ctx, "checkout session", 10)
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, "checkout", results[0].DocID)
			assert.Greater(t, results[0].Score, 0.0)
			assert.NotEmpty(t, results[0].MatchedTerms)
		})
	}
}

func TestBM25CamelCaseMatching(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, idx.Index(ctx, sampleDocs()))

			// "manifest" alone must find ParseManifest through
			// identifier splitting.
			results, err := idx.Search(ctx, "manifest", 10)
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, "parser", results[0].DocID)
		})
	}
}

func TestBM25EmptyQuery(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, idx.Index(ctx, sampleDocs()))

			for _, q := range []string{"", "   "} {
				results, err := idx.Search(ctx, q, 10)
				require.NoError(t, err)
				assert.Empty(t, results)
			}
		})
	}
}

func TestBM25NoMatches(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, idx.Index(ctx, sampleDocs()))

			results, err := idx.Search(ctx, "zzzquux", 10)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestBM25Update(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, idx.Index(ctx, []*Document{{ID: "doc", Content: "original words about billing"}}))
			require.NoError(t, idx.Index(ctx, []*Document{{ID: "doc", Content: "replacement words about shipping"}}))

			// Old content no longer matches; new content does; the doc
			// count stays one.
			results, err := idx.Search(ctx, "billing", 10)
			require.NoError(t, err)
			assert.Empty(t, results)

			results, err = idx.Search(ctx, "shipping", 10)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, 1, idx.Stats().DocumentCount)
		})
	}
}

func TestBM25Delete(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, idx.Index(ctx, sampleDocs()))
			require.NoError(t, idx.Delete(ctx, []string{"checkout"}))

			results, err := idx.Search(ctx, "checkout session", 10)
			require.NoError(t, err)
			for _, r := range results {
				assert.NotEqual(t, "checkout", r.DocID)
			}

			ids, err := idx.AllIDs()
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"refund", "parser"}, ids)

			assert.NoError(t, idx.Delete(ctx, nil), "empty delete is a no-op")
		})
	}
}

func TestBM25AllIDsAndStats(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, idx.Index(ctx, sampleDocs()))

			ids, err := idx.AllIDs()
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"checkout", "refund", "parser"}, ids)
			assert.Equal(t, 3, idx.Stats().DocumentCount)
		})
	}
}

func TestBM25EmptyBatchIsNoOp(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, idx.Index(context.Background(), nil))
		})
	}
}

func TestBM25ClosedIndex(t *testing.T) {
	for name, build := range map[string]func() (BM25Index, error){
		"bleve":  func() (BM25Index, error) { return NewBleveBM25Index("", DefaultBM25Config()) },
		"sqlite": func() (BM25Index, error) { return NewSQLiteBM25Index("", DefaultBM25Config()) },
	} {
		t.Run(name, func(t *testing.T) {
			idx, err := build()
			require.NoError(t, err)
			require.NoError(t, idx.Close())

			ctx := context.Background()
			assert.Error(t, idx.Index(ctx, sampleDocs()))
			_, err = idx.Search(ctx, "anything", 1)
			assert.Error(t, err)
			assert.NoError(t, idx.Close(), "double close is idempotent")
		})
	}
}

func TestBM25RankingFavorsTermDensity(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, idx.Index(ctx, []*Document{
				{ID: "dense", Content: "stripe stripe stripe payment processing"},
				{ID: "sparse", Content: "one mention of stripe in a much longer document about completely unrelated topics like parsing yaml files and managing background workers"},
			}))

			results, err := idx.Search(ctx, "stripe", 10)
			require.NoError(t, err)
			require.Len(t, results, 2)
			assert.Equal(t, "dense", results[0].DocID)
		})
	}
}

func TestSQLiteBM25PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm25.db")
	ctx := context.Background()

	idx, err := NewSQLiteBM25Index(path, DefaultBM25Config())
	require.NoError(t, err)
	require.NoError(t, idx.Index(ctx, sampleDocs()))
	require.NoError(t, idx.Save(path))
	require.NoError(t, idx.Close())

	reopened, err := NewSQLiteBM25Index(path, DefaultBM25Config())
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Search(ctx, "manifest", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "parser", results[0].DocID)
}

func TestSQLiteBM25CorruptionRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm25.db")

	// Write garbage where the database should be.
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite file"), 0o644))

	idx, err := NewSQLiteBM25Index(path, DefaultBM25Config())
	require.NoError(t, err, "corrupted index is cleared and recreated")
	defer idx.Close()

	require.NoError(t, idx.Index(context.Background(), sampleDocs()))
	assert.Equal(t, 3, idx.Stats().DocumentCount)
}

func TestBM25LargeBatch(t *testing.T) {
	idx, err := NewSQLiteBM25Index("", DefaultBM25Config())
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	docs := make([]*Document, 500)
	for i := range docs {
		docs[i] = &Document{
			ID:      fmt.Sprintf("doc-%d", i),
			Content: fmt.Sprintf("function handler number %d processes events", i),
		}
	}
	require.NoError(t, idx.Index(ctx, docs))
	assert.Equal(t, 500, idx.Stats().DocumentCount)

	results, err := idx.Search(ctx, "handler events", 10)
	require.NoError(t, err)
	assert.Len(t, results, 10)
}
