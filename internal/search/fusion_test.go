package search

import (
	"testing"

	"github.com/lemon07r/pampax/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bm25Hit(id string, score float64) *store.BM25Result {
	return &store.BM25Result{DocID: id, Score: score, MatchedTerms: []string{"term"}}
}

func vecHit(id string, score float32) *store.VectorResult {
	return &store.VectorResult{ID: id, Score: score}
}

func equalWeights() Weights {
	return Weights{BM25: 0.5, Semantic: 0.5}
}

func TestRRFFusionDefaults(t *testing.T) {
	assert.Equal(t, 60, NewRRFFusion().K)
	assert.Equal(t, 42, NewRRFFusionWithK(42).K)
	assert.Equal(t, 60, NewRRFFusionWithK(0).K)
	assert.Equal(t, 60, NewRRFFusionWithK(-5).K)
}

func TestRRFFusionEmptyInputs(t *testing.T) {
	f := NewRRFFusion()
	results := f.Fuse(nil, nil, equalWeights())
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRRFFusionSingleSource(t *testing.T) {
	f := NewRRFFusion()

	// BM25-only input preserves BM25 ordering.
	results := f.Fuse(
		[]*store.BM25Result{bm25Hit("a", 10), bm25Hit("b", 5)},
		nil, equalWeights())
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Equal(t, 1, results[0].BM25Rank)
	assert.Zero(t, results[0].VecRank)
	assert.False(t, results[0].InBothLists)

	// Vector-only likewise.
	results = f.Fuse(nil,
		[]*store.VectorResult{vecHit("x", 0.9), vecHit("y", 0.5)},
		equalWeights())
	require.Len(t, results, 2)
	assert.Equal(t, "x", results[0].ChunkID)
	assert.Equal(t, 1, results[0].VecRank)
}

func TestRRFFusionConsensusWins(t *testing.T) {
	// Vector ranks X,Y,Z; BM25 ranks Y,X,W. Y has the best summed
	// reciprocal ranks and must come out on top, X second.
	f := NewRRFFusion()
	results := f.Fuse(
		[]*store.BM25Result{bm25Hit("Y", 9), bm25Hit("X", 8), bm25Hit("W", 7)},
		[]*store.VectorResult{vecHit("X", 0.95), vecHit("Y", 0.90), vecHit("Z", 0.85)},
		equalWeights())

	require.Len(t, results, 4)
	assert.Equal(t, "Y", results[0].ChunkID)
	assert.Equal(t, "X", results[1].ChunkID)
	assert.True(t, results[0].InBothLists)
	assert.True(t, results[1].InBothLists)
}

func TestRRFFusionScoresNormalized(t *testing.T) {
	f := NewRRFFusion()
	results := f.Fuse(
		[]*store.BM25Result{bm25Hit("a", 10), bm25Hit("b", 5)},
		[]*store.VectorResult{vecHit("a", 0.9), vecHit("c", 0.8)},
		equalWeights())

	require.NotEmpty(t, results)
	assert.InDelta(t, 1.0, results[0].RRFScore, 0.0001, "top score normalizes to 1")
	for _, r := range results {
		assert.LessOrEqual(t, r.RRFScore, 1.0)
		assert.Greater(t, r.RRFScore, 0.0)
	}
}

func TestRRFFusionPreservesSourceScores(t *testing.T) {
	f := NewRRFFusion()
	results := f.Fuse(
		[]*store.BM25Result{bm25Hit("a", 12.5)},
		[]*store.VectorResult{vecHit("a", 0.87)},
		equalWeights())

	require.Len(t, results, 1)
	assert.Equal(t, 12.5, results[0].BM25Score)
	assert.InDelta(t, 0.87, results[0].VecScore, 0.001)
	assert.Equal(t, []string{"term"}, results[0].MatchedTerms)
}

func TestRRFFusionWeightsShiftRanking(t *testing.T) {
	bm25 := []*store.BM25Result{bm25Hit("lexical", 10)}
	vec := []*store.VectorResult{vecHit("semantic", 0.9)}

	f := NewRRFFusion()

	heavyBM25 := f.Fuse(bm25, vec, Weights{BM25: 0.9, Semantic: 0.1})
	assert.Equal(t, "lexical", heavyBM25[0].ChunkID)

	heavyVec := f.Fuse(bm25, vec, Weights{BM25: 0.1, Semantic: 0.9})
	assert.Equal(t, "semantic", heavyVec[0].ChunkID)
}

func TestRRFFusionDeterministic(t *testing.T) {
	f := NewRRFFusion()

	var first []string
	for i := 0; i < 5; i++ {
		results := f.Fuse(
			[]*store.BM25Result{bm25Hit("bbb", 5), bm25Hit("aaa", 5)},
			[]*store.VectorResult{vecHit("ccc", 0.5)},
			equalWeights())
		ids := make([]string, len(results))
		for j, r := range results {
			ids[j] = r.ChunkID
		}
		if first == nil {
			first = ids
		} else {
			assert.Equal(t, first, ids, "ordering must not vary between runs")
		}
	}
}

func TestMultiRRFFusionDefaults(t *testing.T) {
	f := NewMultiRRFFusion()
	assert.Equal(t, DefaultRRFConstant, f.K)
	assert.InDelta(t, 0.1, f.ConsensusBoost, 0.001)

	f = NewMultiRRFFusionWithParams(0, -1)
	assert.Equal(t, DefaultRRFConstant, f.K)
	assert.InDelta(t, 0.1, f.ConsensusBoost, 0.001)
}

func TestMultiRRFFusionEmpty(t *testing.T) {
	results := NewMultiRRFFusion().FuseMultiQuery(nil)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func subResult(query string, weight float64, ids ...string) SubQueryResult {
	fused := make([]*FusedResult, len(ids))
	for i, id := range ids {
		fused[i] = &FusedResult{ChunkID: id, RRFScore: 1.0 - float64(i)*0.1}
	}
	return SubQueryResult{
		SubQuery: SubQuery{Query: query, Weight: weight},
		Results:  fused,
	}
}

func TestMultiRRFFusionConsensusBoost(t *testing.T) {
	f := NewMultiRRFFusion()

	// "shared" appears in both sub-queries at rank 2; "solo1"/"solo2"
	// lead one list each. Consensus lifts shared to the top.
	results := f.FuseMultiQuery([]SubQueryResult{
		subResult("q1", 1.0, "solo1", "shared"),
		subResult("q2", 1.0, "solo2", "shared"),
	})

	require.Len(t, results, 3)
	assert.Equal(t, "shared", results[0].ChunkID)
	assert.Equal(t, 2, results[0].SubQueryHits)
}

func TestMultiRRFFusionWeightedSubQueries(t *testing.T) {
	f := NewMultiRRFFusion()

	results := f.FuseMultiQuery([]SubQueryResult{
		subResult("important", 2.0, "heavy"),
		subResult("minor", 0.5, "light"),
	})

	require.Len(t, results, 2)
	assert.Equal(t, "heavy", results[0].ChunkID)
}

func TestMultiRRFFusionMergesBestMetadata(t *testing.T) {
	f := NewMultiRRFFusion()

	sub1 := SubQueryResult{
		SubQuery: SubQuery{Query: "a", Weight: 1},
		Results: []*FusedResult{{
			ChunkID: "doc", BM25Score: 3, BM25Rank: 2, VecScore: 0.5, VecRank: 3,
		}},
	}
	sub2 := SubQueryResult{
		SubQuery: SubQuery{Query: "b", Weight: 1},
		Results: []*FusedResult{{
			ChunkID: "doc", BM25Score: 7, BM25Rank: 1, VecScore: 0.4, VecRank: 1,
			MatchedTerms: []string{"better"}, InBothLists: true,
		}},
	}

	results := f.FuseMultiQuery([]SubQueryResult{sub1, sub2})
	require.Len(t, results, 1)

	doc := results[0]
	assert.Equal(t, 7.0, doc.BM25Score, "best BM25 score wins")
	assert.Equal(t, 1, doc.BM25Rank, "best rank wins")
	assert.Equal(t, 1, doc.VecRank)
	assert.InDelta(t, 0.5, doc.VecScore, 0.001, "best vector score wins")
	assert.True(t, doc.InBothLists)
	assert.Equal(t, 2, doc.SubQueryHits)
}

func TestMultiRRFFusionNormalized(t *testing.T) {
	f := NewMultiRRFFusion()
	results := f.FuseMultiQuery([]SubQueryResult{
		subResult("q", 1.0, "a", "b", "c"),
	})

	require.NotEmpty(t, results)
	assert.InDelta(t, 1.0, results[0].RRFScore, 0.0001)
	for _, r := range results {
		assert.LessOrEqual(t, r.RRFScore, 1.0)
	}
}
