// Package search is the hybrid retrieval engine: BM25 and vector
// candidates fused with Reciprocal Rank Fusion, then boosted and
// optionally reranked.
package search

import (
	"sort"

	"github.com/lemon07r/pampax/internal/store"
)

// DefaultRRFConstant is the k in 1/(k+rank). 60 is the value the
// major search engines converged on.
const DefaultRRFConstant = 60

// FusedResult is one document after fusion, carrying both source
// scores and ranks for explain output.
type FusedResult struct {
	ChunkID      string
	RRFScore     float64  // fused score, normalized to [0,1]
	BM25Score    float64  // original lexical score
	BM25Rank     int      // 1-indexed; 0 when absent from the BM25 list
	VecScore     float64  // original cosine similarity
	VecRank      int      // 1-indexed; 0 when absent from the vector list
	InBothLists  bool     // present in both source lists
	MatchedTerms []string // BM25 matched terms, for highlighting
}

// RRFFusion merges two ranked lists by summing weight/(k+rank) per
// document across lists.
type RRFFusion struct {
	K int
}

// NewRRFFusion uses the standard k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK overrides k; non-positive values fall back to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse merges the BM25 and vector lists. A document missing from one
// list still receives that list's contribution, computed at rank
// max(len(bm25), len(vec)) + 1, so single-list documents aren't
// disproportionately punished. The output ordering is deterministic:
// fused score, then both-lists membership, then BM25 score, then
// chunk ID.
func (f *RRFFusion) Fuse(
	bm25 []*store.BM25Result,
	vec []*store.VectorResult,
	weights Weights,
) []*FusedResult {
	if len(bm25) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[string]*FusedResult, len(bm25)+len(vec))

	for rank, r := range bm25 {
		result := f.getOrCreate(scores, r.DocID)
		result.BM25Score = r.Score
		result.BM25Rank = rank + 1
		result.MatchedTerms = r.MatchedTerms
		result.RRFScore += weights.BM25 / float64(f.K+rank+1)
	}

	for rank, r := range vec {
		result := f.getOrCreate(scores, r.ID)
		result.VecScore = float64(r.Score)
		result.VecRank = rank + 1
		result.RRFScore += weights.Semantic / float64(f.K+rank+1)

		if result.BM25Rank > 0 {
			result.InBothLists = true
		}
	}

	missingRank := f.missingRank(len(bm25), len(vec))
	for _, r := range scores {
		if r.BM25Rank == 0 && r.VecRank > 0 {
			r.RRFScore += weights.BM25 / float64(f.K+missingRank)
		}
		if r.VecRank == 0 && r.BM25Rank > 0 {
			r.RRFScore += weights.Semantic / float64(f.K+missingRank)
		}
	}

	results := f.toSortedSlice(scores)
	f.normalize(results)
	return results
}

func (f *RRFFusion) getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{ChunkID: id}
	m[id] = r
	return r
}

// missingRank is the hypothetical rank for a document absent from one
// list: one past the longer list.
func (f *RRFFusion) missingRank(bm25Len, vecLen int) int {
	if bm25Len > vecLen {
		return bm25Len + 1
	}
	return vecLen + 1
}

func (f *RRFFusion) toSortedSlice(m map[string]*FusedResult) []*FusedResult {
	results := make([]*FusedResult, 0, len(m))
	for _, r := range m {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})
	return results
}

// compare gives a total, deterministic order: fused score first, then
// both-lists membership, then the BM25 score as an exact-match signal,
// then chunk ID so equal candidates never flip between runs.
func (f *RRFFusion) compare(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	if a.BM25Score != b.BM25Score {
		return a.BM25Score > b.BM25Score
	}
	return a.ChunkID < b.ChunkID
}

// normalize rescales so the top result scores 1.0.
func (f *RRFFusion) normalize(results []*FusedResult) {
	if len(results) == 0 {
		return
	}
	maxScore := results[0].RRFScore
	if maxScore == 0 {
		return
	}
	for _, r := range results {
		r.RRFScore /= maxScore
	}
}
