package search

import (
	"sort"
)

// SubQueryResult pairs a sub-query with its already-fused hybrid
// results.
type SubQueryResult struct {
	SubQuery SubQuery
	Results  []*FusedResult
}

// MultiFusedResult is a FusedResult plus the cross-sub-query
// consensus count.
type MultiFusedResult struct {
	FusedResult

	// SubQueryHits counts how many sub-queries surfaced this
	// document; agreement across formulations is a strong signal.
	SubQueryHits int
}

// MultiRRFFusion merges the result lists of several sub-queries:
// weighted RRF contributions summed per document, then multiplied by
// a consensus boost of (1 + boost*(hits-1)).
type MultiRRFFusion struct {
	K              int
	ConsensusBoost float64 // extra weight per additional sub-query hit
}

// NewMultiRRFFusion uses k=60 and a 10% consensus boost per extra hit.
func NewMultiRRFFusion() *MultiRRFFusion {
	return &MultiRRFFusion{
		K:              DefaultRRFConstant,
		ConsensusBoost: 0.1,
	}
}

// NewMultiRRFFusionWithParams overrides the tuning; invalid values
// fall back to the defaults.
func NewMultiRRFFusionWithParams(k int, consensusBoost float64) *MultiRRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	if consensusBoost < 0 {
		consensusBoost = 0.1
	}
	return &MultiRRFFusion{K: k, ConsensusBoost: consensusBoost}
}

// FuseMultiQuery aggregates sub-query results: per-document RRF sums
// weighted by sub-query weight, source metadata merged best-of, the
// consensus boost applied, and the final list normalized to [0,1].
func (f *MultiRRFFusion) FuseMultiQuery(subResults []SubQueryResult) []*MultiFusedResult {
	if len(subResults) == 0 {
		return []*MultiFusedResult{}
	}

	scores := make(map[string]*MultiFusedResult)

	for _, sr := range subResults {
		weight := sr.SubQuery.Weight
		if weight <= 0 {
			weight = 1.0
		}

		for rank, result := range sr.Results {
			mr := f.getOrCreate(scores, result.ChunkID)

			mr.RRFScore += weight / float64(f.K+rank+1)
			mr.SubQueryHits++

			// Keep each source's best evidence across sub-queries.
			if result.BM25Score > mr.BM25Score {
				mr.BM25Score = result.BM25Score
				mr.MatchedTerms = result.MatchedTerms
			}
			if result.VecScore > mr.VecScore {
				mr.VecScore = result.VecScore
			}
			if result.InBothLists {
				mr.InBothLists = true
			}
			if mr.BM25Rank == 0 || (result.BM25Rank > 0 && result.BM25Rank < mr.BM25Rank) {
				mr.BM25Rank = result.BM25Rank
			}
			if mr.VecRank == 0 || (result.VecRank > 0 && result.VecRank < mr.VecRank) {
				mr.VecRank = result.VecRank
			}
		}
	}

	// Two hits earn 1.1x, three hits 1.2x, and so on.
	for _, mr := range scores {
		if mr.SubQueryHits > 1 {
			mr.RRFScore *= 1 + f.ConsensusBoost*float64(mr.SubQueryHits-1)
		}
	}

	results := f.toSortedSlice(scores)
	f.normalize(results)
	return results
}

func (f *MultiRRFFusion) getOrCreate(m map[string]*MultiFusedResult, id string) *MultiFusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &MultiFusedResult{FusedResult: FusedResult{ChunkID: id}}
	m[id] = r
	return r
}

func (f *MultiRRFFusion) toSortedSlice(m map[string]*MultiFusedResult) []*MultiFusedResult {
	results := make([]*MultiFusedResult, 0, len(m))
	for _, r := range m {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})
	return results
}

// compare gives a total order: fused score, consensus hits,
// both-lists membership, BM25 score, chunk ID.
func (f *MultiRRFFusion) compare(a, b *MultiFusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.SubQueryHits != b.SubQueryHits {
		return a.SubQueryHits > b.SubQueryHits
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	if a.BM25Score != b.BM25Score {
		return a.BM25Score > b.BM25Score
	}
	return a.ChunkID < b.ChunkID
}

func (f *MultiRRFFusion) normalize(results []*MultiFusedResult) {
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
