package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// SearchFunc runs one hybrid search. The indirection exists so
// MultiQuerySearcher can be tested against a stub instead of a full
// Engine.
type SearchFunc func(ctx context.Context, query string, opts SearchOptions) ([]*FusedResult, error)

// MultiQuerySearcher drives multi-query retrieval: decompose a
// generic query into specific formulations, run them in parallel, and
// fuse with consensus boosting so documents several formulations agree
// on rise to the top.
type MultiQuerySearcher struct {
	decomposer QueryDecomposer
	search     SearchFunc
	fusion     *MultiRRFFusion

	maxSubQueries int // cap on formulations per query
	parallelism   int // concurrent sub-searches
}

// MultiQueryOption configures the searcher.
type MultiQueryOption func(*MultiQuerySearcher)

// WithMaxSubQueries caps the formulations run per query.
func WithMaxSubQueries(n int) MultiQueryOption {
	return func(m *MultiQuerySearcher) {
		if n > 0 {
			m.maxSubQueries = n
		}
	}
}

// WithParallelism caps concurrent sub-searches.
func WithParallelism(n int) MultiQueryOption {
	return func(m *MultiQuerySearcher) {
		if n > 0 {
			m.parallelism = n
		}
	}
}

// NewMultiQuerySearcher wires a decomposer to a search function. Eight
// sub-queries leaves room for the domain-specific formulations on top
// of the generic ones.
func NewMultiQuerySearcher(decomposer QueryDecomposer, search SearchFunc, opts ...MultiQueryOption) *MultiQuerySearcher {
	m := &MultiQuerySearcher{
		decomposer:    decomposer,
		search:        search,
		fusion:        NewMultiRRFFusion(),
		maxSubQueries: 8,
		parallelism:   4,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Search decomposes and fans out when the query qualifies, otherwise
// passes through to a single search.
func (m *MultiQuerySearcher) Search(ctx context.Context, query string, opts SearchOptions) ([]*MultiFusedResult, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if !m.decomposer.ShouldDecompose(query) {
		results, err := m.search(ctx, query, opts)
		if err != nil {
			return nil, err
		}
		return m.convertToMultiFused(results), nil
	}

	subQueries := m.decomposer.Decompose(query)
	if len(subQueries) > m.maxSubQueries {
		subQueries = subQueries[:m.maxSubQueries]
	}

	slog.Debug("multi_query_decomposition",
		slog.String("original", query),
		slog.Int("sub_queries", len(subQueries)))

	subResults, err := m.parallelSubSearch(ctx, subQueries, opts)
	if err != nil {
		return nil, err
	}

	fused := m.fusion.FuseMultiQuery(subResults)

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(fused) > limit {
		fused = fused[:limit]
	}

	slog.Debug("multi_query_search_complete",
		slog.String("query", query),
		slog.Int("sub_queries", len(subQueries)),
		slog.Int("results", len(fused)),
		slog.Duration("duration", time.Since(start)))

	return fused, nil
}

// parallelSubSearch fans the sub-queries out under a semaphore. One
// failing sub-query degrades to empty results for that formulation;
// only context cancellation fails the whole fan-out.
func (m *MultiQuerySearcher) parallelSubSearch(ctx context.Context, subQueries []SubQuery, opts SearchOptions) ([]SubQueryResult, error) {
	results := make([]SubQueryResult, len(subQueries))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, m.parallelism)

	var mu sync.Mutex
	var firstErr error

	for i, sq := range subQueries {
		i, sq := i, sq

		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}

			// A sub-query hint becomes the filter unless the caller
			// already set one.
			subOpts := opts
			if sq.Hint != "" && (subOpts.Filter == "" || subOpts.Filter == "all") {
				subOpts.Filter = sq.Hint
			}

			// Sub-queries need a generous internal limit: consensus
			// boosting and the post-fusion score adjustments both fall
			// apart when each formulation only returns a handful of
			// candidates.
			if subOpts.Limit < 50 {
				subOpts.Limit = 50
			}

			searchResults, err := m.search(gctx, sq.Query, subOpts)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				results[i] = SubQueryResult{SubQuery: sq, Results: []*FusedResult{}}
				return nil
			}
			results[i] = SubQueryResult{SubQuery: sq, Results: searchResults}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if firstErr != nil {
		slog.Warn("some sub-queries failed, continuing with partial results",
			slog.String("error", firstErr.Error()))
	}
	return results, nil
}

// convertToMultiFused lifts single-query results into the multi-query
// result type with a hit count of one.
func (m *MultiQuerySearcher) convertToMultiFused(results []*FusedResult) []*MultiFusedResult {
	if len(results) == 0 {
		return []*MultiFusedResult{}
	}

	multi := make([]*MultiFusedResult, len(results))
	for i, r := range results {
		multi[i] = &MultiFusedResult{
			FusedResult:  *r,
			SubQueryHits: 1,
		}
	}
	return multi
}
