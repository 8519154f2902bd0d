package search

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSearch is a SearchFunc stub that records the queries it
// was asked and answers from a canned table.
type recordingSearch struct {
	mu      sync.Mutex
	queries []string
	answers map[string][]*FusedResult
	err     error
}

func (r *recordingSearch) fn(ctx context.Context, query string, opts SearchOptions) ([]*FusedResult, error) {
	r.mu.Lock()
	r.queries = append(r.queries, query)
	r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	if results, ok := r.answers[query]; ok {
		return results, nil
	}
	return []*FusedResult{}, nil
}

func (r *recordingSearch) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}

func fused(ids ...string) []*FusedResult {
	out := make([]*FusedResult, len(ids))
	for i, id := range ids {
		out[i] = &FusedResult{ChunkID: id, RRFScore: 1.0 - float64(i)*0.1}
	}
	return out
}

func TestMultiQueryPassThrough(t *testing.T) {
	stub := &recordingSearch{answers: map[string][]*FusedResult{
		"getUserById": fused("a", "b"),
	}}
	m := NewMultiQuerySearcher(NewPatternDecomposer(), stub.fn)

	results, err := m.Search(context.Background(), "getUserById", SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// No decomposition: exactly one underlying search, hit count one.
	assert.Equal(t, []string{"getUserById"}, stub.seen())
	assert.Equal(t, 1, results[0].SubQueryHits)
}

func TestMultiQueryFansOut(t *testing.T) {
	stub := &recordingSearch{answers: map[string][]*FusedResult{
		") Search(":   fused("engine"),
		"func Search": fused("engine", "mock"),
		"Search":      fused("mock"),
	}}
	m := NewMultiQuerySearcher(NewPatternDecomposer(), stub.fn)

	results, err := m.Search(context.Background(), "Search function", SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Greater(t, len(stub.seen()), 1, "decomposed query fans out")

	// "engine" appears under two formulations and must beat "mock".
	assert.Equal(t, "engine", results[0].ChunkID)
	assert.GreaterOrEqual(t, results[0].SubQueryHits, 2)
}

func TestMultiQueryEmptyQuery(t *testing.T) {
	stub := &recordingSearch{}
	m := NewMultiQuerySearcher(NewPatternDecomposer(), stub.fn)

	results, err := m.Search(context.Background(), "   ", SearchOptions{})
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Empty(t, stub.seen())
}

func TestMultiQueryRespectsLimit(t *testing.T) {
	stub := &recordingSearch{answers: map[string][]*FusedResult{
		") Search(": fused("a", "b", "c", "d", "e"),
	}}
	m := NewMultiQuerySearcher(NewPatternDecomposer(), stub.fn)

	results, err := m.Search(context.Background(), "Search function", SearchOptions{Limit: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 2)
}

func TestMultiQueryMaxSubQueries(t *testing.T) {
	stub := &recordingSearch{}
	m := NewMultiQuerySearcher(NewPatternDecomposer(), stub.fn, WithMaxSubQueries(2))

	_, err := m.Search(context.Background(), "Search function", SearchOptions{Limit: 10})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(stub.seen()), 2)
}

func TestMultiQuerySubFailureIsPartial(t *testing.T) {
	// All sub-searches error; the fan-out still succeeds with empty
	// results rather than failing the query.
	stub := &recordingSearch{err: errors.New("index offline")}
	m := NewMultiQuerySearcher(NewPatternDecomposer(), stub.fn)

	results, err := m.Search(context.Background(), "Search function", SearchOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMultiQuerySubLimitRaised(t *testing.T) {
	var gotLimit int
	var mu sync.Mutex
	fn := func(ctx context.Context, query string, opts SearchOptions) ([]*FusedResult, error) {
		mu.Lock()
		gotLimit = opts.Limit
		mu.Unlock()
		return []*FusedResult{}, nil
	}

	m := NewMultiQuerySearcher(NewPatternDecomposer(), fn, WithMaxSubQueries(1))
	_, err := m.Search(context.Background(), "Search function", SearchOptions{Limit: 5})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, gotLimit, 50, "sub-queries run with a widened internal limit")
}

func TestMultiQueryHintSetsFilter(t *testing.T) {
	var mu sync.Mutex
	filters := make(map[string]string)
	fn := func(ctx context.Context, query string, opts SearchOptions) ([]*FusedResult, error) {
		mu.Lock()
		filters[query] = opts.Filter
		mu.Unlock()
		return []*FusedResult{}, nil
	}

	m := NewMultiQuerySearcher(NewPatternDecomposer(), fn)
	_, err := m.Search(context.Background(), "Search function", SearchOptions{})
	require.NoError(t, err)

	for q, filter := range filters {
		assert.Equal(t, "code", filter, "sub-query %q carries its hint", q)
	}
}

func TestConvertToMultiFused(t *testing.T) {
	m := NewMultiQuerySearcher(NewPatternDecomposer(), nil)

	out := m.convertToMultiFused(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)

	out = m.convertToMultiFused(fused("x"))
	require.Len(t, out, 1)
	assert.Equal(t, "x", out[0].ChunkID)
	assert.Equal(t, 1, out[0].SubQueryHits)
}
