package sizeanalyzer

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingCounter counts words and tallies how often it was invoked,
// so tests can prove when tokenization was (and wasn't) skipped.
type countingCounter struct {
	calls atomic.Int64
	err   error
}

func (c *countingCounter) Count(text string) (int, error) {
	c.calls.Add(1)
	if c.err != nil {
		return 0, c.err
	}
	return len(strings.Fields(text)), nil
}

func testLimits() Limits {
	return Limits{Min: 5, Optimal: 10, Max: 20}
}

// words builds a snippet of n single-character words (n tokens by the
// counter, ~2n chars so the estimate is n/2).
func words(n int) string {
	return strings.TrimSpace(strings.Repeat("w ", n))
}

func TestAnalyzeClassifications(t *testing.T) {
	counter := &countingCounter{}
	a := New(counter, 0)

	cases := []struct {
		name string
		code string
		want Decision
	}{
		{"too small", words(2), DecisionTooSmall},
		{"optimal", words(10), DecisionOptimal},
		{"needs subdivision", words(25), DecisionNeedsSubdivision},
		{"too large", words(50), DecisionTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := a.Analyze(tc.code, testLimits(), false)
			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Decision)
			assert.Equal(t, MethodTokenized, result.Method)
		})
	}
}

func TestAnalyzeStrictModeAlwaysTokenizes(t *testing.T) {
	counter := &countingCounter{}
	a := New(counter, 0)

	// Even a snippet whose estimate screams too-large must tokenize
	// when the caller disallows the estimate shortcut.
	result, err := a.Analyze(words(500), testLimits(), false)
	require.NoError(t, err)
	assert.Equal(t, MethodTokenized, result.Method)
	assert.Equal(t, int64(1), counter.calls.Load())
}

func TestAnalyzeEstimateShortcutOnlyForOversize(t *testing.T) {
	counter := &countingCounter{}
	a := New(counter, 0)

	// Comfortably past max: the estimate stands, no counter call.
	big, err := a.Analyze(strings.Repeat("x", 1000), testLimits(), true)
	require.NoError(t, err)
	assert.Equal(t, MethodCharEstimate, big.Method)
	assert.Zero(t, counter.calls.Load())

	// A small snippet may never be classified too_small off the
	// estimate; it has to tokenize even in estimate-allowed mode.
	small, err := a.Analyze(words(2), testLimits(), true)
	require.NoError(t, err)
	assert.Equal(t, MethodTokenized, small.Method)
	assert.Equal(t, DecisionTooSmall, small.Decision)
	assert.Equal(t, int64(1), counter.calls.Load())
}

func TestAnalyzeBorderlineOversizeStillTokenizes(t *testing.T) {
	counter := &countingCounter{}
	a := New(counter, 0)

	// Estimate just past max but inside the relaxed bound: the
	// pre-filter must not take the shortcut.
	limits := testLimits() // max 20, relaxed max 24
	code := strings.Repeat("x", 21*CharCounterRatio)
	result, err := a.Analyze(code, limits, true)
	require.NoError(t, err)
	assert.Equal(t, MethodTokenized, result.Method)
}

func TestAnalyzeCachesCounts(t *testing.T) {
	counter := &countingCounter{}
	a := New(counter, 0)

	code := words(10)
	_, err := a.Analyze(code, testLimits(), false)
	require.NoError(t, err)
	_, err = a.Analyze(code, testLimits(), false)
	require.NoError(t, err)

	assert.Equal(t, int64(1), counter.calls.Load(), "second call served from cache")
}

func TestAnalyzeBatch(t *testing.T) {
	counter := &countingCounter{}
	a := New(counter, 0)

	codes := []string{
		words(2),                   // too small, must tokenize
		words(10),                  // optimal, must tokenize
		strings.Repeat("x", 1000),  // estimate shortcut
		words(10),                  // duplicate: cache hit after first
	}

	results, err := a.AnalyzeBatch(codes, testLimits(), true)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, DecisionTooSmall, results[0].Decision)
	assert.Equal(t, MethodTokenized, results[0].Method)
	assert.Equal(t, DecisionOptimal, results[1].Decision)
	assert.Equal(t, MethodCharEstimate, results[2].Method)
	assert.Equal(t, results[1].Size, results[3].Size)

	// Two distinct snippets tokenized (duplicate answered either from
	// cache or one shared count).
	assert.LessOrEqual(t, counter.calls.Load(), int64(3))
}

func TestAnalyzeBatchStrict(t *testing.T) {
	counter := &countingCounter{}
	a := New(counter, 0)

	codes := []string{strings.Repeat("x", 1000), words(3)}
	results, err := a.AnalyzeBatch(codes, testLimits(), false)
	require.NoError(t, err)

	for i, r := range results {
		assert.Equal(t, MethodTokenized, r.Method, "entry %d", i)
	}
}

func TestCounterErrorPropagates(t *testing.T) {
	counter := &countingCounter{err: errors.New("tokenizer crashed")}
	a := New(counter, 0)

	_, err := a.Analyze(words(10), testLimits(), false)
	assert.Error(t, err)

	_, err = a.AnalyzeBatch([]string{words(10)}, testLimits(), false)
	assert.Error(t, err)
}

func TestCharCounterFallback(t *testing.T) {
	a := New(nil, 0) // nil counter degrades to the char estimate

	result, err := a.Analyze(strings.Repeat("x", 40), testLimits(), false)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Size)
	assert.Equal(t, DecisionOptimal, result.Decision)
}

func TestCharCounterRounding(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("a"))
	assert.Equal(t, 1, estimateTokens("abcd"))
	assert.Equal(t, 2, estimateTokens("abcde"))
}
