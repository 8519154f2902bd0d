// Package sizeanalyzer classifies chunk candidates against token
// limits. Counting tokens is the expensive step, so the analyzer runs
// a constant-time character pre-filter first and only falls through
// to the real counter when the decision actually depends on it.
//
// One rule is load-bearing: a chunk may be skipped as too small ONLY
// on a real token count. The estimate short-circuit exists solely for
// the too-large case, where the chunk is going to be subdivided and
// an exact count buys nothing.
package sizeanalyzer

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// Decision classifies a candidate against its limits.
type Decision string

const (
	DecisionTooSmall         Decision = "too_small"
	DecisionOptimal          Decision = "optimal"
	DecisionNeedsSubdivision Decision = "needs_subdivision"
	DecisionTooLarge         Decision = "too_large"
)

// Method records how the size was obtained.
type Method string

const (
	MethodCharEstimate Method = "char_estimate"
	MethodTokenized    Method = "tokenized"
)

// Limits are the token bounds a candidate is judged against.
type Limits struct {
	Min     int
	Optimal int
	Max     int
}

// Result is one classification.
type Result struct {
	Size     int
	Decision Decision
	Method   Method
}

// TokenCounter is the pluggable counting backend. Implementations may
// call into a real model tokenizer; CharCounter is the degraded mode
// used when none is available.
type TokenCounter interface {
	Count(text string) (int, error)
}

// CharCounterRatio is the chars-per-token approximation used by both
// the pre-filter and the fallback counter.
const CharCounterRatio = 4

// CharCounter estimates tokens as ceil(chars/4). It exists as the
// tokenizer_unavailable downgrade path; when it is the active
// counter, "tokenized" results are themselves estimates and the
// caller has already been warned once.
type CharCounter struct{}

func (CharCounter) Count(text string) (int, error) {
	return estimateTokens(text), nil
}

func estimateTokens(text string) int {
	return (len(text) + CharCounterRatio - 1) / CharCounterRatio
}

// DefaultCacheSize bounds the token-count LRU.
const DefaultCacheSize = 1024

// relaxation widens the pre-filter bounds so the estimate never
// overrules a borderline case: only candidates comfortably outside
// the limits get classified without tokenizing.
const relaxation = 0.2

// Analyzer is the hybrid classifier: pre-filter, then counter, with
// counts cached per code string.
type Analyzer struct {
	counter TokenCounter
	mu      sync.Mutex
	cache   *lru.Cache[string, int]
}

// New builds an analyzer over counter; cacheSize <= 0 uses the
// default.
func New(counter TokenCounter, cacheSize int) *Analyzer {
	if counter == nil {
		counter = CharCounter{}
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, int](cacheSize)
	return &Analyzer{counter: counter, cache: cache}
}

// Analyze classifies code against limits.
//
// With allowEstimateForSkip true AND a pre-filter verdict of
// too-large, the character estimate is returned as-is: the caller is
// scouting subdivision candidates and an oversized chunk gets split
// either way. Every other path tokenizes. In particular a too_small
// verdict can only ever come off the tokenized path, so no chunk is
// dropped from the index on a guess.
func (a *Analyzer) Analyze(code string, limits Limits, allowEstimateForSkip bool) (Result, error) {
	estimate := estimateTokens(code)
	if allowEstimateForSkip && overRelaxedMax(estimate, limits) {
		return Result{Size: estimate, Decision: classify(estimate, limits), Method: MethodCharEstimate}, nil
	}

	size, err := a.countTokens(code)
	if err != nil {
		return Result{}, err
	}
	return Result{Size: size, Decision: classify(size, limits), Method: MethodTokenized}, nil
}

// AnalyzeBatch classifies many snippets. Cached and estimate-resolved
// entries are answered inline; the remainder tokenizes on a bounded
// worker pool.
func (a *Analyzer) AnalyzeBatch(codes []string, limits Limits, allowEstimateForSkip bool) ([]Result, error) {
	results := make([]Result, len(codes))
	var missIdx []int

	for i, code := range codes {
		estimate := estimateTokens(code)
		if allowEstimateForSkip && overRelaxedMax(estimate, limits) {
			results[i] = Result{Size: estimate, Decision: classify(estimate, limits), Method: MethodCharEstimate}
			continue
		}
		if size, ok := a.cachedCount(code); ok {
			results[i] = Result{Size: size, Decision: classify(size, limits), Method: MethodTokenized}
			continue
		}
		missIdx = append(missIdx, i)
	}

	if len(missIdx) == 0 {
		return results, nil
	}

	var g errgroup.Group
	g.SetLimit(4)
	for _, i := range missIdx {
		i := i
		g.Go(func() error {
			size, err := a.countTokens(codes[i])
			if err != nil {
				return err
			}
			results[i] = Result{Size: size, Decision: classify(size, limits), Method: MethodTokenized}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// countTokens consults the cache before the counter.
func (a *Analyzer) countTokens(code string) (int, error) {
	if size, ok := a.cachedCount(code); ok {
		return size, nil
	}

	size, err := a.counter.Count(code)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	a.cache.Add(code, size)
	a.mu.Unlock()
	return size, nil
}

func (a *Analyzer) cachedCount(code string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cache.Get(code)
}

// overRelaxedMax reports whether the estimate clears even the widened
// maximum, meaning the chunk will be subdivided no matter what an
// exact count says.
func overRelaxedMax(estimate int, l Limits) bool {
	return l.Max > 0 && float64(estimate) > float64(l.Max)*(1+relaxation)
}

// classify places a size against limits. Anything past double the
// maximum is hopeless for subdivision heuristics and reads as
// too_large outright.
func classify(size int, l Limits) Decision {
	switch {
	case size < l.Min:
		return DecisionTooSmall
	case l.Max > 0 && size > l.Max*2:
		return DecisionTooLarge
	case l.Max > 0 && size > l.Max:
		return DecisionNeedsSubdivision
	default:
		return DecisionOptimal
	}
}
