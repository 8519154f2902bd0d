package search

import (
	"regexp"
	"strings"
)

// SubQuery is one formulation produced by query decomposition.
type SubQuery struct {
	// Query is the sub-query text.
	Query string

	// Weight scales this sub-query's RRF contribution; 1.0 is
	// neutral.
	Weight float64

	// Hint optionally biases result filtering: "code", "docs" or "".
	Hint string
}

// QueryDecomposer turns one generic query into several specific ones.
// Generic phrasings like "Search function" fail because their words
// appear everywhere; the specific formulations they expand into
// (signatures, call sites, file names) do not.
type QueryDecomposer interface {
	// ShouldDecompose reports whether this query benefits. The answer
	// is deliberately conservative: only shapes that are known to
	// retrieve poorly qualify.
	ShouldDecompose(query string) bool

	// Decompose returns the sub-queries; a non-qualifying query comes
	// back as itself in a one-element slice.
	Decompose(query string) []SubQuery
}

// PatternDecomposer is the regex implementation: deterministic,
// sub-millisecond, no external dependencies.
type PatternDecomposer struct {
	nounFunctionPattern *regexp.Regexp
	howDoesWorkPattern  *regexp.Regexp
	camelCasePattern    *regexp.Regexp
	pascalCasePattern   *regexp.Regexp
	snakeCasePattern    *regexp.Regexp
	filePathPattern     *regexp.Regexp
	quotedPattern       *regexp.Regexp
}

// NewPatternDecomposer compiles the decomposition patterns.
func NewPatternDecomposer() *PatternDecomposer {
	return &PatternDecomposer{
		// "Search function", "Index method", "Query func".
		nounFunctionPattern: regexp.MustCompile(`(?i)^(\w+)\s+(function|func|method)$`),

		// "How does RRF fusion work".
		howDoesWorkPattern: regexp.MustCompile(`(?i)^how\s+does\s+(.+?)\s+work$`),

		// Identifier shapes that are specific enough already.
		camelCasePattern:  regexp.MustCompile(`^[a-z]+([A-Z][a-z0-9]*)+$`),
		pascalCasePattern: regexp.MustCompile(`^([A-Z][a-z0-9]*){2,}$`),
		snakeCasePattern:  regexp.MustCompile(`^[a-z]+(_[a-z0-9]+)+$`),

		filePathPattern: regexp.MustCompile(`(?i)[\w\-\.]*[/\\][\w\-\./\\]*\.(go|ts|tsx|js|jsx|py|md|json|yaml|yml)$`),

		quotedPattern: regexp.MustCompile(`^["'].*["']$`),
	}
}

// ShouldDecompose admits only the query shapes decomposition is known
// to help, so queries that already retrieve well are left alone.
func (d *PatternDecomposer) ShouldDecompose(query string) bool {
	query = strings.TrimSpace(query)
	if len(query) == 0 {
		return false
	}

	words := strings.Fields(query)
	if len(words) <= 1 {
		return false
	}

	// Specific inputs skip decomposition: identifiers, paths, quoted
	// phrases.
	if d.isSpecificIdentifier(query) ||
		d.filePathPattern.MatchString(query) ||
		d.quotedPattern.MatchString(query) {
		return false
	}

	// Long prose is already what embeddings are good at; only the
	// "How does X work" shape among them qualifies.
	if len(words) >= 4 && !d.howDoesWorkPattern.MatchString(query) {
		return false
	}

	return d.nounFunctionPattern.MatchString(query) ||
		d.howDoesWorkPattern.MatchString(query)
}

func (d *PatternDecomposer) isSpecificIdentifier(query string) bool {
	if strings.Contains(query, " ") {
		return false
	}
	return d.camelCasePattern.MatchString(query) ||
		d.pascalCasePattern.MatchString(query) ||
		d.snakeCasePattern.MatchString(query)
}

// Decompose expands a qualifying query; anything else passes through
// unchanged.
func (d *PatternDecomposer) Decompose(query string) []SubQuery {
	query = strings.TrimSpace(query)
	if !d.ShouldDecompose(query) {
		return []SubQuery{{Query: query, Weight: 1.0}}
	}

	if matches := d.nounFunctionPattern.FindStringSubmatch(query); len(matches) >= 2 {
		return d.decomposeNounFunction(matches[1])
	}
	if matches := d.howDoesWorkPattern.FindStringSubmatch(query); len(matches) >= 2 {
		return d.decomposeHowDoesWork(matches[1])
	}
	return []SubQuery{{Query: query, Weight: 1.0}}
}

// decomposeNounFunction expands "{Noun} function" into the textual
// shapes a Go definition of that function actually takes, weighted
// most-specific-first: the ") Noun(" receiver pattern, the "(ctx"
// parameter pattern, the "func Noun" signature, down to the bare
// identifier.
func (d *PatternDecomposer) decomposeNounFunction(noun string) []SubQuery {
	capitalNoun := strings.Title(strings.ToLower(noun)) //nolint:staticcheck
	lowerNoun := strings.ToLower(noun)

	subQueries := []SubQuery{
		// func (e *Engine) Search( tokenizes around ") Search(".
		{Query: ") " + capitalNoun + "(", Weight: 1.5, Hint: "code"},

		// Search(ctx context.Context is distinctive to Go methods.
		{Query: capitalNoun + "(ctx", Weight: 1.4, Hint: "code"},

		{Query: "func " + capitalNoun, Weight: 1.2, Hint: "code"},

		// Lowercase receiver form: func (s *Server).
		{Query: "func (" + lowerNoun, Weight: 1.1, Hint: "code"},

		{Query: capitalNoun + " method", Weight: 1.0, Hint: "code"},

		// Call sites.
		{Query: capitalNoun + "(", Weight: 0.9, Hint: "code"},

		// Bare identifier, broadest.
		{Query: capitalNoun, Weight: 0.8, Hint: "code"},
	}

	// A couple of domain nouns get extra targeted formulations.
	switch lowerNoun {
	case "search":
		subQueries = append(subQueries,
			SubQuery{Query: "engine.go Search", Weight: 1.1, Hint: "code"},
			SubQuery{Query: "Engine Search", Weight: 1.0, Hint: "code"},
		)
	case "index":
		subQueries = append(subQueries,
			SubQuery{Query: "Coordinator", Weight: 1.0, Hint: "code"},
			SubQuery{Query: "index/", Weight: 0.9, Hint: "code"},
		)
	}

	return subQueries
}

// decomposeHowDoesWork expands "How does {topic} work" into the
// topic's significant words, their likely file names, and a signature
// guess for the final word.
func (d *PatternDecomposer) decomposeHowDoesWork(topic string) []SubQuery {
	words := strings.Fields(topic)
	subQueries := make([]SubQuery, 0, len(words)*2)

	for _, word := range words {
		word = strings.TrimSpace(word)
		if len(word) < 2 || isStopWord(strings.ToLower(word)) {
			continue
		}

		subQueries = append(subQueries, SubQuery{Query: word, Weight: 1.0})

		if len(word) >= 3 {
			subQueries = append(subQueries, SubQuery{
				Query:  strings.ToLower(word) + ".go",
				Weight: 1.1,
				Hint:   "code",
			})
		}
	}

	if len(words) > 0 {
		mainTerm := strings.Title(strings.ToLower(words[len(words)-1])) //nolint:staticcheck
		subQueries = append(subQueries, SubQuery{
			Query:  "func " + mainTerm,
			Weight: 1.0,
			Hint:   "code",
		})
	}

	if len(subQueries) == 0 {
		return []SubQuery{{Query: topic, Weight: 1.0}}
	}
	return subQueries
}

var decomposerStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true,
	"and": true, "but": true, "or": true, "nor": true, "for": true,
	"yet": true, "so": true, "to": true, "of": true, "in": true,
	"on": true, "at": true, "by": true, "with": true, "from": true,
	"it": true, "its": true, "this": true, "that": true, "these": true,
	"those": true, "which": true, "what": true, "who": true, "whom": true,
}

func isStopWord(word string) bool {
	return decomposerStopWords[word]
}

var _ QueryDecomposer = (*PatternDecomposer)(nil)
