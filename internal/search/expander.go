package search

import (
	"strings"
	"unicode"
)

// QueryExpander bridges the vocabulary gap between how people phrase
// queries and how code names things: "Search function" becomes
// "Search function func method def" before it reaches BM25. Embedding
// search is left unexpanded, since the model handles synonymy itself.
type QueryExpander struct {
	synonyms      map[string][]string
	maxExpansions int  // synonyms added per term
	includeCasing bool // add Go casing variants
}

// QueryExpanderOption configures the expander.
type QueryExpanderOption func(*QueryExpander)

// WithMaxExpansions caps synonyms per term.
func WithMaxExpansions(n int) QueryExpanderOption {
	return func(e *QueryExpander) { e.maxExpansions = n }
}

// WithCasingVariants toggles casing-variant expansion.
func WithCasingVariants(enabled bool) QueryExpanderOption {
	return func(e *QueryExpander) { e.includeCasing = enabled }
}

// WithCustomSynonyms merges extra synonym mappings.
func WithCustomSynonyms(synonyms map[string][]string) QueryExpanderOption {
	return func(e *QueryExpander) {
		for k, v := range synonyms {
			e.synonyms[k] = append(e.synonyms[k], v...)
		}
	}
}

// NewQueryExpander builds an expander over the code synonym table.
func NewQueryExpander(opts ...QueryExpanderOption) *QueryExpander {
	e := &QueryExpander{
		synonyms:      make(map[string][]string),
		maxExpansions: 3,
		includeCasing: true,
	}
	for k, v := range CodeSynonyms {
		e.synonyms[k] = v
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand returns the query with synonyms and casing variants
// appended: originals first (exact matches still score highest), then
// up to maxExpansions synonyms per term, then casing variants, all
// deduplicated case-insensitively.
func (e *QueryExpander) Expand(query string) string {
	terms := tokenize(query)
	if len(terms) == 0 {
		return query
	}

	seen := make(map[string]bool)
	var expanded []string
	add := func(term string) bool {
		lower := strings.ToLower(term)
		if seen[lower] {
			return false
		}
		seen[lower] = true
		expanded = append(expanded, term)
		return true
	}

	for _, term := range terms {
		add(term)
	}

	for _, term := range terms {
		added := 0
		for _, syn := range e.synonyms[strings.ToLower(term)] {
			if added >= e.maxExpansions {
				break
			}
			if add(syn) {
				added++
			}
		}
	}

	if e.includeCasing {
		for _, term := range terms {
			for _, v := range casingVariants(term) {
				add(v)
			}
		}
	}

	return strings.Join(expanded, " ")
}

// ExpandToTerms returns the expansion as tokens, for multi-query
// search.
func (e *QueryExpander) ExpandToTerms(query string) []string {
	return tokenize(e.Expand(query))
}

// tokenize splits on whitespace/punctuation, then breaks camelCase and
// snake_case identifiers apart.
func tokenize(query string) []string {
	var tokens []string
	var current strings.Builder

	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
		} else if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	var result []string
	for _, token := range tokens {
		result = append(result, splitCamelSnake(token)...)
	}
	return result
}

// splitCamelSnake cuts one identifier into its word parts:
// "searchFunction" -> [search Function], "search_function" ->
// [search function].
func splitCamelSnake(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, p := range strings.Split(token, "_") {
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}

	var parts []string
	var current strings.Builder
	for i, r := range token {
		if i > 0 && unicode.IsUpper(r) && current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// casingVariants adds the Go-conventional spellings of a term:
// "search" gains "Search", short terms also gain their all-caps form
// (likely abbreviations like "api" or "http").
func casingVariants(term string) []string {
	if len(term) == 0 {
		return nil
	}

	var variants []string
	lower := strings.ToLower(term)
	upper := strings.ToUpper(term)
	title := strings.Title(lower) //nolint:staticcheck // single words only

	if term != lower {
		variants = append(variants, lower)
	}
	if term != upper && len(term) <= 4 {
		variants = append(variants, upper)
	}
	if term != title {
		variants = append(variants, title)
	}
	return variants
}
