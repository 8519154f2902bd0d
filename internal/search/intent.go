package search

import (
	"regexp"
	"sort"
	"strings"
)

// spanishQuerySynonyms maps a handful of common Spanish question words to
// their English equivalents so a mixed-language query still lands on the
// same intention-cache entry as its English phrasing. This is deliberately a
// small, literal table rather than a translator.
var spanishQuerySynonyms = map[string]string{
	"donde":   "where",
	"dónde":   "where",
	"como":    "how",
	"cómo":    "how",
	"que":     "what",
	"qué":     "what",
	"cual":    "which",
	"cuál":    "which",
	"funcion": "function",
	"función": "function",
}

var queryPunctuation = regexp.MustCompile(`[?!.,;:]+`)

// normalizeQuery lowercases the query, strips trailing punctuation, collapses
// whitespace, and swaps known Spanish question words for their English
// equivalent so equivalent phrasings land on the same intention-cache key.
func normalizeQuery(query string) string {
	lowered := strings.ToLower(strings.TrimSpace(query))
	lowered = queryPunctuation.ReplaceAllString(lowered, "")
	fields := strings.Fields(lowered)
	for i, f := range fields {
		if repl, ok := spanishQuerySynonyms[f]; ok {
			fields[i] = repl
		}
	}
	return strings.Join(fields, " ")
}

// namedEntitySuffixes matches identifier-shaped tokens ending in a suffix
// that usually marks a project-specific type name, so the pattern generalizes
// across "UserSession", "BillingService", "AdminController", etc.
var namedEntitySuffixes = regexp.MustCompile(`(?i)\b[A-Za-z][A-Za-z0-9_]*(Session|Service|Controller)\b`)
var stripeLiteral = regexp.MustCompile(`(?i)\bstripe\b`)

// queryPatternSignature reduces a raw query to its shape for frequency
// analytics: named entities and the literal "stripe" are replaced with a
// placeholder so "how do I use StripeService" and "how do I use
// BillingService" both count toward the same pattern.
func queryPatternSignature(rawQuery string) string {
	trimmed := strings.TrimSpace(rawQuery)
	if trimmed == "" {
		return ""
	}
	pattern := namedEntitySuffixes.ReplaceAllString(trimmed, "{entity}")
	pattern = stripeLiteral.ReplaceAllString(pattern, "{entity}")
	return strings.ToLower(strings.Join(strings.Fields(pattern), " "))
}

// identifierToken splits a camelCase/snake_case/PascalCase identifier into
// its lowercase word parts for literal term matching.
var identifierWordSplit = regexp.MustCompile(`[A-Z]+[a-z0-9]*|[a-z0-9]+`)

func splitIdentifierWords(ident string) []string {
	parts := strings.FieldsFunc(ident, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	var words []string
	for _, p := range parts {
		for _, m := range identifierWordSplit.FindAllString(p, -1) {
			words = append(words, strings.ToLower(m))
		}
	}
	return words
}

// applySymbolBoost adds an additive score bonus to results whose chunk
// declares a symbol (function/method/class name, or a signature parameter)
// whose identifier words literally overlap the query's words, then re-sorts
// by (score, matched symbol words) so exact identifier hits float up without
// overriding a dramatically stronger hybrid match.
func applySymbolBoost(results []*SearchResult, query string) []*SearchResult {
	queryWords := make(map[string]bool)
	for _, w := range splitIdentifierWords(query) {
		queryWords[w] = true
	}
	if len(queryWords) == 0 {
		return results
	}

	type scored struct {
		result *SearchResult
		boost  float64
	}
	annotated := make([]scored, len(results))
	for i, r := range results {
		annotated[i] = scored{result: r, boost: symbolBoostFor(r, queryWords)}
		if annotated[i].boost > 0 {
			r.Score += annotated[i].boost
		}
	}

	sort.SliceStable(annotated, func(i, j int) bool {
		return annotated[i].result.Score > annotated[j].result.Score
	})

	out := make([]*SearchResult, len(annotated))
	for i, a := range annotated {
		out[i] = a.result
	}
	return out
}

// symbolBoostFor computes the additive score bonus for r's declared symbols
// against queryWords. Each distinct overlapping word contributes a small
// fixed bonus so the boost stays secondary to the hybrid retrieval score.
const symbolBoostPerWord = 0.02

func symbolBoostFor(r *SearchResult, queryWords map[string]bool) float64 {
	if r.Chunk == nil {
		return 0
	}
	seen := make(map[string]bool)
	for _, sym := range r.Chunk.Symbols {
		for _, w := range splitIdentifierWords(sym.Name) {
			seen[w] = true
		}
		for _, w := range splitIdentifierWords(sym.Signature) {
			seen[w] = true
		}
		// Parameter names and first-degree call edges count as the
		// chunk's vocabulary too: "retry fetchUser" should boost the
		// caller of fetchUser, not only its definition.
		for _, p := range sym.Parameters {
			for _, w := range splitIdentifierWords(p) {
				seen[w] = true
			}
		}
		for _, callee := range sym.Calls {
			for _, w := range splitIdentifierWords(callee) {
				seen[w] = true
			}
		}
	}
	var overlap int
	for w := range queryWords {
		if len(w) < 3 {
			continue // skip stopword-length tokens like "a", "is", "to"
		}
		if seen[w] {
			overlap++
		}
	}
	return float64(overlap) * symbolBoostPerWord
}
