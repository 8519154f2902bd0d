package search

import "strings"

// applyMetadataBoost implements phase 3's soft metadata boost:
// +0.2 when the query substring-matches the chunk's recorded intent, +0.1
// per tag substring-matched in the query. The final score is clamped to
// <= 1.0; when the boost would push it higher, the pre-clamp value is kept
// in ScoreRaw so callers can see the raw magnitude.
func applyMetadataBoost(results []*SearchResult, query string) []*SearchResult {
	if len(results) == 0 {
		return results
	}
	lowerQuery := strings.ToLower(query)

	for _, r := range results {
		if r.Chunk == nil || len(r.Chunk.Metadata) == 0 {
			continue
		}
		var boost float64
		if intent := r.Chunk.Metadata["intent"]; intent != "" && strings.Contains(lowerQuery, strings.ToLower(intent)) {
			boost += 0.2
		}
		if tagsRaw := r.Chunk.Metadata["tags"]; tagsRaw != "" {
			for _, tag := range strings.Split(tagsRaw, ",") {
				tag = strings.TrimSpace(tag)
				if tag != "" && strings.Contains(lowerQuery, tag) {
					boost += 0.1
				}
			}
		}
		if boost == 0 {
			continue
		}

		r.MetadataBoost = boost
		raw := r.Score + boost
		if raw > 1.0 {
			r.ScoreRaw = raw
			r.Score = 1.0
		} else {
			r.Score = raw
		}
	}

	return results
}
