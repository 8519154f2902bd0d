package search

import (
	"context"
)

// RerankResult is one document after reranking.
type RerankResult struct {
	// Index is the document's position in the input slice.
	Index int
	// Score is relevance in [0, 1].
	Score float64
	// Document is the original content.
	Document string
}

// Reranker rescores candidates with a cross-encoder, which reads the
// query and document together and so ranks more accurately than the
// bi-encoder embeddings, at real latency cost. Implementations: the
// local MLX cross-encoder, the remote rerank API, and the no-op.
type Reranker interface {
	// Rerank scores documents against the query and returns them
	// sorted by score descending. topK of 0 returns everything. Keep
	// the candidate list under a couple hundred documents.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)

	// Available reports whether the backend can serve right now.
	Available(ctx context.Context) bool

	// Close releases backend resources.
	Close() error
}

// NoOpReranker preserves the incoming order, for when reranking is
// off or its backend is down.
type NoOpReranker struct{}

// Rerank hands back the documents in order, with strictly decreasing
// scores so downstream stable sorts change nothing.
func (n *NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{
			Index:    i,
			Score:    1.0 - float64(i)*0.01,
			Document: doc,
		}
	}

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Available is always true; there is nothing to fail.
func (n *NoOpReranker) Available(_ context.Context) bool {
	return true
}

// Close is a no-op.
func (n *NoOpReranker) Close() error {
	return nil
}

var _ Reranker = (*NoOpReranker)(nil)
