package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	pampaerrors "github.com/lemon07r/pampax/internal/errors"
)

// APIRerankerConfig configures the remote rerank-API client.
type APIRerankerConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// DefaultAPIRerankerConfig reads PAMPAX_RERANK_API_URL, PAMPAX_RERANK_API_KEY
// and PAMPAX_RERANK_MODEL.
func DefaultAPIRerankerConfig() APIRerankerConfig {
	return APIRerankerConfig{
		URL:     os.Getenv("PAMPAX_RERANK_API_URL"),
		APIKey:  os.Getenv("PAMPAX_RERANK_API_KEY"),
		Model:   os.Getenv("PAMPAX_RERANK_MODEL"),
		Timeout: 30 * time.Second,
	}
}

// APIReranker POSTs {model, query, documents[], top_n} to a remote
// rerank API and accepts the three response shapes in the wild:
// {results: [{index, relevance_score}]}, {data: [...]}, or a bare
// array. A circuit breaker fails rerank calls fast once the endpoint
// has produced a run of errors, so a dead API degrades searches to
// the fused order instead of stalling each one on a timeout.
type APIReranker struct {
	client  *http.Client
	cfg     APIRerankerConfig
	breaker *pampaerrors.CircuitBreaker
}

var _ Reranker = (*APIReranker)(nil)

// NewAPIReranker creates an APIReranker. Returns an error if no URL is
// configured, since a URL-less client can never succeed.
func NewAPIReranker(cfg APIRerankerConfig) (*APIReranker, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("api reranker: PAMPAX_RERANK_API_URL not set")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &APIReranker{
		client:  &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		breaker: pampaerrors.NewCircuitBreaker("rerank-api"),
	}, nil
}

type apiRerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type apiRerankResultItem struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type apiRerankResponse struct {
	Results []apiRerankResultItem `json:"results"`
	Data    []apiRerankResultItem `json:"data"`
}

// Rerank scores documents via the remote API, returning results sorted by
// score descending with a stable rerankerRank assignment. A non-2xx status
// or a schema mismatch is a soft failure: callers of Rerank get an error and
// should keep the prior ordering.
func (a *APIReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	var results []RerankResult
	err := a.breaker.Execute(func() error {
		var rerr error
		results, rerr = a.rerank(ctx, query, documents, topK)
		return rerr
	})
	return results, err
}

func (a *APIReranker) rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	topN := topK
	if topN <= 0 {
		topN = len(documents)
	}

	reqBody, err := json.Marshal(apiRerankRequest{Model: a.cfg.Model, Query: query, Documents: documents, TopN: topN})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("api reranker: status %d: %s", resp.StatusCode, body)
	}

	items, err := parseRerankResponse(body)
	if err != nil {
		return nil, err
	}

	results := make([]RerankResult, 0, len(items))
	for _, it := range items {
		if it.Index < 0 || it.Index >= len(documents) {
			continue
		}
		results = append(results, RerankResult{
			Index:    it.Index,
			Score:    it.RelevanceScore,
			Document: documents[it.Index],
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// parseRerankResponse accepts {results: [...]}, {data: [...]}, or a bare
// JSON array of result items.
func parseRerankResponse(body []byte) ([]apiRerankResultItem, error) {
	var wrapped apiRerankResponse
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if len(wrapped.Results) > 0 {
			return wrapped.Results, nil
		}
		if len(wrapped.Data) > 0 {
			return wrapped.Data, nil
		}
	}

	var bare []apiRerankResultItem
	if err := json.Unmarshal(body, &bare); err == nil && len(bare) > 0 {
		return bare, nil
	}

	return nil, fmt.Errorf("api reranker: unrecognized response shape")
}

// Available reports whether a rerank URL is configured.
func (a *APIReranker) Available(_ context.Context) bool {
	return a.cfg.URL != ""
}

// Close releases the HTTP client's idle connections.
func (a *APIReranker) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

// RerankerMode selects which reranker backend a search request uses,
// `scope.reranker ∈ {off, transformers, api}`.
type RerankerMode string

const (
	RerankerOff          RerankerMode = "off"
	RerankerTransformers RerankerMode = "transformers"
	RerankerAPI          RerankerMode = "api"
)

// DefaultRerankerMode reads PAMPAX_RERANKER_DEFAULT, falling back to "off".
func DefaultRerankerMode() RerankerMode {
	switch os.Getenv("PAMPAX_RERANKER_DEFAULT") {
	case "transformers":
		return RerankerTransformers
	case "api":
		return RerankerAPI
	default:
		return RerankerOff
	}
}

// ResolveReranker builds the Reranker for an explicit per-call mode.
// The explicit mode is authoritative; the global override is a
// test-only escape hatch (see forceRerankModeForTests).
func ResolveReranker(ctx context.Context, mode RerankerMode, mlxCfg MLXRerankerConfig, apiCfg APIRerankerConfig) (Reranker, error) {
	if forced := forceRerankModeForTests(); forced != "" {
		mode = forced
	}

	switch mode {
	case RerankerTransformers:
		return NewMLXReranker(ctx, mlxCfg)
	case RerankerAPI:
		return NewAPIReranker(apiCfg)
	default:
		return &NoOpReranker{}, nil
	}
}

// forceRerankModeForTests reads the PAMPAX_MOCK_RERANKER_TESTS
// deterministic test hook, which overrides the per-call mode when set.
func forceRerankModeForTests() RerankerMode {
	switch os.Getenv("PAMPAX_MOCK_RERANKER_TESTS") {
	case "transformers":
		return RerankerTransformers
	case "api":
		return RerankerAPI
	case "off":
		return RerankerOff
	default:
		return ""
	}
}
