package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/lemon07r/pampax/internal/ratelimit"
)

// Default Cohere embedding configuration.
const (
	DefaultCohereBaseURL = "https://api.cohere.com/v1"
	DefaultCohereModel   = "embed-english-v3.0"
	DefaultCohereDims    = 1024
)

// CohereConfig configures the remote Cohere embedding provider.
type CohereConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	RPM        int
}

// DefaultCohereConfig reads COHERE_API_KEY and PAMPAX_COHERE_MODEL.
func DefaultCohereConfig() CohereConfig {
	cfg := CohereConfig{
		BaseURL:    DefaultCohereBaseURL,
		APIKey:     os.Getenv("COHERE_API_KEY"),
		Model:      DefaultCohereModel,
		Dimensions: DefaultCohereDims,
	}
	if v := os.Getenv("PAMPAX_COHERE_MODEL"); v != "" {
		cfg.Model = v
	}
	return cfg
}

// CohereEmbedder calls Cohere's `POST /embed` endpoint, gated by a
// sliding-window rate limiter (C9).
type CohereEmbedder struct {
	client  *http.Client
	cfg     CohereConfig
	limiter *ratelimit.Limiter

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*CohereEmbedder)(nil)

// NewCohereEmbedder creates a Cohere embedder. Returns an error if no API
// key is configured.
func NewCohereEmbedder(cfg CohereConfig) (*CohereEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("cohere embedder: COHERE_API_KEY not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCohereBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultCohereModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultCohereDims
	}
	return &CohereEmbedder{
		client:  &http.Client{Timeout: DefaultWarmTimeout},
		cfg:     cfg,
		limiter: ratelimit.New(cfg.RPM),
	}, nil
}

type cohereEmbedRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type cohereEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Message    string      `json:"message,omitempty"`
}

// Embed generates the embedding for a single text.
func (e *CohereEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts via one HTTP call.
func (e *CohereEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	truncated := make([]string, len(texts))
	for i, t := range texts {
		truncated[i] = truncateChars(t, defaultMaxChunkChars)
	}

	var result [][]float32
	err := e.limiter.Execute(ctx, func(ctx context.Context) error {
		vecs, err := e.doEmbed(ctx, truncated)
		if err != nil {
			return err
		}
		result = vecs
		return nil
	})
	return result, err
}

func (e *CohereEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(cohereEmbedRequest{Model: e.cfg.Model, Texts: texts, InputType: "search_document"})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ratelimit.NewRateLimitedError(resp.StatusCode, fmt.Errorf("cohere embed: rate limited: %s", body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cohere embed: status %d: %s", resp.StatusCode, body)
	}

	var parsed cohereEmbedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("cohere embed: decode response: %w", err)
	}
	if parsed.Message != "" && len(parsed.Embeddings) == 0 {
		return nil, fmt.Errorf("cohere embed: %s", parsed.Message)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("cohere embed: expected %d embeddings, got %d", len(texts), len(parsed.Embeddings))
	}
	return parsed.Embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *CohereEmbedder) Dimensions() int { return e.cfg.Dimensions }

// ModelName returns the configured model identifier.
func (e *CohereEmbedder) ModelName() string { return e.cfg.Model }

// Available reports whether the embedder has a usable API key.
func (e *CohereEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed && e.cfg.APIKey != ""
}

// Close releases the HTTP client's idle connections.
func (e *CohereEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}

// SetBatchIndex is a no-op for the Cohere embedder.
func (e *CohereEmbedder) SetBatchIndex(int) {}

// SetFinalBatch is a no-op for the Cohere embedder.
func (e *CohereEmbedder) SetFinalBatch(bool) {}
