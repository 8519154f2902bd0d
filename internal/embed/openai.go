package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/lemon07r/pampax/internal/ratelimit"
)

// Default OpenAI-compatible embedding configuration.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "text-embedding-3-small"
	DefaultOpenAIDims    = 1536
)

// OpenAIConfig configures the remote OpenAI-compatible embedding provider.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
	RPM        int // PAMPAX_RATE_LIMIT, 0 = unlimited
}

// DefaultOpenAIConfig reads OPENAI_API_KEY, OPENAI_BASE_URL,
// PAMPAX_OPENAI_EMBEDDING_MODEL (falling back to OPENAI_MODEL) and
// PAMPAX_RATE_LIMIT.
func DefaultOpenAIConfig() OpenAIConfig {
	cfg := OpenAIConfig{
		BaseURL:    DefaultOpenAIBaseURL,
		APIKey:     os.Getenv("OPENAI_API_KEY"),
		Model:      DefaultOpenAIModel,
		Dimensions: DefaultOpenAIDims,
		Timeout:    DefaultWarmTimeout,
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("PAMPAX_OPENAI_EMBEDDING_MODEL"); v != "" {
		cfg.Model = v
	} else if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("PAMPAX_RATE_LIMIT"); v != "" {
		if rpm, err := strconv.Atoi(v); err == nil {
			cfg.RPM = rpm
		}
	}
	return cfg
}

// OpenAIEmbedder calls a `POST <base>/embeddings` OpenAI-compatible endpoint,
// gated by a sliding-window rate limiter (C9).
type OpenAIEmbedder struct {
	client  *http.Client
	cfg     OpenAIConfig
	limiter *ratelimit.Limiter

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an OpenAI-compatible embedder. Returns an error
// if no API key is configured, since a key-less remote HTTP embedder can
// never succeed.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embedder: OPENAI_API_KEY not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultOpenAIDims
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWarmTimeout
	}
	return &OpenAIEmbedder{
		client:  &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: ratelimit.New(cfg.RPM),
	}, nil
}

type openaiEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed generates the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts via one HTTP call,
// truncating each text to defaultMaxChunkChars first (safety net).
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (e *OpenAIEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(openaiEmbeddingRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}

	url := e.cfg.BaseURL + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
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
		return nil, ratelimit.NewRateLimitedError(resp.StatusCode, fmt.Errorf("openai embeddings: rate limited: %s", body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai embeddings: status %d: %s", resp.StatusCode, body)
	}

	var parsed openaiEmbeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("openai embeddings: decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("openai embeddings: %s", parsed.Error.Message)
	}

	vecs := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			continue
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.cfg.Dimensions }

// ModelName returns the configured model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.cfg.Model }

// Available reports whether the embedder has a usable API key.
func (e *OpenAIEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed && e.cfg.APIKey != ""
}

// Close releases the HTTP client's idle connections.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}

// SetBatchIndex is a no-op for the OpenAI embedder (no thermal progression).
func (e *OpenAIEmbedder) SetBatchIndex(int) {}

// SetFinalBatch is a no-op for the OpenAI embedder.
func (e *OpenAIEmbedder) SetFinalBatch(bool) {}

// defaultMaxChunkChars is the provider-boundary truncation safety net
// requires (the chunker should already stay within limits).
const defaultMaxChunkChars = 32000

func truncateChars(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
