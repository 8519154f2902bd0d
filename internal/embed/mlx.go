package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// MLX model output widths by size tier.
const (
	MLXSmallDimensions  = 1024 // Qwen3-Embedding-0.6B
	MLXMediumDimensions = 2560 // Qwen3-Embedding-4B
	MLXLargeDimensions  = 4096 // Qwen3-Embedding-8B
)

const (
	// DefaultMLXEndpoint avoids the crowded :8000.
	DefaultMLXEndpoint = "http://localhost:9659"

	// DefaultMLXModel is the 0.6B tier: near-large quality at a
	// fraction of the memory.
	DefaultMLXModel = "small"

	// DefaultMLXBaseTimeout is the starting point for progressive
	// scaling.
	DefaultMLXBaseTimeout = 60 * time.Second

	DefaultMLXMaxRetries = 2

	// DefaultMLXBatchSize feeds the progression formula.
	DefaultMLXBatchSize = 32
)

// MLXConfig configures the MLX daemon backend.
type MLXConfig struct {
	// Endpoint is the daemon URL.
	Endpoint string

	// Model picks the size tier: small, medium or large.
	Model string

	// SkipHealthCheck disables the startup probe (tests).
	SkipHealthCheck bool
}

// DefaultMLXConfig returns the standard settings.
func DefaultMLXConfig() MLXConfig {
	return MLXConfig{
		Endpoint: DefaultMLXEndpoint,
		Model:    DefaultMLXModel,
	}
}

// MLXEmbedder talks to a local MLX embedding daemon, the fast path on
// Apple Silicon.
type MLXEmbedder struct {
	client       *http.Client
	config       MLXConfig
	dims         int
	model        string
	mu           sync.RWMutex
	closed       bool
	batchIndex   int
	isFinalBatch bool
}

var _ Embedder = (*MLXEmbedder)(nil)

// tierDimensions maps the size tier to its static output width.
func tierDimensions(model string) int {
	switch model {
	case "small":
		return MLXSmallDimensions
	case "medium":
		return MLXMediumDimensions
	default:
		return MLXLargeDimensions
	}
}

// NewMLXEmbedder connects to the daemon and resolves the model's
// dimensions, preferring what the server reports over the static
// table.
func NewMLXEmbedder(ctx context.Context, cfg MLXConfig) (*MLXEmbedder, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultMLXEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultMLXModel
	}

	// No http.Client.Timeout: per-request context deadlines implement
	// the progressive timeout and a static client timeout would trump
	// them.
	e := &MLXEmbedder{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config: cfg,
		model:  cfg.Model,
		dims:   tierDimensions(cfg.Model),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := e.healthCheck(checkCtx); err != nil {
			return nil, fmt.Errorf("MLX health check failed: %w", err)
		}
		if dims, err := e.serverDimensions(checkCtx); err == nil {
			e.dims = dims
		}
	}

	slog.Debug("mlx_embedder_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.Int("dimensions", e.dims))

	return e, nil
}

// exchange performs one request against the daemon: GET when payload
// is nil, POST with a JSON body otherwise, decoding into out.
func (e *MLXEmbedder) exchange(ctx context.Context, path string, payload, out any) error {
	method := http.MethodGet
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		method = http.MethodPost
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.config.Endpoint+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to MLX server failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("MLX server returned status %d: %s", resp.StatusCode, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (e *MLXEmbedder) healthCheck(ctx context.Context) error {
	var health mlxHealthResponse
	if err := e.exchange(ctx, "/health", nil, &health); err != nil {
		return err
	}
	if health.Status != "healthy" {
		return fmt.Errorf("MLX server status: %s", health.Status)
	}
	return nil
}

// serverDimensions asks /models for the configured model's width.
func (e *MLXEmbedder) serverDimensions(ctx context.Context) (int, error) {
	var result mlxModelsResponse
	if err := e.exchange(ctx, "/models", nil, &result); err != nil {
		return 0, err
	}
	if model, ok := result.Models[e.config.Model]; ok {
		return model.Dimensions, nil
	}
	return 0, fmt.Errorf("model %s not found", e.config.Model)
}

func (e *MLXEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}

// toFloat32Vector narrows the daemon's float64 JSON numbers.
func toFloat32Vector(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// Embed produces the vector for one text via /embed.
func (e *MLXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	var result mlxEmbedResponse
	err := e.exchange(ctx, "/embed", mlxEmbedRequest{Text: text, Model: e.config.Model}, &result)
	if err != nil {
		return nil, err
	}
	return toFloat32Vector(result.Embedding), nil
}

// EmbedBatch calls /embed_batch with retries and the progressive
// thermal timeout.
func (e *MLXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < DefaultMLXMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(500<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		timeout := e.progressiveTimeout()
		slog.Debug("mlx_embedding_attempt",
			slog.Int("attempt", attempt+1),
			slog.Int("batch_index", e.batchIndex),
			slog.Duration("timeout", timeout),
			slog.Bool("final_batch", e.isFinalBatch),
			slog.Int("texts_count", len(texts)))

		timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
		var result mlxEmbedBatchResponse
		err := e.exchange(timeoutCtx, "/embed_batch", mlxEmbedBatchRequest{Texts: texts, Model: e.config.Model}, &result)
		cancel()

		if err == nil {
			embeddings := make([][]float32, len(result.Embeddings))
			for i, emb := range result.Embeddings {
				embeddings[i] = toFloat32Vector(emb)
			}
			return embeddings, nil
		}
		lastErr = err

		slog.Debug("mlx_embedding_attempt_failed",
			slog.Int("attempt", attempt+1),
			slog.Duration("timeout_used", timeout),
			slog.String("error", err.Error()))
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", DefaultMLXMaxRetries, lastErr)
}

func (e *MLXEmbedder) Dimensions() int { return e.dims }

func (e *MLXEmbedder) ModelName() string {
	return fmt.Sprintf("mlx-qwen3-embedding-%s", e.model)
}

// Available probes /health with a short deadline.
func (e *MLXEmbedder) Available(ctx context.Context) bool {
	if e.checkOpen() != nil {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return e.healthCheck(checkCtx) == nil
}

func (e *MLXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if transport, ok := e.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

// SetBatchIndex positions the thermal progression (checkpoint resume).
func (e *MLXEmbedder) SetBatchIndex(idx int) {
	e.mu.Lock()
	e.batchIndex = idx
	e.mu.Unlock()
}

// SetFinalBatch flags the last batch for its timeout boost.
func (e *MLXEmbedder) SetFinalBatch(isFinal bool) {
	e.mu.Lock()
	e.isFinalBatch = isFinal
	e.mu.Unlock()
}

// progressiveTimeout scales the 60s base up to 2x as chunks accumulate
// (throttling makes late batches slower), plus 1.5x on the final
// batch.
func (e *MLXEmbedder) progressiveTimeout() time.Duration {
	e.mu.RLock()
	batchIdx := e.batchIndex
	isFinal := e.isFinalBatch
	e.mu.RUnlock()

	progression := 1.0 + float64(batchIdx*DefaultMLXBatchSize)/2000.0
	if progression > 2.0 {
		progression = 2.0
	}

	finalBoost := 1.0
	if isFinal {
		finalBoost = 1.5
	}

	return time.Duration(float64(DefaultMLXBaseTimeout) * progression * finalBoost)
}

// MLX daemon wire types.

type mlxHealthResponse struct {
	Status      string `json:"status"`
	ModelStatus string `json:"model_status"`
	LoadedModel string `json:"loaded_model"`
}

type mlxModelsResponse struct {
	Models map[string]mlxModelInfo `json:"models"`
}

type mlxModelInfo struct {
	Dimensions int `json:"dimensions"`
}

type mlxEmbedRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type mlxEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

type mlxEmbedBatchRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type mlxEmbedBatchResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}
