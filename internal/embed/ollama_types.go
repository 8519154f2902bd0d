package embed

import "time"

const (
	// DefaultOllamaHost is the standard local Ollama endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default code-tuned embedding model.
	// The 0.6B variant keeps RAM usage workable on 24GB machines; the
	// 8B variant scores the same on MTEB-Code but can freeze them.
	DefaultOllamaModel = "qwen3-embedding:0.6b"

	// OllamaConnectTimeout is the default ConnectTimeout.
	OllamaConnectTimeout = 5 * time.Second

	// OllamaPoolSize is the HTTP connection pool size.
	OllamaPoolSize = 4
)

// FallbackOllamaModels are tried in order when the configured model
// is not installed. Code-capable models come first; the general-text
// model at the end ranks code poorly and is only a last resort.
var FallbackOllamaModels = []string{
	"embeddinggemma",    // 308M params, MRL support
	"mxbai-embed-large", // last resort, non-code-tuned
}

// OllamaConfig tunes the Ollama backend.
type OllamaConfig struct {
	// Host is the API endpoint.
	Host string

	// Model is the embedding model reference ("name:tag").
	Model string

	// FallbackModels are tried when Model is unavailable.
	FallbackModels []string

	// Dimensions overrides auto-detection when non-zero.
	Dimensions int

	// BatchSize sizes EmbedBatch requests.
	BatchSize int

	// Timeout is carried on the config but not read by the embedder:
	// request deadlines come from progressiveTimeout's warm/cold base.
	Timeout time.Duration

	// ConnectTimeout is carried on the config but not read by the
	// embedder: the startup probe runs under DefaultColdTimeout.
	ConnectTimeout time.Duration

	// MaxRetries bounds retries on transient failures.
	MaxRetries int

	// PoolSize sizes the HTTP connection pool.
	PoolSize int

	// SkipHealthCheck disables the startup probe (tests).
	SkipHealthCheck bool

	// ProgressFunc receives (completed, total) after each batch.
	ProgressFunc func(completed, total int)

	// InterBatchDelay pauses between batches for GPU cooling.
	InterBatchDelay time.Duration

	// TimeoutProgression grows the timeout as the run progresses:
	// effective = base * (1 + (batchIndex*BatchSize/1000) * (TimeoutProgression - 1)).
	TimeoutProgression float64

	// RetryTimeoutMultiplier scales the timeout per retry attempt:
	// retryTimeout = base * RetryTimeoutMultiplier^attempt.
	RetryTimeoutMultiplier float64
}

// DefaultOllamaConfig returns the standard tuning.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:                   DefaultOllamaHost,
		Model:                  DefaultOllamaModel,
		FallbackModels:         FallbackOllamaModels,
		Dimensions:             0, // auto-detect
		BatchSize:              DefaultBatchSize,
		Timeout:                DefaultTimeout,
		ConnectTimeout:         OllamaConnectTimeout,
		MaxRetries:             DefaultMaxRetries,
		PoolSize:               OllamaPoolSize,
		InterBatchDelay:        DefaultInterBatchDelay,
		TimeoutProgression:     DefaultTimeoutProgression,
		RetryTimeoutMultiplier: DefaultRetryTimeoutMultiplier,
	}
}

// OllamaEmbedRequest is the /api/embed request body.
type OllamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string, or []string for batches
}

// OllamaEmbedResponse is the /api/embed response body.
type OllamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaModelListResponse is the /api/tags response body.
type OllamaModelListResponse struct {
	Models []OllamaModelInfo `json:"models"`
}

// OllamaModelInfo is one installed model in /api/tags.
type OllamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
