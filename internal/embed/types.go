package embed

import (
	"context"
	"math"
	"time"
)

// Batch and timeout tuning shared by every backend.
const (
	// MinBatchSize and MaxBatchSize bound EmbedBatch requests; the
	// upper cap guards against memory exhaustion.
	MinBatchSize = 1
	MaxBatchSize = 256

	// DefaultBatchSize balances throughput against request size.
	DefaultBatchSize = 32

	// DefaultTimeout is the legacy single timeout.
	// Deprecated: prefer DefaultWarmTimeout / DefaultColdTimeout.
	DefaultTimeout = 60 * time.Second

	// DefaultWarmTimeout covers requests against an already-loaded
	// model. GPU thermal throttling near the end of a long run can
	// stretch a batch to 90-120s, hence the generous value.
	DefaultWarmTimeout = 120 * time.Second

	// DefaultColdTimeout covers the first request, when the backend
	// may still be loading multi-gigabyte weights.
	DefaultColdTimeout = 180 * time.Second

	// ModelUnloadThreshold is how long idle before the model is
	// assumed unloaded again (Ollama evicts after ~5 minutes).
	ModelUnloadThreshold = 5 * time.Minute

	// DefaultMaxRetries bounds retry attempts per request.
	DefaultMaxRetries = 3
)

// Thermal pacing knobs for long runs on passively-cooled hardware.
const (
	// DefaultInterBatchDelay is the pause between batches; disabled
	// unless configured.
	DefaultInterBatchDelay = 0 * time.Millisecond

	// MaxInterBatchDelay caps the cooling pause.
	MaxInterBatchDelay = 5 * time.Second

	// DefaultTimeoutProgression grows the timeout per 1000 chunks
	// processed; 1.0 disables, 1.5 adds 50% per 1000.
	DefaultTimeoutProgression = 1.5

	// MaxTimeoutProgression caps the progression multiplier.
	MaxTimeoutProgression = 3.0

	// DefaultRetryTimeoutMultiplier scales the timeout per retry
	// attempt; 1.0 disables.
	DefaultRetryTimeoutMultiplier = 1.0

	// MaxRetryTimeoutMultiplier caps retry scaling.
	MaxRetryTimeoutMultiplier = 2.0
)

// Default model characteristics.
const (
	// DefaultDimensions matches the default embedding model.
	DefaultDimensions = 768

	// DefaultContext is the default model's context window.
	DefaultContext = 2048

	// StaticDimensions is the hash-based fallback embedder's width.
	StaticDimensions = 256
)

// Embedder is the provider contract every backend implements: local
// static hashing, Ollama, MLX, OpenAI-compatible HTTP and Cohere.
type Embedder interface {
	// Embed produces the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch produces vectors for several texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed width of produced vectors.
	Dimensions() int

	// ModelName identifies the underlying model.
	ModelName() string

	// Available reports whether the backend can serve right now.
	Available(ctx context.Context) bool

	// Close releases backend resources.
	Close() error

	// SetBatchIndex positions the thermal timeout progression, used
	// when resuming from a checkpoint mid-run.
	SetBatchIndex(idx int)

	// SetFinalBatch flags the last batch, which gets a timeout boost
	// because thermal throttling peaks there.
	SetFinalBatch(isFinal bool)
}

// normalizeVector scales v to unit length; zero vectors pass through.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
