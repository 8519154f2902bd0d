package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderType names an embedding backend.
type ProviderType string

const (
	// ProviderOllama is the cross-platform local default.
	ProviderOllama ProviderType = "ollama"

	// ProviderMLX is the opt-in Apple Silicon daemon, faster than
	// Ollama but hungrier for RAM.
	ProviderMLX ProviderType = "mlx"

	// ProviderStatic is the hash-based fallback that needs nothing
	// installed.
	ProviderStatic ProviderType = "static"

	// ProviderOpenAI targets any OpenAI-compatible /embeddings
	// endpoint.
	ProviderOpenAI ProviderType = "openai"

	// ProviderCohere targets Cohere's embed API.
	ProviderCohere ProviderType = "cohere"

	// ProviderAuto picks by configured credentials: OpenAI if
	// OPENAI_API_KEY is set, else Cohere if COHERE_API_KEY is set,
	// else the local default.
	ProviderAuto ProviderType = "auto"
)

// NewEmbedder builds the embedder for a provider. PAMPAX_EMBEDDER
// overrides the argument when set. The result is wrapped in a query
// cache unless PAMPAX_EMBED_CACHE disables it.
func NewEmbedder(ctx context.Context, provider ProviderType, model string) (Embedder, error) {
	if env := os.Getenv("PAMPAX_EMBEDDER"); env != "" {
		provider = ParseProvider(env)
	}

	embedder, err := buildProvider(ctx, provider, model)
	if err != nil {
		return nil, err
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}
	return embedder, nil
}

// buildProvider is the one switch that instantiates backends.
func buildProvider(ctx context.Context, provider ProviderType, model string) (Embedder, error) {
	switch provider {
	case ProviderMLX:
		return newMLXEmbedder(ctx)
	case ProviderStatic:
		return NewStaticEmbedder768(), nil
	case ProviderOpenAI:
		return NewOpenAIEmbedder(DefaultOpenAIConfig())
	case ProviderCohere:
		return NewCohereEmbedder(DefaultCohereConfig())
	case ProviderAuto:
		return newAutoEmbedder(ctx, model)
	default:
		// Ollama is the default everywhere: cross-platform, modest
		// RAM. MLX stays opt-in.
		return newOllamaEmbedder(ctx, model)
	}
}

func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("PAMPAX_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// newMLXEmbedder builds the MLX backend. There is no silent fallback:
// an unreachable daemon is an error with recovery steps.
func newMLXEmbedder(ctx context.Context) (Embedder, error) {
	cfg := DefaultMLXConfig()

	// Config file first, environment second (highest priority).
	if globalMLXConfig.Endpoint != "" {
		cfg.Endpoint = globalMLXConfig.Endpoint
	}
	if globalMLXConfig.Model != "" {
		cfg.Model = globalMLXConfig.Model
	}
	if endpoint := os.Getenv("PAMPAX_MLX_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if model := os.Getenv("PAMPAX_MLX_MODEL"); model != "" {
		cfg.Model = model
	}

	embedder, err := NewMLXEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("mlx unavailable: %w\n\nTo fix:\n  1. Start MLX server: mlx-embedding-server\n  2. Or use Ollama: PAMPAX_EMBEDDER=ollama pampax index\n  3. Or use the static embedder: PAMPAX_EMBEDDER=static pampax index", err)
	}
	return embedder, nil
}

// newOllamaEmbedder builds the Ollama backend, layering config-file
// thermal settings and environment overrides onto the defaults. No
// silent fallback to static.
func newOllamaEmbedder(ctx context.Context, model string) (Embedder, error) {
	cfg := DefaultOllamaConfig()

	// Config model names carry a ":tag"; GGUF file names don't and
	// would confuse the Ollama API.
	if model != "" && isOllamaModelName(model) {
		cfg.Model = model
	}

	if host := os.Getenv("PAMPAX_OLLAMA_HOST"); host != "" {
		cfg.Host = host
	}
	if modelOverride := os.Getenv("PAMPAX_OLLAMA_MODEL"); modelOverride != "" {
		cfg.Model = modelOverride
	}
	if timeoutStr := os.Getenv("PAMPAX_OLLAMA_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			cfg.Timeout = timeout
		}
	}

	applyThermalSettings(&cfg)

	embedder, err := NewOllamaEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Or use the static embedder: PAMPAX_EMBEDDER=static pampax index", err)
	}
	return embedder, nil
}

// applyThermalSettings layers the pacing knobs onto an Ollama config:
// config file values first, env vars on top, all clamped to their
// maxima.
func applyThermalSettings(cfg *OllamaConfig) {
	if globalThermalConfig.InterBatchDelay > 0 {
		cfg.InterBatchDelay = clampDuration(globalThermalConfig.InterBatchDelay, MaxInterBatchDelay)
	}
	if globalThermalConfig.TimeoutProgression >= 1.0 {
		cfg.TimeoutProgression = clampFloat(globalThermalConfig.TimeoutProgression, MaxTimeoutProgression)
	}
	if globalThermalConfig.RetryTimeoutMultiplier >= 1.0 {
		cfg.RetryTimeoutMultiplier = clampFloat(globalThermalConfig.RetryTimeoutMultiplier, MaxRetryTimeoutMultiplier)
	}

	if s := os.Getenv("PAMPAX_INTER_BATCH_DELAY"); s != "" {
		if delay, err := time.ParseDuration(s); err == nil && delay >= 0 {
			cfg.InterBatchDelay = clampDuration(delay, MaxInterBatchDelay)
		}
	}
	if s := os.Getenv("PAMPAX_TIMEOUT_PROGRESSION"); s != "" {
		if v, err := parseFloat64(s); err == nil && v >= 1.0 {
			cfg.TimeoutProgression = clampFloat(v, MaxTimeoutProgression)
		}
	}
	if s := os.Getenv("PAMPAX_RETRY_TIMEOUT_MULTIPLIER"); s != "" {
		if v, err := parseFloat64(s); err == nil && v >= 1.0 {
			cfg.RetryTimeoutMultiplier = clampFloat(v, MaxRetryTimeoutMultiplier)
		}
	}
}

func clampDuration(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	return d
}

func clampFloat(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}

// newAutoEmbedder resolves "auto": OpenAI by credential, then Cohere
// by credential, then the local default.
func newAutoEmbedder(ctx context.Context, model string) (Embedder, error) {
	if os.Getenv("OPENAI_API_KEY") != "" {
		if e, err := NewOpenAIEmbedder(DefaultOpenAIConfig()); err == nil {
			return e, nil
		}
	}
	if os.Getenv("COHERE_API_KEY") != "" {
		if e, err := NewCohereEmbedder(DefaultCohereConfig()); err == nil {
			return e, nil
		}
	}
	return newOllamaEmbedder(ctx, model)
}

// ThermalConfig carries the pacing knobs from .pampax.yaml.
type ThermalConfig struct {
	InterBatchDelay        time.Duration
	TimeoutProgression     float64
	RetryTimeoutMultiplier float64
}

var globalThermalConfig ThermalConfig

// SetThermalConfig installs config-file pacing settings; call before
// NewEmbedder. Environment variables still win over these.
func SetThermalConfig(cfg ThermalConfig) {
	globalThermalConfig = cfg
	if cfg.InterBatchDelay > 0 || cfg.TimeoutProgression != 0 || cfg.RetryTimeoutMultiplier != 0 {
		slog.Debug("thermal_config_set",
			slog.Duration("inter_batch_delay", cfg.InterBatchDelay),
			slog.Float64("timeout_progression", cfg.TimeoutProgression),
			slog.Float64("retry_timeout_multiplier", cfg.RetryTimeoutMultiplier))
	}
}

// MLXServerConfig carries MLX daemon settings from .pampax.yaml.
type MLXServerConfig struct {
	Endpoint string
	Model    string // "small", "medium" or "large"
}

var globalMLXConfig MLXServerConfig

// SetMLXConfig installs config-file MLX settings; call before
// NewEmbedder. Environment variables still win over these.
func SetMLXConfig(cfg MLXServerConfig) {
	globalMLXConfig = cfg
	if cfg.Endpoint != "" || cfg.Model != "" {
		slog.Debug("mlx_config_set",
			slog.String("endpoint", cfg.Endpoint),
			slog.String("model", cfg.Model))
	}
}

// NewDefaultEmbedder builds the 768-dim static embedder.
//
// Deprecated: ignores configuration and can mismatch the index's
// dimensions. Use NewEmbedder with the configured provider instead.
func NewDefaultEmbedder(ctx context.Context) (Embedder, error) {
	return NewEmbedder(ctx, ProviderStatic, "")
}

// ParseProvider maps a config string to a ProviderType; unknown
// values resolve to the Ollama default.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "mlx":
		return ProviderMLX
	case "ollama", "llama": // "llama" kept as a legacy alias
		return ProviderOllama
	case "static":
		return ProviderStatic
	case "openai":
		return ProviderOpenAI
	case "cohere":
		return ProviderCohere
	case "auto":
		return ProviderAuto
	default:
		return ProviderOllama
	}
}

func (p ProviderType) String() string {
	return string(p)
}

// isOllamaModelName distinguishes Ollama model references (with a
// ":tag") from GGUF file names like "nomic-embed-text-v1.5".
func isOllamaModelName(model string) bool {
	if strings.Contains(model, ":") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(model), ".gguf") {
		return false
	}
	return false
}

// ValidProviders lists every accepted provider name.
func ValidProviders() []string {
	return []string{
		string(ProviderMLX),
		string(ProviderOllama),
		string(ProviderStatic),
		string(ProviderOpenAI),
		string(ProviderCohere),
		string(ProviderAuto),
	}
}

// IsValidProvider reports whether s names a known provider.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo describes a live embedder for status displays.
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo inspects an embedder, unwrapping the cache layer to find
// the real backend type.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.inner
	}

	switch inner.(type) {
	case *MLXEmbedder:
		info.Provider = ProviderMLX
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	case *OpenAIEmbedder:
		info.Provider = ProviderOpenAI
	case *CohereEmbedder:
		info.Provider = ProviderCohere
	default:
		info.Provider = ProviderStatic
	}
	return info
}

// MustNewEmbedder is NewEmbedder that panics; for tests and
// initialization paths where failure is unrecoverable.
func MustNewEmbedder(ctx context.Context, provider ProviderType, model string) Embedder {
	embedder, err := NewEmbedder(ctx, provider, model)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}

func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
