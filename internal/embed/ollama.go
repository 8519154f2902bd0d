package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
)

// OllamaEmbedder talks to a local Ollama daemon over its /api/embed
// endpoint.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	modelName string
	dims      int

	mu           sync.RWMutex
	closed       bool
	lastCall     time.Time // drives warm/cold timeout selection
	batchIndex   int       // drives the progressive thermal timeout
	isFinalBatch bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// applyOllamaDefaults fills unset config fields.
func applyOllamaDefaults(cfg OllamaConfig) OllamaConfig {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.FallbackModels == nil {
		cfg.FallbackModels = FallbackOllamaModels
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = OllamaConnectTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = OllamaPoolSize
	}
	return cfg
}

// newOllamaTransport builds the pooled transport. CLI indexing runs
// are short-lived; the 10s idle timeout drops connections promptly
// after Ctrl+C instead of the default 90s.
func newOllamaTransport(poolSize int, disableKeepAlives bool) *http.Transport {
	return &http.Transport{
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: poolSize,
		MaxConnsPerHost:     poolSize * 2,
		IdleConnTimeout:     10 * time.Second,
		DisableKeepAlives:   disableKeepAlives,
	}
}

// NewOllamaEmbedder connects to Ollama, resolves a usable model (the
// configured one or a fallback) and probes the embedding dimensions.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	cfg = applyOllamaDefaults(cfg)
	transport := newOllamaTransport(cfg.PoolSize, false)

	// No http.Client.Timeout here: a static client timeout would
	// override the per-request context deadlines the progressive
	// thermal timeout relies on.
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		// A cold model load can take 30-60s; ConnectTimeout's 5s only
		// fits the TCP connect, so the whole probe gets the cold
		// timeout.
		checkCtx, cancel := context.WithTimeout(ctx, DefaultColdTimeout)
		defer cancel()

		modelName, err := e.findAvailableModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("failed to connect to Ollama or find model: %w", err)
		}
		e.modelName = modelName

		if cfg.Dimensions == 0 {
			dims, err := e.detectDimensions(checkCtx)
			if err != nil {
				transport.CloseIdleConnections()
				return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
			}
			e.dims = dims
		}
	}

	if e.dims == 0 {
		e.dims = DefaultDimensions
	}
	return e, nil
}

// getJSON issues one GET and decodes the JSON body into out.
func (e *OllamaEmbedder) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// listModels fetches /api/tags.
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]OllamaModelInfo, error) {
	var result OllamaModelListResponse
	if err := e.getJSON(ctx, "/api/tags", &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

// findAvailableModel matches the configured model (or a fallback)
// against what the daemon has installed, tolerating missing ":tag"
// suffixes in either direction.
func (e *OllamaEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	available := make(map[string]string) // normalized -> installed name
	for _, m := range models {
		name := strings.ToLower(m.Name)
		available[name] = m.Name
		base := strings.Split(name, ":")[0]
		if _, exists := available[base]; !exists {
			available[base] = m.Name
		}
	}

	resolve := func(wanted string) (string, bool) {
		name := strings.ToLower(wanted)
		if actual, ok := available[name]; ok {
			return actual, true
		}
		if actual, ok := available[strings.Split(name, ":")[0]]; ok {
			return actual, true
		}
		return "", false
	}

	if actual, ok := resolve(e.config.Model); ok {
		return actual, nil
	}
	for _, fallback := range e.config.FallbackModels {
		if actual, ok := resolve(fallback); ok {
			return actual, nil
		}
	}

	return "", fmt.Errorf("no embedding model available (tried %s and %v)", e.config.Model, e.config.FallbackModels)
}

// detectDimensions embeds a probe string and measures the result.
func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	result, err := e.callEmbedAPI(ctx, "dimension detection")
	if err != nil {
		return 0, err
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned")
	}
	return len(result.Embeddings[0]), nil
}

// callEmbedAPI posts one /api/embed request synchronously (no
// cancellation race handling; used only by the startup probe).
func (e *OllamaEmbedder) callEmbedAPI(ctx context.Context, input any) (*OllamaEmbedResponse, error) {
	body, err := json.Marshal(OllamaEmbedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// Embed produces the vector for one text; blank input maps to a zero
// vector without an API call.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}

	embeddings, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

func (e *OllamaEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}

// EmbedBatch embeds texts in BatchSize slices of the batch API. Blank
// inputs get zero vectors locally; everything else goes to the daemon.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var pending []int // original indices of texts that need the API
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			pending = append(pending, i)
		}
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := start + e.config.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		slice := pending[start:end]

		batchTexts := make([]string, len(slice))
		for i, origIdx := range slice {
			batchTexts[i] = texts[origIdx]
		}

		embeddings, err := e.embedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch: %w", err)
		}
		for i, emb := range embeddings {
			results[slice[i]] = emb
		}

		e.IncrementBatchIndex()
		if e.config.ProgressFunc != nil {
			e.config.ProgressFunc(end, len(pending))
		}
	}

	return results, nil
}

// timeoutState is a consistent snapshot of the fields feeding the
// progressive timeout.
type timeoutState struct {
	lastCall   time.Time
	batchIndex int
	finalBatch bool
}

func (e *OllamaEmbedder) timeoutSnapshot() timeoutState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return timeoutState{
		lastCall:   e.lastCall,
		batchIndex: e.batchIndex,
		finalBatch: e.isFinalBatch,
	}
}

// progressiveTimeout computes the per-attempt deadline. The base is
// warm or cold depending on how long the model has sat idle; sustained
// GPU load throttles over a run, so the timeout widens with batch
// position, per retry attempt, and once more on the final batch where
// throttling peaks.
func (e *OllamaEmbedder) progressiveTimeout(attempt int) time.Duration {
	st := e.timeoutSnapshot()

	timeout := DefaultWarmTimeout
	if st.lastCall.IsZero() || time.Since(st.lastCall) > ModelUnloadThreshold {
		timeout = DefaultColdTimeout
	}

	factor := 1.0
	if e.config.TimeoutProgression > 1.0 {
		// At batch 50 of 32-chunk batches with progression 1.5 this
		// yields 1 + 1.6*0.5 = 1.8x.
		batchProgress := float64(st.batchIndex*e.config.BatchSize) / 1000.0
		factor = 1.0 + batchProgress*(e.config.TimeoutProgression-1.0)
		if factor > 3.0 {
			factor = 3.0
		}
	}

	if e.config.RetryTimeoutMultiplier > 1.0 && attempt > 0 {
		retryFactor := math.Pow(e.config.RetryTimeoutMultiplier, float64(attempt))
		if retryFactor > MaxRetryTimeoutMultiplier {
			retryFactor = MaxRetryTimeoutMultiplier
		}
		factor *= retryFactor
	}

	if st.finalBatch {
		factor *= 1.5
	}

	return time.Duration(float64(timeout) * factor)
}

func (e *OllamaEmbedder) updateLastCall() {
	e.mu.Lock()
	e.lastCall = time.Now()
	e.mu.Unlock()
}

// IncrementBatchIndex advances the thermal progression position.
func (e *OllamaEmbedder) IncrementBatchIndex() {
	e.mu.Lock()
	e.batchIndex++
	e.mu.Unlock()
}

// ResetBatchIndex rewinds the progression at the start of a new run.
func (e *OllamaEmbedder) ResetBatchIndex() {
	e.mu.Lock()
	e.batchIndex = 0
	e.mu.Unlock()
}

// SetBatchIndex positions the progression explicitly. Resuming from a
// checkpoint without this would start at zero and compute timeouts
// that are too short for late batches.
func (e *OllamaEmbedder) SetBatchIndex(idx int) {
	e.mu.Lock()
	e.batchIndex = idx
	e.mu.Unlock()
}

// SetFinalBatch flags the last batch, which gets the 1.5x boost.
func (e *OllamaEmbedder) SetFinalBatch(isFinal bool) {
	e.mu.Lock()
	e.isFinalBatch = isFinal
	e.mu.Unlock()
}

// GetInterBatchDelay exposes the configured cooling pause.
func (e *OllamaEmbedder) GetInterBatchDelay() time.Duration {
	return e.config.InterBatchDelay
}

// embedWithRetry wraps postEmbed with exponential backoff and the
// progressive timeout.
func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		timeout := e.progressiveTimeout(attempt)
		st := e.timeoutSnapshot()

		slog.Debug("embedding_attempt",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", e.config.MaxRetries),
			slog.Int("batch_index", st.batchIndex),
			slog.Duration("timeout", timeout),
			slog.Bool("final_batch", st.finalBatch),
			slog.Int("texts_count", len(texts)))

		timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
		embeddings, err := e.postEmbed(timeoutCtx, texts)
		cancel()

		if err == nil {
			e.updateLastCall()
			return embeddings, nil
		}
		lastErr = err

		slog.Debug("embedding_attempt_failed",
			slog.Int("attempt", attempt+1),
			slog.Int("batch_index", st.batchIndex),
			slog.Duration("timeout_used", timeout),
			slog.String("error", err.Error()))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", e.config.MaxRetries, lastErr)
}

// postEmbed performs one /api/embed call. The HTTP exchange runs in a
// goroutine so context cancellation (Ctrl+C) unblocks immediately
// instead of waiting out the HTTP timeout.
func (e *OllamaEmbedder) postEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	type outcome struct {
		embeddings [][]float32
		err        error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := e.callEmbedAPI(ctx, input)
		if err != nil {
			done <- outcome{nil, err}
			return
		}

		embeddings := make([][]float32, len(result.Embeddings))
		for i, emb := range result.Embeddings {
			embedding := make([]float32, len(emb))
			for j, v := range emb {
				embedding[j] = float32(v)
			}
			embeddings[i] = normalizeVector(embedding)
		}
		done <- outcome{embeddings, nil}
	}()

	select {
	case <-ctx.Done():
		// Force-close connections so the blocked goroutine gets an
		// error instead of hanging on the socket.
		e.ForceCloseConnections()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
		return nil, ctx.Err()
	case r := <-done:
		return r.embeddings, r.err
	}
}

func (e *OllamaEmbedder) Dimensions() int { return e.dims }

func (e *OllamaEmbedder) ModelName() string { return e.modelName }

// Available reports whether the daemon answers and has our model.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.checkOpen() != nil {
		return false
	}

	models, err := e.listModels(ctx)
	if err != nil {
		return false
	}

	modelLower := strings.ToLower(e.modelName)
	for _, m := range models {
		if strings.Contains(strings.ToLower(m.Name), modelLower) ||
			strings.Contains(modelLower, strings.ToLower(m.Name)) {
			return true
		}
	}
	return false
}

// SetProgressFunc installs the per-batch progress callback.
func (e *OllamaEmbedder) SetProgressFunc(fn func(completed, total int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.ProgressFunc = fn
}

// Close drops idle connections and marks the embedder done.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.transport != nil {
		e.transport.CloseIdleConnections()
	}
	return nil
}

// ForceCloseConnections interrupts in-flight requests by swapping the
// transport out from under them, so shutdown doesn't wait for a slow
// embedding response.
func (e *OllamaEmbedder) ForceCloseConnections() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transport == nil {
		return
	}
	e.transport.CloseIdleConnections()
	e.transport = newOllamaTransport(e.config.PoolSize, true)
	e.client.Transport = e.transport
}
