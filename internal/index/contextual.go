package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/lemon07r/pampax/internal/store"
)

// ContextGenerator produces a short situating description for each
// chunk before embedding ("this method handles the refund path of the
// billing service"), which measurably improves retrieval of chunks
// whose own text underdescribes them.
type ContextGenerator interface {
	// GenerateContext returns one or two sentences placing chunk
	// within docContext; empty string on failure.
	GenerateContext(ctx context.Context, chunk *store.Chunk, docContext string) (string, error)

	// GenerateBatch handles several chunks of one file together so
	// the model's prompt cache gets reused.
	GenerateBatch(ctx context.Context, chunks []*store.Chunk, docContext string) ([]string, error)

	// Available reports whether the generator can serve right now.
	Available(ctx context.Context) bool

	// ModelName identifies the generation model.
	ModelName() string

	// Close releases generator resources.
	Close() error
}

// ContextGeneratorConfig tunes generation.
type ContextGeneratorConfig struct {
	// OllamaHost is the local model endpoint.
	OllamaHost string

	// Model is a small, fast model; quality matters less than speed
	// here since this runs once per chunk at index time.
	Model string

	// Timeout bounds each chunk's generation.
	Timeout string

	// BatchSize groups chunks per prompt.
	BatchSize int

	// FallbackOnly skips the LLM and uses the pattern generator.
	FallbackOnly bool
}

// DefaultContextGeneratorConfig returns the standard settings.
func DefaultContextGeneratorConfig() ContextGeneratorConfig {
	return ContextGeneratorConfig{
		OllamaHost: "http://localhost:11434",
		Model:      "qwen3:0.6b",
		Timeout:    "5s",
		BatchSize:  8,
	}
}

// EnrichChunkWithContext prepends the generated context to the
// chunk's embeddable content, in place, and records it in metadata
// for inspection.
func EnrichChunkWithContext(chunk *store.Chunk, generatedContext string) {
	if generatedContext == "" || chunk == nil {
		return
	}

	chunk.Content = generatedContext + "\n\n" + chunk.RawContent

	if chunk.Metadata == nil {
		chunk.Metadata = make(map[string]string)
	}
	chunk.Metadata["contextual_context"] = generatedContext
}

// ExtractDocumentContext summarizes a file for the generator's prompt:
// path plus imports for code, path plus leading section headers for
// markdown.
func ExtractDocumentContext(chunks []*store.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}

	filePath := chunks[0].FilePath

	switch chunks[0].ContentType {
	case store.ContentTypeCode:
		if chunks[0].Context != "" {
			return fmt.Sprintf("File: %s\n%s", filePath, chunks[0].Context)
		}
		return fmt.Sprintf("File: %s", filePath)

	case store.ContentTypeMarkdown:
		headers := []string{fmt.Sprintf("Document: %s", filePath)}
		for _, c := range chunks {
			// Markdown section titles surface as function-typed
			// symbols.
			if len(c.Symbols) > 0 && c.Symbols[0].Type == store.SymbolTypeFunction {
				headers = append(headers, "- "+c.Symbols[0].Name)
			}
		}
		if len(headers) > 5 {
			headers = append(headers[:5], "...")
		}
		return strings.Join(headers, "\n")

	default:
		return fmt.Sprintf("File: %s", filePath)
	}
}

// GroupChunksByFile buckets chunks per file for batch generation.
func GroupChunksByFile(chunks []*store.Chunk) map[string][]*store.Chunk {
	grouped := make(map[string][]*store.Chunk)
	for _, c := range chunks {
		grouped[c.FilePath] = append(grouped[c.FilePath], c)
	}
	return grouped
}
