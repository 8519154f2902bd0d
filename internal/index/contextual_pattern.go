package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/lemon07r/pampax/internal/config"
	"github.com/lemon07r/pampax/internal/store"
)

// PatternContextGenerator derives a chunk description from what's
// already there: path, symbol names and types, first doc-comment
// sentence. No model required, so it doubles as the LLM fallback.
type PatternContextGenerator struct {
	cfg *config.Config
}

// NewPatternContextGenerator builds the pattern generator.
func NewPatternContextGenerator(cfg *config.Config) *PatternContextGenerator {
	return &PatternContextGenerator{cfg: cfg}
}

// GenerateContext assembles the rule-based description. Code chunks
// stay untouched unless contextual.code_chunks is on; raw code embeds
// better than prefixed code under small models.
func (p *PatternContextGenerator) GenerateContext(
	ctx context.Context,
	chunk *store.Chunk,
	docContext string,
) (string, error) {
	if chunk == nil {
		return "", nil
	}

	if chunk.ContentType == store.ContentTypeCode && p.cfg != nil && !p.cfg.Contextual.CodeChunks {
		return "", nil
	}

	parts := []string{fmt.Sprintf("From file: %s", chunk.FilePath)}

	if len(chunk.Symbols) > 0 {
		sym := chunk.Symbols[0]
		parts = append(parts, fmt.Sprintf("Defines: %s %s", sym.Type, sym.Name))

		if sym.DocComment != "" {
			if firstSentence := extractFirstSentence(sym.DocComment); firstSentence != "" {
				parts = append(parts, fmt.Sprintf("Purpose: %s", firstSentence))
			}
		}
	}

	if chunk.ContentType == store.ContentTypeCode && chunk.Language != "" {
		parts = append(parts, fmt.Sprintf("Language: %s", chunk.Language))
	}

	return strings.Join(parts, ". ") + ".", nil
}

// GenerateBatch applies GenerateContext per chunk.
func (p *PatternContextGenerator) GenerateBatch(
	ctx context.Context,
	chunks []*store.Chunk,
	docContext string,
) ([]string, error) {
	results := make([]string, len(chunks))
	for i, chunk := range chunks {
		generated, err := p.GenerateContext(ctx, chunk, docContext)
		if err != nil {
			return nil, err
		}
		results[i] = generated
	}
	return results, nil
}

// Available is always true; patterns need nothing external.
func (p *PatternContextGenerator) Available(ctx context.Context) bool {
	return true
}

// ModelName identifies this generator in logs.
func (p *PatternContextGenerator) ModelName() string {
	return "pattern-based"
}

// Close is a no-op.
func (p *PatternContextGenerator) Close() error {
	return nil
}

// extractFirstSentence pulls the opening sentence out of a doc
// comment, without its trailing period.
func extractFirstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	text = strings.TrimPrefix(text, "//")
	text = strings.TrimPrefix(text, "/*")
	text = strings.TrimSuffix(text, "*/")
	text = strings.TrimSpace(text)

	for i, r := range text {
		if r == '.' || r == '\n' {
			return strings.TrimSuffix(strings.TrimSpace(text[:i+1]), ".")
		}
	}

	if len(text) > 100 {
		return text[:100] + "..."
	}
	return text
}

// HybridContextGenerator prefers the LLM and silently degrades to the
// pattern generator when it is down or declines.
type HybridContextGenerator struct {
	llm     ContextGenerator // nil when no LLM is configured
	pattern *PatternContextGenerator
	cfg     *config.Config
}

// NewHybridContextGenerator wires the two generators together.
func NewHybridContextGenerator(llm ContextGenerator, cfg *config.Config) *HybridContextGenerator {
	return &HybridContextGenerator{
		llm:     llm,
		pattern: NewPatternContextGenerator(cfg),
		cfg:     cfg,
	}
}

// GenerateContext tries the LLM, then patterns.
func (h *HybridContextGenerator) GenerateContext(
	ctx context.Context,
	chunk *store.Chunk,
	docContext string,
) (string, error) {
	if chunk != nil && chunk.ContentType == store.ContentTypeCode && h.cfg != nil && !h.cfg.Contextual.CodeChunks {
		return "", nil
	}

	if h.llm != nil && h.llm.Available(ctx) {
		if generated, err := h.llm.GenerateContext(ctx, chunk, docContext); err == nil && generated != "" {
			return generated, nil
		}
	}

	return h.pattern.GenerateContext(ctx, chunk, docContext)
}

// GenerateBatch tries the LLM batch path, then patterns.
func (h *HybridContextGenerator) GenerateBatch(
	ctx context.Context,
	chunks []*store.Chunk,
	docContext string,
) ([]string, error) {
	if h.llm != nil && h.llm.Available(ctx) {
		if contexts, err := h.llm.GenerateBatch(ctx, chunks, docContext); err == nil {
			return contexts, nil
		}
	}
	return h.pattern.GenerateBatch(ctx, chunks, docContext)
}

// Available is true as long as the pattern fallback stands.
func (h *HybridContextGenerator) Available(ctx context.Context) bool {
	return h.pattern.Available(ctx) || (h.llm != nil && h.llm.Available(ctx))
}

// ModelName reports which generators are in play.
func (h *HybridContextGenerator) ModelName() string {
	if h.llm != nil {
		return h.llm.ModelName() + "+pattern"
	}
	return h.pattern.ModelName()
}

// Close closes the LLM generator when present.
func (h *HybridContextGenerator) Close() error {
	if h.llm != nil {
		return h.llm.Close()
	}
	return nil
}
