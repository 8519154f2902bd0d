package chunk

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MarkdownChunkerOptions sizes markdown chunks.
type MarkdownChunkerOptions struct {
	MaxChunkTokens int
	OverlapTokens  int
}

// MarkdownChunker splits documents along their header hierarchy, with
// oversized sections further split at blank lines. Fenced code blocks
// are kept whole; tables and MDX components stay whole only when they
// contain no blank line.
type MarkdownChunker struct {
	options MarkdownChunkerOptions
}

var (
	// "# Title" through "###### Title".
	headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

	// Leading "---\n...\n---" YAML frontmatter.
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)

	// Fenced code blocks.
	codeBlockPattern = regexp.MustCompile("(?s)```[^`]*```")

	// Self-closing MDX components: <Component ... />.
	mdxSelfClosingPattern = regexp.MustCompile(`<[A-Z][a-zA-Z0-9]*[^>]*/\s*>`)

	// Pipe tables, optionally with a separator row.
	tablePattern = regexp.MustCompile(`(?m)^\|.+\|$(\n^\|[-:|]+\|$)?(\n^\|.+\|$)*`)
)

// NewMarkdownChunker builds a chunker with default sizing.
func NewMarkdownChunker() *MarkdownChunker {
	return NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{})
}

// NewMarkdownChunkerWithOptions builds a chunker with explicit sizing.
func NewMarkdownChunkerWithOptions(opts MarkdownChunkerOptions) *MarkdownChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	return &MarkdownChunker{options: opts}
}

// Close exists for interface symmetry with CodeChunker; the markdown
// chunker holds no resources.
func (c *MarkdownChunker) Close() {}

// SupportedExtensions lists the markdown extensions.
func (c *MarkdownChunker) SupportedExtensions() []string {
	return []string{".md", ".markdown", ".mdx"}
}

// Chunk splits a markdown file: frontmatter first, then one-or-more
// chunks per header section, falling back to paragraph chunking for
// headerless documents.
func (c *MarkdownChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	var chunks []*Chunk
	now := time.Now()
	remaining := content

	if fm := frontmatterPattern.FindStringSubmatch(remaining); fm != nil {
		chunks = append(chunks, c.frontmatterChunk(file, fm[0], now))
		remaining = remaining[len(fm[0]):]
	}

	sections := c.parseSections(remaining)
	if len(sections) == 0 {
		return append(chunks, c.chunkByParagraphs(file, remaining, "", 1, now)...), nil
	}

	baseLineOffset := 1
	if len(chunks) > 0 && chunks[0].Metadata["type"] == "frontmatter" {
		baseLineOffset = strings.Count(content[:len(content)-len(remaining)], "\n") + 1
	}

	for _, sec := range sections {
		chunks = append(chunks, c.sectionChunks(file, sec, baseLineOffset, now)...)
	}
	return chunks, nil
}

// section is one header-delimited span of the document.
type section struct {
	headerLevel int
	headerTitle string
	headerPath  string // "Guide > Install > Linux"
	content     string
	startLine   int // zero-indexed within the post-frontmatter content
}

// parseSections cuts the document at headers, tracking the header
// hierarchy so each section knows its full path.
func (c *MarkdownChunker) parseSections(content string) []*section {
	lines := strings.Split(content, "\n")
	var sections []*section
	headerStack := make([]string, 6)

	var current *section
	var body strings.Builder

	flush := func() {
		if current != nil {
			current.content = body.String()
			sections = append(sections, current)
			body.Reset()
		}
	}

	for lineNum, line := range lines {
		match := headerPattern.FindStringSubmatch(line)
		if match == nil {
			body.WriteString(line)
			body.WriteString("\n")
			continue
		}

		flush()

		level := len(match[1])
		title := strings.TrimSpace(match[2])

		// Entering a header resets everything deeper in the stack.
		headerStack[level-1] = title
		for i := level; i < 6; i++ {
			headerStack[i] = ""
		}

		var pathParts []string
		for i := 0; i < level; i++ {
			if headerStack[i] != "" {
				pathParts = append(pathParts, headerStack[i])
			}
		}

		current = &section{
			headerLevel: level,
			headerTitle: title,
			headerPath:  strings.Join(pathParts, " > "),
			startLine:   lineNum,
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	return sections
}

// mdChunk builds a markdown chunk with the shared boilerplate filled
// in.
func (c *MarkdownChunker) mdChunk(file *FileInput, content string, startLine, endLine int, metadata map[string]string, now time.Time) *Chunk {
	return &Chunk{
		ID:          generateChunkID(file.Path, content),
		FilePath:    file.Path,
		Content:     content,
		RawContent:  content,
		ContentType: ContentTypeMarkdown,
		Language:    "markdown",
		StartLine:   startLine,
		EndLine:     endLine,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func sectionMetadata(sec *section) map[string]string {
	return map[string]string{
		"header_path":   sec.headerPath,
		"header_level":  strconv.Itoa(sec.headerLevel),
		"section_title": sec.headerTitle,
	}
}

func (c *MarkdownChunker) frontmatterChunk(file *FileInput, content string, now time.Time) *Chunk {
	lineCount := strings.Count(content, "\n")
	if lineCount == 0 {
		lineCount = 1
	}
	return c.mdChunk(file, content, 1, lineCount, map[string]string{
		"type":         "frontmatter",
		"header_path":  "",
		"header_level": "0",
	}, now)
}

func (c *MarkdownChunker) sectionChunks(file *FileInput, sec *section, baseLineOffset int, now time.Time) []*Chunk {
	content := strings.TrimRight(sec.content, "\n")

	// A section that is only its header line carries nothing worth
	// indexing.
	trimmed := strings.TrimSpace(content)
	if len(strings.Split(trimmed, "\n")) <= 1 && headerPattern.MatchString(trimmed) {
		return []*Chunk{}
	}

	startLine := baseLineOffset + sec.startLine
	if estimateTokens(content) <= c.options.MaxChunkTokens {
		endLine := startLine + strings.Count(content, "\n")
		return []*Chunk{c.mdChunk(file, content, startLine, endLine, sectionMetadata(sec), now)}
	}

	return c.splitLargeSection(file, sec, content, startLine, now)
}

// splitLargeSection cuts an oversized section at paragraph boundaries,
// never inside a fenced code block, tagging continuation chunks with
// their section path.
func (c *MarkdownChunker) splitLargeSection(file *FileInput, sec *section, content string, startLine int, now time.Time) []*Chunk {
	paragraphs := c.splitByParagraphs(content, c.findAtomicBlocks(content))

	var chunks []*Chunk
	var buf strings.Builder
	currentStartLine := startLine
	lineCount := 0

	for i, para := range paragraphs {
		paraLines := strings.Count(para, "\n") + 1

		if buf.Len() > 0 && estimateTokens(buf.String())+estimateTokens(para) > c.options.MaxChunkTokens {
			chunks = append(chunks, c.mdChunk(file, strings.TrimRight(buf.String(), "\n "),
				currentStartLine, currentStartLine+lineCount, sectionMetadata(sec), now))

			buf.Reset()
			currentStartLine = startLine + lineCount

			// Continuation chunks carry their section path so they
			// stay searchable on their own.
			if i > 0 {
				buf.WriteString("<!-- Section: ")
				buf.WriteString(sec.headerPath)
				buf.WriteString(" -->\n\n")
			}
		}

		buf.WriteString(para)
		buf.WriteString("\n\n")
		lineCount += paraLines + 1
	}

	if buf.Len() > 0 {
		chunks = append(chunks, c.mdChunk(file, strings.TrimRight(buf.String(), "\n "),
			currentStartLine, currentStartLine+lineCount, sectionMetadata(sec), now))
	}
	return chunks
}

// findAtomicBlocks locates the spans that must never be split.
func (c *MarkdownChunker) findAtomicBlocks(content string) [][]int {
	var blocks [][]int
	blocks = append(blocks, codeBlockPattern.FindAllStringIndex(content, -1)...)
	blocks = append(blocks, tablePattern.FindAllStringIndex(content, -1)...)
	blocks = append(blocks, mdxSelfClosingPattern.FindAllStringIndex(content, -1)...)
	blocks = append(blocks, c.findMDXBlockComponents(content)...)
	return blocks
}

// findMDXBlockComponents pairs <Component> openings with their close
// tags. Go regexp has no backreferences, so the close tag is located
// by plain search.
func (c *MarkdownChunker) findMDXBlockComponents(content string) [][]int {
	var locs [][]int

	openTagPattern := regexp.MustCompile(`<([A-Z][a-zA-Z0-9]*)[^/>]*>`)
	for _, match := range openTagPattern.FindAllStringSubmatchIndex(content, -1) {
		if len(match) < 4 {
			continue
		}
		tagName := content[match[2]:match[3]]
		closeTag := "</" + tagName + ">"

		if closePos := strings.Index(content[match[1]:], closeTag); closePos != -1 {
			locs = append(locs, []int{match[0], match[1] + closePos + len(closeTag)})
		}
	}
	return locs
}

// splitByParagraphs cuts at blank lines, then re-joins pieces that a
// naive split tore out of a fenced code block. The atomicBlocks spans
// are not consulted.
func (c *MarkdownChunker) splitByParagraphs(content string, atomicBlocks [][]int) []string {
	var paragraphs []string
	for _, part := range strings.Split(content, "\n\n") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return c.mergeAtomicBlocks(paragraphs)
}

func (c *MarkdownChunker) mergeAtomicBlocks(paragraphs []string) []string {
	var result []string
	var inCodeBlock bool
	var block strings.Builder

	for _, para := range paragraphs {
		if inCodeBlock {
			block.WriteString("\n\n")
			block.WriteString(para)
			if strings.Contains(para, "```") {
				result = append(result, block.String())
				block.Reset()
				inCodeBlock = false
			}
			continue
		}

		// An odd number of fences means the block continues into the
		// next paragraph.
		if fences := strings.Count(para, "```"); fences%2 == 1 {
			inCodeBlock = true
			block.WriteString(para)
			continue
		}

		result = append(result, para)
	}

	if inCodeBlock {
		result = append(result, block.String())
	}
	return result
}

// chunkByParagraphs handles headerless documents: greedy paragraph
// accumulation up to the token budget.
func (c *MarkdownChunker) chunkByParagraphs(file *FileInput, content, headerPath string, startLine int, now time.Time) []*Chunk {
	metadata := func() map[string]string {
		return map[string]string{
			"header_path":   headerPath,
			"header_level":  "0",
			"section_title": "",
		}
	}

	var chunks []*Chunk
	var buf strings.Builder
	currentStartLine := startLine
	lineCount := 0

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		paraLines := strings.Count(para, "\n") + 1
		if buf.Len() > 0 && estimateTokens(buf.String())+estimateTokens(para) > c.options.MaxChunkTokens {
			chunks = append(chunks, c.mdChunk(file, buf.String(),
				currentStartLine, currentStartLine+lineCount, metadata(), now))
			buf.Reset()
			currentStartLine = startLine + lineCount
		}

		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
		lineCount += paraLines + 1
	}

	if buf.Len() > 0 {
		chunks = append(chunks, c.mdChunk(file, buf.String(),
			currentStartLine, currentStartLine+lineCount, metadata(), now))
	}
	return chunks
}
