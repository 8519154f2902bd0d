package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lemon07r/pampax/internal/sizeanalyzer"
)

// CodeChunkerOptions sizes the chunks the splitter produces.
type CodeChunkerOptions struct {
	MaxChunkTokens     int // ceiling per chunk
	OptimalChunkTokens int // sweet spot the analyzer aims for
	MinChunkTokens     int // floor below which siblings get merged
	OverlapTokens      int // overlap between adjacent split parts

	// TokenCounter backs the size analyzer; nil falls back to the
	// character estimate (degraded mode).
	TokenCounter sizeanalyzer.TokenCounter
}

// CodeChunker is the AST-aware splitter: one chunk per function,
// method, class or type, with large declarations subdivided and
// undersized siblings merged.
type CodeChunker struct {
	parser    *Parser
	extractor *SymbolExtractor
	registry  *LanguageRegistry
	options   CodeChunkerOptions
	analyzer  *sizeanalyzer.Analyzer
}

// NewCodeChunker builds a chunker with the default sizing.
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{})
}

// NewCodeChunkerWithOptions builds a chunker with explicit sizing;
// zero fields fall back to the defaults.
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OptimalChunkTokens == 0 {
		opts.OptimalChunkTokens = DefaultOptimalTokens
	}
	if opts.MinChunkTokens == 0 {
		opts.MinChunkTokens = MinChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	counter := opts.TokenCounter
	if counter == nil {
		counter = codeTokenCounter{}
	}

	registry := DefaultRegistry()
	return &CodeChunker{
		parser:    NewParserWithRegistry(registry),
		extractor: NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
		options:   opts,
		analyzer:  sizeanalyzer.New(counter, 0),
	}
}

// limits hands the configured token bounds to the size analyzer.
func (c *CodeChunker) limits() sizeanalyzer.Limits {
	return sizeanalyzer.Limits{
		Min:     c.options.MinChunkTokens,
		Optimal: c.options.OptimalChunkTokens,
		Max:     c.options.MaxChunkTokens,
	}
}

// codeTokenCounter is the default counting backend: one token per
// identifier-word or punctuation rune, which tracks real BPE counts
// on code far better than raw characters do.
type codeTokenCounter struct{}

var codeTokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+|[^\sA-Za-z0-9_]`)

func (codeTokenCounter) Count(text string) (int, error) {
	return len(codeTokenPattern.FindAllStringIndex(text, -1)), nil
}

// Close releases the parser.
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions lists the extensions with a registered grammar.
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits one file. Unsupported languages and parse failures fall
// back to plain line-based chunking rather than erroring out.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	if _, supported := c.registry.GetByName(file.Language); !supported {
		return c.chunkByLines(file)
	}

	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		return c.chunkByLines(file)
	}

	fileContext := c.extractFileContext(tree, file.Content, file.Language)
	fileContext = prependFileMarker(file.Path, file.Language, fileContext)

	symbolNodes := c.findSymbolNodes(tree, file.Language)
	if len(symbolNodes) == 0 {
		return nil, nil
	}

	chunks := make([]*Chunk, 0, len(symbolNodes))
	now := time.Now()
	for _, node := range symbolNodes {
		chunks = append(chunks, c.createChunksFromNode(node, tree, file, fileContext, now)...)
	}
	return chunks, nil
}

// symbolNodeInfo pairs an AST node with its extracted symbol.
type symbolNodeInfo struct {
	node   *Node
	symbol *Symbol
}

// findSymbolNodes walks the tree pre-order collecting every node whose
// type the language config marks as a declaration.
func (c *CodeChunker) findSymbolNodes(tree *Tree, language string) []*symbolNodeInfo {
	config, ok := c.registry.GetByName(language)
	if !ok {
		return []*symbolNodeInfo{}
	}

	symbolTypes := make(map[string]SymbolType)
	addTypes := func(types []string, st SymbolType) {
		for _, t := range types {
			symbolTypes[t] = st
		}
	}
	addTypes(config.FunctionTypes, SymbolTypeFunction)
	addTypes(config.MethodTypes, SymbolTypeMethod)
	addTypes(config.ClassTypes, SymbolTypeClass)
	addTypes(config.InterfaceTypes, SymbolTypeInterface)
	addTypes(config.TypeDefTypes, SymbolTypeType)
	addTypes(config.ConstantTypes, SymbolTypeConstant)
	addTypes(config.VariableTypes, SymbolTypeVariable)

	var symbolNodes []*symbolNodeInfo
	tree.Root.Walk(func(n *Node) bool {
		// JS/TS const declarations might actually bind arrow
		// functions; those count as functions, not constants.
		if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
			if sym := c.extractor.extractSpecialSymbol(n, tree.Source, language); sym != nil {
				symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym})
				return true
			}
		}

		if symType, isSymbol := symbolTypes[n.Type]; isSymbol {
			if sym := c.extractSymbol(n, tree, symType, language); sym != nil {
				symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym})
			}
		}
		return true
	})
	return symbolNodes
}

func (c *CodeChunker) extractSymbol(n *Node, tree *Tree, symType SymbolType, language string) *Symbol {
	config, _ := c.registry.GetByName(language)
	name := c.extractor.extractName(n, tree.Source, config, language)
	if name == "" {
		return nil
	}

	return &Symbol{
		Name:       name,
		Type:       symType,
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		DocComment: c.extractDocComment(n, tree.Source, language),
	}
}

// extractDocComment collects the contiguous run of line comments
// immediately above a declaration.
func (c *CodeChunker) extractDocComment(n *Node, source []byte, language string) string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	commentPrefix := "//"
	if language == "python" {
		commentPrefix = "#"
	}

	var commentLines []string
	pos := lineStart - 1
	for pos > 0 {
		prevLineEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		prevLineStart := pos
		if pos > 0 {
			prevLineStart++
		}

		prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))
		if strings.HasPrefix(prevLine, commentPrefix) {
			commentLines = append([]string{strings.TrimPrefix(prevLine, commentPrefix)}, commentLines...)
			continue
		}
		if prevLine != "" {
			break
		}
	}

	if len(commentLines) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.Join(commentLines, "\n"))
}

// createChunksFromNode emits one chunk for an in-budget declaration,
// or subdivides an oversized one.
func (c *CodeChunker) createChunksFromNode(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string, now time.Time) []*Chunk {
	node := info.node
	rawContent := string(tree.Source[node.StartByte:node.EndByte])

	rawContentWithDoc := rawContent
	if info.symbol.DocComment != "" {
		rawContentWithDoc = c.rawContentWithDocComment(node, tree.Source, info.symbol.DocComment)
	}

	// Top-level node sizing is strict: no chunk is ever dismissed or
	// kept on a character guess.
	verdict, err := c.analyzer.Analyze(rawContentWithDoc, c.limits(), false)
	if err != nil || verdict.Decision == sizeanalyzer.DecisionOptimal || verdict.Decision == sizeanalyzer.DecisionTooSmall {
		// Counter failure degrades to emitting the node whole; a
		// too-small top-level declaration is still indexed on its own.
		return []*Chunk{c.createChunk(file, rawContentWithDoc, fileContext, info.symbol, now)}
	}
	return c.splitLargeSymbol(info, tree, file, fileContext, now)
}

// rawContentWithDocComment widens the node span upward to include its
// doc comment lines.
func (c *CodeChunker) rawContentWithDocComment(n *Node, source []byte, docComment string) string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	docLines := strings.Count(docComment, "\n") + 1
	for i := 0; i < docLines && lineStart > 0; i++ {
		lineStart--
		for lineStart > 0 && source[lineStart-1] != '\n' {
			lineStart--
		}
	}
	return string(source[lineStart:n.EndByte])
}

// splitLargeSymbol subdivides an oversized declaration: classes split
// into their methods (with undersized ones merged), everything else
// splits by lines with overlap.
func (c *CodeChunker) splitLargeSymbol(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string, now time.Time) []*Chunk {
	node := info.node
	content := string(tree.Source[node.StartByte:node.EndByte])

	if info.symbol.Type == SymbolTypeClass || info.symbol.Type == SymbolTypeInterface {
		if methodChunks := c.splitClassByMethods(info, tree, file, fileContext, now); len(methodChunks) > 0 {
			return methodChunks
		}
	}

	return c.splitByLines(content, info.symbol, file, fileContext, now, int(node.StartPoint.Row)+1)
}

// splitClassByMethods breaks a class body into per-method chunks.
// Methods below the minimum size are not dropped: when their combined
// size reaches the minimum, or there are at least three of them, they
// become one merged chunk named <class>_small_methods_<N> whose hash
// covers the joined method bodies.
func (c *CodeChunker) splitClassByMethods(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string, now time.Time) []*Chunk {
	config, ok := c.registry.GetByName(file.Language)
	if !ok {
		return nil
	}

	methodTypes := make(map[string]bool)
	for _, t := range config.MethodTypes {
		methodTypes[t] = true
	}
	for _, t := range config.FunctionTypes {
		methodTypes[t] = true
	}
	if len(methodTypes) == 0 {
		return nil
	}

	// Collect the class's member declarations, skipping the class node
	// itself and never descending into a matched member.
	var members []*Node
	for _, child := range info.node.Children {
		child.Walk(func(n *Node) bool {
			if methodTypes[n.Type] {
				members = append(members, n)
				return false
			}
			return true
		})
	}
	if len(members) == 0 {
		return nil
	}

	// Candidate sizing is the one place the estimate shortcut is
	// allowed: an obviously oversized member gets split regardless,
	// while small verdicts still come off a real token count.
	bodies := make([]string, len(members))
	for i, m := range members {
		bodies[i] = string(tree.Source[m.StartByte:m.EndByte])
	}
	verdicts, err := c.analyzer.AnalyzeBatch(bodies, c.limits(), true)
	if err != nil {
		return nil
	}

	var chunks []*Chunk
	var small []*symbolNodeInfo

	for i, m := range members {
		sym := c.extractSymbol(m, tree, SymbolTypeMethod, file.Language)
		if sym == nil {
			sym = &Symbol{
				Name:      fmt.Sprintf("%s_%d", m.Type, m.StartByte),
				Type:      SymbolTypeMethod,
				StartLine: int(m.StartPoint.Row) + 1,
				EndLine:   int(m.EndPoint.Row) + 1,
			}
		}

		switch verdicts[i].Decision {
		case sizeanalyzer.DecisionTooSmall:
			small = append(small, &symbolNodeInfo{node: m, symbol: sym})
		case sizeanalyzer.DecisionNeedsSubdivision, sizeanalyzer.DecisionTooLarge:
			chunks = append(chunks, c.splitByLines(bodies[i], sym, file, fileContext, now, sym.StartLine)...)
		default:
			chunks = append(chunks, c.createChunk(file, bodies[i], fileContext, sym, now))
		}
	}

	if merged := c.mergeSmallMembers(small, info.symbol.Name, tree, file, fileContext, now); merged != nil {
		chunks = append(chunks, merged)
	}
	return chunks
}

// mergeSmallMembers folds undersized sibling methods into one chunk.
// Nil when the group is still too small to stand on its own (under the
// minimum combined size and fewer than three members).
func (c *CodeChunker) mergeSmallMembers(small []*symbolNodeInfo, className string, tree *Tree, file *FileInput, fileContext string, now time.Time) *Chunk {
	if len(small) == 0 {
		return nil
	}

	bodies := make([]string, 0, len(small))
	for _, m := range small {
		bodies = append(bodies, string(tree.Source[m.node.StartByte:m.node.EndByte]))
	}
	joined := strings.Join(bodies, "\n\n")

	// Whether the merged group survives is itself a skip decision, so
	// it rides on a real token count, never the estimate.
	if len(small) < 3 {
		verdict, err := c.analyzer.Analyze(joined, c.limits(), false)
		if err != nil || verdict.Decision == sizeanalyzer.DecisionTooSmall {
			return nil
		}
	}

	first, last := small[0], small[len(small)-1]
	sym := &Symbol{
		Name:      fmt.Sprintf("%s_small_methods_%d", className, len(small)),
		Type:      SymbolTypeMethod,
		StartLine: first.symbol.StartLine,
		EndLine:   last.symbol.EndLine,
	}

	chunk := c.createChunk(file, joined, fileContext, sym, now)
	chunk.Metadata["merged"] = fmt.Sprintf("%d", len(small))
	return chunk
}

// splitByLines cuts content into line windows with overlap, suffixing
// each emitted symbol with _part<N>. The first part also carries the
// parent symbol so a search for the original name still lands here.
func (c *CodeChunker) splitByLines(content string, symbol *Symbol, file *FileInput, fileContext string, now time.Time, startLine int) []*Chunk {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return []*Chunk{}
	}

	// Window sizing assumes roughly 80 characters per line.
	maxLinesPerChunk := (c.options.MaxChunkTokens * TokensPerChar) / 80
	if maxLinesPerChunk < 20 {
		maxLinesPerChunk = 20
	}
	overlapLines := (c.options.OverlapTokens * TokensPerChar) / 80
	if overlapLines < 2 {
		overlapLines = 2
	}
	// Keep at least 20% of each window shared with the next.
	if min := maxLinesPerChunk / 5; overlapLines < min {
		overlapLines = min
	}

	var chunks []*Chunk
	for i := 0; i < len(lines); {
		end := i + maxLinesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		chunkStartLine := startLine + i
		chunkEndLine := startLine + end - 1

		subSymbol := &Symbol{
			Name:      fmt.Sprintf("%s_part%d", symbol.Name, len(chunks)+1),
			Type:      symbol.Type,
			StartLine: chunkStartLine,
			EndLine:   chunkEndLine,
		}

		symbols := []*Symbol{subSymbol}
		if len(chunks) == 0 {
			symbols = append(symbols, &Symbol{
				Name:      symbol.Name,
				Type:      symbol.Type,
				StartLine: symbol.StartLine,
				EndLine:   symbol.EndLine,
			})
		}

		chunk := &Chunk{
			ID:          generateChunkID(file.Path, chunkContent),
			FilePath:    file.Path,
			Content:     combineContextAndContent(fileContext, chunkContent),
			RawContent:  chunkContent,
			Context:     fileContext,
			ContentType: ContentTypeCode,
			Language:    file.Language,
			StartLine:   chunkStartLine,
			EndLine:     chunkEndLine,
			Symbols:     symbols,
			Metadata:    make(map[string]string),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		EnrichMetadata(chunk, "", chunkContent, ContextInfo{
			StartLine:  chunkStartLine,
			EndLine:    chunkEndLine,
			CodeLength: len(chunkContent),
			Part:       true,
		})
		chunks = append(chunks, chunk)

		i = end - overlapLines
		if i <= 0 || end >= len(lines) {
			break
		}
	}
	return chunks
}

func (c *CodeChunker) createChunk(file *FileInput, rawContent, fileContext string, symbol *Symbol, now time.Time) *Chunk {
	chunk := &Chunk{
		ID:          generateChunkID(file.Path, rawContent),
		FilePath:    file.Path,
		Content:     combineContextAndContent(fileContext, rawContent),
		RawContent:  rawContent,
		Context:     fileContext,
		ContentType: ContentTypeCode,
		Language:    file.Language,
		StartLine:   symbol.StartLine,
		EndLine:     symbol.EndLine,
		Symbols:     []*Symbol{symbol},
		Metadata:    make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	EnrichMetadata(chunk, symbol.DocComment, rawContent, ContextInfo{
		StartLine:  symbol.StartLine,
		EndLine:    symbol.EndLine,
		CodeLength: len(rawContent),
	})
	return chunk
}

// extractFileContext pulls the package/import prelude that gets
// prepended to every chunk's embedded content.
func (c *CodeChunker) extractFileContext(tree *Tree, source []byte, language string) string {
	var parts []string
	switch language {
	case "go":
		parts = topLevelContent(tree, source, "package_clause", "import_declaration")
	case "typescript", "tsx", "javascript", "jsx":
		parts = topLevelContent(tree, source, "import_statement")
	case "python":
		parts = topLevelContent(tree, source, "import_statement", "import_from_statement")
	}
	return strings.Join(parts, "\n\n")
}

// topLevelContent collects the source text of root children matching
// any of the given node types, in document order.
func topLevelContent(tree *Tree, source []byte, nodeTypes ...string) []string {
	wanted := make(map[string]bool, len(nodeTypes))
	for _, t := range nodeTypes {
		wanted[t] = true
	}

	var parts []string
	for _, node := range tree.Root.Children {
		if wanted[node.Type] {
			parts = append(parts, node.GetContent(source))
		}
	}
	return parts
}

// chunkByLines is the whole-file fallback for languages without a
// grammar and for files that fail to parse.
func (c *CodeChunker) chunkByLines(file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	lines := strings.Split(content, "\n")
	linesPerChunk := 128 // ~2560 tokens at 4 chars/token, 80 chars/line
	overlapLines := 16   // ~320 tokens

	var chunks []*Chunk
	now := time.Now()
	for i := 0; i < len(lines); {
		end := i + linesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		startLine := i + 1
		endLine := end

		chunk := &Chunk{
			ID:          generateChunkID(file.Path, chunkContent),
			FilePath:    file.Path,
			Content:     chunkContent,
			RawContent:  chunkContent,
			ContentType: ContentTypeText,
			Language:    file.Language,
			StartLine:   startLine,
			EndLine:     endLine,
			Metadata:    make(map[string]string),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		EnrichMetadata(chunk, "", chunkContent, ContextInfo{
			StartLine:  startLine,
			EndLine:    endLine,
			CodeLength: len(chunkContent),
		})
		chunks = append(chunks, chunk)

		i = end - overlapLines
		if i <= 0 || end >= len(lines) {
			break
		}
	}
	return chunks, nil
}

// generateChunkID derives a stable chunk identity from file path plus
// content hash. Content-addressing keeps IDs stable across pure line
// shifts while any edit to the body produces a new ID (and so a
// re-embedding).
func generateChunkID(filePath string, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	input := fmt.Sprintf("%s:%s", filePath, hex.EncodeToString(contentHash[:])[:16])
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

// estimateTokens is the cheap character-based token estimate.
func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}

func combineContextAndContent(context, rawContent string) string {
	if context == "" {
		return rawContent
	}
	return context + "\n\n" + rawContent
}

// prependFileMarker adds a "File: <path>" comment in the language's
// own comment syntax, which measurably helps embedding quality.
func prependFileMarker(filePath, language, existingContext string) string {
	if filePath == "" {
		return existingContext
	}

	marker := "// File: " + filePath
	if language == "python" {
		marker = "# File: " + filePath
	}

	if existingContext == "" {
		return marker
	}
	return marker + "\n" + existingContext
}
