package chunk

import (
	"context"
	"time"
)

// Chunk sizing defaults, in tokens. The 512/64 split keeps recall high
// while staying inside embedding model limits.
const (
	DefaultMaxChunkTokens = 512
	DefaultOptimalTokens  = 400
	DefaultOverlapTokens  = 64
	MinChunkTokens        = 100
	TokensPerChar         = 4 // character pre-filter estimate: 4 chars per token
)

// ContentType is the broad kind of chunk content.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// Chunk is one retrievable fragment of a file.
type Chunk struct {
	ID          string            // stable identity, content-derived
	FilePath    string            // repo-relative
	Content     string            // body plus surrounding context
	RawContent  string            // just the symbol body (code only)
	Context     string            // package decl, imports (code only)
	ContentType ContentType       // code, markdown, text
	Language    string            // go, typescript, python, ...
	StartLine   int               // 1-indexed
	EndLine     int               // inclusive
	Symbols     []*Symbol         // declarations inside the chunk
	Metadata    map[string]string // tags, intent, annotations
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FileInput is what a Chunker consumes.
type FileInput struct {
	Path     string
	Content  []byte
	Language string
}

// Chunker splits one file into chunks.
type Chunker interface {
	// Chunk splits a file into semantic chunks.
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)

	// SupportedExtensions lists the extensions this chunker handles.
	SupportedExtensions() []string
}

// SymbolType classifies an extracted declaration.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// Symbol is one extracted declaration with its signature, doc and
// outgoing call edges.
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
	Parameters []string
	Calls      []string
}

// Tree is a parsed file.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node mirrors a tree-sitter node without holding cgo memory.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point is a zero-indexed row/column position.
type Point struct {
	Row    uint32
	Column uint32
}

// LanguageConfig names the grammar node types the chunker and symbol
// extractor care about for one language.
type LanguageConfig struct {
	Name       string
	Extensions []string

	FunctionTypes  []string
	ClassTypes     []string
	InterfaceTypes []string
	MethodTypes    []string
	TypeDefTypes   []string
	ConstantTypes  []string
	VariableTypes  []string

	// NameField is the child node type carrying the declared name.
	NameField string
}
