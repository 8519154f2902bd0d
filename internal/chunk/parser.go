package chunk

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// streamingThreshold is the source size at or above which parsing
// switches to a chunked input callback. Some grammars enforce a buffer
// length limit; feeding slices keyed by byte offset avoids it.
const streamingThreshold = 30 * 1024

// Parser turns source bytes into a language-agnostic AST via
// tree-sitter.
type Parser struct {
	parser   *sitter.Parser
	registry *LanguageRegistry
}

// NewParser builds a parser over the default language registry.
func NewParser() *Parser {
	return NewParserWithRegistry(DefaultRegistry())
}

// NewParserWithRegistry builds a parser over a custom registry.
func NewParserWithRegistry(registry *LanguageRegistry) *Parser {
	return &Parser{
		parser:   sitter.NewParser(),
		registry: registry,
	}
}

// Parse produces the AST for source in the given language. Files at
// or past streamingThreshold go through the slice-callback input path;
// smaller ones are handed to the grammar in one buffer.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	tsLang, ok := p.registry.GetTreeSitterLanguage(language)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}

	p.parser.SetLanguage(tsLang)

	var tsTree *sitter.Tree
	var err error
	if len(source) >= streamingThreshold {
		tsTree, err = p.parser.ParseInputCtx(ctx, nil, sitter.Input{
			Encoding: sitter.InputEncodingUTF8,
			Read: func(offset uint32, _ sitter.Point) []byte {
				if int(offset) >= len(source) {
					return nil
				}
				end := int(offset) + streamingThreshold
				if end > len(source) {
					end = len(source)
				}
				return source[offset:end]
			},
		})
	} else {
		tsTree, err = p.parser.ParseCtx(ctx, nil, source)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse source: %w", err)
	}
	if tsTree == nil {
		return nil, fmt.Errorf("failed to parse source: nil tree")
	}

	root := convertNode(tsTree.RootNode(), source)
	return &Tree{
		Root:     root,
		Source:   source,
		Language: language,
	}, nil
}

// Close releases the underlying tree-sitter parser.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

// convertNode copies a tree-sitter node (and its subtree) into the
// package's own Node type so callers never hold cgo pointers.
func convertNode(tsNode *sitter.Node, source []byte) *Node {
	if tsNode == nil {
		return nil
	}

	node := &Node{
		Type:      tsNode.Type(),
		StartByte: tsNode.StartByte(),
		EndByte:   tsNode.EndByte(),
		StartPoint: Point{
			Row:    tsNode.StartPoint().Row,
			Column: tsNode.StartPoint().Column,
		},
		EndPoint: Point{
			Row:    tsNode.EndPoint().Row,
			Column: tsNode.EndPoint().Column,
		},
		HasError: tsNode.HasError(),
		Children: make([]*Node, 0, int(tsNode.ChildCount())),
	}

	for i := uint32(0); i < tsNode.ChildCount(); i++ {
		if child := tsNode.Child(int(i)); child != nil {
			node.Children = append(node.Children, convertNode(child, source))
		}
	}
	return node
}

// GetContent slices the node's span out of source.
func (n *Node) GetContent(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// FindChildByType returns the first direct child of the given type.
func (n *Node) FindChildByType(nodeType string) *Node {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child
		}
	}
	return nil
}

// FindChildrenByType returns all direct children of the given type.
func (n *Node) FindChildrenByType(nodeType string) []*Node {
	var result []*Node
	for _, child := range n.Children {
		if child.Type == nodeType {
			result = append(result, child)
		}
	}
	return result
}

// FindAllByType returns every node of the given type in the subtree,
// pre-order.
func (n *Node) FindAllByType(nodeType string) []*Node {
	var result []*Node
	if n.Type == nodeType {
		result = append(result, n)
	}
	for _, child := range n.Children {
		result = append(result, child.FindAllByType(nodeType)...)
	}
	return result
}

// Walk visits the subtree depth-first; fn returning false prunes the
// node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
