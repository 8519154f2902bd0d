package chunk

import (
	"strings"
)

// maxCallEdges caps the callee list extracted per symbol.
const maxCallEdges = 64

// SymbolExtractor pulls declarations out of a parsed tree: names,
// one-line signatures, parameters, doc comments and outgoing call
// edges.
type SymbolExtractor struct {
	registry *LanguageRegistry
}

// NewSymbolExtractor builds an extractor over the default registry.
func NewSymbolExtractor() *SymbolExtractor {
	return NewSymbolExtractorWithRegistry(DefaultRegistry())
}

// NewSymbolExtractorWithRegistry builds an extractor over a custom
// registry.
func NewSymbolExtractorWithRegistry(registry *LanguageRegistry) *SymbolExtractor {
	return &SymbolExtractor{registry: registry}
}

// Extract walks the tree and returns every declaration it recognizes.
func (e *SymbolExtractor) Extract(tree *Tree, source []byte) []*Symbol {
	if tree == nil || tree.Root == nil {
		return []*Symbol{}
	}

	config, ok := e.registry.GetByName(tree.Language)
	if !ok {
		return []*Symbol{}
	}

	var symbols []*Symbol
	tree.Root.Walk(func(n *Node) bool {
		if symbol := e.extractSymbolFromNode(n, source, config, tree.Language); symbol != nil {
			symbols = append(symbols, symbol)
		}
		return true
	})
	return symbols
}

// symbolTypeFor maps a node type to its SymbolType via the language
// config; false when the node is not a declaration.
func symbolTypeFor(config *LanguageConfig, nodeType string) (SymbolType, bool) {
	groups := []struct {
		types []string
		kind  SymbolType
	}{
		{config.FunctionTypes, SymbolTypeFunction},
		{config.MethodTypes, SymbolTypeMethod},
		{config.ClassTypes, SymbolTypeClass},
		{config.InterfaceTypes, SymbolTypeInterface},
		{config.TypeDefTypes, SymbolTypeType},
		{config.ConstantTypes, SymbolTypeConstant},
		{config.VariableTypes, SymbolTypeVariable},
	}
	for _, g := range groups {
		for _, t := range g.types {
			if nodeType == t {
				return g.kind, true
			}
		}
	}
	return "", false
}

func (e *SymbolExtractor) extractSymbolFromNode(n *Node, source []byte, config *LanguageConfig, language string) *Symbol {
	symbolType, found := symbolTypeFor(config, n.Type)
	if !found {
		// A const binding an arrow function is still a function.
		return e.extractSpecialSymbol(n, source, language)
	}

	name := e.extractName(n, source, config, language)
	if name == "" {
		return nil
	}

	sym := &Symbol{
		Name:       name,
		Type:       symbolType,
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		Signature:  e.extractSignature(n, source, symbolType, language),
		DocComment: e.extractDocComment(n, source, language),
	}

	if symbolType == SymbolTypeFunction || symbolType == SymbolTypeMethod {
		sym.Parameters = e.ExtractParameters(n, source)
		sym.Calls = e.ExtractCalls(n, source)
	}
	return sym
}

// extractName finds the declared identifier, with language-specific
// handling for the grammars whose name nodes differ.
func (e *SymbolExtractor) extractName(n *Node, source []byte, config *LanguageConfig, language string) string {
	switch language {
	case "go":
		return extractGoName(n, source)
	case "typescript", "tsx", "javascript", "jsx":
		return extractJSFamilyName(n, source)
	default:
		return firstChildContent(n, source, "identifier", "type_identifier", "field_identifier", "constant")
	}
}

// firstChildContent returns the text of the first direct child whose
// type is one of wanted.
func firstChildContent(n *Node, source []byte, wanted ...string) string {
	for _, child := range n.Children {
		for _, w := range wanted {
			if child.Type == w {
				return child.GetContent(source)
			}
		}
	}
	return ""
}

// nestedIdentifier returns the first identifier found under a child of
// type wrapper.
func nestedIdentifier(n *Node, source []byte, wrapper string, idTypes ...string) string {
	for _, child := range n.Children {
		if child.Type != wrapper {
			continue
		}
		if name := firstChildContent(child, source, idTypes...); name != "" {
			return name
		}
	}
	return ""
}

func extractGoName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		return firstChildContent(n, source, "identifier")
	case "method_declaration":
		// Method names are field_identifiers, not identifiers.
		return firstChildContent(n, source, "field_identifier")
	case "type_declaration":
		return nestedIdentifier(n, source, "type_spec", "type_identifier")
	case "const_declaration":
		// const Name = v, or a grouped const ( ... ) block; the first
		// spec's identifier names the declaration.
		return nestedIdentifier(n, source, "const_spec", "identifier")
	case "var_declaration":
		return nestedIdentifier(n, source, "var_spec", "identifier")
	}
	return ""
}

func extractJSFamilyName(n *Node, source []byte) string {
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		return nestedIdentifier(n, source, "variable_declarator", "identifier")
	}
	// Class methods name themselves with a property_identifier.
	return firstChildContent(n, source, "identifier", "type_identifier", "property_identifier")
}

// extractSpecialSymbol recognizes JS/TS const bindings whose value is
// an arrow function or function expression.
func (e *SymbolExtractor) extractSpecialSymbol(n *Node, source []byte, language string) *Symbol {
	switch language {
	case "typescript", "tsx", "javascript", "jsx":
		if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
			return e.extractJSVariableFunctionSymbol(n, source)
		}
	}
	return nil
}

func (e *SymbolExtractor) extractJSVariableFunctionSymbol(n *Node, source []byte) *Symbol {
	for _, child := range n.Children {
		if child.Type != "variable_declarator" {
			continue
		}

		var name string
		var hasFunction bool
		for _, grandchild := range child.Children {
			switch grandchild.Type {
			case "identifier":
				name = grandchild.GetContent(source)
			case "arrow_function", "function", "function_expression":
				hasFunction = true
			}
		}

		if name != "" && hasFunction {
			sym := &Symbol{
				Name:      name,
				Type:      SymbolTypeFunction,
				StartLine: int(n.StartPoint.Row) + 1,
				EndLine:   int(n.EndPoint.Row) + 1,
				Signature: e.extractFunctionSignature(n.GetContent(source), "javascript"),
			}
			sym.Parameters = e.ExtractParameters(n, source)
			sym.Calls = e.ExtractCalls(n, source)
			return sym
		}
	}
	return nil
}

// extractDocComment reads the single line comment directly above the
// declaration. Python docstrings live inside the body and are skipped
// here.
func (e *SymbolExtractor) extractDocComment(n *Node, source []byte, language string) string {
	if n.StartPoint.Row == 0 || language == "python" {
		return ""
	}

	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	prevLineEnd := lineStart - 1
	prevLineStart := prevLineEnd - 1
	for prevLineStart > 0 && source[prevLineStart-1] != '\n' {
		prevLineStart--
	}

	prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))
	if strings.HasPrefix(prevLine, "//") {
		return strings.TrimPrefix(prevLine, "//")
	}
	return ""
}

// extractSignature renders the declaration's interface line so search
// and embedding see it without the body.
func (e *SymbolExtractor) extractSignature(n *Node, source []byte, symbolType SymbolType, language string) string {
	content := n.GetContent(source)
	if content == "" {
		return ""
	}

	switch symbolType {
	case SymbolTypeFunction, SymbolTypeMethod:
		return e.extractFunctionSignature(content, language)
	case SymbolTypeClass, SymbolTypeInterface, SymbolTypeType:
		return e.extractTypeSignature(content, language)
	}
	return ""
}

// firstLineBeforeBrace returns the first line trimmed, cut at the
// opening brace when present.
func firstLineBeforeBrace(content string) string {
	lines := strings.SplitN(content, "\n", 2)
	if len(lines) == 0 {
		return ""
	}
	firstLine := strings.TrimSpace(lines[0])
	if idx := strings.Index(firstLine, "{"); idx != -1 {
		return strings.TrimSpace(firstLine[:idx])
	}
	return firstLine
}

func (e *SymbolExtractor) extractFunctionSignature(content, language string) string {
	switch language {
	case "python":
		// def name(params): keeps its colon.
		lines := strings.SplitN(content, "\n", 2)
		if len(lines) == 0 {
			return ""
		}
		return strings.TrimSpace(lines[0])
	default:
		return firstLineBeforeBrace(content)
	}
}

func (e *SymbolExtractor) extractTypeSignature(content, language string) string {
	if language == "python" {
		lines := strings.SplitN(content, "\n", 2)
		if len(lines) == 0 {
			return ""
		}
		return strings.TrimSpace(lines[0])
	}
	return firstLineBeforeBrace(content)
}

// ExtractParameters lists the declared parameter names of a function
// or method node.
func (e *SymbolExtractor) ExtractParameters(n *Node, source []byte) []string {
	var params []string
	seen := make(map[string]bool)

	n.Walk(func(node *Node) bool {
		switch node.Type {
		case "parameter_list", "formal_parameters", "parameters", "parameter":
			for _, child := range node.Children {
				collectParamNames(child, source, &params, seen)
			}
			return false
		}
		return true
	})
	return params
}

func collectParamNames(n *Node, source []byte, out *[]string, seen map[string]bool) {
	switch n.Type {
	case "identifier", "field_identifier":
		name := n.GetContent(source)
		if name != "" && !seen[name] {
			seen[name] = true
			*out = append(*out, name)
		}
	case "parameter_declaration", "required_parameter", "optional_parameter",
		"default_parameter", "typed_parameter", "typed_default_parameter",
		"variadic_parameter_declaration":
		// The first identifier inside a typed parameter is the name;
		// the rest is the type annotation.
		for _, child := range n.Children {
			if child.Type == "identifier" || child.Type == "field_identifier" {
				collectParamNames(child, source, out, seen)
				break
			}
		}
	}
}

// ExtractCalls lists the callee names reachable inside a declaration,
// deduplicated in first-appearance order and capped at maxCallEdges.
// Only forward edges are recorded; the codemap stores them as a plain
// adjacency list.
func (e *SymbolExtractor) ExtractCalls(n *Node, source []byte) []string {
	var calls []string
	seen := make(map[string]bool)

	n.Walk(func(node *Node) bool {
		if len(calls) >= maxCallEdges {
			return false
		}

		switch node.Type {
		case "call_expression", "call", "method_invocation", "invocation_expression":
			if name := calleeName(node, source); name != "" && !seen[name] {
				seen[name] = true
				calls = append(calls, name)
			}
		}
		return true
	})
	return calls
}

// calleeName resolves the function part of a call node to a bare
// name: the final selector segment for pkg.Fn / obj.method calls.
func calleeName(n *Node, source []byte) string {
	if len(n.Children) == 0 {
		return ""
	}
	fn := n.Children[0]

	switch fn.Type {
	case "identifier", "field_identifier":
		return fn.GetContent(source)
	case "selector_expression", "member_expression", "attribute", "navigation_expression":
		// Keep the rightmost segment: the method name.
		if name := firstChildContentReverse(fn, source, "field_identifier", "property_identifier", "identifier", "attribute"); name != "" {
			return name
		}
	}

	// Some grammars put the name deeper; take the last identifier-ish
	// token of the function part.
	text := fn.GetContent(source)
	if idx := strings.LastIndexAny(text, ".:"); idx != -1 && idx+1 < len(text) {
		text = text[idx+1:]
	}
	if len(text) > 0 && len(text) < 128 && !strings.ContainsAny(text, " \t\n(") {
		return text
	}
	return ""
}

// firstChildContentReverse scans children right-to-left.
func firstChildContentReverse(n *Node, source []byte, wanted ...string) string {
	for i := len(n.Children) - 1; i >= 0; i-- {
		child := n.Children[i]
		for _, w := range wanted {
			if child.Type == w {
				return child.GetContent(source)
			}
		}
	}
	return ""
}
