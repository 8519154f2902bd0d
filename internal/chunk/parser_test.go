package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseSource(t *testing.T, source, language string) *Tree {
	t.Helper()
	p := NewParser()
	defer p.Close()

	tree, err := p.Parse(context.Background(), []byte(source), language)
	require.NoError(t, err)
	require.NotNil(t, tree)
	require.NotNil(t, tree.Root)
	return tree
}

func TestParseGo(t *testing.T) {
	tree := parseSource(t, "package main\n\nfunc hello() string {\n\treturn \"hi\"\n}\n", "go")

	assert.Equal(t, "go", tree.Language)
	assert.Equal(t, "source_file", tree.Root.Type)
	assert.False(t, tree.Root.HasError)

	funcs := tree.Root.FindAllByType("function_declaration")
	require.Len(t, funcs, 1)
	assert.Contains(t, funcs[0].GetContent(tree.Source), "func hello()")
}

func TestParseTypeScript(t *testing.T) {
	tree := parseSource(t, "function greet(name: string): string {\n  return `hi ${name}`\n}\n", "typescript")
	assert.Len(t, tree.Root.FindAllByType("function_declaration"), 1)
}

func TestParsePython(t *testing.T) {
	tree := parseSource(t, "def beta():\n    pass\n", "python")
	assert.Len(t, tree.Root.FindAllByType("function_definition"), 1)
}

func TestParseRust(t *testing.T) {
	tree := parseSource(t, "fn gamma() -> i32 {\n    42\n}\n", "rust")
	assert.Len(t, tree.Root.FindAllByType("function_item"), 1)
}

func TestParseUnsupportedLanguage(t *testing.T) {
	p := NewParser()
	defer p.Close()

	_, err := p.Parse(context.Background(), []byte("whatever"), "klingon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported language")
}

func TestParseBrokenSourceStillYieldsTree(t *testing.T) {
	// Tree-sitter is error-tolerant: syntax errors produce a tree with
	// error nodes rather than a nil tree.
	p := NewParser()
	defer p.Close()

	tree, err := p.Parse(context.Background(), []byte("package main\n\nfunc broken( {\n"), "go")
	require.NoError(t, err)
	require.NotNil(t, tree.Root)
	assert.True(t, tree.Root.HasError)
}

func TestParseLargeFileStreams(t *testing.T) {
	// Build a source comfortably past the streaming threshold and
	// confirm both code paths agree on the declaration count.
	var sb strings.Builder
	sb.WriteString("package main\n\n")
	n := 0
	for sb.Len() < streamingThreshold+4096 {
		sb.WriteString("func generated")
		sb.WriteString(strings.Repeat("x", 3))
		sb.WriteString(itoa(n))
		sb.WriteString("() int { return ")
		sb.WriteString(itoa(n))
		sb.WriteString(" }\n")
		n++
	}
	source := sb.String()
	require.GreaterOrEqual(t, len(source), streamingThreshold)

	tree := parseSource(t, source, "go")
	assert.Len(t, tree.Root.FindAllByType("function_declaration"), n)
	assert.False(t, tree.Root.HasError)
}

func itoa(n int) string {
	digits := "0123456789"
	if n == 0 {
		return "0"
	}
	var out []byte
	for n > 0 {
		out = append([]byte{digits[n%10]}, out...)
		n /= 10
	}
	return string(out)
}

func TestNodeHelpers(t *testing.T) {
	tree := parseSource(t, "package main\n\nimport \"fmt\"\n\nfunc a() {}\n\nfunc b() {}\n", "go")

	// FindChildByType is direct children only.
	pkg := tree.Root.FindChildByType("package_clause")
	require.NotNil(t, pkg)
	assert.Equal(t, "package main", pkg.GetContent(tree.Source))

	funcs := tree.Root.FindChildrenByType("function_declaration")
	assert.Len(t, funcs, 2)

	// Walk with pruning: refuse to descend into functions and count
	// what we saw.
	var visited, pruned int
	tree.Root.Walk(func(n *Node) bool {
		visited++
		if n.Type == "function_declaration" {
			pruned++
			return false
		}
		return true
	})
	assert.Equal(t, 2, pruned)
	assert.Greater(t, visited, 2)
}

func TestGetContentBounds(t *testing.T) {
	source := []byte("hello")
	n := &Node{StartByte: 0, EndByte: 5}
	assert.Equal(t, "hello", n.GetContent(source))

	// Out-of-range spans return empty rather than panicking.
	bad := &Node{StartByte: 3, EndByte: 99}
	assert.Equal(t, "", bad.GetContent(source))
	inverted := &Node{StartByte: 4, EndByte: 2}
	assert.Equal(t, "", inverted.GetContent(source))
}
