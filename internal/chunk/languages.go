package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/css"
	"github.com/smacker/go-tree-sitter/elixir"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/html"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/lua"
	"github.com/smacker/go-tree-sitter/ocaml"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/scala"
	"github.com/smacker/go-tree-sitter/swift"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageRegistry maps language names and extensions to grammar
// bindings and per-language node-type tables.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry builds a registry with every bundled grammar
// registered.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}
	r.registerAll()
	return r
}

// GetByExtension resolves a file extension (with or without the dot)
// to its language config.
func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	langName, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	config, ok := r.configs[langName]
	return config, ok
}

// GetByName resolves a language name to its config.
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.configs[name]
	return config, ok
}

// GetTreeSitterLanguage returns the grammar binding for a language.
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// SupportedExtensions lists every registered extension.
func (r *LanguageRegistry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	return exts
}

func (r *LanguageRegistry) registerLanguage(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang
	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

// register is shorthand for the common single-grammar case.
func (r *LanguageRegistry) register(tsLang *sitter.Language, config *LanguageConfig) {
	if config.NameField == "" {
		config.NameField = "name"
	}
	r.registerLanguage(config, tsLang)
}

func (r *LanguageRegistry) registerAll() {
	r.register(golang.GetLanguage(), &LanguageConfig{
		Name:          "go",
		Extensions:    []string{".go"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_declaration"},
		// Go has no classes; interfaces live inside type_declaration.
		TypeDefTypes:  []string{"type_declaration"},
		ConstantTypes: []string{"const_declaration"},
		VariableTypes: []string{"var_declaration"},
	})

	tsConfig := &LanguageConfig{
		Name:           "typescript",
		Extensions:     []string{".ts"},
		FunctionTypes:  []string{"function_declaration"},
		MethodTypes:    []string{"method_definition"},
		ClassTypes:     []string{"class_declaration"},
		InterfaceTypes: []string{"interface_declaration"},
		TypeDefTypes:   []string{"type_alias_declaration"},
		ConstantTypes:  []string{"lexical_declaration"}, // const and let
		VariableTypes:  []string{"variable_declaration"},
		NameField:      "name",
	}
	r.register(typescript.GetLanguage(), tsConfig)

	tsxConfig := *tsConfig
	tsxConfig.Name = "tsx"
	tsxConfig.Extensions = []string{".tsx"}
	r.register(tsx.GetLanguage(), &tsxConfig)

	jsConfig := &LanguageConfig{
		Name:          "javascript",
		Extensions:    []string{".js", ".mjs"},
		FunctionTypes: []string{"function_declaration", "function"},
		MethodTypes:   []string{"method_definition"},
		ClassTypes:    []string{"class_declaration"},
		ConstantTypes: []string{"lexical_declaration"},
		VariableTypes: []string{"variable_declaration"},
		NameField:     "name",
	}
	r.register(javascript.GetLanguage(), jsConfig)

	jsxConfig := *jsConfig
	jsxConfig.Name = "jsx"
	jsxConfig.Extensions = []string{".jsx"}
	r.register(javascript.GetLanguage(), &jsxConfig)

	r.register(python.GetLanguage(), &LanguageConfig{
		Name:          "python",
		Extensions:    []string{".py"},
		FunctionTypes: []string{"function_definition"},
		// Python methods are function_definitions inside a class.
		ClassTypes:    []string{"class_definition"},
		VariableTypes: []string{"assignment"},
	})

	r.register(rust.GetLanguage(), &LanguageConfig{
		Name:           "rust",
		Extensions:     []string{".rs"},
		FunctionTypes:  []string{"function_item"},
		ClassTypes:     []string{"struct_item", "enum_item", "impl_item"},
		InterfaceTypes: []string{"trait_item"},
		TypeDefTypes:   []string{"type_item"},
		ConstantTypes:  []string{"const_item", "static_item"},
	})

	r.register(java.GetLanguage(), &LanguageConfig{
		Name:           "java",
		Extensions:     []string{".java"},
		MethodTypes:    []string{"method_declaration", "constructor_declaration"},
		ClassTypes:     []string{"class_declaration", "enum_declaration"},
		InterfaceTypes: []string{"interface_declaration"},
		VariableTypes:  []string{"field_declaration"},
	})

	r.register(kotlin.GetLanguage(), &LanguageConfig{
		Name:          "kotlin",
		Extensions:    []string{".kt", ".kts"},
		FunctionTypes: []string{"function_declaration"},
		ClassTypes:    []string{"class_declaration", "object_declaration"},
		VariableTypes: []string{"property_declaration"},
	})

	r.register(c.GetLanguage(), &LanguageConfig{
		Name:          "c",
		Extensions:    []string{".c", ".h"},
		FunctionTypes: []string{"function_definition"},
		ClassTypes:    []string{"struct_specifier", "enum_specifier"},
		TypeDefTypes:  []string{"type_definition"},
		VariableTypes: []string{"declaration"},
	})

	r.register(cpp.GetLanguage(), &LanguageConfig{
		Name:          "cpp",
		Extensions:    []string{".cpp", ".hpp", ".cc", ".cxx"},
		FunctionTypes: []string{"function_definition"},
		ClassTypes:    []string{"class_specifier", "struct_specifier", "enum_specifier"},
		TypeDefTypes:  []string{"type_definition", "alias_declaration"},
		VariableTypes: []string{"declaration"},
	})

	r.register(csharp.GetLanguage(), &LanguageConfig{
		Name:           "csharp",
		Extensions:     []string{".cs"},
		MethodTypes:    []string{"method_declaration", "constructor_declaration"},
		ClassTypes:     []string{"class_declaration", "struct_declaration", "enum_declaration"},
		InterfaceTypes: []string{"interface_declaration"},
		VariableTypes:  []string{"property_declaration", "field_declaration"},
	})

	r.register(ruby.GetLanguage(), &LanguageConfig{
		Name:          "ruby",
		Extensions:    []string{".rb", ".rake"},
		FunctionTypes: []string{"method", "singleton_method"},
		ClassTypes:    []string{"class", "module"},
	})

	r.register(php.GetLanguage(), &LanguageConfig{
		Name:           "php",
		Extensions:     []string{".php"},
		FunctionTypes:  []string{"function_definition"},
		MethodTypes:    []string{"method_declaration"},
		ClassTypes:     []string{"class_declaration", "trait_declaration"},
		InterfaceTypes: []string{"interface_declaration"},
	})

	r.register(scala.GetLanguage(), &LanguageConfig{
		Name:           "scala",
		Extensions:     []string{".scala"},
		FunctionTypes:  []string{"function_definition"},
		ClassTypes:     []string{"class_definition", "object_definition"},
		InterfaceTypes: []string{"trait_definition"},
		VariableTypes:  []string{"val_definition", "var_definition"},
	})

	r.register(swift.GetLanguage(), &LanguageConfig{
		Name:           "swift",
		Extensions:     []string{".swift"},
		FunctionTypes:  []string{"function_declaration"},
		ClassTypes:     []string{"class_declaration"},
		InterfaceTypes: []string{"protocol_declaration"},
		VariableTypes:  []string{"property_declaration"},
	})

	r.register(lua.GetLanguage(), &LanguageConfig{
		Name:          "lua",
		Extensions:    []string{".lua"},
		FunctionTypes: []string{"function_definition_statement", "local_function_definition_statement"},
		VariableTypes: []string{"variable_assignment"},
	})

	r.register(ocaml.GetLanguage(), &LanguageConfig{
		Name:          "ocaml",
		Extensions:    []string{".ml", ".mli"},
		FunctionTypes: []string{"value_definition"},
		TypeDefTypes:  []string{"type_definition"},
		ClassTypes:    []string{"module_definition"},
	})

	r.register(elixir.GetLanguage(), &LanguageConfig{
		Name:       "elixir",
		Extensions: []string{".ex", ".exs"},
		// Elixir defs parse as generic calls; the chunker falls back
		// to file-level chunks for anything it can't pick apart.
		FunctionTypes: []string{"call"},
	})

	r.register(bash.GetLanguage(), &LanguageConfig{
		Name:          "shell",
		Extensions:    []string{".sh", ".bash"},
		FunctionTypes: []string{"function_definition"},
	})

	r.register(html.GetLanguage(), &LanguageConfig{
		Name:       "html",
		Extensions: []string{".html", ".htm"},
		ClassTypes: []string{"element"},
	})

	r.register(css.GetLanguage(), &LanguageConfig{
		Name:       "css",
		Extensions: []string{".css"},
		ClassTypes: []string{"rule_set"},
	})
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared registry instance.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
