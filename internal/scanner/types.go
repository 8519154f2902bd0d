// Package scanner discovers the indexable files of a project,
// honoring exclude patterns, .gitignore rules and the sensitive-file
// deny-list.
package scanner

import (
	"time"

	"github.com/lemon07r/pampax/internal/config"
)

// ContentType is the broad kind of content in a file.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
	ContentTypeConfig   ContentType = "config"
)

// FileInfo describes one discovered file.
type FileInfo struct {
	Path        string      // repo-relative, forward slashes
	AbsPath     string      // absolute path on disk
	Size        int64       // bytes
	ModTime     time.Time   // last modification
	ContentType ContentType // code, markdown, text, config
	Language    string      // go, typescript, python, ...
	IsGenerated bool        // carries a generated-code marker
}

// ScanOptions configures a scan.
type ScanOptions struct {
	// RootDir is the project root.
	RootDir string

	// IncludePatterns restricts the scan; empty means everything.
	IncludePatterns []string

	// ExcludePatterns removes files on top of the defaults.
	ExcludePatterns []string

	// RespectGitignore consults .gitignore files.
	RespectGitignore bool

	// Workers sizes the result buffer; 0 means NumCPU.
	Workers int

	// MaxFileSize skips files above this many bytes; 0 means 10MB.
	MaxFileSize int64

	// FollowSymlinks admits symlinked entries instead of skipping them;
	// off by default. The walk does not descend into symlinked directories.
	FollowSymlinks bool

	// ProgressFunc is carried on the options; Scan and ScanSubtree do not
	// call it.
	ProgressFunc func(scanned, total int)

	// Submodules enables git submodule discovery when non-nil and
	// enabled.
	Submodules *config.SubmoduleConfig
}

// ScanResult is one item on the scan stream: a file or an error.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// DefaultMaxFileSize is 10MB.
const DefaultMaxFileSize = 10 * 1024 * 1024

// languageMap resolves extensions (and a few exact filenames) to
// language tags.
var languageMap = map[string]string{
	".go": "go",

	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",

	".py":  "python",
	".pyw": "python",
	".pyi": "python",

	".html": "html",
	".htm":  "html",
	".css":  "css",
	".scss": "scss",
	".sass": "sass",
	".less": "less",

	".json":       "json",
	".yaml":       "yaml",
	".yml":        "yaml",
	".toml":       "toml",
	".xml":        "xml",
	".ini":        "ini",
	".conf":       "config",
	".properties": "properties",

	".md":       "markdown",
	".mdx":      "markdown",
	".markdown": "markdown",
	".rst":      "rst",
	".txt":      "text",

	".sh":   "shell",
	".bash": "shell",
	".zsh":  "shell",
	".fish": "fish",

	".rb":   "ruby",
	".rake": "ruby",
	".erb":  "erb",

	".rs": "rust",

	".java": "java",
	".kt":   "kotlin",
	".kts":  "kotlin",

	".c":   "c",
	".h":   "c",
	".cpp": "cpp",
	".hpp": "cpp",
	".cc":  "cpp",
	".cxx": "cpp",

	".cs": "csharp",

	".swift": "swift",

	".php": "php",

	".scala": "scala",

	".ex":  "elixir",
	".exs": "elixir",
	".erl": "erlang",

	".hs": "haskell",

	".ml":  "ocaml",
	".mli": "ocaml",

	".lua": "lua",

	".r": "r",
	".R": "r",

	".sql": "sql",

	"Dockerfile": "dockerfile",

	"Makefile":    "makefile",
	"makefile":    "makefile",
	"GNUmakefile": "makefile",

	".vue":     "vue",
	".svelte":  "svelte",
	".graphql": "graphql",
	".gql":     "graphql",
	".proto":   "protobuf",
}

// contentTypeMap groups language tags into content types.
var contentTypeMap = map[string]ContentType{
	"go":         ContentTypeCode,
	"javascript": ContentTypeCode,
	"typescript": ContentTypeCode,
	"python":     ContentTypeCode,
	"ruby":       ContentTypeCode,
	"rust":       ContentTypeCode,
	"java":       ContentTypeCode,
	"kotlin":     ContentTypeCode,
	"c":          ContentTypeCode,
	"cpp":        ContentTypeCode,
	"csharp":     ContentTypeCode,
	"swift":      ContentTypeCode,
	"php":        ContentTypeCode,
	"scala":      ContentTypeCode,
	"elixir":     ContentTypeCode,
	"erlang":     ContentTypeCode,
	"haskell":    ContentTypeCode,
	"ocaml":      ContentTypeCode,
	"lua":        ContentTypeCode,
	"r":          ContentTypeCode,
	"sql":        ContentTypeCode,
	"shell":      ContentTypeCode,
	"fish":       ContentTypeCode,
	"erb":        ContentTypeCode,
	"vue":        ContentTypeCode,
	"svelte":     ContentTypeCode,
	"graphql":    ContentTypeCode,
	"protobuf":   ContentTypeCode,
	"html":       ContentTypeCode,
	"css":        ContentTypeCode,
	"scss":       ContentTypeCode,
	"sass":       ContentTypeCode,
	"less":       ContentTypeCode,

	"markdown": ContentTypeMarkdown,
	"rst":      ContentTypeMarkdown,

	"text": ContentTypeText,

	"json":       ContentTypeConfig,
	"yaml":       ContentTypeConfig,
	"toml":       ContentTypeConfig,
	"xml":        ContentTypeConfig,
	"ini":        ContentTypeConfig,
	"config":     ContentTypeConfig,
	"properties": ContentTypeConfig,
	"dockerfile": ContentTypeConfig,
	"makefile":   ContentTypeConfig,
}

// DetectLanguage resolves a path to a language tag, "" when unknown.
// Exact filenames (Dockerfile, Makefile) win over extensions.
func DetectLanguage(path string) string {
	if lang, ok := languageMap[baseName(path)]; ok {
		return lang
	}
	if lang, ok := languageMap[extension(path)]; ok {
		return lang
	}
	return ""
}

// DetectContentType maps a language tag to its content type, with
// plain text as the fallback.
func DetectContentType(language string) ContentType {
	if ct, ok := contentTypeMap[language]; ok {
		return ct
	}
	return ContentTypeText
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

func extension(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
		if path[i] == '/' || path[i] == '\\' {
			break
		}
	}
	return ""
}
