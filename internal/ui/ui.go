// Package ui renders indexing progress: a bubbletea TUI on interactive
// terminals, plain line output on pipes and CI.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is the phase of an index run currently being reported.
type Stage int

const (
	// StageScanning walks the repo for candidate files.
	StageScanning Stage = iota
	// StageChunking parses files into code chunks.
	StageChunking
	// StageContextual enriches chunks with descriptions.
	StageContextual
	// StageEmbedding generates embedding vectors.
	StageEmbedding
	// StageIndexing writes the search indexes.
	StageIndexing
	// StageComplete is the terminal stage.
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "Scanning"
	case StageChunking:
		return "Chunking"
	case StageContextual:
		return "Contextual"
	case StageEmbedding:
		return "Embedding"
	case StageIndexing:
		return "Indexing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon is the short tag used in plain-text progress lines.
func (s Stage) Icon() string {
	switch s {
	case StageScanning:
		return "SCAN"
	case StageChunking:
		return "CHUNK"
	case StageContextual:
		return "CTX"
	case StageEmbedding:
		return "EMBED"
	case StageIndexing:
		return "INDEX"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is one progress tick from the indexer.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent reports a per-file error or warning.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// StageTimings breaks the run duration down per stage.
type StageTimings struct {
	Scan    time.Duration
	Chunk   time.Duration
	Context time.Duration
	Embed   time.Duration
	Index   time.Duration
}

// EmbedderInfo identifies the embedding backend used for the run.
type EmbedderInfo struct {
	Backend    string // e.g. "openai", "ollama", "static"
	Model      string
	Dimensions int
}

// CompletionStats is the end-of-run summary.
type CompletionStats struct {
	Files    int
	Chunks   int
	Duration time.Duration
	Errors   int
	Warnings int
	Stages   StageTimings
	Embedder EmbedderInfo
}

// Renderer is the progress display the indexer drives.
type Renderer interface {
	// Start prepares the display.
	Start(ctx context.Context) error

	// UpdateProgress reflects a progress tick.
	UpdateProgress(event ProgressEvent)

	// AddError surfaces a per-file error.
	AddError(event ErrorEvent)

	// Complete shows the end-of-run summary.
	Complete(stats CompletionStats)

	// Stop tears the display down.
	Stop() error
}

// Config selects and styles the renderer.
type Config struct {
	Output       io.Writer
	ForcePlain   bool
	NoColor      bool
	SpinnerStyle string
	ProjectDir   string // shown in the TUI header
}

// ConfigOption mutates a Config during construction.
type ConfigOption func(*Config)

// WithForcePlain forces line-based output even on a TTY.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables ANSI color.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithSpinnerStyle picks the TUI spinner animation.
func WithSpinnerStyle(style string) ConfigOption {
	return func(c *Config) { c.SpinnerStyle = style }
}

// WithProjectDir sets the directory label for the TUI header.
func WithProjectDir(dir string) ConfigOption {
	return func(c *Config) { c.ProjectDir = dir }
}

// NewConfig builds a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{
		Output:       output,
		SpinnerStyle: "dots",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks the renderer for the environment: plain output when
// forced, when output is not a terminal, or under CI; otherwise the
// full TUI, falling back to plain if the TUI cannot start.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is an interactive terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor honors the NO_COLOR convention.
func DetectNoColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

// DetectCI reports whether we appear to be running under CI.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, set := os.LookupEnv(v); set {
			return true
		}
	}
	return false
}
