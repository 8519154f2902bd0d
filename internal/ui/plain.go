package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer prints one progress line per event. It is the renderer
// of record for pipes, CI and --no-tui.
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
	stage   Stage
	errors  []ErrorEvent
}

// NewPlainRenderer builds a line-based renderer over cfg.Output.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:     cfg.Output,
		noColor: cfg.NoColor,
	}
}

// Start implements Renderer; plain output needs no setup.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress prints "[STAGE] current/total - detail".
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stage = event.Stage

	detail := event.Message
	if detail == "" {
		detail = event.CurrentFile
	}

	switch {
	case event.Total > 0:
		fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, detail)
	case detail != "":
		fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), detail)
	}
}

// AddError prints an ERROR or WARN line and remembers the event.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.File != "" {
		fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
	} else {
		fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete prints the run summary, a per-stage breakdown when stage
// timings were collected, and the embedding backend line.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	round := func(d time.Duration) time.Duration { return d.Round(100 * time.Millisecond) }

	fmt.Fprintf(r.out, "Complete: %d files, %d chunks indexed in %s",
		stats.Files, stats.Chunks, round(stats.Duration))
	if stats.Errors > 0 || stats.Warnings > 0 {
		fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	fmt.Fprintln(r.out)

	if stats.Stages.Scan > 0 || stats.Stages.Embed > 0 {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, "Stage Breakdown:")
		fmt.Fprintf(r.out, "  Scan:    %s (files discovered)\n", round(stats.Stages.Scan))
		fmt.Fprintf(r.out, "  Chunk:   %s (code parsed)\n", round(stats.Stages.Chunk))
		if stats.Stages.Context > 0 {
			fmt.Fprintf(r.out, "  Context: %s (chunk enrichment)\n", round(stats.Stages.Context))
		}
		if stats.Stages.Embed > 0 && stats.Chunks > 0 {
			rate := float64(stats.Chunks) / stats.Stages.Embed.Seconds()
			fmt.Fprintf(r.out, "  Embed:   %s (%d chunks @ %.1f/sec)\n",
				round(stats.Stages.Embed), stats.Chunks, rate)
		}
		fmt.Fprintf(r.out, "  Index:   %s (BM25 + vector)\n", round(stats.Stages.Index))
	}

	if stats.Embedder.Backend != "" {
		fmt.Fprintln(r.out)
		fmt.Fprintf(r.out, "Backend: %s (%s, %d dims)\n",
			stats.Embedder.Backend, stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer; nothing to tear down.
func (r *PlainRenderer) Stop() error {
	return nil
}
