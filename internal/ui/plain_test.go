package ui

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlain(t *testing.T) (*PlainRenderer, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	return NewPlainRenderer(NewConfig(buf)), buf
}

func TestPlainRendererProgressLine(t *testing.T) {
	r, buf := newPlain(t)

	r.UpdateProgress(ProgressEvent{
		Stage:       StageScanning,
		Current:     50,
		Total:       100,
		CurrentFile: "src/main.go",
	})

	out := buf.String()
	assert.Contains(t, out, "[SCAN]")
	assert.Contains(t, out, "50/100")
	assert.Contains(t, out, "src/main.go")
}

func TestPlainRendererMessageBeatsFile(t *testing.T) {
	r, buf := newPlain(t)

	r.UpdateProgress(ProgressEvent{
		Stage:       StageEmbedding,
		Current:     10,
		Total:       20,
		CurrentFile: "ignored.go",
		Message:     "generating embeddings",
	})

	assert.Contains(t, buf.String(), "generating embeddings")
	assert.NotContains(t, buf.String(), "ignored.go")
}

func TestPlainRendererZeroTotal(t *testing.T) {
	r, buf := newPlain(t)

	// No total, no detail: nothing to print.
	r.UpdateProgress(ProgressEvent{Stage: StageScanning})
	assert.Empty(t, buf.String())

	// No total but a message: print the message line.
	r.UpdateProgress(ProgressEvent{Stage: StageScanning, Message: "walking repo"})
	assert.Contains(t, buf.String(), "[SCAN] walking repo")
}

func TestPlainRendererNoANSI(t *testing.T) {
	r, buf := newPlain(t)

	for _, stage := range []Stage{StageScanning, StageChunking, StageEmbedding, StageIndexing} {
		r.UpdateProgress(ProgressEvent{Stage: stage, Current: 1, Total: 2, Message: "working"})
	}
	r.AddError(ErrorEvent{File: "x.go", Err: errors.New("boom")})

	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestPlainRendererErrorsAndWarnings(t *testing.T) {
	r, buf := newPlain(t)

	r.AddError(ErrorEvent{File: "broken.go", Err: errors.New("parse failed")})
	r.AddError(ErrorEvent{Err: errors.New("global problem")})
	r.AddError(ErrorEvent{File: "odd.go", Err: errors.New("suspicious"), IsWarn: true})

	out := buf.String()
	assert.Contains(t, out, "ERROR: broken.go: parse failed")
	assert.Contains(t, out, "ERROR: global problem")
	assert.Contains(t, out, "WARN: odd.go: suspicious")
}

func TestPlainRendererCompleteSummary(t *testing.T) {
	r, buf := newPlain(t)

	r.Complete(CompletionStats{
		Files:    12,
		Chunks:   340,
		Duration: 5 * time.Second,
	})

	out := buf.String()
	assert.Contains(t, out, "Complete: 12 files, 340 chunks")
	assert.NotContains(t, out, "errors")
}

func TestPlainRendererCompleteWithErrors(t *testing.T) {
	r, buf := newPlain(t)

	r.Complete(CompletionStats{
		Files:    3,
		Chunks:   40,
		Duration: time.Second,
		Errors:   2,
		Warnings: 1,
	})

	assert.Contains(t, buf.String(), "(2 errors, 1 warnings)")
}

func TestPlainRendererCompleteStageBreakdown(t *testing.T) {
	r, buf := newPlain(t)

	r.Complete(CompletionStats{
		Files:    5,
		Chunks:   100,
		Duration: 10 * time.Second,
		Stages: StageTimings{
			Scan:  time.Second,
			Chunk: 2 * time.Second,
			Embed: 6 * time.Second,
			Index: time.Second,
		},
		Embedder: EmbedderInfo{Backend: "ollama", Model: "nomic-embed-text", Dimensions: 768},
	})

	out := buf.String()
	assert.Contains(t, out, "Stage Breakdown:")
	assert.Contains(t, out, "Scan:")
	assert.Contains(t, out, "Embed:")
	assert.Contains(t, out, "chunks @")
	assert.Contains(t, out, "Backend: ollama (nomic-embed-text, 768 dims)")
}

func TestPlainRendererLifecycle(t *testing.T) {
	r, _ := newPlain(t)
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop())
}
