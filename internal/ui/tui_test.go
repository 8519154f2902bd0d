package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTUIRendererRejectsNonTTY(t *testing.T) {
	r, err := NewTUIRenderer(NewConfig(&bytes.Buffer{}))
	require.Error(t, err)
	assert.Nil(t, r)
}

func TestRunModelInitialView(t *testing.T) {
	model := newRunModel(NewProgressTracker(), "")
	assert.Contains(t, model.View(), "Scan")
}

func TestRunModelShowsAllStages(t *testing.T) {
	tracker := NewProgressTracker()
	model := newRunModel(tracker, "")

	tracker.SetStage(StageScanning, 100)
	view := model.View()
	for _, name := range []string{"Scan", "Chunk", "Embed", "Index"} {
		assert.Contains(t, view, name)
	}
}

func TestRunModelShowsCounts(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.SetStage(StageScanning, 100)
	tracker.Update(50, "src/main.go")

	view := newRunModel(tracker, "").View()
	assert.Contains(t, view, "50")
	assert.Contains(t, view, "100")
}

func TestRunModelShowsCurrentFile(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.SetStage(StageChunking, 100)
	tracker.Update(1, "src/components/Button.tsx")

	view := newRunModel(tracker, "").View()
	assert.Contains(t, view, "Button.tsx")
}

func TestRunModelShowsErrorCounts(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.AddError(ErrorEvent{File: "broken.go", Err: assert.AnError})
	tracker.AddError(ErrorEvent{File: "warning.go", Err: assert.AnError, IsWarn: true})

	view := newRunModel(tracker, "").View()
	assert.Contains(t, view, "1 errors")
	assert.Contains(t, view, "1 warnings")
}

func TestRunModelCompletionView(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.SetStage(StageComplete, 0)

	model := newRunModel(tracker, "")
	model.complete = true
	model.stats = CompletionStats{Files: 100, Chunks: 500}

	view := model.View()
	assert.Contains(t, view, "Complete")
	assert.Contains(t, view, "500")
}

func TestRunModelHeaderShowsProjectDir(t *testing.T) {
	model := newRunModel(NewProgressTracker(), "/work/myrepo")
	assert.Contains(t, model.View(), "/work/myrepo")
}

func TestTruncateFilePath(t *testing.T) {
	// Short paths come back untouched.
	assert.Equal(t, "src/main.go", truncateFilePath("src/main.go", 50))
	assert.Equal(t, "", truncateFilePath("", 50))

	// Long paths keep the filename and gain an ellipsis.
	long := "src/components/very/deeply/nested/directory/file.go"
	got := truncateFilePath(long, 30)
	assert.LessOrEqual(t, len(got), 30)
	assert.Contains(t, got, "...")
	assert.Contains(t, got, "file.go")
}
