package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// GetIndexInfo assembles the on-disk/runtime snapshot backing `pampax index info`
// and the getStats/getOverview semantic operations: index location, embedder
// configuration compatibility, chunk/document counts, and on-disk sizes.
func GetIndexInfo(ctx context.Context, meta MetadataStore, project *Project, dataDir string, currentModel, currentBackend string, currentDimensions int) (*IndexInfo, error) {
	indexModel, err := meta.GetState(ctx, StateKeyIndexModel)
	if err != nil {
		return nil, fmt.Errorf("reading index model state: %w", err)
	}
	dimRaw, err := meta.GetState(ctx, StateKeyIndexDimension)
	if err != nil {
		return nil, fmt.Errorf("reading index dimension state: %w", err)
	}
	indexDimensions := 0
	if dimRaw != "" {
		fmt.Sscanf(dimRaw, "%d", &indexDimensions)
	}
	indexBackend := inferBackendFromModel(indexModel)

	info := &IndexInfo{
		Location:          dataDir,
		IndexModel:        indexModel,
		IndexBackend:      indexBackend,
		IndexDimensions:   indexDimensions,
		IndexSizeBytes:    getDirSize(dataDir),
		CurrentModel:      currentModel,
		CurrentBackend:    currentBackend,
		CurrentDimensions: currentDimensions,
		Compatible:        indexModel == "" || (indexModel == currentModel && indexDimensions == currentDimensions),
	}
	if project != nil {
		info.ProjectRoot = project.RootPath
		info.ChunkCount = project.ChunkCount
		info.DocumentCount = project.FileCount
		info.CreatedAt = project.IndexedAt
		info.UpdatedAt = project.IndexedAt
	}
	info.BM25SizeBytes = getDirSize(filepath.Join(dataDir, "bm25"))
	info.VectorSizeBytes = getDirSize(filepath.Join(dataDir, "vectors"))
	return info, nil
}

// FormatBytes renders a byte count as a human-readable size (B/KB/MB/GB).
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}

// FormatTime renders a timestamp for display, or "unknown" for the zero value.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04:05")
}

// containsAny reports whether s contains any of the given substrings.
func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// inferBackendFromModel guesses the embedding backend family from a model
// name/path: absolute paths and mlx- prefixed names are MLX, the bundled
// static profiles are "static", everything else defaults to Ollama (the
// most common local-daemon backend for arbitrary model names).
func inferBackendFromModel(model string) string {
	switch model {
	case "static", "static768":
		return "static"
	}
	if strings.HasPrefix(model, "/") {
		return "mlx"
	}
	if containsAny(model, []string{"mlx-community/", "mlx-"}) {
		return "mlx"
	}
	return "ollama"
}

// getDirSize sums the size of all regular files under dir. A missing or
// unreadable directory yields 0, not an error: this is display-only.
func getDirSize(dir string) int64 {
	var size int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}
