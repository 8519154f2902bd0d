package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetIndexInfo(t *testing.T) {
	dataDir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dataDir, "pampa.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SetState(ctx, StateKeyIndexModel, "qwen3-embedding:0.6b"))
	require.NoError(t, s.SetState(ctx, StateKeyIndexDimension, "1024"))

	project := &Project{
		RootPath:   "/work/demo",
		ChunkCount: 12,
		FileCount:  3,
		IndexedAt:  time.Now(),
	}

	info, err := GetIndexInfo(ctx, s, project, dataDir, "qwen3-embedding:0.6b", "ollama", 1024)
	require.NoError(t, err)

	assert.Equal(t, dataDir, info.Location)
	assert.Equal(t, "/work/demo", info.ProjectRoot)
	assert.Equal(t, "qwen3-embedding:0.6b", info.IndexModel)
	assert.Equal(t, 1024, info.IndexDimensions)
	assert.Equal(t, "ollama", info.IndexBackend)
	assert.Equal(t, 12, info.ChunkCount)
	assert.Equal(t, 3, info.DocumentCount)
	assert.True(t, info.Compatible)
	assert.Positive(t, info.IndexSizeBytes, "the sqlite file itself counts")
}

func TestGetIndexInfoIncompatible(t *testing.T) {
	dataDir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dataDir, "pampa.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SetState(ctx, StateKeyIndexModel, "old-model"))
	require.NoError(t, s.SetState(ctx, StateKeyIndexDimension, "768"))

	info, err := GetIndexInfo(ctx, s, nil, dataDir, "new-model", "ollama", 1024)
	require.NoError(t, err)
	assert.False(t, info.Compatible)
}

func TestGetIndexInfoFreshIndexIsCompatible(t *testing.T) {
	dataDir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dataDir, "pampa.db"))
	require.NoError(t, err)
	defer s.Close()

	// No recorded model yet: anything is compatible.
	info, err := GetIndexInfo(context.Background(), s, nil, dataDir, "any-model", "ollama", 1024)
	require.NoError(t, err)
	assert.True(t, info.Compatible)
	assert.Empty(t, info.IndexModel)
}

func TestFormatBytesStore(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KB", FormatBytes(1024))
	assert.Equal(t, "1.5 MB", FormatBytes(1536*1024))
	assert.Equal(t, "2.0 GB", FormatBytes(2*1024*1024*1024))
}

func TestFormatTimeStore(t *testing.T) {
	assert.Equal(t, "unknown", FormatTime(time.Time{}))

	ts := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-08-01 10:30:00", FormatTime(ts))
}

func TestInferBackendFromModel(t *testing.T) {
	cases := map[string]string{
		"static":                          "static",
		"static768":                       "static",
		"/models/qwen3.safetensors":       "mlx",
		"mlx-community/qwen3-embedding":   "mlx",
		"mlx-qwen3-embedding-small":       "mlx",
		"qwen3-embedding:0.6b":            "ollama",
		"nomic-embed-text":                "ollama",
	}
	for model, want := range cases {
		assert.Equal(t, want, inferBackendFromModel(model), "model %q", model)
	}
}

func TestGetDirSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 50), 0o644))

	assert.Equal(t, int64(150), getDirSize(dir))
	assert.Zero(t, getDirSize(filepath.Join(dir, "missing")))
}
