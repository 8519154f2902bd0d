package pampax

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemon07r/pampax/internal/blobstore"
	"github.com/lemon07r/pampax/internal/codemap"
	"github.com/lemon07r/pampax/internal/contextpack"
	"github.com/lemon07r/pampax/internal/manifest"
	"github.com/lemon07r/pampax/internal/store"
)

func newTestCore(t *testing.T) (*Core, store.MetadataStore) {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, ".pampa")

	meta, err := store.NewSQLiteStore(filepath.Join(dataDir, "pampa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	blobs, err := blobstore.New(dataDir, blobstore.ModeOff, "")
	require.NoError(t, err)

	cm := &codemap.Codemap{Entries: make(map[string]codemap.Entry)}

	return New(meta, blobs, cm, root, dataDir), meta
}

func TestGetChunkRoundTrip(t *testing.T) {
	core, meta := newTestCore(t)
	ctx := context.Background()

	raw := "func Hello() string { return \"hi\" }"
	sha := manifest.HashFile([]byte(raw))
	_, err := core.Blobs.Write(sha, []byte(raw))
	require.NoError(t, err)

	chunk := &store.Chunk{
		ID:          "chunk-1",
		FileID:      "file-1",
		FilePath:    "main.go",
		Content:     raw,
		RawContent:  raw,
		ContentType: store.ContentTypeCode,
		Language:    "go",
		StartLine:   1,
		EndLine:     1,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, meta.SaveChunks(ctx, []*store.Chunk{chunk}))

	got, body, err := core.GetChunk(ctx, "chunk-1")
	require.NoError(t, err)
	assert.Equal(t, raw, string(body))
	assert.Equal(t, "main.go", got.FilePath)
}

func TestGetChunkMissing(t *testing.T) {
	core, _ := newTestCore(t)
	_, _, err := core.GetChunk(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestGetOverviewSortedAndLimited(t *testing.T) {
	core, _ := newTestCore(t)

	core.Codemap.Entries["b.go:Foo"] = codemap.Entry{FilePath: "b.go", Symbol: "Foo", Lang: "go", Intent: "parse"}
	core.Codemap.Entries["a.go:Bar"] = codemap.Entry{FilePath: "a.go", Symbol: "Bar", Lang: "go", Tags: []string{"auth"}}

	overview, err := core.GetOverview(context.Background(), nil, 1)
	require.NoError(t, err)
	require.Len(t, overview.Entries, 1)
	assert.Equal(t, "a.go", overview.Entries[0].FilePath)
}

func TestQueryAnalyticsEmpty(t *testing.T) {
	core, _ := newTestCore(t)
	patterns, err := core.GetQueryAnalytics(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestContextPackSaveUseList(t *testing.T) {
	core, _ := newTestCore(t)

	require.NoError(t, core.SaveContextPack(&contextpack.Pack{Name: "billing", Description: "billing scope"}))

	loaded, err := core.UseContextPack("billing")
	require.NoError(t, err)
	assert.Equal(t, "billing", loaded.Name)

	packs, err := core.ListContextPacks()
	require.NoError(t, err)
	require.Len(t, packs, 1)
}
