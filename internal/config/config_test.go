package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateUserConfig points XDG_CONFIG_HOME at a temp dir so tests
// never read the developer's real user config.
func isolateUserConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.InDelta(t, 0.65, cfg.Search.BM25Weight, 0.001)
	assert.InDelta(t, 0.35, cfg.Search.SemanticWeight, 0.001)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, "sqlite", cfg.Search.BM25Backend)
	assert.Equal(t, 20, cfg.Search.MaxResults)
	assert.Empty(t, cfg.Embeddings.Provider, "empty provider means auto-detect")
	assert.Equal(t, 32, cfg.Embeddings.BatchSize)
	assert.False(t, cfg.Submodules.Enabled)
	assert.True(t, cfg.Submodules.Recursive)
	assert.True(t, cfg.Contextual.Enabled)
	assert.False(t, cfg.Contextual.CodeChunks)
	assert.Contains(t, cfg.Paths.Exclude, "**/node_modules/**")
	require.NoError(t, cfg.Validate())
}

func TestLoadWithoutAnyFiles(t *testing.T) {
	isolateUserConfig(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Search, cfg.Search)
}

func TestLoadProjectFile(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()

	yaml := `
search:
  bm25_weight: 0.4
  semantic_weight: 0.6
  max_results: 50
embeddings:
  provider: ollama
  model: nomic-embed-text
paths:
  exclude:
    - "**/*.gen.go"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".pampax.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, cfg.Search.BM25Weight, 0.001)
	assert.InDelta(t, 0.6, cfg.Search.SemanticWeight, 0.001)
	assert.Equal(t, 50, cfg.Search.MaxResults)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)

	// Project excludes extend, not replace, the defaults.
	assert.Contains(t, cfg.Paths.Exclude, "**/*.gen.go")
	assert.Contains(t, cfg.Paths.Exclude, "**/node_modules/**")
}

func TestLoadYmlFallback(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".pampax.yml"),
		[]byte("search:\n  max_results: 7\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Search.MaxResults)
}

func TestLoadYamlBeatsYml(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".pampax.yaml"),
		[]byte("search:\n  max_results: 11\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".pampax.yml"),
		[]byte("search:\n  max_results: 22\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 11, cfg.Search.MaxResults)
}

func TestLoadUserConfigLayer(t *testing.T) {
	xdg := isolateUserConfig(t)
	userDir := filepath.Join(xdg, "pampax")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"),
		[]byte("embeddings:\n  provider: static\nsearch:\n  max_results: 5\n"), 0o644))

	// Project config overrides the user layer where set.
	projectDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".pampax.yaml"),
		[]byte("search:\n  max_results: 99\n"), 0o644))

	cfg, err := Load(projectDir)
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embeddings.Provider, "from user config")
	assert.Equal(t, 99, cfg.Search.MaxResults, "project wins")
}

func TestEnvOverridesBeatFiles(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".pampax.yaml"),
		[]byte("embeddings:\n  provider: ollama\n"), 0o644))

	t.Setenv("PAMPAX_EMBEDDINGS_PROVIDER", "static")
	t.Setenv("PAMPAX_BM25_WEIGHT", "0.5")
	t.Setenv("PAMPAX_SEMANTIC_WEIGHT", "0.5")
	t.Setenv("PAMPAX_RRF_CONSTANT", "30")
	t.Setenv("PAMPAX_DIMENSIONS", "768")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.InDelta(t, 0.5, cfg.Search.BM25Weight, 0.001)
	assert.Equal(t, 30, cfg.Search.RRFConstant)
	assert.Equal(t, 768, cfg.Embeddings.Dimensions)
}

func TestEmbedderAlias(t *testing.T) {
	isolateUserConfig(t)
	t.Setenv("PAMPAX_EMBEDDER", "mlx")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "mlx", cfg.Embeddings.Provider)
}

func TestValidate(t *testing.T) {
	t.Run("defaults pass", func(t *testing.T) {
		assert.NoError(t, NewConfig().Validate())
	})

	t.Run("weight out of range", func(t *testing.T) {
		cfg := NewConfig()
		cfg.Search.BM25Weight = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("weights must sum to one", func(t *testing.T) {
		cfg := NewConfig()
		cfg.Search.BM25Weight = 0.3
		cfg.Search.SemanticWeight = 0.3
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative max results", func(t *testing.T) {
		cfg := NewConfig()
		cfg.Search.MaxResults = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := NewConfig()
		cfg.Embeddings.Provider = "skynet"
		assert.Error(t, cfg.Validate())
	})

	t.Run("known providers", func(t *testing.T) {
		for _, p := range []string{"openai", "cohere", "ollama", "mlx", "static", "llama", ""} {
			cfg := NewConfig()
			cfg.Embeddings.Provider = p
			assert.NoError(t, cfg.Validate(), "provider %q", p)
		}
	})
}

func TestDetectProjectType(t *testing.T) {
	t.Run("go", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644))
		assert.Equal(t, ProjectTypeGo, DetectProjectType(dir))
	})

	t.Run("node", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte("{}"), 0o644))
		assert.Equal(t, ProjectTypeNode, DetectProjectType(dir))
	})

	t.Run("python", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte(""), 0o644))
		assert.Equal(t, ProjectTypePython, DetectProjectType(dir))
	})

	t.Run("go beats node", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte("{}"), 0o644))
		assert.Equal(t, ProjectTypeGo, DetectProjectType(dir))
	})

	t.Run("unknown", func(t *testing.T) {
		got := DetectProjectType(t.TempDir())
		assert.Equal(t, ProjectTypeUnknown, got)
		assert.False(t, got.IsKnown())
		assert.Equal(t, "unknown", got.String())
	})
}

// sameDir compares paths through symlink resolution, for macOS's
// /var vs /private/var temp paths.
func sameDir(t *testing.T, want, got string) {
	t.Helper()
	w, _ := filepath.EvalSymlinks(want)
	g, _ := filepath.EvalSymlinks(got)
	assert.Equal(t, w, g)
}

func TestFindProjectRootViaGit(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := FindProjectRoot(nested)
	require.NoError(t, err)
	sameDir(t, root, got)
}

func TestFindProjectRootViaConfigFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".pampax.yaml"), []byte(""), 0o644))
	nested := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := FindProjectRoot(nested)
	require.NoError(t, err)
	sameDir(t, root, got)
}

func TestFindProjectRootFallsBackToStart(t *testing.T) {
	dir := t.TempDir()
	got, err := FindProjectRoot(dir)
	require.NoError(t, err)
	sameDir(t, dir, got)
}

func TestDiscoverSourceDirs(t *testing.T) {
	dir := t.TempDir()
	for _, d := range []string{"src", "internal", "unrelated"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, d), 0o755))
	}

	found := DiscoverSourceDirs(dir)
	assert.Contains(t, found, "src")
	assert.Contains(t, found, "internal")
	assert.NotContains(t, found, "unrelated")
}

func TestDiscoverSourceDirsNextJS(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"),
		[]byte(`{"dependencies":{"next":"14.0.0"}}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "app"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pages"), 0o755))

	found := DiscoverSourceDirs(dir)
	assert.Contains(t, found, "app")
	assert.Contains(t, found, "pages")
}

func TestDiscoverDocsDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# x"), 0o644))

	found := DiscoverDocsDirs(dir)
	assert.Contains(t, found, "docs")
	assert.Contains(t, found, "README.md")
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	isolateUserConfig(t)

	cfg := NewConfig()
	cfg.Search.MaxResults = 77
	cfg.Embeddings.Provider = "ollama"

	dir := t.TempDir()
	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ".pampax.yaml")))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 77, loaded.Search.MaxResults)
	assert.Equal(t, "ollama", loaded.Embeddings.Provider)
}

func TestMergeNewDefaults(t *testing.T) {
	// A config written before the hybrid-search fields existed.
	cfg := &Config{Version: 1}

	added := cfg.MergeNewDefaults()
	assert.Contains(t, added, "search.bm25_weight")
	assert.Contains(t, added, "search.semantic_weight")
	assert.Contains(t, added, "search.rrf_constant")
	assert.Contains(t, added, "search.bm25_backend")
	assert.InDelta(t, 0.65, cfg.Search.BM25Weight, 0.001)

	// Running again adds nothing.
	assert.Empty(t, cfg.MergeNewDefaults())
}
