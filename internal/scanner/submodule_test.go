package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemon07r/pampax/internal/config"
)

func TestParseGitmodules(t *testing.T) {
	content := []byte(`[submodule "libs/shared-utils"]
	path = libs/shared-utils
	url = https://github.com/example/shared-utils.git
	branch = main

[submodule "vendor/legacy"]
	path = vendor/legacy
	url = https://github.com/example/legacy.git
`)

	submodules, err := ParseGitmodules(content)
	require.NoError(t, err)
	require.Len(t, submodules, 2)

	assert.Equal(t, "libs/shared-utils", submodules[0].Name)
	assert.Equal(t, "libs/shared-utils", submodules[0].Path)
	assert.Equal(t, "https://github.com/example/shared-utils.git", submodules[0].URL)
	assert.Equal(t, "main", submodules[0].Branch)

	assert.Equal(t, "vendor/legacy", submodules[1].Name)
	assert.Empty(t, submodules[1].Branch)
}

func TestParseGitmodulesEmptyAndComments(t *testing.T) {
	got, err := ParseGitmodules(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = ParseGitmodules([]byte("# nothing but comments\n\n# here\n"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseGitmodulesDropsPathlessSections(t *testing.T) {
	content := []byte(`[submodule "broken"]
	url = https://github.com/example/broken.git

[submodule "ok"]
	path = ok
	url = https://github.com/example/ok.git
`)

	submodules, err := ParseGitmodules(content)
	require.NoError(t, err)
	require.Len(t, submodules, 1)
	assert.Equal(t, "ok", submodules[0].Name)
}

func TestParseGitmodulesToleratesJunkLines(t *testing.T) {
	content := []byte(`[submodule "x"]
	path = x
	url = https://example.com/x.git
	not-a-kv-line
	= orphaned value
`)

	submodules, err := ParseGitmodules(content)
	require.NoError(t, err)
	require.Len(t, submodules, 1)
	assert.Equal(t, "x", submodules[0].Path)
}

func TestIsInitialized(t *testing.T) {
	t.Run("populated", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package m"), 0o644))
		assert.True(t, IsInitialized(dir))
	})

	t.Run("empty dir", func(t *testing.T) {
		assert.False(t, IsInitialized(t.TempDir()))
	})

	t.Run("only .git", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: elsewhere"), 0o644))
		assert.False(t, IsInitialized(dir))
	})

	t.Run("missing", func(t *testing.T) {
		assert.False(t, IsInitialized(filepath.Join(t.TempDir(), "nope")))
	})
}

func TestGetCommitHashViaGitFile(t *testing.T) {
	root := t.TempDir()

	// Fake a module gitdir with a detached HEAD.
	gitdir := filepath.Join(root, ".git", "modules", "libs", "util")
	require.NoError(t, os.MkdirAll(gitdir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(gitdir, "HEAD"),
		[]byte("0123456789abcdef0123456789abcdef01234567\n"), 0o644))

	sub := filepath.Join(root, "libs", "util")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, ".git"),
		[]byte("gitdir: ../../.git/modules/libs/util\n"), 0o644))

	hash, err := GetCommitHash(root, sub)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", hash)
}

func TestGetCommitHashSymbolicRef(t *testing.T) {
	root := t.TempDir()
	gitdir := filepath.Join(root, ".git", "modules", "sub")
	require.NoError(t, os.MkdirAll(gitdir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(gitdir, "HEAD"),
		[]byte("ref: refs/heads/main\n"), 0o644))

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	_, err := GetCommitHash(root, sub)
	assert.Error(t, err)
}

func TestMatchesPattern(t *testing.T) {
	cases := []struct {
		name, path       string
		include, exclude []string
		want             bool
	}{
		{name: "lib", path: "libs/lib", want: true},
		{name: "lib", path: "libs/lib", include: []string{"lib"}, want: true},
		{name: "lib", path: "libs/lib", include: []string{"other"}, want: false},
		{name: "lib", path: "libs/lib", exclude: []string{"lib"}, want: false},
		{name: "lib", path: "libs/lib", include: []string{"lib"}, exclude: []string{"lib"}, want: false},
		{name: "lib", path: "libs/lib", include: []string{"libs/*"}, want: true},
		{name: "legacy-v1", path: "vendor/legacy-v1", exclude: []string{"*legacy*"}, want: false},
		{name: "core", path: "modules/core", include: []string{"*/core"}, want: true},
	}
	for _, tc := range cases {
		got := MatchesPattern(tc.name, tc.path, tc.include, tc.exclude)
		assert.Equal(t, tc.want, got, "name %q include %v exclude %v", tc.name, tc.include, tc.exclude)
	}
}

func TestDiscoverSubmodulesDisabled(t *testing.T) {
	got, err := DiscoverSubmodules(t.TempDir(), config.SubmoduleConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDiscoverSubmodulesNoGitmodules(t *testing.T) {
	got, err := DiscoverSubmodules(t.TempDir(), config.SubmoduleConfig{Enabled: true})
	require.NoError(t, err)
	assert.Empty(t, got)
}

// fixtureSubmodule writes a .gitmodules entry and (optionally) a
// populated working tree for it.
func fixtureSubmodule(t *testing.T, root, name string, populate bool) {
	t.Helper()

	gm := filepath.Join(root, ".gitmodules")
	entry := "[submodule \"" + name + "\"]\n\tpath = " + name + "\n\turl = https://example.com/" + name + ".git\n"
	existing, _ := os.ReadFile(gm)
	require.NoError(t, os.WriteFile(gm, append(existing, []byte(entry)...), 0o644))

	if populate {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "lib.go"), []byte("package lib\n"), 0o644))
	}
}

func TestDiscoverSubmodules(t *testing.T) {
	root := t.TempDir()
	fixtureSubmodule(t, root, "libs/ready", true)
	fixtureSubmodule(t, root, "libs/ghost", false)

	got, err := DiscoverSubmodules(root, config.SubmoduleConfig{Enabled: true, Recursive: true})
	require.NoError(t, err)
	require.Len(t, got, 2)

	byName := map[string]SubmoduleInfo{}
	for _, sm := range got {
		byName[sm.Name] = sm
	}
	assert.True(t, byName["libs/ready"].Initialized)
	assert.False(t, byName["libs/ghost"].Initialized)
}

func TestDiscoverSubmodulesExclude(t *testing.T) {
	root := t.TempDir()
	fixtureSubmodule(t, root, "keep", true)
	fixtureSubmodule(t, root, "skip", true)

	got, err := DiscoverSubmodules(root, config.SubmoduleConfig{
		Enabled: true,
		Exclude: []string{"skip"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].Name)
}

func TestDiscoverSubmodulesNested(t *testing.T) {
	root := t.TempDir()
	fixtureSubmodule(t, root, "outer", true)
	// The outer submodule itself declares an inner one.
	fixtureSubmodule(t, filepath.Join(root, "outer"), "inner", true)

	got, err := DiscoverSubmodules(root, config.SubmoduleConfig{Enabled: true, Recursive: true})
	require.NoError(t, err)
	require.Len(t, got, 2)

	paths := []string{got[0].Path, got[1].Path}
	assert.Contains(t, paths, "outer")
	assert.Contains(t, paths, filepath.Join("outer", "inner"))
}

func TestDiscoverSubmodulesNonRecursive(t *testing.T) {
	root := t.TempDir()
	fixtureSubmodule(t, root, "outer", true)
	fixtureSubmodule(t, filepath.Join(root, "outer"), "inner", true)

	got, err := DiscoverSubmodules(root, config.SubmoduleConfig{Enabled: true, Recursive: false})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "outer", got[0].Name)
}

func TestScanIncludesSubmoduleFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))
	fixtureSubmodule(t, root, "libs/util", true)

	s, err := New()
	require.NoError(t, err)

	results, err := s.Scan(context.Background(), &ScanOptions{
		RootDir:    root,
		Submodules: &config.SubmoduleConfig{Enabled: true, Recursive: true},
	})
	require.NoError(t, err)
	files := collect(t, results)

	assert.Contains(t, files, "main.go")
	assert.Contains(t, files, filepath.Join("libs", "util", "lib.go"),
		"submodule files carry the full super-repo path")
}

func TestScanSkipsSubmodulesWhenDisabled(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))
	fixtureSubmodule(t, root, "libs/util", true)

	s, err := New()
	require.NoError(t, err)

	results, err := s.Scan(context.Background(), &ScanOptions{RootDir: root})
	require.NoError(t, err)
	files := collect(t, results)

	// Without submodule discovery the walk still descends into the
	// directory since it's ordinary tree content; .gitmodules itself
	// is just a text file. Only the discovery-specific metadata path
	// is off. The file should therefore still be present.
	assert.Contains(t, files, filepath.Join("libs", "util", "lib.go"))
}
