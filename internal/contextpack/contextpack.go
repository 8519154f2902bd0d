// Package contextpack implements named, reusable scope presets: user-authored
// JSON files under <root>/.pampa/contextpacks/*.json that bundle a default
// set of search scope filters so a caller can opt into them by name instead
// of repeating the same flags on every search.
//
// This package follows the general "project vs. user config layering"
// pattern in internal/config, stores packs as JSON loaded by name, and
// uses the same atomic-replace-on-save discipline as internal/codemap and
// internal/manifest.
package contextpack

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pampaerrors "github.com/lemon07r/pampax/internal/errors"
)

// dirName is the on-disk directory holding context pack files, relative to
// the project's .pampa data directory.
const dirName = "contextpacks"

// Pack is a named, reusable bundle of default search scope filters:
// `{ name, description?, path_glob?, tags?, lang?, reranker?,
// hybrid?, bm25?, symbol_boost? }`.
type Pack struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	PathGlob    []string `json:"path_glob,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Lang        []string `json:"lang,omitempty"`
	Reranker    string   `json:"reranker,omitempty"` // "off" | "transformers" | "api"
	Hybrid      *bool    `json:"hybrid,omitempty"`
	BM25        *bool    `json:"bm25,omitempty"`
	SymbolBoost *bool    `json:"symbol_boost,omitempty"`
}

// dir resolves the context pack directory for a project's .pampa data dir.
func dir(dataDir string) string {
	return filepath.Join(dataDir, dirName)
}

// Load reads a single named context pack from <dataDir>/contextpacks/<name>.json.
func Load(dataDir, name string) (*Pack, error) {
	path := filepath.Join(dir(dataDir), name+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, pampaerrors.New(pampaerrors.ErrCodeFileNotFound, "context pack not found", err).
			WithDetail("name", name).
			WithDetail("path", path).
			WithSuggestion("run `pampax contextpack list` to see available packs")
	}
	if err != nil {
		return nil, pampaerrors.New(pampaerrors.ErrCodeFilePermission, "reading context pack", err).
			WithDetail("path", path)
	}

	var pack Pack
	if err := json.Unmarshal(data, &pack); err != nil {
		return nil, pampaerrors.New(pampaerrors.ErrCodeFileCorrupt, "parsing context pack", err).
			WithDetail("path", path)
	}
	if pack.Name == "" {
		pack.Name = name
	}
	return &pack, nil
}

// List enumerates every context pack under <dataDir>/contextpacks, sorted
// by name. A missing directory yields an empty list, not an error -- no
// packs have been authored yet.
func List(dataDir string) ([]*Pack, error) {
	entries, err := os.ReadDir(dir(dataDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, pampaerrors.New(pampaerrors.ErrCodeFilePermission, "listing context packs", err).
			WithDetail("path", dir(dataDir))
	}

	var packs []*Pack
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		pack, err := Load(dataDir, name)
		if err != nil {
			continue // skip unreadable/corrupt packs rather than failing the whole listing
		}
		packs = append(packs, pack)
	}
	sort.Slice(packs, func(i, j int) bool { return packs[i].Name < packs[j].Name })
	return packs, nil
}

// Save writes pack to <dataDir>/contextpacks/<pack.Name>.json, creating the
// directory if necessary, and atomically replacing any prior file.
func Save(dataDir string, pack *Pack) error {
	if pack.Name == "" {
		return pampaerrors.New(pampaerrors.ErrCodeInvalidInput, "context pack name is required", nil)
	}
	if err := os.MkdirAll(dir(dataDir), 0o755); err != nil {
		return pampaerrors.New(pampaerrors.ErrCodeFilePermission, "creating contextpacks directory", err)
	}

	data, err := json.MarshalIndent(pack, "", "  ")
	if err != nil {
		return pampaerrors.New(pampaerrors.ErrCodeInternal, "marshaling context pack", err)
	}

	path := filepath.Join(dir(dataDir), pack.Name+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return pampaerrors.New(pampaerrors.ErrCodeFilePermission, "writing context pack", err).WithDetail("path", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return pampaerrors.New(pampaerrors.ErrCodeFilePermission, "replacing context pack", err).WithDetail("path", path)
	}
	return nil
}
