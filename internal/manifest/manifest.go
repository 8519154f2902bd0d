// Package manifest implements the Merkle-like per-file hash registry: a
// flat map from file path to its whole-file SHA-1 and the SHA-1s of the
// chunks it last produced, persisted at <root>/.pampa/merkle.json.
//
// The reconciliation shape: diff "what's on disk now" against "what the
// store last saw": mirrors internal/index.ConsistencyChecker,
// generalized from existence checks to content-hash checks.
package manifest

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	pampaerrors "github.com/lemon07r/pampax/internal/errors"
)

const manifestRelPath = ".pampa/merkle.json"

// Entry records the last-seen state of one indexed file.
type Entry struct {
	ShaFile   string   `json:"shaFile"`
	ChunkShas []string `json:"chunkShas"`
}

// Manifest is the in-memory working copy of the per-file hash registry.
// It is not safe for concurrent use; callers serialize access the same way
// the indexer serializes per-project runs.
type Manifest struct {
	path    string
	entries map[string]Entry
}

// Load reads <root>/.pampa/merkle.json, returning an empty Manifest if the
// file does not exist yet (a fresh project has no manifest).
func Load(root string) (*Manifest, error) {
	path := filepath.Join(root, manifestRelPath)
	m := &Manifest{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, pampaerrors.New(pampaerrors.ErrCodeFilePermission, "reading merkle manifest", err).
			WithDetail("path", path)
	}

	if err := json.Unmarshal(data, &m.entries); err != nil {
		return nil, pampaerrors.New(pampaerrors.ErrCodeFileCorrupt, "parsing merkle manifest", err).
			WithDetail("path", path)
	}
	return m, nil
}

// Clone returns a deep copy of the Manifest so a caller can mutate a working
// copy and only persist it once the whole indexing run succeeds.
func (m *Manifest) Clone() *Manifest {
	clone := &Manifest{path: m.path, entries: make(map[string]Entry, len(m.entries))}
	for path, entry := range m.entries {
		chunkShas := make([]string, len(entry.ChunkShas))
		copy(chunkShas, entry.ChunkShas)
		clone.entries[path] = Entry{ShaFile: entry.ShaFile, ChunkShas: chunkShas}
	}
	return clone
}

// Get returns the stored entry for path and whether it exists.
func (m *Manifest) Get(path string) (Entry, bool) {
	entry, ok := m.entries[path]
	return entry, ok
}

// Unchanged reports whether path's current content hash matches the stored
// entry: the watch Coordinator skips the file entirely when this is true.
func (m *Manifest) Unchanged(path, shaFile string) bool {
	entry, ok := m.entries[path]
	return ok && entry.ShaFile == shaFile
}

// Put records (or overwrites) path's hash entry after a successful parse.
func (m *Manifest) Put(path string, shaFile string, chunkShas []string) {
	sorted := make([]string, len(chunkShas))
	copy(sorted, chunkShas)
	sort.Strings(sorted)
	m.entries[path] = Entry{ShaFile: shaFile, ChunkShas: sorted}
}

// Remove deletes path's entry, reporting whether the manifest actually
// changed.
func (m *Manifest) Remove(path string) (mutated bool) {
	if _, ok := m.entries[path]; !ok {
		return false
	}
	delete(m.entries, path)
	return true
}

// Paths returns every path currently tracked by the manifest.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.entries))
	for path := range m.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Save atomically replaces <root>/.pampa/merkle.json with the current
// working copy. Persistence happens once at the end of a run: all-or-
// nothing from the caller's perspective.
func (m *Manifest) Save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return pampaerrors.New(pampaerrors.ErrCodeFilePermission, "creating manifest directory", err)
	}

	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return pampaerrors.New(pampaerrors.ErrCodeInternal, "marshaling merkle manifest", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return pampaerrors.New(pampaerrors.ErrCodeFilePermission, "writing merkle manifest", err).
			WithDetail("path", tmp)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return pampaerrors.New(pampaerrors.ErrCodeFilePermission, "replacing merkle manifest", err).
			WithDetail("path", m.path)
	}
	return nil
}

// HashFile returns the SHA-1 hex digest of data, used for both whole-file
// and per-chunk shas.
func HashFile(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
