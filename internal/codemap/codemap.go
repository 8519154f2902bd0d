// Package codemap serializes the git-committed lightweight symbol map: a
// pretty-printed, key-sorted JSON document at <root>/pampax.codemap.json
// that lets a fresh clone skip re-embedding chunks it can reproduce
// byte-for-byte.
//
// The node/edge shape generalizes from Go-only call/import edges to a
// multi-language chunk graph.
package codemap

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	pampaerrors "github.com/lemon07r/pampax/internal/errors"
)

const fileName = "pampax.codemap.json"

// NodeKind categorizes a symbol graph node.
type NodeKind string

const (
	NodeFunction NodeKind = "function"
	NodeMethod   NodeKind = "method"
	NodeClass    NodeKind = "class"
	NodePackage  NodeKind = "package"
)

// Node is one symbol in the codemap's graph.
type Node struct {
	ID        string   `json:"id"`
	Kind      NodeKind `json:"kind"`
	File      string   `json:"file"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
}

// EdgeType categorizes the relationship an Edge records. Only forward edges
// are stored; a reverse "called_by" index is never persisted, since it can
// always be derived from the forward one.
type EdgeType string

const (
	EdgeCalls   EdgeType = "calls"
	EdgeImports EdgeType = "imports"
)

// Edge is a directed relationship between two Nodes.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Type EdgeType `json:"type"`
}

// Graph is the forward-edge-only symbol graph. Save writes whatever graph
// AttachGraph last set; it does not build one itself.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Entry is one chunk's codemap record. Synonyms and Weights are
// user-authored fields: if a prior codemap already set them for this
// chunk's key, Merge preserves them even when the chunk's structural
// fields (Sha, Lines, ...) change.
type Entry struct {
	FilePath    string            `json:"filePath"`
	Symbol      string            `json:"symbol"`
	Sha         string            `json:"sha"`
	Lang        string            `json:"lang"`
	StartLine   int               `json:"startLine"`
	EndLine     int               `json:"endLine"`
	Tags        []string          `json:"tags,omitempty"`
	Intent      string            `json:"intent,omitempty"`
	Description string            `json:"description,omitempty"`
	Synonyms    []string          `json:"synonyms,omitempty"`
	Weights     map[string]float64 `json:"weights,omitempty"`
}

// Codemap is the document persisted at <root>/pampax.codemap.json.
type Codemap struct {
	Version string           `json:"version"`
	Entries map[string]Entry `json:"entries"`
	Graph   Graph            `json:"graph"`
}

const currentVersion = "1"

// Load reads <root>/pampax.codemap.json, returning an empty Codemap if the
// file does not exist.
func Load(root string) (*Codemap, error) {
	path := filepath.Join(root, fileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Codemap{Version: currentVersion, Entries: make(map[string]Entry)}, nil
	}
	if err != nil {
		return nil, pampaerrors.New(pampaerrors.ErrCodeFilePermission, "reading codemap", err).
			WithDetail("path", path)
	}

	var cm Codemap
	if err := json.Unmarshal(data, &cm); err != nil {
		return nil, pampaerrors.New(pampaerrors.ErrCodeFileCorrupt, "parsing codemap", err).
			WithDetail("path", path)
	}
	if cm.Entries == nil {
		cm.Entries = make(map[string]Entry)
	}
	return &cm, nil
}

// Merge folds fresh entries into the codemap, preserving any user-authored
// Synonyms/Weights already present for a key that fresh also touches.
func (cm *Codemap) Merge(fresh map[string]Entry) {
	for key, next := range fresh {
		if prev, ok := cm.Entries[key]; ok {
			if len(next.Synonyms) == 0 {
				next.Synonyms = prev.Synonyms
			}
			if len(next.Weights) == 0 {
				next.Weights = prev.Weights
			}
		}
		cm.Entries[key] = next
	}
}

// Remove deletes every entry for filePath, used when a file is deleted or
// no longer produces a given chunk.
func (cm *Codemap) Remove(filePath string) {
	for key, entry := range cm.Entries {
		if entry.FilePath == filePath {
			delete(cm.Entries, key)
		}
	}
}

// AttachGraph replaces the symbol graph attached to the codemap.
func (cm *Codemap) AttachGraph(g Graph) {
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		return g.Edges[i].To < g.Edges[j].To
	})
	cm.Graph = g
}

// Save writes the codemap to <root>/pampax.codemap.json as pretty-printed,
// key-sorted JSON so repeated runs over an unchanged index produce byte-
// identical git diffs, then atomically replaces any prior file.
func (cm *Codemap) Save(root string) error {
	if cm.Version == "" {
		cm.Version = currentVersion
	}

	data, err := marshalSorted(cm)
	if err != nil {
		return pampaerrors.New(pampaerrors.ErrCodeInternal, "marshaling codemap", err)
	}

	path := filepath.Join(root, fileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return pampaerrors.New(pampaerrors.ErrCodeFilePermission, "writing codemap", err).WithDetail("path", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return pampaerrors.New(pampaerrors.ErrCodeFilePermission, "replacing codemap", err).WithDetail("path", path)
	}
	return nil
}

// marshalSorted pretty-prints cm with map keys sorted, which encoding/json
// already guarantees for map[string]T, and indents nested structures two
// spaces to match JSON output conventions.
func marshalSorted(cm *Codemap) ([]byte, error) {
	return json.MarshalIndent(cm, "", "  ")
}
