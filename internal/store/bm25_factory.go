package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// BM25Backend selects the lexical index implementation.
type BM25Backend string

const (
	// BM25BackendSQLite is FTS5 over WAL-mode SQLite: the default,
	// safe for concurrent processes.
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve is the bleve v2 engine. Its BoltDB store takes
	// an exclusive file lock, so one process at a time.
	BM25BackendBleve BM25Backend = "bleve"
)

// NewBM25IndexWithBackend builds a BM25Index at basePath (extension
// appended per backend: .db for SQLite, .bleve for bleve). An empty
// basePath yields an in-memory index for tests.
func NewBM25IndexWithBackend(basePath string, config BM25Config, backend string) (BM25Index, error) {
	switch backend {
	case string(BM25BackendSQLite), "":
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return NewSQLiteBM25Index(path, config)

	case string(BM25BackendBleve):
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveBM25Index(path, config)

	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// DetectBM25Backend infers the backend of an existing index from
// what's on disk; "" means no index yet.
func DetectBM25Backend(basePath string) BM25Backend {
	if fileExists(basePath + ".db") {
		return BM25BackendSQLite
	}
	if dirExists(basePath + ".bleve") {
		return BM25BackendBleve
	}
	return ""
}

// GetBM25IndexPath resolves the on-disk location for a backend.
func GetBM25IndexPath(dataDir string, backend string) string {
	basePath := filepath.Join(dataDir, "bm25")
	if backend == string(BM25BackendBleve) {
		return basePath + ".bleve"
	}
	return basePath + ".db"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
