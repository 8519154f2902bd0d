package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// RotatingWriter is an io.Writer that rotates its backing file once it
// grows past a size limit. Rotation shifts pampax.log to pampax.log.1,
// .1 to .2 and so on, dropping anything past maxFiles.
type RotatingWriter struct {
	path     string
	limit    int64
	maxFiles int

	mu       sync.Mutex
	file     *os.File
	size     int64
	syncEach bool
}

// NewRotatingWriter opens (or creates) the log file at path. maxSizeMB
// bounds the file size before rotation kicks in and maxFiles bounds how
// many rotated generations are kept. Per-write fsync starts enabled so a
// tail -f on the file sees entries as they happen.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:     path,
		limit:    int64(maxSizeMB) * 1024 * 1024,
		maxFiles: maxFiles,
		syncEach: true,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// SetImmediateSync toggles the fsync-after-every-write behavior. Turning
// it off trades tail visibility for throughput.
func (w *RotatingWriter) SetImmediateSync(enabled bool) {
	w.mu.Lock()
	w.syncEach = enabled
	w.mu.Unlock()
}

// Write appends p to the log file, rotating first when the write would
// push the file past its size limit. A failed rotation is reported on
// stderr and the write proceeds against the current file.
func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.limit {
		if rerr := w.rotate(); rerr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", rerr)
		}
	}

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.syncEach && err == nil {
		_ = w.file.Sync()
	}
	return
}

// Close closes the current log file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

// Sync flushes buffered log data to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// rotate closes the active file, shifts every numbered generation up by
// one (deleting those at or past maxFiles) and reopens a fresh file.
func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
		w.file = nil
	}

	base := filepath.Base(w.path)
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(w.path), base+".*"))
	if err != nil {
		return fmt.Errorf("list rotated logs: %w", err)
	}

	type generation struct {
		path string
		num  int
	}
	var gens []generation
	for _, m := range matches {
		num, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(m), base+"."))
		if err != nil {
			continue
		}
		gens = append(gens, generation{path: m, num: num})
	}

	// Highest generation first so renames never clobber each other.
	sort.Slice(gens, func(i, j int) bool { return gens[i].num > gens[j].num })

	for _, g := range gens {
		if g.num >= w.maxFiles {
			_ = os.Remove(g.path)
		} else {
			_ = os.Rename(g.path, fmt.Sprintf("%s.%d", w.path, g.num+1))
		}
	}

	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, w.path+".1"); err != nil {
			return fmt.Errorf("rotate log file: %w", err)
		}
	}

	w.size = 0
	return w.open()
}
