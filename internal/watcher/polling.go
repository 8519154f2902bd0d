package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher detects changes by rescanning the tree on an interval
// and diffing mtime/size against the previous pass. It is the fallback
// for filesystems where fsnotify can't deliver events.
type PollingWatcher struct {
	interval time.Duration
	mu       sync.RWMutex
	seen     map[string]fileSnapshot
	events   chan FileEvent
	errors   chan error
	stopCh   chan struct{}
	stopped  bool
	rootPath string
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPollingWatcher builds a watcher that rescans every interval.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	return &PollingWatcher{
		interval: interval,
		seen:     make(map[string]fileSnapshot),
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start establishes the baseline snapshot and then diffs on each tick
// until the context ends or Stop is called.
func (p *PollingWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	p.rootPath = absPath

	if err := p.baseline(); err != nil {
		return fmt.Errorf("perform initial scan: %w", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.diff(); err != nil {
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

// Stop shuts the watcher down and closes both channels.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events is the change stream.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors carries non-fatal scan errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}

// walk visits every entry under the root, handing each relative path
// and snapshot to fn. Unreadable entries are skipped silently.
func (p *PollingWatcher) walk(fn func(relPath string, snap fileSnapshot)) error {
	return filepath.WalkDir(p.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		relPath, err := filepath.Rel(p.rootPath, path)
		if err != nil || relPath == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		fn(relPath, fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		})
		return nil
	})
}

// baseline records the starting state without emitting events.
func (p *PollingWatcher) baseline() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.walk(func(relPath string, snap fileSnapshot) {
		p.seen[relPath] = snap
	})
}

// diff compares the tree against the previous snapshot, emitting
// create/modify/delete events and replacing the snapshot.
func (p *PollingWatcher) diff() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := make(map[string]fileSnapshot)
	err := p.walk(func(relPath string, snap fileSnapshot) {
		current[relPath] = snap

		prev, existed := p.seen[relPath]
		switch {
		case !existed:
			p.emit(FileEvent{Path: relPath, Operation: OpCreate, IsDir: snap.isDir, Timestamp: time.Now()})
		case prev.modTime != snap.modTime || prev.size != snap.size:
			p.emit(FileEvent{Path: relPath, Operation: OpModify, IsDir: snap.isDir, Timestamp: time.Now()})
		}
	})
	if err != nil {
		return fmt.Errorf("walk directory for changes: %w", err)
	}

	for path, snap := range p.seen {
		if _, still := current[path]; !still {
			p.emit(FileEvent{Path: path, Operation: OpDelete, IsDir: snap.isDir, Timestamp: time.Now()})
		}
	}

	p.seen = current
	return nil
}

// emit must be called with the lock held.
func (p *PollingWatcher) emit(event FileEvent) {
	if p.stopped {
		return
	}
	select {
	case p.events <- event:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()),
		)
	}
}
