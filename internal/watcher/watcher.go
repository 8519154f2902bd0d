package watcher

import (
	"context"
	"time"
)

// Operation is the kind of filesystem change an event reports.
type Operation int

const (
	// OpCreate is a new file or directory.
	OpCreate Operation = iota
	// OpModify is a content change to an existing file.
	OpModify
	// OpDelete is a removal.
	OpDelete
	// OpRename is a move; OldPath carries the previous name.
	OpRename
	// OpGitignoreChange is an edit to a .gitignore file. The indexer
	// reconciles so newly ignored files drop out and newly unignored
	// files come in.
	OpGitignoreChange
	// OpConfigChange is an edit to .pampax.yaml, triggering a reload
	// of exclude patterns followed by reconciliation.
	OpConfigChange
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpGitignoreChange:
		return "GITIGNORE_CHANGE"
	case OpConfigChange:
		return "CONFIG_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one debounced filesystem change.
type FileEvent struct {
	// Path is repo-relative.
	Path string

	// OldPath is the source of a rename, empty otherwise.
	OldPath string

	Operation Operation

	// IsDir marks directory events.
	IsDir bool

	// Timestamp is when the change was observed.
	Timestamp time.Time
}

// Watcher watches a directory tree and emits debounced FileEvents.
type Watcher interface {
	// Start begins watching path recursively until Stop or context
	// cancellation.
	Start(ctx context.Context, path string) error

	// Stop shuts the watcher down. Safe to call more than once.
	Stop() error

	// Events is the debounced event stream; closed on stop.
	Events() <-chan FileEvent

	// Errors carries non-fatal watcher errors; closed on stop.
	Errors() <-chan error
}

// Options tunes watcher behavior.
type Options struct {
	// DebounceWindow is how long to coalesce a path's events before
	// emitting. Default 200ms.
	DebounceWindow time.Duration

	// PollInterval drives the polling fallback. Default 5s.
	PollInterval time.Duration

	// EventBufferSize is the event channel capacity. Default 1000.
	EventBufferSize int

	// IgnorePatterns are extra gitignore-syntax patterns applied on
	// top of the repo's own .gitignore.
	IgnorePatterns []string
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 1000,
	}
}

// Validate checks the options. Every field has a working default, so
// there is currently nothing to reject.
func (o Options) Validate() error {
	return nil
}

// WithDefaults fills zero-valued fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = def.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = def.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = def.EventBufferSize
	}
	return o
}
