// Package watcher watches a repository for changes and feeds the
// incremental indexer.
//
// The hybrid strategy uses fsnotify where native events work and falls
// back to directory polling where they don't (network mounts, some
// container volumes). Events are coalesced per path within a debounce
// window, so an IDE save-storm or git checkout becomes one batch, and
// filtered through the repo's .gitignore before they reach consumers.
package watcher
