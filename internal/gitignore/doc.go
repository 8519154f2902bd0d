// Package gitignore compiles .gitignore patterns into matchers used
// by the scanner and watcher to keep ignored files out of the index.
//
// Supported syntax follows https://git-scm.com/docs/gitignore:
// wildcards (* ? **), rooted patterns (/build), directory-only
// patterns (build/), negations (!keep.log), character classes, and
// nested .gitignore files scoped to their directory.
//
//	m := gitignore.New()
//	m.AddPattern("*.log")
//	m.AddPattern("!important.log")
//	if m.Match("error.log", false) {
//	    // ignored
//	}
//
// Nested files attach with a base directory:
//
//	m.AddFromFile("/repo/.gitignore", "")
//	m.AddFromFile("/repo/src/.gitignore", "src")
package gitignore
