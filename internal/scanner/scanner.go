package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lemon07r/pampax/internal/gitignore"
)

// gitignoreCacheSize bounds the per-directory matcher cache so a
// long-running watcher process can't grow without limit.
const gitignoreCacheSize = 1000

// Scanner walks a repository and streams the files worth indexing,
// applying the directory deny-list, sensitive-file patterns, gitignore
// rules and binary detection along the way.
type Scanner struct {
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
	cacheMu        sync.RWMutex
}

// New builds a Scanner.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}
	return &Scanner{gitignoreCache: cache}, nil
}

// Scan streams every indexable file under opts.RootDir. The returned
// channel closes when the walk finishes.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	absRoot, err := resolveRoot(opts.RootDir)
	if err != nil {
		return nil, err
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make(chan ScanResult, workers*10)

	// Submodule discovery is best effort: a broken .gitmodules should
	// degrade to a plain scan, not kill the run.
	var submodulePaths []string
	if opts.Submodules != nil && opts.Submodules.Enabled {
		submodules, discoverErr := DiscoverSubmodules(absRoot, *opts.Submodules)
		if discoverErr != nil {
			slog.Warn("failed to discover submodules", slog.String("error", discoverErr.Error()))
		} else {
			for _, sm := range submodules {
				if !sm.Initialized {
					slog.Warn("skipping uninitialized submodule",
						slog.String("name", sm.Name),
						slog.String("path", sm.Path))
					continue
				}
				submodulePaths = append(submodulePaths, sm.Path)
				slog.Debug("discovered initialized submodule",
					slog.String("name", sm.Name),
					slog.String("path", sm.Path))
			}
		}
	}

	go func() {
		defer close(results)
		s.walkRoot(ctx, absRoot, opts, maxFileSize, results)
		for _, smPath := range submodulePaths {
			s.walkSubmodule(ctx, absRoot, smPath, opts, maxFileSize, results)
		}
	}()

	return results, nil
}

// ScanSubtree scans only one subtree, used for targeted gitignore
// reconciliation. Result paths stay relative to the project root.
func (s *Scanner) ScanSubtree(ctx context.Context, opts *ScanOptions, subtreePath string) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	absRoot, err := resolveRootLoose(opts.RootDir)
	if err != nil {
		return nil, err
	}

	subtreePath = strings.Trim(subtreePath, "/")
	if subtreePath == "" {
		return s.Scan(ctx, opts)
	}

	absSubtree := filepath.Join(absRoot, subtreePath)
	if !strings.HasPrefix(absSubtree, absRoot) {
		return nil, fmt.Errorf("subtree path outside root: %s", subtreePath)
	}

	info, err := os.Stat(absSubtree)
	if err != nil {
		if os.IsNotExist(err) {
			// A vanished subtree yields an empty stream.
			results := make(chan ScanResult)
			close(results)
			return results, nil
		}
		return nil, fmt.Errorf("failed to stat subtree: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("subtree path is not a directory: %s", absSubtree)
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make(chan ScanResult, workers*10)
	go func() {
		defer close(results)
		s.walk(ctx, walkParams{
			walkFrom:    absSubtree,
			relativeTo:  absRoot,
			patternRoot: absRoot,
			opts:        opts,
			maxFileSize: maxFileSize,
		}, results)
	}()

	return results, nil
}

func resolveRoot(rootDir string) (string, error) {
	absRoot, err := resolveRootLoose(rootDir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return "", fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("root path is not a directory: %s", absRoot)
	}
	return absRoot, nil
}

func resolveRootLoose(rootDir string) (string, error) {
	if rootDir == "" {
		rootDir = "."
	}
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return absRoot, nil
}

// walkParams parameterizes one tree walk. relativeTo anchors result
// paths; patternRoot anchors exclude-pattern and gitignore matching,
// which differs from relativeTo inside submodules.
type walkParams struct {
	walkFrom    string
	relativeTo  string
	patternRoot string
	opts        *ScanOptions
	maxFileSize int64
}

func (s *Scanner) walkRoot(ctx context.Context, absRoot string, opts *ScanOptions, maxFileSize int64, results chan<- ScanResult) {
	s.walk(ctx, walkParams{
		walkFrom:    absRoot,
		relativeTo:  absRoot,
		patternRoot: absRoot,
		opts:        opts,
		maxFileSize: maxFileSize,
	}, results)
}

func (s *Scanner) walkSubmodule(ctx context.Context, absRoot, submodulePath string, opts *ScanOptions, maxFileSize int64, results chan<- ScanResult) {
	submoduleAbs := filepath.Join(absRoot, submodulePath)
	err := filepath.WalkDir(submoduleAbs, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if walkErr != nil {
			return nil
		}

		relFromSubmodule, err := filepath.Rel(submoduleAbs, path)
		if err != nil || relFromSubmodule == "." {
			return nil
		}

		if d.IsDir() {
			// A submodule carries its own .git, which is never indexed.
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			if s.shouldExcludeDir(relFromSubmodule, opts) {
				return filepath.SkipDir
			}
			return nil
		}

		fi := s.examine(path, relFromSubmodule, submoduleAbs, d, opts, maxFileSize)
		if fi == nil {
			return nil
		}
		// Result paths carry the submodule prefix so chunks point at
		// the right place in the super-repo.
		fi.Path = filepath.Join(submodulePath, relFromSubmodule)

		select {
		case results <- ScanResult{File: fi}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		slog.Warn("error scanning submodule",
			slog.String("submodule", submodulePath),
			slog.String("error", err.Error()))
	}
}

func (s *Scanner) walk(ctx context.Context, p walkParams, results chan<- ScanResult) {
	err := filepath.WalkDir(p.walkFrom, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if walkErr != nil {
			return nil
		}

		relPath, err := filepath.Rel(p.relativeTo, path)
		if err != nil {
			return nil
		}
		if relPath == "." {
			return nil
		}

		if d.IsDir() {
			if s.shouldExcludeDir(relPath, p.opts) {
				return filepath.SkipDir
			}
			return nil
		}

		fi := s.examine(path, relPath, p.patternRoot, d, p.opts, p.maxFileSize)
		if fi == nil {
			return nil
		}

		select {
		case results <- ScanResult{File: fi}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- ScanResult{Error: err}:
		case <-ctx.Done():
		}
	}
}

// examine applies all per-file filters and returns the FileInfo, or
// nil when the file should be skipped.
func (s *Scanner) examine(path, relPath, patternRoot string, d fs.DirEntry, opts *ScanOptions, maxFileSize int64) *FileInfo {
	if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
		return nil
	}
	if s.shouldExcludeFile(relPath, patternRoot, opts) {
		return nil
	}

	info, err := d.Info()
	if err != nil {
		return nil
	}
	if info.Size() > maxFileSize {
		return nil
	}
	if s.isBinaryFile(path) {
		return nil
	}

	language := DetectLanguage(relPath)
	if len(opts.IncludePatterns) > 0 && !s.matchesAnyPattern(relPath, opts.IncludePatterns) {
		return nil
	}

	return &FileInfo{
		Path:        relPath,
		AbsPath:     path,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: DetectContentType(language),
		Language:    language,
		IsGenerated: s.isGeneratedFile(path),
	}
}

func (s *Scanner) shouldExcludeDir(relPath string, opts *ScanOptions) bool {
	for _, pattern := range defaultExcludeDirs {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	return false
}

func (s *Scanner) shouldExcludeFile(relPath, absRoot string, opts *ScanOptions) bool {
	baseName := filepath.Base(relPath)

	for _, pattern := range sensitiveFilePatterns {
		if matchFilePattern(baseName, relPath, pattern) {
			return true
		}
	}
	for _, pattern := range defaultExcludeFiles {
		if matchFilePattern(baseName, relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchFilePattern(baseName, relPath, pattern) {
			return true
		}
	}

	if opts.RespectGitignore && s.isGitignored(relPath, absRoot) {
		return true
	}
	return false
}

// matchDirPattern matches a directory against one exclude pattern.
func matchDirPattern(relPath, pattern string) bool {
	// "**/name/**": the named component anywhere in the path.
	if strings.HasPrefix(pattern, "**/") {
		component := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		for _, part := range strings.Split(relPath, string(filepath.Separator)) {
			if part == component {
				return true
			}
		}
		return false
	}

	// "dir/**": the directory itself and everything under it. This is
	// the shape .pampax.yaml excludes usually take.
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+string(filepath.Separator))
	}

	return relPath == pattern || strings.HasPrefix(relPath, pattern+string(filepath.Separator))
}

// matchFilePattern matches a file against one exclude pattern.
func matchFilePattern(baseName, relPath, pattern string) bool {
	// "dir/**" rooted subtree patterns.
	if strings.HasSuffix(pattern, "/**") && !strings.HasPrefix(pattern, "**/") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return strings.HasPrefix(relPath, prefix+string(filepath.Separator))
	}

	// "docs/bugs/*.md": a directory component plus a filename glob.
	if strings.Contains(pattern, string(filepath.Separator)) && strings.Contains(pattern, "*") && !strings.HasPrefix(pattern, "**/") {
		if filepath.Dir(relPath) != filepath.Dir(pattern) {
			return false
		}
		matched, err := filepath.Match(filepath.Base(pattern), baseName)
		return err == nil && matched
	}

	// "**/x" patterns.
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		if strings.HasPrefix(suffix, "*.") {
			// "**/*.min.js" style extension matches.
			return strings.HasSuffix(baseName, strings.TrimPrefix(suffix, "*"))
		}
		parts := strings.Split(relPath, string(filepath.Separator))
		for i, part := range parts {
			if part == suffix || (i < len(parts)-1 && matchDirPattern(strings.Join(parts[:i+1], string(filepath.Separator)), pattern)) {
				return true
			}
		}
		return false
	}

	// "*x*" contains.
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") {
		middle := strings.TrimSuffix(strings.TrimPrefix(pattern, "*"), "*")
		return strings.Contains(strings.ToLower(baseName), strings.ToLower(middle))
	}

	// ".env*" dotfile prefixes.
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(pattern, ".") {
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	}

	// "*x" suffix, "x*" prefix, exact.
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(baseName, strings.TrimPrefix(pattern, "*"))
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	}
	return baseName == pattern
}

func (s *Scanner) matchesAnyPattern(relPath string, patterns []string) bool {
	baseName := filepath.Base(relPath)
	for _, pattern := range patterns {
		if matchFilePattern(baseName, relPath, pattern) {
			return true
		}
	}
	return false
}

// isBinaryFile sniffs the first 512 bytes for NUL.
func (s *Scanner) isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	return bytes.Contains(buf[:n], []byte{0})
}

// isGeneratedFile looks for generated-code markers near the top.
func (s *Scanner) isGeneratedFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 1024)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}

	head := string(buf[:n])
	for _, marker := range []string{
		"// Code generated",
		"// DO NOT EDIT",
		"/* DO NOT EDIT",
		"# Generated by",
		"<!-- AUTO-GENERATED -->",
		"// Generated by",
		"/* Generated by",
	} {
		if strings.Contains(head, marker) {
			return true
		}
	}
	return false
}

// isGitignored consults the root .gitignore plus every nested one
// along the path's directories.
func (s *Scanner) isGitignored(relPath, absRoot string) bool {
	if m := s.getGitignoreMatcher(absRoot, ""); m != nil && m.Match(relPath, false) {
		return true
	}

	currentDir := absRoot
	currentBase := ""
	for _, part := range strings.Split(filepath.Dir(relPath), string(filepath.Separator)) {
		if part == "." {
			continue
		}
		currentDir = filepath.Join(currentDir, part)
		if currentBase == "" {
			currentBase = part
		} else {
			currentBase = filepath.Join(currentBase, part)
		}

		if m := s.getGitignoreMatcher(currentDir, currentBase); m != nil && m.Match(relPath, false) {
			return true
		}
	}
	return false
}

func (s *Scanner) getGitignoreMatcher(dir, base string) *gitignore.Matcher {
	s.cacheMu.RLock()
	matcher, ok := s.gitignoreCache.Get(dir)
	s.cacheMu.RUnlock()
	if ok {
		return matcher
	}

	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		return nil
	}

	matcher = gitignore.New()
	if err := matcher.AddFromFile(gitignorePath, base); err != nil {
		return nil
	}

	s.cacheMu.Lock()
	s.gitignoreCache.Add(dir, matcher)
	s.cacheMu.Unlock()
	return matcher
}

// InvalidateGitignoreCache drops cached matchers after a .gitignore
// edit. Safe for concurrent use.
func (s *Scanner) InvalidateGitignoreCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gitignoreCache.Purge()
}

// defaultExcludeDirs are never descended into.
var defaultExcludeDirs = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/.pampa/**",
	"**/.pampax/**",
	"**/tmp/**",
	"**/temp/**",
	"**/.npm/**",
	"**/.yarn/**",
	"**/.Trash/**",
	"**/.aws/**",
	"**/.gcp/**",
	"**/.azure/**",
	"**/.ssh/**",
}

// defaultExcludeFiles are generated or lock artifacts with no search
// value.
var defaultExcludeFiles = []string{
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// sensitiveFilePatterns are never indexed regardless of configuration.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	"*password*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}
