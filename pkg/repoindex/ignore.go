package repoindex

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/denormal/go-gitignore"
)

// Matcher decides which files are tracked by the index. It combines built-in
// patterns, .gitignore rules, .forgeignore rules, and config globs.
// Thread-safe: Reload acquires a write lock, the Should* methods a read lock.
type Matcher struct {
	mu             sync.RWMutex
	rootDir        string
	gitIgnore      gitignore.GitIgnore
	forgeIgnore    gitignore.GitIgnore
	customPatterns []string // doublestar globs from config
	maxFileSize    int64
}

// MatcherOptions configures the ignore matcher.
type MatcherOptions struct {
	RootDir        string
	CustomPatterns []string
	MaxFileSize    int64
}

// Directories never worth indexing, checked before any pattern matching.
var skipDirs = map[string]bool{
	".git": true, ".svn": true, ".hg": true,
	"node_modules": true, "__pycache__": true, "target": true,
	"vendor": true, ".idea": true, ".vscode": true,
	".venv": true, "venv": true, "dist": true,
	"coverage": true, ".cache": true,
}

// NewMatcher creates a matcher rooted at the repository directory.
func NewMatcher(options MatcherOptions) *Matcher {
	m := &Matcher{
		rootDir:        options.RootDir,
		customPatterns: options.CustomPatterns,
		maxFileSize:    options.MaxFileSize,
	}
	if m.maxFileSize <= 0 {
		m.maxFileSize = 1024 * 1024
	}

	m.gitIgnore = loadIgnoreFile(filepath.Join(options.RootDir, ".gitignore"), options.RootDir)
	m.forgeIgnore = loadIgnoreFile(filepath.Join(options.RootDir, ".forgeignore"), options.RootDir)

	return m
}

// ShouldIgnore reports whether a path is excluded from indexing.
// Accepts absolute paths or paths relative to the root.
func (m *Matcher) ShouldIgnore(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(m.rootDir, path)
	}
	rel, err := filepath.Rel(m.rootDir, abs)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	// State directory is never indexed.
	if rel == ".forge" || strings.HasPrefix(rel, ".forge/") {
		return true
	}

	for _, part := range strings.Split(rel, "/") {
		if skipDirs[part] {
			return true
		}
	}

	isDir := false
	if info, err := os.Stat(abs); err == nil {
		isDir = info.IsDir()
	}

	if m.matchesIgnoreRules(rel, isDir) {
		return true
	}

	// A pattern like "build/" matches the directory, not its contents, so
	// every ancestor directory must be checked as well. Paths arriving via
	// Update or the watcher skip the WalkDir pruning that would otherwise
	// catch this.
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		if m.matchesIgnoreRules(strings.Join(parts[:i], "/"), true) {
			return true
		}
	}

	return false
}

// matchesIgnoreRules checks one repo-relative path against the ignore files
// and the configured globs.
func (m *Matcher) matchesIgnoreRules(rel string, isDir bool) bool {
	if m.gitIgnore != nil {
		if match := m.gitIgnore.Relative(rel, isDir); match != nil && match.Ignore() {
			return true
		}
	}
	if m.forgeIgnore != nil {
		if match := m.forgeIgnore.Relative(rel, isDir); match != nil && match.Ignore() {
			return true
		}
	}
	for _, pattern := range m.customPatterns {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
	}
	return false
}

// ShouldIgnoreDir reports whether a directory should be skipped entirely
// during traversal.
func (m *Matcher) ShouldIgnoreDir(path string) bool {
	if skipDirs[filepath.Base(path)] {
		return true
	}
	return m.ShouldIgnore(path)
}

// TooLarge reports whether the file exceeds the size limit.
func (m *Matcher) TooLarge(size int64) bool {
	return size > m.maxFileSize
}

// Reload re-reads the ignore files from disk.
func (m *Matcher) Reload() {
	newGit := loadIgnoreFile(filepath.Join(m.rootDir, ".gitignore"), m.rootDir)
	newForge := loadIgnoreFile(filepath.Join(m.rootDir, ".forgeignore"), m.rootDir)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.gitIgnore = newGit
	m.forgeIgnore = newForge
}

func loadIgnoreFile(filePath, baseDir string) gitignore.GitIgnore {
	f, err := os.Open(filePath)
	if err != nil {
		return nil
	}
	defer f.Close()

	return gitignore.New(f, baseDir, nil)
}
