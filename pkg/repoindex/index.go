// Package repoindex maintains persistent per-file summaries of a repository
// and serves ranked lookups over them. Summaries are produced by an external
// summarization collaborator and regenerated only when file content changes.
package repoindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"golang.org/x/sync/errgroup"

	"forge/pkg/logx"
	"forge/pkg/utils"
)

// Entry is one indexed file. Path is unique within the index and relative
// to the repository root. Stale entries are excluded from lookups until a
// later update resolves them.
type Entry struct {
	Path        string `json:"path"`
	Summary     string `json:"summary"`
	ContentHash string `json:"content_hash"`
	Stale       bool   `json:"stale,omitempty"`
}

// Summarizer is the external collaborator producing per-file summaries.
type Summarizer interface {
	Summarize(ctx context.Context, path, content string) (string, error)
}

const indexFilename = "index.json"

// Index owns the entry table, the full-text search index over it, and the
// set of externally-dirtied paths pending resync.
type Index struct {
	mu         sync.RWMutex
	root       string
	statePath  string
	entries    map[string]*Entry
	search     bleve.Index
	matcher    *Matcher
	summarizer Summarizer
	workers    int
	dirty      map[string]bool
	logger     *logx.Logger
}

// New creates an index for the repository rooted at root, persisting under
// stateDir. workers bounds summarization parallelism.
func New(root, stateDir string, matcher *Matcher, summarizer Summarizer, workers int) (*Index, error) {
	search, err := bleve.NewMemOnly(buildSearchMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}
	if workers <= 0 {
		workers = 4
	}

	return &Index{
		root:       root,
		statePath:  filepath.Join(stateDir, indexFilename),
		entries:    make(map[string]*Entry),
		search:     search,
		matcher:    matcher,
		summarizer: summarizer,
		workers:    workers,
		dirty:      make(map[string]bool),
		logger:     logx.NewLogger("repoindex"),
	}, nil
}

type searchDoc struct {
	Path    string `json:"path"`
	Summary string `json:"summary"`
	Content string `json:"content"`
}

func buildSearchMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	summaryField := bleve.NewTextFieldMapping()
	summaryField.Store = false
	summaryField.IncludeInAll = true
	docMapping.AddFieldMappingsAt("summary", summaryField)

	contentField := bleve.NewTextFieldMapping()
	contentField.Store = false
	contentField.IncludeInAll = true
	docMapping.AddFieldMappingsAt("content", contentField)

	pathField := bleve.NewTextFieldMapping()
	pathField.Store = true
	pathField.IncludeInAll = true
	docMapping.AddFieldMappingsAt("path", pathField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Load restores persisted entries and rebuilds the in-memory search index
// from them. A missing or corrupt state file is not an error: the index
// starts empty and the caller should Build when loaded is false.
func (ix *Index) Load() (loaded bool, err error) {
	data, err := os.ReadFile(ix.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		ix.logger.Warn("failed to read index state, rebuilding: %v", err)
		return false, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		ix.logger.Warn("corrupt index state, rebuilding: %v", err)
		return false, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i := range entries {
		e := entries[i]
		ix.entries[e.Path] = &e
		if !e.Stale {
			if err := ix.indexDocLocked(&e); err != nil {
				ix.logger.Warn("failed to reindex %s: %v", e.Path, err)
			}
		}
	}
	ix.logger.Info("loaded %d index entries", len(ix.entries))
	return len(ix.entries) > 0, nil
}

// Save persists the entry table. A write failure is logged, not fatal.
func (ix *Index) Save() error {
	ix.mu.RLock()
	entries := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		entries = append(entries, *e)
	}
	ix.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return logx.Wrap(err, "failed to marshal index state")
	}
	if err := os.MkdirAll(filepath.Dir(ix.statePath), 0755); err != nil {
		return logx.Wrap(err, "failed to create state directory")
	}
	if err := os.WriteFile(ix.statePath, data, 0644); err != nil {
		return logx.Wrap(err, "failed to write index state")
	}
	return nil
}

// Build scans the repository and summarizes every tracked file. Existing
// entries with unchanged hashes are kept as-is, so Build doubles as a full
// resync. Unreadable files are skipped, never fatal.
func (ix *Index) Build(ctx context.Context) error {
	paths, err := ix.trackedPaths()
	if err != nil {
		return fmt.Errorf("failed to scan repository: %w", err)
	}
	return ix.Update(ctx, paths)
}

// Update re-summarizes only the given paths whose content hash changed.
// Deleted paths are removed from the index; unreadable paths are marked
// stale and excluded from lookups until resolved.
func (ix *Index) Update(ctx context.Context, changedPaths []string) error {
	type job struct {
		path    string
		content string
		hash    string
	}

	var jobs []job
	for _, rel := range changedPaths {
		abs := filepath.Join(ix.root, rel)

		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				ix.remove(rel)
				continue
			}
			ix.markStale(rel)
			ix.logger.Warn("unreadable file %s marked stale: %v", rel, err)
			continue
		}
		if info.IsDir() || ix.matcher.ShouldIgnore(abs) || ix.matcher.TooLarge(info.Size()) {
			continue
		}

		data, err := os.ReadFile(abs)
		if err != nil {
			ix.markStale(rel)
			ix.logger.Warn("unreadable file %s marked stale: %v", rel, err)
			continue
		}
		if utils.IsBinary(data) {
			continue
		}

		hash := utils.HashContent(data)
		ix.mu.RLock()
		existing, ok := ix.entries[rel]
		ix.mu.RUnlock()
		if ok && existing.ContentHash == hash && !existing.Stale {
			continue
		}

		jobs = append(jobs, job{path: rel, content: string(data), hash: hash})
	}

	if len(jobs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for _, j := range jobs {
		g.Go(func() error {
			summary, err := ix.summarizer.Summarize(gctx, j.path, j.content)
			if err != nil {
				// Summarization failure leaves the entry stale, not fatal.
				ix.markStale(j.path)
				ix.logger.Warn("failed to summarize %s: %v", j.path, err)
				return nil
			}

			entry := &Entry{Path: j.path, Summary: summary, ContentHash: j.hash}
			ix.mu.Lock()
			ix.entries[j.path] = entry
			err = ix.search.Index(j.path, searchDoc{Path: j.path, Summary: summary, Content: j.content})
			ix.mu.Unlock()
			if err != nil {
				ix.logger.Warn("failed to index %s for search: %v", j.path, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("index update failed: %w", err)
	}

	return ix.Save()
}

// indexDocLocked re-adds a persisted entry to the search index, reading
// current content from disk. Caller holds the write lock.
func (ix *Index) indexDocLocked(e *Entry) error {
	content := ""
	if data, err := os.ReadFile(filepath.Join(ix.root, e.Path)); err == nil && !utils.IsBinary(data) {
		content = string(data)
	}
	return ix.search.Index(e.Path, searchDoc{Path: e.Path, Summary: e.Summary, Content: content})
}

func (ix *Index) markStale(rel string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if e, ok := ix.entries[rel]; ok {
		e.Stale = true
	} else {
		ix.entries[rel] = &Entry{Path: rel, Stale: true}
	}
	_ = ix.search.Delete(rel)
}

func (ix *Index) remove(rel string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, rel)
	_ = ix.search.Delete(rel)
}

// trackedPaths walks the repository honoring the ignore matcher.
func (ix *Index) trackedPaths() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(ix.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			ix.logger.Warn("walk error at %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			if path != ix.root && ix.matcher.ShouldIgnoreDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if ix.matcher.ShouldIgnore(path) {
			return nil
		}
		rel, err := filepath.Rel(ix.root, path)
		if err != nil {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// Entries returns a snapshot of all entries, sorted by path.
func (ix *Index) Entries() []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entries := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// Get returns the entry for a path, if present.
func (ix *Index) Get(path string) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[path]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Root returns the repository root directory.
func (ix *Index) Root() string {
	return ix.root
}

// MarkDirty records a path as externally modified. The executive calls
// SyncDirty before the next gathering phase rather than trusting stale
// summaries.
func (ix *Index) MarkDirty(rel string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.dirty[rel] = true
}

// SyncDirty re-summarizes all dirtied paths and clears the dirty set.
func (ix *Index) SyncDirty(ctx context.Context) error {
	ix.mu.Lock()
	if len(ix.dirty) == 0 {
		ix.mu.Unlock()
		return nil
	}
	paths := make([]string, 0, len(ix.dirty))
	for p := range ix.dirty {
		paths = append(paths, p)
	}
	ix.dirty = make(map[string]bool)
	ix.mu.Unlock()

	sort.Strings(paths)
	ix.logger.Debug("resyncing %d externally modified paths", len(paths))
	return ix.Update(ctx, paths)
}

// Close releases the search index.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.search.Close()
}
