package repoindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSummarizer produces deterministic summaries and counts calls.
type fakeSummarizer struct {
	calls atomic.Int64
}

func (f *fakeSummarizer) Summarize(_ context.Context, path, content string) (string, error) {
	f.calls.Add(1)
	return fmt.Sprintf("summary of %s (%d bytes)", path, len(content)), nil
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("summarizer unavailable")
}

func newTestIndex(t *testing.T, root string, sum Summarizer) *Index {
	t.Helper()
	matcher := NewMatcher(MatcherOptions{RootDir: root})
	ix, err := New(root, filepath.Join(root, ".forge"), matcher, sum, 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestBuildIndexesTrackedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, root, "lib/util.go", "package lib\n\nfunc Helper() {}\n")
	writeFile(t, root, "node_modules/dep.js", "ignored")

	sum := &fakeSummarizer{}
	ix := newTestIndex(t, root, sum)
	require.NoError(t, ix.Build(context.Background()))

	entries := ix.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "lib/util.go", entries[0].Path)
	assert.Equal(t, "main.go", entries[1].Path)
	assert.NotEmpty(t, entries[0].ContentHash)
	assert.Contains(t, entries[0].Summary, "lib/util.go")
}

func TestUpdateOnlyResummarizesChangedHashes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.go", "package b\n")

	sum := &fakeSummarizer{}
	ix := newTestIndex(t, root, sum)
	require.NoError(t, ix.Build(context.Background()))
	require.Equal(t, int64(2), sum.calls.Load())

	// No changes: no new summarization calls, entries content-identical.
	before := ix.Entries()
	require.NoError(t, ix.Update(context.Background(), []string{"a.go", "b.go"}))
	assert.Equal(t, int64(2), sum.calls.Load())
	assert.Equal(t, before, ix.Entries())

	// One change: exactly one new call.
	writeFile(t, root, "a.go", "package a\n\nfunc Changed() {}\n")
	require.NoError(t, ix.Update(context.Background(), []string{"a.go", "b.go"}))
	assert.Equal(t, int64(3), sum.calls.Load())
}

func TestUpdateRemovesDeletedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "gone.go", "package gone\n")

	ix := newTestIndex(t, root, &fakeSummarizer{})
	require.NoError(t, ix.Build(context.Background()))
	require.Len(t, ix.Entries(), 1)

	require.NoError(t, os.Remove(filepath.Join(root, "gone.go")))
	require.NoError(t, ix.Update(context.Background(), []string{"gone.go"}))
	assert.Empty(t, ix.Entries())
}

func TestSummarizerFailureMarksStale(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "x.go", "package x\n")

	ix := newTestIndex(t, root, failingSummarizer{})
	require.NoError(t, ix.Build(context.Background()))

	entry, ok := ix.Get("x.go")
	require.True(t, ok)
	assert.True(t, entry.Stale)

	// Stale entries are excluded from lookup.
	results, err := ix.Lookup("package", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLookupRanksByRelevance(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "auth.go", "package auth\n\n// Login validates user credentials against the store.\nfunc Login() {}\n")
	writeFile(t, root, "math.go", "package math\n\nfunc Add(a, b int) int { return a + b }\n")

	ix := newTestIndex(t, root, &fakeSummarizer{})
	require.NoError(t, ix.Build(context.Background()))

	results, err := ix.Lookup("login credentials", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "auth.go", results[0].Path)
}

func TestLookupDefinition(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "svc.go", "package svc\n\ntype Service struct {}\n\nfunc (s *Service) Start() error { return nil }\n\nfunc NewService() *Service { return nil }\n")

	ix := newTestIndex(t, root, &fakeSummarizer{})
	require.NoError(t, ix.Build(context.Background()))

	defs, err := ix.LookupDefinition("Service")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "svc.go", defs[0].Path)
	assert.Equal(t, 3, defs[0].Line)

	defs, err = ix.LookupDefinition("NewService")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, 7, defs[0].Line)
}

func TestPersistenceRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "p.go", "package p\n")

	ix := newTestIndex(t, root, &fakeSummarizer{})
	require.NoError(t, ix.Build(context.Background()))
	entry, ok := ix.Get("p.go")
	require.True(t, ok)

	// Reload into a fresh index without re-summarizing.
	sum2 := &fakeSummarizer{}
	ix2 := newTestIndex(t, root, sum2)
	loaded, err := ix2.Load()
	require.NoError(t, err)
	require.True(t, loaded)

	got, ok := ix2.Get("p.go")
	require.True(t, ok)
	assert.Equal(t, entry.Summary, got.Summary)
	assert.Equal(t, entry.ContentHash, got.ContentHash)
	assert.Equal(t, int64(0), sum2.calls.Load())

	// Search works from the reloaded state.
	results, err := ix2.Lookup("summary", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestLoadToleratesMissingState(t *testing.T) {
	root := t.TempDir()
	ix := newTestIndex(t, root, &fakeSummarizer{})

	// No state file: not an error, but the caller must be told to Build.
	loaded, err := ix.Load()
	assert.NoError(t, err)
	assert.False(t, loaded)
	assert.Empty(t, ix.Entries())
}

func TestLoadToleratesCorruptState(t *testing.T) {
	root := t.TempDir()
	stateDir := filepath.Join(root, ".forge")
	require.NoError(t, os.MkdirAll(stateDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "index.json"), []byte("{garbage"), 0644))

	ix := newTestIndex(t, root, &fakeSummarizer{})
	loaded, err := ix.Load()
	assert.NoError(t, err)
	assert.False(t, loaded)
	assert.Empty(t, ix.Entries())
}

func TestSyncDirty(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "d.go", "package d\n")

	sum := &fakeSummarizer{}
	ix := newTestIndex(t, root, sum)
	require.NoError(t, ix.Build(context.Background()))
	require.Equal(t, int64(1), sum.calls.Load())

	// External edit, then dirty-mark and resync.
	writeFile(t, root, "d.go", "package d\n\nfunc External() {}\n")
	ix.MarkDirty("d.go")
	require.NoError(t, ix.SyncDirty(context.Background()))
	assert.Equal(t, int64(2), sum.calls.Load())

	// Second sync with nothing dirty is a no-op.
	require.NoError(t, ix.SyncDirty(context.Background()))
	assert.Equal(t, int64(2), sum.calls.Load())
}

func TestMatcherIgnores(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.log\nbuild/\n"), 0644))

	m := NewMatcher(MatcherOptions{RootDir: root, CustomPatterns: []string{"**/*.tmp"}})

	assert.True(t, m.ShouldIgnore(filepath.Join(root, "debug.log")))
	assert.True(t, m.ShouldIgnore(filepath.Join(root, "build", "out.bin")))
	assert.True(t, m.ShouldIgnore(filepath.Join(root, "build", "deep", "out.bin")))
	assert.True(t, m.ShouldIgnore(filepath.Join(root, "sub", "scratch.tmp")))
	assert.True(t, m.ShouldIgnore(filepath.Join(root, ".forge", "index.json")))
	assert.True(t, m.ShouldIgnoreDir(filepath.Join(root, "node_modules")))
	assert.False(t, m.ShouldIgnore(filepath.Join(root, "main.go")))
}
