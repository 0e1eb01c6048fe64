package gather

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/pkg/history"
	"forge/pkg/repoindex"
)

type wordSummarizer struct{}

func (wordSummarizer) Summarize(_ context.Context, path, _ string) (string, error) {
	return "summary of " + path, nil
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func newTestIndex(t *testing.T, root string) *repoindex.Index {
	t.Helper()
	idx, err := repoindex.New(root, t.TempDir(), repoindex.NewMatcher(repoindex.MatcherOptions{RootDir: root}), wordSummarizer{}, 2)
	require.NoError(t, err)
	require.NoError(t, idx.Build(context.Background()))
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func seedRepo(t *testing.T) (string, *repoindex.Index) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module sample\n\ngo 1.24\n")
	writeFile(t, root, "server.go", "package sample\n\n// Server handles websocket connections.\nfunc StartServer() {}\n")
	writeFile(t, root, "client.go", "package sample\n\n// Client dials the server.\nfunc DialServer() {}\n")
	writeFile(t, root, "parser.go", "package sample\n\nfunc ParseConfig() {}\n")
	return root, newTestIndex(t, root)
}

func TestGatherPinsManifestFirst(t *testing.T) {
	_, idx := seedRepo(t)
	g := New()

	b, err := g.Gather(idx, nil, "fix the websocket server", 8000, nil)
	require.NoError(t, err)
	require.NotEmpty(t, b.Items)
	assert.Equal(t, "manifest", b.Items[0].Kind)
	assert.Equal(t, "go.mod", b.Items[0].Path)
	assert.LessOrEqual(t, b.TokensUsed, b.Budget)
}

func TestGatherIsDeterministic(t *testing.T) {
	_, idx := seedRepo(t)
	g := New()

	first, err := g.Gather(idx, nil, "fix the websocket server", 8000, nil)
	require.NoError(t, err)
	second, err := g.Gather(idx, nil, "fix the websocket server", 8000, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Render(), second.Render())
	assert.Equal(t, first.TokensUsed, second.TokensUsed)
}

func TestGatherRespectsBudget(t *testing.T) {
	root, idx := seedRepo(t)
	writeFile(t, root, "big.go", "package sample\n\n// server server server\n"+strings.Repeat("// padding line about the server\n", 400))
	require.NoError(t, idx.Update(context.Background(), []string{"big.go"}))

	g := New()
	b, err := g.Gather(idx, nil, "fix the websocket server", 500, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, b.TokensUsed, 500)
	assert.True(t, b.Truncated)
}

func TestGatherManifestOnlyFallback(t *testing.T) {
	_, idx := seedRepo(t)
	g := New()

	// Budget too small for any candidate beyond the manifest.
	b, err := g.Gather(idx, nil, "fix the websocket server", 40, nil)
	require.NoError(t, err)
	assert.True(t, b.ManifestOnly)
	assert.LessOrEqual(t, b.TokensUsed, 40)
	for _, item := range b.Items {
		assert.NotEqual(t, "file", item.Kind)
	}
}

func TestGatherResolvesBacktickedSymbols(t *testing.T) {
	_, idx := seedRepo(t)
	g := New()

	b, err := g.Gather(idx, nil, "rename `ParseConfig` to ParseSettings", 8000, nil)
	require.NoError(t, err)

	var found bool
	for _, item := range b.Items {
		if item.Kind == "definition" && item.Path == "parser.go" {
			found = true
			assert.Contains(t, item.Content, "func ParseConfig()")
		}
	}
	assert.True(t, found, "expected a definition item for ParseConfig")
}

func TestGatherAppendsDebugContext(t *testing.T) {
	_, idx := seedRepo(t)
	g := New()

	debug := &DebugContext{
		Attempt:      1,
		PatchSummary: "Rename StartServer.",
		Diagnostics:  []string{"server.go:4:1: error: undefined: StartServr"},
		PatchText:    "Rename StartServer.\n\n### FILE: server.go\n```\npackage server\n\nfunc StartServr() {}\n```\n",
	}
	b, err := g.Gather(idx, nil, "fix the websocket server", 8000, debug)
	require.NoError(t, err)

	rendered := b.Render()
	assert.Contains(t, rendered, "Previous attempt feedback")
	assert.Contains(t, rendered, "undefined: StartServr")
	assert.Contains(t, rendered, "Rename StartServer.")
	// The reverted patch body itself is shown, not just its summary line.
	assert.Contains(t, rendered, "func StartServr() {}")
}

func TestGatherRecencyBoost(t *testing.T) {
	root, idx := seedRepo(t)

	stateDir := t.TempDir()
	hist, err := history.Open(stateDir)
	require.NoError(t, err)
	defer hist.Close()

	entry, err := history.NewEntry(history.KindResult, map[string]any{
		"outcome": "accepted",
		"paths":   []string{"client.go"},
	})
	require.NoError(t, err)
	require.NoError(t, hist.Append(entry))

	g := New()
	boosted, err := g.Gather(idx, hist, "fix the websocket server", 8000, nil)
	require.NoError(t, err)
	plain, err := g.Gather(idx, nil, "fix the websocket server", 8000, nil)
	require.NoError(t, err)

	assert.Less(t, indexOfPath(boosted, "client.go"), indexOfPath(plain, "client.go"),
		"recently touched file should rank earlier")
	_ = root
}

func indexOfPath(b *Bundle, path string) int {
	for i := range b.Items {
		if b.Items[i].Path == path {
			return i
		}
	}
	return len(b.Items)
}

func TestReadExcerpt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\nd\n"), 0o644))

	got, err := readExcerpt(path, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, "b\nc", got)

	_, err = readExcerpt(path, 99, 2)
	assert.Error(t, err)
}
