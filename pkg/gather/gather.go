// Package gather assembles the context bundle handed to the change
// generator: manifest, relevant file excerpts, definitions for symbols
// named in the goal, and debug context from failed attempts, all under a
// token budget.
package gather

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"forge/pkg/history"
	"forge/pkg/logx"
	"forge/pkg/repoindex"
	"forge/pkg/utils"
)

// Item is one entry in a bundle, in render order.
type Item struct {
	Path    string
	Kind    string // "manifest", "definition", "file", "summary", "debug"
	Content string
	Tokens  int
}

// Bundle is the assembled context for one generation attempt.
type Bundle struct {
	Goal         string
	Items        []Item
	TokensUsed   int
	Budget       int
	ManifestOnly bool
	Truncated    bool // some candidate content was cut or dropped for budget
}

// DebugContext carries a failed attempt's evidence into the next gather:
// the diagnostics it produced and the full patch text, since the patch was
// reverted and is no longer visible anywhere else.
type DebugContext struct {
	Attempt      int
	Diagnostics  []string
	PatchSummary string
	PatchText    string
}

// manifestNames in detection order; the first found is always pinned.
var manifestNames = []string{"go.mod", "package.json", "Cargo.toml", "Makefile"}

// backtickSymbol extracts `Identifier` references from a goal.
var backtickSymbol = regexp.MustCompile("`([A-Za-z_][A-Za-z0-9_.]*)`")

const (
	candidateLimit = 20
	recencyWindow  = 50
	recencyBoost   = 2.0
	// minExcerptTokens is the smallest truncated excerpt worth including.
	minExcerptTokens = 128
	// definitionLines bounds the excerpt taken around a symbol definition.
	definitionLines = 40
)

// Gatherer builds bundles. It holds no per-call state; the same inputs
// always produce the same bundle.
type Gatherer struct {
	counter *utils.TokenCounter
	logger  *logx.Logger
}

// New creates a gatherer.
func New() *Gatherer {
	counter, err := utils.NewTokenCounter()
	if err != nil {
		logx.Warnf("tokenizer unavailable, using character estimates: %v", err)
	}
	return &Gatherer{counter: counter, logger: logx.NewLogger("gather")}
}

// Gather assembles a bundle for goal under the token budget. The manifest
// is pinned first, then debug context, then definitions for backticked
// symbols, then candidate files by relevance. When nothing beyond the
// manifest fits, the bundle is marked manifest-only.
func (g *Gatherer) Gather(idx *repoindex.Index, hist *history.Log, goal string, budget int, debug *DebugContext) (*Bundle, error) {
	b := &Bundle{Goal: goal, Budget: budget}
	remaining := budget

	// Pinned manifest. An oversized manifest is truncated rather than dropped.
	if item, ok := g.manifestItem(idx.Root()); ok {
		if item.Tokens > remaining {
			item.Content = g.counter.TruncateToTokenLimit(item.Content, remaining)
			item.Tokens = g.counter.CountTokens(item.Content)
			b.Truncated = true
		}
		b.add(item)
		remaining = budget - b.TokensUsed
	}

	if debug != nil {
		item := g.debugItem(debug)
		if item.Tokens > remaining {
			item.Content = g.counter.TruncateToTokenLimit(item.Content, remaining)
			item.Tokens = g.counter.CountTokens(item.Content)
			b.Truncated = true
		}
		if item.Tokens > 0 && item.Tokens <= remaining {
			b.add(item)
			remaining = budget - b.TokensUsed
		}
	}

	seen := make(map[string]bool, len(b.Items))
	for i := range b.Items {
		seen[b.Items[i].Path] = true
	}
	pinnedAdded := 0
	for _, item := range g.definitionItems(idx, goal) {
		if seen[item.Path] {
			continue
		}
		if item.Tokens > remaining {
			b.Truncated = true
			continue
		}
		b.add(item)
		seen[item.Path] = true
		pinnedAdded++
		remaining = budget - b.TokensUsed
	}

	candidates, err := g.rankCandidates(idx, hist, goal)
	if err != nil {
		return nil, err
	}

	included := 0
	for _, cand := range candidates {
		if seen[cand.path] {
			continue
		}
		if remaining < minExcerptTokens {
			b.Truncated = true
			break
		}
		item, cut, ok := g.fileItem(idx, cand.path, remaining)
		if !ok {
			continue
		}
		if cut {
			b.Truncated = true
		}
		b.add(item)
		seen[cand.path] = true
		remaining = budget - b.TokensUsed
		included++
	}

	b.ManifestOnly = included == 0 && pinnedAdded == 0
	g.logger.Debug("gathered %d items, %d/%d tokens (truncated=%v manifestOnly=%v)",
		len(b.Items), b.TokensUsed, budget, b.Truncated, b.ManifestOnly)
	return b, nil
}

func (b *Bundle) add(item Item) {
	b.Items = append(b.Items, item)
	b.TokensUsed += item.Tokens
}

// Render produces the text handed to the generator.
func (b *Bundle) Render() string {
	var sb strings.Builder
	for i := range b.Items {
		item := &b.Items[i]
		switch item.Kind {
		case "debug":
			sb.WriteString("## Previous attempt feedback\n")
		case "summary":
			fmt.Fprintf(&sb, "## Summary of %s\n", item.Path)
		case "definition":
			fmt.Fprintf(&sb, "## Definition in %s\n", item.Path)
		default:
			fmt.Fprintf(&sb, "## %s\n", item.Path)
		}
		sb.WriteString(item.Content)
		if !strings.HasSuffix(item.Content, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (g *Gatherer) manifestItem(root string) (Item, bool) {
	for _, name := range manifestNames {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		content := string(data)
		return Item{
			Path:    name,
			Kind:    "manifest",
			Content: content,
			Tokens:  g.counter.CountTokens(content),
		}, true
	}
	return Item{}, false
}

func (g *Gatherer) debugItem(debug *DebugContext) Item {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Attempt %d failed.\n", debug.Attempt)
	if debug.PatchSummary != "" {
		fmt.Fprintf(&sb, "Previous patch: %s\n", debug.PatchSummary)
	}
	if len(debug.Diagnostics) > 0 {
		sb.WriteString("Diagnostics:\n")
		for _, d := range debug.Diagnostics {
			fmt.Fprintf(&sb, "  %s\n", d)
		}
	}
	if debug.PatchText != "" {
		sb.WriteString("The change that produced these diagnostics (since reverted):\n")
		sb.WriteString(debug.PatchText)
		if !strings.HasSuffix(debug.PatchText, "\n") {
			sb.WriteString("\n")
		}
	}
	content := sb.String()
	return Item{Kind: "debug", Content: content, Tokens: g.counter.CountTokens(content)}
}

// definitionItems resolves backticked symbols in the goal to source
// excerpts around their definitions.
func (g *Gatherer) definitionItems(idx *repoindex.Index, goal string) []Item {
	matches := backtickSymbol.FindAllStringSubmatch(goal, -1)
	if len(matches) == 0 {
		return nil
	}

	symbols := make([]string, 0, len(matches))
	dedup := make(map[string]bool)
	for _, m := range matches {
		if !dedup[m[1]] {
			dedup[m[1]] = true
			symbols = append(symbols, m[1])
		}
	}
	sort.Strings(symbols)

	var items []Item
	for _, sym := range symbols {
		defs, err := idx.LookupDefinition(sym)
		if err != nil || len(defs) == 0 {
			continue
		}
		// First definition wins; multiple hits for one symbol are rare and
		// the candidate ranking can still pull in the rest.
		def := defs[0]
		excerpt, err := readExcerpt(filepath.Join(idx.Root(), def.Path), def.Line, definitionLines)
		if err != nil {
			g.logger.Debug("could not read definition excerpt for %s: %v", sym, err)
			continue
		}
		items = append(items, Item{
			Path:    def.Path,
			Kind:    "definition",
			Content: excerpt,
			Tokens:  g.counter.CountTokens(excerpt),
		})
	}
	return items
}

type candidate struct {
	path  string
	score float64
}

// rankCandidates orders index hits by relevance score plus a recency boost
// for files touched by recent results. Ties break on path so ranking is
// deterministic.
func (g *Gatherer) rankCandidates(idx *repoindex.Index, hist *history.Log, goal string) ([]candidate, error) {
	results, err := idx.Lookup(goal, candidateLimit)
	if err != nil {
		return nil, err
	}

	recent := recentPaths(hist)
	cands := make([]candidate, 0, len(results))
	for _, r := range results {
		score := r.Score
		if recent[r.Path] {
			score += recencyBoost
		}
		cands = append(cands, candidate{path: r.Path, score: score})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].path < cands[j].path
	})
	return cands, nil
}

// recentPaths collects file paths mentioned in recent result entries.
// History read failures degrade to no boost.
func recentPaths(hist *history.Log) map[string]bool {
	paths := make(map[string]bool)
	if hist == nil {
		return paths
	}
	cursor, err := hist.Recent(recencyWindow, history.KindResult)
	if err != nil {
		return paths
	}
	for {
		entry, ok := cursor.Next()
		if !ok {
			break
		}
		var payload struct {
			Paths []string `json:"paths"`
		}
		if err := json.Unmarshal(entry.Payload, &payload); err != nil {
			continue
		}
		for _, p := range payload.Paths {
			paths[p] = true
		}
	}
	return paths
}

// fileItem reads a candidate file and fits it into the remaining budget:
// full content when it fits, a truncated excerpt when close, the index
// summary as a last resort.
func (g *Gatherer) fileItem(idx *repoindex.Index, rel string, remaining int) (item Item, truncated, ok bool) {
	data, err := os.ReadFile(filepath.Join(idx.Root(), rel))
	if err != nil {
		g.logger.Debug("skipping unreadable candidate %s: %v", rel, err)
		return Item{}, false, false
	}
	content := string(data)
	tokens := g.counter.CountTokens(content)

	if tokens <= remaining {
		return Item{Path: rel, Kind: "file", Content: content, Tokens: tokens}, false, true
	}
	if remaining >= minExcerptTokens {
		cut := g.counter.TruncateToTokenLimit(content, remaining)
		return Item{Path: rel, Kind: "file", Content: cut, Tokens: g.counter.CountTokens(cut)}, true, true
	}
	if entry, found := idx.Get(rel); found && entry.Summary != "" {
		tok := g.counter.CountTokens(entry.Summary)
		if tok <= remaining {
			return Item{Path: rel, Kind: "summary", Content: entry.Summary, Tokens: tok}, true, true
		}
	}
	return Item{}, false, false
}

// readExcerpt returns up to n lines starting at 1-based line.
func readExcerpt(path string, line, n int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(data), "\n")
	start := line - 1
	if start < 0 {
		start = 0
	}
	if start >= len(lines) {
		return "", fmt.Errorf("line %d beyond end of %s", line, path)
	}
	end := start + n
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n"), nil
}
