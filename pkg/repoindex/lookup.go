package repoindex

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/blevesearch/bleve/v2"
)

// Result is one ranked lookup hit.
type Result struct {
	Path    string
	Summary string
	Score   float64
}

// Lookup returns entries ranked by textual relevance to the query.
// Stale entries are absent from the search index and so never returned.
func (ix *Index) Lookup(query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = limit
	req.Fields = []string{"path"}

	res, err := ix.search.Search(req)
	if err != nil {
		return nil, fmt.Errorf("index lookup failed: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		entry, ok := ix.entries[hit.ID]
		if !ok || entry.Stale {
			continue
		}
		results = append(results, Result{
			Path:    entry.Path,
			Summary: entry.Summary,
			Score:   hit.Score,
		})
	}
	return results, nil
}

// Definition is one symbol declaration site.
type Definition struct {
	Path string
	Line int
	Text string
}

// declarationPatterns builds the declaration-form regexes for a symbol.
// Covers Go, Python, JS/TS and Rust declaration syntax, which is enough to
// locate code the goal names by identifier.
func declarationPatterns(symbol string) []*regexp.Regexp {
	quoted := regexp.QuoteMeta(symbol)
	forms := []string{
		`^\s*func\s+(\(\s*\w+\s+[^)]*\)\s*)?` + quoted + `\s*[(\[]`, // Go func / method
		`^\s*type\s+` + quoted + `\b`,                               // Go type
		`^\s*(const|var)\s+` + quoted + `\b`,                        // Go const/var
		`^\s*(def|class)\s+` + quoted + `\b`,                        // Python
		`^\s*(function|class|const|let|var)\s+` + quoted + `\b`,     // JS/TS
		`^\s*(pub\s+)?(fn|struct|enum|trait)\s+` + quoted + `\b`,    // Rust
	}

	patterns := make([]*regexp.Regexp, 0, len(forms))
	for _, form := range forms {
		if re, err := regexp.Compile(form); err == nil {
			patterns = append(patterns, re)
		}
	}
	return patterns
}

// LookupDefinition locates declaration sites for a symbol by pattern search
// across tracked files. Unreadable files are skipped.
func (ix *Index) LookupDefinition(symbol string) ([]Definition, error) {
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}
	patterns := declarationPatterns(symbol)

	ix.mu.RLock()
	paths := make([]string, 0, len(ix.entries))
	for p, e := range ix.entries {
		if !e.Stale {
			paths = append(paths, p)
		}
	}
	ix.mu.RUnlock()
	sort.Strings(paths)

	var defs []Definition
	for _, rel := range paths {
		f, err := os.Open(filepath.Join(ix.root, rel))
		if err != nil {
			continue
		}

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			for _, re := range patterns {
				if re.MatchString(line) {
					defs = append(defs, Definition{Path: rel, Line: lineNo, Text: line})
					break
				}
			}
		}
		f.Close()
	}

	return defs, nil
}
