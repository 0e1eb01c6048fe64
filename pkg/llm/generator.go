package llm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"forge/pkg/config"
	"forge/pkg/logx"
)

const generatorSystemPrompt = `You are an automated code modification engine. You receive a goal and a
context bundle describing the relevant parts of a repository. Respond with
the complete new content of every file you change, using exactly this format:

### FILE: relative/path/to/file
` + "```" + `
<entire new file content>
` + "```" + `

To delete a file, emit:

### DELETE: relative/path/to/file

Start your response with one line summarizing the change. Emit only file
blocks after that line. Do not explain your reasoning. Every FILE block must
contain the complete file, not a fragment.`

// FileEdit is a single whole-file change within a Patch.
type FileEdit struct {
	Path    string
	Content string
	Delete  bool
}

// Patch is a parsed model response: a summary line plus whole-file edits.
type Patch struct {
	Summary string
	Edits   []FileEdit
}

// Generator turns a goal plus context bundle into a Patch via the model.
// It is the only component that holds a Client for change generation.
type Generator struct {
	client      Client
	tracker     *CostTracker
	maxTokens   int
	temperature float32
	logger      *logx.Logger
}

// NewGenerator creates a generator using the given client and model settings.
func NewGenerator(client Client, model *config.ModelConfig, tracker *CostTracker) *Generator {
	return &Generator{
		client:      client,
		tracker:     tracker,
		maxTokens:   model.MaxTokens,
		temperature: model.Temperature,
		logger:      logx.NewLogger("generator"),
	}
}

// Generate asks the model for a patch toward goal given the context bundle.
// The returned patch is parsed and validated but not applied.
func (g *Generator) Generate(ctx context.Context, goal, bundle string) (*Patch, error) {
	prompt := fmt.Sprintf("Goal:\n%s\n\nRepository context:\n%s", goal, bundle)

	resp, err := g.client.Complete(ctx, Request{
		System:      generatorSystemPrompt,
		Messages:    []Message{NewUserMessage(prompt)},
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return nil, err
	}
	if g.tracker != nil {
		g.tracker.Add(resp.Usage)
	}

	patch, err := ParsePatch(resp.Content)
	if err != nil {
		return nil, WrapError(ErrorTypeBadPrompt, err, "unparseable model response")
	}
	g.logger.Debug("generated patch: %s (%d edits)", patch.Summary, len(patch.Edits))
	return patch, nil
}

// ParsePatch extracts file blocks from a model response. The first
// non-marker line becomes the summary. Returns an error when no edits
// can be extracted.
func ParsePatch(response string) (*Patch, error) {
	patch := &Patch{}
	lines := strings.Split(response, "\n")

	i := 0
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		switch {
		case strings.HasPrefix(line, "### FILE:"):
			path := strings.TrimSpace(strings.TrimPrefix(line, "### FILE:"))
			content, next, err := parseFencedBlock(lines, i+1)
			if err != nil {
				return nil, fmt.Errorf("file block %q: %w", path, err)
			}
			if err := validateEditPath(path); err != nil {
				return nil, err
			}
			patch.Edits = append(patch.Edits, FileEdit{Path: path, Content: content})
			i = next
		case strings.HasPrefix(line, "### DELETE:"):
			path := strings.TrimSpace(strings.TrimPrefix(line, "### DELETE:"))
			if err := validateEditPath(path); err != nil {
				return nil, err
			}
			patch.Edits = append(patch.Edits, FileEdit{Path: path, Delete: true})
			i++
		default:
			if patch.Summary == "" && line != "" {
				patch.Summary = line
			}
			i++
		}
	}

	if len(patch.Edits) == 0 {
		return nil, fmt.Errorf("response contained no file blocks")
	}
	return patch, nil
}

// parseFencedBlock reads a ``` fenced block starting at or after lines[start].
// Returns the block content and the index after the closing fence.
func parseFencedBlock(lines []string, start int) (string, int, error) {
	i := start
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i >= len(lines) || !strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
		return "", 0, fmt.Errorf("expected opening fence")
	}
	i++
	var content []string
	for i < len(lines) {
		if strings.TrimSpace(lines[i]) == "```" {
			return strings.Join(content, "\n"), i + 1, nil
		}
		content = append(content, lines[i])
		i++
	}
	return "", 0, fmt.Errorf("unterminated fence")
}

func validateEditPath(path string) error {
	if path == "" {
		return fmt.Errorf("empty edit path")
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute edit path %q", path)
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("edit path %q escapes repository root", path)
	}
	return nil
}

// Render reproduces the wire form of the patch, summary line first. A
// reverted attempt no longer exists in the worktree, so this is the only
// way to show the model what its last change actually was.
func (p *Patch) Render() string {
	var sb strings.Builder
	sb.WriteString(p.Summary)
	sb.WriteString("\n")
	for i := range p.Edits {
		edit := &p.Edits[i]
		if edit.Delete {
			fmt.Fprintf(&sb, "\n### DELETE: %s\n", edit.Path)
			continue
		}
		fmt.Fprintf(&sb, "\n### FILE: %s\n```\n%s", edit.Path, edit.Content)
		if !strings.HasSuffix(edit.Content, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("```\n")
	}
	return sb.String()
}

// Apply writes the patch into root and returns the relative paths touched.
// Parent directories are created as needed. Deleting a missing file is not
// an error.
func (p *Patch) Apply(root string) ([]string, error) {
	touched := make([]string, 0, len(p.Edits))
	for i := range p.Edits {
		edit := &p.Edits[i]
		abs := filepath.Join(root, edit.Path)
		if edit.Delete {
			if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
				return touched, fmt.Errorf("delete %s: %w", edit.Path, err)
			}
		} else {
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return touched, fmt.Errorf("mkdir for %s: %w", edit.Path, err)
			}
			if err := os.WriteFile(abs, []byte(edit.Content), 0o644); err != nil {
				return touched, fmt.Errorf("write %s: %w", edit.Path, err)
			}
		}
		touched = append(touched, edit.Path)
	}
	return touched, nil
}
