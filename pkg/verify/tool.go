package verify

import (
	"os"
	"path/filepath"
)

// Tool describes how to check a repository: a name plus the command lines
// to run, in order, stopping at the first non-zero exit.
type Tool struct {
	Name     string
	Commands [][]string
}

// toolRegistrations lists detectable tools in priority order. Specific
// project markers win over generic build files.
var toolRegistrations = []struct {
	marker string
	tool   Tool
}{
	{"go.mod", Tool{
		Name: "go",
		Commands: [][]string{
			{"go", "build", "./..."},
			{"go", "vet", "./..."},
		},
	}},
	{"package.json", Tool{
		Name:     "node",
		Commands: [][]string{{"npm", "run", "build"}},
	}},
	{"Cargo.toml", Tool{
		Name:     "cargo",
		Commands: [][]string{{"cargo", "check"}},
	}},
	{"Makefile", Tool{
		Name:     "make",
		Commands: [][]string{{"make", "build"}},
	}},
}

// NullTool runs nothing and always passes. Used when no build system is
// detected so a session can still commit checkpoints.
var NullTool = Tool{Name: "null"}

// DetectTool picks the check tool for a repository root.
func DetectTool(root string) Tool {
	for _, reg := range toolRegistrations {
		if _, err := os.Stat(filepath.Join(root, reg.marker)); err == nil {
			return reg.tool
		}
	}
	return NullTool
}

// ToolByName returns the named tool for explicit configuration, falling back
// to detection for "auto" or unknown names.
func ToolByName(name, root string) Tool {
	for _, reg := range toolRegistrations {
		if reg.tool.Name == name {
			return reg.tool
		}
	}
	if name == "null" {
		return NullTool
	}
	return DetectTool(root)
}
