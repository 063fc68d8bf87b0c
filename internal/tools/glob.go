package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anthropics/agent-turn-engine/internal/tooling"
	"github.com/bmatcuk/doublestar/v4"
)

// GlobInput is the input schema for the Glob tool.
type GlobInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// GlobTool performs file pattern matching. Read-only.
type GlobTool struct {
	workDir string
}

// NewGlobTool creates a new Glob tool with the given working directory.
func NewGlobTool(workDir string) *GlobTool {
	return &GlobTool{workDir: workDir}
}

func (t *GlobTool) Name() string { return "Glob" }

func (t *GlobTool) Definition() tooling.Definition {
	return tooling.Definition{
		Name:        "Glob",
		Description: `Fast file pattern matching tool. Supports glob patterns like "**/*.js" or "src/**/*.ts". Returns matching file paths sorted by modification time.`,
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "pattern": {
      "type": "string",
      "description": "The glob pattern to match files against"
    },
    "path": {
      "type": "string",
      "description": "The directory to search in. Defaults to the working directory if omitted."
    }
  },
  "required": ["pattern"],
  "additionalProperties": false
}`),
	}
}

func (t *GlobTool) FormatCompactParams(args map[string]any) string {
	if p, ok := args["pattern"].(string); ok {
		return p
	}
	return ""
}

func (t *GlobTool) Execute(_ context.Context, args map[string]any, _ *tooling.Context) (tooling.Result, error) {
	in, err := decodeArgs[GlobInput](args)
	if err != nil {
		return tooling.Result{}, fmt.Errorf("parsing Glob input: %w", err)
	}

	if in.Pattern == "" {
		return tooling.Result{Success: false, Error: "pattern is required"}, nil
	}

	searchDir := t.workDir
	if in.Path != "" {
		if filepath.IsAbs(in.Path) {
			searchDir = in.Path
		} else {
			searchDir = filepath.Join(t.workDir, in.Path)
		}
	}

	info, statErr := os.Stat(searchDir)
	if statErr != nil {
		return tooling.Result{Success: false, Error: fmt.Sprintf("directory not found: %s", searchDir)}, nil
	}
	if !info.IsDir() {
		return tooling.Result{Success: false, Error: fmt.Sprintf("%s is not a directory", searchDir)}, nil
	}

	fsys := os.DirFS(searchDir)
	matches, globErr := doublestar.Glob(fsys, in.Pattern)
	if globErr != nil {
		return tooling.Result{Success: false, Error: fmt.Sprintf("matching pattern: %v", globErr)}, nil
	}

	if len(matches) == 0 {
		return tooling.Result{Success: true, Output: fmt.Sprintf("No files matched pattern: %s in %s", in.Pattern, searchDir)}, nil
	}

	type fileEntry struct {
		path    string
		modTime int64
	}
	var entries []fileEntry

	for _, m := range matches {
		absPath := filepath.Join(searchDir, m)
		fi, err := os.Stat(absPath)
		if err != nil {
			continue
		}
		if fi.IsDir() {
			continue
		}
		entries = append(entries, fileEntry{
			path:    absPath,
			modTime: fi.ModTime().UnixNano(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime > entries[j].modTime
	})

	var result strings.Builder
	for _, e := range entries {
		result.WriteString(e.path)
		result.WriteString("\n")
	}

	return tooling.Result{Success: true, Output: strings.TrimRight(result.String(), "\n")}, nil
}
