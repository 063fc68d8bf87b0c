package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anthropics/agent-turn-engine/internal/tooling"
)

// FileWriteInput is the input schema for the FileWrite tool.
type FileWriteInput struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// FileWriteTool creates or overwrites files. It falls in the edit
// class, so acceptEdits mode and the Safe Zone both apply to it.
type FileWriteTool struct{}

// NewFileWriteTool creates a new FileWrite tool.
func NewFileWriteTool() *FileWriteTool {
	return &FileWriteTool{}
}

func (t *FileWriteTool) Name() string { return "FileWrite" }

func (t *FileWriteTool) Definition() tooling.Definition {
	return tooling.Definition{
		Name:        "FileWrite",
		Description: `Creates or overwrites a file with the given content. The file_path must be an absolute path. Parent directories are created if they don't exist.`,
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "file_path": {
      "type": "string",
      "description": "The absolute path to the file to write (must be absolute, not relative)"
    },
    "content": {
      "type": "string",
      "description": "The content to write to the file"
    }
  },
  "required": ["file_path", "content"],
  "additionalProperties": false
}`),
	}
}

func (t *FileWriteTool) FormatCompactParams(args map[string]any) string {
	if p, ok := args["file_path"].(string); ok {
		return p
	}
	return ""
}

func (t *FileWriteTool) Execute(_ context.Context, args map[string]any, _ *tooling.Context) (tooling.Result, error) {
	in, err := decodeArgs[FileWriteInput](args)
	if err != nil {
		return tooling.Result{}, fmt.Errorf("parsing FileWrite input: %w", err)
	}

	if in.FilePath == "" {
		return tooling.Result{Success: false, Error: "file_path is required"}, nil
	}

	if !filepath.IsAbs(in.FilePath) {
		return tooling.Result{Success: false, Error: "file_path must be an absolute path"}, nil
	}

	dir := filepath.Dir(in.FilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return tooling.Result{Success: false, Error: fmt.Sprintf("creating directories: %v", err)}, nil
	}

	if err := os.WriteFile(in.FilePath, []byte(in.Content), 0644); err != nil {
		return tooling.Result{Success: false, Error: fmt.Sprintf("writing file: %v", err)}, nil
	}

	return tooling.Result{Success: true, Output: fmt.Sprintf("Successfully wrote to %s (%d bytes).", in.FilePath, len(in.Content))}, nil
}
