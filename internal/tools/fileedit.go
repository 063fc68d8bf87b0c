package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/agent-turn-engine/internal/tooling"
)

// FileEditInput is the input schema for the FileEdit tool.
type FileEditInput struct {
	FilePath   string `json:"file_path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

// FileEditTool performs exact string replacements in files. Edit class,
// like FileWrite.
type FileEditTool struct{}

// NewFileEditTool creates a new FileEdit tool.
func NewFileEditTool() *FileEditTool {
	return &FileEditTool{}
}

func (t *FileEditTool) Name() string { return "FileEdit" }

func (t *FileEditTool) Definition() tooling.Definition {
	return tooling.Definition{
		Name:        "FileEdit",
		Description: `Performs exact string replacements in files. The old_string must be unique in the file unless replace_all is true. The new_string must be different from old_string. Use this tool for making targeted edits to existing files.`,
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "file_path": {
      "type": "string",
      "description": "The absolute path to the file to modify"
    },
    "old_string": {
      "type": "string",
      "description": "The text to replace"
    },
    "new_string": {
      "type": "string",
      "description": "The text to replace it with (must be different from old_string)"
    },
    "replace_all": {
      "type": "boolean",
      "description": "Replace all occurrences of old_string (default false)",
      "default": false
    }
  },
  "required": ["file_path", "old_string", "new_string"],
  "additionalProperties": false
}`),
	}
}

func (t *FileEditTool) FormatCompactParams(args map[string]any) string {
	if p, ok := args["file_path"].(string); ok {
		return p
	}
	return ""
}

func (t *FileEditTool) Execute(_ context.Context, args map[string]any, _ *tooling.Context) (tooling.Result, error) {
	in, err := decodeArgs[FileEditInput](args)
	if err != nil {
		return tooling.Result{}, fmt.Errorf("parsing FileEdit input: %w", err)
	}

	if in.FilePath == "" {
		return tooling.Result{Success: false, Error: "file_path is required"}, nil
	}
	if in.OldString == in.NewString {
		return tooling.Result{Success: false, Error: "new_string must be different from old_string"}, nil
	}

	data, readErr := os.ReadFile(in.FilePath)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return tooling.Result{Success: false, Error: fmt.Sprintf("file not found: %s", in.FilePath)}, nil
		}
		return tooling.Result{Success: false, Error: fmt.Sprintf("reading file: %v", readErr)}, nil
	}

	content := string(data)

	count := strings.Count(content, in.OldString)
	if count == 0 {
		return tooling.Result{Success: false, Error: fmt.Sprintf("old_string not found in %s. Make sure the string matches exactly, including whitespace and indentation.", in.FilePath)}, nil
	}

	if !in.ReplaceAll && count > 1 {
		return tooling.Result{Success: false, Error: fmt.Sprintf("old_string appears %d times in %s. Use replace_all=true to replace all occurrences, or provide more surrounding context to make it unique.", count, in.FilePath)}, nil
	}

	var newContent string
	if in.ReplaceAll {
		newContent = strings.ReplaceAll(content, in.OldString, in.NewString)
	} else {
		newContent = strings.Replace(content, in.OldString, in.NewString, 1)
	}

	info, statErr := os.Stat(in.FilePath)
	if statErr != nil {
		return tooling.Result{Success: false, Error: statErr.Error()}, nil
	}

	if err := os.WriteFile(in.FilePath, []byte(newContent), info.Mode().Perm()); err != nil {
		return tooling.Result{Success: false, Error: fmt.Sprintf("writing file: %v", err)}, nil
	}

	if in.ReplaceAll {
		return tooling.Result{Success: true, Output: fmt.Sprintf("Replaced %d occurrences in %s.", count, in.FilePath)}, nil
	}
	return tooling.Result{Success: true, Output: fmt.Sprintf("Successfully edited %s.", in.FilePath)}, nil
}
