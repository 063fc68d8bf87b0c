package tools

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/anthropics/agent-turn-engine/internal/tooling"
)

const (
	fileReadDefaultLimit = 2000
	fileReadMaxLineLen   = 2000
)

// FileReadInput is the input schema for the FileRead tool.
type FileReadInput struct {
	FilePath string `json:"file_path"`
	Offset   *int   `json:"offset,omitempty"` // 1-based line number
	Limit    *int   `json:"limit,omitempty"`
	Pages    string `json:"pages,omitempty"` // PDF page range
}

// FileReadTool reads files from the local filesystem. Read-only: it is
// not in the permission engine's restricted-tool set, so Decide allows
// it without prompting unless a deny rule or mode check applies first.
type FileReadTool struct{}

// NewFileReadTool creates a new FileRead tool.
func NewFileReadTool() *FileReadTool {
	return &FileReadTool{}
}

func (t *FileReadTool) Name() string { return "FileRead" }

func (t *FileReadTool) Definition() tooling.Definition {
	return tooling.Definition{
		Name: "FileRead",
		Description: `Reads a file from the local filesystem. The file_path parameter must be an absolute path. By default reads up to 2000 lines from the beginning. Use offset and limit for large files. Results are returned with line numbers (cat -n format).`,
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "file_path": {
      "type": "string",
      "description": "The absolute path to the file to read"
    },
    "offset": {
      "type": "number",
      "description": "The line number to start reading from (1-based). Only provide if the file is too large to read at once"
    },
    "limit": {
      "type": "number",
      "description": "The number of lines to read. Only provide if the file is too large to read at once."
    },
    "pages": {
      "type": "string",
      "description": "Page range for PDF files (e.g., \"1-5\"). Only applicable to PDF files."
    }
  },
  "required": ["file_path"],
  "additionalProperties": false
}`),
	}
}

func (t *FileReadTool) FormatCompactParams(args map[string]any) string {
	if p, ok := args["file_path"].(string); ok {
		return p
	}
	return ""
}

func (t *FileReadTool) Execute(_ context.Context, args map[string]any, _ *tooling.Context) (tooling.Result, error) {
	in, err := decodeArgs[FileReadInput](args)
	if err != nil {
		return tooling.Result{}, fmt.Errorf("parsing FileRead input: %w", err)
	}

	if in.FilePath == "" {
		return tooling.Result{Success: false, Error: "file_path is required"}, nil
	}

	info, statErr := os.Stat(in.FilePath)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return tooling.Result{Success: false, Error: fmt.Sprintf("file not found: %s", in.FilePath)}, nil
		}
		return tooling.Result{Success: false, Error: statErr.Error()}, nil
	}

	if info.IsDir() {
		return tooling.Result{Success: false, Error: fmt.Sprintf("%s is a directory, not a file. Use ls via Bash to list directory contents.", in.FilePath)}, nil
	}

	ext := strings.ToLower(filepath.Ext(in.FilePath))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp":
		return t.readImage(in.FilePath, ext)
	case ".pdf":
		return t.readPDF(in.FilePath, in.Pages)
	case ".ipynb":
		return t.readNotebook(in.FilePath)
	}

	return t.readTextFile(in.FilePath, in.Offset, in.Limit)
}

func (t *FileReadTool) readTextFile(filePath string, offsetPtr *int, limitPtr *int) (tooling.Result, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return tooling.Result{Success: false, Error: fmt.Sprintf("opening file: %v", err)}, nil
	}
	defer f.Close()

	offset := 1
	if offsetPtr != nil && *offsetPtr > 0 {
		offset = *offsetPtr
	}

	limit := fileReadDefaultLimit
	if limitPtr != nil && *limitPtr > 0 {
		limit = *limitPtr
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var result strings.Builder
	lineNum := 0
	linesRead := 0

	for scanner.Scan() {
		lineNum++
		if lineNum < offset {
			continue
		}
		if linesRead >= limit {
			break
		}

		line := scanner.Text()
		if len(line) > fileReadMaxLineLen {
			line = line[:fileReadMaxLineLen]
		}

		fmt.Fprintf(&result, "%6d\t%s\n", lineNum, line)
		linesRead++
	}

	if err := scanner.Err(); err != nil {
		return tooling.Result{Success: false, Error: fmt.Sprintf("reading file: %v", err)}, nil
	}

	output := result.String()
	if output == "" {
		if lineNum == 0 {
			return tooling.Result{Success: true, Output: "(empty file)"}, nil
		}
		return tooling.Result{Success: true, Output: fmt.Sprintf("(no lines in range: offset=%d, total lines=%d)", offset, lineNum)}, nil
	}

	return tooling.Result{Success: true, Output: output}, nil
}

func (t *FileReadTool) readImage(filePath string, ext string) (tooling.Result, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return tooling.Result{Success: false, Error: fmt.Sprintf("reading image: %v", err)}, nil
	}

	var mediaType string
	switch ext {
	case ".png":
		mediaType = "image/png"
	case ".jpg", ".jpeg":
		mediaType = "image/jpeg"
	case ".gif":
		mediaType = "image/gif"
	case ".webp":
		mediaType = "image/webp"
	case ".bmp":
		mediaType = "image/bmp"
	default:
		mediaType = "application/octet-stream"
	}

	encoded := base64.StdEncoding.EncodeToString(data)

	out, _ := json.Marshal(map[string]interface{}{
		"type":       "image",
		"media_type": mediaType,
		"data":       encoded,
		"size":       len(data),
	})
	return tooling.Result{Success: true, Output: string(out)}, nil
}

func (t *FileReadTool) readPDF(filePath string, pages string) (tooling.Result, error) {
	args := []string{filePath, "-"}
	if pages != "" {
		parts := strings.SplitN(pages, "-", 2)
		if len(parts) == 2 {
			args = []string{"-f", parts[0], "-l", parts[1], filePath, "-"}
		} else if len(parts) == 1 {
			args = []string{"-f", parts[0], "-l", parts[0], filePath, "-"}
		}
	}

	cmd := exec.Command("pdftotext", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return tooling.Result{Success: false, Error: fmt.Sprintf("pdftotext not available to read PDF. Install poppler-utils. (%v)", err)}, nil
	}

	text := string(output)
	if text == "" {
		return tooling.Result{Success: true, Output: "(empty PDF or no extractable text)"}, nil
	}

	const maxPDFOutput = 200_000
	if len(text) > maxPDFOutput {
		text = text[:maxPDFOutput] + "\n... (PDF content truncated)"
	}

	return tooling.Result{Success: true, Output: text}, nil
}

func (t *FileReadTool) readNotebook(filePath string) (tooling.Result, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return tooling.Result{Success: false, Error: fmt.Sprintf("reading notebook: %v", err)}, nil
	}

	var notebook struct {
		Cells []struct {
			CellType string      `json:"cell_type"`
			Source   interface{} `json:"source"`
			Outputs  []struct {
				OutputType string      `json:"output_type"`
				Text       interface{} `json:"text"`
				Data       interface{} `json:"data"`
			} `json:"outputs"`
		} `json:"cells"`
	}

	if err := json.Unmarshal(data, &notebook); err != nil {
		return tooling.Result{Success: false, Error: fmt.Sprintf("parsing notebook: %v", err)}, nil
	}

	var result strings.Builder
	for i, cell := range notebook.Cells {
		fmt.Fprintf(&result, "--- Cell %d [%s] ---\n", i+1, cell.CellType)

		source := flattenNotebookSource(cell.Source)
		result.WriteString(source)
		if !strings.HasSuffix(source, "\n") {
			result.WriteString("\n")
		}

		for _, out := range cell.Outputs {
			if out.Text != nil {
				text := flattenNotebookSource(out.Text)
				if text != "" {
					fmt.Fprintf(&result, "[Output]\n%s", text)
					if !strings.HasSuffix(text, "\n") {
						result.WriteString("\n")
					}
				}
			}
		}
		result.WriteString("\n")
	}

	output := result.String()
	if output == "" {
		return tooling.Result{Success: true, Output: "(empty notebook)"}, nil
	}
	return tooling.Result{Success: true, Output: output}, nil
}

// flattenNotebookSource converts a notebook source field (string or []string) to a single string.
func flattenNotebookSource(source interface{}) string {
	switch v := source.(type) {
	case string:
		return v
	case []interface{}:
		var lines []string
		for _, line := range v {
			if s, ok := line.(string); ok {
				lines = append(lines, s)
			}
		}
		return strings.Join(lines, "")
	}
	return ""
}
