package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/anthropics/agent-turn-engine/internal/tooling"
)

const (
	bashDefaultTimeout = 120 * time.Second
	bashMaxTimeout     = 600 * time.Second
)

// BashInput is the input schema for the Bash tool.
type BashInput struct {
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Timeout     *int   `json:"timeout,omitempty"` // milliseconds
}

// BashTool executes shell commands in the engine's working directory.
// It is restricted by the permission engine rather than by a tool-local
// check: the Bash rule class covers it in full (exact and prefix
// matching against the command string).
type BashTool struct {
	workDir string
}

// NewBashTool creates a Bash tool that runs commands in the given directory.
func NewBashTool(workDir string) *BashTool {
	return &BashTool{workDir: workDir}
}

func (t *BashTool) Name() string { return "Bash" }

func (t *BashTool) Definition() tooling.Definition {
	return tooling.Definition{
		Name: "Bash",
		Description: `Executes a bash command. Use for running shell commands, scripts, installing packages, compiling code, managing files via CLI, or any other terminal task. Commands run in the working directory. Specify an optional timeout in milliseconds (max 600000ms / 10 minutes). Commands timeout after 120000ms (2 minutes) by default.`,
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "command": {
      "type": "string",
      "description": "The command to execute"
    },
    "description": {
      "type": "string",
      "description": "Clear, concise description of what this command does"
    },
    "timeout": {
      "type": "number",
      "description": "Optional timeout in milliseconds (max 600000)"
    }
  },
  "required": ["command"],
  "additionalProperties": false
}`),
	}
}

func (t *BashTool) FormatCompactParams(args map[string]any) string {
	if cmd, ok := args["command"].(string); ok {
		const maxLen = 80
		if len(cmd) > maxLen {
			return cmd[:maxLen] + "..."
		}
		return cmd
	}
	return ""
}

func (t *BashTool) Execute(ctx context.Context, args map[string]any, _ *tooling.Context) (tooling.Result, error) {
	in, err := decodeArgs[BashInput](args)
	if err != nil {
		return tooling.Result{}, fmt.Errorf("parsing Bash input: %w", err)
	}

	if in.Command == "" {
		return tooling.Result{Success: false, Error: "command is required"}, nil
	}

	timeout := bashDefaultTimeout
	if in.Timeout != nil {
		d := time.Duration(*in.Timeout) * time.Millisecond
		if d > bashMaxTimeout {
			d = bashMaxTimeout
		}
		if d > 0 {
			timeout = d
		}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "bash", "-c", in.Command)
	cmd.Dir = t.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	var result strings.Builder
	if stdout.Len() > 0 {
		result.Write(stdout.Bytes())
	}
	if stderr.Len() > 0 {
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		result.WriteString(stderr.String())
	}

	if runErr != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			if result.Len() > 0 {
				result.WriteString("\n")
			}
			result.WriteString("Command timed out")
			return tooling.Result{Success: false, Output: result.String()}, nil
		}

		if exitErr, ok := runErr.(*exec.ExitError); ok {
			if result.Len() > 0 {
				result.WriteString("\n")
			}
			fmt.Fprintf(&result, "Exit code: %d", exitErr.ExitCode())
			return tooling.Result{Success: false, Output: result.String()}, nil
		}

		return tooling.Result{}, fmt.Errorf("executing command: %w", runErr)
	}

	output := result.String()
	if output == "" {
		output = "(no output)"
	}

	const maxOutput = 100_000
	if len(output) > maxOutput {
		output = output[:maxOutput] + "\n... (output truncated)"
	}

	return tooling.Result{Success: true, Output: output}, nil
}
