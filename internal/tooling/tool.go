// Package tooling holds the tool registry and dispatcher: the map from
// tool name to plugin, and the single Execute path every tool call goes
// through regardless of whether it targets a built-in or an
// MCP-provided tool.
package tooling

import (
	"context"
	"encoding/json"
)

// Definition is the model-facing shape of a tool: the fields sent to
// the gateway as part of a CallAgent request.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Result is what a tool execution returns to the dispatcher.
type Result struct {
	Success bool
	Output  string
	Error   string
}

// Tool is the plugin interface every built-in and MCP-bridged tool
// implements.
type Tool interface {
	Name() string
	Definition() Definition
	Execute(ctx context.Context, args map[string]any, tctx *Context) (Result, error)
}

// CompactParamsFormatter is an optional capability: a tool that wants a
// short human-readable summary of its arguments (e.g. for transcript
// display) implements this; tools that don't are summarized with a
// generic fallback.
type CompactParamsFormatter interface {
	FormatCompactParams(args map[string]any) string
}

// FormatCompactParams produces the short parameter summary for a tool
// call, using the tool's own formatter when available.
func FormatCompactParams(t Tool, args map[string]any) string {
	if f, ok := t.(CompactParamsFormatter); ok {
		return f.FormatCompactParams(args)
	}
	return genericCompactParams(args)
}

func genericCompactParams(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	const maxLen = 80
	s := string(b)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
