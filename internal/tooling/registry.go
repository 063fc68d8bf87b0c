package tooling

import (
	"context"
	"fmt"
	"sync"

	"github.com/anthropics/agent-turn-engine/internal/permission"
)

// McpExecutor dispatches a tool call to an MCP-provided tool. MCP
// client/server wiring itself is out of scope; this is the passthrough
// contract a future MCP bridge would satisfy.
type McpExecutor interface {
	HasTool(name string) bool
	Execute(ctx context.Context, name string, args map[string]any) (Result, error)
}

// interactiveTools are withheld from the model entirely under
// bypassPermissions, since there is no approver to route an interactive
// question to.
var interactiveTools = map[string]bool{
	"AskUserQuestion": true,
}

// planExitTool is exposed to the model only while in plan mode.
const planExitTool = "ExitPlanMode"

// Registry holds the map of tool name to plugin and dispatches
// execution, merging built-in and MCP-provided tools into the same
// namespace.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
	mcp   McpExecutor
}

// NewRegistry creates an empty registry. mcp may be nil if no MCP
// bridge is configured.
func NewRegistry(mcp McpExecutor) *Registry {
	return &Registry{tools: make(map[string]Tool), mcp: mcp}
}

// Register adds a built-in tool, preserving first-registration order.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Lookup returns the registered built-in tool for name, if any. MCP
// tools are not included, since they have no Tool value to return.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// HasTool reports whether name is a registered built-in or, absent
// that, an MCP-provided tool.
func (r *Registry) HasTool(name string) bool {
	r.mu.RLock()
	_, ok := r.tools[name]
	mcp := r.mcp
	r.mu.RUnlock()
	if ok {
		return true
	}
	return mcp != nil && mcp.HasTool(name)
}

// Execute runs name with args under tctx. Per spec.md §4.4: unknown
// names are rejected, MCP tools are dispatched to the MCP executor,
// and built-in plugin panics are converted into a failed Result rather
// than propagating — a misbehaving tool must not crash the turn.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, tctx *Context) (result Result, err error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	mcp := r.mcp
	r.mu.RUnlock()

	if !ok {
		if mcp != nil && mcp.HasTool(name) {
			return mcp.Execute(ctx, name, args)
		}
		return Result{Success: false, Error: "Tool not found"}, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = Result{Success: false, Error: fmt.Sprintf("tool panicked: %v", rec)}
			err = nil
		}
	}()

	return tool.Execute(ctx, args, tctx)
}

// Definitions returns the model-facing definitions for every tool
// visible under effectiveMode, in registration order.
func (r *Registry) Definitions(effectiveMode permission.Mode) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		if !visibleInMode(name, effectiveMode) {
			continue
		}
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// visibleInMode implements getToolsConfig's filtering rule: interactive
// tools are withheld under bypassPermissions; the plan-exit tool is
// shown only in plan mode.
func visibleInMode(name string, mode permission.Mode) bool {
	if name == planExitTool {
		return mode == permission.ModePlan
	}
	if interactiveTools[name] && mode == permission.ModeBypassPermissions {
		return false
	}
	return true
}
