package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/agent-turn-engine/internal/cancel"
	"github.com/anthropics/agent-turn-engine/internal/hooks"
	"github.com/anthropics/agent-turn-engine/internal/obslog"
	"github.com/anthropics/agent-turn-engine/internal/permission"
	"github.com/anthropics/agent-turn-engine/internal/store"
	"github.com/anthropics/agent-turn-engine/internal/tooling"
	"golang.org/x/sync/errgroup"
)

// runTools executes the Tooling state: one task per tool_call in
// toolBlockIdx, run concurrently, each independently carried through
// parse-args -> PreToolUse -> permission -> execute -> PostToolUse.
// Sibling failures never affect each other: a plain errgroup.Group
// (not WithContext) is used precisely so one tool's returned error
// doesn't cancel the others — cancellation here is driven only by the
// shared cancel.Pair the turn engine itself owns.
// Returns true if every tool block in the batch ended up manually
// backgrounded, which suppresses recursion for this turn.
func (e *Engine) runTools(ctx context.Context, pair *cancel.Pair, toolBlockIdx []int) bool {
	msg := e.history.Last()
	if msg == nil {
		return false
	}

	var g errgroup.Group
	var mu sync.Mutex
	backgroundedCount := 0

	for _, idx := range toolBlockIdx {
		idx := idx
		g.Go(func() error {
			backgrounded := e.runOneTool(ctx, pair, msg, idx)
			if backgrounded {
				mu.Lock()
				backgroundedCount++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return len(toolBlockIdx) > 0 && backgroundedCount == len(toolBlockIdx)
}

// runOneTool carries one Tool block through the full pipeline. Returns
// whether the tool was manually backgrounded (which, if true for every
// block in the batch, suppresses recursion).
func (e *Engine) runOneTool(ctx context.Context, pair *cancel.Pair, msg *store.Message, idx int) bool {
	block := &msg.Blocks[idx]
	toolName := block.ToolName
	toolID := block.ToolID

	// User abort between tools: remaining tasks observe cancellation and
	// return without state change (spec.md §4.6 edge cases).
	if pair.Tool.Cancelled() {
		return false
	}

	args, parseErr := parseToolArguments(block.RawArguments)
	if parseErr != nil {
		hint := ""
		// The "(output truncated)" hint only applies when the model's own
		// response was cut short by finish_reason=length; the engine has
		// no per-tool way to know that here beyond the raw text already
		// being malformed, so it's surfaced whenever parsing fails and the
		// raw argument text looks truncated (ends with neither '}' nor ']').
		if looksTruncated(block.RawArguments) {
			hint = " (output truncated)"
		}
		endBlock(block, "", false, fmt.Sprintf("failed to parse tool arguments: %v%s", parseErr, hint))
		return false
	}
	block.ParsedArguments = args
	block.CompactParams = compactParamsFor(e.tools, toolName, args)
	_ = block.SetStage(store.ToolStageRunning)

	if pair.Tool.Cancelled() {
		return false
	}

	// hookAsked records that a PreToolUse hook's "ask" decision was
	// already resolved to allow by the host; the permission engine's
	// Decide is then not run at all for this call and the host's allow
	// stands (spec.md §4.3/§8 S3: PreToolUse ask -> host resolves -> tool
	// executes with the resolved input, or ends with "Tool execution
	// denied: <reason>").
	hookAsked := false

	if e.hookRunner != nil {
		raw, _ := json.Marshal(args)
		results := e.hookRunner.ExecuteHooks(ctx, hooks.EventPreToolUse, []string{
			"TOOL_NAME=" + toolName,
			"TOOL_INPUT=" + string(raw),
		})
		outcome := hooks.ProcessResults(hooks.EventPreToolUse, results)
		for _, d := range outcome.Decisions {
			if d.UpdatedInput != nil {
				args = d.UpdatedInput
				block.ParsedArguments = args
			}
			switch d.PermissionDecision {
			case string(permission.ActionDeny):
				endBlock(block, "", false, "Hook denied tool execution")
				return false
			case string(permission.ActionAsk):
				reason := d.PermissionDecisionReason
				if reason == "" {
					reason = "hook requested confirmation"
				}
				action, err := e.resolveAsk(ctx, toolName, args)
				if err != nil || action != permission.ActionAllow {
					endBlock(block, "", false, "Tool execution denied: "+reason)
					return false
				}
				hookAsked = true
			}
		}
		if outcome.ShouldBlock {
			msgText := outcome.ErrorMessage
			if msgText == "" {
				msgText = "Hook blocked tool execution"
			}
			endBlock(block, "", false, msgText)
			return false
		}
	}

	decision := permission.Decision{Action: permission.ActionAllow}
	if !hookAsked {
		decision = e.decidePermission(ctx, toolName, args)
	}
	if decision.Action == permission.ActionDeny {
		msgText := decision.Message
		if msgText == "" {
			msgText = "Permission denied"
		}
		endBlock(block, "", false, msgText)
		return false
	}

	mode := permission.ModeDefault
	if e.perm != nil {
		mode = e.perm.Mode
	}
	start := time.Now()
	result, execErr := e.tools.Execute(pair.Tool.Context(), toolName, args, &tooling.Context{
		Mode:       mode,
		Permission: e.perm,
		Cancel:     pair,
		WorkDir:    e.cwd,
		MessageID:  msg.ID,
		ToolCallID: toolID,
		Background: e.background,
	})
	duration := time.Since(start)

	if pair.Tool.Cancelled() {
		// Still transition to end per the cancellation contract, unless
		// the whole turn is tearing down.
		if !pair.Turn.Cancelled() {
			endBlock(block, "", false, "tool execution aborted")
		}
		return false
	}

	if e.background != nil && e.background.Backgrounded(toolID) {
		// The tool moved itself into the background: the block stays at
		// ToolStageRunning rather than ending, since there is no result
		// yet to report, and the turn proceeds without it.
		block.ManuallyBackgrounded = true
		obslog.ToolExecuted(toolName, toolID, duration, true)
		return true
	}

	success := execErr == nil && result.Success
	resultText := result.Output
	errText := result.Error
	if execErr != nil {
		if resultText == "" {
			resultText = execErr.Error()
		}
		errText = execErr.Error()
	}
	endBlock(block, resultText, success, errText)
	obslog.ToolExecuted(toolName, toolID, duration, success)

	if e.hookRunner != nil {
		post := e.hookRunner.ExecuteHooks(ctx, hooks.EventPostToolUse, []string{
			"TOOL_NAME=" + toolName,
			"TOOL_RESULT=" + resultText,
		})
		outcome := hooks.ProcessResults(hooks.EventPostToolUse, post)
		for _, d := range outcome.Decisions {
			if d.AdditionalContext != "" {
				_ = block.AugmentResult(d.AdditionalContext)
			}
		}
		if outcome.ShouldBlock {
			obslog.HookFailed(string(hooks.EventPostToolUse), toolName, outcome.ErrorMessage)
		}
	}

	return false
}

// decidePermission runs the permission engine, resolving an "ask"
// decision via the configured AskResolver (blocking on the host's
// eventual answer); absent a resolver, "ask" falls back to the same
// no-approver-configured denial the permission engine itself uses when
// it has no Callback.
func (e *Engine) decidePermission(ctx context.Context, toolName string, args map[string]any) permission.Decision {
	if e.perm == nil {
		return permission.Decision{Action: permission.ActionAllow}
	}
	decision := e.perm.Decide(ctx, toolName, args)
	if decision.Action != permission.ActionAsk {
		return decision
	}
	if e.askResolver == nil {
		return permission.Decision{Action: permission.ActionDeny, Message: "no approver configured"}
	}
	action, err := e.resolveAsk(ctx, toolName, args)
	if err != nil {
		return permission.Decision{Action: permission.ActionDeny, Message: "callback error"}
	}
	return permission.Decision{Action: action}
}

// resolveAsk blocks on the configured AskResolver for a host decision;
// absent a resolver, an ask resolves to deny, matching the permission
// engine's own no-approver-configured fallback.
func (e *Engine) resolveAsk(ctx context.Context, toolName string, args map[string]any) (permission.Action, error) {
	if e.askResolver == nil {
		return permission.ActionDeny, nil
	}
	return e.askResolver.ResolvePermission(ctx, toolName, args)
}

func endBlock(block *store.Block, resultText string, success bool, errText string) {
	if block.Stage == store.ToolStageStreaming {
		_ = block.SetStage(store.ToolStageRunning)
	}
	_ = block.End(resultText, shortResultFor(resultText), success, errText)
}

func shortResultFor(text string) string {
	const maxLen = 200
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}

// parseToolArguments parses a tool's raw JSON argument string. An
// empty string parses to an empty, non-nil mapping rather than an
// error (spec.md §4.6 edge cases).
func parseToolArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func looksTruncated(raw string) bool {
	if raw == "" {
		return false
	}
	last := raw[len(raw)-1]
	return last != '}' && last != ']'
}

func compactParamsFor(reg *tooling.Registry, toolName string, args map[string]any) string {
	if reg == nil {
		return ""
	}
	t, ok := reg.Lookup(toolName)
	if !ok {
		return ""
	}
	return tooling.FormatCompactParams(t, args)
}
