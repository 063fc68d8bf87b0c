package engine

import (
	"context"
	"strings"

	"github.com/anthropics/agent-turn-engine/internal/cancel"
	"github.com/anthropics/agent-turn-engine/internal/gateway"
	"github.com/anthropics/agent-turn-engine/internal/permission"
	"github.com/anthropics/agent-turn-engine/internal/store"
	"github.com/anthropics/agent-turn-engine/internal/tooling"
)

const defaultMaxTokens = 8192

// modelResult is what runModel hands back to step: the tool blocks the
// assistant message ended up with, ready for the Tooling phase.
type modelResult struct {
	toolBlocks []int // indices into the assistant message's Blocks slice
}

// runModel performs the Modeling state: build the request, call the
// gateway with streaming callbacks that lazily create the assistant
// message and mutate its blocks live, then reconcile the message's
// final content against the gateway's assembled response.
func (e *Engine) runModel(ctx context.Context, pair *cancel.Pair, opts Options) (*modelResult, error) {
	mode := e.effectiveMode(opts)

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	req := gateway.Request{
		Model:     e.modelFor(opts),
		System:    e.buildSystemPrompt(mode),
		Messages:  e.messagesForRequest(),
		Tools:     e.toolDefinitions(mode, opts.ToolsAllowlist),
		MaxTokens: maxTokens,
	}
	if opts.FastMode && fastModeEligible(req.Model) {
		req.Speed = "fast"
	}

	var assembler streamAssembler
	assembler.history = e.history

	cb := gateway.Callbacks{
		OnContentUpdate: func(index int, text string) {
			assembler.appendText(index, text)
		},
		OnReasoningUpdate: func(index int, text string) {
			assembler.appendReasoning(index, text)
		},
		OnToolUpdate: func(index int, toolID, toolName, partialJSON string) {
			assembler.appendToolDelta(index, toolID, toolName, partialJSON)
		},
	}

	resp, err := e.gw.CallAgent(pair.Turn.Context(), req, cb)
	if err != nil {
		return nil, err
	}

	msg := assembler.ensureMessage(e.history)
	msg.Blocks = resp.Blocks
	if resp.Usage.Model == "" {
		resp.Usage.Model = req.Model
	}
	usage := resp.Usage
	msg.Usage = &usage
	e.history.SetLatestTotalTokens(usage.Comprehensive())

	if resp.StopReason == "length" && !hasToolBlock(msg.Blocks) {
		msg.Blocks = append(msg.Blocks, store.NewErrorBlock(
			"The model's response was truncated. Please reduce the size of your request or break it into smaller steps.",
		))
	}

	var toolIdx []int
	for i, b := range msg.Blocks {
		if b.Kind == store.BlockTool {
			toolIdx = append(toolIdx, i)
		}
	}
	return &modelResult{toolBlocks: toolIdx}, nil
}

func hasToolBlock(blocks []store.Block) bool {
	for _, b := range blocks {
		if b.Kind == store.BlockTool {
			return true
		}
	}
	return false
}

// streamAssembler lazily creates the in-progress assistant message on
// the first streaming callback and mutates its Text/Reasoning/Tool
// blocks in place as chunks arrive, matching the "first callback
// creates the message; subsequent callbacks mutate" streaming contract.
// Its mutations are superseded by the final resp.Blocks assignment in
// runModel, so it exists purely to give a host observer something to
// render mid-stream.
type streamAssembler struct {
	history *store.History
	msg     *store.Message
	byIndex map[int]int // gateway content-block index -> msg.Blocks index
}

func (a *streamAssembler) ensureMessage(h *store.History) *store.Message {
	if a.msg != nil {
		return a.msg
	}
	h.Append(store.Message{ID: store.GenerateID(), Role: store.RoleAssistant})
	a.msg = h.Last()
	a.byIndex = make(map[int]int)
	return a.msg
}

func (a *streamAssembler) blockFor(index int, create func() store.Block) int {
	a.ensureMessage(a.history)
	if i, ok := a.byIndex[index]; ok {
		return i
	}
	a.msg.Blocks = append(a.msg.Blocks, create())
	i := len(a.msg.Blocks) - 1
	a.byIndex[index] = i
	return i
}

func (a *streamAssembler) appendText(index int, text string) {
	i := a.blockFor(index, func() store.Block { return store.NewTextBlock("") })
	a.msg.Blocks[i].Text += text
}

func (a *streamAssembler) appendReasoning(index int, text string) {
	i := a.blockFor(index, func() store.Block { return store.NewReasoningBlock("") })
	a.msg.Blocks[i].Text += text
}

func (a *streamAssembler) appendToolDelta(index int, toolID, toolName, partialJSON string) {
	i := a.blockFor(index, func() store.Block { return *store.NewToolBlock(toolID, toolName) })
	a.msg.Blocks[i].RawArguments += partialJSON
}

// effectiveMode resolves the permission mode in force for this turn:
// the permission engine's own Mode field is the single source of truth
// (a per-turn CLI override is applied by the host before calling
// SendTurn, by mutating e.perm.Mode).
func (e *Engine) effectiveMode(opts Options) string {
	if e.perm == nil {
		return ""
	}
	return string(e.perm.Mode)
}

func (e *Engine) modelFor(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return e.defaultModel
}

// buildSystemPrompt assembles the system prompt: base prompt blocks,
// a plan-mode reminder when the effective mode is plan, the configured
// language suffix, then memory content — matching the Modeling state's
// "system prompt + plan-mode reminder if plan + language suffix if
// configured + memory" construction order.
func (e *Engine) buildSystemPrompt(mode string) []string {
	var blocks []string
	blocks = append(blocks, e.baseSystemPrompt...)
	if mode == "plan" && e.planModeReminder != "" {
		blocks = append(blocks, e.planModeReminder)
	}
	if e.languageSuffix != "" {
		blocks = append(blocks, e.languageSuffix)
	}
	blocks = append(blocks, e.memory...)
	return blocks
}

// messagesForRequest prepends the context message (if configured) to
// the history for this single model call; it is not persisted as part
// of history, matching the teacher's contextMessage handling.
func (e *Engine) messagesForRequest() []store.Message {
	if e.contextMessage == "" {
		return e.history.Messages
	}
	out := make([]store.Message, 0, len(e.history.Messages)+1)
	out = append(out, store.Message{
		Role:   store.RoleUser,
		Blocks: []store.Block{store.NewTextBlock(e.contextMessage)},
	})
	out = append(out, e.history.Messages...)
	return out
}

// toolDefinitions returns the model-facing tool definitions visible
// under mode, further narrowed to allowlist when the caller supplied
// one (an empty allowlist means no restriction).
func (e *Engine) toolDefinitions(mode string, allowlist []string) []tooling.Definition {
	if e.tools == nil {
		return nil
	}
	defs := e.tools.Definitions(permission.Mode(mode))
	if len(allowlist) == 0 {
		return defs
	}
	allowed := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		allowed[name] = true
	}
	filtered := defs[:0:0]
	for _, d := range defs {
		if allowed[d.Name] {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// fastModeEligible reports whether model is an Opus 4.6-family model,
// the only family the teacher's fast-mode hint applies to.
func fastModeEligible(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "claude-opus-4-6")
}
