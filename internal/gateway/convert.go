package gateway

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/anthropics/agent-turn-engine/internal/store"
	"github.com/anthropics/agent-turn-engine/internal/tooling"
)

// isCachingEnabled checks the same environment variables the teacher's
// conversation package checks, model-by-model, to decide whether a
// prompt-caching breakpoint should be placed.
func isCachingEnabled(model string) bool {
	if envBool("DISABLE_PROMPT_CACHING") {
		return false
	}
	modelLower := strings.ToLower(model)
	if envBool("DISABLE_PROMPT_CACHING_HAIKU") && strings.Contains(modelLower, "haiku") {
		return false
	}
	if envBool("DISABLE_PROMPT_CACHING_SONNET") && strings.Contains(modelLower, "sonnet") {
		return false
	}
	if envBool("DISABLE_PROMPT_CACHING_OPUS") && strings.Contains(modelLower, "opus") {
		return false
	}
	return true
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "1" || strings.EqualFold(v, "true")
}

// buildSystemBlocks renders the system prompt strings into API blocks,
// placing a cache breakpoint on the last block so the whole system
// prompt prefix is cached between turns.
func buildSystemBlocks(system []string, model string) []anthropic.TextBlockParam {
	blocks := make([]anthropic.TextBlockParam, len(system))
	for i, s := range system {
		blocks[i] = anthropic.TextBlockParam{Text: s}
	}
	if len(blocks) > 0 && isCachingEnabled(model) {
		blocks[len(blocks)-1].CacheControl = anthropic.CacheControlEphemeralParam{}
	}
	return blocks
}

// buildTools converts tool definitions into API tool params, caching the
// entire list as a prefix by marking the last entry.
func buildTools(defs []tooling.Definition, model string) ([]anthropic.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema anthropic.ToolInputSchemaParam
		if len(d.InputSchema) > 0 {
			if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
				return nil, err
			}
		}
		param := anthropic.ToolUnionParamOfTool(schema, d.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(d.Description)
		}
		out = append(out, param)
	}
	if isCachingEnabled(model) {
		if last := out[len(out)-1].OfTool; last != nil {
			last.CacheControl = anthropic.CacheControlEphemeralParam{}
		}
	}
	return out, nil
}

// buildMessages converts the store's merged Message/Block history into
// the API's alternating user/assistant turns. Because internal/store
// represents a tool call and its result as a single Tool block inside
// the assistant's own message (rather than as a separate tool_result
// turn), every assistant message that contains a finished Tool block is
// immediately followed, on the wire, by a synthesized user message
// carrying the corresponding tool_result blocks — the shape the Messages
// API requires, reconstructed at the translation boundary rather than
// carried through the engine's own history.
func buildMessages(messages []store.Message, model string) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case store.RoleUser, store.RoleSystem:
			var content []anthropic.ContentBlockParamUnion
			for _, b := range m.Blocks {
				if b.Kind == store.BlockText {
					content = append(content, anthropic.NewTextBlock(b.Text))
				}
			}
			if len(content) > 0 {
				out = append(out, anthropic.NewUserMessage(content...))
			}

		case store.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			var toolResults []anthropic.ContentBlockParamUnion
			for _, b := range m.Blocks {
				switch b.Kind {
				case store.BlockText:
					content = append(content, anthropic.NewTextBlock(b.Text))
				case store.BlockTool:
					content = append(content, anthropic.NewToolUseBlock(b.ToolID, b.ParsedArguments, b.ToolName))
					if b.Stage == store.ToolStageEnd {
						toolResults = append(toolResults, anthropic.NewToolResultBlock(b.ToolID, b.ResultText, !b.Success))
					}
				case store.BlockCompress:
					content = append(content, anthropic.NewTextBlock(b.CompressSummary))
				}
			}
			if len(content) > 0 {
				out = append(out, anthropic.NewAssistantMessage(content...))
			}
			if len(toolResults) > 0 {
				out = append(out, anthropic.NewUserMessage(toolResults...))
			}
		}
	}

	if len(out) >= 1 && isCachingEnabled(model) {
		applyMessageCacheBreakpoints(out)
	}
	return out
}

// applyMessageCacheBreakpoints mirrors the teacher's WithMessageCaching:
// the last two messages each get a cache_control breakpoint on their
// final content block, so only the newest turn is billed as fresh input
// on the next call.
func applyMessageCacheBreakpoints(msgs []anthropic.MessageParam) {
	start := len(msgs) - 2
	if start < 0 {
		start = 0
	}
	for i := start; i < len(msgs); i++ {
		content := msgs[i].Content
		if len(content) == 0 {
			continue
		}
		last := &content[len(content)-1]
		switch {
		case last.OfText != nil:
			last.OfText.CacheControl = anthropic.CacheControlEphemeralParam{}
		case last.OfToolUse != nil:
			last.OfToolUse.CacheControl = anthropic.CacheControlEphemeralParam{}
		case last.OfToolResult != nil:
			last.OfToolResult.CacheControl = anthropic.CacheControlEphemeralParam{}
		}
	}
}
