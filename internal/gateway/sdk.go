package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/anthropics/agent-turn-engine/internal/compress"
	"github.com/anthropics/agent-turn-engine/internal/store"
)

const (
	defaultMaxTokens = 16384
	fastModeBeta     = "fast-mode-2025-01-01"
)

// SDKGateway implements Gateway against the real Anthropic Messages API
// via the official SDK, with retry/backoff around transient failures and
// prompt-caching breakpoints on every call.
type SDKGateway struct {
	client     anthropic.Client
	maxRetries uint64
}

// NewSDKGateway builds a gateway using apiKey for auth. baseURL may be
// empty to use the SDK's default endpoint.
func NewSDKGateway(apiKey, baseURL string) *SDKGateway {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &SDKGateway{client: anthropic.NewClient(opts...), maxRetries: 3}
}

// CallAgent issues one streaming Messages API call, translating SDK
// stream events into push callbacks as they arrive, and assembles the
// final Response once the stream completes. Retries transient failures
// (rate limits, 5xx, network errors) with exponential backoff, bounded
// by ctx — so an aborted turnCancel stops the retry loop immediately.
func (g *SDKGateway) CallAgent(ctx context.Context, req Request, cb Callbacks) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  buildMessages(req.Messages, req.Model),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
		System:    buildSystemBlocks(req.System, req.Model),
	}

	tools, err := buildTools(req.Tools, req.Model)
	if err != nil {
		return nil, fmt.Errorf("converting tool definitions: %w", err)
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	if req.EnableThinking {
		budget := int64(req.ThinkingBudget)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	var betas []anthropic.AnthropicBeta
	if req.Speed == "fast" {
		betas = append(betas, anthropic.AnthropicBeta(fastModeBeta))
	}
	if len(betas) > 0 {
		params.Betas = betas
	}

	var response *Response
	operation := func() error {
		resp, opErr := g.runStream(ctx, params, cb)
		if opErr != nil {
			if !isRetryable(opErr) {
				return backoff.Permanent(opErr)
			}
			return opErr
		}
		response = resp
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), g.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return response, nil
}

func (g *SDKGateway) runStream(ctx context.Context, params anthropic.MessageNewParams, cb Callbacks) (*Response, error) {
	stream := g.client.Messages.NewStreaming(ctx, params)

	var blocks []store.Block
	var currentTool *store.Block
	var usage store.Usage
	var stopReason string

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			usage.Model = string(ms.Message.Model)
			usage.PromptTokens = int(ms.Message.Usage.InputTokens)
			usage.CacheReadTokens = int(ms.Message.Usage.CacheReadInputTokens)
			usage.CacheCreationTokens = int(ms.Message.Usage.CacheCreationInputTokens)

		case "content_block_start":
			cbs := event.AsContentBlockStart()
			switch cbs.ContentBlock.Type {
			case "tool_use":
				tu := cbs.ContentBlock.AsToolUse()
				currentTool = store.NewToolBlock(tu.ID, tu.Name)
			case "text":
				blocks = append(blocks, store.NewTextBlock(""))
			case "thinking":
				blocks = append(blocks, store.NewReasoningBlock(""))
			}

		case "content_block_delta":
			cbd := event.AsContentBlockDelta()
			idx := int(cbd.Index)
			switch cbd.Delta.Type {
			case "text_delta":
				if idx < len(blocks) {
					blocks[idx].Text += cbd.Delta.Text
				}
				if cb.OnContentUpdate != nil {
					cb.OnContentUpdate(idx, cbd.Delta.Text)
				}
			case "thinking_delta":
				if idx < len(blocks) {
					blocks[idx].Text += cbd.Delta.Thinking
				}
				if cb.OnReasoningUpdate != nil {
					cb.OnReasoningUpdate(idx, cbd.Delta.Thinking)
				}
			case "input_json_delta":
				if currentTool != nil {
					currentTool.RawArguments += cbd.Delta.PartialJSON
					if cb.OnToolUpdate != nil {
						cb.OnToolUpdate(idx, currentTool.ToolID, currentTool.ToolName, cbd.Delta.PartialJSON)
					}
				}
			}

		case "content_block_stop":
			cbp := event.AsContentBlockStop()
			if currentTool != nil {
				var parsed map[string]any
				if currentTool.RawArguments != "" {
					_ = json.Unmarshal([]byte(currentTool.RawArguments), &parsed)
				}
				currentTool.ParsedArguments = parsed
				_ = currentTool.SetStage(store.ToolStageRunning)
				blocks = append(blocks, *currentTool)
				currentTool = nil
				if cb.OnToolBlockStop != nil {
					cb.OnToolBlockStop(int(cbp.Index))
				}
			}

		case "message_delta":
			md := event.AsMessageDelta()
			stopReason = string(md.Delta.StopReason)
			usage.CompletionTokens = int(md.Usage.OutputTokens)
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

		case "error":
			return nil, fmt.Errorf("stream error event")
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	usage.OperationType = store.OperationTurn
	return &Response{Blocks: blocks, Usage: usage, StopReason: stopReason}, nil
}

// CompressMessages asks the model to summarize window, reusing the same
// prompt/wrapping conventions as the turn-calling path but as a single
// non-streaming exchange, since a summary is consumed whole rather than
// rendered incrementally.
func (g *SDKGateway) CompressMessages(ctx context.Context, window []store.Message) (string, store.Usage, error) {
	system := []anthropic.TextBlockParam{{Text: compress.FormatPrompt()}}
	msgs := buildMessages(window, "")
	msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(
		"Please summarize the above conversation concisely, preserving all important context for continuation.",
	)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(defaultCompressModel),
		Messages:  msgs,
		MaxTokens: 2048,
		System:    system,
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", store.Usage{}, fmt.Errorf("summarization call: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", store.Usage{}, fmt.Errorf("empty summarization response")
	}

	usage := store.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		Model:            string(resp.Model),
		OperationType:    store.OperationCompress,
	}

	return compress.FormatSummary(text), usage, nil
}

const defaultCompressModel = "claude-haiku-4-5"

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}

// isRetryable classifies transient failures (rate limits, 5xx, timeouts,
// network errors) as retryable; everything else (bad request, auth
// failure) is permanent.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}
	// Network errors surface without an *anthropic.Error; treat them as a
	// transient condition worth retrying.
	return true
}
