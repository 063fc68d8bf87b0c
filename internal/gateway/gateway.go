// Package gateway abstracts the model backend behind the two operations
// the turn engine needs: running one model call with live streaming
// callbacks, and asking the backend to summarize a window of history for
// the compressor. internal/engine depends only on the Gateway interface;
// SDKGateway is the concrete binding to the Anthropic Messages API.
package gateway

import (
	"context"

	"github.com/anthropics/agent-turn-engine/internal/store"
	"github.com/anthropics/agent-turn-engine/internal/tooling"
)

// Request is one CallAgent invocation: the full message history plus the
// system prompt and tool definitions the turn engine assembled for this
// call.
type Request struct {
	Model          string
	System         []string // rendered system prompt blocks, in cache-breakpoint order
	Messages       []store.Message
	Tools          []tooling.Definition
	MaxTokens      int
	Speed          string // "" or "fast"
	EnableThinking bool
	ThinkingBudget int
}

// Callbacks receives push events as the model streams its response. Each
// is optional; a nil callback is simply not invoked. index identifies the
// content block position within the response, matching the Messages
// API's own block indexing.
type Callbacks struct {
	OnContentUpdate   func(index int, text string)
	OnReasoningUpdate func(index int, text string)
	OnToolUpdate      func(index int, toolID, toolName, partialJSON string)
	OnToolBlockStop   func(index int)
}

// Response is the fully assembled result of one CallAgent call.
type Response struct {
	Blocks     []store.Block
	Usage      store.Usage
	StopReason string
}

// Gateway is the contract internal/engine drives the model through.
type Gateway interface {
	CallAgent(ctx context.Context, req Request, cb Callbacks) (*Response, error)
	CompressMessages(ctx context.Context, messages []store.Message) (summary string, usage store.Usage, err error)
}
