// Package compress implements the token-budget history compressor: it
// checks the usage of a single model response and, once that crosses a
// configured ceiling, collapses an older prefix of the session history
// into a single summary block.
package compress

import (
	"context"
	"fmt"
	"log"

	"github.com/anthropics/agent-turn-engine/internal/store"
)

// Default ceiling and window, carried over from the teacher's
// Compactor defaults.
const (
	DefaultMaxInputTokens = 150_000
	DefaultPreserveRecent = 4
)

// SummarizeFunc calls the model gateway's compress operation over the
// given message window and returns the replacement summary text plus
// the usage the summarization call itself consumed. It is supplied by
// the caller (internal/gateway) rather than imported directly, keeping
// this package free of any dependency on the SDK transport.
type SummarizeFunc func(ctx context.Context, messages []store.Message) (summary string, usage store.Usage, err error)

// Persister saves the session's history before a compress pass mutates
// it in memory, so a crash mid-compaction never loses messages that
// have already been summarized away.
type Persister interface {
	Persist(cwd, sessionID string, messages []store.Message, fromIndex int) error
}

// Compressor holds no state of its own between calls; every method
// operates on the History passed in.
type Compressor struct {
	MaxInputTokens int
	PreserveRecent int
}

// New returns a Compressor configured with the default ceiling and
// window, overridable via the two fields.
func New() *Compressor {
	return &Compressor{
		MaxInputTokens: DefaultMaxInputTokens,
		PreserveRecent: DefaultPreserveRecent,
	}
}

// ShouldCompact reports whether u's comprehensive token count (total +
// cache-read + cache-creation) has crossed the configured ceiling.
func (c *Compressor) ShouldCompact(u store.Usage) bool {
	return u.Comprehensive() >= c.MaxInputTokens
}

// SelectWindow picks the prefix of messages to summarize. It never
// includes the most recent PreserveRecent messages, and it never splits
// a tool-call block from its tool-result — if the naive cut point would
// land inside a still-open tool pairing, the window is pulled back to
// the nearest message boundary that keeps every Tool block's streaming
// and ending state together. Returns end == 0 if there is nothing
// worth compressing.
func (c *Compressor) SelectWindow(messages []store.Message) (start, end int) {
	if len(messages) <= c.PreserveRecent {
		return 0, 0
	}
	end = len(messages) - c.PreserveRecent
	if end <= 0 {
		return 0, 0
	}
	for end > 0 && splitsToolPair(messages, end) {
		end--
	}
	return 0, end
}

// splitsToolPair reports whether cutting messages at index cut would
// separate a Tool block's call from its eventual result. Since a tool
// call and its result always live in the same assistant message in
// this store (a tool block carries both its arguments and, once ended,
// its result text), a cut between messages never splits a pair unless
// an earlier message still holds a block that has not reached
// ToolStageEnd — which would mean the turn never finished, and
// compressing it away would discard a tool result the model is still
// waiting on.
func splitsToolPair(messages []store.Message, cut int) bool {
	for i := 0; i < cut; i++ {
		for _, b := range messages[i].Blocks {
			if b.Kind == store.BlockTool && b.Stage != store.ToolStageEnd {
				return true
			}
		}
	}
	return false
}

// Compact runs one compression pass: persist, select a window,
// summarize it via summarize, and replace it in history with a single
// Compress block. Per spec, failures are best-effort: they are logged
// and leave history untouched rather than propagating as fatal errors,
// since a stalled model-gateway call should not abort the turn that
// triggered the check.
func (c *Compressor) Compact(ctx context.Context, persister Persister, cwd, sessionID string, history *store.History, summarize SummarizeFunc) {
	start, end := c.SelectWindow(history.Messages)
	if end <= start {
		return
	}

	if err := persister.Persist(cwd, sessionID, history.Messages, 0); err != nil {
		log.Printf("compress: persisting session %s before compaction: %v", sessionID, err)
		return
	}

	window := history.Messages[start:end]
	summary, usage, err := summarize(ctx, window)
	if err != nil {
		log.Printf("compress: summarizing session %s: %v", sessionID, err)
		return
	}

	usage.OperationType = store.OperationCompress
	replacement := store.Message{
		ID:   history.SessionID + "-compress",
		Role: store.RoleAssistant,
		Blocks: []store.Block{{
			Kind:            store.BlockCompress,
			CompressSummary: summary,
			CompressUsage:   &usage,
		}},
		Usage: &usage,
	}

	history.ReplaceRange(start, end, []store.Message{replacement})
}

// FormatPrompt builds the instruction sent alongside the window being
// summarized. Kept as a plain function (not baked into SummarizeFunc)
// so a gateway implementation can reuse it verbatim regardless of how
// it shapes the underlying request.
func FormatPrompt() string {
	return `You are a conversation summarizer. Your job is to create a concise summary of the conversation so far that preserves all important context, decisions made, files modified, commands run, and their results. The summary should enable continuing the conversation without loss of critical information.

Be concise but thorough. Include:
- Key decisions and their rationale
- Files that were read, created, or modified (with paths)
- Important command outputs or errors
- Current state of any ongoing task
- Any constraints or requirements mentioned by the user`
}

// FormatSummary wraps a raw model summary under a "[Conversation
// Summary]" marker line.
func FormatSummary(raw string) string {
	return fmt.Sprintf("[Conversation Summary]\n%s", raw)
}
